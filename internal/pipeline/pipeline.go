package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/logging"
	"framer/internal/storage"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("pipeline stopped")

// Job represents a single batch export request.
type Job struct {
	ID      string
	Sources []collection.Source
	Params  frame.Params
	Output  string // archive path
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Result captures the outcome of a Job.
type Result struct {
	Job         Job
	Error       error
	Images      int
	Skipped     []string
	ArchivePath string
	ArchiveSize int64
}

// EventKind distinguishes progress ticks from final results.
type EventKind string

const (
	EventQueued   EventKind = "queued"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
)

// Event is what subscribers receive.
type Event struct {
	Kind        EventKind        `json:"kind"`
	JobID       string           `json:"job_id"`
	Progress    *export.Progress `json:"progress,omitempty"`
	Status      string           `json:"status,omitempty"`
	Images      int              `json:"images,omitempty"`
	Skipped     []string         `json:"skipped,omitempty"`
	ArchivePath string           `json:"archive_path,omitempty"`
	ArchiveSize int64            `json:"archive_size,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Processor executes a job and returns a Result. progress may be called
// from the worker goroutine while the job runs.
type Processor interface {
	Process(ctx context.Context, job Job, progress func(export.Progress)) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	submitMu  sync.Mutex // serializes senders on jobs
	stopped   bool
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New creates a Pipeline with the given concurrency, queue size and processor.
func New(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Event),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue. The job is recorded and
// announced before a worker can see it, so its queued row and event always
// precede the start and result.
func (p *Pipeline) Submit(job Job) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	// Workers only drain the channel, so a free slot seen here stays free
	// until the send below.
	if len(p.jobs) == cap(p.jobs) {
		return ErrQueueFull
	}

	if p.store != nil {
		paramsJSON, _ := json.Marshal(job.Params)
		if err := p.store.RecordExportQueued(storage.ExportRecord{
			ID:         job.ID,
			ImageCount: len(job.Sources),
			Ratio:      job.Params.AspectRatio,
			ParamsJSON: string(paramsJSON),
		}); err != nil {
			p.log.Warn("failed to record queued export", "id", job.ID, "error", err)
		}
	}
	p.broadcast(Event{Kind: EventQueued, JobID: job.ID, Status: storage.StatusQueued, Images: len(job.Sources)})
	p.jobs <- job
	return nil
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.submitMu.Lock()
		p.stopped = true
		close(p.jobs)
		p.submitMu.Unlock()
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) {
	start := time.Now()
	logging.LogExportStart(p.log, job.ID, len(job.Sources), job.Params.AspectRatio)
	if p.store != nil {
		_ = p.store.RecordExportStart(job.ID)
	}

	res := p.processor.Process(ctx, job, func(pr export.Progress) {
		p.broadcast(Event{Kind: EventProgress, JobID: job.ID, Progress: &pr, Status: storage.StatusRunning})
	})
	res.Job = job
	duration := time.Since(start)

	status := storage.StatusCompleted
	if res.Error != nil {
		status = storage.StatusFailed
		logging.LogExportError(p.log, job.ID, duration, res.Error)
	} else {
		logging.LogExportComplete(p.log, job.ID, duration, res.Images, res.ArchivePath, res.ArchiveSize)
	}
	if p.store != nil {
		if err := p.store.RecordExportResult(job.ID, storage.ExportResult{
			Status:      status,
			ImageCount:  res.Images,
			Skipped:     len(res.Skipped),
			ArchivePath: res.ArchivePath,
			ArchiveSize: res.ArchiveSize,
			Error:       errString(res.Error),
		}); err != nil {
			p.log.Warn("failed to record export result", "id", job.ID, "error", err)
		}
	}

	p.broadcast(Event{
		Kind:        EventResult,
		JobID:       job.ID,
		Status:      status,
		Images:      res.Images,
		Skipped:     res.Skipped,
		ArchivePath: res.ArchivePath,
		ArchiveSize: res.ArchiveSize,
		Error:       errString(res.Error),
	})
}

// Subscribe returns a channel for receiving job events and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 32)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.log.Warn("event channel full", "subscriber", id, "job", ev.JobID)
		}
	}
}
