package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/storage"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pngSource(t *testing.T, name string, w, h int) collection.Source {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return collection.Source{Name: name, Data: buf.Bytes()}
}

type stubProcessor struct {
	err     error
	release chan struct{}
}

func (s *stubProcessor) Process(ctx context.Context, job Job, progress func(export.Progress)) Result {
	if s.release != nil {
		<-s.release
	}
	for i, src := range job.Sources {
		progress(export.Progress{Index: i, Total: len(job.Sources), Name: src.Name})
	}
	return Result{Error: s.err, Images: len(job.Sources), ArchivePath: job.Output, ArchiveSize: 42}
}

func waitResult(t *testing.T, ch <-chan Event) (Event, []Event) {
	t.Helper()
	var seen []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			seen = append(seen, ev)
			if ev.Kind == EventResult {
				return ev, seen
			}
		case <-timeout:
			t.Fatalf("no result event; saw %+v", seen)
		}
	}
}

func TestPipelineRecordsAndBroadcasts(t *testing.T) {
	store, err := storage.New(storage.DriverSQLite, filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	p := New(context.Background(), 1, 4, quietLog(), store, &stubProcessor{})
	defer p.Stop()
	events, unsub := p.Subscribe()
	defer unsub()

	job := Job{
		ID:      NewJobID(),
		Sources: []collection.Source{{Name: "a.jpg"}, {Name: "b.jpg"}},
		Params:  frame.DefaultParams(),
		Output:  "/tmp/x.zip",
	}
	if err := p.Submit(job); err != nil {
		t.Fatal(err)
	}

	res, seen := waitResult(t, events)
	if res.Status != storage.StatusCompleted || res.ArchiveSize != 42 {
		t.Fatalf("unexpected result %+v", res)
	}
	if seen[0].Kind != EventQueued {
		t.Fatalf("first event = %s", seen[0].Kind)
	}
	progress := 0
	for _, ev := range seen {
		if ev.Kind == EventProgress {
			progress++
		}
	}
	if progress != 2 {
		t.Fatalf("progress events = %d", progress)
	}

	rec, err := store.ExportJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.StatusCompleted || rec.ImageCount != 2 || rec.ArchivePath != "/tmp/x.zip" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestPipelineFailureStatus(t *testing.T) {
	p := New(context.Background(), 1, 1, quietLog(), nil, &stubProcessor{err: errors.New("boom")})
	defer p.Stop()
	events, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "j", Params: frame.DefaultParams()}); err != nil {
		t.Fatal(err)
	}
	res, _ := waitResult(t, events)
	if res.Status != storage.StatusFailed || res.Error != "boom" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPipelineHistoryUnderLoad(t *testing.T) {
	store, err := storage.New(storage.DriverSQLite, filepath.Join(t.TempDir(), "load.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	const jobs = 300
	p := New(context.Background(), 16, jobs, quietLog(), store, &stubProcessor{})
	defer p.Stop()

	for i := 0; i < jobs; i++ {
		if err := p.Submit(Job{ID: NewJobID(), Params: frame.DefaultParams()}); err != nil {
			t.Fatal(err)
		}
	}

	var statuses map[string]int
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := store.RecentExports(jobs * 2)
		if err != nil {
			t.Fatal(err)
		}
		statuses = map[string]int{}
		for _, rec := range recs {
			statuses[rec.Status]++
		}
		if len(recs) == jobs && statuses[storage.StatusCompleted] == jobs {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("final statuses = %v, want %d completed", statuses, jobs)
}

func TestSubmitAfterStop(t *testing.T) {
	p := New(context.Background(), 1, 1, quietLog(), nil, &stubProcessor{})
	p.Stop()
	if err := p.Submit(Job{ID: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	stub := &stubProcessor{release: make(chan struct{})}
	p := New(context.Background(), 1, 1, quietLog(), nil, stub)
	defer p.Stop()
	defer close(stub.release)

	events, unsub := p.Subscribe()
	defer unsub()

	// The first job occupies the worker, the second fills the queue.
	if err := p.Submit(Job{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	<-events
	deadline := time.Now().Add(5 * time.Second)
	for len(p.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Submit(Job{ID: "2"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(Job{ID: "3"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := p.Submit(Job{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestExporterWritesArchive(t *testing.T) {
	out := filepath.Join(t.TempDir(), "exports", "batch.zip")
	e := NewExporter(collection.NewLoader(nil, nil, 2, quietLog()), export.NewSequencer(nil, nil, quietLog()))

	var ticks []export.Progress
	res := e.Process(context.Background(), Job{
		ID:      "e1",
		Sources: []collection.Source{pngSource(t, "one.png", 4, 2), {Name: "broken.jpg", Data: []byte("x")}, pngSource(t, "two.png", 2, 4)},
		Params:  frame.DefaultParams(),
		Output:  out,
	}, func(p export.Progress) { ticks = append(ticks, p) })

	if res.Error != nil {
		t.Fatal(res.Error)
	}
	if res.Images != 2 || len(res.Skipped) != 1 || res.Skipped[0] != "broken.jpg" {
		t.Fatalf("result = %+v", res)
	}
	if len(ticks) != 2 {
		t.Fatalf("progress ticks = %d", len(ticks))
	}

	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	if len(zr.File) != 2 || zr.File[0].Name != "one_square.png" || zr.File[1].Name != "two_square.png" {
		t.Fatalf("archive entries = %v", zr.File)
	}
	if res.ArchiveSize <= 0 {
		t.Fatal("archive size not reported")
	}
}

func TestExporterNothingDecodable(t *testing.T) {
	e := NewExporter(collection.NewLoader(nil, nil, 1, quietLog()), export.NewSequencer(nil, nil, quietLog()))
	res := e.Process(context.Background(), Job{
		ID:      "e2",
		Sources: []collection.Source{{Name: "x.jpg", Data: []byte("x")}},
		Params:  frame.DefaultParams(),
		Output:  filepath.Join(t.TempDir(), "x.zip"),
	}, nil)
	if res.Error == nil {
		t.Fatal("expected error")
	}
}

func TestExporterReleasesCollection(t *testing.T) {
	e := NewExporter(collection.NewLoader(nil, nil, 1, quietLog()), export.NewSequencer(nil, nil, quietLog()))
	released := 0
	e.OnClear = append(e.OnClear, func() { released++ })

	job := Job{
		ID:      "e3",
		Sources: []collection.Source{pngSource(t, "a.png", 2, 2)},
		Params:  frame.DefaultParams(),
		Output:  filepath.Join(t.TempDir(), "a.zip"),
	}
	if res := e.Process(context.Background(), job, nil); res.Error != nil {
		t.Fatal(res.Error)
	}
	job.Params.AspectRatio = "nope"
	if res := e.Process(context.Background(), job, nil); res.Error == nil {
		t.Fatal("expected invalid params to fail")
	}
	if released != 2 {
		t.Fatalf("collection released %d times, want 2", released)
	}
}
