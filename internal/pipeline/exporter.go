package pipeline

import (
	"context"
	"fmt"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/fsutil"
)

// Exporter is the Processor that loads a job's sources, runs the batch
// export and writes the archive to the job's output path.
type Exporter struct {
	Loader    *collection.Loader
	Sequencer *export.Sequencer

	// OnClear hooks run when a job's collection is released, for
	// collaborators scoped to it such as the conversion cache.
	OnClear []func()
}

func NewExporter(loader *collection.Loader, seq *export.Sequencer) *Exporter {
	return &Exporter{Loader: loader, Sequencer: seq}
}

func (e *Exporter) Process(ctx context.Context, job Job, progress func(export.Progress)) Result {
	res := Result{Job: job}

	loaded, err := e.Loader.Load(ctx, job.Sources)
	if err != nil {
		res.Error = fmt.Errorf("load: %w", err)
		return res
	}
	for _, f := range loaded.Failed {
		res.Skipped = append(res.Skipped, f.Name)
	}
	if len(loaded.Items) == 0 {
		res.Error = fmt.Errorf("no decodable images among %d files", len(job.Sources))
		return res
	}

	col := collection.New(loaded.Items...)
	for _, fn := range e.OnClear {
		col.OnClear(fn)
	}
	defer col.Clear()
	opts := []export.Option{}
	if progress != nil {
		opts = append(opts, export.WithProgress(progress))
	}
	b, err := e.Sequencer.ExportAll(ctx, col, job.Params, opts...)
	if err != nil {
		res.Error = err
		return res
	}
	if err := fsutil.WriteFileAtomic(job.Output, b); err != nil {
		res.Error = fmt.Errorf("write archive: %w", err)
		return res
	}

	res.Images = len(loaded.Items)
	res.ArchivePath = job.Output
	res.ArchiveSize = int64(len(b))
	return res
}
