package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"framer/internal/clipboard"
	"framer/internal/collection"
	"framer/internal/config"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/grpcserver"
	"framer/internal/imageio"
	"framer/internal/pipeline"
	"framer/internal/prefs"
	"framer/internal/server"
	"framer/internal/storage"
)

// Version is reported by the version command.
var Version = "v1.0.0-dev"

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Event, func())
}

type serverFunc func(ctx context.Context, r *Root, httpAddr, grpcAddr string) error

func defaultServe(ctx context.Context, r *Root, httpAddr, grpcAddr string) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	cfg := *r.cfg
	cfg.Server.HTTPAddr = httpAddr

	api := server.NewServer(&cfg, server.Deps{
		Store:     r.store,
		Prefs:     r.prefs,
		Pipeline:  real,
		Loader:    r.loader,
		Sequencer: r.seq,
		Log:       r.log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Start(ctx) })
	if grpcAddr != "" {
		limit := rate.Inf
		if cfg.Server.RatePerSecond > 0 {
			limit = rate.Limit(cfg.Server.RatePerSecond)
		}
		rpc := grpcserver.New(r.loader, r.seq, r.prefs, rate.NewLimiter(limit, max(cfg.Server.RateBurst, 1)), r.log)
		g.Go(func() error { return rpc.Start(ctx, grpcAddr) })
	}
	return g.Wait()
}

// Root wires CLI commands to the engine, the export pipeline and storage.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	prefs    *prefs.Store
	loader   *collection.Loader
	seq      *export.Sequencer
	clip     clipboard.Sink
	serveFn  serverFunc
	out      io.Writer
	errOut   io.Writer
	closers  []func() error
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store, ps *prefs.Store, loader *collection.Loader, seq *export.Sequencer) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		prefs:    ps,
		loader:   loader,
		seq:      seq,
		clip:     clipboard.NewCommandSink(),
		serveFn:  defaultServe,
		out:      os.Stdout,
		errOut:   os.Stderr,
	}
}

// Open builds a Root from configuration: the database, the preference
// backend, the decoder chain and the export pipeline.
func Open(cfg *config.Config, log *slog.Logger) (*Root, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	kv, err := preferenceKV(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	enc, err := imageio.EncoderFor(cfg.Export.Format)
	if err != nil {
		store.Close()
		return nil, err
	}

	var conv imageio.Converter
	if cfg.Decode.ConvertHEIC {
		conv = imageio.NewMagickConverter()
	}
	ld := newLoaders(conv, cfg.Decode.Parallel, log)
	seq := export.NewSequencer(frame.NewCompositor(cfg.Frame.MaxDimension, log), enc, log)
	exporter := pipeline.NewExporter(ld.batch, seq)
	if ld.cache != nil {
		exporter.OnClear = append(exporter.OnClear, ld.cache.Flush)
	}
	pipe := pipeline.New(context.Background(), cfg.Server.ExportWorkers, cfg.Server.QueueSize, log, store, exporter)

	r := NewRoot(pipe, cfg, log, store, prefs.New(kv, log), ld.single, seq)
	r.closers = append(r.closers,
		func() error { pipe.Stop(); return nil },
		store.Close,
	)
	return r, nil
}

type loaders struct {
	single *collection.Loader // compose, serve and watch: no collection lifetime
	batch  *collection.Loader // export jobs, sharing cache until the job's Clear
	cache  *imageio.ConversionCache
}

// newLoaders builds the decoder chains. Only batch loads go through the
// conversion cache, which the exporter flushes when a job's collection is
// cleared.
func newLoaders(conv imageio.Converter, parallel int, log *slog.Logger) loaders {
	if conv == nil {
		l := collection.NewLoader(nil, nil, parallel, log)
		return loaders{single: l, batch: l}
	}
	cache := imageio.NewConversionCache()
	return loaders{
		single: collection.NewLoader(nil, conv, parallel, log),
		batch:  collection.NewLoader(nil, imageio.CachedConverter{Converter: conv, Cache: cache}, parallel, log),
		cache:  cache,
	}
}

func preferenceKV(cfg *config.Config, store *storage.Store) (prefs.KV, error) {
	switch cfg.Preferences.Backend {
	case "sqlite", "":
		return store, nil
	case "file":
		return prefs.NewFileKV(cfg.Preferences.Path, cfg.Preferences.ReadOnly), nil
	case "memory":
		return prefs.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("unknown preferences backend %q", cfg.Preferences.Backend)
}

// Close stops the pipeline and closes storage.
func (r *Root) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// baseParams is what a command starts from before flags: saved preferences,
// else the configured frame defaults.
func (r *Root) baseParams() frame.Params {
	if p, ok := r.prefs.Load(); ok {
		return p
	}
	if p, err := r.cfg.Frame.Params(); err == nil {
		return p
	}
	return frame.DefaultParams()
}

type frameFlags struct {
	ratio      string
	border     int
	background string
	color      string
	blur       int
}

func (f *frameFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.ratio, frame.FieldRatio, "r", frame.DefaultAspectRatio, "aspect ratio (1:1|3:2|16:9|4:3|4:5|9:16|2:3); omitted flags keep the saved value")
	fl.IntVarP(&f.border, frame.FieldBorder, "b", frame.DefaultBorder, fmt.Sprintf("border width in pixels (%d-%d)", frame.MinBorder, frame.MaxBorder))
	fl.StringVar(&f.background, frame.FieldBackground, string(frame.BackgroundColor), "background fill (color|blur)")
	fl.StringVar(&f.color, frame.FieldColor, frame.DefaultColorHex, "background color as #rrggbb")
	fl.IntVar(&f.blur, frame.FieldBlur, frame.DefaultBlur, fmt.Sprintf("blur radius for blur backgrounds (%d-%d)", frame.MinBlur, frame.MaxBlur))
}

// changed returns only the flags set on the command line, as Params fields.
func (f *frameFlags) changed(cmd *cobra.Command) map[string]string {
	fl := cmd.Flags()
	fields := map[string]string{}
	if fl.Changed(frame.FieldRatio) {
		fields[frame.FieldRatio] = f.ratio
	}
	if fl.Changed(frame.FieldBorder) {
		fields[frame.FieldBorder] = fmt.Sprint(f.border)
	}
	if fl.Changed(frame.FieldBackground) {
		fields[frame.FieldBackground] = f.background
	}
	if fl.Changed(frame.FieldColor) {
		fields[frame.FieldColor] = f.color
	}
	if fl.Changed(frame.FieldBlur) {
		fields[frame.FieldBlur] = fmt.Sprint(f.blur)
	}
	return fields
}

// resolveParams applies explicit flags over the restored parameters. Any
// explicit change is saved back so the next run starts from it; a failed
// save only warns.
func (r *Root) resolveParams(cmd *cobra.Command, f *frameFlags) (frame.Params, error) {
	fields := f.changed(cmd)
	p, err := r.baseParams().With(fields)
	if err != nil {
		return p, err
	}
	if len(fields) > 0 {
		if err := r.prefs.Save(p); err != nil {
			r.log.Warn("preferences not saved", "error", err)
		}
	}
	return p, nil
}

// enqueueAndWait submits job and blocks until its result arrives. Progress
// events are reported through onProgress when non-nil.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job, onProgress func(export.Progress)) (pipeline.Event, error) {
	events, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Event{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Event{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return pipeline.Event{}, fmt.Errorf("pipeline stopped before completion")
			}
			if ev.JobID != job.ID {
				continue
			}
			switch ev.Kind {
			case pipeline.EventProgress:
				if onProgress != nil && ev.Progress != nil {
					onProgress(*ev.Progress)
				}
			case pipeline.EventResult:
				if ev.Error != "" {
					return ev, fmt.Errorf("export %s failed: %s", job.ID, ev.Error)
				}
				return ev, nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("export queued", "id", job.ID, "images", len(job.Sources), "output", job.Output)
	return nil
}

func (r *Root) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Root) notef(format string, args ...any) {
	fmt.Fprintf(r.errOut, format, args...)
}
