package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"framer/internal/clipboard"
	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/fsutil"
	"framer/internal/imageio"
	"framer/internal/pipeline"
	"framer/internal/watcher"
)

type composeOptions struct {
	output  string
	copy    bool
	caption bool
}

// cmdCompose frames one image. Output "-" writes the encoded frame to stdout;
// an empty output writes next to the source under its export name unless the
// frame only goes to the clipboard.
func (r *Root) cmdCompose(ctx context.Context, p frame.Params, path string, opts composeOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := r.loader.Load(ctx, []collection.Source{{Name: filepath.Base(path), Data: data}})
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return res.Failed[0]
	}
	item := res.Items[0]

	b, err := r.seq.EncodeFrame(item, p)
	if err != nil {
		return err
	}
	if opts.caption {
		r.notef("%s\n", r.seq.Compositor.Caption(item.Name, item.Image, p))
	}

	if opts.copy {
		if err := r.clip.Copy(ctx, b, r.seq.Encoder.ContentType()); err != nil {
			if !errors.Is(err, clipboard.ErrUnsupported) {
				r.log.Warn("clipboard copy failed", "error", err)
			}
			r.notef("notice: %v\n", err)
		} else {
			r.notef("copied %s to clipboard\n", humanize.Bytes(uint64(len(b))))
		}
		if opts.output == "" {
			return nil
		}
	}

	if opts.output == "-" {
		_, err := r.out.Write(b)
		return err
	}
	name := export.ExportName(item.Name, p.Ratio().Token, r.seq.Encoder.Extension())
	out := opts.output
	if out == "" {
		out = filepath.Join(filepath.Dir(path), name)
	} else if info, err := os.Stat(out); err == nil && info.IsDir() {
		out = filepath.Join(out, name)
	}
	if err := fsutil.WriteFileAtomic(out, b); err != nil {
		return err
	}
	r.printf("%s\n", out)
	return nil
}

// cmdExport frames every image found under paths into one archive through
// the export pipeline.
func (r *Root) cmdExport(ctx context.Context, p frame.Params, paths []string, output string) error {
	srcs, err := fsutil.ReadSources(paths)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(paths, ", "))
	}
	if output == "" {
		output = filepath.Join(r.cfg.Export.OutputDir, r.cfg.Export.ArchiveName)
	}

	job := pipeline.Job{
		ID:      pipeline.NewJobID(),
		Sources: srcs,
		Params:  p,
		Output:  output,
	}
	ev, err := r.enqueueAndWait(ctx, job, func(pr export.Progress) {
		r.notef("[%d/%d] %s\n", pr.Index+1, pr.Total, pr.Name)
	})
	if err != nil {
		return err
	}
	for _, name := range ev.Skipped {
		r.notef("skipped %s: not a readable image\n", name)
	}
	r.printf("exported %d images to %s (%s)\n", ev.Images, ev.ArchivePath, humanize.Bytes(uint64(ev.ArchiveSize)))
	return nil
}

func (r *Root) cmdRatios() error {
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, g := range frame.Categories() {
		if g.Category != "" {
			fmt.Fprintf(tw, "%s:\n", g.Category)
		}
		for _, ar := range g.Ratios {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", ar.Key, ar.Label, ar.Token)
		}
	}
	return tw.Flush()
}

func (r *Root) printParams(p frame.Params, saved bool) {
	source := "defaults"
	if saved {
		source = "saved"
	}
	fields := p.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.printf("Frame preferences (%s):\n", source)
	for _, k := range keys {
		r.printf("  %-10s %s\n", k, fields[k])
	}
}

func (r *Root) cmdPrefsShow() error {
	p, ok := r.prefs.Load()
	if !ok {
		p = r.baseParams()
	}
	r.printParams(p, ok)
	return nil
}

func (r *Root) cmdPrefsReset() error {
	p := frame.DefaultParams()
	if err := r.prefs.Save(p); err != nil {
		return err
	}
	r.printParams(p, true)
	return nil
}

// cmdPrefsSet applies key=value pairs using the frame field names.
func (r *Root) cmdPrefsSet(pairs []string) error {
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		switch k {
		case frame.FieldRatio, frame.FieldBorder, frame.FieldBackground, frame.FieldColor, frame.FieldBlur:
		default:
			return fmt.Errorf("unknown preference %q", k)
		}
		fields[k] = v
	}
	p, err := r.baseParams().With(fields)
	if err != nil {
		return err
	}
	if err := r.prefs.Save(p); err != nil {
		return err
	}
	r.printParams(p, true)
	return nil
}

func (r *Root) cmdHistory(limit int) error {
	if r.store == nil {
		return fmt.Errorf("no export history without storage")
	}
	recs, err := r.store.RecentExports(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		r.printf("No exports recorded yet.\n")
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tIMAGES\tSKIPPED\tRATIO\tSIZE\tCREATED")
	for _, rec := range recs {
		id := rec.ID
		if len(id) > 8 {
			id = id[:8]
		}
		size := "-"
		if rec.ArchiveSize > 0 {
			size = humanize.Bytes(uint64(rec.ArchiveSize))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			id, rec.Status, rec.ImageCount, rec.Skipped, rec.Ratio, size, humanize.Time(rec.CreatedAt))
		if rec.Error != "" {
			fmt.Fprintf(tw, "\t  error: %s\n", rec.Error)
		}
	}
	return tw.Flush()
}

// cmdWatch frames images as they land in dirs. Parameters are re-read from
// preferences for every file so changes made elsewhere apply immediately.
func (r *Root) cmdWatch(ctx context.Context, dirs []string, outputDir, format string) error {
	if len(dirs) == 0 {
		dirs = r.cfg.Watch.Dirs
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no directories to watch (pass them as arguments or set watch.dirs)")
	}
	if outputDir == "" {
		outputDir = r.cfg.Watch.OutputDir
	}
	enc, err := imageio.EncoderFor(format)
	if err != nil {
		return err
	}
	seq := export.NewSequencer(r.seq.Compositor, enc, r.log)
	h := &watcher.Framer{
		Loader:    r.loader,
		Sequencer: seq,
		Params:    r.baseParams,
		OutputDir: outputDir,
	}

	events := make(chan watcher.Event, 16)
	w := watcher.New(dirs, outputDir, h, r.log)
	w.Events = events
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if ev.Error != "" {
					r.notef("skipped %s: %s\n", ev.Path, ev.Error)
					continue
				}
				r.printf("%s -> %s\n", ev.Path, ev.Output)
			}
		}
	}()
	return w.Run(ctx)
}
