package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"framer/internal/imageio"
	"framer/internal/logging"
)

// Source is one encoded input file.
type Source struct {
	Name string
	Data []byte
}

// DecodeError is a per-file load failure; the file is skipped.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Result holds the decoded items in input order and the files that failed.
type Result struct {
	Items  []Item
	Failed []*DecodeError
}

// Loader decodes sources concurrently.
type Loader struct {
	Decoder   imageio.Decoder
	Converter imageio.Converter // optional, used for HEIC/HEIF names
	Parallel  int
	Log       *slog.Logger
}

func NewLoader(dec imageio.Decoder, conv imageio.Converter, parallel int, log *slog.Logger) *Loader {
	if dec == nil {
		dec = imageio.StdDecoder{}
	}
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{Decoder: dec, Converter: conv, Parallel: parallel, Log: log}
}

// Load decodes every source. Per-file failures are collected in
// Result.Failed and never abort the batch; only ctx cancellation does.
func (l *Loader) Load(ctx context.Context, srcs []Source) (*Result, error) {
	items := make([]*Item, len(srcs))
	errs := make([]*DecodeError, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Parallel)
	for i, src := range srcs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it, err := l.loadOne(src)
			if err != nil {
				errs[i] = &DecodeError{Name: src.Name, Err: err}
				return nil
			}
			items[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i := range srcs {
		if errs[i] != nil {
			logging.LogFileSkipped(l.Log, errs[i].Name, errs[i].Err)
			res.Failed = append(res.Failed, errs[i])
			continue
		}
		res.Items = append(res.Items, *items[i])
	}
	return res, nil
}

func (l *Loader) loadOne(src Source) (*Item, error) {
	data := src.Data
	if l.Converter != nil && imageio.NeedsConversion(src.Name) {
		converted, err := l.Converter.Convert(src.Name, src.Data)
		if err != nil {
			var ce *imageio.ConversionError
			if !errors.As(err, &ce) {
				ce = &imageio.ConversionError{Name: src.Name, Err: err}
			}
			l.Log.Warn("conversion failed, decoding original", "file", src.Name, "error", ce.Err)
		} else {
			data = converted
		}
	}
	img, err := l.Decoder.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Item{Name: src.Name, Size: int64(len(src.Data)), Image: img}, nil
}

// LoadInto decodes srcs and replaces the contents of c with the result.
func (l *Loader) LoadInto(ctx context.Context, c *Collection, srcs []Source) (*Result, error) {
	res, err := l.Load(ctx, srcs)
	if err != nil {
		return nil, err
	}
	c.Replace(res.Items)
	return res, nil
}
