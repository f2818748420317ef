package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"framer/internal/collection"
	"framer/internal/frame"
	"framer/internal/imageio"
)

// EncodeError aborts a batch: the partial archive is discarded.
type EncodeError struct {
	Name  string
	Index int
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("export %s (#%d): %v", e.Name, e.Index+1, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ExportName builds "{base}_{token}.{ext}" where base is the original name
// with its final extension stripped. A trailing dot is not an extension.
func ExportName(original, token, ext string) string {
	base := original
	if i := strings.LastIndexByte(original, '.'); i >= 0 && i < len(original)-1 {
		base = original[:i]
	}
	return fmt.Sprintf("%s_%s.%s", base, token, ext)
}

// Progress is reported before each image is composed.
type Progress struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Name  string `json:"name"`
}

type options struct {
	progress      func(Progress)
	cursorPreview bool
}

// Option tunes a single ExportAll call.
type Option func(*options)

// WithProgress calls fn once per image, in order.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// WithCursorPreview moves the collection cursor to each image while it is
// exported. The cursor is restored when the export returns.
func WithCursorPreview() Option {
	return func(o *options) { o.cursorPreview = true }
}

// Sequencer composes, encodes and archives a collection one image at a time.
type Sequencer struct {
	Compositor  *frame.Compositor
	Encoder     imageio.Encoder
	NewArchiver func() Archiver
	Log         *slog.Logger
}

func NewSequencer(comp *frame.Compositor, enc imageio.Encoder, log *slog.Logger) *Sequencer {
	if comp == nil {
		comp = frame.NewCompositor(0, log)
	}
	if enc == nil {
		enc = imageio.PNGEncoder{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		Compositor:  comp,
		Encoder:     enc,
		NewArchiver: func() Archiver { return NewZipArchiver() },
		Log:         log,
	}
}

// ExportAll frames every item of col with p and returns the archive bytes.
// Items are processed sequentially in collection order. p is validated up
// front; the first encode or archive failure, or ctx cancellation, aborts the
// whole batch.
func (s *Sequencer) ExportAll(ctx context.Context, col *collection.Collection, p frame.Params, opts ...Option) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	items := col.Items()
	if o.cursorPreview && len(items) > 0 {
		saved := col.Cursor()
		defer func() { _ = col.SetCursor(saved) }()
	}

	token := p.Ratio().Token
	ext := s.Encoder.Extension()
	arc := s.NewArchiver()

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, &EncodeError{Name: it.Name, Index: i, Err: err}
		}
		if o.cursorPreview {
			_ = col.SetCursor(i)
		}
		if o.progress != nil {
			o.progress(Progress{Index: i, Total: len(items), Name: it.Name})
		}

		out := s.Compositor.Compose(it.Image, p)
		data, err := imageio.EncodeBytes(s.Encoder, out)
		if err != nil {
			return nil, &EncodeError{Name: it.Name, Index: i, Err: err}
		}
		name := ExportName(it.Name, token, ext)
		if err := arc.Add(name, data); err != nil {
			return nil, &EncodeError{Name: it.Name, Index: i, Err: err}
		}
		s.Log.Debug("frame archived", "entry", name, "bytes", len(data))
	}

	b, err := arc.Finalize()
	if err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return b, nil
}

// EncodeFrame composes and encodes a single item, for previews and the
// clipboard.
func (s *Sequencer) EncodeFrame(it collection.Item, p frame.Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := imageio.EncodeBytes(s.Encoder, s.Compositor.Compose(it.Image, p))
	if err != nil {
		return nil, &EncodeError{Name: it.Name, Err: err}
	}
	return data, nil
}
