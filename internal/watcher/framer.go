package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/fsutil"
)

// Framer is the Handler that frames a dropped photo into OutputDir using
// the parameters current at the time the file settles.
type Framer struct {
	Loader    *collection.Loader
	Sequencer *export.Sequencer
	Params    func() frame.Params
	OutputDir string
}

func (f *Framer) Handle(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)
	res, err := f.Loader.Load(ctx, []collection.Source{{Name: name, Data: data}})
	if err != nil {
		return "", err
	}
	if len(res.Failed) > 0 {
		return "", res.Failed[0]
	}

	p := f.Params()
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("frame parameters: %w", err)
	}
	b, err := f.Sequencer.EncodeFrame(res.Items[0], p)
	if err != nil {
		return "", err
	}
	out := filepath.Join(f.OutputDir, export.ExportName(name, p.Ratio().Token, f.Sequencer.Encoder.Extension()))
	if err := fsutil.WriteFileAtomic(out, b); err != nil {
		return "", err
	}
	return out, nil
}
