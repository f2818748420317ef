package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"
)

// DefaultArchiveName is the file name offered for a batch download.
const DefaultArchiveName = "frame_export.zip"

// Archiver accumulates named entries and produces one archive.
type Archiver interface {
	Add(name string, data []byte) error
	Finalize() ([]byte, error)
}

// ZipArchiver builds a zip archive in memory.
type ZipArchiver struct {
	buf bytes.Buffer
	zw  *zip.Writer
	mod time.Time
}

func NewZipArchiver() *ZipArchiver {
	a := &ZipArchiver{mod: time.Now()}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// Add stores data under name. PNG and JPEG payloads are already
// compressed, so entries are stored rather than deflated.
func (a *ZipArchiver) Add(name string, data []byte) error {
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: a.mod,
	})
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip write %s: %w", name, err)
	}
	return nil
}

func (a *ZipArchiver) Finalize() ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return a.buf.Bytes(), nil
}
