package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrReadOnly is returned by Set on a store opened read-only.
var ErrReadOnly = errors.New("preference store is read-only")

// MemoryKV keeps values for the life of the process.
type MemoryKV struct {
	mu   sync.Mutex
	m    map[string]string
	Fail error // returned by every call when set
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (kv *MemoryKV) Get(key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.Fail != nil {
		return "", false, kv.Fail
	}
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *MemoryKV) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.Fail != nil {
		return kv.Fail
	}
	kv.m[key] = value
	return nil
}

// FileKV persists a flat JSON object of string values to one file.
type FileKV struct {
	mu       sync.Mutex
	path     string
	readOnly bool
}

func NewFileKV(path string, readOnly bool) *FileKV {
	return &FileKV{path: path, readOnly: readOnly}
}

func (kv *FileKV) load() (map[string]string, error) {
	b, err := os.ReadFile(kv.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", kv.path, err)
	}
	return m, nil
}

func (kv *FileKV) Get(key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	m, err := kv.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (kv *FileKV) Set(key, value string) error {
	if kv.readOnly {
		return ErrReadOnly
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	m, err := kv.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking saves forever.
		m = map[string]string{}
	}
	m[key] = value
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(kv.path), 0o755); err != nil {
		return err
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, kv.path)
}
