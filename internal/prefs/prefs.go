package prefs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"framer/internal/frame"
)

// Key is the record name the frame parameters are stored under.
const Key = "frame_settings"

// LoadBlurFallback is used when a stored record has no blur amount. It is
// deliberately different from frame.DefaultBlur.
const LoadBlurFallback = 15

// KV is a flat string-keyed store. Implementations may be unavailable; Get
// and Set then return an error.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// record is the persisted shape. Every field is written as a string;
// numbers are accepted on read.
type record struct {
	Ratio      field `json:"ratio"`
	Border     field `json:"border"`
	BgType     field `json:"bgType"`
	BgColor    field `json:"bgColor"`
	BlurAmount field `json:"blurAmount"`
}

type field string

func (f *field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = field(s)
	default:
		*f = field(b)
	}
	return nil
}

// Store saves and restores frame parameters through a KV.
type Store struct {
	kv  KV
	log *slog.Logger
}

func New(kv KV, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, log: log}
}

// Save writes p. The caller decides whether a failure matters.
func (s *Store) Save(p frame.Params) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("preferences unavailable")
	}
	rec := record{
		Ratio:      field(p.AspectRatio),
		Border:     field(strconv.Itoa(p.Border)),
		BgType:     field(p.Background),
		BgColor:    field(p.ColorHex()),
		BlurAmount: field(strconv.Itoa(p.BlurRadius)),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Set(Key, string(b)); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Load restores the last saved parameters. It never fails: a missing,
// unreadable or corrupt record reports false. Individual fields that are
// missing or invalid fall back to their defaults.
func (s *Store) Load() (frame.Params, bool) {
	if s == nil || s.kv == nil {
		return frame.Params{}, false
	}
	raw, ok, err := s.kv.Get(Key)
	if err != nil {
		s.log.Debug("preferences unavailable", "error", err)
		return frame.Params{}, false
	}
	if !ok {
		return frame.Params{}, false
	}
	var rec *record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.log.Debug("ignoring corrupt preferences", "error", err)
		return frame.Params{}, false
	}
	if rec == nil {
		return frame.Params{}, false
	}
	return rec.params(), true
}

// LoadOrDefault returns the restored parameters or the defaults.
func (s *Store) LoadOrDefault() frame.Params {
	if p, ok := s.Load(); ok {
		return p
	}
	return frame.DefaultParams()
}

func (r *record) params() frame.Params {
	p := frame.DefaultParams()

	if _, ok := frame.LookupAspectRatio(string(r.Ratio)); ok {
		p.AspectRatio = string(r.Ratio)
	}
	if n, err := strconv.Atoi(strings.TrimSpace(string(r.Border))); err == nil {
		p.Border = n
	}
	if m, err := frame.ParseBackgroundMode(string(r.BgType)); err == nil {
		p.Background = m
	}
	if c, err := frame.ParseHexColor(string(r.BgColor)); err == nil {
		p.Color = c
	}
	p.BlurRadius = LoadBlurFallback
	if n, err := strconv.Atoi(strings.TrimSpace(string(r.BlurAmount))); err == nil && n != 0 {
		p.BlurRadius = n
	}
	return p.Clamp()
}
