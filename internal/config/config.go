package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"framer/internal/frame"
)

const (
	defaultConfigPath = "~/.config/framer/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the framer tools.
type Config struct {
	Frame       Frame       `json:"frame"`
	Export      Export      `json:"export"`
	Storage     Storage     `json:"storage"`
	Preferences Preferences `json:"preferences"`
	Logging     Logging     `json:"logging"`
	Server      Server      `json:"server"`
	Watch       Watch       `json:"watch"`
	Decode      Decode      `json:"decode"`
}

// Frame holds the parameters used when no preferences have been saved.
type Frame struct {
	AspectRatio  string `json:"aspect_ratio"`
	Border       int    `json:"border"`
	Background   string `json:"background"` // color, blur
	Color        string `json:"color"`      // #rrggbb
	BlurRadius   int    `json:"blur_radius"`
	MaxDimension int    `json:"max_dimension"`
}

// Export configures batch archives.
type Export struct {
	ArchiveName string `json:"archive_name"`
	OutputDir   string `json:"output_dir"`
	Format      string `json:"format"` // png, jpg
}

// Storage selects the database driver and location.
type Storage struct {
	Driver string `json:"driver"` // sqlite (pure Go), sqlite3 (cgo)
	Path   string `json:"path"`
}

// Preferences selects where the last-used frame parameters live.
type Preferences struct {
	Backend  string `json:"backend"` // sqlite, file, memory
	Path     string `json:"path"`    // file backend only
	ReadOnly bool   `json:"read_only"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	HTTPAddr      string  `json:"http_addr"`
	GRPCAddr      string  `json:"grpc_addr"`
	MaxUploadMB   int     `json:"max_upload_mb"`
	RatePerSecond float64 `json:"rate_per_second"`
	RateBurst     int     `json:"rate_burst"`
	ExportWorkers int     `json:"export_workers"`
	QueueSize     int     `json:"queue_size"`
}

// Watch configures the hot folder.
type Watch struct {
	Dirs      []string `json:"dirs"`
	OutputDir string   `json:"output_dir"`
	Format    string   `json:"format"`
}

// Decode tunes image loading.
type Decode struct {
	Parallel    int  `json:"parallel"`
	ConvertHEIC bool `json:"convert_heic"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("FRAMER_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.expandPaths()
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Frame: Frame{
			AspectRatio:  frame.DefaultAspectRatio,
			Border:       frame.DefaultBorder,
			Background:   string(frame.BackgroundColor),
			Color:        frame.DefaultColorHex,
			BlurRadius:   frame.DefaultBlur,
			MaxDimension: frame.MaxDimension,
		},
		Export: Export{
			ArchiveName: "frame_export.zip",
			OutputDir:   "./exports",
			Format:      "png",
		},
		Storage: Storage{
			Driver: "sqlite",
			Path:   "~/.local/share/framer/framer.db",
		},
		Preferences: Preferences{
			Backend: "sqlite",
			Path:    "~/.config/framer/preferences.json",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Server: Server{
			HTTPAddr:      "127.0.0.1:8080",
			GRPCAddr:      "127.0.0.1:9090",
			MaxUploadMB:   64,
			RatePerSecond: 4,
			RateBurst:     8,
			ExportWorkers: 2,
			QueueSize:     16,
		},
		Watch: Watch{
			OutputDir: "./framed",
			Format:    "png",
		},
		Decode: Decode{
			Parallel:    defaultParallel,
			ConvertHEIC: true,
		},
	}
}

// Params converts the Frame section into engine parameters.
func (f Frame) Params() (frame.Params, error) {
	mode, err := frame.ParseBackgroundMode(f.Background)
	if err != nil {
		return frame.Params{}, err
	}
	c, err := frame.ParseHexColor(f.Color)
	if err != nil {
		return frame.Params{}, err
	}
	p := frame.Params{
		AspectRatio: f.AspectRatio,
		Border:      f.Border,
		Background:  mode,
		Color:       c,
		BlurRadius:  f.BlurRadius,
	}
	return p, p.Validate()
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := c.Frame.Params(); err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	if c.Frame.MaxDimension < 1 || c.Frame.MaxDimension > 16384 {
		return fmt.Errorf("frame: max_dimension %d out of range 1..16384", c.Frame.MaxDimension)
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	switch c.Preferences.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("preferences: unknown backend %q", c.Preferences.Backend)
	}
	for _, f := range []string{c.Export.Format, c.Watch.Format} {
		switch f {
		case "png", "jpg", "jpeg":
		default:
			return fmt.Errorf("unsupported output format %q", f)
		}
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server: max_upload_mb must be positive")
	}
	if c.Server.RatePerSecond < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server: rate limits must not be negative")
	}
	if c.Server.ExportWorkers < 1 || c.Server.QueueSize < 1 {
		return fmt.Errorf("server: export_workers and queue_size must be positive")
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Storage.Path, &c.Preferences.Path, &c.Logging.LogDir, &c.Export.OutputDir, &c.Watch.OutputDir} {
		v, err := expandUser(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	for i, d := range c.Watch.Dirs {
		v, err := expandUser(d)
		if err != nil {
			return err
		}
		c.Watch.Dirs[i] = v
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
