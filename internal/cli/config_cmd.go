package cli

import (
	"encoding/json"
	"os"
	"runtime"

	"framer/internal/clipboard"
	"framer/internal/logging"
)

func (r *Root) configShow() error {
	r.printf("Current configuration:\n")
	cfgPath := os.Getenv("FRAMER_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/framer/config.json"
	}
	r.printf("Config file: %s\n\n", cfgPath)

	b, err := json.MarshalIndent(r.cfg, "", "  ")
	if err != nil {
		return err
	}
	r.printf("%s\n", b)
	return nil
}

// toolStatus probes the clipboard programs. HEIC conversion is linked in,
// so it only depends on configuration.
func (r *Root) toolStatus() []clipboard.Status {
	var st []clipboard.Status
	if cs, ok := r.clip.(*clipboard.CommandSink); ok {
		st = cs.Probe()
	}
	for _, s := range st {
		logging.LogToolStatus(r.log, s.Tool, s.Available, s.Path)
	}
	return st
}

func (r *Root) cmdTools() error {
	r.printf("Tool Availability Status\n\n")
	r.printf("Clipboard:\n")
	st := r.toolStatus()
	available := false
	for _, s := range st {
		if s.Available {
			available = true
			r.printf("  ✅ %s (%s)\n", s.Tool, s.Path)
		} else {
			r.printf("  ❌ %s\n", s.Tool)
		}
	}
	if !available {
		r.printf("  copy to clipboard is unavailable; install wl-clipboard or xclip\n")
	}

	r.printf("\nHEIC conversion (ImageMagick): ")
	if r.cfg.Decode.ConvertHEIC {
		r.printf("enabled\n")
	} else {
		r.printf("disabled\n")
	}
	return nil
}

func (r *Root) cmdVersion() error {
	r.printf("Framer %s\n", Version)
	r.printf("Built with Go %s\n", runtime.Version())
	return nil
}
