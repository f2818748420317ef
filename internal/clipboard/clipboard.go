// Package clipboard places encoded images on the system clipboard through
// whichever clipboard program is installed.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnsupported means no clipboard program that accepts images was found.
// Callers show it as a notice; it never aborts other work.
var ErrUnsupported = errors.New("clipboard: copying images is not supported on this system")

// Sink accepts one encoded image for clipboard placement.
type Sink interface {
	Copy(ctx context.Context, data []byte, mimeType string) error
}

// Tool is a clipboard program and the arguments that make it read an image
// of a given MIME type from stdin. "{mime}" in Args is substituted.
type Tool struct {
	Name string
	Args []string
}

// Tools are probed in order. wl-copy covers Wayland sessions, xclip X11.
var Tools = []Tool{
	{Name: "wl-copy", Args: []string{"--type", "{mime}"}},
	{Name: "xclip", Args: []string{"-selection", "clipboard", "-t", "{mime}", "-i"}},
}

// Status reports whether a tool was found on PATH.
type Status struct {
	Tool      string
	Available bool
	Path      string
}

// CommandSink pipes images into the first available tool.
type CommandSink struct {
	Tools    []Tool
	LookPath func(string) (string, error)
}

// NewCommandSink probes the default tools on PATH.
func NewCommandSink() *CommandSink {
	return &CommandSink{Tools: Tools, LookPath: exec.LookPath}
}

// Probe reports the availability of every configured tool.
func (s *CommandSink) Probe() []Status {
	out := make([]Status, 0, len(s.Tools))
	for _, t := range s.Tools {
		path, err := s.LookPath(t.Name)
		out = append(out, Status{Tool: t.Name, Available: err == nil, Path: path})
	}
	return out
}

func (s *CommandSink) resolve() (Tool, string, error) {
	for _, t := range s.Tools {
		if path, err := s.LookPath(t.Name); err == nil {
			return t, path, nil
		}
	}
	return Tool{}, "", ErrUnsupported
}

// Copy runs the first available tool with data on stdin.
func (s *CommandSink) Copy(ctx context.Context, data []byte, mimeType string) error {
	tool, path, err := s.resolve()
	if err != nil {
		return err
	}
	args := make([]string, len(tool.Args))
	for i, a := range tool.Args {
		args[i] = strings.ReplaceAll(a, "{mime}", mimeType)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", tool.Name, err, msg)
		}
		return fmt.Errorf("%s: %w", tool.Name, err)
	}
	return nil
}
