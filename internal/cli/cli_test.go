package cli

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"framer/internal/clipboard"
	"framer/internal/collection"
	"framer/internal/config"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/pipeline"
	"framer/internal/prefs"
	"framer/internal/storage"
)

func TestComposeWritesNextToSource(t *testing.T) {
	root, _, out, _ := newTestRoot(t)
	src := filepath.Join(t.TempDir(), "pic.png")
	writePNG(t, src, 40, 20)

	if err := run(root, "compose", src, "--ratio", "4:5"); err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	want := filepath.Join(filepath.Dir(src), "pic_portrait.png")
	if !strings.Contains(out.String(), want) {
		t.Fatalf("expected output path %s in %q", want, out.String())
	}
	w, h := pngSize(t, want)
	if w != 32 || h != 40 {
		t.Fatalf("expected 32x40, got %dx%d", w, h)
	}

	p, ok := root.prefs.Load()
	if !ok || p.AspectRatio != "4:5" {
		t.Fatalf("explicit ratio was not saved: %+v %v", p, ok)
	}
}

func TestComposeToStdout(t *testing.T) {
	root, _, out, errOut := newTestRoot(t)
	src := filepath.Join(t.TempDir(), "pic.png")
	writePNG(t, src, 30, 30)

	if err := run(root, "compose", src, "-o", "-", "--ratio", "16:9", "--caption"); err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("stdout is not a PNG: %v", err)
	}
	if cfg.Width != 30 || cfg.Height != 17 {
		t.Fatalf("expected 30x17, got %dx%d", cfg.Width, cfg.Height)
	}
	if !strings.Contains(errOut.String(), "30×30px → 30×17px") {
		t.Fatalf("expected caption, got %q", errOut.String())
	}
}

func TestComposeUsesSavedPreferences(t *testing.T) {
	root, _, _, _ := newTestRoot(t)
	saved := frame.DefaultParams()
	saved.AspectRatio = "9:16"
	if err := root.prefs.Save(saved); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "tall.png")
	writePNG(t, src, 10, 10)

	if err := run(root, "compose", src, "-o", dir); err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tall_vertical.png")); err != nil {
		t.Fatalf("expected output named from saved ratio: %v", err)
	}
}

func TestComposeCopy(t *testing.T) {
	root, _, _, errOut := newTestRoot(t)
	sink := &recordingSink{}
	root.clip = sink
	dir := t.TempDir()
	src := filepath.Join(dir, "pic.png")
	writePNG(t, src, 8, 8)

	if err := run(root, "compose", src, "--copy"); err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if sink.mime != "image/png" || len(sink.data) == 0 {
		t.Fatalf("clipboard did not receive the frame: %+v", sink)
	}
	if _, err := os.Stat(filepath.Join(dir, "pic_square.png")); !os.IsNotExist(err) {
		t.Fatalf("copy without --output should not write a file")
	}
	if !strings.Contains(errOut.String(), "copied") {
		t.Fatalf("expected copy notice, got %q", errOut.String())
	}
}

func TestComposeCopyUnsupportedIsNotFatal(t *testing.T) {
	root, _, _, errOut := newTestRoot(t)
	root.clip = &clipboard.CommandSink{
		Tools:    clipboard.Tools,
		LookPath: func(string) (string, error) { return "", exec.ErrNotFound },
	}
	src := filepath.Join(t.TempDir(), "pic.png")
	writePNG(t, src, 8, 8)

	if err := run(root, "compose", src, "--copy"); err != nil {
		t.Fatalf("unsupported clipboard must not fail the command: %v", err)
	}
	if !strings.Contains(errOut.String(), clipboard.ErrUnsupported.Error()) {
		t.Fatalf("expected unsupported notice, got %q", errOut.String())
	}
}

func TestComposeValidatesFlags(t *testing.T) {
	root, _, _, _ := newTestRoot(t)
	src := filepath.Join(t.TempDir(), "pic.png")
	writePNG(t, src, 8, 8)

	if err := run(root, "compose", src, "--border", "500"); err == nil {
		t.Fatalf("expected error for out of range border")
	}
	if err := run(root, "compose", src, "--ratio", "5:4"); err == nil {
		t.Fatalf("expected error for unknown ratio")
	}
	if _, ok := root.prefs.Load(); ok {
		t.Fatalf("invalid flags must not be saved")
	}

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	if err := os.WriteFile(bad, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	var de *collection.DecodeError
	if err := run(root, "compose", bad); !errors.As(err, &de) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestExportSubmitsJob(t *testing.T) {
	root, fakePipe, out, errOut := newTestRoot(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4)
	writePNG(t, filepath.Join(dir, "b.png"), 4, 4)
	archive := filepath.Join(t.TempDir(), "out.zip")

	if err := run(root, "export", dir, "-o", archive, "--background", "blur"); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(fakePipe.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
	}
	job := fakePipe.jobs[0]
	if job.Output != archive || len(job.Sources) != 2 || job.Params.Background != frame.BackgroundBlur {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Sources[0].Name != "a.png" || job.Sources[1].Name != "b.png" {
		t.Fatalf("sources out of order: %s, %s", job.Sources[0].Name, job.Sources[1].Name)
	}
	if !strings.Contains(out.String(), "exported 2 images to "+archive) {
		t.Fatalf("unexpected output %q", out.String())
	}
	if !strings.Contains(errOut.String(), "[2/2] b.png") {
		t.Fatalf("expected progress lines, got %q", errOut.String())
	}
}

func TestExportDefaultsToConfiguredArchive(t *testing.T) {
	root, fakePipe, _, _ := newTestRoot(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4)

	if err := run(root, "export", dir); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	want := filepath.Join(root.cfg.Export.OutputDir, export.DefaultArchiveName)
	if fakePipe.jobs[0].Output != want {
		t.Fatalf("expected %s, got %s", want, fakePipe.jobs[0].Output)
	}
}

func TestExportPropagatesErrors(t *testing.T) {
	root, fakePipe, _, _ := newTestRoot(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4)
	fakePipe.failWith = "encode a.png: disk full"

	err := run(root, "export", dir)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected pipeline error, got %v", err)
	}

	if err := run(root, "export", t.TempDir()); err == nil {
		t.Fatalf("expected error for a directory without images")
	}
}

func TestEnqueueAndWaitQueueFull(t *testing.T) {
	root, fakePipe, _, _ := newTestRoot(t)
	fakePipe.submitErr = pipeline.ErrQueueFull
	_, err := root.enqueueAndWait(context.Background(), pipeline.Job{ID: "x"}, nil)
	if !errors.Is(err, pipeline.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPrefsCommands(t *testing.T) {
	root, _, out, _ := newTestRoot(t)

	if err := run(root, "prefs", "set", "ratio=16:9", "border=20", "color=#ffffff"); err != nil {
		t.Fatalf("prefs set failed: %v", err)
	}
	out.Reset()
	if err := run(root, "prefs", "show"); err != nil {
		t.Fatalf("prefs show failed: %v", err)
	}
	for _, want := range []string{"(saved)", "16:9", "20", "#ffffff"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in %q", want, out.String())
		}
	}

	out.Reset()
	if err := run(root, "prefs", "reset"); err != nil {
		t.Fatalf("prefs reset failed: %v", err)
	}
	p, _ := root.prefs.Load()
	if p != frame.DefaultParams() {
		t.Fatalf("reset did not restore defaults: %+v", p)
	}

	for _, args := range [][]string{{"bogus=1"}, {"ratio"}, {"blur=1"}} {
		if err := run(root, append([]string{"prefs", "set"}, args...)...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestPrefsShowFallsBackToConfig(t *testing.T) {
	root, _, out, _ := newTestRoot(t)
	root.cfg.Frame.AspectRatio = "3:2"

	if err := run(root, "prefs"); err != nil {
		t.Fatalf("prefs failed: %v", err)
	}
	if !strings.Contains(out.String(), "(defaults)") || !strings.Contains(out.String(), "3:2") {
		t.Fatalf("expected configured defaults, got %q", out.String())
	}
}

func TestPrefsSaveFailureOnlyWarns(t *testing.T) {
	root, _, _, _ := newTestRoot(t)
	kv := prefs.NewMemoryKV()
	kv.Fail = errors.New("locked")
	root.prefs = prefs.New(kv, root.log)
	src := filepath.Join(t.TempDir(), "pic.png")
	writePNG(t, src, 8, 8)

	if err := run(root, "compose", src, "--ratio", "3:2"); err != nil {
		t.Fatalf("compose should succeed without preference storage: %v", err)
	}
	if err := run(root, "prefs", "set", "ratio=3:2"); err == nil {
		t.Fatalf("prefs set should report the storage failure")
	}
}

func TestRatiosCommand(t *testing.T) {
	root, _, out, _ := newTestRoot(t)
	if err := run(root, "ratios"); err != nil {
		t.Fatalf("ratios failed: %v", err)
	}
	for _, want := range []string{"1:1", "Horizontal:", "16:9", "wide", "Vertical:", "photo-portrait"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in %q", want, out.String())
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	root, _, out, _ := newTestRoot(t)
	if err := run(root, "history"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out.String(), "No exports recorded yet") {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := root.store.RecordExportQueued(storage.ExportRecord{ID: "0123456789abcdef", ImageCount: 3, Ratio: "4:5"}); err != nil {
		t.Fatal(err)
	}
	if err := root.store.RecordExportResult("0123456789abcdef", storage.ExportResult{
		Status: storage.StatusCompleted, ImageCount: 3, ArchiveSize: 2048,
	}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := run(root, "history", "-n", "5"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	for _, want := range []string{"01234567", storage.StatusCompleted, "4:5", "2.0 kB"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in %q", want, out.String())
		}
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _, _, _ := newTestRoot(t)
	var called bool
	root.serveFn = func(ctx context.Context, r *Root, httpAddr, grpcAddr string) error {
		called = true
		if httpAddr != ":9999" {
			t.Fatalf("unexpected addr %s", httpAddr)
		}
		if grpcAddr != "" {
			t.Fatalf("expected grpc disabled, got %s", grpcAddr)
		}
		return nil
	}
	if err := run(root, "serve", "--addr", ":9999", "--grpc-addr="); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if !called {
		t.Fatalf("serve function was not invoked")
	}
}

func TestDefaultServeNeedsRealPipeline(t *testing.T) {
	root, _, _, _ := newTestRoot(t)
	if err := defaultServe(context.Background(), root, ":0", ""); err == nil {
		t.Fatalf("expected error for a fake pipeline")
	}
}

func TestConfigVersionAndTools(t *testing.T) {
	root, _, out, _ := newTestRoot(t)
	root.clip = &clipboard.CommandSink{
		Tools: clipboard.Tools,
		LookPath: func(name string) (string, error) {
			if name == "xclip" {
				return "/usr/bin/xclip", nil
			}
			return "", exec.ErrNotFound
		},
	}

	if err := run(root, "config", "show"); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out.String(), "Current configuration") || !strings.Contains(out.String(), `"archive_name"`) {
		t.Fatalf("expected configuration output, got %q", out.String())
	}

	out.Reset()
	if err := run(root, "version"); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out.String(), "Framer v1.0.0-dev") {
		t.Fatalf("expected version string, got %q", out.String())
	}

	out.Reset()
	if err := run(root, "tools"); err != nil {
		t.Fatalf("tools failed: %v", err)
	}
	if !strings.Contains(out.String(), "Tool Availability Status") || !strings.Contains(out.String(), "✅ xclip") {
		t.Fatalf("unexpected tools output %q", out.String())
	}
}

func TestWatchRequiresDirectories(t *testing.T) {
	root, _, _, _ := newTestRoot(t)
	root.cfg.Watch.Dirs = nil
	if err := run(root, "watch"); err == nil {
		t.Fatalf("expected error without directories")
	}
	if err := run(root, "watch", t.TempDir(), "--format", "gif"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestOpenWiresBackends(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(tmp, "db", "framer.db")
	cfg.Preferences.Backend = "file"
	cfg.Preferences.Path = filepath.Join(tmp, "prefs.json")
	cfg.Export.OutputDir = filepath.Join(tmp, "exports")
	cfg.Decode.ConvertHEIC = false

	root, err := Open(cfg, quietLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer root.Close()

	if err := root.prefs.Save(frame.DefaultParams()); err != nil {
		t.Fatalf("save through file backend: %v", err)
	}
	if _, err := os.Stat(cfg.Preferences.Path); err != nil {
		t.Fatalf("preferences file not written: %v", err)
	}

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 6, 4)
	root.out = io.Discard
	root.errOut = io.Discard
	if err := run(root, "export", dir); err != nil {
		t.Fatalf("export through the real pipeline failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Export.OutputDir, cfg.Export.ArchiveName)); err != nil {
		t.Fatalf("archive not written: %v", err)
	}

	cfg.Preferences.Backend = "etcd"
	if _, err := Open(cfg, quietLogger()); err == nil {
		t.Fatalf("expected error for unknown preferences backend")
	}
}

// Test helpers

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Export.OutputDir = filepath.Join(tmp, "exports")
	cfg.Storage.Path = filepath.Join(tmp, "framer.db")
	cfg.Watch.OutputDir = filepath.Join(tmp, "framed")

	store, err := storage.New(storage.DriverSQLite, cfg.Storage.Path)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := quietLogger()
	pipe := newFakePipeline()
	root := NewRoot(pipe, cfg, logger, store,
		prefs.New(prefs.NewMemoryKV(), logger),
		collection.NewLoader(nil, nil, 2, logger),
		export.NewSequencer(nil, nil, logger),
	)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root.out = out
	root.errOut = errOut
	root.clip = &recordingSink{}
	return root, pipe, out, errOut
}

func run(root *Root, args ...string) error {
	cmd := NewRootCmd(root)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      []chan pipeline.Event
	submitErr error
	failWith  string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{}
}

// Submit records the job and answers with progress and a result event.
func (f *fakePipeline) Submit(job pipeline.Job) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)

	events := make([]pipeline.Event, 0, len(job.Sources)+1)
	for i, src := range job.Sources {
		pr := export.Progress{Index: i, Total: len(job.Sources), Name: src.Name}
		events = append(events, pipeline.Event{Kind: pipeline.EventProgress, JobID: job.ID, Progress: &pr})
	}
	res := pipeline.Event{Kind: pipeline.EventResult, JobID: job.ID, Status: storage.StatusCompleted,
		Images: len(job.Sources), ArchivePath: job.Output, ArchiveSize: 1024}
	if f.failWith != "" {
		res = pipeline.Event{Kind: pipeline.EventResult, JobID: job.ID, Status: storage.StatusFailed, Error: f.failWith}
	}
	events = append(events, res)
	for _, ch := range f.subs {
		for _, ev := range events {
			ch <- ev
		}
	}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.Event, 64)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

type recordingSink struct {
	data []byte
	mime string
}

func (s *recordingSink) Copy(ctx context.Context, data []byte, mimeType string) error {
	s.data = data
	s.mime = mimeType
	return nil
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func pngSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

type pngConverter struct {
	calls int
	mu    sync.Mutex
}

func (c *pngConverter) Convert(name string, data []byte) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 30, 20))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func TestSingleFrameLoadsBypassConversionCache(t *testing.T) {
	conv := &pngConverter{}
	ld := newLoaders(conv, 2, quietLogger())
	if ld.cache == nil {
		t.Fatal("expected a conversion cache")
	}

	root, _, _, _ := newTestRoot(t)
	root.loader = ld.single
	dir := t.TempDir()
	src := filepath.Join(dir, "phone.heic")
	if err := os.WriteFile(src, []byte("not really heic"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(root, "compose", src, "-o", dir); err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if conv.calls != 1 {
		t.Fatalf("converter calls = %d", conv.calls)
	}
	if n := ld.cache.Len(); n != 0 {
		t.Fatalf("compose left %d cached conversions", n)
	}

	exporter := pipeline.NewExporter(ld.batch, root.seq)
	exporter.OnClear = append(exporter.OnClear, ld.cache.Flush)
	res := exporter.Process(context.Background(), pipeline.Job{
		ID:      "heic",
		Sources: []collection.Source{{Name: "phone.heic", Data: []byte("not really heic")}},
		Params:  frame.DefaultParams(),
		Output:  filepath.Join(dir, "batch.zip"),
	}, nil)
	if res.Error != nil {
		t.Fatal(res.Error)
	}
	if n := ld.cache.Len(); n != 0 {
		t.Fatalf("export left %d cached conversions", n)
	}

	if _, err := ld.batch.Load(context.Background(), []collection.Source{{Name: "a.heif", Data: []byte("x")}}); err != nil {
		t.Fatal(err)
	}
	if n := ld.cache.Len(); n != 1 {
		t.Fatalf("batch load cached %d conversions, want 1", n)
	}
}

func TestNewLoadersWithoutConverter(t *testing.T) {
	ld := newLoaders(nil, 1, quietLogger())
	if ld.cache != nil || ld.single != ld.batch {
		t.Fatalf("unexpected loaders %+v", ld)
	}
}
