package watch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamspias/imgcrush"
)

// fakeProcessor records every path it is handed.
type fakeProcessor struct {
	mu    sync.Mutex
	calls []string
	seen  chan string
}

func newFakeProcessor() *fakeProcessor { return &fakeProcessor{seen: make(chan string, 64)} }

func (f *fakeProcessor) Process(_ context.Context, path string) (imgcrush.FileResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	f.seen <- path
	if filepath.Ext(path) == ".jpg" {
		return imgcrush.FileResult{}, errors.New("decode failed")
	}
	return imgcrush.FileResult{File: path, DryRun: true}, nil
}

func (f *fakeProcessor) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == path {
			n++
		}
	}
	return n
}

// chanObserver forwards outcomes to channels.
type chanObserver struct {
	results chan imgcrush.FileResult
	errors  chan imgcrush.FileError
}

func newChanObserver() *chanObserver {
	return &chanObserver{results: make(chan imgcrush.FileResult, 64), errors: make(chan imgcrush.FileError, 64)}
}

func (o *chanObserver) OnStart(int, string)                      {}
func (o *chanObserver) OnResult(r imgcrush.FileResult, _, _ int) { o.results <- r }
func (o *chanObserver) OnError(e imgcrush.FileError, _, _ int)   { o.errors <- e }

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func startWatcher(t *testing.T, w *Watcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func TestNewRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.png")
	writePNG(t, file)

	_, err := New(imgcrush.ProcessingOptions{InputPath: file}, newFakeProcessor())
	assert.ErrorIs(t, err, imgcrush.ErrInvalidInput)
	_, err = New(imgcrush.ProcessingOptions{InputPath: filepath.Join(dir, "missing")}, newFakeProcessor())
	assert.ErrorIs(t, err, imgcrush.ErrInvalidInput)
}

func TestWatcherProcessesExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.png")
	writePNG(t, existing)

	proc := newFakeProcessor()
	obs := newChanObserver()
	w, err := New(imgcrush.ProcessingOptions{InputPath: dir}, proc, WithDebounce(20*time.Millisecond), WithObserver(obs))
	require.NoError(t, err)
	cancel, errc := startWatcher(t, w)

	assert.Equal(t, existing, waitFor(t, proc.seen), "initial scan")
	assert.Equal(t, existing, waitFor(t, obs.results).File)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	fresh := filepath.Join(dir, "fresh.png")
	writePNG(t, fresh)
	assert.Equal(t, fresh, waitFor(t, proc.seen))

	broken := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(broken, []byte("nope"), 0o644))
	assert.Equal(t, broken, waitFor(t, proc.seen))
	e := waitFor(t, obs.errors)
	assert.Equal(t, broken, e.File)
	assert.Equal(t, "decode failed", e.Message)

	cancel()
	assert.ErrorIs(t, waitFor(t, errc), context.Canceled)
	assert.Zero(t, proc.count(filepath.Join(dir, "notes.txt")))
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	proc := newFakeProcessor()
	w, err := New(imgcrush.ProcessingOptions{InputPath: dir}, proc, WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	cancel, errc := startWatcher(t, w)
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "burst.png")
	for i := 0; i < 5; i++ {
		writePNG(t, path)
	}
	waitFor(t, proc.seen)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, proc.count(path))

	cancel()
	<-errc
}

func TestWatcherRecursiveSkipsOutputDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "optimized")
	require.NoError(t, os.MkdirAll(out, 0o755))

	proc := newFakeProcessor()
	w, err := New(imgcrush.ProcessingOptions{InputPath: dir, OutputDir: out, Recursive: true}, proc, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	cancel, errc := startWatcher(t, w)
	time.Sleep(50 * time.Millisecond)

	writePNG(t, filepath.Join(out, "ignored.png"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	time.Sleep(50 * time.Millisecond)
	nested := filepath.Join(dir, "sub", "nested.png")
	writePNG(t, nested)

	assert.Equal(t, nested, waitFor(t, proc.seen))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, proc.count(filepath.Join(out, "ignored.png")))

	cancel()
	<-errc
}

func TestWatcherInPlaceDoesNotRetrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "self.png")
	writePNG(t, path)

	p := imgcrush.NewPipeline(imgcrush.ProcessingOptions{}, imgcrush.WithDevice(nil))
	obs := newChanObserver()
	w, err := New(imgcrush.ProcessingOptions{InputPath: dir}, p, WithDebounce(20*time.Millisecond), WithObserver(obs))
	require.NoError(t, err)
	cancel, errc := startWatcher(t, w)

	r := waitFor(t, obs.results)
	assert.Equal(t, path, r.OutputFile)

	select {
	case again := <-obs.results:
		t.Fatalf("output re-processed: %s", again.File)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-errc
}
