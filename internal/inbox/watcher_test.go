package inbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingUploader) BeginCapturedMealUpload(_ context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, ref)
	return "meal-" + filepath.Base(ref), nil
}

func (r *recordingUploader) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, dir string, up Uploader) {
	t.Helper()
	w := New(dir, up, 30*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Give fsnotify a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
}

func TestIsImage(t *testing.T) {
	tests := map[string]bool{
		"/in/lunch.jpg":    true,
		"/in/LUNCH.JPEG":   true,
		"/in/plate.png":    true,
		"/in/phone.HEIC":   true,
		"/in/notes.txt":    false,
		"/in/.lunch.jpg":   false,
		"/in/lunch.jpg~":   false,
		"/in/no-extension": false,
	}
	for path, want := range tests {
		assert.Equal(t, want, IsImage(path), path)
	}
}

func TestWatcher_UploadsNewImagesOnce(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	startWatcher(t, dir, up)

	path := filepath.Join(dir, "lunch.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	// Several writes within the settle window collapse into one upload.
	for i := 0; i < 3; i++ {
		_, err := f.Write([]byte("jpeg"))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(up.got()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, path, up.got()[0])

	// A later touch of the same file is not a new meal.
	require.NoError(t, os.WriteFile(path, []byte("jpeg2"), 0o600))
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, up.got(), 1)
}

func TestWatcher_IgnoresNonImages(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	startWatcher(t, dir, up)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.jpg"), []byte("x"), 0o600))
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, up.got())
}

func TestWatcher_ReusedNameAfterRemove(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	startWatcher(t, dir, up)

	path := filepath.Join(dir, "dinner.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))
	require.Eventually(t, func() bool { return len(up.got()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("png2"), 0o600))

	require.Eventually(t, func() bool { return len(up.got()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_MissingDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "nope"), &recordingUploader{}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, w.Run(context.Background()))
}
