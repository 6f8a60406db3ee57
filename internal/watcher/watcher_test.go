package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	var fired atomic.Int32
	w, err := New(path, func() { fired.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))

	require.Eventually(t, func() bool { return fired.Load() > 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	var fired atomic.Int32
	w, err := New(path, func() { fired.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("y\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestWatcherSurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))

	var fired atomic.Int32
	w, err := New(path, func() { fired.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	tmp := filepath.Join(dir, ".settings.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("b\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return fired.Load() > 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w, err := New(path, func() {})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
