package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReportsDrift(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewSettingsWatcher(path)
	require.NoError(t, err)
	var fired atomic.Int32
	w.OnChange(func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"motd":"edited"}`), 0o644))
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherSeesFileCreatedLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	w, err := NewSettingsWatcher(path)
	require.NoError(t, err)
	var fired atomic.Int32
	w.OnChange(func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewSettingsWatcher(path)
	require.NoError(t, err)
	var fired atomic.Int32
	w.OnChange(func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))
	time.Sleep(watchDebounce + 300*time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestWatcherExpectSuppressesOwnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewSettingsWatcher(path)
	require.NoError(t, err)
	var fired atomic.Int32
	w.OnChange(func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	w.Expect()
	require.NoError(t, WriteSettings(path, DefaultSettings("1.0.0")))
	time.Sleep(watchDebounce + 300*time.Millisecond)
	require.Zero(t, fired.Load(), "own write must not count as drift")

	// Past the expect window an edit is drift again.
	time.Sleep(expectWindow)
	require.NoError(t, os.WriteFile(path, []byte(`{"motd":"drift"}`), 0o644))
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherPanickingCallbackDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewSettingsWatcher(path)
	require.NoError(t, err)
	var fired atomic.Int32
	w.OnChange(func() { panic("boom") })
	w.OnChange(func() { fired.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
