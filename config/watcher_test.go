package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) record(e FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(path string, op FileOp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Path == path && e.Op == op {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, paths ...string) (*FileWatcher, *eventLog) {
	t.Helper()
	w, err := NewFileWatcher(paths, WithPollInterval(20*time.Millisecond), WithWatcherLogger(zap.NewNop()))
	require.NoError(t, err)

	log := &eventLog{}
	w.OnChange(log.record)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, log
}

// --- Constructor ---

func TestNewFileWatcher(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(f, []byte("agents: []"), 0644))

	w, err := NewFileWatcher([]string{f, "", filepath.Join(dir, "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, []string{f, filepath.Join(dir, "missing.yaml")}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}

// --- Lifecycle ---

func TestFileWatcher_StartStop(t *testing.T) {
	w, err := NewFileWatcher([]string{t.TempDir()}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()), "second start is rejected")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(), "stop is idempotent")

	require.NoError(t, w.Start(context.Background()), "a stopped watcher can restart")
	require.NoError(t, w.Stop())
}

// --- Change detection ---

func TestFileWatcher_FileLifecycle(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "agents.yaml")
	_, log := startWatcher(t, f)

	require.NoError(t, os.WriteFile(f, []byte("agents: []"), 0644))
	assert.Eventually(t, func() bool { return log.has(f, FileOpCreate) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(f, []byte("agents:\n  - id: a\n"), 0644))
	assert.Eventually(t, func() bool { return log.has(f, FileOpWrite) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(f))
	assert.Eventually(t, func() bool { return log.has(f, FileOpRemove) }, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DirectoryEntries(t *testing.T) {
	dir := t.TempDir()
	_, log := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.yaml"), []byte("name: review"), 0644))
	assert.Eventually(t, func() bool { return log.has(dir, FileOpWrite) }, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_NoEventsWithoutChanges(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(f, []byte("agents: []"), 0644))
	_, log := startWatcher(t, f, dir)

	time.Sleep(100 * time.Millisecond)
	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Empty(t, log.events)
}

func TestFileWatcher_CallbackPanicIsContained(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "agents.yaml")

	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	log := &eventLog{}
	w.OnChange(func(FileEvent) { panic("reload failed") })
	w.OnChange(log.record)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	assert.Eventually(t, func() bool { return log.has(f, FileOpCreate) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, w.IsRunning())
}

func TestFileWatcher_ContextCancelStopsPolling(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "agents.yaml")
	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	log := &eventLog{}
	w.OnChange(log.record)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	time.Sleep(60 * time.Millisecond)
	assert.False(t, log.has(f, FileOpCreate))
	require.NoError(t, w.Stop())
}
