// 文件变更监听器实现。
//
// 以轮询方式检测文件或目录的创建、修改与删除，用于模板目录和 Agent 名册的
// 运行时重载。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher polls files and directories and reports changes. A watched
// directory changes when one of its direct entries is added, removed or
// modified.
type FileWatcher struct {
	mu sync.RWMutex

	paths        []string
	pollInterval time.Duration

	running bool
	stop    chan struct{}
	done    chan struct{}

	callbacks []func(event FileEvent)
	logger    *zap.Logger

	// 每个路径的最近指纹，不存在的路径没有条目
	signatures map[string]string
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示路径已出现
	FileOpCreate FileOp = iota
	// FileOpWrite 表示内容已修改
	FileOpWrite
	// FileOpRemove 表示路径已删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval sets how often watched paths are checked
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a watcher for the given paths. Empty paths are
// ignored and missing ones are watched for creation.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		pollInterval: time.Second,
		callbacks:    make([]func(FileEvent), 0),
		signatures:   make(map[string]string),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, path := range paths {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
			w.logger.Warn("watched path does not exist, will watch for creation", zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}

	return w, nil
}

// OnChange registers a callback for file change events. Callbacks run on the
// polling goroutine one at a time.
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start records the current state of every path and begins polling.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	for _, path := range w.paths {
		if sig, ok := signature(path); ok {
			w.signatures[path] = sig
		}
	}
	stop, done := w.stop, w.done
	w.mu.Unlock()

	go w.pollLoop(ctx, stop, done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop stops polling and waits for an in-flight check to finish.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.dispatch(w.checkPaths())
		}
	}
}

// checkPaths compares every path against its last signature.
func (w *FileWatcher) checkPaths() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	var events []FileEvent
	for _, path := range w.paths {
		sig, exists := signature(path)
		last, existed := w.signatures[path]
		switch {
		case !exists && existed:
			delete(w.signatures, path)
			events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		case exists && !existed:
			w.signatures[path] = sig
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case exists && sig != last:
			w.signatures[path] = sig
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	return events
}

func (w *FileWatcher) dispatch(events []FileEvent) {
	if len(events) == 0 {
		return
	}
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, evt := range events {
		w.logger.Debug("dispatching file event",
			zap.String("path", evt.Path),
			zap.String("op", evt.Op.String()))
		for _, cb := range callbacks {
			w.safeCall(cb, evt)
		}
	}
}

func (w *FileWatcher) safeCall(cb func(FileEvent), evt FileEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("file watcher callback panicked",
				zap.String("path", evt.Path),
				zap.Any("panic", r))
		}
	}()
	cb(evt)
}

// signature fingerprints a file by size and mtime, and a directory by the
// same data for each direct entry.
func signature(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if !info.IsDir() {
		return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), true
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", false
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%d", e.Name(), fi.Size(), fi.ModTime().UnixNano()))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|"), true
}

// Paths returns the watched absolute paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
