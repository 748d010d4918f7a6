package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler processes a file once it has stopped changing.
type Handler interface {
	HandleFile(ctx context.Context, path string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, path string) error

func (f HandlerFunc) HandleFile(ctx context.Context, path string) error {
	return f(ctx, path)
}

// FolderMonitor watches a directory and hands new or rewritten files with
// a matching extension to a Handler after a quiet period.
type FolderMonitor struct {
	watcher      *fsnotify.Watcher
	folderPath   string
	extensions   map[string]bool
	handler      Handler
	debounceTime time.Duration
	logger       *slog.Logger

	pendingFiles map[string]*pendingFile
	processing   map[string]bool
	mu           sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pendingFile is one armed quiet-period timer. A callback whose entry is no
// longer the map's entry for its path has been superseded.
type pendingFile struct {
	timer *time.Timer
}

// NewFolderMonitor creates a monitor for folderPath.
func NewFolderMonitor(folderPath string, extensions []string, handler Handler, debounceTime time.Duration, logger *slog.Logger) (*FolderMonitor, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FolderMonitor{
		watcher:      w,
		folderPath:   folderPath,
		extensions:   exts,
		handler:      handler,
		debounceTime: debounceTime,
		logger:       logger.With(slog.String("component", "watcher"), slog.String("dir", folderPath)),
		pendingFiles: make(map[string]*pendingFile),
		processing:   make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start creates the folder if needed and begins watching it.
func (m *FolderMonitor) Start() error {
	if err := os.MkdirAll(m.folderPath, 0o755); err != nil {
		return fmt.Errorf("failed to create watch folder: %w", err)
	}
	if err := m.watcher.Add(m.folderPath); err != nil {
		return fmt.Errorf("failed to watch folder: %w", err)
	}

	m.wg.Add(1)
	go m.watchLoop()

	m.logger.Info("Watching folder for recordings",
		slog.Duration("debounce", m.debounceTime),
	)
	return nil
}

// Stop stops watching, drops pending files and waits for running handlers.
func (m *FolderMonitor) Stop() {
	m.cancel()
	m.watcher.Close()

	m.mu.Lock()
	for path, p := range m.pendingFiles {
		if p.timer.Stop() {
			m.wg.Done()
		}
		delete(m.pendingFiles, path)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Stopped watching folder")
}

func (m *FolderMonitor) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Watch error", slog.String("error", err.Error()))
		}
	}
}

func (m *FolderMonitor) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	path := event.Name
	if !m.isTargetFile(path) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}

	m.schedule(path)
	m.logger.Debug("File change detected", slog.String("file", path))
}

// schedule restarts the quiet period for path. Callers hold m.mu.
func (m *FolderMonitor) schedule(path string) {
	if p, exists := m.pendingFiles[path]; exists {
		if p.timer.Stop() {
			m.wg.Done()
		}
	}

	p := &pendingFile{}
	m.pendingFiles[path] = p
	m.wg.Add(1)
	p.timer = time.AfterFunc(m.debounceTime, func() {
		defer m.wg.Done()
		m.processFile(path, p)
	})
}

func (m *FolderMonitor) isTargetFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return m.extensions[strings.ToLower(filepath.Ext(path))]
}

func (m *FolderMonitor) processFile(path string, p *pendingFile) {
	m.mu.Lock()
	if m.pendingFiles[path] != p || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	delete(m.pendingFiles, path)
	if m.processing[path] {
		// Still splitting an earlier version; run again once it is done.
		m.schedule(path)
		m.mu.Unlock()
		return
	}
	m.processing[path] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.processing, path)
		m.mu.Unlock()
	}()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	m.logger.Info("Processing file", slog.String("file", path))
	if err := m.handler.HandleFile(m.ctx, path); err != nil {
		m.logger.Error("Failed to process file",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
	}
}
