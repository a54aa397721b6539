package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher hot-reloads tenant configuration: it watches the file
// store's directory and re-applies a tenant's config whenever its file is
// created or written. This is how tenant configuration "evolves live"
// without restarting the process.
type ConfigWatcher struct {
	store   *FileTenantConfigStore
	manager *ConfigManager
	logger  Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigWatcher creates a watcher over the store's directory. Call
// Start to begin watching.
func NewConfigWatcher(store *FileTenantConfigStore, manager *ConfigManager, logger Logger) *ConfigWatcher {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &ConfigWatcher{
		store:   store,
		manager: manager,
		logger:  logger,
	}
}

// Start begins watching the config directory. Events are processed on a
// background goroutine until Stop is called or the context is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.store.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("watching tenant config directory: %w", err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(ctx, watcher, w.done)

	w.logger.Info("Watching tenant config directory", "directory", w.store.Dir())
	return nil
}

// Stop stops watching. Idempotent.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	w.watcher = nil
	return err
}

func (w *ConfigWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			tenantID, recognized := tenantIDFromFile(filepath.Base(event.Name))
			if !recognized {
				continue
			}
			w.apply(ctx, tenantID)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Tenant config watcher error", "error", err)
		}
	}
}

func (w *ConfigWatcher) apply(ctx context.Context, tenantID TenantID) {
	if err := w.manager.ApplyFromStore(ctx, w.store, tenantID); err != nil {
		w.logger.Error("Failed to apply tenant config from file change", "tenant", tenantID, "error", err)
		return
	}
	w.logger.Info("Applied tenant config from file change", "tenant", tenantID)
}
