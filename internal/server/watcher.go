package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hudacode/prayerlog/internal/bus"
)

// StoreWatcher watches the store file for out-of-band modifications
// (hand edits, a restore from backup) and, when one lands, reloads the
// store and pushes a resync hint to connected clients.
//
// The store's own atomic saves also produce filesystem events; the
// watcher tells them apart by tracking the store's save generation.
type StoreWatcher struct {
	store  *FileStore
	hub    *Hub
	logger *log.Logger

	watcher  *fsnotify.Watcher
	debounce time.Duration

	pendingMu sync.Mutex
	pending   time.Time

	lastGen uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStoreWatcher creates a watcher over the store's file.
// If logger is nil, a default logger writing to stderr is used.
func NewStoreWatcher(store *FileStore, hub *Hub, logger *log.Logger) (*StoreWatcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &StoreWatcher{
		store:    store,
		hub:      hub,
		logger:   logger,
		watcher:  watcher,
		debounce: 250 * time.Millisecond,
		lastGen:  store.Generation(),
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself because atomic replace-by-rename swaps the inode.
func (sw *StoreWatcher) Start() error {
	dir := filepath.Dir(sw.store.Path())
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch store directory %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel

	sw.wg.Add(2)
	go sw.watchEvents(ctx)
	go sw.processPending(ctx)

	sw.logger.Printf("Watching store file %s", sw.store.Path())
	return nil
}

// Stop stops watching and waits for the goroutines to exit.
func (sw *StoreWatcher) Stop() error {
	if sw.cancel != nil {
		sw.cancel()
	}
	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	sw.wg.Wait()
	return nil
}

// watchEvents queues store-file events for debounced processing.
func (sw *StoreWatcher) watchEvents(ctx context.Context) {
	defer sw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(sw.store.Path()) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			sw.pendingMu.Lock()
			sw.pending = time.Now()
			sw.pendingMu.Unlock()

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Printf("Watcher error: %v", err)
		}
	}
}

// processPending reloads the store once events have settled.
func (sw *StoreWatcher) processPending(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			sw.pendingMu.Lock()
			pending := sw.pending
			settled := !pending.IsZero() && time.Since(pending) >= sw.debounce
			if settled {
				sw.pending = time.Time{}
			}
			sw.pendingMu.Unlock()

			if !settled {
				continue
			}

			sw.handleChange()
		}
	}
}

// handleChange distinguishes our own saves from external edits; only the
// latter trigger a reload and a broadcast.
func (sw *StoreWatcher) handleChange() {
	gen := sw.store.Generation()
	if gen != sw.lastGen {
		sw.lastGen = gen
		return
	}

	sw.logger.Printf("Store file changed externally, reloading")
	if err := sw.store.Reload(); err != nil {
		sw.logger.Printf("Error reloading store: %v", err)
		return
	}

	// Resync hint only; clients reconcile rather than trust a payload.
	msg, err := bus.New(bus.MessageTypeAttendanceUpdated, nil)
	if err != nil {
		sw.logger.Printf("Error building resync hint: %v", err)
		return
	}
	sw.hub.Broadcast(msg)
}
