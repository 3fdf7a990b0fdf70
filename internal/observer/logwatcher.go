// Package observer watches the shared log directories so status views can
// rebuild the ledger when new records land, instead of polling.
package observer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called with the log files that changed since the last
// debounce flush.
type ChangeCallback func(changedFiles []string)

// LogWatcher monitors the claims and runs directories for new records
type LogWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewLogWatcher creates a watcher for the given data directory. The claims
// and runs subdirectories are watched; missing ones are skipped.
func NewLogWatcher(dataDir string, callback ChangeCallback) (*LogWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	lw := &LogWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}

	for _, sub := range []string{"claims", "runs"} {
		dir := filepath.Join(dataDir, sub)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return lw, nil
}

// Start begins watching for file changes
func (lw *LogWatcher) Start(ctx context.Context) {
	ctx, lw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-lw.watcher.Events:
				if !ok {
					return
				}
				lw.handleEvent(event)
			case err, ok := <-lw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("observer: watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (lw *LogWatcher) Stop() {
	if lw.cancel != nil {
		lw.cancel()
	}
	lw.watcher.Close()
}

func (lw *LogWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.pending[event.Name] = struct{}{}

	if lw.timer != nil {
		lw.timer.Stop()
	}
	lw.timer = time.AfterFunc(lw.debounce, lw.flush)
}

func (lw *LogWatcher) flush() {
	lw.mu.Lock()
	pending := lw.pending
	lw.pending = make(map[string]struct{})
	lw.mu.Unlock()

	if lw.callback == nil || len(pending) == 0 {
		return
	}

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	lw.callback(files)
}

// SetDebounce sets the debounce duration for batching file changes
func (lw *LogWatcher) SetDebounce(d time.Duration) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.debounce = d
}
