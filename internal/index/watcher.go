package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/ratelimit"
)

// debounceWindow is how long a changed file must be quiet before a refresh
// is scheduled.
const debounceWindow = 2 * time.Second

// Watcher triggers incremental refreshes when session files change on disk.
// Events are debounced; refreshes refused by the indexer's rate window are
// retried on the next tick.
type Watcher struct {
	indexer *Indexer
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	done    chan struct{}

	pendingMu sync.Mutex
	pending   map[string]time.Time
	dirty     bool
}

// NewWatcher creates a Watcher over the indexer's roots.
func NewWatcher(ix *Indexer) *Watcher {
	return &Watcher{
		indexer: ix,
		pending: make(map[string]time.Time),
	}
}

// Start registers the roots and their project subdirectories and begins
// watching. Safe to call once; subsequent calls are no-ops.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.done = make(chan struct{})
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	for _, root := range w.indexer.opts.Roots {
		if err := fw.Add(root); err != nil {
			log.Debug().Err(err).Str("root", root).Msg("cannot watch session root")
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fw.Add(filepath.Join(root, entry.Name()))
			}
		}
	}

	go w.watchLoop()
	go w.debounceLoop()

	log.Info().Strs("roots", w.indexer.opts.Roots).Msg("session tree watcher started")
	return nil
}

// Stop ends watching. Safe to call without Start or repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.done)
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// New project directories need their own watch entry.
			if event.Op.Has(fsnotify.Create) {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					_ = w.watcher.Add(event.Name)
					continue
				}
			}

			if !strings.HasSuffix(event.Name, SessionExt) {
				continue
			}

			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("session tree watcher error")
		}
	}
}

func (w *Watcher) debounceLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case <-ticker.C:
			w.pendingMu.Lock()
			now := time.Now()
			for path, queuedAt := range w.pending {
				if now.Sub(queuedAt) >= debounceWindow {
					delete(w.pending, path)
					w.dirty = true
				}
			}
			ready := w.dirty
			w.pendingMu.Unlock()

			if !ready {
				continue
			}
			if err := w.indexer.Refresh(false); err != nil {
				var rl *ratelimit.Error
				if errors.As(err, &rl) {
					// Inside the refresh window; dirty stays set and the
					// next tick tries again.
					log.Debug().Int("retry_after", rl.RetryAfterSeconds).Msg("auto-refresh deferred")
				} else {
					log.Warn().Err(err).Msg("auto-refresh failed")
				}
				continue
			}

			w.pendingMu.Lock()
			w.dirty = false
			w.pendingMu.Unlock()
		}
	}
}
