package index

import (
	"os"
	"sync"
	"time"
)

// WatchFunc is called when a watched mailbox changes on disk.
type WatchFunc func(path string)

// Watch is one registration on a watched path. Every handle watching a
// mailbox holds its own Watch, so removing one never cancels another
// handle's notifications on the same path.
type Watch struct {
	path        string
	fn          WatchFunc
	minInterval time.Duration
	lastNotify  time.Time
}

// pathState is the shared change-detection state for one watched path.
type pathState struct {
	watches  map[*Watch]struct{}
	lastSize int64
	lastMod  time.Time
}

// Watcher polls mailbox data files for external changes and notifies
// registered callbacks, rate-limited per registration. It backs the
// auto-sync policy of open mailbox handles.
type Watcher struct {
	poll time.Duration

	mu      sync.Mutex
	paths   map[string]*pathState
	done    chan struct{}
	started bool
}

// NewWatcher creates a watcher polling at the given interval.
func NewWatcher(poll time.Duration) *Watcher {
	return &Watcher{
		poll:  poll,
		paths: make(map[string]*pathState),
		done:  make(chan struct{}),
	}
}

// Add registers a callback for changes to path and returns the
// registration handle to pass to Remove. The poll goroutine starts
// lazily on first Add.
func (w *Watcher) Add(path string, minInterval time.Duration, fn WatchFunc) *Watch {
	watch := &Watch{path: path, fn: fn, minInterval: minInterval}

	w.mu.Lock()
	state := w.paths[path]
	if state == nil {
		state = &pathState{watches: make(map[*Watch]struct{})}
		if st, err := os.Stat(path); err == nil {
			state.lastSize = st.Size()
			state.lastMod = st.ModTime()
		}
		w.paths[path] = state
	}
	state.watches[watch] = struct{}{}
	if !w.started {
		w.started = true
		go w.run()
	}
	w.mu.Unlock()

	return watch
}

// Remove drops one registration. Other registrations on the same path
// keep firing. Removing nil or an already removed watch does nothing.
func (w *Watcher) Remove(watch *Watch) {
	if watch == nil {
		return
	}

	w.mu.Lock()
	if state := w.paths[watch.path]; state != nil {
		delete(state.watches, watch)
		if len(state.watches) == 0 {
			delete(w.paths, watch.path)
		}
	}
	w.mu.Unlock()
}

// Close stops the watcher. Close is idempotent.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.paths = make(map[string]*pathState)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	now := time.Now()

	w.mu.Lock()
	type pending struct {
		fn   WatchFunc
		path string
	}
	var fire []pending
	for path, state := range w.paths {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		if st.Size() == state.lastSize && st.ModTime().Equal(state.lastMod) {
			continue
		}
		state.lastSize = st.Size()
		state.lastMod = st.ModTime()
		for watch := range state.watches {
			if now.Sub(watch.lastNotify) < watch.minInterval {
				continue
			}
			watch.lastNotify = now
			fire = append(fire, pending{fn: watch.fn, path: path})
		}
	}
	w.mu.Unlock()

	// callbacks run outside the lock; they may call back into the watcher
	for _, p := range fire {
		p.fn(p.path)
	}
}
