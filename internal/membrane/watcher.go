package membrane

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// snapshotWatcher supplements the mtime-poll-on-check hot reload with an
// fsnotify watch on the tenant's state directory, so a write from
// outside this process (another replica, an operator restore) triggers
// an eager reload instead of waiting for the next Check call. Shaped
// after the plugin hot-reload watcher elsewhere in the codebase:
// NewWatcher(paths, onChange), Start/Stop.
type snapshotWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	onChange func()
	logger   *logrus.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// newSnapshotWatcher watches dir for writes and invokes onChange on
// every create/write event. Returns an error if the directory does not
// exist or cannot be watched; callers should treat that as non-fatal
// since the poll-before-check path still provides correctness.
func newSnapshotWatcher(dir string, onChange func(), logger *logrus.Logger) (*snapshotWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &snapshotWatcher{
		watcher:  w,
		dir:      dir,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a background goroutine until Stop is called.
func (w *snapshotWatcher) Start() {
	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					w.onChange()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.WithError(err).WithField("dir", w.dir).Warn("membrane: watch error")
			}
		}
	}()
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *snapshotWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.watcher.Close()
	<-w.done
}
