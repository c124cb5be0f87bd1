package filelock

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// SweepExpired removes process-local registry entries older than maxAge,
// recovering from holders whose owning process crashed without releasing.
// The database FileLockRecord table is swept separately via
// store.RecordStore.SweepExpired; this only clears the in-memory view.
func (m *Manager) SweepExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for path, holders := range m.active {
		kept := holders[:0]
		for _, h := range holders {
			if h.acquiredAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) == 0 {
			delete(m.active, path)
		} else {
			m.active[path] = kept
		}
	}
	return removed
}

// RunSweepLoop periodically calls SweepExpired until ctx is cancelled,
// defaulting to a 24h max age (matching the original source's sweep
// default) and a 10-minute poll interval.
func (m *Manager) RunSweepLoop(ctx context.Context, log *logrus.Entry, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.SweepExpired(maxAge); n > 0 && log != nil {
				log.WithField("removed", n).Info("expired file lock entries swept")
			}
		}
	}
}

// WatchProjectsRoot watches the projects root for externally-deleted
// lock-target files so the sweep can drop their registry entries promptly
// instead of waiting for the next ticker, an event-driven assist on top
// of the time-based sweep.
func (m *Manager) WatchProjectsRoot(ctx context.Context, root string, log *logrus.Entry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Remove != 0 {
					m.forgetPath(event.Name)
					if log != nil {
						log.WithField("path", event.Name).Debug("lock target removed externally, forgetting registry entry")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if log != nil {
					log.WithError(err).Warn("file lock watcher error")
				}
			}
		}
	}()
	return nil
}

func (m *Manager) forgetPath(path string) {
	canonical, err := canonicalize(path)
	if err != nil {
		canonical = path
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, canonical)
}
