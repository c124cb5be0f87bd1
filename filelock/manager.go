// Package filelock implements the multi-granularity file-access
// coordinator: a process-local registry plus an OS-level advisory lock,
// backed by a database record for cross-process visibility.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agentmesh/mcs/store"
)

// holder is one outstanding lock on a path. Unlike the original source's
// path:accessType string-set registry (flagged in DESIGN.md as
// collapsing distinct holders into one key), holders are tracked
// individually per path so that, e.g., two concurrent read holders on the
// same path are both visible rather than aliased to a single entry.
type holder struct {
	accessType store.AccessType
	clientID   string
	acquiredAt time.Time
}

// Manager is the process-local registry plus OS-lock acquisition logic.
type Manager struct {
	mu       sync.Mutex
	active   map[string][]*holder // canonical path -> holders
	records  *store.RecordStore  // may be nil: database visibility is best-effort
	pollWait time.Duration
}

// Config tunes the manager.
type Config struct {
	Records  *store.RecordStore
	PollWait time.Duration // backoff between acquisition retries, default 100ms
}

func New(cfg Config) *Manager {
	if cfg.PollWait <= 0 {
		cfg.PollWait = 100 * time.Millisecond
	}
	return &Manager{
		active:   make(map[string][]*holder),
		records:  cfg.Records,
		pollWait: cfg.PollWait,
	}
}

// Handle is returned on a successful acquisition; releasing it drops both
// the OS lock and the registry entry.
type Handle struct {
	mgr      *Manager
	path     string
	file     *os.File
	holder   *holder
	recordID int64
	hasRec   bool
}

// Release drops the OS lock, closes the file descriptor, and removes the
// registry entry. Safe to call once; subsequent calls are no-ops.
func (h *Handle) Release() {
	if h == nil || h.file == nil {
		return
	}
	_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	_ = h.file.Close()
	h.mgr.unregister(h.path, h.holder)
	if h.mgr.records != nil && h.hasRec {
		_ = h.mgr.records.Release(h.recordID)
	}
	h.file = nil
}

// AcquireFileLock canonicalizes path, ensures its parent directory exists,
// and loops until timeout trying to satisfy both the in-process registry
// check and an OS advisory lock. On success the handle owns both; on
// timeout it returns a LOCK_TIMEOUT error, on a genuine OS failure an
// INTERNAL error.
func (m *Manager) AcquireFileLock(ctx context.Context, path string, accessType store.AccessType, timeout time.Duration, clientID string, taskID, workflowID *string) (*Handle, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return nil, store.Internal("canonicalize path", err)
	}
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return nil, store.Internal("ensure parent directory", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		if h, err := m.tryAcquire(canonical, accessType, clientID, taskID, workflowID); err == nil {
			return h, nil
		} else if store.KindOf(err) != store.KindConflict {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, store.LockTimeout(fmt.Sprintf("timed out acquiring %s lock on %s", accessType, canonical))
		}
		select {
		case <-ctx.Done():
			return nil, store.LockTimeout("context cancelled while waiting for lock")
		case <-time.After(m.pollWait):
		}
	}
}

func (m *Manager) tryAcquire(path string, accessType store.AccessType, clientID string, taskID, workflowID *string) (*Handle, error) {
	m.mu.Lock()
	if !m.canAcquireLocked(path, accessType) {
		m.mu.Unlock()
		return nil, store.Conflict("incompatible lock held")
	}

	mode := os.O_RDONLY
	if accessType != store.AccessRead {
		mode = os.O_RDWR | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, mode, 0o644)
	if err != nil {
		m.mu.Unlock()
		return nil, store.Internal("open file", err)
	}

	flockType := unix.LOCK_SH
	if accessType != store.AccessRead {
		flockType = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), flockType|unix.LOCK_NB); err != nil {
		f.Close()
		m.mu.Unlock()
		return nil, store.Conflict("os-level lock held by another process")
	}

	h := &holder{accessType: accessType, clientID: clientID, acquiredAt: time.Now()}
	m.active[path] = append(m.active[path], h)
	m.mu.Unlock()

	handle := &Handle{mgr: m, path: path, file: f, holder: h}
	if m.records != nil {
		if rec, err := m.records.Record(path, clientID, taskID, workflowID, accessType, nil); err == nil {
			handle.recordID = rec.Key
			handle.hasRec = true
		}
	}
	return handle, nil
}

// canAcquireLocked implements the compatibility matrix: a read request is
// granted only if every existing holder on the path is also `read`; write
// and exclusive are exclusive against everything, including themselves.
func (m *Manager) canAcquireLocked(path string, accessType store.AccessType) bool {
	for _, h := range m.active[path] {
		if accessType != store.AccessRead || h.accessType != store.AccessRead {
			return false
		}
	}
	return true
}

func (m *Manager) unregister(path string, target *holder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holders := m.active[path]
	for i, h := range holders {
		if h == target {
			m.active[path] = append(holders[:i:i], holders[i+1:]...)
			break
		}
	}
	if len(m.active[path]) == 0 {
		delete(m.active, path)
	}
}

// IsLocked reports whether any holder currently exists for path.
func (m *Manager) IsLocked(path string) bool {
	canonical, err := canonicalize(path)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active[canonical]) > 0
}

// ActiveHolders returns a snapshot of active holders for observability.
func (m *Manager) ActiveHolders(path string) int {
	canonical, err := canonicalize(path)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active[canonical])
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The target may not exist yet (first write); fall back to the
		// absolute, non-resolved path.
		return abs, nil
	}
	return resolved, nil
}
