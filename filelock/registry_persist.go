package filelock

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("file_lock_snapshot")

type snapshotEntry struct {
	Path       string    `json:"path"`
	ClientID   string    `json:"client_id"`
	AccessType string    `json:"access_type"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Snapshotter periodically persists a view of the process-local registry
// to a local bbolt file, following the teacher's bbolt CRUD conventions
// (db/bolt/bolt.go). The snapshot is informational only: the database
// FileLockRecord table remains the authoritative cross-process view per
// spec. It lets a restarted server warn that it no longer recognizes
// locks an earlier instance of itself held, instead of silently losing
// track of them.
type Snapshotter struct {
	db *bolt.DB
}

func OpenSnapshotter(path string) (*Snapshotter, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Snapshotter{db: db}, nil
}

func (s *Snapshotter) Close() error { return s.db.Close() }

// Persist writes the current registry state, replacing any prior snapshot.
func (m *Manager) Persist(s *Snapshotter) error {
	m.mu.Lock()
	entries := make([]snapshotEntry, 0)
	for path, holders := range m.active {
		for _, h := range holders {
			entries = append(entries, snapshotEntry{
				Path: path, ClientID: h.clientID,
				AccessType: string(h.accessType), AcquiredAt: h.acquiredAt,
			})
		}
	}
	m.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if err := b.Delete([]byte("current")); err != nil {
			return err
		}
		data, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return b.Put([]byte("current"), data)
	})
}

// LoadPrevious reads the last persisted snapshot, e.g. for a startup-time
// warning about locks a previous instance of this process held.
func (s *Snapshotter) LoadPrevious() ([]snapshotEntry, error) {
	var entries []snapshotEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(snapshotBucket).Get([]byte("current"))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &entries)
	})
	return entries, err
}
