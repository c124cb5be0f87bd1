// Package claim implements race-free assignment of READY tasks to
// concurrently polling worker clients.
package claim

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentmesh/mcs/filelock"
	"github.com/agentmesh/mcs/store"
)

// defaultFileLockTimeout bounds how long a claim waits for a task's
// declared file dependencies before downgrading to a warning, per
// spec.md section 7's "task locks downgrade to warnings" policy.
const defaultFileLockTimeout = 5 * time.Second

// Coordinator hands out at most one task to at most one worker with no
// duplicates under concurrent polling, using a row-locked UPDATE ... WHERE
// task_id = (SELECT ... FOR UPDATE SKIP LOCKED) claim query — the same idiom the rest
// of this pack uses for its dispatch queues. When a Locker is configured,
// it also best-effort-acquires the file locks a claimed task declares,
// releasing them once the task's result is submitted.
type Coordinator struct {
	pool        *pgxpool.Pool
	locker      *filelock.Manager
	lockTimeout time.Duration
	log         *logrus.Entry

	mu     sync.Mutex
	active map[string][]*filelock.Handle // task id -> held file locks
}

// Config configures one Coordinator. Locker may be nil, in which case
// claimed tasks are handed out without any file-lock acquisition.
type Config struct {
	Pool        *pgxpool.Pool
	Locker      *filelock.Manager
	LockTimeout time.Duration
	Log         *logrus.Entry
}

func New(pool *pgxpool.Pool) *Coordinator {
	return NewWithConfig(Config{Pool: pool})
}

// NewWithConfig builds a Coordinator that also drives file-lock
// acquisition for claimed tasks, grounded on the claim query above plus
// filelock.Manager's compatibility-matrix acquisition.
func NewWithConfig(cfg Config) *Coordinator {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultFileLockTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		pool:        cfg.Pool,
		locker:      cfg.Locker,
		lockTimeout: cfg.LockTimeout,
		log:         cfg.Log.WithField("component", "claim"),
		active:      make(map[string][]*filelock.Handle),
	}
}

// GetAndClaimReadyTask selects the oldest READY task (by created_at
// ascending) whose assigned_agent is in capabilities and which has no
// client_id yet, and atomically transitions it to IN_PROGRESS bound to
// clientID. Returns nil, nil if no match exists.
//
// Ordering note: when preferredTaskID is supplied, this runs as a first,
// separate attempt restricted to that id; if it does not match (already
// claimed, wrong status, wrong capability) the code falls through to the
// generic query as a second transaction. This is race-safe — the row
// lock in each transaction still prevents duplicate claims — but it does
// mean the preferred branch and the generic branch are not atomic with
// each other. That ordering quirk is preserved rather than "fixed": see
// DESIGN.md.
func (c *Coordinator) GetAndClaimReadyTask(ctx context.Context, capabilities []string, clientID string, preferredTaskID string) (*store.Task, error) {
	if preferredTaskID != "" {
		task, err := c.claimMatching(ctx, capabilities, clientID, &preferredTaskID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			c.acquireTaskLocks(ctx, task, clientID)
			return task, nil
		}
	}
	task, err := c.claimMatching(ctx, capabilities, clientID, nil)
	if err != nil || task == nil {
		return task, err
	}
	c.acquireTaskLocks(ctx, task, clientID)
	return task, nil
}

// acquireTaskLocks best-effort-acquires the file locks a claimed task
// declares, one per declared path, concurrently via errgroup since a
// task's file dependencies are independent of each other and each
// acquisition can block up to lockTimeout on its own. A timeout here
// never fails the claim: per spec.md section 7, task-declared locks
// downgrade to a logged warning rather than an error, unlike an explicit
// caller-requested lock acquisition.
func (c *Coordinator) acquireTaskLocks(ctx context.Context, task *store.Task, clientID string) {
	if c.locker == nil || len(task.FileDependencies) == 0 {
		return
	}

	var mu sync.Mutex
	var handles []*filelock.Handle

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range task.FileDependencies {
		path := path
		g.Go(func() error {
			h, err := c.locker.AcquireFileLock(gctx, path, task.AccessType, c.lockTimeout, clientID, &task.ID, &task.WorkflowID)
			if err != nil {
				c.log.WithError(err).WithFields(logrus.Fields{"task_id": task.ID, "path": path}).
					Warn("file lock not acquired for claimed task, proceeding without it")
				return nil
			}
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() // every branch returns nil; errors never propagate, only logged

	if len(handles) == 0 {
		return
	}
	c.mu.Lock()
	c.active[task.ID] = handles
	c.mu.Unlock()
}

// ReleaseTaskLocks releases any file locks held on behalf of taskID. Safe
// to call even if no locks were acquired for it.
func (c *Coordinator) ReleaseTaskLocks(taskID string) {
	c.mu.Lock()
	handles := c.active[taskID]
	delete(c.active, taskID)
	c.mu.Unlock()
	for _, h := range handles {
		h.Release()
	}
}

func (c *Coordinator) claimMatching(ctx context.Context, capabilities []string, clientID string, preferredTaskID *string) (*store.Task, error) {
	if len(capabilities) == 0 {
		return nil, nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, store.Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE tasks SET status = $1, client_id = $2, started_at = now(), updated_at = now()
		WHERE task_id = (
			SELECT task_id FROM tasks
			WHERE status = $3 AND assigned_agent = ANY($4) AND client_id IS NULL
			` + preferredClause(preferredTaskID) + `
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, task_id, workflow_id, name, description, assigned_agent, dependencies,
		          file_dependencies, access_type, status, client_id, project_path, started_at,
		          completed_at, created_at, updated_at`

	args := []any{
		string(store.TaskInProgress), clientID, string(store.TaskReady), capabilities,
	}
	if preferredTaskID != nil {
		args = append(args, *preferredTaskID)
	}

	row := tx.QueryRow(ctx, query, args...)
	task, err := scanClaimedTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, tx.Commit(ctx)
		}
		return nil, store.Internal("claim task", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, store.Internal("commit claim", err)
	}
	return task, nil
}

func preferredClause(preferredTaskID *string) string {
	if preferredTaskID == nil {
		return ""
	}
	return "AND task_id = $5"
}

func scanClaimedTask(row pgx.Row) (*store.Task, error) {
	t := &store.Task{}
	var deps, fileDeps []byte
	var accessType string
	err := row.Scan(&t.Key, &t.ID, &t.WorkflowID, &t.Name, &t.Description, &t.AssignedAgent,
		&deps, &fileDeps, &accessType, &t.Status, &t.ClientID, &t.ProjectPath,
		&t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.AccessType = store.AccessType(accessType)
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &t.Dependencies); err != nil {
			return nil, err
		}
	}
	if len(fileDeps) > 0 {
		if err := json.Unmarshal(fileDeps, &t.FileDependencies); err != nil {
			return nil, err
		}
	}
	return t, nil
}
