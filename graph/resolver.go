// Package graph computes task readiness from dependency completion and
// exposes a topological ordering helper for rendering execution plans.
package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmesh/mcs/store"
)

// Resolver translates "task X completed" into "which tasks, if any, are
// now READY". Transitions in this component are one-way PENDING→READY
// only: a READY task is never demoted back to PENDING by this component,
// even in the (invariant-violating) case where a dependency somehow
// became non-complete again.
type Resolver struct {
	pool *pgxpool.Pool
}

// New builds a Resolver over the same pool the store package uses.
func New(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// CheckAndDispatchReadyTasks loads all tasks of the workflow with row
// locks, builds the completed-id set, and flips every PENDING task whose
// dependencies are all complete to READY. Returns the number of
// transitions made.
func (r *Resolver) CheckAndDispatchReadyTasks(ctx context.Context, workflowID string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, store.Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT task_id, status, dependencies FROM tasks WHERE workflow_id = $1 FOR UPDATE`,
		workflowID,
	)
	if err != nil {
		return 0, store.Internal("lock workflow tasks", err)
	}

	type row struct {
		id     string
		status string
		deps   []string
	}
	var all []row
	completed := map[string]bool{}

	for rows.Next() {
		var id, status string
		var depsRaw []byte
		if err := rows.Scan(&id, &status, &depsRaw); err != nil {
			rows.Close()
			return 0, store.Internal("scan task row", err)
		}
		var deps []string
		if len(depsRaw) > 0 {
			if err := json.Unmarshal(depsRaw, &deps); err != nil {
				rows.Close()
				return 0, store.Internal("decode task dependencies", err)
			}
		}
		all = append(all, row{id: id, status: status, deps: deps})
		if status == string(store.TaskCompleted) {
			completed[id] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, store.Internal("iterate workflow tasks", err)
	}

	transitions := 0
	for _, t := range all {
		if t.status != string(store.TaskPending) {
			continue
		}
		ready := true
		for _, dep := range t.deps {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1, updated_at = now() WHERE task_id = $2`,
			string(store.TaskReady), t.id,
		); err != nil {
			return 0, store.Internal(fmt.Sprintf("ready task %s", t.id), err)
		}
		transitions++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, store.Internal("commit readiness propagation", err)
	}
	return transitions, nil
}
