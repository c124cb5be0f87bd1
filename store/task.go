package store

import (
	"context"
	"fmt"
)

// GetTask loads a single task by its external id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_id, workflow_id, name, description, assigned_agent, dependencies,
		    file_dependencies, access_type, status, client_id, project_path, started_at,
		    completed_at, created_at, updated_at
		 FROM tasks WHERE task_id = $1`,
		taskID,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, NotFound(fmt.Sprintf("task %s", taskID))
	}
	return t, nil
}

// ActiveTasksByClient returns the task ids currently IN_PROGRESS, grouped
// by the client_id holding each claim, for the worker-status view.
func (s *Store) ActiveTasksByClient(ctx context.Context) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, task_id FROM tasks WHERE status = $1 AND client_id IS NOT NULL ORDER BY client_id, created_at`,
		TaskInProgress,
	)
	if err != nil {
		return nil, Internal("query active tasks", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var clientID, taskID string
		if err := rows.Scan(&clientID, &taskID); err != nil {
			return nil, Internal("scan active task", err)
		}
		out[clientID] = append(out[clientID], taskID)
	}
	if err := rows.Err(); err != nil {
		return nil, Internal("iterate active tasks", err)
	}
	return out, nil
}

// ResetTasksForRework sets every COMPLETED task in the workflow back to
// PENDING, clears client/started/completed, re-marks dependency-free tasks
// READY, and appends rework info to workflow metadata. Idempotent (P3):
// the metadata append only happens when the COMPLETED-task reset actually
// changed a row, so invoking this twice in succession — the second call
// finds no COMPLETED tasks left — leaves the workflow in the same state
// as one invocation instead of growing rework_history on every retry.
func (s *Store) ResetTasksForRework(ctx context.Context, workflowID string, suggestions []string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workflows WHERE workflow_id = $1)`, workflowID).Scan(&exists); err != nil {
		return false, Internal("check workflow exists", err)
	}
	if !exists {
		return false, nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, client_id = NULL, started_at = NULL, completed_at = NULL, updated_at = now()
		 WHERE workflow_id = $2 AND status = $3`,
		TaskPending, workflowID, TaskCompleted,
	)
	if err != nil {
		return false, Internal("reset completed tasks", err)
	}

	if tag.RowsAffected() == 0 {
		return true, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = now()
		 WHERE workflow_id = $2 AND status = $3 AND dependencies = '[]'::jsonb`,
		TaskReady, workflowID, TaskPending,
	); err != nil {
		return false, Internal("re-ready initial tasks", err)
	}

	var metaRaw []byte
	if err := tx.QueryRow(ctx, `SELECT metadata FROM workflows WHERE workflow_id = $1 FOR UPDATE`, workflowID).Scan(&metaRaw); err != nil {
		return false, Internal("lock workflow metadata", err)
	}
	meta, err := unmarshalMetadata(metaRaw)
	if err != nil {
		return false, Internal("decode workflow metadata", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	history, _ := meta["rework_history"].([]any)
	history = append(history, map[string]any{
		"suggestions": suggestions,
		"round":       len(history) + 1,
	})
	meta["rework_history"] = history

	newMeta, err := marshalJSON(meta)
	if err != nil {
		return false, Internal("encode workflow metadata", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE workflows SET metadata = $1, updated_at = now() WHERE workflow_id = $2`,
		newMeta, workflowID,
	); err != nil {
		return false, Internal("persist rework metadata", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, Internal("commit rework reset", err)
	}
	return true, nil
}
