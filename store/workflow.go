package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SaveTaskGraph allocates a workflow id inside a single transaction,
// rewrites every task's transient in-memory id to a freshly allocated
// sequential task id, rewrites dependency references accordingly, and
// inserts every task row. Never partially persists: any failure rolls
// back the whole graph.
func (s *Store) SaveTaskGraph(ctx context.Context, wf *Workflow) (string, error) {
	if err := validateGraphShape(wf.Tasks); err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	workflowID, err := nextID(ctx, tx, kindWorkflow)
	if err != nil {
		return "", Internal("allocate workflow id", err)
	}
	wf.ID = workflowID
	if wf.Name == "" {
		wf.Name = "Untitled Workflow"
	}
	if wf.Status == "" {
		wf.Status = WorkflowInProgress
	}

	meta, err := marshalJSON(wf.Metadata)
	if err != nil {
		return "", Validation("encode workflow metadata")
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO workflows (workflow_id, project_id, name, status, user_request, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`,
		wf.ID, wf.ProjectID, wf.Name, wf.Status, wf.UserRequest, meta,
	).Scan(&wf.Key, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return "", Internal("insert workflow", err)
	}

	// Map the caller's transient in-memory ids to the freshly allocated
	// sequential task ids so dependency references can be rewritten.
	idMap := make(map[string]string, len(wf.Tasks))
	for _, t := range wf.Tasks {
		taskID, err := nextID(ctx, tx, kindTask)
		if err != nil {
			return "", Internal("allocate task id", err)
		}
		idMap[t.ID] = taskID
	}

	for _, t := range wf.Tasks {
		transientID := t.ID
		t.ID = idMap[transientID]
		t.WorkflowID = wf.ID

		rewritten := make([]string, len(t.Dependencies))
		for i, dep := range t.Dependencies {
			resolved, ok := idMap[dep]
			if !ok {
				return "", Validation(fmt.Sprintf("task %s depends on unknown step %s", transientID, dep))
			}
			rewritten[i] = resolved
		}
		t.Dependencies = rewritten

		if len(t.Dependencies) == 0 {
			t.Status = TaskReady
		} else if t.Status == "" {
			t.Status = TaskPending
		}

		deps, err := marshalJSON(t.Dependencies)
		if err != nil {
			return "", Validation("encode task dependencies")
		}
		fileDeps, err := marshalJSON(t.FileDependencies)
		if err != nil {
			return "", Validation("encode task file dependencies")
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO tasks (task_id, workflow_id, name, description, assigned_agent,
			    dependencies, file_dependencies, access_type, status, project_path)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id, created_at, updated_at`,
			t.ID, t.WorkflowID, t.Name, t.Description, t.AssignedAgent,
			deps, fileDeps, string(t.AccessType), t.Status, t.ProjectPath,
		).Scan(&t.Key, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return "", Internal("insert task", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", Internal("commit task graph", err)
	}
	return wf.ID, nil
}

// validateGraphShape rejects cycles and references to unknown step ids
// before anything is persisted, using the transient ids the caller
// assigned in memory.
func validateGraphShape(tasks []*Task) error {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !known[dep] {
				return Validation(fmt.Sprintf("task %s depends on unknown step %s", t.ID, dep))
			}
		}
	}

	visited := make(map[string]int) // 0 unvisited, 1 in-progress, 2 done
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	var visit func(id string) error
	visit = func(id string) error {
		switch visited[id] {
		case 1:
			return Validation(fmt.Sprintf("circular dependency detected at step %s", id))
		case 2:
			return nil
		}
		visited[id] = 1
		for _, dep := range byID[id].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[id] = 2
		return nil
	}
	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetTaskGraph eager-loads a workflow and all its tasks in one round trip.
func (s *Store) GetTaskGraph(ctx context.Context, workflowID string) (*Workflow, error) {
	wf := &Workflow{}
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, workflow_id, project_id, name, status, user_request, metadata, created_at, updated_at
		 FROM workflows WHERE workflow_id = $1`,
		workflowID,
	).Scan(&wf.Key, &wf.ID, &wf.ProjectID, &wf.Name, &wf.Status, &wf.UserRequest, &meta, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, NotFound(fmt.Sprintf("workflow %s", workflowID))
	}
	wf.Metadata, _ = unmarshalMetadata(meta)

	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, workflow_id, name, description, assigned_agent, dependencies,
		    file_dependencies, access_type, status, client_id, project_path, started_at,
		    completed_at, created_at, updated_at
		 FROM tasks WHERE workflow_id = $1 ORDER BY created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, Internal("load tasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, Internal("scan task", err)
		}
		wf.Tasks = append(wf.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, Internal("iterate tasks", err)
	}
	return wf, nil
}

type pgxRows interface {
	Scan(dest ...any) error
}

func scanTask(rows pgxRows) (*Task, error) {
	t := &Task{}
	var deps, fileDeps []byte
	var accessType string
	err := rows.Scan(&t.Key, &t.ID, &t.WorkflowID, &t.Name, &t.Description, &t.AssignedAgent,
		&deps, &fileDeps, &accessType, &t.Status, &t.ClientID, &t.ProjectPath,
		&t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("unknown task status %q", t.Status)
	}
	t.AccessType = AccessType(accessType)
	if err := unmarshalStrings(deps, &t.Dependencies); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(fileDeps, &t.FileDependencies); err != nil {
		return nil, err
	}
	return t, nil
}

// GetWorkflowStatus returns a lightweight status summary without loading
// every task's full payload.
func (s *Store) GetWorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, map[TaskStatus]int, error) {
	var status WorkflowStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM workflows WHERE workflow_id = $1`, workflowID).Scan(&status)
	if err != nil {
		return "", nil, NotFound(fmt.Sprintf("workflow %s", workflowID))
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM tasks WHERE workflow_id = $1 GROUP BY status`, workflowID)
	if err != nil {
		return "", nil, Internal("count task statuses", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var ts TaskStatus
		var n int
		if err := rows.Scan(&ts, &n); err != nil {
			return "", nil, Internal("scan status count", err)
		}
		counts[ts] = n
	}
	return status, counts, rows.Err()
}

// GetWorkflowResults returns every saved Result for a workflow, ordered by
// completion time.
func (s *Store) GetWorkflowResults(ctx context.Context, workflowID string) ([]*Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, workflow_id, iterations, final_result, source_agent, execution_time, client_id, created_at
		 FROM results WHERE workflow_id = $1 ORDER BY created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, Internal("load workflow results", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r := &Result{}
		var iterRaw []byte
		var execNanos int64
		if err := rows.Scan(&r.TaskID, &r.WorkflowID, &iterRaw, &r.FinalResult, &r.SourceAgent,
			&execNanos, &r.ClientID, &r.CreatedAt); err != nil {
			return nil, Internal("scan result", err)
		}
		r.ExecutionTime = time.Duration(execNanos)
		if r.Iterations, err = unmarshalIterations(iterRaw); err != nil {
			return nil, Internal("decode iterations", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsWorkflowComplete reports whether every task in the workflow is
// COMPLETED (invariant I5).
func (s *Store) IsWorkflowComplete(ctx context.Context, workflowID string) (bool, error) {
	var incomplete int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE workflow_id = $1 AND status != $2`,
		workflowID, TaskCompleted,
	).Scan(&incomplete)
	if err != nil {
		return false, Internal("count incomplete tasks", err)
	}
	return incomplete == 0, nil
}

// UpdateWorkflowStatusIfComplete flips a workflow to COMPLETED when every
// task within it is COMPLETED. On a transition it returns the owning
// project id so the caller can cascade into UpdateProjectStatusIfComplete;
// on no transition (not yet complete, or already completed by a racing
// caller) it returns an empty project id.
func (s *Store) UpdateWorkflowStatusIfComplete(ctx context.Context, workflowID string) (bool, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, "", Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT status FROM tasks WHERE workflow_id = $1 FOR UPDATE`, workflowID)
	if err != nil {
		return false, "", Internal("lock workflow tasks", err)
	}
	allComplete := true
	for rows.Next() {
		var status TaskStatus
		if err := rows.Scan(&status); err != nil {
			rows.Close()
			return false, "", Internal("scan task status", err)
		}
		if status != TaskCompleted {
			allComplete = false
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, "", Internal("iterate workflow tasks", err)
	}
	if !allComplete {
		return false, "", tx.Commit(ctx)
	}

	var projectID string
	err = tx.QueryRow(ctx,
		`UPDATE workflows SET status = $1, updated_at = now() WHERE workflow_id = $2 AND status != $1
		 RETURNING project_id`,
		WorkflowCompleted, workflowID,
	).Scan(&projectID)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Already completed by a racing caller; nothing left to cascade.
			return false, "", tx.Commit(ctx)
		}
		return false, "", Internal("complete workflow", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, "", Internal("commit workflow completion", err)
	}
	return true, projectID, nil
}
