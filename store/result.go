package store

import "context"

// SaveTaskResult locates the task row with a row-level lock, inserts the
// result, and flips task status to COMPLETED, stamping completed_at.
// Returns false (no error) if the task does not exist, distinguishing
// "not found" from an exceptional failure per the persistence layer's
// documented failure semantics.
func (s *Store) SaveTaskResult(ctx context.Context, r *Result) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var currentStatus TaskStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM tasks WHERE task_id = $1 FOR UPDATE`,
		r.TaskID,
	).Scan(&currentStatus)
	if err != nil {
		return false, nil
	}

	iterations, err := marshalJSON(r.Iterations)
	if err != nil {
		return false, Validation("encode result iterations")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO results (task_id, workflow_id, iterations, final_result, source_agent, execution_time, client_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (task_id) DO UPDATE SET
		    iterations = EXCLUDED.iterations, final_result = EXCLUDED.final_result,
		    source_agent = EXCLUDED.source_agent, execution_time = EXCLUDED.execution_time,
		    client_id = EXCLUDED.client_id, created_at = now()`,
		r.TaskID, r.WorkflowID, iterations, r.FinalResult, r.SourceAgent, r.ExecutionTime.Nanoseconds(), r.ClientID,
	); err != nil {
		return false, Internal("insert result", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, completed_at = now(), updated_at = now() WHERE task_id = $2`,
		TaskCompleted, r.TaskID,
	); err != nil {
		return false, Internal("complete task", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, Internal("commit task result", err)
	}
	return true, nil
}
