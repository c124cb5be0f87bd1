package store

import (
	"context"
	"fmt"
)

// CreateProject mints a new project row and its sequential identifier.
// Idempotency by name within a window is explicitly not required by the
// calling contract: every call creates a fresh project.
func (s *Store) CreateProject(ctx context.Context, name string) (*Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	id, err := nextID(ctx, tx, kindProject)
	if err != nil {
		return nil, Internal("allocate project id", err)
	}

	p := &Project{ID: id, Name: name, Status: ProjectInProgress}
	err = tx.QueryRow(ctx,
		`INSERT INTO projects (project_id, name, status) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		p.ID, p.Name, p.Status,
	).Scan(&p.Key, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, Internal("insert project", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("commit project", err)
	}
	return p, nil
}

// SetProjectPath persists the resolved on-disk project directory once the
// lifecycle controller has created it.
func (s *Store) SetProjectPath(ctx context.Context, projectID, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET path = $1, updated_at = now() WHERE project_id = $2`,
		path, projectID,
	)
	if err != nil {
		return Internal("update project path", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound(fmt.Sprintf("project %s", projectID))
	}
	return nil
}

// GetProject loads a single project by its external id.
func (s *Store) GetProject(ctx context.Context, projectID string) (*Project, error) {
	p := &Project{}
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, path, status, metadata, created_at, updated_at
		 FROM projects WHERE project_id = $1`,
		projectID,
	).Scan(&p.Key, &p.ID, &p.Name, &p.Path, &p.Status, &meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, NotFound(fmt.Sprintf("project %s", projectID))
	}
	p.Metadata, _ = unmarshalMetadata(meta)
	return p, nil
}

// UpdateProjectStatusIfComplete flips a project to COMPLETED when every one
// of its workflows is COMPLETED. Called as the tail of the cascade
// triggered by a task completion.
func (s *Store) UpdateProjectStatusIfComplete(ctx context.Context, projectID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, Internal("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT status FROM workflows WHERE project_id = $1 FOR UPDATE`,
		projectID,
	)
	if err != nil {
		return false, Internal("lock project workflows", err)
	}
	allComplete := true
	for rows.Next() {
		var status WorkflowStatus
		if err := rows.Scan(&status); err != nil {
			rows.Close()
			return false, Internal("scan workflow status", err)
		}
		if status != WorkflowCompleted {
			allComplete = false
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, Internal("iterate project workflows", err)
	}
	if !allComplete {
		return false, tx.Commit(ctx)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = now() WHERE project_id = $2 AND status != $1`,
		ProjectCompleted, projectID,
	)
	if err != nil {
		return false, Internal("complete project", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, Internal("commit project completion", err)
	}
	return tag.RowsAffected() > 0, nil
}
