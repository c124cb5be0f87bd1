// Package store exposes typed CRUD and transactional primitives for every
// entity in the task-graph schema, hiding the relational store behind a
// Postgres-backed Store type.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Store wraps a pgx connection pool with the typed operations every other
// component in this server depends on.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// NewPool opens a pgx connection pool against connString and verifies
// connectivity before returning, mirroring the teacher's NewPostgresDB
// eager-ping pattern.
func NewPool(ctx context.Context, connString string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// New builds a Store over an already-opened pool.
func New(pool *pgxpool.Pool, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{pool: pool, log: log.WithField("component", "store")}
}

// Pool exposes the underlying pool for advanced operations such as the
// claim coordinator's row-locking query, following the teacher's
// "exposed for advanced operations" convention in db/postgres_pgx.go.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS id_counters (
	kind  TEXT PRIMARY KEY,
	value BIGINT NOT NULL DEFAULT 0
);
INSERT INTO id_counters (kind, value) VALUES ('project', 0), ('workflow', 0), ('task', 0)
	ON CONFLICT (kind) DO NOTHING;

CREATE TABLE IF NOT EXISTS projects (
	id         BIGSERIAL PRIMARY KEY,
	project_id TEXT UNIQUE NOT NULL,
	name       TEXT NOT NULL,
	path       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflows (
	id           BIGSERIAL PRIMARY KEY,
	workflow_id  TEXT UNIQUE NOT NULL,
	project_id   TEXT NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
	name         TEXT NOT NULL DEFAULT 'Untitled Workflow',
	status       TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	user_request TEXT NOT NULL DEFAULT '',
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_workflows_project ON workflows(project_id);

CREATE TABLE IF NOT EXISTS tasks (
	id                BIGSERIAL PRIMARY KEY,
	task_id           TEXT UNIQUE NOT NULL,
	workflow_id       TEXT NOT NULL REFERENCES workflows(workflow_id) ON DELETE CASCADE,
	name              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	assigned_agent    TEXT NOT NULL,
	dependencies      JSONB NOT NULL DEFAULT '[]',
	file_dependencies JSONB NOT NULL DEFAULT '[]',
	access_type       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'PENDING',
	client_id         TEXT,
	project_path      TEXT NOT NULL DEFAULT '',
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_workflow ON tasks(workflow_id);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, assigned_agent, created_at);

CREATE TABLE IF NOT EXISTS results (
	id             BIGSERIAL PRIMARY KEY,
	task_id        TEXT UNIQUE NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
	workflow_id    TEXT NOT NULL,
	iterations     JSONB NOT NULL DEFAULT '[]',
	final_result   TEXT NOT NULL DEFAULT '',
	source_agent   TEXT NOT NULL,
	execution_time BIGINT NOT NULL DEFAULT 0,
	client_id      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_reports (
	id                 BIGSERIAL PRIMARY KEY,
	workflow_id        TEXT NOT NULL REFERENCES workflows(workflow_id) ON DELETE CASCADE,
	is_successful      BOOLEAN NOT NULL,
	feedback           TEXT NOT NULL DEFAULT '',
	rework_suggestions JSONB NOT NULL DEFAULT '[]',
	confidence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	reviewed_task_ids  JSONB NOT NULL DEFAULT '[]',
	audit_criteria     JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_workflow ON audit_reports(workflow_id);

CREATE TABLE IF NOT EXISTS file_lock_records (
	id          BIGSERIAL PRIMARY KEY,
	path        TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	task_id     TEXT,
	workflow_id TEXT,
	access_type TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ,
	active      BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS idx_file_lock_path_active ON file_lock_records(path, active);
`

// EnsureSchema creates every table this server needs if it does not exist
// yet, the way cklxx's PostgresStore.EnsureSchema seeds its dispatch table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
