package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// idKind names a counter row; also doubles as the identifier prefix.
type idKind string

const (
	kindProject  idKind = "project"
	kindWorkflow idKind = "workflow"
	kindTask     idKind = "task"
)

var idFormat = map[idKind]struct {
	prefix string
	width  int
}{
	kindProject:  {"PID", 6},
	kindWorkflow: {"WID", 8},
	kindTask:     {"TID", 10},
}

// nextID advances the counter row for kind inside tx and returns the
// formatted sequential identifier. Ids are only ever minted inside the
// transaction that consumes them, resolving the "PID_PENDING" placeholder
// dance flagged in the source design notes.
func nextID(ctx context.Context, tx pgx.Tx, kind idKind) (string, error) {
	var value int64
	err := tx.QueryRow(ctx,
		`UPDATE id_counters SET value = value + 1 WHERE kind = $1 RETURNING value`,
		string(kind),
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("advance %s counter: %w", kind, err)
	}
	f := idFormat[kind]
	return fmt.Sprintf("%s%0*d", f.prefix, f.width, value), nil
}
