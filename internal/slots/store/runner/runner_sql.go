package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"examreg/pkg/platform/sentinel"
	txcontext "examreg/pkg/platform/tx"
)

// SQLRunner runs a function inside a database transaction. The transaction is
// injected into the context so every store touched by fn rides the same tx.
type SQLRunner struct {
	db *sql.DB
}

func NewSQL(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback tx: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyCommitErr(err)
	}
	return nil
}

// classifyCommitErr maps serialization and deadlock failures to ErrConflict so
// callers can retry the whole unit of work.
func classifyCommitErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "serialization_failure", "deadlock_detected":
			return fmt.Errorf("commit tx: %w", sentinel.ErrConflict)
		}
	}
	return fmt.Errorf("commit tx: %w", err)
}
