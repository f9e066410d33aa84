package registration

import (
	"context"
	"database/sql"
	"fmt"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
	txcontext "examreg/pkg/platform/tx"
)

// PostgresStore persists registration rows. Only the columns the slot flow
// touches live here; the wider registration workflow owns the rest.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) CreateDraft(ctx context.Context, draft models.RegistrationDraft) (id.RegistrationID, error) {
	query := `
		INSERT INTO student_registrations (coordinator_id, chapter_id, student_name, exam_code, status)
		VALUES ($1, $2, $3, $4, 'draft')
		RETURNING id
	`
	var regID int64
	err := s.execer(ctx).QueryRowContext(ctx, query,
		int64(draft.CoordinatorID), int64(draft.ChapterID), draft.StudentName, draft.ExamCode).Scan(&regID)
	if err != nil {
		return 0, fmt.Errorf("create draft registration: %w", err)
	}
	return id.RegistrationID(regID), nil
}

func (s *PostgresStore) Confirm(ctx context.Context, regID id.RegistrationID) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE student_registrations SET status = 'confirmed' WHERE id = $1`, int64(regID))
	if err != nil {
		return fmt.Errorf("confirm registration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm registration: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, regID id.RegistrationID) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM student_registrations WHERE id = $1`, int64(regID))
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
