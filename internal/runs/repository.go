package runs

import (
	"context"
	"database/sql"
	"time"
)

// Repository stores runs.
type Repository interface {
	Create(ctx context.Context, run *Run) error
	UpdateState(ctx context.Context, id, state string) error
	Finish(ctx context.Context, id string, outcome Outcome) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	CountByState(ctx context.Context) (map[string]int, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, input_source, output_type, state, error_kind, error_detail,
	artifact_type, duration_ms, created_at, updated_at, finished_at`

func (r *SQLiteRepository) Create(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, input_source, output_type, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.InputSource, run.OutputType, run.State,
		run.CreatedAt.Format(timeLayout), run.UpdatedAt.Format(timeLayout))
	return err
}

func (r *SQLiteRepository) UpdateState(ctx context.Context, id, state string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE runs SET state = ?, updated_at = ? WHERE id = ?",
		state, time.Now().UTC().Format(timeLayout), id)
	return err
}

func (r *SQLiteRepository) Finish(ctx context.Context, id string, o Outcome) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, error_kind = ?, error_detail = ?, artifact_type = ?,
			duration_ms = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, o.State, o.ErrorKind, o.ErrorDetail, o.ArtifactType, o.Duration.Milliseconds(), now, now, id)
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM runs GROUP BY state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var createdAt, updatedAt string
	var finishedAt sql.NullString

	err := s.Scan(&run.ID, &run.InputSource, &run.OutputType, &run.State, &run.ErrorKind,
		&run.ErrorDetail, &run.ArtifactType, &run.DurationMS, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}
