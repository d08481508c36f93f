package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

// RecordRun appends one entry to the execution history.
func (db *DB) RecordRun(ctx context.Context, run *model.RunRecord) error {
	run.ID = xid.New().String()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, kind, surface_id, notebook_id, session_id, outcome, elapsed_ms, artifacts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.SurfaceID, run.NotebookID, run.SessionID,
		run.Outcome, run.Elapsed.Milliseconds(), run.Artifacts, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: recording run: %w", err)
	}
	return nil
}

// ListRuns returns history newest first, filtered by opts.
func (db *DB) ListRuns(ctx context.Context, opts repository.RunListOptions) ([]model.RunRecord, error) {
	limit, offset := pageBounds(opts.Limit, opts.Offset)

	query := `SELECT id, kind, surface_id, notebook_id, session_id, outcome, elapsed_ms, artifacts, created_at
		FROM runs WHERE 1 = 1`
	args := []any{}
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, opts.Kind)
	}
	if opts.NotebookID != "" {
		query += ` AND notebook_id = ?`
		args = append(args, opts.NotebookID)
	}
	if opts.SurfaceID != "" {
		query += ` AND surface_id = ?`
		args = append(args, opts.SurfaceID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.RunRecord, 0, limit)
	for rows.Next() {
		var (
			r         model.RunRecord
			elapsedMS int64
		)
		if err := rows.Scan(
			&r.ID, &r.Kind, &r.SurfaceID, &r.NotebookID, &r.SessionID,
			&r.Outcome, &elapsedMS, &r.Artifacts, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}

	return runs, nil
}
