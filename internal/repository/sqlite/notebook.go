package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/repository"
)

var _ repository.NotebookRepository = (*DB)(nil)

// CreateNotebook inserts a notebook and its initial cells.
//
// The notebook ID is generated here; SessionID must already be set by the
// caller, because it is a property of the notebook rather than of its row.
func (db *DB) CreateNotebook(ctx context.Context, nb *model.Notebook) error {
	if nb.SessionID == "" {
		return apperror.ValidationFailed("sessionId", "session id must be set before saving")
	}

	nb.ID = xid.New().String()
	now := time.Now()
	nb.CreatedAt = now
	nb.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO notebooks (id, name, session_id, owner_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			nb.ID, nb.Name, nb.SessionID, nb.OwnerID, nb.CreatedAt, nb.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating notebook: %w", err)
		}
		return insertCells(ctx, tx, nb, now)
	})
}

// GetNotebook loads a notebook with its cells in position order.
func (db *DB) GetNotebook(ctx context.Context, id string) (*model.Notebook, error) {
	var nb model.Notebook
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, session_id, owner_id, created_at, updated_at
		 FROM notebooks
		 WHERE id = ?`,
		id,
	).Scan(&nb.ID, &nb.Name, &nb.SessionID, &nb.OwnerID, &nb.CreatedAt, &nb.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("notebook", id)
		}
		return nil, fmt.Errorf("sqlite: getting notebook %s: %w", id, err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, notebook_id, position, type, source, created_at, updated_at
		 FROM cells
		 WHERE notebook_id = ?
		 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cells of %s: %w", id, err)
	}
	defer rows.Close()

	nb.Cells = make([]*model.Cell, 0)
	for rows.Next() {
		var c model.Cell
		if err := rows.Scan(
			&c.ID, &c.NotebookID, &c.Position, &c.Type, &c.Source,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning cell row: %w", err)
		}
		nb.Cells = append(nb.Cells, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cells: %w", err)
	}

	return &nb, nil
}

// ListNotebooks returns notebooks newest first, without their cells.
func (db *DB) ListNotebooks(ctx context.Context, opts repository.ListOptions) ([]model.Notebook, error) {
	limit, offset := pageBounds(opts.Limit, opts.Offset)

	query := `SELECT id, name, session_id, owner_id, created_at, updated_at FROM notebooks`
	args := []any{}
	if opts.OwnerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, opts.OwnerID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing notebooks: %w", err)
	}
	defer rows.Close()

	notebooks := make([]model.Notebook, 0, limit)
	for rows.Next() {
		var nb model.Notebook
		if err := rows.Scan(
			&nb.ID, &nb.Name, &nb.SessionID, &nb.OwnerID,
			&nb.CreatedAt, &nb.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning notebook row: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating notebooks: %w", err)
	}

	return notebooks, nil
}

// UpdateNotebook saves the notebook's name. SessionID and owner are immutable.
func (db *DB) UpdateNotebook(ctx context.Context, nb *model.Notebook) error {
	nb.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE notebooks SET name = ?, updated_at = ? WHERE id = ?`,
		nb.Name, nb.UpdatedAt, nb.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating notebook %s: %w", nb.ID, err)
	}
	return expectOneRow(result, "notebook", nb.ID)
}

// DeleteNotebook removes a notebook and its cells.
func (db *DB) DeleteNotebook(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE notebook_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting cells of %s: %w", id, err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting notebook %s: %w", id, err)
		}
		return expectOneRow(result, "notebook", id)
	})
}

// SaveCells replaces the stored cell list with nb.Cells.
//
// Positions are rewritten from slice order, and cells without an ID get one,
// so callers can insert, delete and reorder in memory and save once.
func (db *DB) SaveCells(ctx context.Context, nb *model.Notebook) error {
	now := time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE notebooks SET updated_at = ? WHERE id = ?`, now, nb.ID)
		if err != nil {
			return fmt.Errorf("sqlite: touching notebook %s: %w", nb.ID, err)
		}
		if err := expectOneRow(result, "notebook", nb.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE notebook_id = ?`, nb.ID); err != nil {
			return fmt.Errorf("sqlite: clearing cells of %s: %w", nb.ID, err)
		}
		if err := insertCells(ctx, tx, nb, now); err != nil {
			return err
		}
		nb.UpdatedAt = now
		return nil
	})
}

func insertCells(ctx context.Context, tx *sql.Tx, nb *model.Notebook, now time.Time) error {
	nb.Renumber()
	for _, c := range nb.Cells {
		if c.ID == "" {
			c.ID = xid.New().String()
			c.CreatedAt = now
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
		c.NotebookID = nb.ID

		_, err := tx.ExecContext(ctx,
			`INSERT INTO cells (id, notebook_id, position, type, source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.NotebookID, c.Position, c.Type, c.Source, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting cell %s: %w", c.ID, err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

// pageBounds applies the default (20) and maximum (100) page size.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
