// Package repository declares the storage interfaces the services depend on.
// The sqlite package implements them; tests swap in in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/notebook-playground/internal/model"
)

// ListOptions pages through notebooks. An empty OwnerID lists everyone's.
type ListOptions struct {
	Limit   int
	Offset  int
	OwnerID string
}

// RunListOptions filters execution history. Zero values match everything.
type RunListOptions struct {
	Limit      int
	Offset     int
	Kind       model.RunKind
	NotebookID string
	SurfaceID  string
}

// NotebookRepository persists notebooks and their cells.
//
// Cells are written as a whole: SaveCells replaces a notebook's cell list in
// one transaction, so positions can never be half-updated.
type NotebookRepository interface {
	CreateNotebook(ctx context.Context, nb *model.Notebook) error
	GetNotebook(ctx context.Context, id string) (*model.Notebook, error)
	ListNotebooks(ctx context.Context, opts ListOptions) ([]model.Notebook, error)
	UpdateNotebook(ctx context.Context, nb *model.Notebook) error
	DeleteNotebook(ctx context.Context, id string) error
	SaveCells(ctx context.Context, nb *model.Notebook) error
}

// RunRepository records execution history.
type RunRepository interface {
	RecordRun(ctx context.Context, run *model.RunRecord) error
	ListRuns(ctx context.Context, opts RunListOptions) ([]model.RunRecord, error)
}
