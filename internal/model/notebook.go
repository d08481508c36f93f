// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// CellType distinguishes runnable cells from prose.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
)

// Valid reports whether t is one of the known cell types.
func (t CellType) Valid() bool {
	return t == CellCode || t == CellMarkdown
}

// Notebook is an ordered list of cells sharing one interpreter session.
//
// SESSION IDENTITY:
// SessionID is generated exactly once, when the notebook is created, and is
// stored alongside it. Every code cell run sends it as `notebook_id`, which is
// how the execution service knows to keep variables alive between cells.
// Adding, removing or reordering cells never touches it, and resetting the
// notebook clears the remote interpreter but keeps the same id.
type Notebook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"sessionId"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Cells     []*Cell   `json:"cells"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cell is one unit of a notebook. Position is its 0-based index in the notebook.
type Cell struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebookId"`
	Position   int       `json:"position"`
	Type       CellType  `json:"type"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Cell returns the cell with the given id, or nil.
func (n *Notebook) Cell(id string) *Cell {
	for _, c := range n.Cells {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Renumber rewrites Position so it matches slice order.
func (n *Notebook) Renumber() {
	for i, c := range n.Cells {
		c.Position = i
	}
}
