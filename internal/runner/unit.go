// Package runner orchestrates code execution against the execution service.
//
// THE PIPELINE:
// Every run, from the editor or from a notebook cell, goes through the same steps:
//
//	source text
//	  → CountInputCalls      does the code call input()? pause until stdin is supplied
//	  → ResolveSession       attach the notebook's session id (cells only)
//	  → BuildRequest         {code, stdin?, notebook_id?}
//	  → Executor.Execute     remote call, bounded by a client-side timeout
//	  → Demux                split stdout into text and embedded plot artifacts
//	  → Surface display      what the UI renders for this file or cell
//
// The Sequencer drives the pipeline once per code cell for "run all".
//
// SURFACES:
// A Surface is the explicit state record of one runnable thing (an editor file or
// a notebook cell). It owns the Idle/WaitingForInput/Executing state, the pending
// input, and the last display. Nothing in this package keeps global state.
package runner

import (
	"github.com/sakif/notebook-playground/internal/model"
)

// UnitKind distinguishes stateless editor files from stateful notebook cells.
type UnitKind string

const (
	FileKind UnitKind = "file"
	CellKind UnitKind = "cell"
)

// Unit is a named piece of source text to run.
//
// Build one with FileUnit or CellUnit; the constructors are what guarantee that
// only cells can ever carry a session id.
type Unit struct {
	Kind   UnitKind
	ID     string // filename or cell id
	Source string

	notebook *model.Notebook
}

// FileUnit is an editor file. Each run is an independent interpreter invocation.
func FileUnit(filename, source string) Unit {
	return Unit{Kind: FileKind, ID: filename, Source: source}
}

// CellUnit is a notebook cell. Runs share the notebook's interpreter session.
func CellUnit(nb *model.Notebook, cell *model.Cell) Unit {
	return Unit{Kind: CellKind, ID: cell.ID, Source: cell.Source, notebook: nb}
}

// NotebookID returns the owning notebook's id, or "" for files.
func (u Unit) NotebookID() string {
	if u.notebook == nil {
		return ""
	}
	return u.notebook.ID
}

// RunKind maps the unit kind onto the persisted run history kind.
func (u Unit) RunKind() model.RunKind {
	if u.Kind == CellKind {
		return model.RunCell
	}
	return model.RunFile
}
