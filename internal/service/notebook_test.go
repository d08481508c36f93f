package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/runner"
)

// =========================================================================
// CRUD
// =========================================================================

func TestCreateNotebook(t *testing.T) {
	f := newNotebookFixture(t)

	nb, err := f.svc.CreateNotebook(context.Background(), "", "  Analysis  ", codeCells("x = 1", "print(x)"))
	require.NoError(t, err)

	assert.NotEmpty(t, nb.ID)
	assert.Equal(t, "Analysis", nb.Name)
	assert.True(t, strings.HasPrefix(nb.SessionID, "nb_"))
	require.Len(t, nb.Cells, 2)
	assert.NotEmpty(t, nb.Cells[0].ID)
}

func TestCreateNotebook_Validation(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateNotebook(ctx, "", "   ", nil)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.CreateNotebook(ctx, "", strings.Repeat("a", MaxNotebookNameLength+1), nil)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.CreateNotebook(ctx, "", "ok", []*model.Cell{{Type: "raw", Source: ""}})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestGetNotebook_UsesCache(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "cached", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.GetNotebook(ctx, "", nb.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, f.repo.gets, "freshly created notebooks are served from the cache")
}

func TestGetNotebook_ConcurrentMisses(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "cold", nil)
	require.NoError(t, err)
	f.svc.cache.Purge()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GetNotebook(ctx, "", nb.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.LessOrEqual(t, f.repo.gets, 10)
	assert.GreaterOrEqual(t, f.repo.gets, 1)
}

func TestGetNotebook_ReturnsCopy(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "copy", codeCells("a"))
	require.NoError(t, err)

	got, err := f.svc.GetNotebook(ctx, "", nb.ID)
	require.NoError(t, err)
	got.Cells[0].Source = "mutated"

	again, err := f.svc.GetNotebook(ctx, "", nb.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Cells[0].Source)
}

func TestOwnerChecks(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "alice", "private", codeCells("x"))
	require.NoError(t, err)

	_, err = f.svc.GetNotebook(ctx, "bob", nb.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.svc.RunCell(ctx, "bob", nb.ID, nb.Cells[0].ID, nil)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.svc.GetNotebook(ctx, "alice", nb.ID)
	assert.NoError(t, err)

	// auth disabled: no owner is checked
	_, err = f.svc.GetNotebook(ctx, "", nb.ID)
	assert.NoError(t, err)

	list, err := f.svc.ListNotebooks(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRenameNotebook_KeepsSession(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "before", nil)
	require.NoError(t, err)

	renamed, err := f.svc.RenameNotebook(ctx, "", nb.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "after", renamed.Name)
	assert.Equal(t, nb.SessionID, renamed.SessionID)
}

func TestDeleteNotebook(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "gone", codeCells("x"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteNotebook(ctx, "", nb.ID))

	_, err = f.svc.GetNotebook(ctx, "", nb.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, []string{nb.SessionID}, f.resetter.reset)
}

func TestDeleteNotebook_RemoteResetFailureIsNotFatal(t *testing.T) {
	f := newNotebookFixture(t)
	f.resetter.err = apperror.Transport(errors.New("down"))
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "gone", nil)
	require.NoError(t, err)

	assert.NoError(t, f.svc.DeleteNotebook(ctx, "", nb.ID))
}

// =========================================================================
// CELL EDITING
// =========================================================================

func TestCellEditing_SessionNeverChanges(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "edits", codeCells("a", "b"))
	require.NoError(t, err)

	added, err := f.svc.AddCell(ctx, "", nb.ID, model.CellMarkdown, "# title", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	require.NoError(t, f.svc.DeleteCell(ctx, "", nb.ID, nb.Cells[0].ID))

	moved, err := f.svc.MoveCell(ctx, "", nb.ID, added.ID, 99)
	require.NoError(t, err)

	var sources []string
	for _, c := range moved.Cells {
		sources = append(sources, c.Source)
		assert.Equal(t, len(sources)-1, c.Position)
	}
	assert.Equal(t, []string{"b", "# title"}, sources)
	assert.Equal(t, nb.SessionID, moved.SessionID)
}

func TestAddCell_AppendsByDefault(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "append", codeCells("a"))
	require.NoError(t, err)

	_, err = f.svc.AddCell(ctx, "", nb.ID, "", "b", -1)
	require.NoError(t, err)

	got, err := f.svc.GetNotebook(ctx, "", nb.ID)
	require.NoError(t, err)
	require.Len(t, got.Cells, 2)
	assert.Equal(t, "b", got.Cells[1].Source)
	assert.Equal(t, model.CellCode, got.Cells[1].Type)
}

func TestUpdateCell(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "update", codeCells("a"))
	require.NoError(t, err)
	cellID := nb.Cells[0].ID

	cell, err := f.svc.UpdateCell(ctx, "", nb.ID, cellID, "", "b = 2")
	require.NoError(t, err)
	assert.Equal(t, "b = 2", cell.Source)
	assert.Equal(t, model.CellCode, cell.Type)

	_, err = f.svc.UpdateCell(ctx, "", nb.ID, "missing", "", "x")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.UpdateCell(ctx, "", nb.ID, cellID, "bogus", "x")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestEdit_SaveFailureLeavesNotebookUnchanged(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "stable", codeCells("a"))
	require.NoError(t, err)

	f.repo.saveErr = errors.New("disk full")
	_, err = f.svc.AddCell(ctx, "", nb.ID, model.CellCode, "b", -1)
	require.Error(t, err)
	f.repo.saveErr = nil

	got, err := f.svc.GetNotebook(ctx, "", nb.ID)
	require.NoError(t, err)
	assert.Len(t, got.Cells, 1)
}

// =========================================================================
// EXECUTION
// =========================================================================

func TestRunCell_SendsSession(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "run", codeCells("x = 1", "print(x)"))
	require.NoError(t, err)

	for _, c := range nb.Cells {
		rep, err := f.svc.RunCell(ctx, "", nb.ID, c.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, runner.StateSucceeded, rep.State)
	}

	// Adding a cell must not change what later runs send.
	added, err := f.svc.AddCell(ctx, "", nb.ID, model.CellCode, "y = 2", 0)
	require.NoError(t, err)
	_, err = f.svc.RunCell(ctx, "", nb.ID, added.ID, nil)
	require.NoError(t, err)

	reqs := f.exec.Requests()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		assert.Equal(t, nb.SessionID, r.NotebookID)
	}

	runs := f.runs.All()
	require.Len(t, runs, 3)
	assert.Equal(t, model.RunCell, runs[0].Kind)
	assert.Equal(t, nb.ID, runs[0].NotebookID)
}

func TestRunCell_MarkdownRejected(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "md", []*model.Cell{{Type: model.CellMarkdown, Source: "# hi"}})
	require.NoError(t, err)

	_, err = f.svc.RunCell(ctx, "", nb.ID, nb.Cells[0].ID, nil)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Empty(t, f.exec.Requests())
}

func TestRunCell_InputRoundTrip(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "input", codeCells("name = input()"))
	require.NoError(t, err)
	cellID := nb.Cells[0].ID

	rep, err := f.svc.RunCell(ctx, "", nb.ID, cellID, nil)
	require.NoError(t, err)
	assert.Equal(t, runner.StateWaitingForInput, rep.State)
	assert.Empty(t, f.runs.All(), "a paused run is not history")

	stdin := "Ada"
	rep, err = f.svc.RunCell(ctx, "", nb.ID, cellID, &stdin)
	require.NoError(t, err)
	assert.Equal(t, runner.StateSucceeded, rep.State)

	reqs := f.exec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Ada", reqs[0].Stdin)
}

func TestCancelInput(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "cancel", codeCells("input()"))
	require.NoError(t, err)
	cellID := nb.Cells[0].ID

	_, err = f.svc.RunCell(ctx, "", nb.ID, cellID, nil)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelInput(ctx, "", nb.ID, cellID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	snaps, err := f.svc.Snapshots(ctx, "", nb.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, runner.StateIdle, snaps[0].State)
}

func TestRunAll(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	cells := []*model.Cell{
		{Type: model.CellCode, Source: "a = 1"},
		{Type: model.CellMarkdown, Source: "# middle"},
		{Type: model.CellCode, Source: "print(a)"},
	}
	nb, err := f.svc.CreateNotebook(ctx, "", "all", cells)
	require.NoError(t, err)

	reports, err := f.svc.RunAll(ctx, "", nb.ID)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	reqs := f.exec.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "a = 1", reqs[0].Code)
	assert.Equal(t, "print(a)", reqs[1].Code)
	assert.Len(t, f.runs.All(), 2)
}

func TestRunAll_OneBatchAtATime(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "batch", codeCells("slow()"))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	f.exec.fn = func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		close(started)
		<-release
		return &executor.ExecutionResult{Success: true}, nil
	}

	done := make(chan error)
	go func() {
		_, err := f.svc.RunAll(ctx, "", nb.ID)
		done <- err
	}()
	<-started

	_, err = f.svc.RunAll(ctx, "", nb.ID)
	assert.ErrorIs(t, err, apperror.ErrBusy)

	err = f.svc.DeleteNotebook(ctx, "", nb.ID)
	assert.ErrorIs(t, err, apperror.ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestResetNotebook(t *testing.T) {
	f := newNotebookFixture(t)
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "reset", codeCells("print(1)"))
	require.NoError(t, err)

	_, err = f.svc.RunCell(ctx, "", nb.ID, nb.Cells[0].ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetNotebook(ctx, "", nb.ID))
	assert.Equal(t, []string{nb.SessionID}, f.resetter.reset)

	snaps, err := f.svc.Snapshots(ctx, "", nb.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps[0].Display.Text)

	got, err := f.svc.GetNotebook(ctx, "", nb.ID)
	require.NoError(t, err)
	assert.Equal(t, nb.SessionID, got.SessionID, "reset keeps the session id")
}

func TestResetNotebook_RemoteFailure(t *testing.T) {
	f := newNotebookFixture(t)
	f.resetter.err = apperror.Transport(errors.New("refused"))
	ctx := context.Background()
	nb, err := f.svc.CreateNotebook(ctx, "", "reset", nil)
	require.NoError(t, err)

	err = f.svc.ResetNotebook(ctx, "", nb.ID)
	assert.ErrorIs(t, err, apperror.ErrTransport)
}
