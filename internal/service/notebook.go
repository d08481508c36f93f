package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/repository"
	"github.com/sakif/notebook-playground/internal/runner"
)

// DefaultNotebookCacheSize bounds how many notebooks are kept in memory.
const DefaultNotebookCacheSize = 256

// NotebookService manages notebooks and runs their cells.
//
// KEY CONCEPTS:
//
//  1. ONE SURFACE PER CELL:
//     Every cell gets its own runner.Surface the first time it is touched. The
//     surface is what enforces "one execution per cell at a time" and holds the
//     cell's last output.
//
//  2. COPY-ON-WRITE NOTEBOOKS:
//     Notebooks read through a bounded LRU cache. Edits clone the cached
//     notebook, save the clone, and swap it in. A cell run or run-all batch
//     that already holds the old pointer keeps a consistent view.
//
//  3. SINGLEFLIGHT:
//     When many requests miss the cache for the same notebook at once (say,
//     every cell of a freshly opened notebook is run), only one of them goes to
//     the database and the rest share its result.
//
//  4. OWNERSHIP:
//     owner is the authenticated subject, or "" when auth is disabled. A
//     notebook created with an owner can only be touched by that owner.
type NotebookService struct {
	repo       repository.NotebookRepository
	history    *HistoryService
	dispatcher *runner.Dispatcher
	sequencer  *runner.Sequencer
	resetter   executor.SessionResetter
	logger     *slog.Logger

	cache *lru.Cache[string, *model.Notebook]
	group singleflight.Group

	// editMu serialises structural edits so two concurrent edits cannot both
	// clone the same version and lose one of the changes.
	editMu sync.Mutex

	mu       sync.Mutex
	surfaces map[string]*runner.Surface // by cell ID
	batches  map[string]struct{}        // notebooks with a run-all in progress
}

// NewNotebookService creates a NotebookService. cacheSize <= 0 means
// DefaultNotebookCacheSize.
func NewNotebookService(
	repo repository.NotebookRepository,
	history *HistoryService,
	dispatcher *runner.Dispatcher,
	sequencer *runner.Sequencer,
	resetter executor.SessionResetter,
	cacheSize int,
	logger *slog.Logger,
) (*NotebookService, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultNotebookCacheSize
	}
	cache, err := lru.New[string, *model.Notebook](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating notebook cache: %w", err)
	}

	return &NotebookService{
		repo:       repo,
		history:    history,
		dispatcher: dispatcher,
		sequencer:  sequencer,
		resetter:   resetter,
		logger:     logger,
		cache:      cache,
		surfaces:   make(map[string]*runner.Surface),
		batches:    make(map[string]struct{}),
	}, nil
}

// =========================================================================
// NOTEBOOK CRUD
// =========================================================================

// CreateNotebook validates and saves a new notebook with the given cells.
//
// The session id is minted here, exactly once. Nothing else in the service
// ever assigns it.
func (s *NotebookService) CreateNotebook(ctx context.Context, owner, name string, cells []*model.Cell) (*model.Notebook, error) {
	name, err := validateNotebookName(name)
	if err != nil {
		return nil, err
	}

	nb := &model.Notebook{
		Name:      name,
		SessionID: runner.NewSessionID(),
		OwnerID:   owner,
		Cells:     make([]*model.Cell, 0, len(cells)),
	}
	for _, c := range cells {
		if err := validateCell(c.Type, c.Source); err != nil {
			return nil, err
		}
		nb.Cells = append(nb.Cells, &model.Cell{Type: c.Type, Source: c.Source})
	}

	if err := s.repo.CreateNotebook(ctx, nb); err != nil {
		s.logger.Error("failed to create notebook",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating notebook: %w", err)
	}

	s.cache.Add(nb.ID, nb)
	s.logger.Info("notebook created",
		slog.String("id", nb.ID),
		slog.String("session", nb.SessionID),
		slog.Int("cells", len(nb.Cells)),
	)
	return cloneNotebook(nb), nil
}

// GetNotebook returns a copy of the notebook the caller may modify freely.
func (s *NotebookService) GetNotebook(ctx context.Context, owner, id string) (*model.Notebook, error) {
	nb, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return cloneNotebook(nb), nil
}

// ListNotebooks pages through the owner's notebooks, newest first.
func (s *NotebookService) ListNotebooks(ctx context.Context, owner string, limit, offset int) ([]model.Notebook, error) {
	limit, offset = clampPage(limit, offset)
	notebooks, err := s.repo.ListNotebooks(ctx, repository.ListOptions{
		Limit:   limit,
		Offset:  offset,
		OwnerID: owner,
	})
	if err != nil {
		return nil, fmt.Errorf("listing notebooks: %w", err)
	}
	return notebooks, nil
}

// RenameNotebook changes a notebook's name. Its session is untouched.
func (s *NotebookService) RenameNotebook(ctx context.Context, owner, id, name string) (*model.Notebook, error) {
	name, err := validateNotebookName(name)
	if err != nil {
		return nil, err
	}

	s.editMu.Lock()
	defer s.editMu.Unlock()

	current, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	nb := cloneNotebook(current)
	nb.Name = name
	if err := s.repo.UpdateNotebook(ctx, nb); err != nil {
		s.cache.Remove(nb.ID)
		return nil, fmt.Errorf("renaming notebook: %w", err)
	}
	s.cache.Add(nb.ID, nb)
	return cloneNotebook(nb), nil
}

// DeleteNotebook removes a notebook. It is refused while any of its cells is
// executing. The remote session is released on a best-effort basis.
func (s *NotebookService) DeleteNotebook(ctx context.Context, owner, id string) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	nb, err := s.authorized(ctx, owner, id)
	if err != nil {
		return err
	}
	if s.busy(nb) {
		return apperror.Busy("notebook " + id)
	}

	if err := s.repo.DeleteNotebook(ctx, id); err != nil {
		return fmt.Errorf("deleting notebook: %w", err)
	}
	s.cache.Remove(id)
	s.dropSurfaces(nb.Cells...)

	if s.resetter != nil {
		if err := s.resetter.ResetSession(ctx, nb.SessionID); err != nil {
			s.logger.Warn("could not release session of deleted notebook",
				slog.String("id", id),
				slog.String("session", nb.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("notebook deleted", slog.String("id", id))
	return nil
}

// =========================================================================
// CELL EDITING
// =========================================================================

// AddCell inserts a cell at position, or appends it when position is out of
// range (including -1).
func (s *NotebookService) AddCell(ctx context.Context, owner, id string, typ model.CellType, source string, position int) (*model.Cell, error) {
	if typ == "" {
		typ = model.CellCode
	}
	if err := validateCell(typ, source); err != nil {
		return nil, err
	}

	cell := &model.Cell{Type: typ, Source: source}
	_, err := s.edit(ctx, owner, id, func(nb *model.Notebook) error {
		if position < 0 || position >= len(nb.Cells) {
			nb.Cells = append(nb.Cells, cell)
			return nil
		}
		nb.Cells = append(nb.Cells[:position], append([]*model.Cell{cell}, nb.Cells[position:]...)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c := *cell
	return &c, nil
}

// UpdateCell replaces a cell's source and, when typ is set, its type.
func (s *NotebookService) UpdateCell(ctx context.Context, owner, id, cellID string, typ model.CellType, source string) (*model.Cell, error) {
	var updated model.Cell
	_, err := s.edit(ctx, owner, id, func(nb *model.Notebook) error {
		cell := nb.Cell(cellID)
		if cell == nil {
			return apperror.NotFound("cell", cellID)
		}
		if typ == "" {
			typ = cell.Type
		}
		if err := validateCell(typ, source); err != nil {
			return err
		}
		cell.Type = typ
		cell.Source = source
		updated = *cell
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCell removes a cell. An execution already in flight for it still
// completes, but its output has nowhere to go.
func (s *NotebookService) DeleteCell(ctx context.Context, owner, id, cellID string) error {
	var removed *model.Cell
	_, err := s.edit(ctx, owner, id, func(nb *model.Notebook) error {
		for i, c := range nb.Cells {
			if c.ID == cellID {
				removed = c
				nb.Cells = append(nb.Cells[:i], nb.Cells[i+1:]...)
				return nil
			}
		}
		return apperror.NotFound("cell", cellID)
	})
	if err != nil {
		return err
	}
	s.dropSurfaces(removed)
	return nil
}

// MoveCell moves a cell to position, clamped to the notebook's bounds.
func (s *NotebookService) MoveCell(ctx context.Context, owner, id, cellID string, position int) (*model.Notebook, error) {
	nb, err := s.edit(ctx, owner, id, func(nb *model.Notebook) error {
		from := -1
		for i, c := range nb.Cells {
			if c.ID == cellID {
				from = i
				break
			}
		}
		if from < 0 {
			return apperror.NotFound("cell", cellID)
		}
		if position < 0 {
			position = 0
		}
		if position >= len(nb.Cells) {
			position = len(nb.Cells) - 1
		}
		cell := nb.Cells[from]
		nb.Cells = append(nb.Cells[:from], nb.Cells[from+1:]...)
		nb.Cells = append(nb.Cells[:position], append([]*model.Cell{cell}, nb.Cells[position:]...)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneNotebook(nb), nil
}

// edit applies fn to a private copy of the notebook, saves the cells and
// publishes the copy.
func (s *NotebookService) edit(ctx context.Context, owner, id string, fn func(nb *model.Notebook) error) (*model.Notebook, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	current, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	nb := cloneNotebook(current)
	if err := fn(nb); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCells(ctx, nb); err != nil {
		s.cache.Remove(id)
		s.logger.Error("failed to save cells",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving cells: %w", err)
	}
	s.cache.Add(id, nb)
	return nb, nil
}

// =========================================================================
// EXECUTION
// =========================================================================

// RunCell executes one code cell in the notebook's session. When stdin is
// non-nil it is stored as the cell's collected input before the run.
//
// Running a cell that is already executing returns apperror.ErrBusy; callers
// are expected to treat that as a silent no-op.
func (s *NotebookService) RunCell(ctx context.Context, owner, id, cellID string, stdin *string) (runner.Report, error) {
	nb, cell, err := s.codeCell(ctx, owner, id, cellID)
	if err != nil {
		return runner.Report{}, err
	}
	surface := s.surface(cell.ID)

	if stdin != nil {
		if err := s.dispatcher.SupplyInput(surface, *stdin); err != nil {
			return runner.Report{}, err
		}
	}

	unit := runner.CellUnit(nb, cell)
	rep, err := s.dispatcher.Run(ctx, surface, unit)
	if err != nil {
		return rep, err
	}
	s.history.Record(ctx, unit, rep)
	return rep, nil
}

// SupplyInput stores stdin for the cell's next run.
func (s *NotebookService) SupplyInput(ctx context.Context, owner, id, cellID, stdin string) error {
	_, cell, err := s.codeCell(ctx, owner, id, cellID)
	if err != nil {
		return err
	}
	return s.dispatcher.SupplyInput(s.surface(cell.ID), stdin)
}

// CancelInput abandons a pending input prompt. It reports whether anything was
// pending.
func (s *NotebookService) CancelInput(ctx context.Context, owner, id, cellID string) (bool, error) {
	_, cell, err := s.codeCell(ctx, owner, id, cellID)
	if err != nil {
		return false, err
	}
	return s.dispatcher.CancelInput(s.surface(cell.ID)), nil
}

// RunAll executes every code cell in order. Only one batch per notebook may
// run at a time; a second request gets apperror.ErrBusy.
func (s *NotebookService) RunAll(ctx context.Context, owner, id string) ([]runner.CellReport, error) {
	nb, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, running := s.batches[id]; running {
		s.mu.Unlock()
		return nil, apperror.Busy("notebook " + id)
	}
	s.batches[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.batches, id)
		s.mu.Unlock()
	}()

	s.logger.Info("run all started", slog.String("id", id), slog.Int("cells", len(nb.Cells)))

	reports := s.sequencer.RunAll(ctx, nb, func(c *model.Cell) *runner.Surface {
		return s.surface(c.ID)
	})
	for _, cr := range reports {
		if cr.Rejected {
			continue
		}
		if cell := nb.Cell(cr.CellID); cell != nil {
			s.history.Record(ctx, runner.CellUnit(nb, cell), cr.Report)
		}
	}

	s.logger.Info("run all finished", slog.String("id", id), slog.Int("attempted", len(reports)))
	return reports, nil
}

// ResetNotebook clears the remote interpreter state behind the notebook and
// wipes cell displays. The session id stays the same, so the next cell run
// starts from a fresh namespace under the same identity.
//
// Cells that are executing keep their display; their result lands after the
// reset.
func (s *NotebookService) ResetNotebook(ctx context.Context, owner, id string) error {
	nb, err := s.authorized(ctx, owner, id)
	if err != nil {
		return err
	}

	if s.resetter != nil {
		if err := s.resetter.ResetSession(ctx, nb.SessionID); err != nil {
			return fmt.Errorf("resetting session: %w", err)
		}
	}

	for _, c := range nb.Cells {
		if surface := s.existingSurface(c.ID); surface != nil {
			s.dispatcher.Clear(surface)
		}
	}

	s.logger.Info("notebook reset",
		slog.String("id", id),
		slog.String("session", nb.SessionID),
	)
	return nil
}

// Snapshots returns the state of every cell in notebook order. Cells that
// were never run report an idle, empty surface.
func (s *NotebookService) Snapshots(ctx context.Context, owner, id string) ([]runner.Snapshot, error) {
	nb, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	out := make([]runner.Snapshot, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		if surface := s.existingSurface(c.ID); surface != nil {
			out = append(out, surface.Snapshot())
			continue
		}
		out = append(out, runner.NewSurface(c.ID, runner.CellKind).Snapshot())
	}
	return out, nil
}

// =========================================================================
// INTERNALS
// =========================================================================

// load reads a notebook through the cache. The result is shared: never
// modify it, clone it first.
func (s *NotebookService) load(ctx context.Context, id string) (*model.Notebook, error) {
	id, err := requireID("id", id)
	if err != nil {
		return nil, err
	}
	if nb, ok := s.cache.Get(id); ok {
		return nb, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		nb, err := s.repo.GetNotebook(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, nb)
		return nb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Notebook), nil
}

func (s *NotebookService) authorized(ctx context.Context, owner, id string) (*model.Notebook, error) {
	nb, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != "" && nb.OwnerID != "" && nb.OwnerID != owner {
		return nil, apperror.Forbidden("you do not have access to this notebook")
	}
	return nb, nil
}

func (s *NotebookService) codeCell(ctx context.Context, owner, id, cellID string) (*model.Notebook, *model.Cell, error) {
	nb, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	cell := nb.Cell(cellID)
	if cell == nil {
		return nil, nil, apperror.NotFound("cell", cellID)
	}
	if cell.Type != model.CellCode {
		return nil, nil, apperror.ValidationFailed("type", "only code cells can be run")
	}
	return nb, cell, nil
}

func (s *NotebookService) surface(cellID string) *runner.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	surface, ok := s.surfaces[cellID]
	if !ok {
		surface = runner.NewSurface(cellID, runner.CellKind)
		s.surfaces[cellID] = surface
	}
	return surface
}

func (s *NotebookService) existingSurface(cellID string) *runner.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaces[cellID]
}

func (s *NotebookService) dropSurfaces(cells ...*model.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cells {
		if c != nil {
			delete(s.surfaces, c.ID)
		}
	}
}

// busy reports whether a batch or any cell of nb is executing.
func (s *NotebookService) busy(nb *model.Notebook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[nb.ID]; ok {
		return true
	}
	for _, c := range nb.Cells {
		if surface, ok := s.surfaces[c.ID]; ok && surface.Snapshot().Executing {
			return true
		}
	}
	return false
}

func validateNotebookName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("name", "notebook name is required")
	}
	if len(name) > MaxNotebookNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("notebook name must be %d characters or less", MaxNotebookNameLength))
	}
	return name, nil
}

func validateCell(typ model.CellType, source string) error {
	if !typ.Valid() {
		return apperror.ValidationFailed("type", fmt.Sprintf("unknown cell type %q", typ))
	}
	return validateSource(source)
}

func cloneNotebook(nb *model.Notebook) *model.Notebook {
	c := *nb
	c.Cells = make([]*model.Cell, len(nb.Cells))
	for i, cell := range nb.Cells {
		cc := *cell
		c.Cells[i] = &cc
	}
	return &c
}
