package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/repository"
	"github.com/sakif/notebook-playground/internal/runner"
)

// =========================================================================
// MOCKS
// =========================================================================
//
// Hand-written in-memory fakes for every interface the services depend on.
// They store copies, never the caller's pointers, so a test cannot pass by
// accident because service and "database" share memory.

type mockNotebookRepo struct {
	mu        sync.Mutex
	notebooks map[string]*model.Notebook
	nextID    int
	gets      int // GetNotebook calls, to observe the cache
	saveErr   error
}

func newMockNotebookRepo() *mockNotebookRepo {
	return &mockNotebookRepo{notebooks: make(map[string]*model.Notebook)}
}

func (m *mockNotebookRepo) CreateNotebook(_ context.Context, nb *model.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	nb.ID = fmt.Sprintf("nb-%d", m.nextID)
	nb.CreatedAt = time.Now()
	m.assignCells(nb)
	m.notebooks[nb.ID] = cloneNotebook(nb)
	return nil
}

func (m *mockNotebookRepo) GetNotebook(_ context.Context, id string) (*model.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	nb, ok := m.notebooks[id]
	if !ok {
		return nil, apperror.NotFound("notebook", id)
	}
	return cloneNotebook(nb), nil
}

func (m *mockNotebookRepo) ListNotebooks(_ context.Context, opts repository.ListOptions) ([]model.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Notebook, 0, len(m.notebooks))
	for _, nb := range m.notebooks {
		if opts.OwnerID != "" && nb.OwnerID != opts.OwnerID {
			continue
		}
		out = append(out, *nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockNotebookRepo) UpdateNotebook(_ context.Context, nb *model.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.notebooks[nb.ID]
	if !ok {
		return apperror.NotFound("notebook", nb.ID)
	}
	stored.Name = nb.Name
	return nil
}

func (m *mockNotebookRepo) DeleteNotebook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notebooks[id]; !ok {
		return apperror.NotFound("notebook", id)
	}
	delete(m.notebooks, id)
	return nil
}

func (m *mockNotebookRepo) SaveCells(_ context.Context, nb *model.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.notebooks[nb.ID]
	if !ok {
		return apperror.NotFound("notebook", nb.ID)
	}
	m.assignCells(nb)
	stored.Cells = cloneNotebook(nb).Cells
	return nil
}

func (m *mockNotebookRepo) assignCells(nb *model.Notebook) {
	nb.Renumber()
	for _, c := range nb.Cells {
		if c.ID == "" {
			m.nextID++
			c.ID = fmt.Sprintf("cell-%d", m.nextID)
		}
		c.NotebookID = nb.ID
	}
}

type mockRunRepo struct {
	mu   sync.Mutex
	runs []model.RunRecord
}

func (m *mockRunRepo) RecordRun(_ context.Context, run *model.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(m.runs)+1)
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockRunRepo) ListRuns(_ context.Context, opts repository.RunListOptions) ([]model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RunRecord
	for _, r := range m.runs {
		if opts.NotebookID != "" && r.NotebookID != opts.NotebookID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRunRepo) All() []model.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RunRecord(nil), m.runs...)
}

// mockExecutor answers every request with fn (or an empty success) and
// remembers what it was sent.
type mockExecutor struct {
	mu       sync.Mutex
	requests []executor.ExecutionRequest
	fn       func(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error)
}

func (m *mockExecutor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.fn
	m.mu.Unlock()
	if fn == nil {
		return &executor.ExecutionResult{Success: true, Stdout: "ok"}, nil
	}
	return fn(ctx, req)
}

func (m *mockExecutor) Requests() []executor.ExecutionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]executor.ExecutionRequest(nil), m.requests...)
}

type mockResetter struct {
	mu    sync.Mutex
	reset []string
	err   error
}

func (m *mockResetter) ResetSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reset = append(m.reset, sessionID)
	return nil
}

type mockDatasets struct {
	uploaded map[string][]byte
}

func (m *mockDatasets) Upload(_ context.Context, filename string, r io.Reader) (*executor.UploadedFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if m.uploaded == nil {
		m.uploaded = make(map[string][]byte)
	}
	m.uploaded[filename] = data
	return &executor.UploadedFile{Success: true, Filename: filename, Path: "uploads/" + filename, Size: int64(len(data))}, nil
}

func (m *mockDatasets) DeleteUpload(_ context.Context, filename string) error {
	if _, ok := m.uploaded[filename]; !ok {
		return apperror.NotFound("file", filename)
	}
	delete(m.uploaded, filename)
	return nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type notebookFixture struct {
	svc      *NotebookService
	repo     *mockNotebookRepo
	runs     *mockRunRepo
	exec     *mockExecutor
	resetter *mockResetter
}

func newNotebookFixture(t *testing.T) *notebookFixture {
	t.Helper()
	f := &notebookFixture{
		repo:     newMockNotebookRepo(),
		runs:     &mockRunRepo{},
		exec:     &mockExecutor{},
		resetter: &mockResetter{},
	}
	logger := testLogger()
	dispatcher := runner.NewDispatcher(f.exec, time.Second, nil, logger)
	sequencer := runner.NewSequencer(dispatcher, 0, logger)
	svc, err := NewNotebookService(f.repo, NewHistoryService(f.runs, logger), dispatcher, sequencer, f.resetter, 8, logger)
	if err != nil {
		t.Fatalf("NewNotebookService() error = %v", err)
	}
	f.svc = svc
	return f
}

func codeCells(sources ...string) []*model.Cell {
	cells := make([]*model.Cell, len(sources))
	for i, src := range sources {
		cells[i] = &model.Cell{Type: model.CellCode, Source: src}
	}
	return cells
}
