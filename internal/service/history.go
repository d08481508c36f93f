package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/repository"
	"github.com/sakif/notebook-playground/internal/runner"
)

// HistoryService records and lists finished executions.
type HistoryService struct {
	repo   repository.RunRepository
	logger *slog.Logger
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(repo repository.RunRepository, logger *slog.Logger) *HistoryService {
	return &HistoryService{repo: repo, logger: logger}
}

// Record stores a dispatched report. Reports that never reached the service
// (waiting for input) are ignored. A failure to record is logged, not returned:
// history must never turn a finished run into an error. A nil HistoryService
// records nothing.
func (h *HistoryService) Record(ctx context.Context, unit runner.Unit, rep runner.Report) {
	if h == nil || !rep.Dispatched() {
		return
	}
	run := &model.RunRecord{
		Kind:       unit.RunKind(),
		SurfaceID:  rep.SurfaceID,
		NotebookID: rep.NotebookID,
		SessionID:  rep.SessionID,
		Outcome:    rep.Outcome,
		Elapsed:    rep.Elapsed,
		Artifacts:  len(rep.Display.Artifacts),
	}
	if err := h.repo.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		h.logger.Warn("failed to record run",
			slog.String("surface", rep.SurfaceID),
			slog.String("error", err.Error()),
		)
	}
}

// List returns execution history, newest first.
func (h *HistoryService) List(ctx context.Context, opts repository.RunListOptions) ([]model.RunRecord, error) {
	opts.Limit, opts.Offset = clampPage(opts.Limit, opts.Offset)
	runs, err := h.repo.ListRuns(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
