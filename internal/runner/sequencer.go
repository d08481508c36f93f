package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/model"
)

// DefaultSettleDelay separates consecutive cells in a run-all batch.
const DefaultSettleDelay = 300 * time.Millisecond

// SurfaceSource returns the surface that owns a cell.
type SurfaceSource func(cell *model.Cell) *Surface

// CellReport is the per-cell result of a batch. Rejected is set when the cell
// was already executing on its own and the batch left it alone.
type CellReport struct {
	CellID   string `json:"cellId"`
	Report   Report `json:"report"`
	Rejected bool   `json:"rejected,omitempty"`
}

// Sequencer runs a notebook's code cells one after another.
type Sequencer struct {
	dispatcher *Dispatcher
	delay      time.Duration
	logger     *slog.Logger
}

// NewSequencer creates a Sequencer. A negative delay is treated as zero.
func NewSequencer(d *Dispatcher, delay time.Duration, logger *slog.Logger) *Sequencer {
	if delay < 0 {
		delay = 0
	}
	return &Sequencer{dispatcher: d, delay: delay, logger: logger}
}

// RunAll executes every code cell of nb in declared order.
//
// ORDERING:
// Cells share one interpreter session, so the batch approximates a single
// timeline: each cell waits for the previous one to finish, then for the
// settling delay, before it is sent. Markdown cells are skipped. A failed cell
// is recorded in its own surface and the batch moves on; there is no batch-level
// success or failure. The result has one entry per attempted code cell.
//
// Cancelling ctx stops the batch before the next cell. A request already in
// flight is left to finish.
func (q *Sequencer) RunAll(ctx context.Context, nb *model.Notebook, surfaces SurfaceSource) []CellReport {
	cells := make([]*model.Cell, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		if c.Type == model.CellCode {
			cells = append(cells, c)
		}
	}

	reports := make([]CellReport, 0, len(cells))
	for i, cell := range cells {
		if i > 0 && !q.settle(ctx) {
			q.logger.Info("run all interrupted",
				slog.String("notebook", nb.ID),
				slog.Int("attempted", len(reports)),
				slog.Int("total", len(cells)),
			)
			break
		}

		// The batch context only gates the start of a cell; the request
		// itself is bounded by the dispatcher's timeout.
		rep, err := q.dispatcher.Run(context.WithoutCancel(ctx), surfaces(cell), CellUnit(nb, cell))
		cr := CellReport{CellID: cell.ID, Report: rep}
		if errors.Is(err, apperror.ErrBusy) {
			cr.Rejected = true
		}
		reports = append(reports, cr)
	}
	return reports
}

// settle waits for the delay or until ctx is done. It reports whether the
// batch should continue.
func (q *Sequencer) settle(ctx context.Context) bool {
	if q.delay == 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(q.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
