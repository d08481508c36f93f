package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
	"github.com/sakif/notebook-playground/internal/metrics"
	"github.com/sakif/notebook-playground/internal/model"
)

// DefaultTimeout is the client-side ceiling for one run. It must stay above the
// execution service's own 120s limit.
const DefaultTimeout = 130 * time.Second

// Observer is told about every surface transition. The websocket hub
// implements it to push state to the browser.
type Observer interface {
	SurfaceChanged(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) SurfaceChanged(s Snapshot) { f(s) }

// Report is the outcome of one Run call.
type Report struct {
	SurfaceID  string           `json:"surfaceId"`
	Kind       UnitKind         `json:"kind"`
	NotebookID string           `json:"notebookId,omitempty"`
	SessionID  string           `json:"sessionId,omitempty"`
	State      State            `json:"state"` // waiting_for_input, succeeded or failed
	Outcome    model.RunOutcome `json:"outcome,omitempty"`
	Display    Display          `json:"display"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// Dispatched reports whether a request was actually sent.
func (r Report) Dispatched() bool {
	return r.State == StateSucceeded || r.State == StateFailed
}

// Dispatcher builds execution requests, sends them, and folds the results back
// into surfaces.
type Dispatcher struct {
	exec     executor.Executor
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. A zero timeout means DefaultTimeout;
// observer may be nil.
func NewDispatcher(exec executor.Executor, timeout time.Duration, observer Observer, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		exec:     exec,
		timeout:  timeout,
		observer: observer,
		logger:   logger,
	}
}

// Timeout returns the per-request ceiling.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// BuildRequest assembles the wire request for u. Only cells carry a session.
func BuildRequest(u Unit, stdin string) executor.ExecutionRequest {
	return executor.ExecutionRequest{
		Code:       u.Source,
		Stdin:      stdin,
		NotebookID: ResolveSession(u),
	}
}

// Run executes u on surface s.
//
// OUTCOMES:
//   - s is already executing: nothing happens, and an apperror.ErrBusy error is
//     returned for the caller to ignore.
//   - the code calls input() and no stdin was collected: s moves to
//     WaitingForInput, no request is sent, Report.State says so.
//   - otherwise the request is sent and the Report carries the display. Timeouts,
//     transport failures and remote errors all end up in Report.Display; they are
//     never returned as errors.
//
// The in-flight slot is released on every path, panics included.
func (d *Dispatcher) Run(ctx context.Context, s *Surface, u Unit) (Report, error) {
	adm, stdin, snap := s.admit(u.Source)

	switch adm {
	case admitRejected:
		metrics.DispatchRejectedTotal.WithLabelValues(string(u.Kind)).Inc()
		d.logger.Debug("dispatch rejected, surface busy",
			slog.String("surface", s.ID()),
			slog.String("kind", string(u.Kind)),
		)
		return Report{}, apperror.Busy(string(u.Kind) + " " + s.ID())

	case admitWaiting:
		metrics.InputRequiredTotal.WithLabelValues(string(u.Kind)).Inc()
		d.notify(snap)
		return Report{
			SurfaceID:  s.ID(),
			Kind:       u.Kind,
			NotebookID: u.NotebookID(),
			SessionID:  ResolveSession(u),
			State:      StateWaitingForInput,
			Display:    snap.Display,
		}, nil
	}

	d.notify(snap)
	return d.dispatch(ctx, s, u, stdin), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Surface, u Unit, stdin string) (rep Report) {
	req := BuildRequest(u, stdin)
	rep = Report{
		SurfaceID:  s.ID(),
		Kind:       u.Kind,
		NotebookID: u.NotebookID(),
		SessionID:  req.NotebookID,
	}

	metrics.ExecutionsInFlight.Inc()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("execution panicked",
				slog.String("surface", s.ID()),
				slog.Any("panic", r),
			)
			rep.State = StateFailed
			rep.Outcome = model.OutcomeTransport
			rep.Display = Display{
				Error:   fmt.Sprintf("Unexpected error while executing: %v", r),
				Failure: FailureTransport,
			}
		}
		wall := time.Since(start)
		if rep.Elapsed == 0 {
			rep.Elapsed = wall
		}

		snap := s.complete(rep.Display, rep.State, rep.Elapsed)
		metrics.ExecutionsInFlight.Dec()
		metrics.ExecutionsTotal.WithLabelValues(string(u.Kind), string(rep.Outcome)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(u.Kind)).Observe(wall.Seconds())
		metrics.ArtifactsTotal.Add(float64(len(rep.Display.Artifacts)))
		d.notify(snap)

		d.logger.Info("execution finished",
			slog.String("surface", s.ID()),
			slog.String("kind", string(u.Kind)),
			slog.String("outcome", string(rep.Outcome)),
			slog.Duration("elapsed", rep.Elapsed),
			slog.Int("artifacts", len(rep.Display.Artifacts)),
		)
	}()

	// Once sent, a request runs to completion or to the timeout. The caller
	// going away does not cancel it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	res, err := d.exec.Execute(ctx, req)
	rep.Display, rep.State, rep.Outcome = d.interpret(res, err)
	if res != nil && res.ExecutionTime > 0 {
		rep.Elapsed = time.Duration(res.ExecutionTime * float64(time.Second))
	}
	return rep
}

// interpret turns a result or error into what the surface should display.
func (d *Dispatcher) interpret(res *executor.ExecutionResult, err error) (Display, State, model.RunOutcome) {
	switch {
	case err != nil && (errors.Is(err, apperror.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)):
		return Display{
			Error:   fmt.Sprintf("Execution timed out after %s. The code may contain an infinite loop or a very long-running operation.", d.timeout),
			Failure: FailureTimeout,
		}, StateFailed, model.OutcomeTimeout

	case err != nil:
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrTransport) {
			appErr = apperror.Transport(err)
		}
		return Display{Error: appErr.Message, Failure: FailureTransport}, StateFailed, model.OutcomeTransport

	case res == nil:
		return Display{
			Error:   apperror.Transport(errors.New("empty response")).Message,
			Failure: FailureTransport,
		}, StateFailed, model.OutcomeTransport

	case !res.Success:
		stderr := res.Stderr
		if stderr == "" {
			stderr = "Execution failed without error output."
		}
		return Display{Error: apperror.RemoteFailure(stderr).Message, Failure: FailureRemote}, StateFailed, model.OutcomeFailed
	}

	text, artifacts := Demux(res.Stdout)
	return Display{Text: text, Artifacts: artifacts}, StateSucceeded, model.OutcomeSucceeded
}

// SupplyInput stores stdin for the next run of s.
func (d *Dispatcher) SupplyInput(s *Surface, text string) error {
	if err := s.supplyInput(text); err != nil {
		return err
	}
	d.notify(s.Snapshot())
	return nil
}

// CancelInput discards pending input; a waiting surface returns to Idle.
func (d *Dispatcher) CancelInput(s *Surface) bool {
	if !s.cancelInput() {
		return false
	}
	d.notify(s.Snapshot())
	return true
}

// Clear wipes the display of an idle surface.
func (d *Dispatcher) Clear(s *Surface) bool {
	if !s.clear() {
		return false
	}
	d.notify(s.Snapshot())
	return true
}

func (d *Dispatcher) notify(s Snapshot) {
	if d.observer != nil {
		d.observer.SurfaceChanged(s)
	}
}
