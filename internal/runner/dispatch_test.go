package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
	"github.com/sakif/notebook-playground/internal/model"
)

// fakeExecutor records every request and answers with fn.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []executor.ExecutionRequest
	fn       func(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.fn == nil {
		return &executor.ExecutionResult{Success: true}, nil
	}
	return f.fn(ctx, req)
}

func (f *fakeExecutor) Requests() []executor.ExecutionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.ExecutionRequest(nil), f.requests...)
}

func stdoutResult(stdout string) func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	return func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		return &executor.ExecutionResult{Success: true, Stdout: stdout}, nil
	}
}

// recorder is an Observer that keeps every snapshot it sees.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) SurfaceChanged(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.State
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(exec executor.Executor, timeout time.Duration) (*Dispatcher, *recorder) {
	rec := &recorder{}
	return NewDispatcher(exec, timeout, rec, testLogger()), rec
}

func testNotebook() *model.Notebook {
	return &model.Notebook{
		ID:        "nb1",
		SessionID: "nb_session",
		Cells: []*model.Cell{
			{ID: "c1", Type: model.CellCode, Source: "x = 1"},
			{ID: "c2", Type: model.CellMarkdown, Source: "# notes"},
			{ID: "c3", Type: model.CellCode, Source: "print(x)"},
		},
	}
}

func TestDispatcher_FileRun(t *testing.T) {
	exec := &fakeExecutor{fn: stdoutResult("hi\n__GRAPH_0__QUJD__GRAPH_END__\n")}
	d, rec := newTestDispatcher(exec, time.Second)
	s := NewSurface("main.py", FileKind)

	rep, err := d.Run(context.Background(), s, FileUnit("main.py", "print('hi')"))
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, rep.State)
	assert.Equal(t, model.OutcomeSucceeded, rep.Outcome)
	assert.Equal(t, "hi", rep.Display.Text)
	assert.Equal(t, []Artifact{{Ordinal: 0, Data: "QUJD"}}, rep.Display.Artifacts)
	assert.Empty(t, rep.SessionID)
	assert.True(t, rep.Dispatched())

	reqs := exec.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].NotebookID)

	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, StateSucceeded, snap.LastOutcome)
	assert.Equal(t, 1, snap.Runs)
	assert.Equal(t, []State{StateExecuting, StateIdle}, rec.States())
}

func TestDispatcher_CellsShareSession(t *testing.T) {
	exec := &fakeExecutor{}
	d, _ := newTestDispatcher(exec, time.Second)
	nb := testNotebook()
	s1 := NewSurface("c1", CellKind)
	s3 := NewSurface("c3", CellKind)

	for i := 0; i < 2; i++ {
		_, err := d.Run(context.Background(), s1, CellUnit(nb, nb.Cells[0]))
		require.NoError(t, err)
		_, err = d.Run(context.Background(), s3, CellUnit(nb, nb.Cells[2]))
		require.NoError(t, err)
	}

	reqs := exec.Requests()
	require.Len(t, reqs, 4)
	for _, r := range reqs {
		assert.Equal(t, "nb_session", r.NotebookID)
	}
}

func TestDispatcher_InputFlow(t *testing.T) {
	exec := &fakeExecutor{}
	d, _ := newTestDispatcher(exec, time.Second)
	s := NewSurface("main.py", FileKind)
	unit := FileUnit("main.py", "a = input()\nb = input()\nprint(a, b)")

	rep, err := d.Run(context.Background(), s, unit)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForInput, rep.State)
	assert.False(t, rep.Dispatched())
	assert.Contains(t, rep.Display.Notice, "requires 2 inputs")
	assert.Empty(t, exec.Requests(), "nothing is sent while waiting for input")

	snap := s.Snapshot()
	require.NotNil(t, snap.Pending)
	assert.Equal(t, 2, snap.Pending.Required)

	require.NoError(t, d.SupplyInput(s, "3\n4"))

	rep, err = d.Run(context.Background(), s, unit)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, rep.State)

	reqs := exec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "3\n4", reqs[0].Stdin)
	assert.Nil(t, s.Snapshot().Pending, "collected input is consumed by the dispatch")
}

func TestDispatcher_CancelInput(t *testing.T) {
	d, _ := newTestDispatcher(&fakeExecutor{}, time.Second)
	s := NewSurface("main.py", FileKind)

	_, err := d.Run(context.Background(), s, FileUnit("main.py", "input()"))
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForInput, s.Snapshot().State)

	assert.True(t, d.CancelInput(s))
	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Pending)
	assert.Empty(t, snap.Display.Notice)

	assert.False(t, d.CancelInput(s), "nothing left to cancel")
}

func TestDispatcher_RejectsWhileExecuting(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, _ executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		close(started)
		<-release
		return &executor.ExecutionResult{Success: true, Stdout: "done"}, nil
	}}
	d, _ := newTestDispatcher(exec, time.Second)
	s := NewSurface("main.py", FileKind)
	unit := FileUnit("main.py", "import time; time.sleep(1)")

	done := make(chan Report)
	go func() {
		rep, _ := d.Run(context.Background(), s, unit)
		done <- rep
	}()
	<-started

	assert.True(t, s.Snapshot().Executing)

	_, err := d.Run(context.Background(), s, unit)
	assert.ErrorIs(t, err, apperror.ErrBusy)

	assert.ErrorIs(t, d.SupplyInput(s, "x"), apperror.ErrBusy)

	close(release)
	rep := <-done
	assert.Equal(t, "done", rep.Display.Text)
	assert.Len(t, exec.Requests(), 1)
	assert.False(t, s.Snapshot().Executing)
}

func TestDispatcher_OtherSurfacesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	exec := &fakeExecutor{fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		started <- struct{}{}
		<-release
		return &executor.ExecutionResult{Success: true}, nil
	}}
	d, _ := newTestDispatcher(exec, time.Second)

	var wg sync.WaitGroup
	for _, name := range []string{"a.py", "b.py"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := d.Run(context.Background(), NewSurface(name, FileKind), FileUnit(name, "pass"))
			assert.NoError(t, err)
		}(name)
	}
	<-started
	<-started
	close(release)
	wg.Wait()

	assert.Len(t, exec.Requests(), 2)
}

func TestDispatcher_FailuresAreDistinguishable(t *testing.T) {
	tests := []struct {
		name        string
		fn          func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error)
		wantFailure FailureKind
		wantOutcome model.RunOutcome
		wantError   string
	}{
		{
			name: "timeout",
			fn: func(ctx context.Context, _ executor.ExecutionRequest) (*executor.ExecutionResult, error) {
				<-ctx.Done()
				return nil, apperror.Timeout(ctx.Err())
			},
			wantFailure: FailureTimeout,
			wantOutcome: model.OutcomeTimeout,
			wantError:   "timed out",
		},
		{
			name: "transport",
			fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
				return nil, apperror.Transport(errors.New("connection refused"))
			},
			wantFailure: FailureTransport,
			wantOutcome: model.OutcomeTransport,
			wantError:   "Could not reach the execution service",
		},
		{
			name: "remote error",
			fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
				return &executor.ExecutionResult{Success: false, Stderr: "NameError: name 'y' is not defined"}, nil
			},
			wantFailure: FailureRemote,
			wantOutcome: model.OutcomeFailed,
			wantError:   "NameError: name 'y' is not defined",
		},
		{
			name: "remote error without stderr",
			fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
				return &executor.ExecutionResult{Success: false}, nil
			},
			wantFailure: FailureRemote,
			wantOutcome: model.OutcomeFailed,
			wantError:   "Execution failed without error output.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDispatcher(&fakeExecutor{fn: tt.fn}, 20*time.Millisecond)
			s := NewSurface("main.py", FileKind)

			rep, err := d.Run(context.Background(), s, FileUnit("main.py", "y"))
			require.NoError(t, err)

			assert.Equal(t, StateFailed, rep.State)
			assert.Equal(t, tt.wantFailure, rep.Display.Failure)
			assert.Equal(t, tt.wantOutcome, rep.Outcome)
			assert.Contains(t, rep.Display.Error, tt.wantError)

			snap := s.Snapshot()
			assert.False(t, snap.Executing)
			assert.Equal(t, StateFailed, snap.LastOutcome)
		})
	}
}

func TestDispatcher_CallerCancelDoesNotAbortRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan struct{})
	exec := &fakeExecutor{fn: func(reqCtx context.Context, _ executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		close(sent)
		select {
		case <-reqCtx.Done():
			return nil, apperror.Timeout(reqCtx.Err())
		case <-time.After(100 * time.Millisecond):
			return &executor.ExecutionResult{Success: true, Stdout: "done\n"}, nil
		}
	}}
	d, _ := newTestDispatcher(exec, time.Second)
	s := NewSurface("main.py", FileKind)

	go func() {
		<-sent
		cancel()
	}()

	rep, err := d.Run(ctx, s, FileUnit("main.py", "print('done')"))
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, StateSucceeded, rep.State)
	assert.Equal(t, "done\n", rep.Display.Text)
	assert.Empty(t, rep.Display.Failure)
}

func TestDispatcher_TimeoutStillApplies(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, _ executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		<-ctx.Done()
		return nil, apperror.Timeout(ctx.Err())
	}}
	d, _ := newTestDispatcher(exec, 20*time.Millisecond)

	rep, err := d.Run(context.Background(), NewSurface("main.py", FileKind), FileUnit("main.py", "while True: pass"))
	require.NoError(t, err)
	assert.Equal(t, FailureTimeout, rep.Display.Failure)
}

func TestDispatcher_PanicReleasesSurface(t *testing.T) {
	calls := 0
	exec := &fakeExecutor{fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return &executor.ExecutionResult{Success: true, Stdout: "ok"}, nil
	}}
	d, _ := newTestDispatcher(exec, time.Second)
	s := NewSurface("main.py", FileKind)

	rep, err := d.Run(context.Background(), s, FileUnit("main.py", "print(1)"))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rep.State)
	assert.Contains(t, rep.Display.Error, "boom")
	assert.False(t, s.Snapshot().Executing)

	rep, err = d.Run(context.Background(), s, FileUnit("main.py", "print(1)"))
	require.NoError(t, err)
	assert.Equal(t, "ok", rep.Display.Text)
}

func TestDispatcher_DisplayReplacedWholesale(t *testing.T) {
	outputs := []string{
		"__GRAPH_0__AAAA__GRAPH_END__\n__GRAPH_1__BBBB__GRAPH_END__",
		"second",
	}
	call := 0
	exec := &fakeExecutor{fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		out := outputs[call]
		call++
		return &executor.ExecutionResult{Success: true, Stdout: out}, nil
	}}
	d, _ := newTestDispatcher(exec, time.Second)
	s := NewSurface("plot.py", FileKind)

	_, err := d.Run(context.Background(), s, FileUnit("plot.py", "plot()"))
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Display.Artifacts, 2)

	_, err = d.Run(context.Background(), s, FileUnit("plot.py", "print('second')"))
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Empty(t, snap.Display.Artifacts)
	assert.Equal(t, "second", snap.Display.Text)
}

func TestDispatcher_ElapsedPrefersServiceTime(t *testing.T) {
	exec := &fakeExecutor{fn: func(context.Context, executor.ExecutionRequest) (*executor.ExecutionResult, error) {
		return &executor.ExecutionResult{Success: true, ExecutionTime: 1.5}, nil
	}}
	d, _ := newTestDispatcher(exec, time.Second)

	rep, err := d.Run(context.Background(), NewSurface("a.py", FileKind), FileUnit("a.py", "pass"))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, rep.Elapsed)
}

func TestDispatcher_Clear(t *testing.T) {
	d, _ := newTestDispatcher(&fakeExecutor{fn: stdoutResult("out")}, time.Second)
	s := NewSurface("c1", CellKind)
	nb := testNotebook()

	_, err := d.Run(context.Background(), s, CellUnit(nb, nb.Cells[0]))
	require.NoError(t, err)
	require.Equal(t, "out", s.Snapshot().Display.Text)

	assert.True(t, d.Clear(s))
	snap := s.Snapshot()
	assert.Empty(t, snap.Display.Text)
	assert.Empty(t, snap.LastOutcome)
}
