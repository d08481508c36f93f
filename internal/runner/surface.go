package runner

import (
	"sync"
	"time"

	"github.com/sakif/notebook-playground/internal/apperror"
)

// State is where a surface sits in its run lifecycle:
//
//	Idle → WaitingForInput → Executing → (Succeeded | Failed) → Idle
//
// Succeeded and Failed are never stored; they are reported once in the Report
// and remembered as LastOutcome while the surface folds back to Idle.
type State string

const (
	StateIdle            State = "idle"
	StateWaitingForInput State = "waiting_for_input"
	StateExecuting       State = "executing"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
)

// FailureKind classifies a failed run for display.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport"
	FailureRemote    FailureKind = "remote"
)

// PendingInput is the transient stdin state of a surface. It exists from the
// moment input is needed (or supplied) until the next dispatch or a cancel.
type PendingInput struct {
	Required  int    `json:"required"`
	Collected string `json:"collected"`
}

// Display is what the UI renders under a file or cell. Each dispatch replaces
// it wholesale, so artifacts never accumulate across runs.
type Display struct {
	Text      string      `json:"text"`
	Artifacts []Artifact  `json:"artifacts,omitempty"`
	Error     string      `json:"error,omitempty"` // rendered emphasised
	Failure   FailureKind `json:"failure,omitempty"`
	Notice    string      `json:"notice,omitempty"` // e.g. the input prompt
}

// Snapshot is a copy of a surface's state, safe to hand to other goroutines.
type Snapshot struct {
	ID          string        `json:"id"`
	Kind        UnitKind      `json:"kind"`
	State       State         `json:"state"`
	Executing   bool          `json:"executing"`
	Pending     *PendingInput `json:"pending,omitempty"`
	Display     Display       `json:"display"`
	LastOutcome State         `json:"lastOutcome,omitempty"`
	Elapsed     float64       `json:"elapsed"` // seconds; live while executing
	Runs        int           `json:"runs"`
}

// Surface is the state record of one independently runnable unit.
//
// CONCURRENCY:
// HTTP handlers, the run-all sequencer and websocket readers all touch the same
// surface from different goroutines. Every transition happens under mu, so the
// "at most one in-flight execution" check-and-set is atomic. Different surfaces
// never share a lock and run concurrently.
type Surface struct {
	id   string
	kind UnitKind

	mu          sync.Mutex
	state       State
	pending     *PendingInput
	display     Display
	lastOutcome State
	startedAt   time.Time
	elapsed     time.Duration
	runs        int
}

// NewSurface returns an idle surface.
func NewSurface(id string, kind UnitKind) *Surface {
	return &Surface{id: id, kind: kind, state: StateIdle}
}

// ID returns the filename or cell id this surface belongs to.
func (s *Surface) ID() string { return s.id }

// Snapshot copies the current state.
func (s *Surface) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Surface) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:          s.id,
		Kind:        s.kind,
		State:       s.state,
		Executing:   s.state == StateExecuting,
		Display:     s.display,
		LastOutcome: s.lastOutcome,
		Elapsed:     s.elapsed.Seconds(),
		Runs:        s.runs,
	}
	if s.state == StateExecuting {
		snap.Elapsed = time.Since(s.startedAt).Seconds()
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	if len(s.display.Artifacts) > 0 {
		snap.Display.Artifacts = append([]Artifact(nil), s.display.Artifacts...)
	}
	return snap
}

// supplyInput stores collected stdin for the next dispatch.
func (s *Surface) supplyInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateExecuting {
		return apperror.Busy(string(s.kind) + " " + s.id)
	}
	if s.pending == nil {
		s.pending = &PendingInput{}
	}
	s.pending.Collected = text
	return nil
}

// cancelInput discards pending input. It reports whether anything changed.
func (s *Surface) cancelInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateExecuting || s.pending == nil {
		return false
	}
	s.pending = nil
	if s.state == StateWaitingForInput {
		s.state = StateIdle
		s.display.Notice = ""
	}
	return true
}

// clear drops the display of an idle surface. Used when a notebook session is reset.
func (s *Surface) clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateExecuting {
		return false
	}
	s.state = StateIdle
	s.pending = nil
	s.display = Display{}
	s.lastOutcome = ""
	s.elapsed = 0
	return true
}

type admission int

const (
	admitRejected admission = iota
	admitWaiting
	admitDispatch
)

// admit is the single entry into Executing. Under one lock it rejects a busy
// surface, pauses for input, or claims the in-flight slot and returns the stdin
// to send.
func (s *Surface) admit(source string) (admission, string, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateExecuting {
		return admitRejected, "", Snapshot{}
	}

	collected := ""
	if s.pending != nil {
		collected = s.pending.Collected
	}
	if required, wait := NeedsInput(source, collected); wait {
		s.state = StateWaitingForInput
		s.pending = &PendingInput{Required: required}
		s.display.Notice = InputPrompt(required)
		return admitWaiting, "", s.snapshotLocked()
	}

	s.state = StateExecuting
	s.pending = nil
	s.startedAt = time.Now()
	s.runs++
	return admitDispatch, collected, s.snapshotLocked()
}

// complete leaves Executing. It is always called, including after a panic.
func (s *Surface) complete(d Display, outcome State, elapsed time.Duration) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.display = d
	s.lastOutcome = outcome
	s.elapsed = elapsed
	s.state = StateIdle
	return s.snapshotLocked()
}
