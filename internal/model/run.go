package model

import "time"

// RunKind says which kind of surface produced a run.
type RunKind string

const (
	RunFile RunKind = "file"
	RunCell RunKind = "cell"
)

// RunOutcome is the terminal state of one dispatch attempt.
type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeTimeout   RunOutcome = "timeout"
	OutcomeTransport RunOutcome = "transport"
)

// RunRecord is one row of execution history. Output text and artifacts are not
// stored here; they belong to the surface's display.
type RunRecord struct {
	ID         string        `json:"id"`
	Kind       RunKind       `json:"kind"`
	SurfaceID  string        `json:"surfaceId"`
	NotebookID string        `json:"notebookId,omitempty"`
	SessionID  string        `json:"sessionId,omitempty"`
	Outcome    RunOutcome    `json:"outcome"`
	Elapsed    time.Duration `json:"elapsed"`
	Artifacts  int           `json:"artifacts"`
	CreatedAt  time.Time     `json:"createdAt"`
}
