package executor

import (
	"context"
	"io"
)

// ExecutionRequest is the body of POST /run.
//
// NotebookID binds the run to a persistent interpreter on the service side.
// It is empty for editor runs, which always execute in a fresh context.
type ExecutionRequest struct {
	Code       string `json:"code"`
	Stdin      string `json:"stdin,omitempty"`
	NotebookID string `json:"notebook_id,omitempty"`
}

// ExecutionResult is the service's answer. Stdout is the displayable payload
// when Success is true, Stderr otherwise.
type ExecutionResult struct {
	Success       bool    `json:"success"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	ExecutionTime float64 `json:"execution_time"` // seconds
}

// Executor represents the core interface for running code on the execution service.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// UploadedFile describes a dataset stored by the execution service. Filename
// is what user code passes to open() or pandas.read_csv().
type UploadedFile struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Preview  any    `json:"preview,omitempty"`
}

// Datasets manages files that executed code can read.
type Datasets interface {
	Upload(ctx context.Context, filename string, content io.Reader) (*UploadedFile, error)
	DeleteUpload(ctx context.Context, filename string) error
}

// SessionResetter discards the interpreter bound to a notebook session.
type SessionResetter interface {
	ResetSession(ctx context.Context, sessionID string) error
}
