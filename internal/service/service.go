// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates runs
//	Repository (Data layer)  → reads/writes to the database
//
// Services accept primitives and return domain errors from apperror, never
// HTTP types, so the same logic serves the HTTP API and the pgctl CLI.
//
// THE DEPENDENCY CHAIN:
//
//	main.go creates:  DB → Repository ┐
//	                  remote.Client  ─┼→ runner.Dispatcher → Service → Handler
//	                  events.Hub     ─┘
//
// Every dependency is an interface or an injected pointer, so tests pass in
// in-memory fakes instead of SQLite and the remote execution service.
package service

import (
	"fmt"
	"strings"

	"github.com/sakif/notebook-playground/internal/apperror"
)

// Validation constants.
const (
	MaxNotebookNameLength = 100
	MaxFilenameLength     = 255
	MaxCodeLength         = 100000 // ~100KB of code
	DefaultListLimit      = 20
	MaxListLimit          = 100
)

func validateSource(source string) error {
	if len(source) > MaxCodeLength {
		return apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func requireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	return id, nil
}
