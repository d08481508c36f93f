package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/runner"
)

// EditorService runs standalone editor files.
//
// Files are stateless: every run is a fresh interpreter and never carries a
// session id. The only state kept here is one surface per filename, so a file
// cannot be run twice at once and its last output survives a page reload.
type EditorService struct {
	dispatcher *runner.Dispatcher
	history    *HistoryService
	logger     *slog.Logger

	mu       sync.Mutex
	surfaces map[string]*runner.Surface
}

// NewEditorService creates an EditorService.
func NewEditorService(dispatcher *runner.Dispatcher, history *HistoryService, logger *slog.Logger) *EditorService {
	return &EditorService{
		dispatcher: dispatcher,
		history:    history,
		logger:     logger,
		surfaces:   make(map[string]*runner.Surface),
	}
}

// RunFile executes source as filename. When stdin is non-nil it is stored as
// the file's collected input first.
func (s *EditorService) RunFile(ctx context.Context, filename, source string, stdin *string) (runner.Report, error) {
	filename, err := validateFilename(filename)
	if err != nil {
		return runner.Report{}, err
	}
	if err := validateSource(source); err != nil {
		return runner.Report{}, err
	}

	surface := s.surface(filename)
	if stdin != nil {
		if err := s.dispatcher.SupplyInput(surface, *stdin); err != nil {
			return runner.Report{}, err
		}
	}

	unit := runner.FileUnit(filename, source)
	rep, err := s.dispatcher.Run(ctx, surface, unit)
	if err != nil {
		return rep, err
	}
	s.history.Record(ctx, unit, rep)
	return rep, nil
}

// SupplyInput stores stdin for the file's next run.
func (s *EditorService) SupplyInput(filename, stdin string) error {
	filename, err := validateFilename(filename)
	if err != nil {
		return err
	}
	return s.dispatcher.SupplyInput(s.surface(filename), stdin)
}

// CancelInput abandons a pending input prompt for the file.
func (s *EditorService) CancelInput(filename string) (bool, error) {
	filename, err := validateFilename(filename)
	if err != nil {
		return false, err
	}
	surface := s.existing(filename)
	if surface == nil {
		return false, nil
	}
	return s.dispatcher.CancelInput(surface), nil
}

// Snapshot returns the file's current state.
func (s *EditorService) Snapshot(filename string) (runner.Snapshot, error) {
	filename, err := validateFilename(filename)
	if err != nil {
		return runner.Snapshot{}, err
	}
	surface := s.existing(filename)
	if surface == nil {
		return runner.Snapshot{}, apperror.NotFound("file", filename)
	}
	return surface.Snapshot(), nil
}

func (s *EditorService) surface(filename string) *runner.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	surface, ok := s.surfaces[filename]
	if !ok {
		surface = runner.NewSurface(filename, runner.FileKind)
		s.surfaces[filename] = surface
	}
	return surface
}

func (s *EditorService) existing(filename string) *runner.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaces[filename]
}

func validateFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("filename", "filename is required")
	}
	if len(name) > MaxFilenameLength {
		return "", apperror.ValidationFailed("filename",
			fmt.Sprintf("filename must be %d characters or less", MaxFilenameLength))
	}
	return name, nil
}
