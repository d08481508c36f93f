package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
)

// MaxUploadSize is the largest dataset the execution service accepts.
const MaxUploadSize = 10 << 20

// AllowedUploadExtensions lists the dataset formats code can load.
var AllowedUploadExtensions = []string{".csv", ".json", ".xlsx"}

// DatasetService validates dataset uploads and forwards them to the execution
// service's working directory, where notebook and editor code can open them.
type DatasetService struct {
	datasets executor.Datasets
	logger   *slog.Logger
}

// NewDatasetService creates a DatasetService.
func NewDatasetService(datasets executor.Datasets, logger *slog.Logger) *DatasetService {
	return &DatasetService{datasets: datasets, logger: logger}
}

// Upload checks name and size, then forwards the file. Only the base name of
// filename is kept.
func (s *DatasetService) Upload(ctx context.Context, filename string, r io.Reader) (*executor.UploadedFile, error) {
	name, err := sanitizeUploadName(filename)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, apperror.ValidationFailed("file",
			fmt.Sprintf("File too large. Maximum size: %dMB", MaxUploadSize>>20))
	}

	uploaded, err := s.datasets.Upload(ctx, name, bytes.NewReader(data))
	if err != nil {
		s.logger.Error("upload failed",
			slog.String("filename", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("uploading %s: %w", name, err)
	}

	s.logger.Info("dataset uploaded",
		slog.String("filename", uploaded.Filename),
		slog.Int64("size", uploaded.Size),
	)
	return uploaded, nil
}

// Delete removes a previously uploaded dataset.
func (s *DatasetService) Delete(ctx context.Context, filename string) error {
	name, err := sanitizeUploadName(filename)
	if err != nil {
		return err
	}
	if err := s.datasets.DeleteUpload(ctx, name); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	s.logger.Info("dataset deleted", slog.String("filename", name))
	return nil
}

func sanitizeUploadName(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", apperror.ValidationFailed("filename", "filename is required")
	}

	ext := strings.ToLower(path.Ext(name))
	for _, allowed := range AllowedUploadExtensions {
		if ext == allowed {
			return name, nil
		}
	}
	return "", apperror.ValidationFailed("filename",
		fmt.Sprintf("File type not allowed. Allowed types: %s", strings.Join(AllowedUploadExtensions, ", ")))
}
