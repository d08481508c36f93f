package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/service"
)

// DatasetHandler accepts dataset uploads for code to read.
type DatasetHandler struct {
	svc    *service.DatasetService
	logger *slog.Logger
}

// NewDatasetHandler creates a DatasetHandler.
func NewDatasetHandler(svc *service.DatasetService, logger *slog.Logger) *DatasetHandler {
	return &DatasetHandler{svc: svc, logger: logger}
}

// HandleUpload forwards a multipart upload (field "file").
//
// HTTP: POST /api/uploads
//
// MULTIPART PARSING:
// ParseMultipartForm keeps up to 1MB in memory and spills the rest to temp
// files. MaxBytesReader stops a client from streaming more than the limit plus
// room for the multipart framing.
func (h *DatasetHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, apperror.ValidationFailed("file", "invalid upload: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperror.ValidationFailed("file", "a file is required in the \"file\" field"))
		return
	}
	defer file.Close()

	uploaded, err := h.svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

// HandleDelete removes an uploaded dataset.
//
// HTTP: DELETE /api/uploads/{filename}
func (h *DatasetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if err := h.svc.Delete(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "File " + name + " deleted",
	})
}
