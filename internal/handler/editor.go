package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/notebook-playground/internal/service"
)

// EditorHandler serves the standalone editor: run a file, answer its input
// prompt, read its last output.
type EditorHandler struct {
	svc    *service.EditorService
	logger *slog.Logger
}

// NewEditorHandler creates an EditorHandler.
func NewEditorHandler(svc *service.EditorService, logger *slog.Logger) *EditorHandler {
	return &EditorHandler{svc: svc, logger: logger}
}

type runFileRequest struct {
	Filename string  `json:"filename"`
	Code     string  `json:"code"`
	Stdin    *string `json:"stdin,omitempty"`
}

type inputRequest struct {
	Stdin string `json:"stdin"`
}

// HandleRun runs a file.
//
// HTTP: POST /api/editor/run
// REQUEST BODY: {"filename": "main.py", "code": "print(1)", "stdin": "optional"}
//
// The response is a run envelope. When the code calls input() and no stdin
// was given, report.state is "waiting_for_input" and nothing was executed.
func (h *EditorHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	rep, err := h.svc.RunFile(r.Context(), req.Filename, req.Code, req.Stdin)
	writeRun(w, rep, err)
}

// HandleSupplyInput stores stdin for the file's next run.
//
// HTTP: POST /api/editor/files/{name}/input
func (h *EditorHandler) HandleSupplyInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SupplyInput(chi.URLParam(r, "name"), req.Stdin); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCancelInput drops a pending prompt.
//
// HTTP: DELETE /api/editor/files/{name}/input
func (h *EditorHandler) HandleCancelInput(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.CancelInput(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// HandleGet returns the file's surface snapshot.
//
// HTTP: GET /api/editor/files/{name}
func (h *EditorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
