package handler

import (
	"net/http"
	"strconv"

	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/repository"
	"github.com/sakif/notebook-playground/internal/service"
)

// HistoryHandler lists past executions.
type HistoryHandler struct {
	svc *service.HistoryService
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(svc *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

type runBody struct {
	model.RunRecord
	Elapsed float64 `json:"elapsed"` // seconds
}

// HandleList returns run history, newest first.
//
// HTTP: GET /api/runs?notebook=&surface=&kind=&limit=&offset=
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := h.svc.List(r.Context(), repository.RunListOptions{
		Limit:      limit,
		Offset:     offset,
		Kind:       model.RunKind(q.Get("kind")),
		NotebookID: q.Get("notebook"),
		SurfaceID:  q.Get("surface"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]runBody, 0, len(runs))
	for _, run := range runs {
		out = append(out, runBody{RunRecord: run, Elapsed: run.Elapsed.Seconds()})
	}
	writeJSON(w, http.StatusOK, out)
}
