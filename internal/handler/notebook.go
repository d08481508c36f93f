package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/notebook-playground/internal/auth"
	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/runner"
	"github.com/sakif/notebook-playground/internal/service"
)

// NotebookHandler serves notebook CRUD, cell editing and cell execution.
//
// Every handler reads the caller's subject from the context (empty when auth
// is off) and passes it to the service as the owner.
type NotebookHandler struct {
	svc    *service.NotebookService
	logger *slog.Logger
}

// NewNotebookHandler creates a NotebookHandler.
func NewNotebookHandler(svc *service.NotebookService, logger *slog.Logger) *NotebookHandler {
	return &NotebookHandler{svc: svc, logger: logger}
}

type cellRequest struct {
	Type     model.CellType `json:"type"`
	Source   string         `json:"source"`
	Position *int           `json:"position,omitempty"`
}

type createNotebookRequest struct {
	Name  string        `json:"name"`
	Cells []cellRequest `json:"cells"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type moveRequest struct {
	Position int `json:"position"`
}

type runCellRequest struct {
	Stdin *string `json:"stdin,omitempty"`
}

// notebookResponse pairs a notebook with the live state of its cells.
type notebookResponse struct {
	*model.Notebook
	Surfaces []runner.Snapshot `json:"surfaces"`
}

type runAllResponse struct {
	Cells []cellRunBody `json:"cells"`
}

type cellRunBody struct {
	CellID   string      `json:"cellId"`
	Rejected bool        `json:"rejected,omitempty"`
	Report   *reportBody `json:"report,omitempty"`
}

// HandleList returns the caller's notebooks.
//
// HTTP: GET /api/notebooks?limit=20&offset=0
func (h *NotebookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	notebooks, err := h.svc.ListNotebooks(r.Context(), auth.SubjectFromContext(r.Context()), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notebooks)
}

// HandleCreate creates a notebook.
//
// HTTP: POST /api/notebooks
// REQUEST BODY: {"name": "analysis", "cells": [{"type": "code", "source": "x = 1"}]}
func (h *NotebookHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createNotebookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	cells := make([]*model.Cell, 0, len(req.Cells))
	for _, c := range req.Cells {
		typ := c.Type
		if typ == "" {
			typ = model.CellCode
		}
		cells = append(cells, &model.Cell{Type: typ, Source: c.Source})
	}

	nb, err := h.svc.CreateNotebook(r.Context(), auth.SubjectFromContext(r.Context()), req.Name, cells)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

// HandleGet returns a notebook and its cell surfaces.
//
// HTTP: GET /api/notebooks/{id}
func (h *NotebookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	owner := auth.SubjectFromContext(r.Context())
	id := chi.URLParam(r, "id")

	nb, err := h.svc.GetNotebook(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	snaps, err := h.svc.Snapshots(r.Context(), owner, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notebookResponse{Notebook: nb, Surfaces: snaps})
}

// HandleRename renames a notebook.
//
// HTTP: PATCH /api/notebooks/{id}
func (h *NotebookHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	nb, err := h.svc.RenameNotebook(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// HandleDelete deletes a notebook.
//
// HTTP: DELETE /api/notebooks/{id}
func (h *NotebookHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteNotebook(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddCell inserts a cell.
//
// HTTP: POST /api/notebooks/{id}/cells
// REQUEST BODY: {"type": "code", "source": "", "position": 2}
// Without a position the cell is appended.
func (h *NotebookHandler) HandleAddCell(w http.ResponseWriter, r *http.Request) {
	var req cellRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	cell, err := h.svc.AddCell(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), req.Type, req.Source, position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cell)
}

// HandleUpdateCell replaces a cell's source (and optionally its type).
//
// HTTP: PUT /api/notebooks/{id}/cells/{cellID}
func (h *NotebookHandler) HandleUpdateCell(w http.ResponseWriter, r *http.Request) {
	var req cellRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	cell, err := h.svc.UpdateCell(r.Context(), auth.SubjectFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "cellID"), req.Type, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

// HandleDeleteCell removes a cell.
//
// HTTP: DELETE /api/notebooks/{id}/cells/{cellID}
func (h *NotebookHandler) HandleDeleteCell(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteCell(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "cellID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMoveCell moves a cell and returns the reordered notebook.
//
// HTTP: POST /api/notebooks/{id}/cells/{cellID}/move
func (h *NotebookHandler) HandleMoveCell(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	nb, err := h.svc.MoveCell(r.Context(), auth.SubjectFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "cellID"), req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

// HandleRunCell runs one cell in the notebook's session.
//
// HTTP: POST /api/notebooks/{id}/cells/{cellID}/run
// REQUEST BODY (optional): {"stdin": "values\nfor input()"}
func (h *NotebookHandler) HandleRunCell(w http.ResponseWriter, r *http.Request) {
	var req runCellRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rep, err := h.svc.RunCell(r.Context(), auth.SubjectFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "cellID"), req.Stdin)
	writeRun(w, rep, err)
}

// HandleSupplyInput stores stdin for a cell's next run.
//
// HTTP: POST /api/notebooks/{id}/cells/{cellID}/input
func (h *NotebookHandler) HandleSupplyInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := h.svc.SupplyInput(r.Context(), auth.SubjectFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "cellID"), req.Stdin)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCancelInput drops a cell's pending prompt.
//
// HTTP: DELETE /api/notebooks/{id}/cells/{cellID}/input
func (h *NotebookHandler) HandleCancelInput(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.CancelInput(r.Context(), auth.SubjectFromContext(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "cellID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// HandleRunAll runs every code cell in order and returns one entry per cell.
// The request stays open until the batch finishes; progress is pushed over
// /api/events as it happens.
//
// HTTP: POST /api/notebooks/{id}/run-all
func (h *NotebookHandler) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.RunAll(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	body := runAllResponse{Cells: make([]cellRunBody, 0, len(reports))}
	for _, cr := range reports {
		cell := cellRunBody{CellID: cr.CellID, Rejected: cr.Rejected}
		if !cr.Rejected {
			cell.Report = newReportBody(cr.Report)
		}
		body.Cells = append(body.Cells, cell)
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleReset clears the notebook's interpreter state.
//
// HTTP: POST /api/notebooks/{id}/reset
func (h *NotebookHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetNotebook(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notebook state reset"})
}
