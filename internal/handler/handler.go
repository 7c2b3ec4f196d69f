// Package handler exposes the extraction and grading pipelines over a thin
// JSON API. All heavy lifting happens in the extract and grade packages;
// handlers only move bytes and envelopes.
package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studykit/papergrader/internal/export"
	"github.com/studykit/papergrader/internal/extract"
	"github.com/studykit/papergrader/internal/grade"
	"github.com/studykit/papergrader/internal/model"
	"github.com/studykit/papergrader/internal/source"
	"github.com/studykit/papergrader/internal/store"
)

const maxUploadBytes = 64 << 20

// Handler holds the dependencies for the HTTP API.
type Handler struct {
	processor *extract.Processor
	grader    *grade.Grader
	store     *store.Store
	logger    *slog.Logger
}

// New creates an API handler. A nil store disables run persistence: grading
// still works but returns no run ID, and the run endpoints report 503.
func New(processor *extract.Processor, grader *grade.Grader, st *store.Store) *Handler {
	return &Handler{
		processor: processor,
		grader:    grader,
		store:     st,
		logger:    slog.Default(),
	}
}

// Routes mounts the API endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/extract", h.handleExtract)
	r.Post("/api/grade", h.handleGrade)
	r.Get("/api/runs", h.handleListRuns)
	r.Get("/api/runs/{id}", h.handleGetRun)
	r.Get("/api/runs/{id}/export", h.handleExportRun)
}

// handleExtract runs the extraction pipeline over one document. Page
// images arrive as multipart "pages" fields, in page order.
func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}

	src, err := sourceFromFiles("document", r.MultipartForm.File["pages"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.processor.ProcessDocument(r.Context(), src)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleGrade runs a full grading run. The answer key's pages arrive as
// "answer_key" fields; each "papers" field is one student's submission.
func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}

	keySrc, err := sourceFromFiles("answer_key", r.MultipartForm.File["answer_key"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err)
		return
	}

	papers := r.MultipartForm.File["papers"]
	if len(papers) == 0 {
		h.respondError(w, http.StatusBadRequest, errors.New("no student papers uploaded"))
		return
	}
	submissions := make([]source.Source, 0, len(papers))
	for _, fh := range papers {
		sub, err := sourceFromFiles(fh.Filename, []*multipart.FileHeader{fh})
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err)
			return
		}
		submissions = append(submissions, sub)
	}

	report, err := h.grader.Run(r.Context(), keySrc, submissions)
	if err != nil {
		// The only fatal path: the run has no usable answer key.
		var keyErr *grade.KeyError
		if errors.As(err, &keyErr) {
			h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"success": false,
				"error":   keyErr.Error(),
			})
			return
		}
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	runID := ""
	if h.store != nil {
		runID, err = h.store.SaveReport(report)
		if err != nil {
			h.logger.Error("save grading run", "error", err)
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"run_id":  runID,
		"report":  report,
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, errors.New("run store not configured"))
		return
	}
	runs, err := h.store.ListRuns()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExportRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	data, err := export.Excel(report)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "grading_"+id+".xlsx"))
	_, _ = w.Write(data)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (model.GradingReport, bool) {
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, errors.New("run store not configured"))
		return model.GradingReport{}, false
	}
	id := chi.URLParam(r, "id")
	report, err := h.store.GetReport(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.respondError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		} else {
			h.respondError(w, http.StatusInternalServerError, err)
		}
		return model.GradingReport{}, false
	}
	return report, true
}

// sourceFromFiles reads uploaded page images into an in-memory source,
// preserving upload order as page order.
func sourceFromFiles(name string, files []*multipart.FileHeader) (source.Source, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no pages uploaded for %s", name)
	}

	images := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		images = append(images, data)
	}
	return source.BytesSource{DocName: name, Images: images}, nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, err error) {
	h.logger.Warn("request failed", "status", status, "error", err)
	h.respondJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}
