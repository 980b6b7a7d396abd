package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"hearing-processor/pkg/artifacts"
	"hearing-processor/pkg/logger"
	"hearing-processor/pkg/models"
	"hearing-processor/pkg/pipeline"
	"hearing-processor/pkg/storage"
)

// Processor is the pipeline surface the HTTP layer needs.
type Processor interface {
	Submit(req models.ProcessRequest) (*models.ProcessingSession, error)
	Status(sessionID string) (*models.ProcessingSession, error)
	Sessions(limit int) []*models.ProcessingSession
	Result(sessionID string) (*models.ResultBundle, error)
	Cancel(sessionID string) error
}

// DocumentSource reads stored artifacts by reference.
type DocumentSource interface {
	Get(key string) ([]byte, error)
}

type Handlers struct {
	pipeline     Processor
	documents    DocumentSource
	log          *logger.Logger
	pollInterval time.Duration
}

func NewHandlers(p Processor, log *logger.Logger) *Handlers {
	return &Handlers{pipeline: p, log: log, pollInterval: 500 * time.Millisecond}
}

// WithDocuments enables the PDF download route.
func (h *Handlers) WithDocuments(d DocumentSource) *Handlers {
	h.documents = d
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	session, err := h.pipeline.Submit(req)
	switch {
	case errors.Is(err, pipeline.ErrMissingMedia):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.log.WithRequest(r).WithError(err).Error("submit failed")
		writeError(w, http.StatusInternalServerError, "failed to submit hearing")
		return
	}

	h.log.WithRequest(r).WithField("session_id", session.ID).WithField("case_id", session.CaseID).Info("hearing submitted")
	writeJSON(w, http.StatusAccepted, session)
}

func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, err := h.pipeline.Status(sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// bundle loads the persisted result; it writes the 404 itself when the
// session has not completed.
func (h *Handlers) bundle(w http.ResponseWriter, r *http.Request, what string) (*models.ResultBundle, bool) {
	sessionID := mux.Vars(r)["sessionId"]

	b, err := h.pipeline.Result(sessionID)
	if errors.Is(err, storage.ErrResultNotFound) {
		writeError(w, http.StatusNotFound, what+" not available")
		return nil, false
	}
	if err != nil {
		h.log.WithRequest(r).WithError(err).Error("failed to load result bundle")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return b, true
}

func (h *Handlers) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bundle(w, r, "transcript")
	if !ok {
		return
	}
	if b.Transcript == nil {
		writeError(w, http.StatusNotFound, "transcript not available")
		return
	}
	writeJSON(w, http.StatusOK, b.Transcript)
}

func (h *Handlers) ProbabilityHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bundle(w, r, "probability analysis")
	if !ok {
		return
	}
	if b.Analysis == nil {
		writeError(w, http.StatusNotFound, "probability analysis not available")
		return
	}
	writeJSON(w, http.StatusOK, b.Analysis)
}

func (h *Handlers) JudgmentHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bundle(w, r, "judgment")
	if !ok {
		return
	}
	if b.Judgment == nil {
		writeError(w, http.StatusNotFound, "judgment not available")
		return
	}
	writeJSON(w, http.StatusOK, b.Judgment)
}

func (h *Handlers) ExportHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bundle(w, r, "export")
	if !ok {
		return
	}
	data, err := artifacts.BuildWorkbook(b)
	if err != nil {
		h.log.WithRequest(r).WithError(err).Error("failed to build workbook")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="hearing-%s.xlsx"`, b.SessionID))
	w.Write(data)
}

func (h *Handlers) DocumentHandler(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bundle(w, r, "judgment document")
	if !ok {
		return
	}
	if h.documents == nil || b.PDFRef == "" {
		writeError(w, http.StatusNotFound, "judgment document not available")
		return
	}
	data, err := h.documents.Get(b.PDFRef)
	if errors.Is(err, artifacts.ErrBlobNotFound) {
		writeError(w, http.StatusNotFound, "judgment document not available")
		return
	}
	if err != nil {
		h.log.WithRequest(r).WithError(err).Error("failed to read judgment document")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="judgment-%s.pdf"`, b.SessionID))
	w.Write(data)
}

func (h *Handlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	err := h.pipeline.Cancel(sessionID)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, pipeline.ErrSessionFinished):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.log.WithRequest(r).WithField("session_id", sessionID).Info("cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": sessionID,
		"status":    "cancelling",
	})
}

func (h *Handlers) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	sessions := h.pipeline.Sessions(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
