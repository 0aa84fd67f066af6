package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shiko-ai/shiko/internal/kaizen"
	"github.com/shiko-ai/shiko/internal/storage"
)

// summaryWindow is the default trailing window for the invocation summary.
const summaryWindow = time.Hour

type handlers struct {
	store   Store
	kaizen  *kaizen.Service
	logger  *slog.Logger
	version string
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

func (h *handlers) handleKaizenStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.kaizen.Status())
}

func (h *handlers) handleKaizenCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.kaizen.Orchestrator.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, kaizen.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, "a cycle is already in progress")
			return
		}
		h.logger.Error("manual cycle failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type approvalRequest struct {
	Approve bool `json:"approve"`
}

func (h *handlers) handleApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}

	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.kaizen.Approvals.Resolve(id, req.Approve); err != nil {
		if errors.Is(err, kaizen.ErrNoPendingApproval) {
			writeError(w, http.StatusNotFound, "no pending approval for that action")
			return
		}
		h.logger.Error("approval resolution failed", "action_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "approval resolution failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"action_id": id,
		"approved":  req.Approve,
	})
}

func (h *handlers) handleInvocationsSummary(w http.ResponseWriter, r *http.Request) {
	window := summaryWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}

	now := time.Now().UTC()
	summary, err := h.store.SummarizeInvocations(r.Context(), now.Add(-window), now)
	if err != nil {
		h.logger.Error("invocation summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	if summary == nil {
		summary = []storage.InvocationSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window": window.String(),
		"tools":  summary,
	})
}
