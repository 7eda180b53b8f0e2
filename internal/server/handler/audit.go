package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// AuditHandler serves the persisted audit log.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler backed by the given store.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		store:  store,
		logger: logHandler(logger, "audit"),
	}
}

// ListEntries returns audit log rows, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}

	entries, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("audit list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
