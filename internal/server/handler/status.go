package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves runtime metadata for monitoring clients.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	Nonce     func() uint64
}

// NewStatusHandler creates a StatusHandler for the given runtime mode. The
// nonce func may be nil when the engine is not running in this process.
func NewStatusHandler(mode string, startedAt time.Time, nonce func() uint64) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, Nonce: nonce}
}

// GetStatus responds with the current mode, uptime, and mint nonce.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	resp := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": uptime,
	}
	if h.Nonce != nil {
		resp["nonce"] = h.Nonce()
	}
	writeJSON(w, http.StatusOK, resp)
}
