package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"pkt.systems/docsync/api"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/version"
)

const readyTimeout = 5 * time.Second

// handleHealth is the liveness probe.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, http.MethodGet, http.MethodHead)
	}
	h.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "ok",
		Version:   version.Current(),
		HeldLocks: h.heldLocks(),
	}, nil)
	return nil
}

// handleReady reports whether the backend is reachable and, for local
// stores, how much room is left.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, http.MethodGet, http.MethodHead)
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	resp := api.HealthResponse{
		Status:    "ready",
		Version:   version.Current(),
		Backend:   h.backendName,
		HeldLocks: h.heldLocks(),
	}
	status := http.StatusOK
	if h.store == nil {
		resp.Status = "unavailable"
		resp.Error = "no storage backend"
		status = http.StatusServiceUnavailable
	} else if err := storage.PingOf(ctx, h.store); err != nil {
		h.loggerFor(r).Warn("http.ready.ping_failed", "error", err)
		resp.Status = "unavailable"
		resp.Error = "storage backend unreachable"
		status = http.StatusServiceUnavailable
	} else if usage, ok, err := storage.UsageOf(ctx, h.store); ok {
		if err != nil {
			h.loggerFor(r).Warn("http.ready.usage_failed", "error", err)
		} else {
			resp.DiskUsed = humanize.Bytes(usage.Used)
			resp.DiskFree = humanize.Bytes(usage.Free)
		}
	}
	h.writeJSON(w, status, resp, nil)
	return nil
}

func (h *Handler) heldLocks() int {
	if h.sync == nil {
		return 0
	}
	return h.sync.Locks().Len()
}
