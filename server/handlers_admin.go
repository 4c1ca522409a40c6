package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/addavriance/spotify-to-tg/poller"
	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

// HandleAdminRefresh runs a synchronization cycle now, or a single user's
// sync when user_id is given.
func (h *Handlers) HandleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.d.Cycles == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "admin"))

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		err := h.d.Cycles.SyncUser(ctx, userID)
		switch {
		case errors.Is(err, poller.ErrNoBinding):
			http.Error(w, "no channel configured for user", http.StatusNotFound)
		case err != nil:
			log.Warn("manual sync failed", slog.String("user_id", userID), slog.Any("err", err))
			writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "user_id": userID, "error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "user_id": userID})
		}
		return
	}

	rep := h.d.Cycles.RunCycle(ctx)
	resp := map[string]any{
		"status":      "ok",
		"users":       rep.Users,
		"synced":      rep.Synced,
		"skipped":     rep.Skipped,
		"failed":      rep.Failed,
		"duration_ms": rep.Duration.Milliseconds(),
	}
	status := http.StatusOK
	if rep.Err != nil {
		resp["status"] = "error"
		resp["error"] = rep.Err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// HandleAdminMonitor returns job timestamps and the number of connected users.
func (h *Handlers) HandleAdminMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	stats := map[string]any{}
	if h.d.KV != nil {
		jobs, err := store.JobTimestamps(ctx, h.d.KV)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for name, t := range jobs {
			stats["job_"+name] = t.Format(time.RFC3339)
		}
	}
	if h.d.Credentials != nil {
		users, err := h.d.Credentials.Users(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stats["users_connected"] = len(users)
	}
	h.stateMu.Lock()
	stats["oauth_pending"] = len(h.stateStore)
	h.stateMu.Unlock()
	writeJSON(w, http.StatusOK, stats)
}
