package server

import (
	"context"
	"fmt"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking store connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.d.Ping != nil {
		if err := h.d.Ping(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"store", func(ctx context.Context) error {
			if h.d.Ping == nil {
				return nil
			}
			return h.d.Ping(ctx)
		}},
		{"oauth", func(context.Context) error {
			if h.d.OAuth == nil {
				return fmt.Errorf("oauth provider not configured")
			}
			return nil
		}},
		{"bot", func(context.Context) error {
			if h.d.Updates == nil {
				return fmt.Errorf("update handler not configured")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
