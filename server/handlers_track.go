package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/addavriance/spotify-to-tg/oauth"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

const maxUpdateBytes = 1 << 20

// HandleRoot serves the landing page.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, landingPage(h.d.BotUsername))
}

// HandleCurrentTrack returns the user's playback snapshot as JSON.
func (h *Handlers) HandleCurrentTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.d.Snapshots == nil {
		http.Error(w, "not configured", http.StatusServiceUnavailable)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing user_id parameter", http.StatusBadRequest)
		return
	}
	snap, err := h.d.Snapshots.Snapshot(r.Context(), userID)
	switch {
	case errors.Is(err, oauth.ErrNotConnected):
		http.Error(w, "User not authorized", http.StatusUnauthorized)
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Warn("current track failed", slog.String("user_id", userID), slog.Any("err", err))
		http.Error(w, "Failed to get current track", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleWebhook receives Telegram updates. Telegram retries non-2xx replies,
// so handler failures are logged and still acknowledged.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.d.Updates == nil {
		http.Error(w, "bot not configured", http.StatusServiceUnavailable)
		return
	}
	if h.d.WebhookSecret != "" && !validSecret(r, h.d.WebhookSecret) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("webhook secret mismatch", slog.String("remote_addr", r.RemoteAddr))
		return
	}
	var u tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&u); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	if err := h.d.Updates.HandleUpdate(r.Context(), u); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("update handling failed",
			slog.Int("update_id", u.UpdateID), slog.Any("err", err), slog.String("component", "bot"))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// validSecret accepts the secret in Telegram's header or, for registrations
// that predate header support, in the "secret" query parameter.
func validSecret(r *http.Request, want string) bool {
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return got != "" && equal(got, want)
}
