package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

// HandleAuthStart redirects the user to the streaming provider's consent page.
func (h *Handlers) HandleAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.d.OAuth == nil {
		http.Error(w, "oauth not configured", http.StatusServiceUnavailable)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing user_id parameter", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, userID) {
		http.Error(w, "too many pending authorizations, try again later", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, h.d.OAuth.AuthorizationURL(st), http.StatusFound)
}

// HandleAuthCallback exchanges the code, stores the credential and tells the
// user in chat that the account is connected.
func (h *Handlers) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.d.OAuth == nil || h.d.Credentials == nil {
		http.Error(w, "oauth not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		renderPage(w, http.StatusBadRequest, errorPage("Authorization was not granted", e))
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		renderPage(w, http.StatusBadRequest, errorPage("Missing code or state parameter", ""))
		return
	}
	userID, ok := h.takeOAuthState(st)
	if !ok {
		renderPage(w, http.StatusBadRequest, errorPage("Invalid or expired state", "Start again from the bot with /start."))
		return
	}

	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth"), slog.String("user_id", userID))

	tok, err := h.d.OAuth.Exchange(ctx, code)
	if err != nil {
		log.Warn("code exchange failed", slog.Any("err", err))
		renderPage(w, http.StatusBadGateway, errorPage("Authorization failed", "Spotify rejected the request, please try again."))
		return
	}
	err = h.d.Credentials.Put(ctx, userID, store.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
		ExpiresAt:    tok.Expiry,
	})
	if err != nil {
		log.Error("failed to store credential", slog.Any("err", err))
		renderPage(w, http.StatusInternalServerError, errorPage("Authorization failed", "Could not save your credentials."))
		return
	}
	log.Info("streaming account connected", slog.String("access", telemetry.MaskToken(tok.AccessToken)))

	if h.d.Notifier != nil {
		if err := h.d.Notifier.NotifyConnected(ctx, userID); err != nil {
			log.Warn("failed to notify user", slog.Any("err", err))
		}
	}
	renderPage(w, http.StatusOK, successPage(h.d.BotUsername))
}
