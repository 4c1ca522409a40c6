package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockSpotifyServer serves the accounts token endpoint and the Web API from one
// httptest server. Point AuthURL/TokenURL/APIBase at URL()+"/authorize",
// URL()+"/api/token" and URL()+"/v1".
type MockSpotifyServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests map[string]int
}

// NewMockSpotifyServer creates a new mock Spotify server closed at test cleanup.
func NewMockSpotifyServer(t *testing.T) *MockSpotifyServer {
	t.Helper()
	m := &MockSpotifyServer{
		Handlers: make(map[string]http.HandlerFunc),
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[r.URL.Path]++
		h, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns how many times path was hit.
func (m *MockSpotifyServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// MockTokenResponse answers /api/token with the given tokens. An empty
// refreshToken omits the field, as Spotify does when it does not rotate.
func (m *MockSpotifyServer) MockTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/api/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
			"scope":        "user-read-currently-playing user-read-playback-state",
		}
		if refreshToken != "" {
			response["refresh_token"] = refreshToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockTokenError answers /api/token with an OAuth error.
func (m *MockSpotifyServer) MockTokenError(status int) {
	m.Handlers["/api/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Refresh token revoked"}`))
	}
}

// MockNothingPlaying answers currently-playing with 204.
func (m *MockSpotifyServer) MockNothingPlaying() {
	m.Handlers["/v1/me/player/currently-playing"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// MockCurrentlyPlaying answers currently-playing with a single-artist track.
// wantToken, when non-empty, makes the handler return 401 for other bearer tokens.
func (m *MockSpotifyServer) MockCurrentlyPlaying(wantToken, trackID, name, artist, cover string, progressMs, durationMs int64, playing bool) {
	m.Handlers["/v1/me/player/currently-playing"] = func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		images := []map[string]interface{}{}
		if cover != "" {
			images = append(images, map[string]interface{}{"url": cover, "width": 640, "height": 640})
		}
		response := map[string]interface{}{
			"is_playing":             playing,
			"progress_ms":            progressMs,
			"currently_playing_type": "track",
			"item": map[string]interface{}{
				"id":          trackID,
				"name":        name,
				"duration_ms": durationMs,
				"artists":     []map[string]string{{"name": artist}},
				"album":       map[string]interface{}{"name": "Album", "images": images},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
