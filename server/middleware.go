package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// authConfig holds the admin credentials. Either a token or a
// username/password pair enables protection.
type authConfig struct {
	adminUsername string
	adminPassword string
	adminToken    string
	enabled       bool
}

func loadAuthConfig() *authConfig {
	cfg := &authConfig{
		adminUsername: os.Getenv("ADMIN_USERNAME"),
		adminPassword: os.Getenv("ADMIN_PASSWORD"),
		adminToken:    os.Getenv("ADMIN_TOKEN"),
	}
	cfg.enabled = cfg.adminToken != "" || (cfg.adminUsername != "" && cfg.adminPassword != "")
	if !cfg.enabled {
		slog.Warn("admin endpoints are unprotected; set ADMIN_TOKEN or ADMIN_USERNAME+ADMIN_PASSWORD",
			slog.String("component", "server"))
	}
	return cfg
}

// adminAuth protects admin endpoints with a token (X-Admin-Token or a Bearer
// Authorization header) or Basic Auth.
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled || cfg.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="spotify-to-tg admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("ip", clientIP(r)))
	})
}

func (cfg *authConfig) authorized(r *http.Request) bool {
	if cfg.adminToken != "" {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				token = strings.TrimSpace(bearer)
			}
		}
		if token != "" && equal(token, cfg.adminToken) {
			return true
		}
	}
	if cfg.adminUsername != "" && cfg.adminPassword != "" {
		username, password, ok := r.BasicAuth()
		// evaluate both to keep timing independent of which one is wrong
		userOK := equal(username, cfg.adminUsername)
		passOK := equal(password, cfg.adminPassword)
		return ok && userOK && passOK
	}
	return false
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID, X-Telegram-Bot-Api-Secret-Token"
)

// corsConfig decides which browser origins may read the JSON endpoints
// (the current-track widget and the admin monitor).
type corsConfig struct {
	allowedOrigins []string
	permissive     bool // any origin, no credentials
}

// loadCORSConfig is permissive unless ENV names a non-dev environment.
// CORS_PERMISSIVE overrides either way.
func loadCORSConfig() *corsConfig {
	env := strings.ToLower(os.Getenv("ENV"))
	cfg := &corsConfig{permissive: env == "" || env == "dev" || env == "development"}
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.permissive = v == "1" || v == "true"
	}
	cfg.allowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if !cfg.permissive && len(cfg.allowedOrigins) == 0 {
		slog.Warn("CORS restricted but CORS_ALLOWED_ORIGINS is empty; cross-origin requests will be refused")
	}
	return cfg
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func (c *corsConfig) allowOrigin(origin string) (string, bool) {
	if c.permissive {
		return "*", true
	}
	if origin != "" && isOriginAllowed(origin, c.allowedOrigins) {
		return origin, true
	}
	return "", false
}

func withCORSConfig(next http.Handler, cfg *corsConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if !cfg.permissive {
			h.Add("Vary", "Origin")
		}
		if allow, ok := cfg.allowOrigin(r.Header.Get("Origin")); ok {
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			if allow != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed matches exact origins, and "*.example.com" entries against
// the origin host (the apex included).
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	host := ""
	if u, err := url.Parse(origin); err == nil {
		host = u.Hostname()
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		if domain, ok := strings.CutPrefix(allowed, "*."); ok && host != "" {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
	}
	return false
}
