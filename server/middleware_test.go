package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		reqBearer      string
		expectedStatus int
	}{
		{
			name:           "no auth configured - allows request",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid basic auth",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "secret123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid basic auth username",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "wrong",
			reqPassword:    "secret123",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid basic auth password",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid token auth",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid bearer token",
			token:          "test-token-12345",
			reqBearer:      "test-token-12345",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token auth",
			token:          "test-token-12345",
			reqToken:       "wrong-token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing credentials",
			token:          "test-token-12345",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token auth takes precedence over basic auth",
			username:       "admin",
			password:       "secret123",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			reqUsername:    "wrong",
			reqPassword:    "wrong",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{
				adminUsername: tt.username,
				adminPassword: tt.password,
				adminToken:    tt.token,
				enabled:       (tt.username != "" && tt.password != "") || tt.token != "",
			}
			handler := adminAuth(okHandler(), cfg)

			req := httptest.NewRequest(http.MethodGet, "/admin/monitor", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			if tt.reqBearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.reqBearer)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized {
				if auth := rr.Header().Get("WWW-Authenticate"); auth == "" {
					t.Error("expected WWW-Authenticate header on 401 response")
				}
			}
		})
	}
}

func newTestLimiter(t *testing.T, n int, window time.Duration) *ipRateLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, backend: "memory", requestsPerIP: n, window: window})
}

func TestRateLimiter(t *testing.T) {
	limiter := newTestLimiter(t, 3, time.Minute)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow(ctx, "192.168.1.1"); !ok {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	ok, retry := limiter.Allow(ctx, "192.168.1.1")
	if ok {
		t.Fatal("request 4 should be rate limited")
	}
	if retry <= 0 || retry > 20*time.Second {
		t.Errorf("retry hint = %v, want (0, 20s]", retry)
	}

	// one token refills every window/requestsPerIP
	now = now.Add(21 * time.Second)
	if ok, _ := limiter.Allow(ctx, "192.168.1.1"); !ok {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	limiter := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "192.168.1.1")
	}
	if ok, _ := limiter.Allow(ctx, "192.168.1.1"); ok {
		t.Error("IP1 should be rate limited")
	}
	if ok, _ := limiter.Allow(ctx, "192.168.1.2"); !ok {
		t.Error("IP2 should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	limiter.cfg.enabled = false
	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow(context.Background(), "192.168.1.1"); !ok {
			t.Errorf("request %d should be allowed when rate limiting is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.Allow(context.Background(), "10.0.0.1")

	now = now.Add(3 * time.Minute)
	limiter.cleanup()
	if n := len(limiter.visitors); n != 0 {
		t.Errorf("expected stale visitors to be removed, %d left", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		other      string // a second client that must still pass
	}{
		{name: "ipv4 with port", remoteAddr: "192.168.1.100:12345", other: "192.168.1.101:12345"},
		{name: "x-forwarded-for first hop", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.7, 10.0.0.1", other: "10.0.0.1:80"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:8080", other: "[2001:db8::2]:8080"},
		{name: "ipv4 without port", remoteAddr: "192.168.1.100", other: "192.168.1.200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := rateLimitMiddleware(okHandler(), newTestLimiter(t, 2, time.Minute))

			do := func(remote, forwarded string) *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodGet, "/auth", nil)
				req.RemoteAddr = remote
				if forwarded != "" {
					req.Header.Set("X-Forwarded-For", forwarded)
				}
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				return rr
			}

			for i := 0; i < 2; i++ {
				if rr := do(tt.remoteAddr, tt.forwarded); rr.Code != http.StatusOK {
					t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
				}
			}
			rr := do(tt.remoteAddr, tt.forwarded)
			if rr.Code != http.StatusTooManyRequests {
				t.Errorf("request 3: expected 429, got %d", rr.Code)
			}
			if rr.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
			if rr := do(tt.other, ""); rr.Code != http.StatusOK {
				t.Errorf("other client: expected 200, got %d", rr.Code)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := map[string]struct {
		remote, forwarded, want string
	}{
		"remote with port":  {"192.168.1.1:5000", "", "192.168.1.1"},
		"ipv6 with port":    {"[::1]:5000", "", "::1"},
		"bare remote":       {"192.168.1.1", "", "192.168.1.1"},
		"forwarded":         {"10.0.0.1:1", "203.0.113.7", "203.0.113.7"},
		"forwarded list":    {"10.0.0.1:1", " 203.0.113.7 , 10.0.0.2", "203.0.113.7"},
		"empty first entry": {"10.0.0.1:1", ", 10.0.0.2", "10.0.0.1"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedisRateLimiter(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	ip := "test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { rdb.Del(ctx, "ratelimit:sw:"+ip) })

	limiter := newRedisRateLimiter(rdb, &rateLimiterConfig{enabled: true, backend: "redis", requestsPerIP: 2, window: time.Minute})
	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow(ctx, ip); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retry := limiter.Allow(ctx, ip)
	if ok {
		t.Fatal("request 3 should be rate limited")
	}
	if retry <= 0 || retry > time.Minute {
		t.Errorf("retry hint = %v, want (0, 1m]", retry)
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowedOrigins    []string
		requestOrigin     string
		expectAllowOrigin string
		expectCredentials bool
	}{
		{
			name:              "permissive mode allows all origins",
			permissive:        true,
			requestOrigin:     "https://example.com",
			expectAllowOrigin: "*",
		},
		{
			name:              "restricted mode with matching origin",
			allowedOrigins:    []string{"https://example.com", "https://app.example.com"},
			requestOrigin:     "https://example.com",
			expectAllowOrigin: "https://example.com",
			expectCredentials: true,
		},
		{
			name:           "restricted mode with non-matching origin",
			allowedOrigins: []string{"https://example.com"},
			requestOrigin:  "https://evil.com",
		},
		{
			name:              "wildcard subdomain matching",
			allowedOrigins:    []string{"*.example.com"},
			requestOrigin:     "https://app.example.com",
			expectAllowOrigin: "https://app.example.com",
			expectCredentials: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &corsConfig{permissive: tt.permissive, allowedOrigins: tt.allowedOrigins}
			handler := withCORSConfig(okHandler(), cfg)

			req := httptest.NewRequest(http.MethodGet, "/current-track", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tt.expectAllowOrigin, got)
			}
			if tt.expectCredentials && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected Allow-Credentials: true for restricted mode")
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/webhook", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS response")
	}
}

func TestLoadAuthConfig(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")
	if loadAuthConfig().enabled {
		t.Error("auth should be disabled without credentials")
	}

	t.Setenv("ADMIN_USERNAME", "admin")
	if loadAuthConfig().enabled {
		t.Error("username alone must not enable auth")
	}
	t.Setenv("ADMIN_PASSWORD", "pw")
	if !loadAuthConfig().enabled {
		t.Error("username+password should enable auth")
	}

	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "tok")
	if cfg := loadAuthConfig(); !cfg.enabled || cfg.adminToken != "tok" {
		t.Errorf("token should enable auth, got %+v", cfg)
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_BACKEND", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "")
	cfg := loadRateLimiterConfig()
	if !cfg.enabled || cfg.backend != "memory" || cfg.requestsPerIP != 10 || cfg.window != time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_BACKEND", "Redis")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "25")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	cfg = loadRateLimiterConfig()
	if cfg.enabled || cfg.backend != "redis" || cfg.requestsPerIP != 25 || cfg.window != 30*time.Second {
		t.Errorf("unexpected overrides: %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "-1")
	if cfg := loadRateLimiterConfig(); cfg.requestsPerIP != 10 {
		t.Errorf("invalid value should keep default, got %d", cfg.requestsPerIP)
	}
}

func TestLoadCORSConfig(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_PERMISSIVE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	cfg := loadCORSConfig()
	if cfg.permissive {
		t.Error("production should not be permissive")
	}
	if len(cfg.allowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.allowedOrigins)
	}

	t.Setenv("ENV", "")
	if !loadCORSConfig().permissive {
		t.Error("dev default should be permissive")
	}
	t.Setenv("CORS_PERMISSIVE", "false")
	if loadCORSConfig().permissive {
		t.Error("CORS_PERMISSIVE=false should override dev default")
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://example.com", "*.tunnel.dev"}
	tests := map[string]bool{
		"https://example.com":        true,
		"https://evil.com":           false,
		"https://abc.tunnel.dev":     true,
		"https://tunnel.dev":         true,
		"https://tunnel.dev.evil":    false,
		"https://eviltunnel.dev":     false,
		"http://abc.tunnel.dev:8443": true,
	}
	for origin, want := range tests {
		if got := isOriginAllowed(origin, allowed); got != want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", origin, got, want)
		}
	}
}
