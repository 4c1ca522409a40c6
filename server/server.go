// Package server exposes the HTTP API: the streaming-account authorization
// flow, the current-track preview, the Telegram webhook, admin controls,
// health and metrics. Correlation IDs are injected into request contexts for
// consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/addavriance/spotify-to-tg/telemetry"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the lifetime of
// the in-memory rate limiter's sweeper.
func NewMux(ctx context.Context, d Deps) http.Handler {
	limits := loadRateLimiterConfig()
	var limiter RateLimiter
	backend := "memory"
	if limits.backend == "redis" && d.Redis != nil {
		backend = "redis"
		limiter = newRedisRateLimiter(d.Redis, limits)
	} else {
		limiter = newIPRateLimiter(ctx, limits)
	}
	slog.Info("rate limiter ready",
		slog.String("backend", backend),
		slog.Bool("enabled", limits.enabled),
		slog.String("component", "http"))

	mux := routes(NewHandlers(d))
	return withCORSConfig(instrument(guard(mux, loadAuthConfig(), limiter)), loadCORSConfig())
}

func routes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/{$}", h.HandleRoot)

	mux.HandleFunc("/auth", h.HandleAuthStart)
	mux.HandleFunc("/auth/callback", h.HandleAuthCallback)
	mux.HandleFunc("/current-track", h.HandleCurrentTrack)
	mux.HandleFunc("/webhook", h.HandleWebhook)

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)

	mux.HandleFunc("/admin/refresh", h.HandleAdminRefresh)
	mux.HandleFunc("/admin/monitor", h.HandleAdminMonitor)
	return mux
}

// guard puts admin routes behind auth and rate limiting. /auth is rate
// limited on its own because every call mints a pending OAuth state.
func guard(mux http.Handler, auth *authConfig, limiter RateLimiter) http.Handler {
	limited := rateLimitMiddleware(mux, limiter)
	admin := adminAuth(limited, auth)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/admin/"):
			admin.ServeHTTP(w, r)
		case r.URL.Path == "/auth":
			limited.ServeHTTP(w, r)
		default:
			mux.ServeHTTP(w, r)
		}
	})
}

// instrument tags each request with a correlation id and a server span. The
// span carries the path only; the webhook secret travels in the query.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corr)
		ctx := telemetry.WithCorrelation(r.Context(), corr)

		ctx, span := telemetry.StartHTTPSpan(ctx, r.Method, r.URL.Path)
		defer span.End()

		log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "http"))
		log.Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.EndHTTPSpan(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, d Deps, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewMux(ctx, d),
		// the webhook may bind a channel, which waits out the settle delay
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
