// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SyncCycles          prometheus.Counter
	SyncUserErrors      prometheus.Counter
	ChannelWrites       *prometheus.CounterVec // kind=title|photo|message_send|message_edit, result=ok|error
	CleanupDeletes      *prometheus.CounterVec // result=ok|error
	CredentialRefreshes *prometheus.CounterVec // result=ok|error
	BotUpdates          *prometheus.CounterVec // kind=command|callback|other

	// Histograms (seconds)
	CycleDuration prometheus.Observer
	SyncDuration  prometheus.Observer

	// Gauges
	KnownUsers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SyncCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "spotify_tg_sync_cycles_total", Help: "Number of polling cycles run"})
		SyncUserErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "spotify_tg_sync_user_errors_total", Help: "Number of per-user synchronization failures"})
		ChannelWrites = promauto.NewCounterVec(prometheus.CounterOpts{Name: "spotify_tg_channel_writes_total", Help: "Remote channel writes by kind and result"}, []string{"kind", "result"})
		CleanupDeletes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "spotify_tg_cleanup_deletes_total", Help: "Message deletions attempted by cleanup"}, []string{"result"})
		CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "spotify_tg_credential_refreshes_total", Help: "Access token refreshes by result"}, []string{"result"})
		BotUpdates = promauto.NewCounterVec(prometheus.CounterOpts{Name: "spotify_tg_bot_updates_total", Help: "Inbound bot updates by kind"}, []string{"kind"})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "spotify_tg_cycle_duration_seconds", Help: "Polling cycle duration seconds", Buckets: prometheus.DefBuckets})
		SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "spotify_tg_sync_duration_seconds", Help: "Single user synchronization duration seconds", Buckets: prometheus.DefBuckets})
		KnownUsers = promauto.NewGauge(prometheus.GaugeOpts{Name: "spotify_tg_known_users", Help: "Users with stored credentials seen by the last cycle"})
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordWrite counts a channel write of kind with its outcome and notes it
// on the active sync span.
func RecordWrite(ctx context.Context, kind string, err error) {
	writeEvent(ctx, kind, err)
	if ChannelWrites != nil {
		ChannelWrites.WithLabelValues(kind, result(err)).Inc()
	}
}

// RecordCleanupDelete counts one cleanup deletion attempt.
func RecordCleanupDelete(err error) {
	if CleanupDeletes != nil {
		CleanupDeletes.WithLabelValues(result(err)).Inc()
	}
}

// RecordRefresh counts a credential refresh attempt.
func RecordRefresh(err error) {
	if CredentialRefreshes != nil {
		CredentialRefreshes.WithLabelValues(result(err)).Inc()
	}
}

// RecordBotUpdate counts an inbound update.
func RecordBotUpdate(kind string) {
	if BotUpdates != nil {
		BotUpdates.WithLabelValues(kind).Inc()
	}
}

// RecordCycle counts a finished polling cycle and its failed users.
func RecordCycle(failed int) {
	if SyncCycles != nil {
		SyncCycles.Inc()
	}
	if SyncUserErrors != nil && failed > 0 {
		SyncUserErrors.Add(float64(failed))
	}
}

// SetKnownUsers records how many users the last cycle iterated.
func SetKnownUsers(n int) {
	if KnownUsers != nil {
		KnownUsers.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

// MaskToken keeps only the tail of a secret for logging.
func MaskToken(tok string) string {
	if len(tok) <= 8 {
		return "***"
	}
	return "***" + tok[len(tok)-6:]
}
