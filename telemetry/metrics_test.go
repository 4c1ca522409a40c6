package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent

	if SyncCycles == nil || ChannelWrites == nil || CleanupDeletes == nil || CredentialRefreshes == nil {
		t.Fatal("counters not initialized")
	}
	if CycleDuration == nil || SyncDuration == nil || KnownUsers == nil {
		t.Fatal("histograms/gauges not initialized")
	}
}

func TestRecordWriteLabels(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(ChannelWrites.WithLabelValues("title", "ok"))
	errBefore := testutil.ToFloat64(ChannelWrites.WithLabelValues("photo", "error"))

	RecordWrite(context.Background(), "title", nil)
	RecordWrite(context.Background(), "photo", errors.New("boom"))

	if got := testutil.ToFloat64(ChannelWrites.WithLabelValues("title", "ok")); got != okBefore+1 {
		t.Errorf("title ok = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(ChannelWrites.WithLabelValues("photo", "error")); got != errBefore+1 {
		t.Errorf("photo error = %v, want %v", got, errBefore+1)
	}
}

func TestRecordersAndGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(CleanupDeletes.WithLabelValues("error"))
	RecordCleanupDelete(errors.New("gone"))
	if got := testutil.ToFloat64(CleanupDeletes.WithLabelValues("error")); got != before+1 {
		t.Errorf("cleanup error = %v", got)
	}
	RecordRefresh(nil)
	RecordBotUpdate("command")
	SetKnownUsers(3)
	if got := testutil.ToFloat64(KnownUsers); got != 3 {
		t.Errorf("known users = %v", got)
	}
}

func TestRecordCycle(t *testing.T) {
	Init()
	cycles := testutil.ToFloat64(SyncCycles)
	failures := testutil.ToFloat64(SyncUserErrors)

	RecordCycle(0)
	RecordCycle(2)

	if got := testutil.ToFloat64(SyncCycles); got != cycles+2 {
		t.Errorf("cycles = %v, want %v", got, cycles+2)
	}
	if got := testutil.ToFloat64(SyncUserErrors); got != failures+2 {
		t.Errorf("user errors = %v, want %v", got, failures+2)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_duration_seconds", Help: "Test duration"})
	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", d)
	}
	if n := testutil.CollectAndCount(h); n != 1 {
		t.Errorf("collected %d metrics, want 1", n)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("GetCorrelation = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("nil logger")
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("short"); got != "***" {
		t.Errorf("MaskToken(short) = %q", got)
	}
	if got := MaskToken("BQD1234567890abcdef"); got != "***abcdef" {
		t.Errorf("MaskToken = %q", got)
	}
}
