package oauth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/addavriance/spotify-to-tg/store"
)

func newStore(t *testing.T) *store.CredentialStore {
	t.Helper()
	return store.NewCredentialStore(store.NewMemoryKV(), nil)
}

func TestTokenNotConnected(t *testing.T) {
	r := NewRefresher(newStore(t), nil)
	if _, err := r.Token(context.Background(), "tg_1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestTokenValidSkipsRefresh(t *testing.T) {
	ctx := context.Background()
	cs := newStore(t)
	_ = cs.Put(ctx, "tg_1", store.Credential{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})

	called := false
	r := NewRefresher(cs, func(context.Context, string) (string, string, time.Time, string, error) {
		called = true
		return "", "", time.Time{}, "", nil
	})
	tok, err := r.Token(ctx, "tg_1")
	if err != nil || tok != "live" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	if called {
		t.Error("refresh should not be called for a valid token")
	}
}

func TestTokenExpiredRefreshesAndKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	cs := newStore(t)
	_ = cs.Put(ctx, "tg_1", store.Credential{AccessToken: "old", RefreshToken: "keep-me", Scope: "s1", ExpiresAt: time.Now().Add(-time.Minute)})

	newExp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	r := NewRefresher(cs, func(_ context.Context, rt string) (string, string, time.Time, string, error) {
		if rt != "keep-me" {
			t.Errorf("refresh called with %q", rt)
		}
		return "fresh", "", newExp, "", nil
	})
	tok, err := r.Token(ctx, "tg_1")
	if err != nil || tok != "fresh" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	got, _ := cs.Get(ctx, "tg_1")
	if got.AccessToken != "fresh" || got.RefreshToken != "keep-me" || got.Scope != "s1" {
		t.Errorf("stored = %+v", got)
	}
	if !got.ExpiresAt.Equal(newExp) {
		t.Errorf("expiry = %v, want %v", got.ExpiresAt, newExp)
	}
}

func TestTokenRefreshFailureLeavesCredential(t *testing.T) {
	ctx := context.Background()
	cs := newStore(t)
	orig := store.Credential{AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute)}
	_ = cs.Put(ctx, "tg_1", orig)

	r := NewRefresher(cs, func(context.Context, string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("invalid_grant")
	})
	if _, err := r.Token(ctx, "tg_1"); err == nil {
		t.Fatal("expected error")
	}
	got, _ := cs.Get(ctx, "tg_1")
	if got.AccessToken != "old" || got.RefreshToken != "r" {
		t.Errorf("credential mutated after failed refresh: %+v", got)
	}
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	ctx := context.Background()
	cs := newStore(t)
	_ = cs.Put(ctx, "tg_1", store.Credential{AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute)})

	var calls int32
	release := make(chan struct{})
	r := NewRefresher(cs, func(context.Context, string) (string, string, time.Time, string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "fresh", "", time.Now().Add(time.Hour), "", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Token(ctx, "tg_1"); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := atomic.LoadInt32(&calls); n < 1 || n > 2 {
		t.Errorf("refresh calls = %d, want 1 (at most 2 if a goroutine arrived after the flight)", n)
	}
}

func TestSweepRefreshesOnlyWithinWindow(t *testing.T) {
	ctx := context.Background()
	cs := newStore(t)
	_ = cs.Put(ctx, "soon", store.Credential{AccessToken: "a", RefreshToken: "r1", ExpiresAt: time.Now().Add(5 * time.Minute)})
	_ = cs.Put(ctx, "later", store.Credential{AccessToken: "b", RefreshToken: "r2", ExpiresAt: time.Now().Add(2 * time.Hour)})
	_ = cs.Put(ctx, "norefresh", store.Credential{AccessToken: "c", ExpiresAt: time.Now()})

	var seen []string
	r := NewRefresher(cs, func(_ context.Context, rt string) (string, string, time.Time, string, error) {
		seen = append(seen, rt)
		return "new", "", time.Now().Add(time.Hour), "", nil
	})
	n := r.sweep(ctx, slog.Default(), 15*time.Minute)
	if n != 1 || len(seen) != 1 || seen[0] != "r1" {
		t.Errorf("sweep refreshed %d (%v), want only r1", n, seen)
	}
}

func TestStartRefresherStopsOnCancel(t *testing.T) {
	cs := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var calls int32
	r := NewRefresher(cs, func(context.Context, string) (string, string, time.Time, string, error) {
		atomic.AddInt32(&calls, 1)
		return "", "", time.Time{}, "", nil
	})
	StartRefresher(ctx, r, 20*time.Millisecond, time.Minute)
	<-ctx.Done()
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no credentials stored, refresh should not be called")
	}
}

func TestStartRefresherWithinWindow(t *testing.T) {
	cs := newStore(t)
	_ = cs.Put(context.Background(), "tg_1", store.Credential{AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(2 * time.Minute)})

	done := make(chan struct{}, 1)
	r := NewRefresher(cs, func(context.Context, string) (string, string, time.Time, string, error) {
		select {
		case done <- struct{}{}:
		default:
		}
		return "new", "", time.Now().Add(time.Hour), "", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, r, 40*time.Millisecond, 10*time.Minute)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh not called for credential expiring within window")
	}
}
