// Package oauth keeps per-user streaming credentials fresh. Token refreshes on
// demand when the stored access token is expired; StartRefresher proactively
// refreshes credentials whose expiry falls within a window, with jittered checks.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

// ErrNotConnected is returned for users without a stored credential.
var ErrNotConnected = errors.New("oauth: user has not connected a streaming account")

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
// An empty refresh token means the provider did not rotate it.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// CredentialStore is the subset of store.CredentialStore the refresher needs.
type CredentialStore interface {
	Get(ctx context.Context, userID string) (store.Credential, error)
	Put(ctx context.Context, userID string, c store.Credential) error
	Users(ctx context.Context) ([]string, error)
}

// Refresher hands out valid access tokens, refreshing and persisting as needed.
// Concurrent refreshes for one user collapse into a single provider call.
type Refresher struct {
	creds CredentialStore
	fn    RefreshFunc
	skew  time.Duration
	now   func() time.Time
	group singleflight.Group
}

// NewRefresher returns a Refresher that treats tokens expiring within 30s as expired.
func NewRefresher(creds CredentialStore, fn RefreshFunc) *Refresher {
	return &Refresher{creds: creds, fn: fn, skew: 30 * time.Second, now: time.Now}
}

// Token returns a usable access token for userID. A refresh failure leaves the
// stored credential untouched.
func (r *Refresher) Token(ctx context.Context, userID string) (string, error) {
	c, err := r.creds.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotConnected
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if !c.Expired(r.now(), r.skew) {
		return c.AccessToken, nil
	}
	c, err = r.Refresh(ctx, userID)
	if err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

// Refresh forces a refresh for userID and persists the result.
func (r *Refresher) Refresh(ctx context.Context, userID string) (store.Credential, error) {
	v, err, _ := r.group.Do(userID, func() (any, error) {
		// re-read inside the flight so a refresh that just landed is reused
		c, err := r.creds.Get(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Credential{}, ErrNotConnected
		}
		if err != nil {
			return store.Credential{}, fmt.Errorf("load credential: %w", err)
		}
		if c.RefreshToken == "" {
			return store.Credential{}, fmt.Errorf("credential for %s has no refresh token", userID)
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		at, rt, exp, scope, err := r.fn(rctx, c.RefreshToken)
		telemetry.RecordRefresh(err)
		if err != nil {
			return store.Credential{}, fmt.Errorf("refresh credential: %w", err)
		}
		c.AccessToken = at
		if rt != "" {
			c.RefreshToken = rt
		}
		if scope != "" {
			c.Scope = strings.TrimSpace(scope)
		}
		c.ExpiresAt = exp
		if err := r.creds.Put(ctx, userID, c); err != nil {
			return store.Credential{}, fmt.Errorf("persist refreshed credential: %w", err)
		}
		return c, nil
	})
	if err != nil {
		return store.Credential{}, err
	}
	return v.(store.Credential), nil
}

// StartRefresher launches a goroutine that periodically walks every stored
// credential and refreshes those whose remaining lifetime is <= window.
// interval: how often to wake up and check.
func StartRefresher(ctx context.Context, r *Refresher, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresher"))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			r.sweep(ctx, log, window)
			// per-iteration jitter of ±20% of interval
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// sweep refreshes every credential expiring within window. It returns the
// number of successful refreshes.
func (r *Refresher) sweep(ctx context.Context, log *slog.Logger, window time.Duration) int {
	users, err := r.creds.Users(ctx)
	if err != nil {
		log.Warn("list credentials failed", slog.Any("err", err))
		return 0
	}
	refreshed := 0
	for _, id := range users {
		if ctx.Err() != nil {
			return refreshed
		}
		c, err := r.creds.Get(ctx, id)
		if err != nil || c.RefreshToken == "" {
			continue
		}
		if c.ExpiresAt.Sub(r.now()) > window {
			continue
		}
		if _, err := r.Refresh(ctx, id); err != nil {
			log.Warn("token refresh failed", slog.String("user_id", id), slog.Any("err", err))
			continue
		}
		refreshed++
		log.Info("token refreshed", slog.String("user_id", id))
	}
	return refreshed
}
