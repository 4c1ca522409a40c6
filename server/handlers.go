package server

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"github.com/addavriance/spotify-to-tg/nowplaying"
	"github.com/addavriance/spotify-to-tg/poller"
	"github.com/addavriance/spotify-to-tg/spotifyapi"
	"github.com/addavriance/spotify-to-tg/store"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// OAuthProvider builds authorization URLs and exchanges codes.
type OAuthProvider interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (spotifyapi.Token, error)
}

// CredentialWriter persists tokens returned by the authorization flow.
type CredentialWriter interface {
	Put(ctx context.Context, userID string, c store.Credential) error
	Users(ctx context.Context) ([]string, error)
}

type SnapshotSource interface {
	Snapshot(ctx context.Context, userID string) (nowplaying.Snapshot, error)
}

// Cycler runs synchronization on demand.
type Cycler interface {
	RunCycle(ctx context.Context) poller.CycleReport
	SyncUser(ctx context.Context, userID string) error
}

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u tgbotapi.Update) error
}

// Notifier tells a user their account was connected.
type Notifier interface {
	NotifyConnected(ctx context.Context, userID string) error
}

// Deps wires the handlers to the rest of the service. Nil collaborators
// disable the routes that need them (they answer 503).
type Deps struct {
	OAuth       OAuthProvider
	Credentials CredentialWriter
	Snapshots   SnapshotSource
	Cycles      Cycler
	Updates     UpdateHandler
	Notifier    Notifier
	KV          store.KV

	// Ping checks the backing store; nil means always healthy.
	Ping func(ctx context.Context) error
	// Redis enables the distributed rate limiter when RATE_LIMIT_BACKEND=redis.
	Redis *redis.Client

	WebhookSecret string
	BotUsername   string
}

type oauthState struct {
	userID string
	expiry time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	d          Deps
	now        func() time.Time
	stateStore map[string]oauthState
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		d:          d,
		now:        time.Now,
		stateStore: make(map[string]oauthState),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := h.now()
	for state, st := range h.stateStore {
		if now.After(st.expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState remembers which user started the flow. It reports false when
// the store is full even after cleanup.
func (h *Handlers) addOAuthState(state, userID string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		h.cleanExpiredStates()
		if len(h.stateStore) >= maxOAuthStates {
			return false
		}
	}
	h.stateStore[state] = oauthState{userID: userID, expiry: h.now().Add(oauthStateTTL)}
	return true
}

// takeOAuthState consumes a state; each state is valid once.
func (h *Handlers) takeOAuthState(state string) (string, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.stateStore[state]
	if !ok {
		return "", false
	}
	delete(h.stateStore, state)
	if h.now().After(st.expiry) {
		return "", false
	}
	return st.userID, true
}
