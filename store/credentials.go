package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/addavriance/spotify-to-tg/crypto"
)

const credentialPrefix = "credential:"

// Credential is a user's OAuth record for the streaming account.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token must be refreshed before use at now.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(c.ExpiresAt)
}

type credentialV1 struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Sealed       bool      `json:"sealed,omitempty"`
}

// credentialV0 is the unversioned blob: millisecond timestamps, plaintext tokens.
type credentialV0 struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	CreatedAt    int64  `json:"created_at"`
}

// CredentialStore maps user id to Credential under credential:<id>.
type CredentialStore struct {
	kv     KV
	sealer crypto.Sealer
	now    func() time.Time
}

// NewCredentialStore creates a store; a nil sealer stores tokens in plaintext.
func NewCredentialStore(kv KV, sealer crypto.Sealer) *CredentialStore {
	if sealer == nil {
		sealer = crypto.Plaintext{}
	}
	return &CredentialStore{kv: kv, sealer: sealer, now: time.Now}
}

func credentialKey(userID string) string { return credentialPrefix + userID }

// Get returns ErrNotFound when the user never authorized (or disconnected).
func (s *CredentialStore) Get(ctx context.Context, userID string) (Credential, error) {
	raw, err := s.kv.Get(ctx, credentialKey(userID))
	if err != nil {
		return Credential{}, err
	}
	version, data, err := unwrap(raw)
	if err != nil {
		return Credential{}, fmt.Errorf("credential %s: %w", userID, err)
	}
	if version == 0 {
		var old credentialV0
		if err := json.Unmarshal(data, &old); err != nil {
			return Credential{}, fmt.Errorf("credential %s: decode legacy: %w", userID, err)
		}
		return Credential{
			AccessToken:  old.AccessToken,
			RefreshToken: old.RefreshToken,
			ExpiresAt:    time.UnixMilli(old.ExpiresAt).UTC(),
			CreatedAt:    time.UnixMilli(old.CreatedAt).UTC(),
		}, nil
	}
	var rec credentialV1
	if err := json.Unmarshal(data, &rec); err != nil {
		return Credential{}, fmt.Errorf("credential %s: decode: %w", userID, err)
	}
	c := Credential{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Scope:        rec.Scope,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.Sealed {
		if c.AccessToken, err = s.sealer.Open(rec.AccessToken); err != nil {
			return Credential{}, fmt.Errorf("credential %s: open access token: %w", userID, err)
		}
		if c.RefreshToken, err = s.sealer.Open(rec.RefreshToken); err != nil {
			return Credential{}, fmt.Errorf("credential %s: open refresh token: %w", userID, err)
		}
	}
	return c, nil
}

// Put writes c, stamping UpdatedAt and CreatedAt when unset.
func (s *CredentialStore) Put(ctx context.Context, userID string, c Credential) error {
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	rec := credentialV1{
		Scope:     strings.TrimSpace(c.Scope),
		ExpiresAt: c.ExpiresAt.UTC(),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	_, plain := s.sealer.(crypto.Plaintext)
	rec.Sealed = !plain
	var err error
	if rec.AccessToken, err = s.sealer.Seal(c.AccessToken); err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if rec.RefreshToken, err = s.sealer.Seal(c.RefreshToken); err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	raw, err := wrap(rec)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, credentialKey(userID), raw)
}

func (s *CredentialStore) Delete(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, credentialKey(userID))
}

// Users lists every user id with a stored credential.
func (s *CredentialStore) Users(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, credentialPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, credentialPrefix))
	}
	return ids, nil
}

// Exists reports whether a credential is stored for userID.
func (s *CredentialStore) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.kv.Get(ctx, credentialKey(userID))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Sealed reports whether the stored tokens for userID are encrypted at rest.
// Legacy records never are.
func (s *CredentialStore) Sealed(ctx context.Context, userID string) (bool, error) {
	raw, err := s.kv.Get(ctx, credentialKey(userID))
	if err != nil {
		return false, err
	}
	version, data, err := unwrap(raw)
	if err != nil {
		return false, fmt.Errorf("credential %s: %w", userID, err)
	}
	if version == 0 {
		return false, nil
	}
	var rec credentialV1
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("credential %s: decode: %w", userID, err)
	}
	return rec.Sealed, nil
}
