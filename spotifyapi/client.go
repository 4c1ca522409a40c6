// Package spotifyapi is a thin client for the parts of the Spotify Web API the
// bot needs: the authorization-code flow and the currently-playing endpoint.
package spotifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const defaultAPIBase = "https://api.spotify.com/v1"

// ErrUnauthorized means the access token was rejected (revoked or expired early).
var ErrUnauthorized = errors.New("spotify: unauthorized")

// Config configures a Client. AuthURL, TokenURL and APIBase default to Spotify's.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	APIBase    string
	HTTPClient *http.Client
}

// Client wraps an oauth2.Config and an HTTP client.
type Client struct {
	oauth   *oauth2.Config
	apiBase string
	hc      *http.Client
}

// Token is the result of a code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	Scope        string
	Expiry       time.Time
}

func New(cfg Config) *Client {
	ep := endpoints.Spotify
	ep.AuthStyle = oauth2.AuthStyleInHeader
	if cfg.AuthURL != "" {
		ep.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		ep.TokenURL = cfg.TokenURL
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     ep,
		},
		apiBase: base,
		hc:      hc,
	}
}

// AuthorizationURL builds the consent URL carrying state.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (Token, error) {
	if code == "" {
		return Token{}, errors.New("missing authorization code")
	}
	tok, err := c.oauth.Exchange(c.oauthCtx(ctx), code)
	if err != nil {
		return Token{}, fmt.Errorf("spotify code exchange: %w", err)
	}
	return fromOAuth(tok), nil
}

// Refresh obtains a new access token from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, errors.New("missing refresh token")
	}
	ts := c.oauth.TokenSource(c.oauthCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return Token{}, fmt.Errorf("spotify token refresh: %w", err)
	}
	out := fromOAuth(tok)
	if out.RefreshToken == refreshToken {
		out.RefreshToken = ""
	}
	return out, nil
}

// CurrentlyPlaying returns the user's current playback, or nil when nothing is
// playing (HTTP 204).
func (c *Client) CurrentlyPlaying(ctx context.Context, accessToken string) (*CurrentlyPlaying, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/me/player/currently-playing", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("spotify currently-playing failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var cp CurrentlyPlaying
	if err := json.NewDecoder(resp.Body).Decode(&cp); err != nil {
		return nil, fmt.Errorf("decode currently-playing: %w", err)
	}
	return &cp, nil
}

func (c *Client) oauthCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.hc)
}

func fromOAuth(tok *oauth2.Token) Token {
	out := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if s, ok := tok.Extra("scope").(string); ok {
		out.Scope = s
	}
	if out.Expiry.IsZero() {
		out.Expiry = ComputeExpiry(0)
	}
	return out
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
