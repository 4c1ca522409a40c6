// Package nowplaying turns a user's streaming playback into a Snapshot.
package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/addavriance/spotify-to-tg/spotifyapi"
)

// Snapshot describes what a user is playing right now. The zero value means
// nothing is playing.
type Snapshot struct {
	Playing    bool     `json:"is_playing"`
	TrackID    string   `json:"track_id,omitempty"`
	Title      string   `json:"title,omitempty"`
	Artists    []string `json:"artists,omitempty"`
	CoverURL   string   `json:"cover_url,omitempty"`
	ElapsedMs  int64    `json:"progress_ms"`
	DurationMs int64    `json:"duration_ms"`
}

// ArtistLine joins artist names with ", ".
func (s Snapshot) ArtistLine() string { return strings.Join(s.Artists, ", ") }

// TokenSource yields a valid access token for a user.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// PlaybackAPI is the currently-playing capability of the streaming API.
type PlaybackAPI interface {
	CurrentlyPlaying(ctx context.Context, accessToken string) (*spotifyapi.CurrentlyPlaying, error)
}

// Provider fetches snapshots, refreshing credentials transparently.
type Provider struct {
	tokens TokenSource
	api    PlaybackAPI
}

func NewProvider(tokens TokenSource, api PlaybackAPI) *Provider {
	return &Provider{tokens: tokens, api: api}
}

// Snapshot returns the user's playback. Credential errors are returned
// unwrapped enough for errors.Is against the token source's sentinels.
func (p *Provider) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	tok, err := p.tokens.Token(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("credentials for %s: %w", userID, err)
	}
	cp, err := p.api.CurrentlyPlaying(ctx, tok)
	if err != nil {
		if errors.Is(err, spotifyapi.ErrUnauthorized) {
			return Snapshot{}, fmt.Errorf("credentials for %s: %w", userID, err)
		}
		return Snapshot{}, fmt.Errorf("currently playing for %s: %w", userID, err)
	}
	return FromCurrentlyPlaying(cp), nil
}

// FromCurrentlyPlaying maps the API payload. Paused playback, an empty
// response and non-track items (episodes, ads) are all "nothing playing".
func FromCurrentlyPlaying(cp *spotifyapi.CurrentlyPlaying) Snapshot {
	if cp == nil || !cp.IsPlaying || cp.Item == nil || cp.Item.ID == "" {
		return Snapshot{}
	}
	if cp.CurrentlyPlayingType != "" && cp.CurrentlyPlayingType != "track" {
		return Snapshot{}
	}
	return Snapshot{
		Playing:    true,
		TrackID:    cp.Item.ID,
		Title:      cp.Item.Name,
		Artists:    cp.Item.ArtistNames(),
		CoverURL:   cp.Item.CoverURL(),
		ElapsedMs:  cp.ProgressMs,
		DurationMs: cp.Item.DurationMs,
	}
}
