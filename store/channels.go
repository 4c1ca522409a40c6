package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const channelPrefix = "channel:"

// Binding links a user to the broadcast channel mirroring their playback.
// LastTrackID == nil means the channel shows the idle presentation.
type Binding struct {
	Channel        string    `json:"channel"`
	CreatedAt      time.Time `json:"created_at"`
	MessageID      *int      `json:"message_id"`
	LastTrackID    *string   `json:"last_track_id"`
	LastTrackImage *string   `json:"last_track_image"`
}

// NewBinding returns a fresh binding for channel with nothing written yet.
func NewBinding(channel string, now time.Time) Binding {
	return Binding{Channel: channel, CreatedAt: now.UTC()}
}

// Idle reports whether the last presentation written was the idle one.
func (b Binding) Idle() bool { return b.LastTrackID == nil }

// legacyBinding is the unversioned blob: "username" instead of "channel", ms timestamps.
type legacyBinding struct {
	Username       string  `json:"username"`
	CreatedAt      int64   `json:"created_at"`
	MessageID      *int    `json:"message_id"`
	LastTrackID    *string `json:"last_track_id"`
	LastTrackImage *string `json:"last_track_image"`
}

// ChannelStore maps user id to Binding under channel:<id>.
type ChannelStore struct {
	kv KV
}

func NewChannelStore(kv KV) *ChannelStore { return &ChannelStore{kv: kv} }

func channelKey(userID string) string { return channelPrefix + userID }

// Get returns ErrNotFound when no channel is bound.
func (s *ChannelStore) Get(ctx context.Context, userID string) (Binding, error) {
	raw, err := s.kv.Get(ctx, channelKey(userID))
	if err != nil {
		return Binding{}, err
	}
	version, data, err := unwrap(raw)
	if err != nil {
		return Binding{}, fmt.Errorf("binding %s: %w", userID, err)
	}
	if version == 0 {
		var old legacyBinding
		if err := json.Unmarshal(data, &old); err != nil {
			return Binding{}, fmt.Errorf("binding %s: decode legacy: %w", userID, err)
		}
		return Binding{
			Channel:        old.Username,
			CreatedAt:      time.UnixMilli(old.CreatedAt).UTC(),
			MessageID:      old.MessageID,
			LastTrackID:    old.LastTrackID,
			LastTrackImage: old.LastTrackImage,
		}, nil
	}
	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return Binding{}, fmt.Errorf("binding %s: decode: %w", userID, err)
	}
	return b, nil
}

// Save overwrites the binding for userID.
func (s *ChannelStore) Save(ctx context.Context, userID string, b Binding) error {
	raw, err := wrap(b)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, channelKey(userID), raw)
}

func (s *ChannelStore) Delete(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, channelKey(userID))
}
