package nowplaying

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addavriance/spotify-to-tg/spotifyapi"
)

type fakeTokens struct {
	tok string
	err error
}

func (f fakeTokens) Token(context.Context, string) (string, error) { return f.tok, f.err }

type fakeAPI struct {
	cp      *spotifyapi.CurrentlyPlaying
	err     error
	gotAuth string
}

func (f *fakeAPI) CurrentlyPlaying(_ context.Context, tok string) (*spotifyapi.CurrentlyPlaying, error) {
	f.gotAuth = tok
	return f.cp, f.err
}

func track(id string) *spotifyapi.Track {
	return &spotifyapi.Track{
		ID:         id,
		Name:       "Song " + id,
		DurationMs: 180000,
		Artists:    []spotifyapi.Artist{{Name: "A1"}, {Name: "A2"}},
		Album:      spotifyapi.Album{Images: []spotifyapi.Image{{URL: "https://img/" + id}}},
	}
}

func TestSnapshotPlaying(t *testing.T) {
	api := &fakeAPI{cp: &spotifyapi.CurrentlyPlaying{IsPlaying: true, ProgressMs: 30000, CurrentlyPlayingType: "track", Item: track("B")}}
	p := NewProvider(fakeTokens{tok: "tok"}, api)

	snap, err := p.Snapshot(context.Background(), "tg_1")
	require.NoError(t, err)
	assert.Equal(t, "tok", api.gotAuth)
	assert.True(t, snap.Playing)
	assert.Equal(t, "B", snap.TrackID)
	assert.Equal(t, "Song B", snap.Title)
	assert.Equal(t, "A1, A2", snap.ArtistLine())
	assert.Equal(t, "https://img/B", snap.CoverURL)
	assert.EqualValues(t, 30000, snap.ElapsedMs)
	assert.EqualValues(t, 180000, snap.DurationMs)
}

func TestSnapshotNothingPlaying(t *testing.T) {
	cases := map[string]*spotifyapi.CurrentlyPlaying{
		"no content": nil,
		"paused":     {IsPlaying: false, Item: track("A")},
		"no item":    {IsPlaying: true},
		"episode":    {IsPlaying: true, CurrentlyPlayingType: "episode", Item: track("E")},
	}
	for name, cp := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewProvider(fakeTokens{tok: "tok"}, &fakeAPI{cp: cp})
			snap, err := p.Snapshot(context.Background(), "tg_1")
			require.NoError(t, err)
			assert.False(t, snap.Playing)
			assert.Empty(t, snap.TrackID)
		})
	}
}

func TestSnapshotCredentialError(t *testing.T) {
	sentinel := errors.New("not connected")
	api := &fakeAPI{}
	p := NewProvider(fakeTokens{err: sentinel}, api)
	_, err := p.Snapshot(context.Background(), "tg_1")
	assert.ErrorIs(t, err, sentinel)
	assert.Empty(t, api.gotAuth, "api must not be called without a token")
}

func TestSnapshotUnauthorized(t *testing.T) {
	p := NewProvider(fakeTokens{tok: "tok"}, &fakeAPI{err: spotifyapi.ErrUnauthorized})
	_, err := p.Snapshot(context.Background(), "tg_1")
	assert.ErrorIs(t, err, spotifyapi.ErrUnauthorized)
}

func TestSnapshotWithoutCover(t *testing.T) {
	tr := track("C")
	tr.Album.Images = nil
	snap := FromCurrentlyPlaying(&spotifyapi.CurrentlyPlaying{IsPlaying: true, Item: tr})
	assert.True(t, snap.Playing)
	assert.Empty(t, snap.CoverURL)
}
