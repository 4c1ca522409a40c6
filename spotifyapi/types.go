package spotifyapi

// CurrentlyPlaying mirrors GET /me/player/currently-playing.
type CurrentlyPlaying struct {
	IsPlaying            bool   `json:"is_playing"`
	ProgressMs           int64  `json:"progress_ms"`
	CurrentlyPlayingType string `json:"currently_playing_type"` // track, episode, ad, unknown
	Item                 *Track `json:"item"`
}

type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DurationMs int64    `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

type Artist struct {
	Name string `json:"name"`
}

type Album struct {
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Image entries are ordered widest first.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CoverURL returns the largest album image, or "".
func (t *Track) CoverURL() string {
	if t == nil || len(t.Album.Images) == 0 {
		return ""
	}
	return t.Album.Images[0].URL
}

// ArtistNames returns the artist names in order.
func (t *Track) ArtistNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return names
}
