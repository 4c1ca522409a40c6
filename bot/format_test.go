package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserIDRoundTrip(t *testing.T) {
	assert.Equal(t, "tg_123", UserID(123))
	id, ok := TelegramID("tg_123")
	assert.True(t, ok)
	assert.EqualValues(t, 123, id)

	for _, bad := range []string{"123", "tg_", "tg_abc", "sp_1"} {
		_, ok := TelegramID(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseChannel(t *testing.T) {
	cases := map[string]string{
		"@music":                "music",
		"  @my_channel ":        "my_channel",
		"https://t.me/music_01": "music_01",
		"t.me/music":            "music",
	}
	for in, want := range cases {
		got, ok := ParseChannel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "music", "@", "@bad name", "https://example.com/music"} {
		_, ok := ParseChannel(bad)
		assert.False(t, ok, bad)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "a\\_b \\*c\\* \\[d] \\`e\\`", EscapeMarkdown("a_b *c* [d] `e`"))
	assert.Equal(t, "Hello (World)!", EscapeMarkdown("Hello (World)!"))
}
