// Package progressbar renders the textual playback bar shown in channels and chat.
package progressbar

import (
	"fmt"
	"strings"
)

const (
	Width  = 20
	Filled = "━"
	Marker = "●"
	Empty  = "─"
)

// Render returns "<elapsed> <bar> -<remaining>", e.g. "0:30 ━━━●──────────────── -2:30".
// The bar has floor(elapsed/duration*Width) filled segments, one marker and
// the remaining empty segments. At the end of a track the marker takes the
// last cell, so the bar never grows past Width. A non-positive duration
// renders an empty bar.
func Render(elapsedMs, durationMs int64) string {
	filled := 0
	if durationMs > 0 {
		filled = int(float64(elapsedMs) / float64(durationMs) * Width)
	}
	filled = max(0, min(filled, Width-1))
	empty := max(0, Width-filled-1)
	var b strings.Builder
	b.WriteString(FormatTime(elapsedMs))
	b.WriteByte(' ')
	b.WriteString(strings.Repeat(Filled, filled))
	b.WriteString(Marker)
	b.WriteString(strings.Repeat(Empty, empty))
	b.WriteString(" -")
	b.WriteString(FormatTime(durationMs - elapsedMs))
	return b.String()
}

// FormatTime formats milliseconds as m:ss with unpadded minutes.
func FormatTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d:%02d", ms/60000, (ms%60000)/1000)
}
