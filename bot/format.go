package bot

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const userPrefix = "tg_"

// UserID namespaces a Telegram account id as a storage user id.
func UserID(telegramID int64) string { return userPrefix + strconv.FormatInt(telegramID, 10) }

// TelegramID reverses UserID.
func TelegramID(userID string) (int64, bool) {
	rest, ok := strings.CutPrefix(userID, userPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

var (
	reChannelName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	reChannelLink = regexp.MustCompile(`t\.me/([A-Za-z0-9_]+)`)
)

// ParseChannel accepts "@name" or a t.me link and returns the bare username.
func ParseChannel(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if name, ok := strings.CutPrefix(input, "@"); ok {
		return name, reChannelName.MatchString(name)
	}
	if m := reChannelLink.FindStringSubmatch(input); m != nil {
		return m[1], true
	}
	return "", false
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown escapes the characters legacy Markdown treats as markup.
func EscapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

func authLink(publicURL, userID string) string {
	return fmt.Sprintf("%s/auth?user_id=%s", publicURL, url.QueryEscape(userID))
}
