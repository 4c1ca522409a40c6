package server

import (
	"html/template"
	"log/slog"
	"net/http"
)

var pages = template.Must(template.New("base").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#121212;color:#fff;display:flex;min-height:100vh;align-items:center;justify-content:center;margin:0}
main{max-width:420px;padding:32px;text-align:center}
a.button{display:inline-block;margin-top:16px;padding:12px 24px;border-radius:24px;background:#1db954;color:#000;text-decoration:none;font-weight:600}
p.muted{color:#b3b3b3}
</style>
</head>
<body><main>
<h1>{{.Heading}}</h1>
{{range .Lines}}<p>{{.}}</p>{{end}}
{{if .Detail}}<p class="muted">{{.Detail}}</p>{{end}}
{{if .BotURL}}<a class="button" href="{{.BotURL}}">Open the bot</a>{{end}}
</main></body>
</html>`))

type page struct {
	Title   string
	Heading string
	Lines   []string
	Detail  string
	BotURL  string
}

func botURL(username string) string {
	if username == "" {
		return ""
	}
	return "https://t.me/" + username
}

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.Execute(w, p); err != nil {
		slog.Warn("failed to render page", slog.Any("err", err), slog.String("component", "http"))
	}
}

func landingPage(botUsername string) page {
	return page{
		Title:   "Spotify Status Bot",
		Heading: "🎵 Spotify Status Bot",
		Lines:   []string{"Show what you are listening to through a Telegram channel in your profile."},
		BotURL:  botURL(botUsername),
	}
}

func successPage(botUsername string) page {
	return page{
		Title:   "Connected",
		Heading: "🎉 Spotify connected",
		Lines:   []string{"You can close this page and return to Telegram.", "Next step: set up your channel with /channel @your_channel."},
		BotURL:  botURL(botUsername),
	}
}

func errorPage(msg, detail string) page {
	return page{Title: "Authorization error", Heading: "❌ " + msg, Detail: detail}
}
