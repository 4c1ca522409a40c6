// Package bot routes chat commands and inline-button callbacks.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/addavriance/spotify-to-tg/nowplaying"
	"github.com/addavriance/spotify-to-tg/oauth"
	"github.com/addavriance/spotify-to-tg/poller"
	"github.com/addavriance/spotify-to-tg/progressbar"
	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telegram"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

// Messenger is what the router needs from the Bot API client.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, id, text string) error
	BotIsAdmin(ctx context.Context, channel string) (bool, error)
}

type Credentials interface {
	Get(ctx context.Context, userID string) (store.Credential, error)
	Delete(ctx context.Context, userID string) error
}

type Channels interface {
	Get(ctx context.Context, userID string) (store.Binding, error)
}

type Snapshots interface {
	Snapshot(ctx context.Context, userID string) (nowplaying.Snapshot, error)
}

// ChannelBinder stores a new binding and writes the channel's first
// presentation, serialized with that user's scheduled syncs.
type ChannelBinder interface {
	InitializeUser(ctx context.Context, userID string, b store.Binding) (store.Binding, error)
}

type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) error
}

// Deps wires a Router.
type Deps struct {
	Messenger   Messenger
	Credentials Credentials
	Channels    Channels
	Snapshots   Snapshots
	Binder      ChannelBinder
	Syncer      UserSyncer
	PublicURL   string
	BotUsername string
	Logger      *slog.Logger
	Now         func() time.Time
}

// Router handles inbound updates.
type Router struct {
	d   Deps
	log *slog.Logger
}

func NewRouter(d Deps) *Router {
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{d: d, log: log.With(slog.String("component", "bot"))}
}

// HandleUpdate dispatches one update. Only reply failures are returned.
func (r *Router) HandleUpdate(ctx context.Context, u tgbotapi.Update) error {
	switch {
	case u.Message != nil && u.Message.From != nil:
		telemetry.RecordBotUpdate("command")
		return r.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		telemetry.RecordBotUpdate("callback")
		return r.handleCallback(ctx, u.CallbackQuery)
	default:
		telemetry.RecordBotUpdate("other")
		return nil
	}
}

// Poll consumes long-polling updates until ctx ends or the channel closes.
func (r *Router) Poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := r.HandleUpdate(ctx, u); err != nil {
				r.log.Warn("handle update", slog.Int("update_id", u.UpdateID), slog.Any("err", err))
			}
		}
	}
}

// NotifyConnected tells the user their streaming account is linked.
func (r *Router) NotifyConnected(ctx context.Context, userID string) error {
	chatID, ok := TelegramID(userID)
	if !ok {
		return fmt.Errorf("not a telegram user id: %q", userID)
	}
	kb := keyboard(
		tgbotapi.NewInlineKeyboardRow(button("📖 How to create a channel?", cbCreateChannelHelp)),
		tgbotapi.NewInlineKeyboardRow(button("🎵 Current track", cbCurrentTrack)),
	)
	return r.d.Messenger.SendText(ctx, chatID, textConnected(r.d.BotUsername), kb)
}

func (r *Router) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	chatID := m.Chat.ID
	userID := UserID(m.From.ID)
	if !m.IsCommand() {
		return r.send(ctx, chatID, textCommands, nil)
	}
	switch m.Command() {
	case "start":
		return r.start(ctx, chatID, userID)
	case "help":
		return r.send(ctx, chatID, textHelp, nil)
	case "status":
		return r.status(ctx, chatID, userID)
	case "current":
		return r.current(ctx, chatID, userID)
	case "disconnect":
		return r.disconnect(ctx, chatID, userID)
	case "channel":
		return r.bindChannel(ctx, chatID, userID, m.CommandArguments())
	default:
		return r.send(ctx, chatID, textCommands, nil)
	}
}

func (r *Router) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if err := r.d.Messenger.AnswerCallback(ctx, q.ID, ""); err != nil {
		r.log.Warn("answer callback", slog.Any("err", err))
	}
	if q.Message == nil || q.Message.Chat == nil {
		return nil
	}
	chatID := q.Message.Chat.ID
	userID := UserID(q.From.ID)
	switch q.Data {
	case cbHelp:
		return r.send(ctx, chatID, textHelp, nil)
	case cbCreateChannelHelp:
		return r.send(ctx, chatID, textCreateChannelHelp(r.d.BotUsername), nil)
	case cbCurrentTrack:
		return r.current(ctx, chatID, userID)
	case cbUpdateChannel:
		return r.updateChannel(ctx, chatID, userID)
	case cbChannelSettings:
		return r.channelSettings(ctx, chatID, userID)
	case cbSettings:
		return r.settings(ctx, chatID, userID)
	case cbDisconnect:
		return r.disconnect(ctx, chatID, userID)
	default:
		r.log.Debug("unknown callback", slog.String("data", q.Data))
		return nil
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	return r.d.Messenger.SendText(ctx, chatID, text, kb)
}

func (r *Router) start(ctx context.Context, chatID int64, userID string) error {
	kb := keyboard(tgbotapi.NewInlineKeyboardRow(
		linkButton("🎧 Connect Spotify", authLink(r.d.PublicURL, userID)),
		button("❓ Help", cbHelp),
	))
	return r.send(ctx, chatID, textStart, kb)
}

func (r *Router) notConnected(ctx context.Context, chatID int64, userID string) error {
	kb := keyboard(tgbotapi.NewInlineKeyboardRow(linkButton("🎧 Connect Spotify", authLink(r.d.PublicURL, userID))))
	return r.send(ctx, chatID, textNotConnected, kb)
}

func (r *Router) status(ctx context.Context, chatID int64, userID string) error {
	cred, err := r.d.Credentials.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return r.notConnected(ctx, chatID, userID)
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	channelLine := "⚠️ Channel is not configured. Use /channel"
	if b, err := r.d.Channels.Get(ctx, userID); err == nil {
		channelLine = "🎯 Channel: @" + EscapeMarkdown(b.Channel)
	}
	text := fmt.Sprintf("✅ *Spotify connected*\n\n📅 Connected: %s\n%s", cred.CreatedAt.Format(dateLayout), channelLine)
	kb := keyboard(tgbotapi.NewInlineKeyboardRow(
		button("🎵 Current track", cbCurrentTrack),
		button("⚙️ Settings", cbSettings),
	))
	return r.send(ctx, chatID, text, kb)
}

func (r *Router) current(ctx context.Context, chatID int64, userID string) error {
	snap, err := r.d.Snapshots.Snapshot(ctx, userID)
	if errors.Is(err, oauth.ErrNotConnected) {
		return r.notConnected(ctx, chatID, userID)
	}
	if err != nil {
		r.log.Warn("current track", slog.String("user", userID), slog.Any("err", err))
		return r.send(ctx, chatID, textTrackError, nil)
	}
	if !snap.Playing {
		return r.send(ctx, chatID, textNothingPlaying, nil)
	}
	text := fmt.Sprintf("🎵 *%s*\n👤 %s\n\n`%s`",
		EscapeMarkdown(snap.Title),
		EscapeMarkdown(snap.ArtistLine()),
		progressbar.Render(snap.ElapsedMs, snap.DurationMs))
	return r.send(ctx, chatID, text, nil)
}

func (r *Router) disconnect(ctx context.Context, chatID int64, userID string) error {
	if err := r.d.Credentials.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	r.log.Info("user disconnected", slog.String("user", userID))
	return r.send(ctx, chatID, textDisconnected, nil)
}

func (r *Router) bindChannel(ctx context.Context, chatID int64, userID, arg string) error {
	channel, ok := ParseChannel(arg)
	if !ok {
		return r.send(ctx, chatID, textChannelUsage, nil)
	}
	if _, err := r.d.Credentials.Get(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r.notConnected(ctx, chatID, userID)
		}
		return fmt.Errorf("load credential: %w", err)
	}
	admin, err := r.d.Messenger.BotIsAdmin(ctx, channel)
	switch {
	case err != nil && !errors.Is(err, telegram.ErrChannelInaccessible):
		r.log.Warn("admin check failed", slog.String("channel", channel), slog.Any("err", err))
		return r.send(ctx, chatID, textAdminCheckFailed, nil)
	case err != nil:
		r.log.Info("channel inaccessible", slog.String("channel", channel), slog.Any("err", err))
		return r.send(ctx, chatID, textNoAdmin(channel), nil)
	case !admin:
		return r.send(ctx, chatID, textNoAdmin(channel), nil)
	}

	if _, err := r.d.Binder.InitializeUser(ctx, userID, store.NewBinding(channel, r.d.Now())); err != nil {
		r.log.Error("bind channel", slog.String("user", userID), slog.Any("err", err))
		return r.send(ctx, chatID, textChannelFailed, nil)
	}
	r.log.Info("channel bound", slog.String("user", userID), slog.String("channel", channel))
	kb := keyboard(tgbotapi.NewInlineKeyboardRow(
		button("🎵 Refresh", cbUpdateChannel),
		button("⚙️ Settings", cbChannelSettings),
	))
	return r.send(ctx, chatID, textChannelReady(channel), kb)
}

func (r *Router) settings(ctx context.Context, chatID int64, userID string) error {
	info := "⚠️ Channel is not configured"
	if b, err := r.d.Channels.Get(ctx, userID); err == nil {
		info = fmt.Sprintf("🎯 @%s\n📅 %s", EscapeMarkdown(b.Channel), b.CreatedAt.Format(dateLayout))
	}
	kb := keyboard(
		tgbotapi.NewInlineKeyboardRow(button("⚙️ Channel settings", cbChannelSettings)),
		tgbotapi.NewInlineKeyboardRow(button("🔌 Disconnect", cbDisconnect)),
		tgbotapi.NewInlineKeyboardRow(button("📖 Help", cbHelp)),
	)
	return r.send(ctx, chatID, "⚙️ *Settings*\n\n"+info, kb)
}

func (r *Router) channelSettings(ctx context.Context, chatID int64, userID string) error {
	b, err := r.d.Channels.Get(ctx, userID)
	if err != nil {
		return r.send(ctx, chatID, textNoChannel, nil)
	}
	kb := keyboard(
		tgbotapi.NewInlineKeyboardRow(button("🔄 Refresh now", cbUpdateChannel)),
		tgbotapi.NewInlineKeyboardRow(button("📖 Instructions", cbCreateChannelHelp)),
	)
	text := fmt.Sprintf("⚙️ *Channel @%s*\n\n📅 Created: %s", EscapeMarkdown(b.Channel), b.CreatedAt.Format(dateLayout))
	return r.send(ctx, chatID, text, kb)
}

func (r *Router) updateChannel(ctx context.Context, chatID int64, userID string) error {
	err := r.d.Syncer.SyncUser(ctx, userID)
	switch {
	case err == nil:
		return r.send(ctx, chatID, textUpdated, nil)
	case errors.Is(err, poller.ErrNoBinding):
		return r.send(ctx, chatID, textNoChannel, nil)
	default:
		r.log.Warn("manual channel update", slog.String("user", userID), slog.Any("err", err))
		return r.send(ctx, chatID, textUpdateFailed, nil)
	}
}
