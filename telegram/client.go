// Package telegram is the Bot API client used for channel writes and chat replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// ErrMessageNotFound is returned by EditMessage when the target message is gone.
var ErrMessageNotFound = errors.New("telegram: message not found")

// ErrChannelInaccessible means Telegram refused to describe the channel: it
// does not exist, or the bot is not in it with enough rights to look. Other
// GetChannelMember errors are transport or server failures worth retrying.
var ErrChannelInaccessible = errors.New("telegram: channel inaccessible")

// Options configures a Client.
type Options struct {
	Token string
	// Endpoint overrides tgbotapi.APIEndpoint ("<base>/bot%s/%s").
	Endpoint   string
	HTTPClient *http.Client
	// RPS bounds outgoing calls; <= 0 disables limiting.
	RPS    float64
	Logger *slog.Logger
}

// Client wraps tgbotapi.BotAPI with rate limiting and error classification.
type Client struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	log     *slog.Logger
}

// New connects to the Bot API (getMe) and returns a ready client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "telegram"))
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: log})

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, hc)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}
	log.Info("telegram bot connected", slog.String("username", bot.Self.UserName))
	return &Client{bot: bot, limiter: limiter, log: log}, nil
}

// Username is the bot's @username without the "@".
func (c *Client) Username() string { return c.bot.Self.UserName }

// ID is the bot's user id.
func (c *Client) ID() int64 { return c.bot.Self.ID }

// ChannelRef formats a channel username the way the Bot API addresses it.
func ChannelRef(channel string) string {
	return "@" + strings.TrimPrefix(channel, "@")
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit: %w", err)
	}
	return nil
}

// SetChannelTitle renames the channel. An unchanged title is not an error.
func (c *Client) SetChannelTitle(ctx context.Context, channel, title string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.SetChatTitleConfig{ChannelUsername: ChannelRef(channel), Title: title})
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("setChatTitle %s: %w", ChannelRef(channel), err)
	}
	return nil
}

// SetChannelPhoto uploads image as the channel photo.
func (c *Client) SetChannelPhoto(ctx context.Context, channel string, image []byte) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	cfg := tgbotapi.NewChatPhoto(0, tgbotapi.FileBytes{Name: "cover.jpg", Bytes: image})
	cfg.ChannelUsername = ChannelRef(channel)
	if _, err := c.bot.Request(cfg); err != nil {
		return fmt.Errorf("setChatPhoto %s: %w", ChannelRef(channel), err)
	}
	return nil
}

// SendMessage posts plain text to the channel and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, channel, text string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	msg, err := c.bot.Send(tgbotapi.NewMessageToChannel(ChannelRef(channel), text))
	if err != nil {
		return 0, fmt.Errorf("sendMessage %s: %w", ChannelRef(channel), err)
	}
	return msg.MessageID, nil
}

// EditMessage replaces the text of a channel message. "Not modified" counts
// as success; a missing message yields ErrMessageNotFound.
func (c *Client) EditMessage(ctx context.Context, channel string, messageID int, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	cfg := tgbotapi.EditMessageTextConfig{
		BaseEdit: tgbotapi.BaseEdit{ChannelUsername: ChannelRef(channel), MessageID: messageID},
		Text:     text,
	}
	_, err := c.bot.Send(cfg)
	switch {
	case err == nil, isNotModified(err):
		return nil
	case isGone(err):
		return fmt.Errorf("editMessageText %s/%d: %w", ChannelRef(channel), messageID, ErrMessageNotFound)
	default:
		return fmt.Errorf("editMessageText %s/%d: %w", ChannelRef(channel), messageID, err)
	}
}

// DeleteMessage removes a channel message; one that is already gone or too
// old to delete is not an error.
func (c *Client) DeleteMessage(ctx context.Context, channel string, messageID int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.DeleteMessageConfig{ChannelUsername: ChannelRef(channel), MessageID: messageID})
	if err != nil && !isGone(err) {
		return fmt.Errorf("deleteMessage %s/%d: %w", ChannelRef(channel), messageID, err)
	}
	return nil
}

// Member is the subset of a chat membership the bot cares about.
type Member struct {
	Status          string
	CanChangeInfo   bool
	CanPostMessages bool
	CanEditMessages bool
}

// IsAdmin reports whether m may rename the channel and post and edit messages.
func (m Member) IsAdmin() bool {
	return m.Status == "administrator" && m.CanChangeInfo && m.CanPostMessages && m.CanEditMessages
}

// GetChannelMember looks up userID's membership in the channel.
func (c *Client) GetChannelMember(ctx context.Context, channel string, userID int64) (Member, error) {
	if err := c.wait(ctx); err != nil {
		return Member{}, err
	}
	cm, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{SuperGroupUsername: ChannelRef(channel), UserID: userID},
	})
	if err != nil {
		if isInaccessible(err) {
			return Member{}, fmt.Errorf("getChatMember %s: %w: %w", ChannelRef(channel), ErrChannelInaccessible, err)
		}
		return Member{}, fmt.Errorf("getChatMember %s: %w", ChannelRef(channel), err)
	}
	return Member{
		Status:          cm.Status,
		CanChangeInfo:   cm.CanChangeInfo,
		CanPostMessages: cm.CanPostMessages,
		CanEditMessages: cm.CanEditMessages,
	}, nil
}

// BotIsAdmin checks the bot's own rights in the channel.
func (c *Client) BotIsAdmin(ctx context.Context, channel string) (bool, error) {
	m, err := c.GetChannelMember(ctx, channel, c.ID())
	if err != nil {
		return false, err
	}
	return m.IsAdmin(), nil
}

// AnswerCallback acknowledges a callback query, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, id, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		return fmt.Errorf("answerCallbackQuery: %w", err)
	}
	return nil
}

// SendText sends a Markdown chat message with an optional inline keyboard.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("sendMessage %d: %w", chatID, err)
	}
	return nil
}

// SetWebhook registers url as the update webhook.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	return nil
}

// Updates switches the bot to long polling and streams updates until ctx ends.
func (c *Client) Updates(ctx context.Context) (tgbotapi.UpdatesChannel, error) {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return nil, fmt.Errorf("deleteWebhook: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	ch := c.bot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		c.bot.StopReceivingUpdates()
	}()
	return ch, nil
}

func description(err error) string {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Message)
	}
	return strings.ToLower(err.Error())
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(description(err), "not modified")
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	d := description(err)
	return strings.Contains(d, "message to edit not found") ||
		strings.Contains(d, "message to delete not found") ||
		strings.Contains(d, "message can't be deleted") ||
		strings.Contains(d, "message_id_invalid")
}

func isInaccessible(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	d := strings.ToLower(apiErr.Message)
	return strings.Contains(d, "chat not found") ||
		strings.Contains(d, "member list is inaccessible") ||
		strings.Contains(d, "not a member") ||
		strings.Contains(d, "user not found") ||
		strings.HasPrefix(d, "forbidden")
}

// IsNotFound reports whether err means the referenced message no longer exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound) || isGone(err)
}
