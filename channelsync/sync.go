// Package channelsync mirrors a user's playback onto their bound channel:
// title and photo when the track changes, a progress message every tick, and
// a sweep of the service messages Telegram posts about metadata changes.
package channelsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/addavriance/spotify-to-tg/nowplaying"
	"github.com/addavriance/spotify-to-tg/progressbar"
	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telegram"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

const (
	// IdleBody is the progress message text while nothing plays. The message
	// itself is never deleted: its id anchors cleanup.
	IdleBody = "\u200b"
	// DefaultIdleTitle is the channel title while nothing plays.
	DefaultIdleTitle = "⏸ Nothing playing"
	// DefaultSettle is the pause between metadata writes and cleanup.
	DefaultSettle = time.Second
	// MaxTitleRunes is Telegram's channel title limit.
	MaxTitleRunes = 128
)

// Messenger is the slice of the Bot API the synchronizer writes through.
type Messenger interface {
	SetChannelTitle(ctx context.Context, channel, title string) error
	SetChannelPhoto(ctx context.Context, channel string, image []byte) error
	SendMessage(ctx context.Context, channel, text string) (int, error)
	EditMessage(ctx context.Context, channel string, messageID int, text string) error
	DeleteMessage(ctx context.Context, channel string, messageID int) error
}

// Artwork supplies photo bytes.
type Artwork interface {
	Cover(ctx context.Context, url string) ([]byte, error)
	Placeholder() ([]byte, error)
}

// BindingSaver persists a channel binding.
type BindingSaver interface {
	Save(ctx context.Context, userID string, b store.Binding) error
}

// Options tunes a Synchronizer. Zero values take the defaults.
type Options struct {
	Settle    time.Duration
	IdleTitle string
	Logger    *slog.Logger
	// Sleep replaces the context-aware settle wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Synchronizer reconciles a Snapshot against a Binding.
type Synchronizer struct {
	msg       Messenger
	art       Artwork
	bindings  BindingSaver
	settle    time.Duration
	idleTitle string
	sleep     func(ctx context.Context, d time.Duration) error
	log       *slog.Logger
}

func New(msg Messenger, art Artwork, bindings BindingSaver, opts Options) *Synchronizer {
	s := &Synchronizer{
		msg:       msg,
		art:       art,
		bindings:  bindings,
		settle:    opts.Settle,
		idleTitle: opts.IdleTitle,
		sleep:     opts.Sleep,
		log:       opts.Logger,
	}
	if s.settle <= 0 {
		s.settle = DefaultSettle
	}
	if s.idleTitle == "" {
		s.idleTitle = DefaultIdleTitle
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With(slog.String("component", "channelsync"))
	return s
}

// TrackTitle renders "♫ <title> - <artists>" within the title limit.
func TrackTitle(snap nowplaying.Snapshot) string {
	title := "♫ " + snap.Title
	if artists := snap.ArtistLine(); artists != "" {
		title += " - " + artists
	}
	return truncate(title, MaxTitleRunes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Synchronize applies the minimum remote writes for snap and returns the
// binding as it now stands. Remote write failures are logged and skipped;
// store failures are returned after every remote step has run.
func (s *Synchronizer) Synchronize(ctx context.Context, userID string, snap nowplaying.Snapshot, b store.Binding) (store.Binding, error) {
	return s.run(ctx, userID, snap, b, false)
}

// Initialize writes the full presentation for a freshly bound channel,
// regardless of what the binding claims was written, and posts the first
// progress message if there is none.
func (s *Synchronizer) Initialize(ctx context.Context, userID string, snap nowplaying.Snapshot, b store.Binding) (store.Binding, error) {
	return s.run(ctx, userID, snap, b, true)
}

func (s *Synchronizer) run(ctx context.Context, userID string, snap nowplaying.Snapshot, b store.Binding, force bool) (store.Binding, error) {
	ctx, span := telemetry.StartSyncSpan(ctx, userID, b.Channel, snap.Playing)
	defer span.End()

	log := s.log.With(slog.String("user", userID), slog.String("channel", b.Channel))
	out := b
	var errs []error

	var changed bool
	if snap.Playing {
		changed = s.applyTrack(ctx, log, snap, b, &out, force)
	} else {
		changed = s.applyIdle(ctx, log, b, &out, force)
	}

	if changed {
		if err := s.bindings.Save(ctx, userID, out); err != nil {
			log.Error("persist binding", slog.Any("err", err))
			errs = append(errs, fmt.Errorf("save binding: %w", err))
		}
		if err := s.sleep(ctx, s.settle); err != nil {
			telemetry.SetSpanResult(span, err)
			return out, errors.Join(append(errs, err)...)
		}
	}

	body := IdleBody
	if snap.Playing {
		body = progressbar.Render(snap.ElapsedMs, snap.DurationMs)
	}
	if sent := s.writeProgress(ctx, log, &out, body); sent {
		if err := s.bindings.Save(ctx, userID, out); err != nil {
			log.Error("persist message id", slog.Any("err", err))
			errs = append(errs, fmt.Errorf("save binding: %w", err))
		}
	}

	if changed {
		s.Cleanup(ctx, out.Channel, out.MessageID)
	}

	err := errors.Join(errs...)
	telemetry.SetSpanResult(span, err)
	return out, err
}

// applyTrack writes the title on a track change and the photo whenever the
// channel is not showing the track's cover. out is updated only for writes
// that succeeded, so a failed photo is retried on the next tick even when
// the track stays the same.
func (s *Synchronizer) applyTrack(ctx context.Context, log *slog.Logger, snap nowplaying.Snapshot, b store.Binding, out *store.Binding, force bool) bool {
	titleDue := force || b.LastTrackID == nil || *b.LastTrackID != snap.TrackID
	photoDue := snap.CoverURL != "" && (force || b.LastTrackImage == nil || *b.LastTrackImage != snap.CoverURL)
	if !titleDue && !photoDue {
		return false
	}

	if titleDue {
		telemetry.SetTrack(ctx, snap.TrackID)
		log.Info("track changed", slog.String("track", snap.TrackID))
		err := s.msg.SetChannelTitle(ctx, b.Channel, TrackTitle(snap))
		telemetry.RecordWrite(ctx, "title", err)
		if err != nil {
			log.Warn("set channel title", slog.Any("err", err))
		} else {
			id := snap.TrackID
			out.LastTrackID = &id
		}
	}

	if photoDue {
		img, err := s.art.Cover(ctx, snap.CoverURL)
		if err == nil {
			err = s.msg.SetChannelPhoto(ctx, b.Channel, img)
		}
		telemetry.RecordWrite(ctx, "photo", err)
		if err != nil {
			log.Warn("set channel photo", slog.Any("err", err))
		} else {
			u := snap.CoverURL
			out.LastTrackImage = &u
		}
	}
	return true
}

// applyIdle writes the idle title and placeholder photo on the transition
// into silence. While idle, a placeholder that failed to land (the binding
// still names a cover) is retried on its own.
func (s *Synchronizer) applyIdle(ctx context.Context, log *slog.Logger, b store.Binding, out *store.Binding, force bool) bool {
	titleDue := force || b.LastTrackID != nil
	photoDue := titleDue || b.LastTrackImage != nil
	if !photoDue {
		return false
	}

	if titleDue {
		log.Info("playback stopped")
		err := s.msg.SetChannelTitle(ctx, b.Channel, s.idleTitle)
		telemetry.RecordWrite(ctx, "title", err)
		if err != nil {
			log.Warn("set idle title", slog.Any("err", err))
		} else {
			out.LastTrackID = nil
		}
	}

	img, err := s.art.Placeholder()
	if err == nil {
		err = s.msg.SetChannelPhoto(ctx, b.Channel, img)
	}
	telemetry.RecordWrite(ctx, "photo", err)
	if err != nil {
		log.Warn("set placeholder photo", slog.Any("err", err))
	} else {
		out.LastTrackImage = nil
	}
	return true
}

// writeProgress edits the progress message in place, or sends a new one when
// there is none or it was deleted. It reports whether a new id was assigned.
func (s *Synchronizer) writeProgress(ctx context.Context, log *slog.Logger, out *store.Binding, body string) bool {
	if out.MessageID != nil {
		err := s.msg.EditMessage(ctx, out.Channel, *out.MessageID, body)
		telemetry.RecordWrite(ctx, "message_edit", err)
		if err == nil {
			return false
		}
		if !errors.Is(err, telegram.ErrMessageNotFound) {
			log.Warn("edit progress message", slog.Int("message_id", *out.MessageID), slog.Any("err", err))
			return false
		}
		log.Info("progress message gone, sending a new one", slog.Int("message_id", *out.MessageID))
	}
	id, err := s.msg.SendMessage(ctx, out.Channel, body)
	telemetry.RecordWrite(ctx, "message_send", err)
	if err != nil {
		log.Warn("send progress message", slog.Any("err", err))
		return false
	}
	out.MessageID = &id
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
