// Package poller drives periodic synchronization across every connected user.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/addavriance/spotify-to-tg/nowplaying"
	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

// ErrNoBinding means the user has not configured a channel.
var ErrNoBinding = errors.New("poller: no channel configured")

// CycleJob is the job name under which the last cycle time is recorded.
const CycleJob = "sync_cycle_last"

// DefaultUserDelay spaces users within one cycle.
const DefaultUserDelay = 200 * time.Millisecond

type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

type SnapshotSource interface {
	Snapshot(ctx context.Context, userID string) (nowplaying.Snapshot, error)
}

type BindingStore interface {
	Get(ctx context.Context, userID string) (store.Binding, error)
	Save(ctx context.Context, userID string, b store.Binding) error
}

type Synchronizer interface {
	Synchronize(ctx context.Context, userID string, snap nowplaying.Snapshot, b store.Binding) (store.Binding, error)
	Initialize(ctx context.Context, userID string, snap nowplaying.Snapshot, b store.Binding) (store.Binding, error)
}

// Options tunes a Poller. KV, when set, receives the last-cycle timestamp.
type Options struct {
	UserDelay time.Duration
	KV        store.KV
	Logger    *slog.Logger
	Sleep     func(ctx context.Context, d time.Duration) error
	Now       func() time.Time
}

// Poller runs synchronization cycles. At most one sync per user runs at a
// time; overlapping requests for the same user share the running result,
// and channel binding waits for any sync of that user to finish.
type Poller struct {
	users     UserLister
	snaps     SnapshotSource
	bindings  BindingStore
	sync      Synchronizer
	kv        store.KV
	userDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	log       *slog.Logger

	inflight singleflight.Group
	locks    userLocks
}

func New(users UserLister, snaps SnapshotSource, bindings BindingStore, sync Synchronizer, opts Options) *Poller {
	p := &Poller{
		users:     users,
		snaps:     snaps,
		bindings:  bindings,
		sync:      sync,
		kv:        opts.KV,
		userDelay: opts.UserDelay,
		sleep:     opts.Sleep,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if p.userDelay < 0 {
		p.userDelay = 0
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With(slog.String("component", "poller"))
	return p
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	Users    int           `json:"users"`
	Synced   int           `json:"synced"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
}

// RunCycle synchronizes every user with stored credentials, one at a time.
// A user's failure is logged and counted; it never stops the cycle.
func (p *Poller) RunCycle(ctx context.Context) CycleReport {
	var rep CycleReport
	ctx, span := telemetry.StartCycleSpan(ctx)
	defer span.End()

	rep.Duration = telemetry.TimeFunc(telemetry.CycleDuration, func() {
		users, err := p.users.Users(ctx)
		if err != nil {
			p.log.Error("list users", slog.Any("err", err))
			rep.Err = fmt.Errorf("list users: %w", err)
			return
		}
		rep.Users = len(users)
		telemetry.SetKnownUsers(len(users))

		for i, id := range users {
			if i > 0 && p.userDelay > 0 {
				if err := p.sleep(ctx, p.userDelay); err != nil {
					rep.Err = err
					return
				}
			}
			err := p.SyncUser(ctx, id)
			switch {
			case err == nil:
				rep.Synced++
			case errors.Is(err, ErrNoBinding):
				rep.Skipped++
			default:
				rep.Failed++
				p.log.Warn("sync user failed", slog.String("user", id), slog.Any("err", err))
			}
		}
	})

	telemetry.RecordCycle(rep.Failed)
	if p.kv != nil {
		if err := store.MarkJob(ctx, p.kv, CycleJob, p.now()); err != nil {
			p.log.Warn("record cycle time", slog.Any("err", err))
		}
	}
	telemetry.EndCycleSpan(span, rep.Users, rep.Failed, rep.Err)
	p.log.Info("cycle complete",
		slog.Int("users", rep.Users),
		slog.Int("synced", rep.Synced),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
		slog.Duration("took", rep.Duration))
	return rep
}

// SyncUser synchronizes one user. Users without a channel yield ErrNoBinding
// before any streaming API call is made.
func (p *Poller) SyncUser(ctx context.Context, userID string) error {
	_, err, _ := p.inflight.Do(userID, func() (any, error) {
		unlock := p.locks.lock(userID)
		defer unlock()
		var err error
		telemetry.TimeFunc(telemetry.SyncDuration, func() {
			err = p.syncUser(ctx, userID)
		})
		return nil, err
	})
	return err
}

// InitializeUser stores a freshly bound channel and writes its first
// presentation. It holds the user's lock across the save and the initial
// writes, so no concurrent sync can read the binding before its progress
// message exists or overwrite it with the previous one. Only a failed save
// is returned; a snapshot failure initializes the idle presentation.
func (p *Poller) InitializeUser(ctx context.Context, userID string, b store.Binding) (store.Binding, error) {
	unlock := p.locks.lock(userID)
	defer unlock()

	log := p.log.With(slog.String("user", userID), slog.String("channel", b.Channel))
	if err := p.bindings.Save(ctx, userID, b); err != nil {
		return b, fmt.Errorf("save binding: %w", err)
	}
	snap, err := p.snaps.Snapshot(ctx, userID)
	if err != nil {
		log.Warn("snapshot for new channel", slog.Any("err", err))
		snap = nowplaying.Snapshot{}
	}
	out, err := p.sync.Initialize(ctx, userID, snap, b)
	if err != nil {
		log.Warn("initialize channel", slog.Any("err", err))
	}
	return out, nil
}

func (p *Poller) syncUser(ctx context.Context, userID string) error {
	b, err := p.bindings.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoBinding
	}
	if err != nil {
		return fmt.Errorf("load binding: %w", err)
	}
	snap, err := p.snaps.Snapshot(ctx, userID)
	if err != nil {
		return err
	}
	_, err = p.sync.Synchronize(ctx, userID, snap, b)
	return err
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
