package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner runs one synchronization cycle.
type Runner interface {
	RunCycle(ctx context.Context) CycleReport
}

// Scheduler fires on a cron schedule and fans every fire out into several
// cycles at fixed offsets, approximating a sub-minute cadence.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	fanout  int
	stagger time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses schedule (standard cron, optional seconds, or a
// descriptor such as "@every 1m").
func NewScheduler(runner Runner, schedule string, fanout int, stagger time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if fanout < 1 {
		fanout = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    c,
		runner:  runner,
		fanout:  fanout,
		stagger: stagger,
		log:     logger.With(slog.String("component", "scheduler")),
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := c.AddFunc(schedule, s.Fire); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", slog.Int("fanout", s.fanout), slog.Duration("stagger", s.stagger))
}

// Fire schedules fanout cycles at offsets 0, stagger, 2*stagger, ... Each is
// an independent timer; Stop cancels the ones still pending.
func (s *Scheduler) Fire() {
	if s.ctx.Err() != nil {
		return
	}
	for i := range s.fanout {
		offset := time.Duration(i) * s.stagger
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t := time.NewTimer(offset)
			defer t.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
			}
			s.runner.RunCycle(s.ctx)
		}()
	}
}

// Stop halts the schedule, cancels pending and running cycles and waits for
// them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}
