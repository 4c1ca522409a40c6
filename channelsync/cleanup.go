package channelsync

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/addavriance/spotify-to-tg/telemetry"
)

// CleanupRadius is how far either side of the anchor cleanup reaches.
const CleanupRadius = 5

// CleanupIDs lists the message ids swept around anchor: the anchor itself
// and non-positive ids are excluded.
func CleanupIDs(anchor int) []int {
	ids := make([]int, 0, 2*CleanupRadius)
	for off := -CleanupRadius; off <= CleanupRadius; off++ {
		id := anchor + off
		if off == 0 || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Cleanup deletes the messages around anchor concurrently and waits for all
// of them. Individual failures are ignored. A nil anchor is a no-op.
func (s *Synchronizer) Cleanup(ctx context.Context, channel string, anchor *int) {
	if anchor == nil {
		return
	}
	var g errgroup.Group
	for _, id := range CleanupIDs(*anchor) {
		g.Go(func() error {
			err := s.msg.DeleteMessage(ctx, channel, id)
			telemetry.RecordCleanupDelete(err)
			if err != nil {
				s.log.Debug("cleanup delete failed", slog.String("channel", channel), slog.Int("message_id", id), slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
