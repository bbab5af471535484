package reminder

import (
	"context"
	"time"

	"remindbot/pkg/logx"
)

// runCleanup prunes completed reminders older than the retention window.
func (s *Service) runCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Retention)

	cctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := s.store.PurgeCompletedBefore(cctx, cutoff)
	if err != nil {
		s.log.Error("cleanup failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("cleaned up old reminders", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	}
}
