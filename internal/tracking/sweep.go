package tracking

import (
	"context"
	"time"
)

// RunSweeper calls Sweep(maxAge) every interval until ctx is done. Each pass
// is independent, so a missed or repeated pass is harmless.
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			removed := s.Sweep(ctx, maxAge)
			if removed > 0 {
				s.logger.Info("sweep removed expired messages", "removed", removed)
			}
		}
	}
}
