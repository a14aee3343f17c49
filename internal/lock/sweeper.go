package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepExpired flips every active lock whose lease has lapsed to inactive.
// Returns the number of swept rows. Acquire already expires rows for its
// own key; the sweep keeps the table tidy for keys nobody contends on.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.nowFunc().Unix()

	result, err := s.db.ExecContext(ctx,
		`UPDATE locks SET is_active = 0, released_at = ?
		 WHERE is_active = 1 AND expires_at < ?`, now, now)
	if err != nil {
		return 0, fmt.Errorf("lock: sweeping expired locks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("lock: sweeping expired locks: rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Info("swept expired locks", slog.Int64("count", n))
	}

	return int(n), nil
}

// RunSweeper loops SweepExpired every interval until ctx is canceled.
// Sweep errors are logged and do not stop the loop.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("lock sweeper started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lock sweeper stopped")

			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("lock sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
