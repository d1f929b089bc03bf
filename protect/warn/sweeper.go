package warn

import (
	"context"
	"log/slog"
	"time"
)

var DefaultSweepInterval = 12 * time.Hour

// Sweeper periodically applies each community's warning expiry policy.
type Sweeper struct {
	Store   Store
	Logger  *slog.Logger
	Clock   func() time.Time
	trigger chan struct{}
}

func NewSweeper(store Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Store:   store,
		Logger:  logger.With("system", "warn-sweeper"),
		Clock:   time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests a sweep from a running Run loop, without blocking. Requests made while one is already pending are coalesced.
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Sweep runs one pass over every community with expiry enabled. Errors for one community are logged and do not stop the pass; the last such error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	expiries, err := s.Store.WarnExpiries(ctx)
	if err != nil {
		return 0, err
	}
	now := s.Clock().UTC()
	var total int64
	var lastErr error
	for _, ex := range expiries {
		if ex.Hours <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(ex.Hours) * time.Hour)
		n, err := s.Store.ExpireWarnings(ctx, ex.Community, cutoff, ex.Policy)
		if err != nil {
			s.Logger.Error("expiring warnings failed", "community", ex.Community, "err", err)
			lastErr = err
			continue
		}
		if n > 0 {
			s.Logger.Info("expired warnings", "community", ex.Community, "count", n, "policy", ex.Policy.String())
			warningsExpired.WithLabelValues(ex.Policy.String()).Add(float64(n))
		}
		total += n
	}
	return total, lastErr
}

// Run sweeps every interval, and whenever Trigger is called, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.trigger:
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.Logger.Error("warning expiry sweep failed", "err", err)
		}
	}
}
