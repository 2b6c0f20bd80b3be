// Package sweeper purges expired refresh and OTP records from stores that do not expire them on
// their own, and audit rows past their retention window.
package sweeper

import (
	"context"
	"time"

	"github.com/go-charity/auth-server/internal/logging"
)

// Purger deletes every record that expired at or before the given instant.
type Purger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PurgeFunc adapts a function to Purger.
type PurgeFunc func(ctx context.Context, before time.Time) (int64, error)

func (f PurgeFunc) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

// Retain returns a Purger that deletes rows older than keep, using del to do the deleting.
func Retain(keep time.Duration, del func(ctx context.Context, before time.Time) (int64, error)) Purger {
	return PurgeFunc(func(ctx context.Context, now time.Time) (int64, error) {
		return del(ctx, now.Add(-keep))
	})
}

// Sweeper runs each named Purger on a fixed interval.
type Sweeper struct {
	purgers map[string]Purger
	log     logging.Logger
	now     func() time.Time
}

// New returns a Sweeper over purgers, keyed by a name used in logs.
func New(purgers map[string]Purger, log logging.Logger) *Sweeper {
	if log == nil {
		log = logging.Discard()
	}
	return &Sweeper{purgers: purgers, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Sweep runs every purger once and returns the rows removed per name. A failing purger is logged
// and does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) map[string]int64 {
	now := s.now()
	removed := make(map[string]int64, len(s.purgers))
	for name, p := range s.purgers {
		n, err := p.DeleteExpired(ctx, now)
		if err != nil {
			s.log.Warn(ctx, "sweep failed", "store", name, "error", err)
			continue
		}
		removed[name] = n
		if n > 0 {
			s.log.Info(ctx, "swept expired records", "store", name, "removed", n)
		}
	}
	return removed
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.Sweep(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}
