// Package retry re-runs short operations against flaky backends with
// doubling backoff. The embedding API client is the main consumer.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy bounds a retried operation. Zero values fall back to three
// attempts starting at 100ms, capped at 10s.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
	Logger    *zap.Logger
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Do runs op until it succeeds, the attempts are spent, or ctx ends. The
// wait between attempts doubles after each failure.
func Do(ctx context.Context, p Policy, op func() error) error {
	p = p.withDefaults()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			if attempt > 1 && p.Logger != nil {
				p.Logger.Info("Backend call recovered",
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		if attempt == p.Attempts {
			return err
		}

		wait := p.delay(attempt)
		if p.Logger != nil {
			p.Logger.Warn("Backend call failed, backing off",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// delay is BaseDelay doubled per prior failure, capped at MaxDelay, spread
// by up to ±Jitter so synchronized callers drift apart.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}
	return d
}
