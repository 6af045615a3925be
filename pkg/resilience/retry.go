package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls the backoff schedule. MaxAttempts of zero means retry
// until ctx ends. RetryIf decides whether an error is worth another attempt;
// errors it rejects are returned immediately. OnRetry is told about every
// failed attempt that will be retried, before the backoff sleep.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	RetryIf        func(error) bool
	OnRetry        func(attempt int, err error, delay time.Duration)
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 50 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	return cfg
}

// Retry calls fn until it succeeds, RetryIf rejects its error, attempts run
// out or ctx ends. name labels the returned error.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return fmt.Errorf("%s: all %d attempts failed: %w", name, attempt, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: aborted after %d attempts (%v): %w", name, attempt, err, ctx.Err())
		}

		delay := Backoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: aborted during backoff (%v): %w", name, err, ctx.Err())
		}
	}
}

// Backoff is the jittered delay after the given failed attempt (1-based),
// capped at cfg.MaxDelay.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	cfg = cfg.withDefaults()
	// Bound the exponent so long conflict storms cannot overflow.
	exp := math.Min(float64(attempt-1), 32)
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, exp)
	d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	d = math.Min(d, float64(cfg.MaxDelay))
	if d < 0 {
		d = float64(cfg.InitialDelay)
	}
	return time.Duration(d)
}
