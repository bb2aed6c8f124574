// Package limiter throttles transcription part dispatch with a
// token-bucket rate limit and a concurrency cap, so a large upload
// cannot flood the speech-to-text engine.
package limiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config defines dispatch throttling behaviour.
type Config struct {
	// MaxConcurrency limits how many parts may be in flight at once.
	// Zero means no concurrency limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained part dispatches per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// Limiter gates transcription dispatch. Safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// New creates a Limiter from the given config.
func New(cfg Config) *Limiter {
	l := &Limiter{}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		l.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return l
}

// Acquire blocks until a dispatch slot and a rate token are available,
// or the context is done. The caller MUST call Release when the part
// finishes.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("voxpipe/limiter: acquire: %w", ctx.Err())
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			if l.slots != nil {
				<-l.slots
			}
			return fmt.Errorf("voxpipe/limiter: acquire: %w", err)
		}
	}
	return nil
}

// TryAcquire attempts a non-blocking acquire. It returns true and
// consumes a slot and a token only if both are available now.
func (l *Limiter) TryAcquire() bool {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		default:
			return false
		}
	}
	if l.limiter != nil && !l.limiter.Allow() {
		if l.slots != nil {
			<-l.slots
		}
		return false
	}
	return true
}

// Release returns a dispatch slot.
func (l *Limiter) Release() {
	if l.slots != nil {
		select {
		case <-l.slots:
		default:
		}
	}
}

// InFlight returns the number of parts currently holding a slot. It is
// zero when no concurrency limit is configured.
func (l *Limiter) InFlight() int {
	if l.slots == nil {
		return 0
	}
	return len(l.slots)
}
