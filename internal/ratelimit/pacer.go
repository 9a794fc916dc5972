// Package ratelimit paces outbound requests to rate-limited MLS providers.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a fixed minimum gap between successive requests.
// One Pacer is shared by every call a provider client makes, so page fetches,
// member exports and enrichment lookups all draw from the same allowance.
type Pacer struct {
	delay   time.Duration
	limiter *rate.Limiter
}

// NewPacer creates a pacer that admits one request per delay.
// A zero or negative delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Pacer{
		delay:   delay,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the next request may be sent or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	return nil
}

// Delay returns the configured gap between requests
func (p *Pacer) Delay() time.Duration {
	return p.delay
}
