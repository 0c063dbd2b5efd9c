package scraper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a pause between consecutive fetches, measured from the end
// of one fetch to the start of the next. The first fetch is not delayed.
type Pacer struct {
	mu      sync.Mutex
	limit   rate.Limit
	limiter *rate.Limiter
}

// NewPacer returns a pacer for delay; a non-positive delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Pacer{limit: limit, limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next fetch may be issued or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	limiter := p.limiter
	p.mu.Unlock()
	return limiter.Wait(ctx)
}

// Done marks the end of a fetch. The next Wait returns no earlier than one
// full delay after this call, however long the fetch took.
func (p *Pacer) Done() {
	if p == nil || p.limit == rate.Inf {
		return
	}
	limiter := rate.NewLimiter(p.limit, 1)
	limiter.Allow()
	p.mu.Lock()
	p.limiter = limiter
	p.mu.Unlock()
}
