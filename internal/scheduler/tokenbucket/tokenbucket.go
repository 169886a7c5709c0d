// Package tokenbucket wraps golang.org/x/time/rate for the per-edge
// bandwidth gate.
package tokenbucket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket rate-limits byte consumption for one edge.
type Bucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	burst   int
}

// New builds a Bucket with burst capacity equal to one second at maxBPS
// and a matching refill rate.
func New(maxBPS uint64) *Bucket {
	limit := rate.Limit(maxBPS)
	burst := int(maxBPS)
	if burst <= 0 {
		burst = 1
	}
	return &Bucket{limiter: rate.NewLimiter(limit, burst), burst: burst}
}

// Acquire blocks until n bytes' worth of tokens are available or ctx is
// done, returning ctx.Err() in the latter case. The limiter never grants
// more than its burst at once, so an n larger than the bucket's burst —
// routine when a chunk is bigger than one second's worth of an edge's
// configured rate — is reserved in burst-sized (or smaller) increments.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	for n > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := n
		if max := b.currentBurst(); step > max {
			step = max
		}
		r := b.limiter.ReserveN(time.Now(), step)
		if !r.OK() {
			return fmt.Errorf("tokenbucket: cannot reserve %d tokens", step)
		}
		if delay := r.Delay(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.Cancel()
				return ctx.Err()
			case <-timer.C:
			}
		}
		n -= step
	}
	return nil
}

func (b *Bucket) currentBurst() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.burst
}

// SetRate adjusts the bucket's limit and burst in place, used when an
// edge's max_upload_bps/max_download_bps is reconfigured without
// restarting in-flight sessions.
func (b *Bucket) SetRate(maxBPS uint64) {
	limit := rate.Limit(maxBPS)
	burst := int(maxBPS)
	if burst <= 0 {
		burst = 1
	}
	b.mu.Lock()
	b.burst = burst
	b.mu.Unlock()
	b.limiter.SetLimit(limit)
	b.limiter.SetBurst(burst)
}

// PerEdge multiplexes one Bucket per edge id, satisfying
// internal/transfer.BandwidthGate.
type PerEdge struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	// RateFor resolves an edge's configured max_bps. Required.
	RateFor func(edgeID string) uint64
}

func NewPerEdge(rateFor func(edgeID string) uint64) *PerEdge {
	return &PerEdge{buckets: make(map[string]*Bucket), RateFor: rateFor}
}

func (p *PerEdge) Acquire(ctx context.Context, edgeID string, n int) error {
	return p.bucketFor(edgeID).Acquire(ctx, n)
}

func (p *PerEdge) bucketFor(edgeID string) *Bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[edgeID]
	if !ok {
		b = New(p.RateFor(edgeID))
		p.buckets[edgeID] = b
	}
	return b
}
