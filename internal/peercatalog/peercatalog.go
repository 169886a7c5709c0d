// Package peercatalog maintains {(source_node, target_node) ->
// {latency, bandwidth_estimate, health, counters}} and filters candidates
// by liveness.
package peercatalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
)

// DefaultStaleHeartbeat matches STALE_HEARTBEAT_MINUTES's default.
const DefaultStaleHeartbeat = 5 * time.Minute

// DefaultSmoothing is the EMA smoothing factor for latency/bandwidth.
const DefaultSmoothing = 0.3

// FailuresBeforeUnreachable is the consecutive-probe-failure threshold that
// demotes a connection to unreachable.
const FailuresBeforeUnreachable = 3

// Store persists PeerConnection rows. A concrete implementation lives in
// internal/store. GetConnection may report a missing row either as a nil
// connection or as an apierr.NotFound error; the catalog treats both as
// "no row yet".
type Store interface {
	GetConnection(ctx context.Context, source, target string) (*domain.PeerConnection, error)
	PutConnection(ctx context.Context, conn domain.PeerConnection) error
	ConnectionsFrom(ctx context.Context, source string) ([]domain.PeerConnection, error)
}

// EdgeSource resolves an edge's current liveness fields.
type EdgeSource interface {
	GetEdge(ctx context.Context, edgeID string) (*domain.EdgeNode, error)
}

// Catalog is the peer-metrics service. Per-(source,target) updates are
// serialized so EMA blends are never observed half-applied.
type Catalog struct {
	store      Store
	edges      EdgeSource
	staleAfter time.Duration
	smoothing  float64
	locksMu    sync.Mutex
	rowLocks   map[string]*sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

func WithStaleHeartbeat(d time.Duration) Option { return func(c *Catalog) { c.staleAfter = d } }
func WithSmoothing(alpha float64) Option        { return func(c *Catalog) { c.smoothing = alpha } }

// New builds a Catalog with the given defaults, overridable via Option.
func New(store Store, edges EdgeSource, opts ...Option) *Catalog {
	c := &Catalog{
		store:      store,
		edges:      edges,
		staleAfter: DefaultStaleHeartbeat,
		smoothing:  DefaultSmoothing,
		rowLocks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func connKey(source, target string) string { return source + "\x00" + target }

func (c *Catalog) lockFor(key string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.rowLocks[key] = l
	}
	return l
}

// ProbeResult is one (source, target) probe sample.
type ProbeResult struct {
	Source       string
	Target       string
	LatencyMS    float64
	BandwidthBPS float64
	SampledAt    time.Time
}

// RecordProbeSuccess ingests a probe sample: source ≠ target is enforced,
// EMA-blends latency/bandwidth, resets the consecutive-failure count, and
// re-promotes status to active on success.
func (c *Catalog) RecordProbeSuccess(ctx context.Context, result ProbeResult) error {
	if result.Source == result.Target {
		return nil // source != target invariant; silently ignore self-probes
	}
	key := connKey(result.Source, result.Target)
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := c.store.GetConnection(ctx, result.Source, result.Target)
	if err != nil && !apierr.Is(err, apierr.NotFound) {
		return err
	}

	conn := domain.PeerConnection{Source: result.Source, Target: result.Target}
	if existing != nil {
		conn = *existing
	}

	// A non-positive sample means "unmeasured this probe" (e.g. a
	// healthz-only prober that never estimates bandwidth) rather than an
	// observed zero; blending it in would decay a real estimate toward
	// zero every tick, so leave the existing EMA alone.
	if result.LatencyMS > 0 {
		latency := result.LatencyMS
		if conn.LatencyMS != nil {
			latency = c.smoothing*result.LatencyMS + (1-c.smoothing)*(*conn.LatencyMS)
		}
		conn.LatencyMS = &latency
	}
	if result.BandwidthBPS > 0 {
		bandwidth := result.BandwidthBPS
		if conn.BandwidthBPS != nil {
			bandwidth = c.smoothing*result.BandwidthBPS + (1-c.smoothing)*(*conn.BandwidthBPS)
		}
		conn.BandwidthBPS = &bandwidth
	}
	conn.LastProbedAt = result.SampledAt
	conn.SuccessCount++
	conn.FailureCount = 0
	conn.Status = domain.PeerActive

	return c.store.PutConnection(ctx, conn)
}

// RecordProbeFailure increments failure_ct and demotes status to
// unreachable after FailuresBeforeUnreachable consecutive failures.
func (c *Catalog) RecordProbeFailure(ctx context.Context, source, target string, at time.Time) error {
	key := connKey(source, target)
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := c.store.GetConnection(ctx, source, target)
	if err != nil && !apierr.Is(err, apierr.NotFound) {
		return err
	}
	conn := domain.PeerConnection{Source: source, Target: target, Status: domain.PeerProbing}
	if existing != nil {
		conn = *existing
	}
	conn.FailureCount++
	conn.LastProbedAt = at
	if conn.FailureCount >= FailuresBeforeUnreachable {
		conn.Status = domain.PeerUnreachable
	}
	return c.store.PutConnection(ctx, conn)
}

// Candidate is a scored/filtered peer entry returned by PeersOf.
type Candidate struct {
	domain.PeerConnection
}

// Filter narrows the candidate set returned by PeersOf.
type Filter func(domain.PeerConnection) bool

// PeersOf returns active peers of source, filtered by the given predicates,
// ordered by a provisional score (bandwidth/latency, descending) — a cheap
// proxy for the full peer-scorer ranking in internal/assign, used only to
// pick probe targets and to trim candidate sets before assignment.
func (c *Catalog) PeersOf(ctx context.Context, source string, filters ...Filter) ([]Candidate, error) {
	conns, err := c.store.ConnectionsFrom(ctx, source)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(conns))
outer:
	for _, conn := range conns {
		if conn.Status != domain.PeerActive {
			continue
		}
		for _, f := range filters {
			if !f(conn) {
				continue outer
			}
		}
		out = append(out, Candidate{conn})
	}
	sort.Slice(out, func(i, j int) bool {
		return provisionalScore(out[i].PeerConnection) > provisionalScore(out[j].PeerConnection)
	})
	return out, nil
}

func provisionalScore(c domain.PeerConnection) float64 {
	if c.BandwidthBPS == nil || c.LatencyMS == nil {
		return 0
	}
	latency := *c.LatencyMS
	if latency < 1 {
		latency = 1
	}
	return *c.BandwidthBPS / latency
}

// FilterLive keeps only connections whose target edge is currently live.
func FilterLive(ctx context.Context, edges EdgeSource, staleAfter time.Duration, now time.Time) Filter {
	return func(conn domain.PeerConnection) bool {
		edge, err := edges.GetEdge(ctx, conn.Target)
		if err != nil || edge == nil {
			return false
		}
		return edge.IsLive(now, staleAfter)
	}
}
