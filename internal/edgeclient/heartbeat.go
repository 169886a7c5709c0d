package edgeclient

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/apierr"
)

// DefaultHeartbeatInterval matches the cadence an edge reports liveness at.
const DefaultHeartbeatInterval = 30 * time.Second

// CacheSizeFunc reports the edge's current local cache usage at heartbeat
// time.
type CacheSizeFunc func() uint64

// Heartbeater sends periodic heartbeats to the hub and tracks the
// connectivity transition between them: a heartbeat that fails to reach
// the hub flips the edge into an offline state and the next one that
// reaches it flips it back. IsOffline reports the current state without
// a round trip to the hub.
type Heartbeater struct {
	Client    *Client
	CacheSize CacheSizeFunc
	Interval  time.Duration
	Log       *logrus.Logger

	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time

	offline          atomic.Bool
	lastPrimaryContact atomic.Value // time.Time
}

// NewHeartbeater builds a Heartbeater with production defaults.
func NewHeartbeater(client *Client, cacheSize CacheSizeFunc) *Heartbeater {
	return &Heartbeater{
		Client:    client,
		CacheSize: cacheSize,
		Interval:  DefaultHeartbeatInterval,
		Log:       logrus.StandardLogger(),
		Now:       time.Now,
	}
}

// IsOffline reports the last-observed connectivity state, updated by Run.
func (h *Heartbeater) IsOffline() bool {
	return h.offline.Load()
}

// LastPrimaryContact reports when a heartbeat last succeeded.
func (h *Heartbeater) LastPrimaryContact() time.Time {
	t, _ := h.lastPrimaryContact.Load().(time.Time)
	return t
}

// Run sends heartbeats on Interval until ctx is done, logging every
// offline/online transition. It never returns an error: a single failed
// heartbeat only flips the offline flag and is retried next tick.
func (h *Heartbeater) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.beat(ctx, now)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx, now)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context, now func() time.Time) {
	var used uint64
	if h.CacheSize != nil {
		used = h.CacheSize()
	}

	err := h.Client.Heartbeat(ctx, used)
	wasOffline := h.offline.Load()

	if err != nil {
		if isConnectivityError(err) {
			h.offline.Store(true)
			if !wasOffline {
				h.Log.WithField("edge_id", h.Client.EdgeID).Warn("edgeclient: hub unreachable, marking offline")
			}
			return
		}
		// A non-connectivity error (e.g. malformed_input) means the hub
		// answered, so connectivity itself is fine.
		h.Log.WithError(err).WithField("edge_id", h.Client.EdgeID).Warn("edgeclient: heartbeat rejected by hub")
	}

	h.lastPrimaryContact.Store(now())
	h.offline.Store(false)
	if wasOffline && err == nil {
		h.Log.WithField("edge_id", h.Client.EdgeID).Info("edgeclient: hub reachable again, marking online")
	}
}

// isConnectivityError reports whether err reflects a failure to reach the
// hub at all, as opposed to the hub answering with a rejection.
func isConnectivityError(err error) bool {
	kind, ok := apierr.KindOf(err)
	if !ok {
		return true // unwrapped error, e.g. a raw network failure
	}
	return kind == apierr.TransportError || kind == apierr.ResourceExhausted
}
