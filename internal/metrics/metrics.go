// Package metrics exposes the replication core's Prometheus surface: one
// process-wide singleton, built once via a sync.Once guard, registered
// against either the caller's registry or the default one.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Replication
)

// Replication holds every counter, gauge, and histogram the transfer
// engine and scheduler report against.
type Replication struct {
	// SessionsByStatus counts session terminal and non-terminal
	// transitions, labeled by the status a session moved into.
	SessionsByStatus *prometheus.CounterVec

	// BytesTransferred is the running total of verified chunk bytes
	// written to local storage across every session.
	BytesTransferred prometheus.Counter

	// ChunkRetries counts every chunk fetch attempt beyond the first for
	// a given (session, chunk).
	ChunkRetries prometheus.Counter

	// PeerBlacklistEvents counts a peer crossing the consecutive-failure
	// threshold and being blacklisted for the remainder of a session.
	PeerBlacklistEvents prometheus.Counter

	// BandwidthGateWaitSeconds is the time a chunk fetch spent blocked on
	// the per-edge token bucket before it was allowed to start.
	BandwidthGateWaitSeconds prometheus.Histogram

	// SchedulerQueueDepth is the last-observed number of pending entries
	// in the durable sync_tasks queue.
	SchedulerQueueDepth prometheus.Gauge
}

// Init builds the Replication singleton on first call and returns it on
// every subsequent call, ignoring registry after the first. Pass nil to
// register against prometheus.DefaultRegisterer.
func Init(registry prometheus.Registerer) *Replication {
	once.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		f := promauto.With(registry)
		instance = &Replication{
			SessionsByStatus: f.NewCounterVec(prometheus.CounterOpts{
				Name: "borgcore_sessions_total",
				Help: "Transfer sessions by terminal or non-terminal status entered.",
			}, []string{"status"}),

			BytesTransferred: f.NewCounter(prometheus.CounterOpts{
				Name: "borgcore_bytes_transferred_total",
				Help: "Total verified chunk bytes written to local storage.",
			}),

			ChunkRetries: f.NewCounter(prometheus.CounterOpts{
				Name: "borgcore_chunk_retries_total",
				Help: "Chunk fetch attempts beyond the first for a session/chunk pair.",
			}),

			PeerBlacklistEvents: f.NewCounter(prometheus.CounterOpts{
				Name: "borgcore_peer_blacklist_events_total",
				Help: "Peers blacklisted within a session after exceeding the consecutive-failure threshold.",
			}),

			BandwidthGateWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
				Name:    "borgcore_bandwidth_gate_wait_seconds",
				Help:    "Time a chunk fetch spent waiting on the per-edge token bucket.",
				Buckets: prometheus.DefBuckets,
			}),

			SchedulerQueueDepth: f.NewGauge(prometheus.GaugeOpts{
				Name: "borgcore_scheduler_queue_depth",
				Help: "Pending entries in the durable sync_tasks queue as of the last snapshot.",
			}),
		}
	})
	return instance
}
