package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/peercatalog"
)

type peerConnMemStore struct {
	mu    sync.Mutex
	conns map[string]domain.PeerConnection
}

func newPeerConnMemStore() *peerConnMemStore {
	return &peerConnMemStore{conns: make(map[string]domain.PeerConnection)}
}

func (m *peerConnMemStore) key(source, target string) string { return source + "/" + target }

func (m *peerConnMemStore) GetConnection(_ context.Context, source, target string) (*domain.PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[m.key(source, target)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *peerConnMemStore) PutConnection(_ context.Context, conn domain.PeerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[m.key(conn.Source, conn.Target)] = conn
	return nil
}

func (m *peerConnMemStore) ConnectionsFrom(_ context.Context, source string) ([]domain.PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PeerConnection
	for _, c := range m.conns {
		if c.Source == source {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestSwarmPeerSourceJoinsAvailabilityAndCatalog(t *testing.T) {
	ctx := context.Background()
	avail := availability.New(newMemAvailStore(), nil)
	require.NoError(t, avail.RecordChunk(ctx, "seed-1", "artifact-1", 4, 0))

	catStore := newPeerConnMemStore()
	cat := peercatalog.New(catStore, nil)
	require.NoError(t, cat.RecordProbeSuccess(ctx, peercatalog.ProbeResult{
		Source: "edge-a", Target: "seed-1", LatencyMS: 20, BandwidthBPS: 5_000_000, SampledAt: time.Now(),
	}))

	src := SwarmPeerSource{Availability: avail, Catalog: cat, TargetNode: "edge-a"}
	peers, err := src.CandidatesFor(ctx, "artifact-1")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "seed-1", peers[0].ID)
	require.Equal(t, 20.0, peers[0].LatencyMS)
	require.Equal(t, 5_000_000.0, peers[0].BandwidthBPS)
	require.True(t, peers[0].Bitfield.Has(0))
}

func TestSwarmPeerSourceDropsUnprobedSeeder(t *testing.T) {
	ctx := context.Background()
	avail := availability.New(newMemAvailStore(), nil)
	require.NoError(t, avail.RecordChunk(ctx, "seed-1", "artifact-1", 4, 0))

	cat := peercatalog.New(newPeerConnMemStore(), nil)
	src := SwarmPeerSource{Availability: avail, Catalog: cat, TargetNode: "edge-a"}

	peers, err := src.CandidatesFor(ctx, "artifact-1")
	require.NoError(t, err)
	require.Empty(t, peers, "a seeder never probed from this target has no known quality and is skipped")
}
