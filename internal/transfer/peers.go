package transfer

import (
	"context"

	"github.com/artifactkeeper/borgcore/internal/assign"
	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/peercatalog"
)

// SwarmPeerSource resolves assignment candidates by joining seeder
// bitfields from internal/availability with connection quality from
// internal/peercatalog. It is the production implementation of
// PeerSource; tests use a stub instead.
type SwarmPeerSource struct {
	Availability *availability.Registry
	Catalog      *peercatalog.Catalog
	// TargetNode is the edge assignment is being computed for; peer
	// quality (latency, bandwidth) is looked up from this node's
	// perspective.
	TargetNode string
}

// CandidatesFor lists live seeders of artifactID as assign.Peer entries,
// dropping any seeder the target node has no known connection to yet
// (it has not been probed) and any seeder currently offline.
func (s SwarmPeerSource) CandidatesFor(ctx context.Context, artifactID string) ([]assign.Peer, error) {
	seeders, err := s.Availability.SeedersOf(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	conns, err := s.Catalog.PeersOf(ctx, s.TargetNode)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[string]peercatalog.Candidate, len(conns))
	for _, c := range conns {
		byTarget[c.Target] = c
	}

	out := make([]assign.Peer, 0, len(seeders))
	for _, seeder := range seeders {
		if !seeder.Live {
			continue
		}
		conn, known := byTarget[seeder.EdgeID]
		if !known {
			continue
		}
		latency, bandwidth := 0.0, 0.0
		if conn.LatencyMS != nil {
			latency = *conn.LatencyMS
		}
		if conn.BandwidthBPS != nil {
			bandwidth = *conn.BandwidthBPS
		}
		out = append(out, assign.Peer{
			ID:           seeder.EdgeID,
			Bitfield:     seeder.Bitfield,
			LatencyMS:    latency,
			BandwidthBPS: bandwidth,
		})
	}
	return out, nil
}
