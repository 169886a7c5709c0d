package api

import (
	"net/http"
	"time"

	"github.com/artifactkeeper/borgcore/internal/peercatalog"
)

// handleListPeers returns this edge's active outbound peer connections,
// scored and ordered the same way PeersOf feeds internal/assign.
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	candidates, err := s.Catalog.PeersOf(r.Context(), edgeID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]peerView, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, peerView{
			Target:       c.Target,
			LatencyMS:    c.LatencyMS,
			BandwidthBPS: c.BandwidthBPS,
			Status:       string(c.Status),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleProbeResult ingests one peer probe sample, EMA-blending into the
// (source, target) connection row.
func (s *Server) handleProbeResult(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	var req probeResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	now := time.Now()

	var err error
	if req.Success {
		err = s.Catalog.RecordProbeSuccess(ctx, peercatalog.ProbeResult{
			Source: edgeID, Target: req.Target,
			LatencyMS: req.LatencyMS, BandwidthBPS: req.BandwidthBPS,
			SampledAt: now,
		})
	} else {
		err = s.Catalog.RecordProbeFailure(ctx, edgeID, req.Target, now)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
