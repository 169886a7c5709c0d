package api

import (
	"net/http"
	"time"
)

// handleNetworkProfile replaces an edge's bandwidth caps, concurrency
// budget, and sync window wholesale: a numeric field absent from the body
// is stored as zero. sync_window_tz is applied only when it is present and
// loads as a location; otherwise the edge keeps its current location.
func (s *Server) handleNetworkProfile(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	var req networkProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()

	edge, err := s.Edges.Get(ctx, edgeID)
	if err != nil {
		writeError(w, err)
		return
	}
	edge.MaxUploadBPS = req.MaxUploadBPS
	edge.MaxDownloadBPS = req.MaxDownloadBPS
	edge.MaxConcurrency = req.MaxConcurrency
	edge.SyncWindow.Start = time.Duration(req.SyncWindowStartSecs) * time.Second
	edge.SyncWindow.End = time.Duration(req.SyncWindowEndSecs) * time.Second
	if req.SyncWindowTZ != "" {
		if loc, err := time.LoadLocation(req.SyncWindowTZ); err == nil {
			edge.SyncWindow.Location = loc
		}
	}
	if err := s.Edges.Put(ctx, edge); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHeartbeat records a liveness beat and the edge's current cache
// usage, the input peercatalog's liveness join and the scheduler's
// concurrency lookups both depend on.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Edges.Heartbeat(r.Context(), edgeID, req.CacheUsedBytes, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
