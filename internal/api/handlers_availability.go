package api

import (
	"net/http"

	"github.com/artifactkeeper/borgcore/internal/bitfield"
)

// handleGetOwnAvailability returns edgeID's chunk bitfield for one
// artifact, base64-encoded.
func (s *Server) handleGetOwnAvailability(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	artifactID := r.PathValue("artifact_id")

	bf, count, err := s.Availability.Get(r.Context(), edgeID, artifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityView{
		Bitfield:       bf.ToBase64(),
		TotalChunks:    bf.TotalChunks(),
		AvailableCount: count,
	})
}

// handlePutOwnAvailability replaces edgeID's chunk bitfield for one
// artifact wholesale, e.g. after a client rebuilds it from local disk.
func (s *Server) handlePutOwnAvailability(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	artifactID := r.PathValue("artifact_id")

	var req putAvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bf, err := bitfield.FromBase64(req.Bitfield, req.TotalChunks)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Availability.Put(r.Context(), edgeID, artifactID, bf); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
