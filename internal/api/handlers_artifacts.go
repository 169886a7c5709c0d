package api

import (
	"net/http"
	"strconv"

	"github.com/artifactkeeper/borgcore/internal/manifest"
)

// ingestArtifactResponse reports the chunk plan the core derived from a
// newly ingested artifact.
type ingestArtifactResponse struct {
	ArtifactID  string `json:"artifact_id"`
	TotalChunks uint32 `json:"total_chunks"`
	ChunkSize   uint64 `json:"chunk_size"`
}

// handleIngestArtifact is the core's consumption interface: the (out of
// scope) registry hands it (artifact_id, byte length, whole-artifact
// digest, chunk source reader) and the core streams the body exactly
// once, building and registering the chunk manifest every downstream
// transfer flow resolves by artifact id. Metadata travels as query
// parameters because the request body is the raw artifact bytes, not a
// JSON envelope.
func (s *Server) handleIngestArtifact(w http.ResponseWriter, r *http.Request) {
	repoID := r.PathValue("id")
	q := r.URL.Query()

	artifactID := q.Get("artifact_id")
	if artifactID == "" {
		writeError(w, missingArtifactID())
		return
	}
	digest := q.Get("sha256")
	if digest == "" {
		writeError(w, missingDigest())
		return
	}
	byteSize, err := strconv.ParseUint(q.Get("byte_size"), 10, 64)
	if err != nil {
		writeError(w, badByteSize())
		return
	}
	chunkSize := s.Tuning.ChunkSizeBytes
	if raw := q.Get("chunk_size"); raw != "" {
		chunkSize, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, badChunkSize())
			return
		}
	}

	man, err := manifest.Build(artifactID, artifactID, r.Body, byteSize, digest, chunkSize)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Manifests.Register(r.Context(), man, repoID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestArtifactResponse{
		ArtifactID:  man.ArtifactID,
		TotalChunks: man.TotalChunks,
		ChunkSize:   man.ChunkSize,
	})
}
