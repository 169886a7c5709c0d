package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// handleTransferInit opens (or resumes) a pull-based transfer session for
// an artifact this edge wants. Push-driven sessions (P0/P1) are opened by
// the scheduler instead; this is the P2 on-demand path.
func (s *Server) handleTransferInit(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	var req transferInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	// ":" (not "/") keeps the id usable as a single net/http path segment,
	// matching the scheduler's own resolveSession convention.
	sessionID := edgeID + ":" + req.ArtifactID

	priority, err := s.Repos.EffectivePriorityForArtifact(ctx, edgeID, req.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	if priority == domain.PriorityLocalOnly {
		writeError(w, apierr.New(apierr.Forbidden, "artifact is local-only (P3) and cannot be pulled cross-node"))
		return
	}

	if existing, err := s.Sessions.GetSession(ctx, sessionID); err == nil && existing != nil {
		writeJSON(w, http.StatusOK, transferInitResponse{SessionID: existing.ID, Status: string(existing.Status)})
		return
	}

	man, err := s.Manifests.ManifestFor(ctx, req.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	sess := domain.TransferSession{
		ID:         sessionID,
		ArtifactID: req.ArtifactID,
		TargetNode: edgeID,
		Status:     domain.SessionPending,
		CreatedAt:  time.Now(),
	}
	if err := s.Engine.Open(ctx, sess, man); err != nil {
		writeError(w, err)
		return
	}

	// Run outlives this request; it drives the session to a terminal state
	// in the background.
	go func() {
		opts := transfer.Options{
			Priority:                    priority,
			MaxConcurrentChunkDownloads: s.Tuning.MaxConcurrentChunkDownloads,
			RarestFirstThreshold:        s.Tuning.RarestFirstThreshold,
			MaxBackoffSecs:              s.Tuning.MaxBackoffSecs,
		}
		if err := s.Engine.Run(context.Background(), sessionID, opts); err != nil {
			s.Log.WithError(err).WithField("session_id", sessionID).Warn("api: background transfer run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, transferInitResponse{SessionID: sessionID, Status: string(domain.SessionActive)})
}

// handleTransferManifest returns the chunk manifest wire form for an open
// session, the payload a downloading peer needs before fetching chunks.
func (s *Server) handleTransferManifest(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	ctx := r.Context()

	sess, err := s.Sessions.GetSession(ctx, sid)
	if err != nil {
		writeError(w, err)
		return
	}
	man, err := s.Manifests.ManifestFor(ctx, sess.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	wire := man.ToWire()
	wire.SessionID = sid
	writeJSON(w, http.StatusOK, wire)
}

// handleGetChunk serves this node's locally cached bytes for one chunk,
// the endpoint edgeclient's fetcher hits when routed to this node as a
// peer.
func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	n, err := strconv.ParseUint(r.PathValue("n"), 10, 32)
	if err != nil {
		writeError(w, badChunkIndex())
		return
	}
	ctx := r.Context()

	sess, err := s.Sessions.GetSession(ctx, sid)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.Sessions.ReadChunk(ctx, sess.ArtifactID, uint32(n))
	if err != nil {
		writeError(w, err)
		return
	}
	sum := sha256.Sum256(data)
	w.Header().Set("X-Chunk-SHA256", hex.EncodeToString(sum[:]))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleVerifyChunk checks a caller-reported digest against the manifest's
// expected digest for a chunk and, when both the digest matches and the
// caller reports it verified locally, persists the chunk as verified and
// records it in edgeID's availability bitfield. A replay against an
// already-verified chunk is idempotent if it reports the same outcome and
// a 409 conflict if it does not, matching P8's endpoint-level idempotence
// guarantee.
func (s *Server) handleVerifyChunk(w http.ResponseWriter, r *http.Request) {
	edgeID := r.PathValue("id")
	sid := r.PathValue("sid")
	n, err := strconv.ParseUint(r.PathValue("n"), 10, 32)
	if err != nil {
		writeError(w, badChunkIndex())
		return
	}
	var req verifyChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()

	sess, err := s.Sessions.GetSession(ctx, sid)
	if err != nil {
		writeError(w, err)
		return
	}
	man, err := s.Manifests.ManifestFor(ctx, sess.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	expected, ok := man.DigestByIndex(uint32(n))
	verified := ok && expected == req.SHA256 && req.Verified

	chunks, err := s.Sessions.GetChunks(ctx, sid)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, c := range chunks {
		if c.ChunkIndex != uint32(n) {
			continue
		}
		if c.Status == domain.ChunkVerified {
			if !verified {
				writeError(w, apierr.New(apierr.ConflictState, "chunk already verified; replay reported a mismatching result"))
				return
			}
			writeJSON(w, http.StatusOK, verifyChunkResponse{Verified: true})
			return
		}
		break
	}

	if verified {
		if err := s.Sessions.SaveChunk(ctx, domain.TransferChunk{
			SessionID: sid, ChunkIndex: uint32(n), Status: domain.ChunkVerified, SourcePeer: edgeID,
		}); err != nil {
			writeError(w, err)
			return
		}
		if err := s.Availability.RecordChunk(ctx, edgeID, sess.ArtifactID, sess.TotalChunks, uint32(n)); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, verifyChunkResponse{Verified: verified})
}

// handleCompleteTransfer nudges the engine to attempt finalization (all
// chunks already verified) and reports the session's resulting state. An
// optional artifact_sha256 in the request body is cross-checked against
// the session's resulting digest once completed.
func (s *Server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	ctx := r.Context()

	var req completeTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, apierr.Wrap(apierr.MalformedInput, "invalid request body", err))
		return
	}

	if err := s.Engine.Run(ctx, sid, transfer.Options{
		MaxConcurrentChunkDownloads: s.Tuning.MaxConcurrentChunkDownloads,
		RarestFirstThreshold:        s.Tuning.RarestFirstThreshold,
		MaxBackoffSecs:              s.Tuning.MaxBackoffSecs,
	}); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.Sessions.GetSession(ctx, sid)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ArtifactSHA256 != "" && sess.ArtifactDigest != "" && req.ArtifactSHA256 != sess.ArtifactDigest {
		writeError(w, apierr.New(apierr.IntegrityError, "artifact_sha256 does not match session's whole-artifact digest"))
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		SessionID:      sess.ID,
		ArtifactID:     sess.ArtifactID,
		Status:         string(sess.Status),
		TotalChunks:    sess.TotalChunks,
		ArtifactDigest: sess.ArtifactDigest,
		ErrorMessage:   sess.ErrorMessage,
	})
}
