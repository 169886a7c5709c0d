package edgeclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
)

// chunkPollInterval and maxChunkPolls bound how long a chunk fetch retries
// a not-yet-cached chunk before giving up — the hub's own engine may still
// be assembling the artifact from the swarm when this edge asks for it.
const (
	chunkPollInterval = 2 * time.Second
	maxChunkPolls     = 300
)

// LocalCache is the local half of a pull: writing verified chunk bytes and
// the session row that lets this edge's own REST surface serve them back
// out to other peers afterward. internal/store's SessionStore satisfies
// this directly.
type LocalCache interface {
	SaveSession(ctx context.Context, sess domain.TransferSession) error
	WriteChunk(ctx context.Context, artifactID string, index uint32, data []byte) error
}

// Puller drives one edge's ingestion of an artifact from its hub: open a
// pull session, fetch and verify every chunk, and mirror the bytes into a
// local cache. It is the chunked-transfer counterpart to FetchWhole.
type Puller struct {
	Client *Client
	Cache  LocalCache

	// ChunkedEnabled and Threshold feed ShouldUseChunkedTransfer.
	ChunkedEnabled bool
	Threshold      uint64

	Log *logrus.Logger
}

// NewPuller builds a Puller with the chunked path enabled and the
// documented default threshold.
func NewPuller(client *Client, cache LocalCache) *Puller {
	return &Puller{
		Client:         client,
		Cache:          cache,
		ChunkedEnabled: true,
		Log:            logrus.StandardLogger(),
	}
}

// Pull downloads artifactID (declared size artifactSize) chunk by chunk
// from the hub, verifying each against its manifest digest before
// persisting, then nudges the hub to finalize the session. Callers below
// the chunked-transfer threshold should use FetchWhole against the
// registry's own download endpoint instead.
func (p *Puller) Pull(ctx context.Context, artifactID string, artifactSize uint64) error {
	if !ShouldUseChunkedTransfer(artifactSize, p.Threshold, p.ChunkedEnabled) {
		return apierr.New(apierr.MalformedInput, "artifact below chunked-transfer threshold")
	}

	sessionID, _, err := p.Client.InitTransfer(ctx, artifactID)
	if err != nil {
		return err
	}
	man, err := p.Client.Manifest(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := p.Cache.SaveSession(ctx, domain.TransferSession{
		ID:          sessionID,
		ArtifactID:  artifactID,
		TargetNode:  p.Client.EdgeID,
		Status:      domain.SessionActive,
		TotalChunks: man.TotalChunks,
		CreatedAt:   time.Now(),
	}); err != nil {
		return err
	}

	fetcher := p.Client.ChunkFetcher(sessionID)
	for _, chunk := range man.Chunks {
		data, err := p.fetchWithRetry(ctx, fetcher.FetchChunk, artifactID, chunk.Index)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		if digest != chunk.SHA256 {
			return apierr.New(apierr.IntegrityError, fmt.Sprintf("chunk %d digest mismatch", chunk.Index))
		}
		if err := p.Cache.WriteChunk(ctx, artifactID, chunk.Index, data); err != nil {
			return err
		}
		ok, err := p.Client.VerifyChunk(ctx, sessionID, chunk.Index, digest)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.New(apierr.IntegrityError, fmt.Sprintf("hub rejected chunk %d digest", chunk.Index))
		}
	}

	if err := p.Cache.SaveSession(ctx, domain.TransferSession{
		ID:             sessionID,
		ArtifactID:     artifactID,
		TargetNode:     p.Client.EdgeID,
		Status:         domain.SessionCompleted,
		TotalChunks:    man.TotalChunks,
		ArtifactDigest: man.ArtifactSHA256,
		CreatedAt:      time.Now(),
	}); err != nil {
		return err
	}

	if status, err := p.Client.CompleteTransfer(ctx, sessionID); err != nil {
		p.Log.WithError(err).WithField("session_id", sessionID).Warn("edgeclient: hub-side complete failed")
	} else {
		p.Log.WithFields(logrus.Fields{"artifact_id": artifactID, "hub_status": status}).Info("edgeclient: pull complete")
	}
	return nil
}

type fetchFunc func(ctx context.Context, peerID, artifactID string, index uint32) ([]byte, error)

// fetchWithRetry polls a chunk the hub has not yet cached from the swarm,
// distinguishing "not there yet" from a real transport failure.
func (p *Puller) fetchWithRetry(ctx context.Context, fetch fetchFunc, artifactID string, index uint32) ([]byte, error) {
	var lastErr error
	for i := 0; i < maxChunkPolls; i++ {
		data, err := fetch(ctx, "", artifactID, index)
		if err == nil {
			return data, nil
		}
		if !apierr.Is(err, apierr.NotFound) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(chunkPollInterval):
		}
	}
	return nil, lastErr
}
