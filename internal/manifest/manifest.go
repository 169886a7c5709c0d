// Package manifest builds the deterministic chunk plan for an artifact.
// Two builders given the same (byte_size, chunk_size, source bytes)
// produce byte-identical manifests.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
)

// DefaultChunkSize matches CHUNK_SIZE_BYTES's default.
const DefaultChunkSize = 1048576

// Manifest is the durable chunk plan for one transfer session.
type Manifest struct {
	SessionID      string
	ArtifactID     string
	ArtifactDigest string // hex sha256, whole-artifact
	ArtifactSize   uint64
	ChunkSize      uint64
	TotalChunks    uint32
	Chunks         []domain.ChunkDescriptor
}

// Build streams src exactly once, computing per-chunk digests and the
// whole-artifact digest incrementally (never buffering the whole artifact),
// and returns the manifest for sessionID. src must yield exactly
// expectedSize bytes.
//
// It fails with an apierr.TransportError if src cannot be read or ends
// early, and with an apierr.IntegrityError if src yields bytes past
// expectedSize or the streamed bytes' whole digest does not equal
// expectedDigest — in that case
// the caller must abort the session before any chunk is offered.
func Build(sessionID, artifactID string, src io.Reader, expectedSize uint64, expectedDigest string, chunkSize uint64) (*Manifest, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	totalChunks := domain.TotalChunksFor(expectedSize, chunkSize)

	whole := sha256.New()
	chunks := make([]domain.ChunkDescriptor, 0, totalChunks)

	var offset uint64
	buf := make([]byte, chunkSize)
	for idx := uint32(0); idx < totalChunks; idx++ {
		length := chunkSize
		if remaining := expectedSize - offset; remaining < chunkSize {
			length = remaining
		}
		chunkBuf := buf[:length]
		if _, err := io.ReadFull(src, chunkBuf); err != nil {
			return nil, apierr.Wrap(apierr.TransportError, "reading artifact source", err)
		}
		whole.Write(chunkBuf)

		chunkHash := sha256.Sum256(chunkBuf)
		chunks = append(chunks, domain.ChunkDescriptor{
			ArtifactID: artifactID,
			Index:      idx,
			ByteOffset: offset,
			ByteLength: length,
			Digest:     hex.EncodeToString(chunkHash[:]),
		})
		offset += length
	}

	// Confirm the source did not carry trailing bytes beyond expectedSize.
	var extra [1]byte
	if n, _ := src.Read(extra[:]); n > 0 {
		return nil, apierr.New(apierr.IntegrityError, "artifact source longer than declared byte_size")
	}

	gotDigest := hex.EncodeToString(whole.Sum(nil))
	if gotDigest != expectedDigest {
		return nil, apierr.New(apierr.IntegrityError, "artifact source digest does not match expected whole_digest")
	}

	return &Manifest{
		SessionID:      sessionID,
		ArtifactID:     artifactID,
		ArtifactDigest: expectedDigest,
		ArtifactSize:   expectedSize,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		Chunks:         chunks,
	}, nil
}

// DigestByIndex returns the expected digest for chunk index n.
func (m *Manifest) DigestByIndex(n uint32) (string, bool) {
	if n >= uint32(len(m.Chunks)) {
		return "", false
	}
	return m.Chunks[n].Digest, true
}
