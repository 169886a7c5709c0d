package manifest

// WireChunk is one entry of the JSON chunk manifest wire form.
type WireChunk struct {
	Index      uint32 `json:"index"`
	ByteOffset uint64 `json:"byte_offset"`
	ByteLength uint64 `json:"byte_length"`
	SHA256     string `json:"sha256"`
}

// Wire is the JSON chunk manifest wire form.
type Wire struct {
	SessionID     string      `json:"session_id"`
	ArtifactID    string      `json:"artifact_id"`
	ArtifactSHA256 string     `json:"artifact_sha256"`
	ArtifactSize  uint64      `json:"artifact_size"`
	ChunkSize     uint64      `json:"chunk_size"`
	TotalChunks   uint32      `json:"total_chunks"`
	Chunks        []WireChunk `json:"chunks"`
}

// ToWire converts a Manifest to its JSON wire representation.
func (m *Manifest) ToWire() Wire {
	chunks := make([]WireChunk, len(m.Chunks))
	for i, c := range m.Chunks {
		chunks[i] = WireChunk{
			Index:      c.Index,
			ByteOffset: c.ByteOffset,
			ByteLength: c.ByteLength,
			SHA256:     c.Digest,
		}
	}
	return Wire{
		SessionID:      m.SessionID,
		ArtifactID:     m.ArtifactID,
		ArtifactSHA256: m.ArtifactDigest,
		ArtifactSize:   m.ArtifactSize,
		ChunkSize:      m.ChunkSize,
		TotalChunks:    m.TotalChunks,
		Chunks:         chunks,
	}
}
