package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"gorm.io/gorm"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// SessionStore implements transfer.SessionStore, transfer.ChunkSink, and
// transfer.Assembler over transfer_sessions/transfer_chunks/chunk_blobs.
// One instance backs both roles because finalizing a session needs to
// read back the same bytes ChunkSink wrote, in chunk-index order.
type SessionStore struct {
	DB *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{DB: db}
}

var (
	_ transfer.SessionStore = (*SessionStore)(nil)
	_ transfer.ChunkSink    = (*SessionStore)(nil)
	_ transfer.Assembler    = (*SessionStore)(nil)
)

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*domain.TransferSession, error) {
	var row transferSessionRow
	err := s.DB.WithContext(ctx).First(&row, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.NotFound, "unknown transfer session")
	}
	if err != nil {
		return nil, err
	}
	return rowToSession(row), nil
}

func (s *SessionStore) SaveSession(ctx context.Context, sess domain.TransferSession) error {
	row := sessionToRow(sess)
	return s.DB.WithContext(ctx).Save(&row).Error
}

func (s *SessionStore) GetChunks(ctx context.Context, sessionID string) ([]domain.TransferChunk, error) {
	var rows []transferChunkRow
	if err := s.DB.WithContext(ctx).Order("chunk_index").Find(&rows, "session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TransferChunk, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToChunk(row))
	}
	return out, nil
}

func (s *SessionStore) SaveChunk(ctx context.Context, c domain.TransferChunk) error {
	row := chunkToRow(c)
	// upsert keyed by (session, index): each save simply replaces the
	// row's current state, never accumulates.
	return s.DB.WithContext(ctx).Save(&row).Error
}

// WriteChunk persists verified chunk bytes, keyed by (artifact, index) so
// a later session for the same artifact can reuse them without
// re-fetching — the store-level half of "resume via availability
// registry".
func (s *SessionStore) WriteChunk(ctx context.Context, artifactID string, index uint32, data []byte) error {
	row := chunkBlobRow{ArtifactID: artifactID, ChunkIndex: index, Data: data}
	return s.DB.WithContext(ctx).Save(&row).Error
}

// ReadChunk returns previously verified chunk bytes, used by the REST
// surface to serve this node's chunk data to a downloading peer.
func (s *SessionStore) ReadChunk(ctx context.Context, artifactID string, index uint32) ([]byte, error) {
	var row chunkBlobRow
	err := s.DB.WithContext(ctx).First(&row, "artifact_id = ? AND chunk_index = ?", artifactID, index).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.NotFound, "chunk not present in local cache")
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

// Finalize recomputes the whole-artifact digest by reading every chunk
// blob back in index order and hashing them as one stream, never
// buffering the whole artifact.
func (s *SessionStore) Finalize(ctx context.Context, artifactID string, totalChunks uint32) (string, error) {
	h := sha256.New()
	for i := uint32(0); i < totalChunks; i++ {
		var row chunkBlobRow
		err := s.DB.WithContext(ctx).First(&row, "artifact_id = ? AND chunk_index = ?", artifactID, i).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apierr.New(apierr.IntegrityError, "missing chunk blob during finalize")
		}
		if err != nil {
			return "", err
		}
		if _, err := h.Write(row.Data); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CacheSize sums the byte length of every chunk blob held locally, the
// figure an edge reports as cache_used_bytes on each heartbeat.
func (s *SessionStore) CacheSize(ctx context.Context) (uint64, error) {
	var total *uint64
	err := s.DB.WithContext(ctx).Model(&chunkBlobRow{}).Select("SUM(LENGTH(data))").Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func rowToSession(row transferSessionRow) *domain.TransferSession {
	return &domain.TransferSession{
		ID:             row.ID,
		ArtifactID:     row.ArtifactID,
		TargetNode:     row.TargetNode,
		TotalChunks:    row.TotalChunks,
		ChunkSize:      row.ChunkSize,
		Status:         domain.SessionStatus(row.Status),
		ErrorMessage:   row.ErrorMessage,
		Attempts:       row.Attempts,
		CreatedAt:      row.CreatedAt,
		CompletedAt:    row.CompletedAt,
		ArtifactDigest: row.ArtifactDigest,
	}
}

func sessionToRow(sess domain.TransferSession) transferSessionRow {
	return transferSessionRow{
		ID:             sess.ID,
		ArtifactID:     sess.ArtifactID,
		TargetNode:     sess.TargetNode,
		TotalChunks:    sess.TotalChunks,
		ChunkSize:      sess.ChunkSize,
		Status:         string(sess.Status),
		ErrorMessage:   sess.ErrorMessage,
		Attempts:       sess.Attempts,
		CreatedAt:      sess.CreatedAt,
		CompletedAt:    sess.CompletedAt,
		ArtifactDigest: sess.ArtifactDigest,
	}
}

func rowToChunk(row transferChunkRow) domain.TransferChunk {
	return domain.TransferChunk{
		SessionID:  row.SessionID,
		ChunkIndex: row.ChunkIndex,
		Status:     domain.ChunkStatus(row.Status),
		SourcePeer: row.SourcePeer,
		Attempts:   row.Attempts,
		LastError:  row.LastError,
		StartedAt:  row.StartedAt,
	}
}

func chunkToRow(c domain.TransferChunk) transferChunkRow {
	return transferChunkRow{
		SessionID:  c.SessionID,
		ChunkIndex: c.ChunkIndex,
		Status:     string(c.Status),
		SourcePeer: c.SourcePeer,
		Attempts:   c.Attempts,
		LastError:  c.LastError,
		StartedAt:  c.StartedAt,
	}
}
