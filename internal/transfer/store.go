package transfer

import (
	"context"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

// SessionStore persists TransferSession and TransferChunk rows. A concrete
// implementation lives in internal/store.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*domain.TransferSession, error)
	SaveSession(ctx context.Context, s domain.TransferSession) error

	GetChunks(ctx context.Context, sessionID string) ([]domain.TransferChunk, error)
	SaveChunk(ctx context.Context, c domain.TransferChunk) error
}

// ChunkSink receives verified chunk bytes. The concrete implementation
// writes to the local artifact cache; after a successful write the engine
// itself records the chunk in internal/availability so this node becomes a
// seeder for the chunk it just verified.
type ChunkSink interface {
	WriteChunk(ctx context.Context, artifactID string, index uint32, data []byte) error
}
