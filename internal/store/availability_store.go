package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/domain"
)

// AvailabilityStore implements availability.Store over chunk_availability.
type AvailabilityStore struct {
	DB *gorm.DB
}

func NewAvailabilityStore(db *gorm.DB) *AvailabilityStore {
	return &AvailabilityStore{DB: db}
}

var _ availability.Store = (*AvailabilityStore)(nil)

func (s *AvailabilityStore) GetAvailability(ctx context.Context, edgeID, artifactID string) (*domain.ChunkAvailability, error) {
	var row chunkAvailabilityRow
	err := s.DB.WithContext(ctx).First(&row, "edge_id = ? AND artifact_id = ?", edgeID, artifactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.NotFound, "no availability row for edge/artifact")
	}
	if err != nil {
		return nil, err
	}
	return rowToAvailability(row), nil
}

func (s *AvailabilityStore) PutAvailability(ctx context.Context, a domain.ChunkAvailability) error {
	row := availabilityToRow(a)
	return withImmediate(s.DB.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Save(&row).Error
	})
}

func (s *AvailabilityStore) SeedersOf(ctx context.Context, artifactID string) ([]domain.ChunkAvailability, error) {
	var rows []chunkAvailabilityRow
	if err := s.DB.WithContext(ctx).Find(&rows, "artifact_id = ? AND available_count > 0", artifactID).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ChunkAvailability, 0, len(rows))
	for _, row := range rows {
		out = append(out, *rowToAvailability(row))
	}
	return out, nil
}

func rowToAvailability(row chunkAvailabilityRow) *domain.ChunkAvailability {
	return &domain.ChunkAvailability{
		EdgeID:         row.EdgeID,
		ArtifactID:     row.ArtifactID,
		Bitfield:       row.Bitfield,
		TotalChunks:    row.TotalChunks,
		AvailableCount: row.AvailableCount,
	}
}

func availabilityToRow(a domain.ChunkAvailability) chunkAvailabilityRow {
	return chunkAvailabilityRow{
		EdgeID:         a.EdgeID,
		ArtifactID:     a.ArtifactID,
		Bitfield:       a.Bitfield,
		TotalChunks:    a.TotalChunks,
		AvailableCount: a.AvailableCount,
	}
}
