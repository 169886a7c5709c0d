package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/manifest"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// ManifestStore persists the artifact and chunk-descriptor rows a
// manifest.Manifest is built from, and implements transfer.ManifestSource
// by reconstructing it on demand rather than recomputing digests.
type ManifestStore struct {
	DB *gorm.DB
}

func NewManifestStore(db *gorm.DB) *ManifestStore {
	return &ManifestStore{DB: db}
}

var _ transfer.ManifestSource = (*ManifestStore)(nil)

// Register stores man's artifact row and every chunk descriptor, keyed by
// artifact id so any later session can resolve the same manifest without
// re-reading the artifact's bytes.
func (s *ManifestStore) Register(ctx context.Context, man *manifest.Manifest, repoID string) error {
	return withImmediate(s.DB.WithContext(ctx), func(tx *gorm.DB) error {
		artifact := artifactRow{
			ID:          man.ArtifactID,
			ByteSize:    man.ArtifactSize,
			WholeDigest: man.ArtifactDigest,
			ChunkSize:   man.ChunkSize,
			TotalChunks: man.TotalChunks,
			RepoID:      repoID,
		}
		if err := tx.Save(&artifact).Error; err != nil {
			return err
		}
		for _, c := range man.Chunks {
			row := chunkDescriptorRow{
				ArtifactID: man.ArtifactID,
				ChunkIndex: c.Index,
				ByteOffset: c.ByteOffset,
				ByteLength: c.ByteLength,
				Digest:     c.Digest,
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ManifestStore) ManifestFor(ctx context.Context, artifactID string) (*manifest.Manifest, error) {
	var artifact artifactRow
	err := s.DB.WithContext(ctx).First(&artifact, "id = ?", artifactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.NotFound, "unknown artifact")
	}
	if err != nil {
		return nil, err
	}
	var descriptors []chunkDescriptorRow
	if err := s.DB.WithContext(ctx).Order("chunk_index").Find(&descriptors, "artifact_id = ?", artifactID).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.ChunkDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		chunks = append(chunks, domain.ChunkDescriptor{
			ArtifactID: artifactID,
			Index:      d.ChunkIndex,
			ByteOffset: d.ByteOffset,
			ByteLength: d.ByteLength,
			Digest:     d.Digest,
		})
	}
	return &manifest.Manifest{
		ArtifactID:     artifactID,
		ArtifactDigest: artifact.WholeDigest,
		ArtifactSize:   artifact.ByteSize,
		ChunkSize:      artifact.ChunkSize,
		TotalChunks:    artifact.TotalChunks,
		Chunks:         chunks,
	}, nil
}
