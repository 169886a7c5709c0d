package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/scheduler"
)

// RepoStore implements scheduler.RepoSource, scheduler.AssignmentSource,
// and scheduler.ArtifactSource over repositories/repo_assignments/artifacts.
type RepoStore struct {
	DB *gorm.DB
}

func NewRepoStore(db *gorm.DB) *RepoStore {
	return &RepoStore{DB: db}
}

var (
	_ scheduler.RepoSource       = (*RepoStore)(nil)
	_ scheduler.AssignmentSource = (*RepoStore)(nil)
	_ scheduler.ArtifactSource   = (*RepoStore)(nil)
)

func (s *RepoStore) DefaultPriority(ctx context.Context, repoID string) (domain.Priority, error) {
	var row repoRow
	err := s.DB.WithContext(ctx).First(&row, "id = ?", repoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apierr.New(apierr.NotFound, "unknown repository")
	}
	if err != nil {
		return 0, err
	}
	return domain.Priority(row.DefaultPriority), nil
}

func (s *RepoStore) SetDefaultPriority(ctx context.Context, repoID string, priority domain.Priority) error {
	row := repoRow{ID: repoID, DefaultPriority: int(priority)}
	return s.DB.WithContext(ctx).Save(&row).Error
}

func (s *RepoStore) ActiveAssignments(ctx context.Context) ([]domain.RepoAssignment, error) {
	var rows []repoAssignmentRow
	if err := s.DB.WithContext(ctx).Find(&rows, "sync_enabled = ?", true).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RepoAssignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToAssignment(row))
	}
	return out, nil
}

func (s *RepoStore) PutAssignment(ctx context.Context, a domain.RepoAssignment) error {
	row := assignmentToRow(a)
	return s.DB.WithContext(ctx).Save(&row).Error
}

// EffectivePriorityForArtifact resolves the priority a (edgeID, artifactID)
// pull is subject to: the artifact's repo default, overridden by edgeID's
// repo_assignments row for that repo if one exists.
func (s *RepoStore) EffectivePriorityForArtifact(ctx context.Context, edgeID, artifactID string) (domain.Priority, error) {
	var artifact artifactRow
	err := s.DB.WithContext(ctx).First(&artifact, "id = ?", artifactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apierr.New(apierr.NotFound, "unknown artifact")
	}
	if err != nil {
		return 0, err
	}
	repoDefault, err := s.DefaultPriority(ctx, artifact.RepoID)
	if err != nil {
		return 0, err
	}

	var assignment repoAssignmentRow
	err = s.DB.WithContext(ctx).First(&assignment, "edge_id = ? AND repo_id = ?", edgeID, artifact.RepoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repoDefault, nil
	}
	if err != nil {
		return 0, err
	}
	return domain.EffectivePriority(rowToAssignment(assignment).PriorityOverride, repoDefault), nil
}

// PendingArtifacts lists artifacts published under repoID that edgeID has
// not yet fully replicated (its chunk_availability row, if any, does not
// cover every chunk).
func (s *RepoStore) PendingArtifacts(ctx context.Context, edgeID, repoID string) ([]string, error) {
	var artifacts []artifactRow
	if err := s.DB.WithContext(ctx).Find(&artifacts, "repo_id = ?", repoID).Error; err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range artifacts {
		var avail chunkAvailabilityRow
		err := s.DB.WithContext(ctx).First(&avail, "edge_id = ? AND artifact_id = ?", edgeID, a.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ids = append(ids, a.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if avail.AvailableCount < a.TotalChunks {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func rowToAssignment(row repoAssignmentRow) domain.RepoAssignment {
	var override *domain.Priority
	if row.PriorityOverride != nil {
		p := domain.Priority(*row.PriorityOverride)
		override = &p
	}
	return domain.RepoAssignment{
		EdgeID:           row.EdgeID,
		RepoID:           row.RepoID,
		SyncEnabled:      row.SyncEnabled,
		PriorityOverride: override,
		Schedule:         row.Schedule,
		LastReplicatedAt: row.LastReplicatedAt,
	}
}

func assignmentToRow(a domain.RepoAssignment) repoAssignmentRow {
	var override *int
	if a.PriorityOverride != nil {
		v := int(*a.PriorityOverride)
		override = &v
	}
	return repoAssignmentRow{
		EdgeID:           a.EdgeID,
		RepoID:           a.RepoID,
		SyncEnabled:      a.SyncEnabled,
		PriorityOverride: override,
		Schedule:         a.Schedule,
		LastReplicatedAt: a.LastReplicatedAt,
	}
}
