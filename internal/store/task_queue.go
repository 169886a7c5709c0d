package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/scheduler"
)

// TaskQueue implements scheduler.TaskQueue over sync_tasks, a durable
// queue so a restart re-derives pending work instead of replaying
// in-memory state.
type TaskQueue struct {
	DB *gorm.DB
}

func NewTaskQueue(db *gorm.DB) *TaskQueue {
	return &TaskQueue{DB: db}
}

var _ scheduler.TaskQueue = (*TaskQueue)(nil)

func (q *TaskQueue) Enqueue(ctx context.Context, task domain.SyncTask) error {
	row := syncTaskRow{
		ID:                 task.ID,
		EdgeID:             task.EdgeID,
		ArtifactID:         task.ArtifactID,
		SchedulingPriority: task.SchedulingPriority,
		EnqueuedAt:         task.EnqueuedAt,
	}
	return q.DB.WithContext(ctx).Create(&row).Error
}

// Dequeue pops the row with the lowest (scheduling_priority,
// enqueued_at) inside one transaction so concurrent dequeuers never
// return the same task twice.
func (q *TaskQueue) Dequeue(ctx context.Context) (*domain.SyncTask, error) {
	var task *domain.SyncTask
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row syncTaskRow
		err := tx.Order("scheduling_priority, enqueued_at").First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&syncTaskRow{}, "id = ?", row.ID).Error; err != nil {
			return err
		}
		task = &domain.SyncTask{
			ID:                 row.ID,
			EdgeID:             row.EdgeID,
			ArtifactID:         row.ArtifactID,
			SchedulingPriority: row.SchedulingPriority,
			EnqueuedAt:         row.EnqueuedAt,
		}
		return nil
	})
	return task, err
}

func (q *TaskQueue) Depth(ctx context.Context) (int, error) {
	var count int64
	if err := q.DB.WithContext(ctx).Model(&syncTaskRow{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
