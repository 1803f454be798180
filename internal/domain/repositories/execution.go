package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowmesh-io/flowmesh/internal/domain/models"
)

type ExecutionRepository struct {
	*BaseRepository[models.Execution]
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{
		BaseRepository: NewBaseRepository[models.Execution](db),
	}
}

func (r *ExecutionRepository) FindByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Execution, error) {
	var execution models.Execution
	err := r.DB().WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&execution).Error
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *ExecutionRepository) FindByWorkflowID(ctx context.Context, workflowID uuid.UUID, opts *ListOptions) ([]models.Execution, int64, error) {
	var executions []models.Execution
	var total int64

	query := r.DB().WithContext(ctx).Where("workflow_id = ?", workflowID)
	query.Model(&models.Execution{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("started_at DESC")
	}

	err := query.Find(&executions).Error
	return executions, total, err
}

func (r *ExecutionRepository) CountByStatus(ctx context.Context, userID *uuid.UUID) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row

	query := r.DB().WithContext(ctx).Model(&models.Execution{}).
		Select("status, count(*) as count").
		Group("status")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Count
	}
	return counts, nil
}

func (r *ExecutionRepository) AverageDuration(ctx context.Context, userID *uuid.UUID) (time.Duration, error) {
	var seconds *float64

	query := r.DB().WithContext(ctx).Model(&models.Execution{}).
		Select("avg(extract(epoch from finished_at - started_at))").
		Where("finished_at IS NOT NULL")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if err := query.Scan(&seconds).Error; err != nil {
		return 0, err
	}
	if seconds == nil {
		return 0, nil
	}
	return time.Duration(*seconds * float64(time.Second)), nil
}

// FindStale returns executions stuck in running longer than the threshold,
// for crash recovery sweeps.
func (r *ExecutionRepository) FindStale(ctx context.Context, threshold time.Duration) ([]models.Execution, error) {
	var executions []models.Execution
	cutoff := time.Now().Add(-threshold)
	err := r.DB().WithContext(ctx).
		Where("status = ? AND started_at < ?", models.ExecutionStatusRunning, cutoff).
		Find(&executions).Error
	return executions, err
}

func (r *ExecutionRepository) SetError(ctx context.Context, executionID uuid.UUID, errorMessage string, errorNodeID *string) error {
	updates := map[string]interface{}{
		"status":        models.ExecutionStatusError,
		"error_message": errorMessage,
		"finished_at":   time.Now().UTC(),
	}
	if errorNodeID != nil {
		updates["error_node_id"] = *errorNodeID
	}

	return r.DB().WithContext(ctx).Model(&models.Execution{}).
		Where("id = ?", executionID).
		Updates(updates).Error
}

func (r *ExecutionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB().WithContext(ctx).
		Where("started_at < ? AND finished_at IS NOT NULL", cutoff).
		Delete(&models.Execution{})
	return result.RowsAffected, result.Error
}

type NodeExecutionRepository struct {
	*BaseRepository[models.NodeExecution]
}

func NewNodeExecutionRepository(db *gorm.DB) *NodeExecutionRepository {
	return &NodeExecutionRepository{
		BaseRepository: NewBaseRepository[models.NodeExecution](db),
	}
}

// CreateBatch inserts the queued rows for a starting execution atomically:
// either every reachable node gets a row or none do.
func (r *NodeExecutionRepository) CreateBatch(ctx context.Context, recs []*models.NodeExecution) error {
	if len(recs) == 0 {
		return nil
	}
	return r.Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Update saves by the (execution_id, node_id) key the engine addresses rows
// with, rather than the surrogate primary key.
func (r *NodeExecutionRepository) Update(ctx context.Context, rec *models.NodeExecution) error {
	return r.DB().WithContext(ctx).Model(&models.NodeExecution{}).
		Where("execution_id = ? AND node_id = ?", rec.ExecutionID, rec.NodeID).
		Updates(map[string]interface{}{
			"status":        rec.Status,
			"input_data":    rec.InputData,
			"output_data":   rec.OutputData,
			"error_message": rec.ErrorMessage,
			"started_at":    rec.StartedAt,
			"finished_at":   rec.FinishedAt,
			"attempt_count": rec.AttemptCount,
		}).Error
}

func (r *NodeExecutionRepository) FindByExecutionAndNode(ctx context.Context, executionID uuid.UUID, nodeID string) (*models.NodeExecution, error) {
	var nodeExecution models.NodeExecution
	err := r.DB().WithContext(ctx).
		Where("execution_id = ? AND node_id = ?", executionID, nodeID).
		First(&nodeExecution).Error
	if err != nil {
		return nil, err
	}
	return &nodeExecution, nil
}

func (r *NodeExecutionRepository) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]models.NodeExecution, error) {
	var nodeExecutions []models.NodeExecution
	err := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("started_at ASC NULLS LAST").
		Find(&nodeExecutions).Error
	return nodeExecutions, err
}
