package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowmesh-io/flowmesh/internal/domain/models"
)

type WorkflowRepository struct {
	*BaseRepository[models.Workflow]
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{
		BaseRepository: NewBaseRepository[models.Workflow](db),
	}
}

func (r *WorkflowRepository) FindByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.DB().WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&workflow).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (r *WorkflowRepository) FindByUser(ctx context.Context, userID uuid.UUID, opts *ListOptions) ([]models.Workflow, int64, error) {
	var workflows []models.Workflow
	var total int64

	query := r.DB().WithContext(ctx).Where("user_id = ?", userID)
	query.Model(&models.Workflow{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&workflows).Error
	return workflows, total, err
}

func (r *WorkflowRepository) FindActive(ctx context.Context) ([]models.Workflow, error) {
	var workflows []models.Workflow
	err := r.DB().WithContext(ctx).
		Where("active = ?", true).
		Find(&workflows).Error
	return workflows, err
}

func (r *WorkflowRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ?", id).
		Update("active", active).Error
}
