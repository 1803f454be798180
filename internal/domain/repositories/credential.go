package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowmesh-io/flowmesh/internal/domain/models"
)

// CredentialRepository backs the credential store. FindByID preloads shares
// so permission checks see the full grant list.
type CredentialRepository struct {
	*BaseRepository[models.Credential]
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{
		BaseRepository: NewBaseRepository[models.Credential](db),
	}
}

func (r *CredentialRepository) Insert(ctx context.Context, cred *models.Credential) error {
	return r.DB().WithContext(ctx).Create(cred).Error
}

func (r *CredentialRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	var credential models.Credential
	err := r.DB().WithContext(ctx).
		Preload("Shares").
		First(&credential, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *CredentialRepository) FindByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Credential, error) {
	var credential models.Credential
	err := r.DB().WithContext(ctx).
		Preload("Shares").
		Where("id = ? AND user_id = ?", id, userID).
		First(&credential).Error
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *CredentialRepository) FindByUser(ctx context.Context, userID uuid.UUID, typeFilter string) ([]models.Credential, error) {
	var credentials []models.Credential
	query := r.DB().WithContext(ctx).Where("user_id = ?", userID)
	if typeFilter != "" {
		query = query.Where("type = ?", typeFilter)
	}
	err := query.Order("name ASC").Find(&credentials).Error
	return credentials, err
}

func (r *CredentialRepository) FindExpiring(ctx context.Context, userID uuid.UUID, within time.Duration) ([]models.Credential, error) {
	var credentials []models.Credential
	deadline := time.Now().Add(within)
	err := r.DB().WithContext(ctx).
		Where("user_id = ? AND expires_at IS NOT NULL AND expires_at <= ?", userID, deadline).
		Order("expires_at ASC").
		Find(&credentials).Error
	return credentials, err
}

func (r *CredentialRepository) InsertShare(ctx context.Context, share *models.CredentialShare) error {
	return r.DB().WithContext(ctx).Create(share).Error
}

func (r *CredentialRepository) DeleteShare(ctx context.Context, credentialID uuid.UUID, userID, teamID *uuid.UUID) error {
	query := r.DB().WithContext(ctx).Where("credential_id = ?", credentialID)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if teamID != nil {
		query = query.Where("team_id = ?", *teamID)
	}
	result := query.Delete(&models.CredentialShare{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
