package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Credential struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;index:idx_cred_user_name,unique;not null" json:"user_id"`
	Name       string         `gorm:"size:100;index:idx_cred_user_name,unique;not null" json:"name"`
	Type       string         `gorm:"size:50;not null;index" json:"type"`
	Ciphertext string         `gorm:"type:text;not null" json:"-"` // HEX(IV):HEX(ciphertext), see pkg/crypto
	ExpiresAt  *time.Time     `gorm:"index" json:"expires_at,omitempty"`
	LastUsedAt *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	Shares []CredentialShare `gorm:"foreignKey:CredentialID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Credential) TableName() string {
	return "credentials"
}

// CredentialShare grants another user or a team access to a credential at a
// permission level. Exactly one of UserID / TeamID is set.
type CredentialShare struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CredentialID uuid.UUID  `gorm:"type:uuid;index;not null" json:"credential_id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	TeamID       *uuid.UUID `gorm:"type:uuid;index" json:"team_id,omitempty"`
	Permission   string     `gorm:"size:10;not null;default:use" json:"permission"`
	CreatedAt    time.Time  `json:"created_at"`

	Credential Credential `gorm:"foreignKey:CredentialID" json:"-"`
}

func (CredentialShare) TableName() string {
	return "credential_shares"
}
