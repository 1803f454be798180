package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Workflow struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id"`
	Name        string         `gorm:"size:255;not null" json:"name"`
	Description *string        `gorm:"type:text" json:"description,omitempty"`
	Active      bool           `gorm:"not null;default:false;index" json:"active"`
	Nodes       JSONArray      `gorm:"type:jsonb;not null;default:'[]'" json:"nodes"`
	Connections JSONArray      `gorm:"type:jsonb;not null;default:'[]'" json:"connections"`
	Settings    JSON           `gorm:"type:jsonb;default:'{}'" json:"settings"`
	Tags        StringArray    `gorm:"type:text[]" json:"tags"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Executions []Execution `gorm:"foreignKey:WorkflowID" json:"-"`
}

func (Workflow) TableName() string {
	return "workflows"
}
