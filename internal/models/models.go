package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Audit actions recorded for mutating operator actions.
const (
	ActionSuspendInstance = "instance.suspend"
	ActionResumeInstance  = "instance.resume"
	ActionCancelInstance  = "instance.cancel"
	ActionUpdateVariable  = "variable.update"
	ActionRetryJob        = "job.retry"
)

// AuditEntry records one mutating operator action against the engine.
// Entries are operational records only; no token material is ever stored.
type AuditEntry struct {
	BaseModel
	Actor      string `json:"actor" gorm:"index;not null"`
	Action     string `json:"action" gorm:"index;not null"`
	TargetType string `json:"target_type" gorm:"not null"` // "instance", "job", "variable"
	TargetID   string `json:"target_id" gorm:"index;not null"`
	Detail     string `json:"detail" gorm:"type:text"` // JSON payload describing the change
	Succeeded  bool   `json:"succeeded" gorm:"not null"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AuditEntry{},
	)
}
