package models

import (
	"time"
)

type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActorID    *string   `gorm:"size:36;index" json:"actor_id"`        // Nullable for anonymous actions
	Action     string    `gorm:"size:50;not null;index" json:"action"` // e.g. "APPROVE", "CASCADE_FAILED"
	EntityType string    `gorm:"size:30" json:"entity_type"`
	EntityID   string    `gorm:"size:50;index" json:"entity_id"`
	Details    string    `gorm:"type:text" json:"details"` // JSON encoded
	IPAddress  string    `gorm:"size:45" json:"ip_address"`
	Timestamp  time.Time `gorm:"not null" json:"timestamp"`
}

// All lists every model for auto-migration.
func All() []any {
	return []any{
		&User{}, &Like{}, &Property{}, &PropertyUnit{}, &Agent{}, &Counter{},
		&Enquiry{}, &ClickEvent{}, &PropertyBatch{}, &AuditLog{},
	}
}
