package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrClickEventImmutable = errors.New("click events are immutable")

// ClickEvent is an append-only interaction record. It is written once and
// only ever aggregated over.
type ClickEvent struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     *string    `gorm:"size:36;index" json:"userId,omitempty"`
	SessionID  string     `gorm:"size:64;index" json:"sessionId"`
	ItemType   string     `gorm:"size:50;not null;index" json:"itemType"`
	ItemValue  string     `gorm:"size:255" json:"itemValue"`
	EntityType EntityType `gorm:"size:20" json:"entityType,omitempty"`
	PropertyID *string    `gorm:"size:36;index" json:"propertyId,omitempty"`
	IPAddress  string     `gorm:"size:45" json:"ipAddress,omitempty"`
	Country    string     `gorm:"size:100" json:"country"`
	Region     string     `gorm:"size:100" json:"region,omitempty"`
	City       string     `gorm:"size:100" json:"city"`
	DeviceType string     `gorm:"size:20" json:"deviceType"`
	Browser    string     `gorm:"size:50" json:"browser,omitempty"`
	OS         string     `gorm:"size:100" json:"os,omitempty"`
	Referrer   string     `gorm:"size:255" json:"referrer,omitempty"`
	UserAgent  string     `gorm:"-" json:"-"`
	CreatedAt  time.Time  `gorm:"not null;index" json:"createdAt"`
}

func (ClickEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrClickEventImmutable
}

func (ClickEvent) BeforeDelete(tx *gorm.DB) error {
	return ErrClickEventImmutable
}
