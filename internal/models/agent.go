package models

import (
	"fmt"
	"time"
)

// AgentIDPrefix prefixes the sequence number of every agent id.
const AgentIDPrefix = "cleartitle"

func AgentID(seq int64) string {
	return fmt.Sprintf("%s%d", AgentIDPrefix, seq)
}

type Agent struct {
	ID              string    `gorm:"primaryKey;size:40" json:"id"`
	Seq             int64     `gorm:"uniqueIndex;not null" json:"seq"`
	UserID          string    `gorm:"uniqueIndex;size:36;not null" json:"userId"`
	Name            string    `gorm:"size:120" json:"name"`
	Email           string    `gorm:"size:120" json:"email"`
	Phone           string    `gorm:"size:30" json:"phone,omitempty"`
	AgencyName      string    `gorm:"size:200" json:"agencyName,omitempty"`
	LicenseNumber   string    `gorm:"size:100" json:"licenseNumber,omitempty"`
	ExperienceYears int       `json:"experienceYears"`
	Bio             string    `gorm:"type:text" json:"bio,omitempty"`
	IsActive        bool      `gorm:"not null;index" json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Counter backs monotonically increasing sequences such as agent ids.
type Counter struct {
	Name string `gorm:"primaryKey;size:50"`
	Seq  int64  `gorm:"not null"`
}
