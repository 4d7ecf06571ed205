package models

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// AgentApproval tracks a user's application to become an agent. Status is
// empty until the user applies.
type AgentApproval struct {
	Status           ApprovalStatus `gorm:"size:20;index" json:"status"`
	LicenseNumber    string         `gorm:"size:100" json:"licenseNumber,omitempty"`
	AgencyName       string         `gorm:"size:200" json:"agencyName,omitempty"`
	ExperienceYears  int            `json:"experienceYears,omitempty"`
	Bio              string         `gorm:"type:text" json:"bio,omitempty"`
	AppliedAt        *time.Time     `json:"appliedAt,omitempty"`
	ReviewedBy       *string        `gorm:"size:36" json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time     `json:"reviewedAt,omitempty"`
	RejectionReason  string         `gorm:"type:text" json:"rejectionReason,omitempty"`
	SuspensionReason string         `gorm:"type:text" json:"suspensionReason,omitempty"`
}

type User struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	Name          string        `gorm:"size:120;not null" json:"name"`
	Email         string        `gorm:"uniqueIndex;size:120;not null" json:"email"`
	Phone         string        `gorm:"size:30" json:"phone,omitempty"`
	PasswordHash  string        `gorm:"size:255;not null" json:"-"`
	Role          string        `gorm:"size:20;not null" json:"role"`
	IsActive      bool          `gorm:"not null" json:"isActive"`
	AgentApproval AgentApproval `gorm:"embedded;embeddedPrefix:agent_approval_" json:"agentApproval"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Like records a user favouriting a property.
type Like struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	UserID     string    `gorm:"size:36;not null;uniqueIndex:idx_likes_user_property" json:"userId"`
	PropertyID string    `gorm:"size:36;not null;uniqueIndex:idx_likes_user_property;index" json:"propertyId"`
	CreatedAt  time.Time `json:"createdAt"`
}
