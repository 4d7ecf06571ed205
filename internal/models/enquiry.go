package models

import "time"

const (
	EnquiryNew       = "new"
	EnquiryContacted = "contacted"
	EnquiryClosed    = "closed"
)

type Enquiry struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	EntityType EntityType `gorm:"size:20;not null;index:idx_enquiries_listing" json:"entityType"`
	ListingID  string     `gorm:"size:36;not null;index:idx_enquiries_listing" json:"listingId"`
	UserID     *string    `gorm:"size:36;index" json:"userId,omitempty"`
	Name       string     `gorm:"size:120;not null" json:"name"`
	Email      string     `gorm:"size:120;not null" json:"email"`
	Phone      string     `gorm:"size:30" json:"phone,omitempty"`
	Message    string     `gorm:"type:text" json:"message"`
	Status     string     `gorm:"size:20;not null;index" json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
