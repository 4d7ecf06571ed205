package models

import (
	"fmt"
	"time"
)

type EntityType string

const (
	EntityProperty     EntityType = "property"
	EntityPropertyUnit EntityType = "property_unit"
	EntityAgent        EntityType = "agent"
	EntityUser         EntityType = "user"
	EntityBatch        EntityType = "batch"
)

// ListingKinds are the entity types that expose the listing review fields.
var ListingKinds = []EntityType{EntityProperty, EntityPropertyUnit}

// ParseListingKind accepts both the entity name and its URL segment
// ("properties", "property-units").
func ParseListingKind(s string) (EntityType, error) {
	switch s {
	case "property", "properties":
		return EntityProperty, nil
	case "property_unit", "property-unit", "property-units", "propertyUnits":
		return EntityPropertyUnit, nil
	}
	return "", fmt.Errorf("unknown listing kind %q", s)
}

func (k EntityType) Table() string {
	switch k {
	case EntityProperty:
		return "properties"
	case EntityPropertyUnit:
		return "property_units"
	case EntityAgent:
		return "agents"
	case EntityUser:
		return "users"
	case EntityBatch:
		return "property_batches"
	}
	return ""
}

func (k EntityType) Segment() string {
	switch k {
	case EntityProperty:
		return "properties"
	case EntityPropertyUnit:
		return "property-units"
	}
	return string(k)
}

type ApprovalStatus string

const (
	StatusNone      ApprovalStatus = ""
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusRejected  ApprovalStatus = "rejected"
	StatusSuspended ApprovalStatus = "suspended"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusSuspended:
		return true
	}
	return false
}

// MediaRef points at an object held by the object storage collaborator.
type MediaRef struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// ListingReview carries the privileged moderation fields shared by every
// listing kind. IsFeatured is only ever true while ApprovalStatus is
// approved, and RejectionReason is only non-empty while it is rejected.
type ListingReview struct {
	ApprovalStatus  ApprovalStatus `gorm:"size:20;not null;index" json:"approvalStatus"`
	IsFeatured      bool           `gorm:"not null;index" json:"isFeatured"`
	IsVerified      bool           `gorm:"not null" json:"isVerified"`
	RejectionReason string         `gorm:"type:text;not null" json:"rejectionReason"`
	ReviewedBy      *string        `gorm:"size:36" json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewedAt,omitempty"`
}

type ListingDetails struct {
	Title       string     `gorm:"size:200;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Category    string     `gorm:"size:50;index" json:"category"`
	ListingType string     `gorm:"size:20;index" json:"listingType"`
	Price       float64    `gorm:"not null;index" json:"price"`
	AreaSqFt    float64    `json:"areaSqFt"`
	Bedrooms    int        `json:"bedrooms"`
	Bathrooms   int        `json:"bathrooms"`
	Address     string     `gorm:"size:255" json:"address"`
	City        string     `gorm:"size:100;index" json:"city"`
	State       string     `gorm:"size:100" json:"state"`
	Country     string     `gorm:"size:100" json:"country"`
	Amenities   []string   `gorm:"type:text;serializer:json" json:"amenities"`
	Images      []MediaRef `gorm:"type:text;serializer:json" json:"images"`
}

// Listing is implemented by every record that goes through listing review.
type Listing interface {
	Kind() EntityType
	GetID() string
	GetOwnerID() string
	GetPrice() float64
	GetImages() []MediaRef
	Review() ListingReview
	ReviewRef() *ListingReview
	DetailsRef() *ListingDetails
	// Init stamps a new record before insert.
	Init(id, ownerID string, now time.Time)
}

type Property struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`
	ListingDetails
	OwnerID string `gorm:"size:36;not null;index" json:"ownerId"`
	ListingReview
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Property) TableName() string { return "properties" }

func (p *Property) Kind() EntityType            { return EntityProperty }
func (p *Property) GetID() string               { return p.ID }
func (p *Property) GetOwnerID() string          { return p.OwnerID }
func (p *Property) GetPrice() float64           { return p.Price }
func (p *Property) GetImages() []MediaRef       { return p.Images }
func (p *Property) Review() ListingReview       { return p.ListingReview }
func (p *Property) ReviewRef() *ListingReview   { return &p.ListingReview }
func (p *Property) DetailsRef() *ListingDetails { return &p.ListingDetails }

func (p *Property) Init(id, ownerID string, now time.Time) {
	p.ID, p.OwnerID, p.CreatedAt, p.UpdatedAt = id, ownerID, now, now
}

// PropertyUnit is a sellable unit inside a project, optionally attached to a
// parent Property.
type PropertyUnit struct {
	ID         string  `gorm:"primaryKey;size:36" json:"id"`
	PropertyID *string `gorm:"size:36;index" json:"propertyId,omitempty"`
	ListingDetails
	ProjectName    string     `gorm:"size:200" json:"projectName"`
	Developer      string     `gorm:"size:200" json:"developer"`
	UnitNumber     string     `gorm:"size:50" json:"unitNumber"`
	Floor          int        `json:"floor"`
	PossessionDate *time.Time `json:"possessionDate,omitempty"`
	OwnerID        string     `gorm:"size:36;not null;index" json:"ownerId"`
	ListingReview
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (PropertyUnit) TableName() string { return "property_units" }

func (u *PropertyUnit) Kind() EntityType            { return EntityPropertyUnit }
func (u *PropertyUnit) GetID() string               { return u.ID }
func (u *PropertyUnit) GetOwnerID() string          { return u.OwnerID }
func (u *PropertyUnit) GetPrice() float64           { return u.Price }
func (u *PropertyUnit) GetImages() []MediaRef       { return u.Images }
func (u *PropertyUnit) Review() ListingReview       { return u.ListingReview }
func (u *PropertyUnit) ReviewRef() *ListingReview   { return &u.ListingReview }
func (u *PropertyUnit) DetailsRef() *ListingDetails { return &u.ListingDetails }

func (u *PropertyUnit) Init(id, ownerID string, now time.Time) {
	u.ID, u.OwnerID, u.CreatedAt, u.UpdatedAt = id, ownerID, now, now
}

// NewListing returns an empty record of the given kind, suitable as a gorm
// destination.
func NewListing(kind EntityType) (Listing, error) {
	switch kind {
	case EntityProperty:
		return &Property{}, nil
	case EntityPropertyUnit:
		return &PropertyUnit{}, nil
	}
	return nil, fmt.Errorf("%q is not a listing kind", kind)
}

// NewListingSlice returns a pointer to an empty slice of the given kind.
func NewListingSlice(kind EntityType) (any, error) {
	switch kind {
	case EntityProperty:
		return &[]Property{}, nil
	case EntityPropertyUnit:
		return &[]PropertyUnit{}, nil
	}
	return nil, fmt.Errorf("%q is not a listing kind", kind)
}
