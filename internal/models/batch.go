package models

import "time"

type BatchStats struct {
	TotalProperties int     `json:"totalProperties"`
	MinPrice        float64 `json:"minPrice"`
	MaxPrice        float64 `json:"maxPrice"`
	AvgPrice        float64 `json:"avgPrice"`
}

// PropertyBatch groups property units under a named code. Stats always
// describe the current PropertyUnits set.
type PropertyBatch struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Code          string     `gorm:"uniqueIndex;size:20;not null" json:"code"`
	Name          string     `gorm:"size:150;not null" json:"name"`
	Description   string     `gorm:"type:text" json:"description"`
	PropertyUnits []string   `gorm:"type:text;serializer:json" json:"propertyUnits"`
	Stats         BatchStats `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	Version       int64      `gorm:"not null" json:"-"`
	CreatedBy     string     `gorm:"size:36" json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (PropertyBatch) TableName() string { return "property_batches" }
