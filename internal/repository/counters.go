package repository

import (
	"context"

	"cleartitle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Counters hands out strictly increasing sequence numbers. The increment
// happens in the store, so separate server instances never collide.
type Counters struct {
	db *gorm.DB
}

func NewCounters(db *gorm.DB) *Counters {
	return &Counters{db: db}
}

// Next increments the named counter and returns the new value.
func (c *Counters) Next(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Counter{Name: name}).Error; err != nil {
			return err
		}
		// The row lock taken by this update is held until commit, so the
		// read below sees our own increment and nobody else's.
		res := tx.Model(&models.Counter{}).Where("name = ?", name).UpdateColumn("seq", gorm.Expr("seq + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		return tx.Model(&models.Counter{}).Select("seq").Where("name = ?", name).Row().Scan(&seq)
	})
	if err != nil {
		return 0, Classify(err, "failed to allocate sequence "+name)
	}
	return seq, nil
}
