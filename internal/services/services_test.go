package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"cleartitle/internal/config"
	"cleartitle/internal/models"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"
	"cleartitle/pkg/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type auditEntry struct {
	actorID *string
	action  string
	entity  string
	id      string
	details interface{}
}

// memoryAuditor records audit calls synchronously.
type memoryAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (m *memoryAuditor) LogAction(actorID *string, action string, entityType string, entityID string, details interface{}, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, auditEntry{actorID, action, entityType, entityID, details})
}

func (m *memoryAuditor) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.action
	}
	return out
}

var (
	adminActor = policy.Actor{ID: "admin-1", AccountRole: models.RoleAdmin, IP: "127.0.0.1"}
	ownerA     = policy.Actor{ID: "owner-a", AccountRole: models.RoleUser, IP: "10.0.0.1"}
	ownerB     = policy.Actor{ID: "owner-b", AccountRole: models.RoleUser, IP: "10.0.0.2"}
)

func createUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	user := &models.User{
		ID:           id,
		Name:         "User " + id,
		Email:        id + "@example.com",
		PasswordHash: "x",
		Role:         models.RoleUser,
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedListing(t *testing.T, db *gorm.DB, kind models.EntityType, owner string, status models.ApprovalStatus, price float64) models.Listing {
	t.Helper()
	listing, err := models.NewListing(kind)
	require.NoError(t, err)
	listing.Init(utils.NewID(), owner, time.Now().UTC())
	d := listing.DetailsRef()
	d.Title = fmt.Sprintf("%s listing", owner)
	d.City = "Pune"
	d.Category = "apartment"
	d.ListingType = "sale"
	d.Price = price
	d.Images = []models.MediaRef{}
	d.Amenities = []string{}
	listing.ReviewRef().ApprovalStatus = status
	require.NoError(t, db.Create(listing).Error)
	return listing
}

func reload(t *testing.T, db *gorm.DB, kind models.EntityType, id string) models.Listing {
	t.Helper()
	l, err := loadListing(context.Background(), db, kind, id)
	require.NoError(t, err)
	return l
}
