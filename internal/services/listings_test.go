package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/policy"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeStorage keeps uploads in memory and fails the upload named failOn.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]bool
	deleted []string
	failOn  string
	seq     int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string]bool{}}
}

func (f *fakeStorage) Upload(_ context.Context, file UploadFile) (models.MediaRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file.Name == f.failOn {
		return models.MediaRef{}, errors.New("bucket unavailable")
	}
	f.seq++
	id := fmt.Sprintf("listings/%d-%s", f.seq, file.Name)
	f.objects[id] = true
	return models.MediaRef{ID: id, URL: "https://cdn.test/" + id}, nil
}

func (f *fakeStorage) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStorage) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type listingFixture struct {
	db      *gorm.DB
	service *ListingService
	storage *fakeStorage
	audit   *memoryAuditor
	redis   *miniredis.Miniredis
}

func newListingFixture(t *testing.T) listingFixture {
	db := setupTestDB(t)
	cache, mr := testCache(t)
	audit := &memoryAuditor{}
	storage := newFakeStorage()
	guard := policy.NewGuard(testLogger(), audit)
	service := NewListingService(db, testLogger(), guard, storage, cache, audit, NewQRService(), "https://cleartitle.test/")
	return listingFixture{db: db, service: service, storage: storage, audit: audit, redis: mr}
}

func listingPayload() map[string]any {
	return map[string]any{
		"title":       "2BHK near the river",
		"price":       4500000,
		"city":        "Pune",
		"category":    "apartment",
		"listingType": "sale",
		"bedrooms":    2,
		"amenities":   []string{"lift", "parking"},
		"unknownKey":  "ignored",
	}
}

func TestListingService_CreateStripsPrivilegedFields(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	for _, kind := range models.ListingKinds {
		t.Run(string(kind), func(t *testing.T) {
			payload := listingPayload()
			payload["approvalStatus"] = "approved"
			payload["isFeatured"] = true
			payload["isVerified"] = true

			listing, err := f.service.Create(ctx, ownerA, kind, payload, nil)
			require.NoError(t, err)

			stored := reload(t, f.db, kind, listing.GetID()).Review()
			assert.Equal(t, models.StatusPending, stored.ApprovalStatus)
			assert.False(t, stored.IsFeatured)
			assert.False(t, stored.IsVerified)
			assert.Equal(t, ownerA.ID, listing.GetOwnerID())
			assert.Equal(t, []string{"lift", "parking"}, listing.DetailsRef().Amenities)
		})
	}
	assert.Equal(t, []string{policy.ActionPrivilegedFieldsStripped, policy.ActionPrivilegedFieldsStripped}, f.audit.actions())
}

func TestListingService_CreateValidation(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, policy.Anonymous("1.1.1.1"), models.EntityProperty, listingPayload(), nil)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	payload := listingPayload()
	payload["title"] = "  "
	_, err = f.service.Create(ctx, ownerA, models.EntityProperty, payload, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	payload = listingPayload()
	payload["price"] = -1
	_, err = f.service.Create(ctx, ownerA, models.EntityProperty, payload, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	payload = listingPayload()
	payload["price"] = "cheap"
	_, err = f.service.Create(ctx, ownerA, models.EntityProperty, payload, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	payload = listingPayload()
	payload["listingType"] = "lease"
	_, err = f.service.Create(ctx, ownerA, models.EntityProperty, payload, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.service.Create(ctx, ownerA, models.EntityAgent, listingPayload(), nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListingService_CreateByAdmin(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	payload := listingPayload()
	payload["approvalStatus"] = "approved"
	payload["isFeatured"] = true
	listing, err := f.service.Create(ctx, adminActor, models.EntityProperty, payload, nil)
	require.NoError(t, err)
	review := reload(t, f.db, models.EntityProperty, listing.GetID()).Review()
	assert.Equal(t, models.StatusApproved, review.ApprovalStatus)
	assert.True(t, review.IsFeatured)
	require.NotNil(t, review.ReviewedBy)
	assert.Equal(t, adminActor.ID, *review.ReviewedBy)

	payload = listingPayload()
	payload["isFeatured"] = true
	_, err = f.service.Create(ctx, adminActor, models.EntityProperty, payload, nil)
	assert.True(t, apperr.Is(err, apperr.KindPreconditionFailed), "a new listing defaults to pending and cannot be featured")
}

func TestListingService_CreateUploads(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	files := []UploadFile{
		{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("a")},
		{Name: "back.jpg", ContentType: "image/jpeg", Data: []byte("b")},
	}
	listing, err := f.service.Create(ctx, ownerA, models.EntityProperty, listingPayload(), files)
	require.NoError(t, err)
	require.Len(t, listing.GetImages(), 2)
	assert.Equal(t, 2, f.storage.stored())

	f.storage.failOn = "broken.jpg"
	files = append(files, UploadFile{Name: "broken.jpg", Data: []byte("c")})
	_, err = f.service.Create(ctx, ownerA, models.EntityProperty, listingPayload(), files)
	assert.True(t, apperr.Is(err, apperr.KindUpload))
	assert.Equal(t, 2, f.storage.stored(), "uploads from the failed create are removed")

	var count int64
	require.NoError(t, f.db.Model(&models.Property{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListingService_UpdateAndReviewScenario(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()
	approval := NewApprovalService(f.db, testLogger(), f.audit, nil)

	listing, err := f.service.Create(ctx, ownerA, models.EntityProperty, listingPayload(), nil)
	require.NoError(t, err)
	id := listing.GetID()

	_, err = f.service.Update(ctx, ownerB, models.EntityProperty, id, map[string]any{
		"approvalStatus": "rejected", "rejectionReason": "spam",
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	rejected, err := f.service.Update(ctx, adminActor, models.EntityProperty, id, map[string]any{
		"approvalStatus": "rejected", "rejectionReason": "incomplete docs",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Review().ApprovalStatus)
	assert.Equal(t, "incomplete docs", rejected.Review().RejectionReason)

	approved, err := approval.Approve(ctx, models.EntityProperty, id, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Review().ApprovalStatus)
	assert.Equal(t, "", approved.Review().RejectionReason)

	featured, err := f.service.Update(ctx, adminActor, models.EntityProperty, id, map[string]any{"isFeatured": true})
	require.NoError(t, err)
	assert.True(t, featured.Review().IsFeatured)

	edited, err := f.service.Update(ctx, ownerA, models.EntityProperty, id, map[string]any{
		"title": "Renovated 2BHK", "isFeatured": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renovated 2BHK", edited.DetailsRef().Title)
	assert.Equal(t, models.StatusPending, edited.Review().ApprovalStatus, "owner edits go back to review")
	assert.False(t, edited.Review().IsFeatured)
	assert.Equal(t, 4500000.0, edited.GetPrice(), "untouched columns keep their value")

	_, err = f.service.Update(ctx, adminActor, models.EntityProperty, id, map[string]any{"isFeatured": true})
	assert.True(t, apperr.Is(err, apperr.KindPreconditionFailed))
	assert.False(t, reload(t, f.db, models.EntityProperty, id).Review().IsFeatured)

	_, err = f.service.Update(ctx, adminActor, models.EntityProperty, "missing", map[string]any{"title": "x"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListingService_UpdateRemovesDroppedMedia(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	files := []UploadFile{{Name: "a.jpg", Data: []byte("a")}, {Name: "b.jpg", Data: []byte("b")}}
	listing, err := f.service.Create(ctx, ownerA, models.EntityPropertyUnit, listingPayload(), files)
	require.NoError(t, err)
	keep := listing.GetImages()[0]
	drop := listing.GetImages()[1]

	updated, err := f.service.Update(ctx, ownerA, models.EntityPropertyUnit, listing.GetID(), map[string]any{
		"images": []map[string]string{{"id": keep.ID, "url": keep.URL}},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.MediaRef{keep}, updated.GetImages())
	assert.Equal(t, []string{drop.ID}, f.storage.deleted)
}

func TestListingService_GetAndList(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	approved := seedListing(t, f.db, models.EntityProperty, ownerA.ID, models.StatusApproved, 300)
	cheap := seedListing(t, f.db, models.EntityProperty, ownerA.ID, models.StatusApproved, 100)
	pending := seedListing(t, f.db, models.EntityProperty, ownerA.ID, models.StatusPending, 200)

	_, err := f.service.Get(ctx, ownerB, models.EntityProperty, pending.GetID())
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "unapproved listings are hidden from strangers")
	_, err = f.service.Get(ctx, ownerA, models.EntityProperty, pending.GetID())
	assert.NoError(t, err)
	_, err = f.service.Get(ctx, policy.Anonymous(""), models.EntityProperty, approved.GetID())
	assert.NoError(t, err)

	items, pagination, err := f.service.List(ctx, policy.Anonymous(""), models.EntityProperty, ListingQuery{Sort: "price_asc"})
	require.NoError(t, err)
	props := *items.(*[]models.Property)
	require.Len(t, props, 2)
	assert.Equal(t, cheap.GetID(), props[0].ID)
	assert.Equal(t, int64(2), pagination.Total)

	// Served from the cache until a write bumps the version.
	require.NoError(t, f.db.Model(&models.Property{}).Where("id = ?", pending.GetID()).Update("approval_status", models.StatusApproved).Error)
	items, _, err = f.service.List(ctx, policy.Anonymous(""), models.EntityProperty, ListingQuery{Sort: "price_asc"})
	require.NoError(t, err)
	assert.Len(t, *items.(*[]models.Property), 2)

	_, err = f.service.Create(ctx, ownerA, models.EntityProperty, listingPayload(), nil)
	require.NoError(t, err)
	items, _, err = f.service.List(ctx, policy.Anonymous(""), models.EntityProperty, ListingQuery{Sort: "price_asc"})
	require.NoError(t, err)
	assert.Len(t, *items.(*[]models.Property), 3)

	adminItems, _, err := f.service.List(ctx, adminActor, models.EntityProperty, ListingQuery{ApprovalStatus: "pending"})
	require.NoError(t, err)
	assert.Len(t, *adminItems.(*[]models.Property), 1)

	minPrice := 150.0
	filtered, _, err := f.service.List(ctx, policy.Anonymous(""), models.EntityProperty, ListingQuery{MinPrice: &minPrice, City: "pune"})
	require.NoError(t, err)
	assert.Len(t, *filtered.(*[]models.Property), 2)

	_, _, err = f.service.List(ctx, adminActor, models.EntityProperty, ListingQuery{Sort: "random"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, _, err = f.service.List(ctx, adminActor, models.EntityProperty, ListingQuery{ApprovalStatus: "suspended"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListingService_Delete(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	var hooked []string
	f.service.OnDelete(func(_ context.Context, kind models.EntityType, id string) {
		hooked = append(hooked, string(kind)+":"+id)
	})

	files := []UploadFile{{Name: "a.jpg", Data: []byte("a")}}
	listing, err := f.service.Create(ctx, ownerA, models.EntityProperty, listingPayload(), files)
	require.NoError(t, err)
	id := listing.GetID()
	require.NoError(t, f.db.Model(&models.Property{}).Where("id = ?", id).Update("approval_status", models.StatusApproved).Error)

	createUser(t, f.db, "fan")
	liked, count, err := f.service.ToggleLike(ctx, policy.Actor{ID: "fan", AccountRole: models.RoleUser}, id)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), count)

	assert.True(t, apperr.Is(f.service.Delete(ctx, ownerB, models.EntityProperty, id), apperr.KindForbidden))

	require.NoError(t, f.service.Delete(ctx, ownerA, models.EntityProperty, id))
	_, err = loadListing(ctx, f.db, models.EntityProperty, id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	var likes int64
	require.NoError(t, f.db.Model(&models.Like{}).Count(&likes).Error)
	assert.Equal(t, int64(0), likes)
	assert.Equal(t, 0, f.storage.stored())
	assert.Equal(t, []string{"property:" + id}, hooked)
	assert.Contains(t, f.audit.actions(), ActionListingDeleted)

	assert.True(t, apperr.Is(f.service.Delete(ctx, ownerA, models.EntityProperty, id), apperr.KindNotFound))
}

func TestListingService_Likes(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()
	fan := policy.Actor{ID: "fan", AccountRole: models.RoleUser}
	createUser(t, f.db, "fan")

	approved := seedListing(t, f.db, models.EntityProperty, ownerA.ID, models.StatusApproved, 100)
	pending := seedListing(t, f.db, models.EntityProperty, ownerA.ID, models.StatusPending, 100)

	_, _, err := f.service.ToggleLike(ctx, policy.Anonymous(""), approved.GetID())
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, _, err = f.service.ToggleLike(ctx, fan, pending.GetID())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	liked, count, err := f.service.ToggleLike(ctx, fan, approved.GetID())
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), count)

	props, err := f.service.LikedProperties(ctx, fan)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, approved.GetID(), props[0].ID)

	liked, count, err = f.service.ToggleLike(ctx, fan, approved.GetID())
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), count)
}

func TestListingService_MineAndShareCode(t *testing.T) {
	f := newListingFixture(t)
	ctx := context.Background()

	seedListing(t, f.db, models.EntityProperty, ownerA.ID, models.StatusPending, 100)
	unit := seedListing(t, f.db, models.EntityPropertyUnit, ownerA.ID, models.StatusRejected, 100)
	seedListing(t, f.db, models.EntityProperty, ownerB.ID, models.StatusApproved, 100)

	mine, err := f.service.Mine(ctx, ownerA)
	require.NoError(t, err)
	assert.Len(t, mine.Properties, 1)
	assert.Len(t, mine.PropertyUnits, 1)

	_, err = f.service.Mine(ctx, policy.Anonymous(""))
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	code, err := f.service.ShareCode(ctx, ownerA, models.EntityPropertyUnit, unit.GetID(), QROptions{Format: QRFormatSVG})
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", code.ContentType)

	_, err = f.service.ShareCode(ctx, ownerB, models.EntityPropertyUnit, unit.GetID(), QROptions{})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
