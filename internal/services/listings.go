package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"
	"cleartitle/pkg/utils"

	"gorm.io/gorm"
)

var listingColumns = map[string]string{
	"title":           "title",
	"description":     "description",
	"category":        "category",
	"listingType":     "listing_type",
	"price":           "price",
	"areaSqFt":        "area_sq_ft",
	"bedrooms":        "bedrooms",
	"bathrooms":       "bathrooms",
	"address":         "address",
	"city":            "city",
	"state":           "state",
	"country":         "country",
	"amenities":       "amenities",
	"images":          "images",
	"approvalStatus":  "approval_status",
	"isFeatured":      "is_featured",
	"isVerified":      "is_verified",
	"rejectionReason": "rejection_reason",
}

var unitColumns = map[string]string{
	"propertyId":     "property_id",
	"projectName":    "project_name",
	"developer":      "developer",
	"unitNumber":     "unit_number",
	"floor":          "floor",
	"possessionDate": "possession_date",
}

// writableColumns maps the JSON fields a client may send for a kind onto
// store columns. Anything else in a payload is ignored.
func writableColumns(kind models.EntityType) map[string]string {
	out := make(map[string]string, len(listingColumns)+len(unitColumns))
	for k, v := range listingColumns {
		out[k] = v
	}
	if kind == models.EntityPropertyUnit {
		for k, v := range unitColumns {
			out[k] = v
		}
	}
	return out
}

var listingTypes = map[string]bool{"sale": true, "rent": true}

type ListingQuery struct {
	PageRequest
	Search         string   `form:"search"`
	Category       string   `form:"category"`
	ListingType    string   `form:"listingType"`
	City           string   `form:"city"`
	State          string   `form:"state"`
	MinPrice       *float64 `form:"minPrice"`
	MaxPrice       *float64 `form:"maxPrice"`
	Bedrooms       *int     `form:"bedrooms"`
	ApprovalStatus string   `form:"approvalStatus"`
	IsFeatured     *bool    `form:"isFeatured"`
	IsVerified     *bool    `form:"isVerified"`
	OwnerID        string   `form:"ownerId"`
	Sort           string   `form:"sort"`
}

func (q ListingQuery) cacheParams() map[string]string {
	p := map[string]string{
		"page": strconv.Itoa(q.Page), "limit": strconv.Itoa(q.Limit),
		"search": q.Search, "category": q.Category, "listingType": q.ListingType,
		"city": q.City, "state": q.State, "status": q.ApprovalStatus,
		"owner": q.OwnerID, "sort": q.Sort,
	}
	if q.MinPrice != nil {
		p["minPrice"] = strconv.FormatFloat(*q.MinPrice, 'f', -1, 64)
	}
	if q.MaxPrice != nil {
		p["maxPrice"] = strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64)
	}
	if q.Bedrooms != nil {
		p["bedrooms"] = strconv.Itoa(*q.Bedrooms)
	}
	if q.IsFeatured != nil {
		p["featured"] = strconv.FormatBool(*q.IsFeatured)
	}
	if q.IsVerified != nil {
		p["verified"] = strconv.FormatBool(*q.IsVerified)
	}
	return p
}

var listingSorts = map[string]string{
	"":           "created_at DESC",
	"newest":     "created_at DESC",
	"oldest":     "created_at ASC",
	"price_asc":  "price ASC",
	"price_desc": "price DESC",
	"featured":   "is_featured DESC, created_at DESC",
}

type cachedPage struct {
	Items      json.RawMessage `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

type MyListings struct {
	Properties    []models.Property     `json:"properties"`
	PropertyUnits []models.PropertyUnit `json:"propertyUnits"`
}

// ListingService is the CRUD surface over properties and property units.
// All writes pass through the mutation guard.
type ListingService struct {
	db            *gorm.DB
	logger        *slog.Logger
	guard         *policy.Guard
	storage       ObjectStorage
	cache         *repository.ListingCache
	audit         policy.Auditor
	qr            *QRService
	publicBaseURL string
	onDelete      func(ctx context.Context, kind models.EntityType, id string)
	now           func() time.Time
}

func NewListingService(db *gorm.DB, logger *slog.Logger, guard *policy.Guard, storage ObjectStorage, cache *repository.ListingCache, audit policy.Auditor, qr *QRService, publicBaseURL string) *ListingService {
	if storage == nil {
		storage = DisabledStorage{}
	}
	return &ListingService{
		db:            db,
		logger:        logger,
		guard:         guard,
		storage:       storage,
		cache:         cache,
		audit:         audit,
		qr:            qr,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		now:           time.Now,
	}
}

// OnDelete registers a hook run after a listing is deleted.
func (s *ListingService) OnDelete(fn func(ctx context.Context, kind models.EntityType, id string)) {
	s.onDelete = fn
}

// decodeFields keeps the writable fields and decodes them into a fresh
// record of the given kind. It returns the record and the touched columns.
func decodeFields(kind models.EntityType, fields map[string]any) (models.Listing, []string, error) {
	columns := writableColumns(kind)
	kept := make(map[string]any, len(fields))
	touched := make([]string, 0, len(fields))
	for k, v := range fields {
		col, ok := columns[k]
		if !ok {
			continue
		}
		kept[k] = v
		touched = append(touched, col)
	}

	listing, err := models.NewListing(kind)
	if err != nil {
		return nil, nil, apperr.Validation("%s", err.Error())
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return nil, nil, apperr.Validation("invalid payload")
	}
	if err := json.Unmarshal(raw, listing); err != nil {
		return nil, nil, apperr.Validation("invalid field value: %v", err)
	}
	return listing, touched, nil
}

func validateDetails(d *models.ListingDetails, touched map[string]bool, creating bool) error {
	d.Title = strings.TrimSpace(d.Title)
	if (creating || touched["title"]) && d.Title == "" {
		return apperr.Validation("title is required")
	}
	if d.Price < 0 {
		return apperr.Validation("price cannot be negative")
	}
	if d.AreaSqFt < 0 || d.Bedrooms < 0 || d.Bathrooms < 0 {
		return apperr.Validation("area, bedrooms and bathrooms cannot be negative")
	}
	if d.ListingType != "" && !listingTypes[d.ListingType] {
		return apperr.Validation("listingType must be sale or rent")
	}
	return nil
}

func columnSet(cols []string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// Create stores a new listing owned by the actor. Uploaded files are pushed
// to object storage first; if any upload or the insert fails the files that
// made it are removed again.
func (s *ListingService) Create(ctx context.Context, actor policy.Actor, kind models.EntityType, fields map[string]any, files []UploadFile) (models.Listing, error) {
	if !actor.IsAuthenticated() {
		return nil, apperr.Unauthorized("login required")
	}
	sanitized, err := s.guard.Sanitize(actor.For(actor.ID), fields, kind, "")
	if err != nil {
		return nil, err
	}
	listing, touched, err := decodeFields(kind, sanitized)
	if err != nil {
		return nil, err
	}
	if err := validateDetails(listing.DetailsRef(), columnSet(touched), true); err != nil {
		return nil, err
	}

	review := listing.ReviewRef()
	if review.ApprovalStatus == models.StatusNone {
		review.ApprovalStatus = models.StatusPending
	}
	if review.IsFeatured && review.ApprovalStatus != models.StatusApproved {
		return nil, apperr.PreconditionFailed("only approved listings can be featured")
	}

	now := s.now().UTC()
	if actor.IsAdmin() && review.ApprovalStatus != models.StatusPending {
		review.ReviewedBy = actor.IDPtr()
		review.ReviewedAt = &now
	}
	listing.Init(utils.NewID(), actor.ID, now)

	uploaded, err := s.uploadAll(ctx, files)
	if err != nil {
		return nil, err
	}
	details := listing.DetailsRef()
	details.Images = append(details.Images, uploaded...)
	if details.Images == nil {
		details.Images = []models.MediaRef{}
	}
	if details.Amenities == nil {
		details.Amenities = []string{}
	}

	if err := s.db.WithContext(ctx).Create(listing).Error; err != nil {
		s.deleteMedia(ctx, uploaded)
		return nil, repository.Classify(err, "failed to create "+strings.ToLower(kindName(kind)))
	}

	s.cache.Invalidate(ctx, kind)
	s.logger.Info("Listing created", "kind", kind, "id", listing.GetID(), "owner_id", actor.ID)
	return listing, nil
}

func (s *ListingService) uploadAll(ctx context.Context, files []UploadFile) ([]models.MediaRef, error) {
	refs := make([]models.MediaRef, 0, len(files))
	for _, f := range files {
		ref, err := s.storage.Upload(ctx, f)
		if err != nil {
			s.logger.Error("Media upload failed", "file", f.Name, "error", err)
			s.deleteMedia(ctx, refs)
			return nil, apperr.Upload(err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// deleteMedia removes stored objects best effort.
func (s *ListingService) deleteMedia(ctx context.Context, refs []models.MediaRef) {
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		if err := s.storage.Delete(ctx, ref.ID); err != nil {
			s.logger.Warn("Media delete failed", "id", ref.ID, "error", err)
		}
	}
}

// visible reports whether the actor may see a listing: approved listings are
// public, everything else only to its owner and admins.
func visible(actor policy.Actor, l models.Listing) bool {
	if l.Review().ApprovalStatus == models.StatusApproved {
		return true
	}
	return actor.For(l.GetOwnerID()).Role != policy.RoleAnonymous
}

func (s *ListingService) Get(ctx context.Context, actor policy.Actor, kind models.EntityType, id string) (models.Listing, error) {
	listing, err := loadListing(ctx, s.db, kind, id)
	if err != nil {
		return nil, err
	}
	if !visible(actor, listing) {
		return nil, apperr.NotFound(kindName(kind))
	}
	return listing, nil
}

// List returns one page of listings. Non-admins only ever see approved
// listings; their queries are served from the cache when possible.
func (s *ListingService) List(ctx context.Context, actor policy.Actor, kind models.EntityType, q ListingQuery) (any, Pagination, error) {
	q.PageRequest = q.PageRequest.Normalize()
	order, ok := listingSorts[q.Sort]
	if !ok {
		return nil, Pagination{}, apperr.Validation("sort must be one of newest, oldest, price_asc, price_desc, featured")
	}
	if q.ApprovalStatus != "" && !actor.IsAdmin() {
		q.ApprovalStatus = ""
	}
	if q.ApprovalStatus != "" {
		st := models.ApprovalStatus(q.ApprovalStatus)
		if st != models.StatusPending && st != models.StatusApproved && st != models.StatusRejected {
			return nil, Pagination{}, apperr.Validation("approvalStatus must be one of pending, approved, rejected")
		}
	}

	items, err := models.NewListingSlice(kind)
	if err != nil {
		return nil, Pagination{}, apperr.Validation("%s", err.Error())
	}

	cacheable := !actor.IsAdmin()
	var cacheKey string
	if cacheable {
		var cached cachedPage
		var hit bool
		cacheKey, hit = s.cache.Get(ctx, kind, q.cacheParams(), &cached)
		if hit && json.Unmarshal(cached.Items, items) == nil {
			return items, cached.Pagination, nil
		}
	}

	db := s.db.WithContext(ctx).Table(kind.Table())
	if !actor.IsAdmin() {
		db = db.Where("approval_status = ?", models.StatusApproved)
	} else if q.ApprovalStatus != "" {
		db = db.Where("approval_status = ?", q.ApprovalStatus)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		db = db.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(city) LIKE ?)", like, like, like)
	}
	for col, v := range map[string]string{"category": q.Category, "listing_type": q.ListingType, "owner_id": q.OwnerID} {
		if v != "" {
			db = db.Where(col+" = ?", v)
		}
	}
	if q.City != "" {
		db = db.Where("LOWER(city) = ?", strings.ToLower(q.City))
	}
	if q.State != "" {
		db = db.Where("LOWER(state) = ?", strings.ToLower(q.State))
	}
	if q.MinPrice != nil {
		db = db.Where("price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		db = db.Where("price <= ?", *q.MaxPrice)
	}
	if q.Bedrooms != nil {
		db = db.Where("bedrooms >= ?", *q.Bedrooms)
	}
	if q.IsFeatured != nil {
		db = db.Where("is_featured = ?", *q.IsFeatured)
	}
	if q.IsVerified != nil {
		db = db.Where("is_verified = ?", *q.IsVerified)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to count listings")
	}
	if err := db.Order(order).Order("id").Offset(q.Offset()).Limit(q.Limit).Find(items).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to list listings")
	}
	pagination := NewPagination(q.PageRequest, total)

	if cacheKey != "" {
		if raw, err := json.Marshal(items); err == nil {
			s.cache.Set(ctx, cacheKey, cachedPage{Items: raw, Pagination: pagination})
		}
	}
	return items, pagination, nil
}

// Update applies a partial update. Owners can edit their own listing, which
// sends it back to review; admins can also set the review fields.
func (s *ListingService) Update(ctx context.Context, actor policy.Actor, kind models.EntityType, id string, fields map[string]any) (models.Listing, error) {
	current, err := loadListing(ctx, s.db, kind, id)
	if err != nil {
		return nil, err
	}
	sanitized, err := s.guard.Sanitize(actor.For(current.GetOwnerID()), fields, kind, id)
	if err != nil {
		return nil, err
	}
	patch, touched, err := decodeFields(kind, sanitized)
	if err != nil {
		return nil, err
	}
	if len(touched) == 0 {
		return current, nil
	}
	if err := validateDetails(patch.DetailsRef(), columnSet(touched), false); err != nil {
		return nil, err
	}

	_, statusSet := sanitized[policy.FieldApprovalStatus]
	featured, _ := sanitized[policy.FieldIsFeatured].(bool)

	q := s.db.WithContext(ctx).Model(patch).Where("id = ?", id)
	if featured && !statusSet {
		// The flag can only stick if the row is approved when it is written.
		q = q.Where("approval_status = ?", models.StatusApproved)
	}
	if statusSet && actor.IsAdmin() {
		now := s.now().UTC()
		review := patch.ReviewRef()
		review.ReviewedBy = actor.IDPtr()
		review.ReviewedAt = &now
		touched = append(touched, "reviewed_by", "reviewed_at")
	}
	if cols := columnSet(touched); cols["images"] && patch.DetailsRef().Images == nil {
		patch.DetailsRef().Images = []models.MediaRef{}
	}

	res := q.Select(touched).Updates(patch)
	if res.Error != nil {
		return nil, repository.Classify(res.Error, "failed to update "+strings.ToLower(kindName(kind)))
	}
	if res.RowsAffected == 0 {
		if _, err := loadListing(ctx, s.db, kind, id); err != nil {
			return nil, err
		}
		return nil, apperr.PreconditionFailed("only approved listings can be featured")
	}

	if columnSet(touched)["images"] {
		s.deleteMedia(ctx, removedMedia(current.GetImages(), patch.GetImages()))
	}
	s.cache.Invalidate(ctx, kind)
	return loadListing(ctx, s.db, kind, id)
}

func removedMedia(before, after []models.MediaRef) []models.MediaRef {
	kept := make(map[string]bool, len(after))
	for _, m := range after {
		kept[m.ID] = true
	}
	var gone []models.MediaRef
	for _, m := range before {
		if m.ID != "" && !kept[m.ID] {
			gone = append(gone, m)
		}
	}
	return gone
}

func (s *ListingService) Delete(ctx context.Context, actor policy.Actor, kind models.EntityType, id string) error {
	current, err := loadListing(ctx, s.db, kind, id)
	if err != nil {
		return err
	}
	if actor.For(current.GetOwnerID()).Role == policy.RoleAnonymous {
		return apperr.Forbidden("you are not allowed to delete this " + strings.ToLower(kindName(kind)))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(current).Error; err != nil {
			return err
		}
		if kind == models.EntityProperty {
			return tx.Where("property_id = ?", id).Delete(&models.Like{}).Error
		}
		return nil
	})
	if err != nil {
		return repository.Classify(err, "failed to delete "+strings.ToLower(kindName(kind)))
	}

	s.deleteMedia(ctx, current.GetImages())
	if s.onDelete != nil {
		s.onDelete(ctx, kind, id)
	}
	s.cache.Invalidate(ctx, kind)
	s.audit.LogAction(actor.IDPtr(), ActionListingDeleted, string(kind), id, nil, actor.IP)
	return nil
}

// Mine lists everything the actor owns, whatever its review state.
func (s *ListingService) Mine(ctx context.Context, actor policy.Actor) (*MyListings, error) {
	if !actor.IsAuthenticated() {
		return nil, apperr.Unauthorized("login required")
	}
	out := &MyListings{Properties: []models.Property{}, PropertyUnits: []models.PropertyUnit{}}
	db := s.db.WithContext(ctx)
	if err := db.Where("owner_id = ?", actor.ID).Order("created_at DESC").Find(&out.Properties).Error; err != nil {
		return nil, repository.Classify(err, "failed to list properties")
	}
	if err := db.Where("owner_id = ?", actor.ID).Order("created_at DESC").Find(&out.PropertyUnits).Error; err != nil {
		return nil, repository.Classify(err, "failed to list property units")
	}
	return out, nil
}

// ShareCode renders a QR code pointing at the public page of a listing.
func (s *ListingService) ShareCode(ctx context.Context, actor policy.Actor, kind models.EntityType, id string, opts QROptions) (QRCode, error) {
	if _, err := s.Get(ctx, actor, kind, id); err != nil {
		return QRCode{}, err
	}
	opts.Content = s.publicBaseURL + "/" + kind.Segment() + "/" + id
	return s.qr.Generate(opts)
}

// ToggleLike likes or unlikes a property for the actor and reports the new
// state and like count.
func (s *ListingService) ToggleLike(ctx context.Context, actor policy.Actor, propertyID string) (bool, int64, error) {
	if !actor.IsAuthenticated() {
		return false, 0, apperr.Unauthorized("login required")
	}
	if _, err := s.Get(ctx, actor, models.EntityProperty, propertyID); err != nil {
		return false, 0, err
	}

	db := s.db.WithContext(ctx)
	liked := false
	res := db.Where("user_id = ? AND property_id = ?", actor.ID, propertyID).Delete(&models.Like{})
	if res.Error != nil {
		return false, 0, repository.Classify(res.Error, "failed to update like")
	}
	if res.RowsAffected == 0 {
		like := models.Like{ID: utils.NewID(), UserID: actor.ID, PropertyID: propertyID, CreatedAt: s.now().UTC()}
		if err := db.Create(&like).Error; err != nil && !repository.IsDuplicate(err) {
			return false, 0, repository.Classify(err, "failed to update like")
		}
		liked = true
	}

	var count int64
	if err := db.Model(&models.Like{}).Where("property_id = ?", propertyID).Count(&count).Error; err != nil {
		return liked, 0, repository.Classify(err, "failed to count likes")
	}
	return liked, count, nil
}

func (s *ListingService) LikedProperties(ctx context.Context, actor policy.Actor) ([]models.Property, error) {
	if !actor.IsAuthenticated() {
		return nil, apperr.Unauthorized("login required")
	}
	properties := []models.Property{}
	err := s.db.WithContext(ctx).
		Joins("JOIN likes ON likes.property_id = properties.id").
		Where("likes.user_id = ?", actor.ID).
		Order("likes.created_at DESC").
		Find(&properties).Error
	if err != nil {
		return nil, repository.Classify(err, "failed to list liked properties")
	}
	return properties, nil
}
