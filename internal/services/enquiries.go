package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"
	"cleartitle/pkg/utils"

	"gorm.io/gorm"
)

type CreateEnquiryDTO struct {
	EntityType models.EntityType `json:"entityType" binding:"required"`
	ListingID  string            `json:"listingId" binding:"required"`
	Name       string            `json:"name" binding:"required"`
	Email      string            `json:"email" binding:"required,email"`
	Phone      string            `json:"phone"`
	Message    string            `json:"message"`
}

var enquiryStatuses = map[string]bool{
	models.EnquiryNew:       true,
	models.EnquiryContacted: true,
	models.EnquiryClosed:    true,
}

type EnquiryService struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewEnquiryService(db *gorm.DB, logger *slog.Logger) *EnquiryService {
	return &EnquiryService{db: db, logger: logger, now: time.Now}
}

// Create records an enquiry on an approved listing. Callers may be
// anonymous.
func (s *EnquiryService) Create(ctx context.Context, actor policy.Actor, dto CreateEnquiryDTO) (*models.Enquiry, error) {
	kind, err := models.ParseListingKind(string(dto.EntityType))
	if err != nil {
		return nil, apperr.Validation("entityType must be property or property_unit")
	}
	listing, err := loadListing(ctx, s.db, kind, dto.ListingID)
	if err != nil {
		return nil, err
	}
	if !visible(actor, listing) {
		return nil, apperr.NotFound(kindName(kind))
	}

	now := s.now().UTC()
	enquiry := &models.Enquiry{
		ID:         utils.NewID(),
		EntityType: kind,
		ListingID:  listing.GetID(),
		UserID:     actor.IDPtr(),
		Name:       strings.TrimSpace(dto.Name),
		Email:      normalizeEmail(dto.Email),
		Phone:      strings.TrimSpace(dto.Phone),
		Message:    strings.TrimSpace(dto.Message),
		Status:     models.EnquiryNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(enquiry).Error; err != nil {
		return nil, repository.Classify(err, "failed to create enquiry")
	}
	return enquiry, nil
}

// List returns every enquiry to admins and, to anyone else, the enquiries
// made on listings they own.
func (s *EnquiryService) List(ctx context.Context, actor policy.Actor, status string, page PageRequest) ([]models.Enquiry, Pagination, error) {
	if !actor.IsAuthenticated() {
		return nil, Pagination{}, apperr.Unauthorized("login required")
	}
	page = page.Normalize()
	db := s.db.WithContext(ctx)
	q := db.Model(&models.Enquiry{})
	if !actor.IsAdmin() {
		q = q.Where(
			"((entity_type = ? AND listing_id IN (?)) OR (entity_type = ? AND listing_id IN (?)))",
			models.EntityProperty, db.Model(&models.Property{}).Select("id").Where("owner_id = ?", actor.ID),
			models.EntityPropertyUnit, db.Model(&models.PropertyUnit{}).Select("id").Where("owner_id = ?", actor.ID),
		)
	}
	if status != "" {
		if !enquiryStatuses[status] {
			return nil, Pagination{}, apperr.Validation("status must be one of new, contacted, closed")
		}
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to count enquiries")
	}
	enquiries := []models.Enquiry{}
	if err := q.Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&enquiries).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to list enquiries")
	}
	return enquiries, NewPagination(page, total), nil
}

// UpdateStatus is open to admins and the owner of the enquired listing.
func (s *EnquiryService) UpdateStatus(ctx context.Context, actor policy.Actor, id, status string) (*models.Enquiry, error) {
	if !enquiryStatuses[status] {
		return nil, apperr.Validation("status must be one of new, contacted, closed")
	}
	db := s.db.WithContext(ctx)
	var enquiry models.Enquiry
	if err := db.Where("id = ?", id).First(&enquiry).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFound("Enquiry")
		}
		return nil, repository.Classify(err, "failed to load enquiry")
	}

	if !actor.IsAdmin() {
		listing, err := loadListing(ctx, s.db, enquiry.EntityType, enquiry.ListingID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		if listing == nil || actor.For(listing.GetOwnerID()).Role != policy.RoleOwner {
			return nil, apperr.Forbidden("you are not allowed to update this enquiry")
		}
	}

	now := s.now().UTC()
	if err := db.Model(&enquiry).Updates(map[string]any{"status": status, "updated_at": now}).Error; err != nil {
		return nil, repository.Classify(err, "failed to update enquiry")
	}
	enquiry.Status = status
	enquiry.UpdatedAt = now
	return &enquiry, nil
}
