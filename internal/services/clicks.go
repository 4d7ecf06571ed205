package services

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"cleartitle/internal/apperr"
	"cleartitle/internal/metrics"
	"cleartitle/internal/models"
	"cleartitle/pkg/utils"

	"gorm.io/gorm"
)

const clickQueueSize = 1000

// Resolver turns a caller's IP and user agent into geo and device fields.
type Resolver interface {
	Resolve(ip, userAgent string) Resolution
}

type TrackClickDTO struct {
	ItemType   string            `json:"itemType"`
	ItemValue  string            `json:"itemValue"`
	EntityType models.EntityType `json:"entityType"`
	PropertyID *string           `json:"propertyId"`
	SessionID  string            `json:"sessionId"`
}

// ClickService records click events off the request path. Events are
// enriched and written by Start; a full queue drops the event.
type ClickService struct {
	db       *gorm.DB
	logger   *slog.Logger
	resolver Resolver
	queue    chan models.ClickEvent
}

func NewClickService(db *gorm.DB, logger *slog.Logger, resolver Resolver) *ClickService {
	return &ClickService{
		db:       db,
		logger:   logger,
		resolver: resolver,
		queue:    make(chan models.ClickEvent, clickQueueSize),
	}
}

// Track validates and queues an event. Only malformed input is reported;
// anything that goes wrong after that is logged and swallowed.
func (s *ClickService) Track(dto TrackClickDTO, userID *string, ip, userAgent, referrer string) error {
	itemType := strings.TrimSpace(dto.ItemType)
	if itemType == "" {
		return apperr.Validation("itemType is required")
	}
	if dto.EntityType != "" && dto.EntityType != models.EntityProperty && dto.EntityType != models.EntityPropertyUnit {
		return apperr.Validation("entityType must be property or property_unit")
	}
	if dto.PropertyID != nil && strings.TrimSpace(*dto.PropertyID) == "" {
		dto.PropertyID = nil
	}

	event := models.ClickEvent{
		ID:         utils.NewID(),
		UserID:     userID,
		SessionID:  strings.TrimSpace(dto.SessionID),
		ItemType:   itemType,
		ItemValue:  strings.TrimSpace(dto.ItemValue),
		EntityType: dto.EntityType,
		PropertyID: dto.PropertyID,
		IPAddress:  ip,
		Referrer:   truncate(referrer, 255),
		UserAgent:  userAgent,
		CreatedAt:  time.Now().UTC(),
	}

	select {
	case s.queue <- event:
	default:
		metrics.ClickEventsDropped.Inc()
		s.logger.Warn("Click queue full, dropping event", "item_type", itemType)
	}
	return nil
}

func (s *ClickService) Start(ctx context.Context) {
	s.logger.Info("Click worker starting")
	for {
		select {
		case event := <-s.queue:
			s.persist(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-s.queue:
					s.persist(event)
				default:
					s.logger.Info("Click worker stopping")
					return
				}
			}
		}
	}
}

func (s *ClickService) persist(event models.ClickEvent) {
	s.enrich(&event)
	if err := s.db.Create(&event).Error; err != nil {
		s.logger.Error("Failed to record click event", "item_type", event.ItemType, "error", err)
	}
}

func (s *ClickService) enrich(event *models.ClickEvent) {
	res := Resolution{Country: UnknownLocation, City: UnknownLocation, DeviceType: DeviceDesktop}
	if s.resolver != nil {
		res = s.resolver.Resolve(event.IPAddress, event.UserAgent)
	}
	event.Country = orDefault(res.Country, UnknownLocation)
	event.City = orDefault(res.City, UnknownLocation)
	event.Region = res.Region
	event.DeviceType = orDefault(res.DeviceType, DeviceDesktop)
	event.Browser = truncate(res.Browser, 50)
	event.OS = truncate(res.OS, 100)
	event.IPAddress = maskIP(event.IPAddress)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
