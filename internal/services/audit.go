package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cleartitle/internal/models"

	"gorm.io/gorm"
)

const (
	ActionApprove        = "APPROVE"
	ActionReject         = "REJECT"
	ActionReset          = "RESET"
	ActionSuspend        = "SUSPEND"
	ActionReactivate     = "REACTIVATE"
	ActionFeature        = "TOGGLE_FEATURED"
	ActionVerify         = "SET_VERIFIED"
	ActionCascadeFailed  = "CASCADE_FAILED"
	ActionBatchChanged   = "BATCH_CHANGED"
	ActionUserToggled    = "USER_TOGGLE_ACTIVE"
	ActionListingDeleted = "LISTING_DELETED"
	ActionAgentApplied   = "AGENT_APPLIED"

	auditQueueSize = 100
)

// AuditService writes audit entries from a buffered queue so callers never
// wait on the store.
type AuditService struct {
	db     *gorm.DB
	logger *slog.Logger
	queue  chan models.AuditLog
}

func NewAuditService(db *gorm.DB, logger *slog.Logger) *AuditService {
	return &AuditService{
		db:     db,
		logger: logger,
		queue:  make(chan models.AuditLog, auditQueueSize),
	}
}

func (s *AuditService) Start(ctx context.Context) {
	s.logger.Info("Audit worker starting")
	for {
		select {
		case entry := <-s.queue:
			s.write(entry)
		case <-ctx.Done():
			s.drain()
			s.logger.Info("Audit worker stopping")
			return
		}
	}
}

// drain flushes whatever is still queued at shutdown.
func (s *AuditService) drain() {
	for {
		select {
		case entry := <-s.queue:
			s.write(entry)
		default:
			return
		}
	}
}

func (s *AuditService) write(entry models.AuditLog) {
	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.Error("Failed to write audit log", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

func (s *AuditService) LogAction(actorID *string, action string, entityType string, entityID string, details interface{}, ip string) {
	var detail string
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			s.logger.Warn("Audit details not encodable", "action", action, "error", err)
		} else {
			detail = string(b)
		}
	}

	entry := models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    detail,
		IPAddress:  ip,
		Timestamp:  time.Now().UTC(),
	}

	select {
	case s.queue <- entry:
	default:
		s.logger.Warn("Audit queue full, dropping entry", "action", action, "entity_id", entityID)
	}
}
