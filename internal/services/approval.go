package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cleartitle/internal/apperr"
	"cleartitle/internal/metrics"
	"cleartitle/internal/models"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"

	"gorm.io/gorm"
)

const maxBulkIDs = 100

// ApprovalService moves listings through review. Every transition is a
// single conditional UPDATE that matches the allowed source states, so two
// concurrent reviewers can never both succeed against the same prior state.
type ApprovalService struct {
	db     *gorm.DB
	logger *slog.Logger
	audit  policy.Auditor
	cache  *repository.ListingCache
	now    func() time.Time
}

func NewApprovalService(db *gorm.DB, logger *slog.Logger, audit policy.Auditor, cache *repository.ListingCache) *ApprovalService {
	return &ApprovalService{db: db, logger: logger, audit: audit, cache: cache, now: time.Now}
}

func kindName(kind models.EntityType) string {
	switch kind {
	case models.EntityProperty:
		return "Property"
	case models.EntityPropertyUnit:
		return "Property unit"
	}
	return strings.ReplaceAll(string(kind), "_", " ")
}

func loadListing(ctx context.Context, db *gorm.DB, kind models.EntityType, id string) (models.Listing, error) {
	listing, err := models.NewListing(kind)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if err := db.WithContext(ctx).Where("id = ?", id).First(listing).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFound(kindName(kind))
		}
		return nil, repository.Classify(err, "failed to load "+strings.ToLower(kindName(kind)))
	}
	return listing, nil
}

func requireAdmin(actor policy.Actor) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("admin access required")
	}
	return nil
}

type transition struct {
	action string
	target models.ApprovalStatus
	where  func(*gorm.DB) *gorm.DB
	set    map[string]any
	// onMiss maps the current record to the error returned when the
	// conditional update matched nothing. A nil error means the row was
	// already in the requested state.
	onMiss func(current models.ListingReview) error
}

func (s *ApprovalService) apply(ctx context.Context, kind models.EntityType, id string, reviewer policy.Actor, t transition, details map[string]any) (models.Listing, error) {
	if err := requireAdmin(reviewer); err != nil {
		return nil, err
	}
	if _, err := models.NewListing(kind); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	now := s.now().UTC()
	set := map[string]any{"updated_at": now}
	for k, v := range t.set {
		set[k] = v
	}
	if t.target != models.StatusNone {
		set["reviewed_by"] = reviewer.ID
		set["reviewed_at"] = now
	}

	q := s.db.WithContext(ctx).Table(kind.Table()).Where("id = ?", id)
	if t.where != nil {
		q = t.where(q)
	}
	res := q.Updates(set)
	if res.Error != nil {
		metrics.ApprovalTransitions.WithLabelValues(string(kind), t.action, "error").Inc()
		return nil, repository.Classify(res.Error, "failed to update "+strings.ToLower(kindName(kind)))
	}

	if res.RowsAffected == 0 {
		current, err := loadListing(ctx, s.db, kind, id)
		if err != nil {
			metrics.ApprovalTransitions.WithLabelValues(string(kind), t.action, string(apperr.KindOf(err))).Inc()
			return nil, err
		}
		if err := t.onMiss(current.Review()); err != nil {
			metrics.ApprovalTransitions.WithLabelValues(string(kind), t.action, string(apperr.KindOf(err))).Inc()
			return nil, err
		}
	}

	metrics.ApprovalTransitions.WithLabelValues(string(kind), t.action, "ok").Inc()
	s.cache.Invalidate(ctx, kind)
	s.audit.LogAction(reviewer.IDPtr(), t.action, string(kind), id, details, reviewer.IP)
	s.logger.Info("Listing review updated", "kind", kind, "id", id, "action", t.action, "reviewer", reviewer.ID)

	return loadListing(ctx, s.db, kind, id)
}

func invalidFrom(target models.ApprovalStatus) func(models.ListingReview) error {
	return func(current models.ListingReview) error {
		return apperr.InvalidTransition(string(current.ApprovalStatus), string(target))
	}
}

// Approve accepts a pending or rejected listing and clears any rejection
// reason.
func (s *ApprovalService) Approve(ctx context.Context, kind models.EntityType, id string, reviewer policy.Actor) (models.Listing, error) {
	return s.apply(ctx, kind, id, reviewer, transition{
		action: ActionApprove,
		target: models.StatusApproved,
		where: func(q *gorm.DB) *gorm.DB {
			return q.Where("approval_status IN ?", []models.ApprovalStatus{models.StatusPending, models.StatusRejected})
		},
		set: map[string]any{
			"approval_status":  models.StatusApproved,
			"rejection_reason": "",
		},
		onMiss: invalidFrom(models.StatusApproved),
	}, nil)
}

// Reject requires a reason. Rejecting an already rejected listing is only
// allowed when the reason changes.
func (s *ApprovalService) Reject(ctx context.Context, kind models.EntityType, id string, reviewer policy.Actor, reason string) (models.Listing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}
	return s.apply(ctx, kind, id, reviewer, transition{
		action: ActionReject,
		target: models.StatusRejected,
		where: func(q *gorm.DB) *gorm.DB {
			return q.Where("(approval_status IN ? OR (approval_status = ? AND rejection_reason <> ?))",
				[]models.ApprovalStatus{models.StatusPending, models.StatusApproved}, models.StatusRejected, reason)
		},
		set: map[string]any{
			"approval_status":  models.StatusRejected,
			"rejection_reason": reason,
			"is_featured":      false,
		},
		onMiss: invalidFrom(models.StatusRejected),
	}, map[string]any{"reason": reason})
}

// ResetToPending sends a reviewed listing back to the queue.
func (s *ApprovalService) ResetToPending(ctx context.Context, kind models.EntityType, id string, reviewer policy.Actor) (models.Listing, error) {
	return s.apply(ctx, kind, id, reviewer, transition{
		action: ActionReset,
		target: models.StatusPending,
		where: func(q *gorm.DB) *gorm.DB {
			return q.Where("approval_status IN ?", []models.ApprovalStatus{models.StatusApproved, models.StatusRejected})
		},
		set: map[string]any{
			"approval_status":  models.StatusPending,
			"rejection_reason": "",
			"is_featured":      false,
		},
		onMiss: invalidFrom(models.StatusPending),
	}, nil)
}

// ToggleFeatured flips the featured flag of an approved listing. The status
// is matched in the same statement, so a concurrent reject always wins.
func (s *ApprovalService) ToggleFeatured(ctx context.Context, kind models.EntityType, id string, reviewer policy.Actor) (models.Listing, error) {
	return s.apply(ctx, kind, id, reviewer, transition{
		action: ActionFeature,
		where: func(q *gorm.DB) *gorm.DB {
			return q.Where("approval_status = ?", models.StatusApproved)
		},
		set: map[string]any{"is_featured": gorm.Expr("NOT is_featured")},
		onMiss: func(models.ListingReview) error {
			return apperr.PreconditionFailed("only approved listings can be featured")
		},
	}, nil)
}

func (s *ApprovalService) SetVerified(ctx context.Context, kind models.EntityType, id string, reviewer policy.Actor, verified bool) (models.Listing, error) {
	return s.apply(ctx, kind, id, reviewer, transition{
		action: ActionVerify,
		set:    map[string]any{"is_verified": verified},
		onMiss: func(models.ListingReview) error { return nil },
	}, map[string]any{"verified": verified})
}

type BulkItemResult struct {
	ID      string      `json:"id"`
	Success bool        `json:"success"`
	Kind    apperr.Kind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

type BulkResult struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

func normalizeIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, apperr.Validation("ids must be a non-empty array")
	}
	if len(out) > maxBulkIDs {
		return nil, apperr.Validation("at most %d ids per request", maxBulkIDs)
	}
	return out, nil
}

// bulk applies op to every id. One failure does not stop the rest.
func (s *ApprovalService) bulk(ids []string, op func(id string) error) (BulkResult, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return BulkResult{}, err
	}
	result := BulkResult{Results: make([]BulkItemResult, 0, len(ids))}
	for _, id := range ids {
		if err := op(id); err != nil {
			result.Failed++
			result.Results = append(result.Results, BulkItemResult{ID: id, Kind: apperr.KindOf(err), Message: apperr.Message(err)})
			continue
		}
		result.Succeeded++
		result.Results = append(result.Results, BulkItemResult{ID: id, Success: true})
	}
	return result, nil
}

func (s *ApprovalService) BulkApprove(ctx context.Context, kind models.EntityType, ids []string, reviewer policy.Actor) (BulkResult, error) {
	if err := requireAdmin(reviewer); err != nil {
		return BulkResult{}, err
	}
	return s.bulk(ids, func(id string) error {
		_, err := s.Approve(ctx, kind, id, reviewer)
		return err
	})
}

func (s *ApprovalService) BulkReject(ctx context.Context, kind models.EntityType, ids []string, reviewer policy.Actor, reason string) (BulkResult, error) {
	if err := requireAdmin(reviewer); err != nil {
		return BulkResult{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return BulkResult{}, apperr.Validation("a rejection reason is required")
	}
	return s.bulk(ids, func(id string) error {
		_, err := s.Reject(ctx, kind, id, reviewer, reason)
		return err
	})
}
