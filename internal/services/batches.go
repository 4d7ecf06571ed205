package services

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"
	"cleartitle/pkg/utils"

	"gorm.io/gorm"
)

const (
	batchCodePrefix   = "BATCH-"
	batchCodeLength   = 6
	batchCodeAttempts = 5
	batchWriteRetries = 5
)

type CreateBatchDTO struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PropertyUnits []string `json:"propertyUnits"`
}

// BatchService maintains named groups of property units. Membership writes
// are compare-and-swap on the batch version, so concurrent edits retry
// against fresh state instead of overwriting each other.
type BatchService struct {
	db            *gorm.DB
	logger        *slog.Logger
	audit         policy.Auditor
	codeGenerator func(int) string
	now           func() time.Time
}

func NewBatchService(db *gorm.DB, logger *slog.Logger, audit policy.Auditor) *BatchService {
	return &BatchService{
		db:            db,
		logger:        logger,
		audit:         audit,
		codeGenerator: utils.GenerateShortCode,
		now:           time.Now,
	}
}

// dedupe keeps the first occurrence of every non-empty id.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ComputeBatchStats describes a member set given the prices of the members
// that still exist.
func ComputeBatchStats(members []string, prices []float64) models.BatchStats {
	stats := models.BatchStats{TotalProperties: len(members)}
	if len(prices) == 0 {
		return stats
	}
	stats.MinPrice, stats.MaxPrice = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, p := range prices {
		sum += p
		stats.MinPrice = math.Min(stats.MinPrice, p)
		stats.MaxPrice = math.Max(stats.MaxPrice, p)
	}
	stats.AvgPrice = math.Round(sum/float64(len(prices))*100) / 100
	return stats
}

func (s *BatchService) stats(ctx context.Context, members []string) (models.BatchStats, error) {
	if len(members) == 0 {
		return ComputeBatchStats(nil, nil), nil
	}
	var prices []float64
	if err := s.db.WithContext(ctx).Model(&models.PropertyUnit{}).Where("id IN ?", members).Pluck("price", &prices).Error; err != nil {
		return models.BatchStats{}, repository.Classify(err, "failed to load unit prices")
	}
	return ComputeBatchStats(members, prices), nil
}

// requireUnits fails when any id is not an existing property unit.
func (s *BatchService) requireUnits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&models.PropertyUnit{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return repository.Classify(err, "failed to load property units")
	}
	if len(found) == len(ids) {
		return nil
	}
	exists := make(map[string]bool, len(found))
	for _, id := range found {
		exists[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !exists[id] {
			missing = append(missing, id)
		}
	}
	return apperr.Validation("unknown property units: %s", strings.Join(missing, ", "))
}

func (s *BatchService) Create(ctx context.Context, actor policy.Actor, dto CreateBatchDTO) (*models.PropertyBatch, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(dto.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	members := dedupe(dto.PropertyUnits)
	if err := s.requireUnits(ctx, members); err != nil {
		return nil, err
	}
	stats, err := s.stats(ctx, members)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	batch := &models.PropertyBatch{
		ID:            utils.NewID(),
		Name:          name,
		Description:   strings.TrimSpace(dto.Description),
		PropertyUnits: members,
		Stats:         stats,
		Version:       1,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The code is drawn once; a collision with an existing code draws again.
	for attempt := 0; attempt < batchCodeAttempts; attempt++ {
		batch.Code = batchCodePrefix + s.codeGenerator(batchCodeLength)
		err = s.db.WithContext(ctx).Create(batch).Error
		if err == nil {
			s.audit.LogAction(actor.IDPtr(), ActionBatchChanged, string(models.EntityBatch), batch.ID,
				map[string]any{"op": "create", "members": len(members)}, actor.IP)
			return batch, nil
		}
		if !repository.IsDuplicate(err) {
			return nil, repository.Classify(err, "failed to create batch")
		}
		s.logger.Warn("Batch code collision, retrying", "code", batch.Code, "attempt", attempt+1)
	}
	return nil, apperr.Conflict("could not allocate a unique batch code")
}

func (s *BatchService) Get(ctx context.Context, id string) (*models.PropertyBatch, error) {
	var batch models.PropertyBatch
	if err := s.db.WithContext(ctx).Where("id = ? OR code = ?", id, id).First(&batch).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFound("Batch")
		}
		return nil, repository.Classify(err, "failed to load batch")
	}
	if batch.PropertyUnits == nil {
		batch.PropertyUnits = []string{}
	}
	return &batch, nil
}

func (s *BatchService) List(ctx context.Context, search string, page PageRequest) ([]models.PropertyBatch, Pagination, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&models.PropertyBatch{})
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(code) LIKE ?)", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to count batches")
	}
	batches := []models.PropertyBatch{}
	if err := q.Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&batches).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to list batches")
	}
	return batches, NewPagination(page, total), nil
}

// mutate applies change to the current member set and writes the result if
// it differs. The write only lands if nobody else wrote in between.
func (s *BatchService) mutate(ctx context.Context, id string, change func([]string) []string) (bool, *models.PropertyBatch, error) {
	for attempt := 0; attempt < batchWriteRetries; attempt++ {
		batch, err := s.Get(ctx, id)
		if err != nil {
			return false, nil, err
		}
		next := dedupe(change(batch.PropertyUnits))
		if sameMembers(batch.PropertyUnits, next) {
			return false, batch, nil
		}
		stats, err := s.stats(ctx, next)
		if err != nil {
			return false, nil, err
		}

		now := s.now().UTC()
		res := s.db.WithContext(ctx).Model(&models.PropertyBatch{}).
			Where("id = ? AND version = ?", batch.ID, batch.Version).
			Select("property_units", "stats_total_properties", "stats_min_price", "stats_max_price", "stats_avg_price", "version", "updated_at").
			Updates(&models.PropertyBatch{
				PropertyUnits: next,
				Stats:         stats,
				Version:       batch.Version + 1,
				UpdatedAt:     now,
			})
		if res.Error != nil {
			return false, nil, repository.Classify(res.Error, "failed to update batch")
		}
		if res.RowsAffected == 1 {
			batch.PropertyUnits = next
			batch.Stats = stats
			batch.Version++
			batch.UpdatedAt = now
			return true, batch, nil
		}
		s.logger.Debug("Batch version moved, retrying", "batch_id", batch.ID, "attempt", attempt+1)
	}
	return false, nil, apperr.Conflict("batch is being modified concurrently, try again")
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddMembers adds units to a batch. Units already present are ignored; the
// result reports whether the member set changed.
func (s *BatchService) AddMembers(ctx context.Context, actor policy.Actor, id string, unitIDs []string) (bool, *models.PropertyBatch, error) {
	if err := requireAdmin(actor); err != nil {
		return false, nil, err
	}
	unitIDs = dedupe(unitIDs)
	if len(unitIDs) == 0 {
		return false, nil, apperr.Validation("propertyUnits must be a non-empty array")
	}
	if err := s.requireUnits(ctx, unitIDs); err != nil {
		return false, nil, err
	}
	changed, batch, err := s.mutate(ctx, id, func(current []string) []string {
		return append(append([]string{}, current...), unitIDs...)
	})
	if err == nil && changed {
		s.audit.LogAction(actor.IDPtr(), ActionBatchChanged, string(models.EntityBatch), batch.ID,
			map[string]any{"op": "add", "units": unitIDs}, actor.IP)
	}
	return changed, batch, err
}

// RemoveMember drops one unit. Removing a unit that is not a member is a
// no-op.
func (s *BatchService) RemoveMember(ctx context.Context, actor policy.Actor, id string, unitID string) (bool, *models.PropertyBatch, error) {
	if err := requireAdmin(actor); err != nil {
		return false, nil, err
	}
	changed, batch, err := s.mutate(ctx, id, without(unitID))
	if err == nil && changed {
		s.audit.LogAction(actor.IDPtr(), ActionBatchChanged, string(models.EntityBatch), batch.ID,
			map[string]any{"op": "remove", "unit": unitID}, actor.IP)
	}
	return changed, batch, err
}

func without(unitID string) func([]string) []string {
	return func(current []string) []string {
		out := make([]string, 0, len(current))
		for _, m := range current {
			if m != unitID {
				out = append(out, m)
			}
		}
		return out
	}
}

func (s *BatchService) Delete(ctx context.Context, actor policy.Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PropertyBatch{})
	if res.Error != nil {
		return repository.Classify(res.Error, "failed to delete batch")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Batch")
	}
	s.audit.LogAction(actor.IDPtr(), ActionBatchChanged, string(models.EntityBatch), id, map[string]any{"op": "delete"}, actor.IP)
	return nil
}

// DetachUnit removes a deleted unit from every batch holding it.
func (s *BatchService) DetachUnit(ctx context.Context, kind models.EntityType, unitID string) {
	if kind != models.EntityPropertyUnit {
		return
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.PropertyBatch{}).
		Where("property_units LIKE ?", `%"`+unitID+`"%`).Pluck("id", &ids).Error
	if err != nil {
		s.logger.Error("Failed to find batches for deleted unit", "unit_id", unitID, "error", err)
		return
	}
	for _, id := range ids {
		if _, _, err := s.mutate(ctx, id, without(unitID)); err != nil {
			s.logger.Error("Failed to detach deleted unit from batch", "unit_id", unitID, "batch_id", id, "error", err)
		}
	}
}
