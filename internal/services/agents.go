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

const agentCounter = "agentId"

type AgentApplicationDTO struct {
	LicenseNumber   string `json:"licenseNumber"`
	AgencyName      string `json:"agencyName"`
	ExperienceYears int    `json:"experienceYears"`
	Bio             string `json:"bio"`
}

// AgentDecision is the outcome of a reviewer action on an application. The
// user transition is always committed when err is nil; CascadeError reports
// a failed follow-up write to the agent profile.
type AgentDecision struct {
	User         *models.User  `json:"user"`
	Agent        *models.Agent `json:"agent,omitempty"`
	CascadeError string        `json:"cascadeError,omitempty"`
}

type AgentFilter struct {
	Search          string
	IncludeInactive bool
}

// AgentService runs the agent application workflow. The user's application
// status is the primary record; the Agent profile follows it through a
// best-effort second write.
type AgentService struct {
	db       *gorm.DB
	logger   *slog.Logger
	audit    policy.Auditor
	counters *repository.Counters
	now      func() time.Time
}

func NewAgentService(db *gorm.DB, logger *slog.Logger, audit policy.Auditor, counters *repository.Counters) *AgentService {
	return &AgentService{db: db, logger: logger, audit: audit, counters: counters, now: time.Now}
}

func (s *AgentService) loadUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFound("User")
		}
		return nil, repository.Classify(err, "failed to load user")
	}
	return &user, nil
}

// Apply submits or resubmits the caller's application.
func (s *AgentService) Apply(ctx context.Context, actor policy.Actor, dto AgentApplicationDTO) (*models.User, error) {
	if !actor.IsAuthenticated() {
		return nil, apperr.Unauthorized("login required")
	}
	dto.LicenseNumber = strings.TrimSpace(dto.LicenseNumber)
	dto.AgencyName = strings.TrimSpace(dto.AgencyName)
	if dto.LicenseNumber == "" {
		return nil, apperr.Validation("licenseNumber is required")
	}
	if dto.ExperienceYears < 0 {
		return nil, apperr.Validation("experienceYears cannot be negative")
	}

	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (agent_approval_status IN ? OR agent_approval_status IS NULL)",
			actor.ID, []models.ApprovalStatus{models.StatusNone, models.StatusRejected}).
		Updates(map[string]any{
			"agent_approval_status":            models.StatusPending,
			"agent_approval_license_number":    dto.LicenseNumber,
			"agent_approval_agency_name":       dto.AgencyName,
			"agent_approval_experience_years":  dto.ExperienceYears,
			"agent_approval_bio":               strings.TrimSpace(dto.Bio),
			"agent_approval_applied_at":        now,
			"agent_approval_reviewed_by":       nil,
			"agent_approval_reviewed_at":       nil,
			"agent_approval_rejection_reason":  "",
			"agent_approval_suspension_reason": "",
		})
	if res.Error != nil {
		return nil, repository.Classify(res.Error, "failed to submit application")
	}
	if res.RowsAffected == 0 {
		user, err := s.loadUser(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.InvalidTransition(string(user.AgentApproval.Status), string(models.StatusPending))
	}

	s.audit.LogAction(actor.IDPtr(), ActionAgentApplied, string(models.EntityUser), actor.ID, nil, actor.IP)
	return s.loadUser(ctx, actor.ID)
}

type agentTransition struct {
	action string
	from   []models.ApprovalStatus
	target models.ApprovalStatus
	reason string
	set    map[string]any
	// active is the state the agent profile must follow to.
	active bool
}

func (s *AgentService) transition(ctx context.Context, userID string, reviewer policy.Actor, t agentTransition) (*AgentDecision, error) {
	if err := requireAdmin(reviewer); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	set := map[string]any{
		"agent_approval_status":      t.target,
		"agent_approval_reviewed_by": reviewer.ID,
		"agent_approval_reviewed_at": now,
		"updated_at":                 now,
	}
	for k, v := range t.set {
		set[k] = v
	}

	q := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID)
	if t.target == models.StatusRejected {
		q = q.Where("(agent_approval_status IN ? OR (agent_approval_status = ? AND agent_approval_rejection_reason <> ?))",
			t.from, models.StatusRejected, t.reason)
	} else {
		q = q.Where("agent_approval_status IN ?", t.from)
	}
	res := q.Updates(set)
	if res.Error != nil {
		metrics.ApprovalTransitions.WithLabelValues(string(models.EntityAgent), t.action, "error").Inc()
		return nil, repository.Classify(res.Error, "failed to update application")
	}
	if res.RowsAffected == 0 {
		user, err := s.loadUser(ctx, userID)
		if err == nil {
			err = apperr.InvalidTransition(string(user.AgentApproval.Status), string(t.target))
		}
		metrics.ApprovalTransitions.WithLabelValues(string(models.EntityAgent), t.action, string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	metrics.ApprovalTransitions.WithLabelValues(string(models.EntityAgent), t.action, "ok").Inc()

	var details map[string]any
	if t.reason != "" {
		details = map[string]any{"reason": t.reason}
	}
	s.audit.LogAction(reviewer.IDPtr(), t.action, string(models.EntityUser), userID, details, reviewer.IP)

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	decision := &AgentDecision{User: user}

	// Second step of the saga. The user transition above stays committed
	// whatever happens here.
	var agent *models.Agent
	if t.active {
		agent, err = s.ensureAgent(ctx, user)
	} else {
		agent, err = s.deactivateAgent(ctx, userID)
	}
	if err != nil {
		s.cascadeFailed(reviewer, user.ID, agent, t.action, err)
		decision.CascadeError = "agent profile could not be updated"
		return decision, nil
	}
	decision.Agent = agent
	return decision, nil
}

func (s *AgentService) cascadeFailed(reviewer policy.Actor, userID string, agent *models.Agent, step string, err error) {
	agentID := ""
	if agent != nil {
		agentID = agent.ID
	}
	s.logger.Error("Agent profile cascade failed, manual reconciliation required",
		"user_id", userID,
		"agent_id", agentID,
		"step", step,
		"reviewer", reviewer.ID,
		"error", err,
	)
	s.audit.LogAction(reviewer.IDPtr(), ActionCascadeFailed, string(models.EntityAgent), userID,
		map[string]any{"step": step, "agentId": agentID, "error": err.Error()}, reviewer.IP)
}

// ensureAgent activates the user's agent profile, allocating the next agent
// id the first time the user is approved.
func (s *AgentService) ensureAgent(ctx context.Context, user *models.User) (*models.Agent, error) {
	db := s.db.WithContext(ctx)
	now := s.now().UTC()

	var agent models.Agent
	err := db.Where("user_id = ?", user.ID).First(&agent).Error
	if err == nil {
		err = db.Model(&agent).Updates(map[string]any{
			"is_active":        true,
			"agency_name":      user.AgentApproval.AgencyName,
			"license_number":   user.AgentApproval.LicenseNumber,
			"experience_years": user.AgentApproval.ExperienceYears,
			"bio":              user.AgentApproval.Bio,
			"updated_at":       now,
		}).Error
		if err != nil {
			return &agent, repository.Classify(err, "failed to reactivate agent")
		}
		agent.IsActive = true
		return &agent, nil
	}
	if !repository.IsNotFound(err) {
		return nil, repository.Classify(err, "failed to load agent")
	}

	seq, err := s.counters.Next(ctx, agentCounter)
	if err != nil {
		return nil, err
	}
	agent = models.Agent{
		ID:              models.AgentID(seq),
		Seq:             seq,
		UserID:          user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Phone:           user.Phone,
		AgencyName:      user.AgentApproval.AgencyName,
		LicenseNumber:   user.AgentApproval.LicenseNumber,
		ExperienceYears: user.AgentApproval.ExperienceYears,
		Bio:             user.AgentApproval.Bio,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.Create(&agent).Error; err != nil {
		return &agent, repository.Classify(err, "failed to create agent")
	}
	s.logger.Info("Agent profile created", "agent_id", agent.ID, "user_id", user.ID)
	return &agent, nil
}

// deactivateAgent is a no-op for users that never had a profile.
func (s *AgentService) deactivateAgent(ctx context.Context, userID string) (*models.Agent, error) {
	db := s.db.WithContext(ctx)
	var agent models.Agent
	if err := db.Where("user_id = ?", userID).First(&agent).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, repository.Classify(err, "failed to load agent")
	}
	if err := db.Model(&agent).Updates(map[string]any{"is_active": false, "updated_at": s.now().UTC()}).Error; err != nil {
		return &agent, repository.Classify(err, "failed to deactivate agent")
	}
	agent.IsActive = false
	return &agent, nil
}

func (s *AgentService) Approve(ctx context.Context, userID string, reviewer policy.Actor) (*AgentDecision, error) {
	return s.transition(ctx, userID, reviewer, agentTransition{
		action: ActionApprove,
		from:   []models.ApprovalStatus{models.StatusPending, models.StatusRejected},
		target: models.StatusApproved,
		set: map[string]any{
			"agent_approval_rejection_reason":  "",
			"agent_approval_suspension_reason": "",
		},
		active: true,
	})
}

func (s *AgentService) Reject(ctx context.Context, userID string, reviewer policy.Actor, reason string) (*AgentDecision, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}
	return s.transition(ctx, userID, reviewer, agentTransition{
		action: ActionReject,
		from:   []models.ApprovalStatus{models.StatusPending, models.StatusApproved},
		target: models.StatusRejected,
		reason: reason,
		set:    map[string]any{"agent_approval_rejection_reason": reason},
	})
}

func (s *AgentService) Suspend(ctx context.Context, userID string, reviewer policy.Actor, reason string) (*AgentDecision, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a suspension reason is required")
	}
	return s.transition(ctx, userID, reviewer, agentTransition{
		action: ActionSuspend,
		from:   []models.ApprovalStatus{models.StatusApproved},
		target: models.StatusSuspended,
		reason: reason,
		set:    map[string]any{"agent_approval_suspension_reason": reason},
	})
}

func (s *AgentService) Reactivate(ctx context.Context, userID string, reviewer policy.Actor) (*AgentDecision, error) {
	return s.transition(ctx, userID, reviewer, agentTransition{
		action: ActionReactivate,
		from:   []models.ApprovalStatus{models.StatusSuspended},
		target: models.StatusApproved,
		set:    map[string]any{"agent_approval_suspension_reason": ""},
		active: true,
	})
}

// Reset sends a reviewed application back to pending.
func (s *AgentService) Reset(ctx context.Context, userID string, reviewer policy.Actor) (*AgentDecision, error) {
	return s.transition(ctx, userID, reviewer, agentTransition{
		action: ActionReset,
		from:   []models.ApprovalStatus{models.StatusApproved, models.StatusRejected, models.StatusSuspended},
		target: models.StatusPending,
		set: map[string]any{
			"agent_approval_rejection_reason":  "",
			"agent_approval_suspension_reason": "",
		},
	})
}

// ListApplications returns users with an application in the given status,
// or any status when empty.
func (s *AgentService) ListApplications(ctx context.Context, status string, page PageRequest) ([]models.User, Pagination, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&models.User{})
	if status != "" {
		if !models.ApprovalStatus(status).Valid() {
			return nil, Pagination{}, apperr.Validation("status must be one of pending, approved, rejected, suspended")
		}
		q = q.Where("agent_approval_status = ?", status)
	} else {
		q = q.Where("agent_approval_status <> ''")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to count applications")
	}
	users := []models.User{}
	if err := q.Order("agent_approval_applied_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&users).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to list applications")
	}
	return users, NewPagination(page, total), nil
}

func (s *AgentService) ListAgents(ctx context.Context, f AgentFilter, page PageRequest) ([]models.Agent, Pagination, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&models.Agent{})
	if !f.IncludeInactive {
		q = q.Where("is_active = ?", true)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(agency_name) LIKE ? OR LOWER(email) LIKE ?)", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to count agents")
	}
	agents := []models.Agent{}
	if err := q.Order("seq ASC").Offset(page.Offset()).Limit(page.Limit).Find(&agents).Error; err != nil {
		return nil, Pagination{}, repository.Classify(err, "failed to list agents")
	}
	return agents, NewPagination(page, total), nil
}

// GetAgent hides inactive profiles unless includeInactive is set.
func (s *AgentService) GetAgent(ctx context.Context, id string, includeInactive bool) (*models.Agent, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var agent models.Agent
	if err := q.First(&agent).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFound("Agent")
		}
		return nil, repository.Classify(err, "failed to load agent")
	}
	return &agent, nil
}
