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

type RegisterDTO struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginDTO struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UpdateProfileDTO struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Password *string `json:"password"`
}

type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type UserService struct {
	db     *gorm.DB
	logger *slog.Logger
	audit  policy.Auditor
	tokens *TokenIssuer
}

func NewUserService(db *gorm.DB, logger *slog.Logger, audit policy.Auditor, tokens *TokenIssuer) *UserService {
	return &UserService{db: db, logger: logger, audit: audit, tokens: tokens}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) Register(ctx context.Context, dto RegisterDTO) (*Session, error) {
	name := strings.TrimSpace(dto.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	hash, err := utils.HashPassword(dto.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}
	user := &models.User{
		ID:           utils.NewID(),
		Name:         name,
		Email:        normalizeEmail(dto.Email),
		Phone:        strings.TrimSpace(dto.Phone),
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if repository.IsDuplicate(err) {
			return nil, apperr.Conflict("email is already registered")
		}
		return nil, repository.Classify(err, "failed to create user")
	}
	s.logger.Info("User registered", "user_id", user.ID)
	return s.session(user)
}

func (s *UserService) session(user *models.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to issue token", err)
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Login checks credentials. Unknown emails and wrong passwords get the same
// answer.
func (s *UserService) Login(ctx context.Context, dto LoginDTO) (*Session, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(dto.Email)).First(&user).Error
	if err != nil && !repository.IsNotFound(err) {
		return nil, repository.Classify(err, "failed to load user")
	}
	if err != nil || !utils.CheckPasswordHash(dto.Password, user.PasswordHash) {
		return nil, apperr.Unauthorized("invalid credentials")
	}
	if !user.IsActive {
		return nil, apperr.Forbidden("account is disabled")
	}
	return s.session(&user)
}

// Authenticate resolves a bearer token to an actor, re-reading the role and
// active flag so revoked access takes effect immediately.
func (s *UserService) Authenticate(ctx context.Context, token, ip string) (policy.Actor, error) {
	actor, err := s.tokens.Verify(token)
	if err != nil {
		return policy.Anonymous(ip), err
	}
	user, err := s.Get(ctx, actor.ID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return policy.Anonymous(ip), apperr.Unauthorized("invalid or expired token")
		}
		return policy.Anonymous(ip), err
	}
	if !user.IsActive {
		return policy.Anonymous(ip), apperr.Unauthorized("account is disabled")
	}
	return policy.Actor{ID: user.ID, AccountRole: user.Role, IP: ip}, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFound("User")
		}
		return nil, repository.Classify(err, "failed to load user")
	}
	return &user, nil
}

// UpdateProfile changes the caller's own name, phone or password. Role,
// status and agent application fields are not reachable from here.
func (s *UserService) UpdateProfile(ctx context.Context, actor policy.Actor, dto UpdateProfileDTO) (*models.User, error) {
	if !actor.IsAuthenticated() {
		return nil, apperr.Unauthorized("login required")
	}
	set := map[string]any{}
	if dto.Name != nil {
		name := strings.TrimSpace(*dto.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		set["name"] = name
	}
	if dto.Phone != nil {
		set["phone"] = strings.TrimSpace(*dto.Phone)
	}
	if dto.Password != nil {
		if len(*dto.Password) < 8 {
			return nil, apperr.Validation("password must be at least 8 characters")
		}
		hash, err := utils.HashPassword(*dto.Password)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
		}
		set["password_hash"] = hash
	}
	if len(set) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", actor.ID).Updates(set).Error; err != nil {
			return nil, repository.Classify(err, "failed to update profile")
		}
	}
	return s.Get(ctx, actor.ID)
}

// ToggleActive flips a user's active flag. Admins cannot disable themselves.
func (s *UserService) ToggleActive(ctx context.Context, actor policy.Actor, id string) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if id == actor.ID {
		return nil, apperr.Validation("you cannot disable your own account")
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"is_active": gorm.Expr("NOT is_active")})
	if res.Error != nil {
		return nil, repository.Classify(res.Error, "failed to update user")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("User")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.LogAction(actor.IDPtr(), ActionUserToggled, string(models.EntityUser), id,
		map[string]any{"isActive": user.IsActive}, actor.IP)
	return user, nil
}

// EnsureAdmin creates the bootstrap admin, or promotes the existing account
// with that email.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		if user.Role == models.RoleAdmin && user.IsActive {
			return nil
		}
		if err := db.Model(&user).Updates(map[string]any{"role": models.RoleAdmin, "is_active": true}).Error; err != nil {
			return repository.Classify(err, "failed to promote admin")
		}
		s.logger.Info("Bootstrap admin promoted", "user_id", user.ID)
		return nil
	}
	if !repository.IsNotFound(err) {
		return repository.Classify(err, "failed to load admin")
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	user = models.User{
		ID:           utils.NewID(),
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := db.Create(&user).Error; err != nil {
		return repository.Classify(err, "failed to create admin")
	}
	s.logger.Info("Bootstrap admin created", "user_id", user.ID)
	return nil
}
