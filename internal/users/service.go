package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/records"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "users.service.new"
	opListOperators    = "users.list_operators"
	opGetOperator      = "users.get_operator"
	opCreateOperator   = "users.create_operator"
	opUpdateOperator   = "users.update_operator"
	opDeleteOperator   = "users.delete_operator"
	opUpdateOwnProfile = "users.update_own_profile"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIdentities = errors.New("identity provisioner is required")
)

// ServiceConfig describes the dependencies required for user management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Identities IdentityProvisioner
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Service manages profiles. Every operator-management call requires an admin actor.
type Service struct {
	clock      func() time.Time
	identities IdentityProvisioner
	publisher  realtime.Publisher
	logger     *zap.Logger
	validator  *validation.Validator
	profiles   *records.Repository[model.Profile]
}

// CreateOperatorInput carries the fields an admin supplies for a new operator.
type CreateOperatorInput struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"max=320"`
	IsActive *bool  `json:"is_active"`
}

// UpdateOperatorInput carries the mutable operator fields. Nil fields are left unchanged;
// email and password cannot be changed through this path.
type UpdateOperatorInput struct {
	FullName *string `json:"full_name" validate:"omitempty,max=320"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin manager operator"`
	IsActive *bool   `json:"is_active"`
}

type ownProfileInput struct {
	FullName string `json:"full_name" validate:"required,max=320"`
}

// NewService constructs the user management service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingDatabase)
	}
	if cfg.Identities == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingIdentities)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	profiles, err := records.NewRepository[model.Profile](cfg.Database)
	if err != nil {
		return nil, err
	}
	return &Service{
		clock:      clock,
		identities: cfg.Identities,
		publisher:  publisher,
		logger:     logger,
		validator:  validation.New(),
		profiles:   profiles,
	}, nil
}

// ListOperators returns operator profiles, newest first, optionally narrowed by a
// case-insensitive match on full name or email.
func (s *Service) ListOperators(ctx context.Context, actor model.Profile, search string) ([]model.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	operators, err := s.profiles.Select(ctx,
		records.Eq("role", model.RoleOperator),
		records.Desc("created_at"), records.Asc("id"))
	if err != nil {
		s.logError(opListOperators, "profile_select_failed", err)
		return nil, apperrors.Retrieval(opListOperators, err)
	}
	term := strings.ToLower(normalize(search))
	if term == "" {
		return operators, nil
	}
	matched := make([]model.Profile, 0, len(operators))
	for _, operator := range operators {
		if matchesSearch(operator.FullName, operator.Email, term) {
			matched = append(matched, operator)
		}
	}
	return matched, nil
}

// ListProfiles returns every profile. It backs the admin aggregate, which filters roles itself.
func (s *Service) ListProfiles(ctx context.Context, actor model.Profile) ([]model.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	profiles, err := s.profiles.Select(ctx, nil, records.Desc("created_at"), records.Asc("id"))
	if err != nil {
		s.logError(opListOperators, "profile_select_failed", err)
		return nil, apperrors.Retrieval(opListOperators, err)
	}
	return profiles, nil
}

// GetOperator returns one operator profile.
func (s *Service) GetOperator(ctx context.Context, actor model.Profile, operatorID string) (model.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Profile{}, err
	}
	return s.loadOperator(ctx, opGetOperator, operatorID)
}

// CreateOperator provisions an identity and its operator profile. When the profile insert
// fails the identity is deleted again; if that also fails an OrphanedIdentityError is returned.
func (s *Service) CreateOperator(ctx context.Context, actor model.Profile, input CreateOperatorInput) (model.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Profile{}, err
	}
	input.Email = model.NormalizeEmail(input.Email)
	input.FullName = normalize(input.FullName)
	if err := s.validator.Check(opCreateOperator, input); err != nil {
		return model.Profile{}, err
	}

	identityID, err := s.identities.CreateIdentity(ctx, input.Email, input.Password)
	if err != nil {
		return model.Profile{}, err
	}

	now := s.clock().UTC()
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	createdBy := actor.ID
	profile := model.Profile{
		ID:        identityID,
		Email:     input.Email,
		FullName:  model.OptionalText(input.FullName),
		Role:      model.RoleOperator,
		IsActive:  isActive,
		CreatedBy: &createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.profiles.Insert(ctx, &profile); err != nil {
		s.logError(opCreateOperator, "profile_insert_failed", err, zap.String("identity_id", identityID))
		if compensationErr := s.identities.DeleteIdentity(context.WithoutCancel(ctx), identityID); compensationErr != nil {
			s.logError(opCreateOperator, "compensation_failed", compensationErr, zap.String("identity_id", identityID))
			return model.Profile{}, &apperrors.OrphanedIdentityError{IdentityID: identityID, Err: errors.Join(err, compensationErr)}
		}
		return model.Profile{}, apperrors.Mutation(opCreateOperator, err)
	}
	return profile, nil
}

// UpdateOperator changes an operator's full name, role or active flag.
func (s *Service) UpdateOperator(ctx context.Context, actor model.Profile, operatorID string, input UpdateOperatorInput) (model.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Profile{}, err
	}
	if err := s.validator.Check(opUpdateOperator, input); err != nil {
		return model.Profile{}, err
	}
	profile, err := s.loadOperator(ctx, opUpdateOperator, operatorID)
	if err != nil {
		return model.Profile{}, err
	}

	now := s.clock().UTC()
	fields := map[string]any{"updated_at": now}
	if input.FullName != nil {
		profile.FullName = model.OptionalText(*input.FullName)
		fields["full_name"] = profile.FullName
	}
	if input.Role != nil {
		role, err := model.ParseRole(*input.Role)
		if err != nil {
			return model.Profile{}, apperrors.Validation(opUpdateOperator, "role", err.Error())
		}
		profile.Role = role
		fields["role"] = role
	}
	if input.IsActive != nil {
		profile.IsActive = *input.IsActive
		fields["is_active"] = *input.IsActive
	}
	profile.UpdatedAt = now

	if err := s.profiles.Update(ctx, profile.ID, fields); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return model.Profile{}, err
		}
		s.logError(opUpdateOperator, "profile_update_failed", err, zap.String("profile_id", profile.ID))
		return model.Profile{}, apperrors.Mutation(opUpdateOperator, err)
	}
	s.publishSession(profile.ID)
	return profile, nil
}

// DeleteOperator removes an operator profile after confirmation. The identity stays, but it
// can no longer sign in because sign-in requires a profile.
func (s *Service) DeleteOperator(ctx context.Context, actor model.Profile, operatorID string, confirmed bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if !confirmed {
		return apperrors.ErrConfirmationRequired
	}
	if normalize(operatorID) == actor.ID {
		return fmt.Errorf("%w: admins cannot delete their own profile", apperrors.ErrForbidden)
	}
	profile, err := s.loadOperator(ctx, opDeleteOperator, operatorID)
	if err != nil {
		return err
	}
	if err := s.profiles.Delete(ctx, profile.ID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		s.logError(opDeleteOperator, "profile_delete_failed", err, zap.String("profile_id", profile.ID))
		return apperrors.Mutation(opDeleteOperator, err)
	}
	s.publishSession(profile.ID)
	return nil
}

// UpdateOwnProfile lets any signed-in user change their own full name.
func (s *Service) UpdateOwnProfile(ctx context.Context, actor model.Profile, fullName string) (model.Profile, error) {
	input := ownProfileInput{FullName: normalize(fullName)}
	if err := s.validator.Check(opUpdateOwnProfile, input); err != nil {
		return model.Profile{}, err
	}
	now := s.clock().UTC()
	if err := s.profiles.Update(ctx, actor.ID, map[string]any{"full_name": input.FullName, "updated_at": now}); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return model.Profile{}, err
		}
		s.logError(opUpdateOwnProfile, "profile_update_failed", err, zap.String("profile_id", actor.ID))
		return model.Profile{}, apperrors.Mutation(opUpdateOwnProfile, err)
	}
	updated := actor
	updated.FullName = model.OptionalText(input.FullName)
	updated.UpdatedAt = now
	s.publishSession(actor.ID)
	return updated, nil
}

func (s *Service) loadOperator(ctx context.Context, operation, operatorID string) (model.Profile, error) {
	operatorID = normalize(operatorID)
	if operatorID == "" {
		return model.Profile{}, apperrors.Validation(operation, "id", "is required")
	}
	profile, err := s.profiles.Get(ctx, operatorID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return model.Profile{}, err
	}
	if err != nil {
		s.logError(operation, "profile_select_failed", err, zap.String("profile_id", operatorID))
		return model.Profile{}, apperrors.Retrieval(operation, err)
	}
	if profile.Role != model.RoleOperator {
		return model.Profile{}, fmt.Errorf("%w: operator %s", apperrors.ErrNotFound, operatorID)
	}
	return profile, nil
}

func (s *Service) publishSession(userID string) {
	s.publisher.Publish(realtime.Message{
		UserID:    userID,
		EventType: realtime.EventSession,
		Topics:    []string{realtime.TopicProfiles},
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

func requireAdmin(actor model.Profile) error {
	if actor.Role != model.RoleAdmin || !actor.IsActive {
		return fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	return nil
}
