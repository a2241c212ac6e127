package auth

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
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/views"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opProviderNew     = "auth.provider.new"
	opSignIn          = "auth.sign_in"
	opSignUp          = "auth.sign_up"
	opSignOut         = "auth.sign_out"
	opResolve         = "auth.resolve"
	opCreateIdentity  = "auth.create_identity"
	opDeleteIdentity  = "auth.delete_identity"
	opBootstrapAdmin  = "auth.bootstrap_admin"
	columnEmail       = "email"
	columnSessionID   = "session_id"
	reasonEmailTaken  = "email_taken"
	messageEmailTaken = "An account with this email already exists"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingTokenIssuer = errors.New("token issuer is required")
	errEmailTaken         = errors.New("email already registered")
)

// ProviderConfig describes the dependencies of the identity provider.
type ProviderConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   records.IDProvider
	Tokens       *TokenIssuer
	Publisher    realtime.Publisher
	Logger       *zap.Logger
	PasswordCost int
}

// Provider owns the sign-in, sign-up and sign-out lifecycle and resolves sessions into
// principals.
type Provider struct {
	db         *gorm.DB
	clock      func() time.Time
	ids        records.IDProvider
	tokens     *TokenIssuer
	publisher  realtime.Publisher
	logger     *zap.Logger
	hasher     passwordHasher
	validator  *validation.Validator
	identities *records.Repository[Identity]
	profiles   *records.Repository[model.Profile]
	revoked    *records.Repository[RevokedSession]
}

// Principal is a resolved, active session.
type Principal struct {
	Profile   model.Profile
	SessionID string
	ExpiresAt time.Time
}

// ViewSession converts the principal into the value the view router is driven by.
func (p Principal) ViewSession() views.Session {
	return views.Session{Status: views.SessionPresent, Role: p.Profile.Role, UserID: p.Profile.ID}
}

// SignedIn is the result of a successful sign-in or sign-up.
type SignedIn struct {
	Principal Principal
	Token     IssuedToken
}

type signInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type credentialsInput struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type signUpInput struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"required,max=320"`
}

// NewProvider validates cfg and constructs a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opProviderNew, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opProviderNew, errMissingIDProvider)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("%s: %w", opProviderNew, errMissingTokenIssuer)
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
	identities, err := records.NewRepository[Identity](cfg.Database)
	if err != nil {
		return nil, err
	}
	profiles, err := records.NewRepository[model.Profile](cfg.Database)
	if err != nil {
		return nil, err
	}
	revoked, err := records.NewRepository[RevokedSession](cfg.Database)
	if err != nil {
		return nil, err
	}
	return &Provider{
		db:         cfg.Database,
		clock:      clock,
		ids:        cfg.IDProvider,
		tokens:     cfg.Tokens,
		publisher:  publisher,
		logger:     logger,
		hasher:     newPasswordHasher(cfg.PasswordCost),
		validator:  validation.New(),
		identities: identities,
		profiles:   profiles,
		revoked:    revoked,
	}, nil
}

// SignIn authenticates email and password and issues a session for the matching active profile.
func (p *Provider) SignIn(ctx context.Context, email, password string) (SignedIn, error) {
	input := signInInput{Email: model.NormalizeEmail(email), Password: password}
	if err := p.validator.Check(opSignIn, input); err != nil {
		return SignedIn{}, err
	}

	identity, err := p.identities.First(ctx, records.Eq(columnEmail, input.Email))
	if errors.Is(err, apperrors.ErrNotFound) {
		return SignedIn{}, invalidCredentials()
	}
	if err != nil {
		p.logError(opSignIn, "identity_lookup_failed", err)
		return SignedIn{}, apperrors.Retrieval(opSignIn, err)
	}

	matches, err := p.hasher.matches(identity.PasswordHash, input.Password)
	if err != nil {
		p.logError(opSignIn, "password_compare_failed", err, zap.String("identity_id", identity.ID))
		return SignedIn{}, invalidCredentials()
	}
	if !matches {
		return SignedIn{}, invalidCredentials()
	}

	profile, err := p.activeProfile(ctx, opSignIn, identity.ID)
	if err != nil {
		return SignedIn{}, err
	}
	return p.issue(ctx, opSignIn, profile)
}

// SignUp creates an identity and its operator profile in one transaction and signs the new
// user in.
func (p *Provider) SignUp(ctx context.Context, email, password, fullName string) (SignedIn, error) {
	input := signUpInput{
		Email:    model.NormalizeEmail(email),
		Password: password,
		FullName: strings.TrimSpace(fullName),
	}
	if err := p.validator.Check(opSignUp, input); err != nil {
		return SignedIn{}, err
	}

	hash, err := p.hasher.hash(input.Password)
	if err != nil {
		p.logError(opSignUp, "password_hash_failed", err)
		return SignedIn{}, apperrors.Mutation(opSignUp, err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		p.logError(opSignUp, "id_generation_failed", err)
		return SignedIn{}, apperrors.Mutation(opSignUp, err)
	}

	now := p.clock().UTC()
	profile := model.Profile{
		ID:        id,
		Email:     input.Email,
		FullName:  model.OptionalText(input.FullName),
		Role:      model.RoleOperator,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.ensureEmailAvailable(ctx, p.identities.WithTx(tx), input.Email); err != nil {
			return err
		}
		identity := Identity{ID: id, Email: input.Email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
		if err := p.identities.WithTx(tx).Insert(ctx, &identity); err != nil {
			return err
		}
		return p.profiles.WithTx(tx).Insert(ctx, &profile)
	})
	if errors.Is(err, errEmailTaken) {
		return SignedIn{}, apperrors.Auth(reasonEmailTaken, messageEmailTaken)
	}
	if err != nil {
		p.logError(opSignUp, "sign_up_failed", err, zap.String("email", input.Email))
		return SignedIn{}, apperrors.Mutation(opSignUp, err)
	}
	return p.issue(ctx, opSignUp, profile)
}

// SignOut revokes the session carried by claims and tells the user's other streams to
// re-resolve their session.
func (p *Provider) SignOut(ctx context.Context, claims SessionClaims) error {
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" {
		return apperrors.Auth("invalid_session", "Session is not valid")
	}
	now := p.clock().UTC()
	expiresAt := now
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}
	revocation := RevokedSession{
		SessionID:  claims.ID,
		IdentityID: claims.Subject,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}
	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&revocation).Error; err != nil {
		p.logError(opSignOut, "revocation_failed", err, zap.String("identity_id", claims.Subject))
		return apperrors.Mutation(opSignOut, err)
	}
	if err := p.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&RevokedSession{}).Error; err != nil {
		p.logger.Warn("failed to prune expired revocations", zap.Error(err))
	}
	p.publisher.Publish(realtime.Message{UserID: claims.Subject, EventType: realtime.EventSession, Timestamp: now})
	return nil
}

// Resolve turns validated claims into a principal. Revoked sessions and missing or inactive
// profiles are rejected.
func (p *Provider) Resolve(ctx context.Context, claims SessionClaims) (Principal, error) {
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return Principal{}, apperrors.Auth("invalid_session", "Session is not valid")
	}
	_, err := p.revoked.First(ctx, records.Eq(columnSessionID, claims.ID))
	if err == nil {
		return Principal{}, apperrors.Auth("session_revoked", "This session has been signed out")
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		p.logError(opResolve, "revocation_lookup_failed", err, zap.String("session_id", claims.ID))
		return Principal{}, apperrors.Retrieval(opResolve, err)
	}

	profile, err := p.activeProfile(ctx, opResolve, claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	principal := Principal{Profile: profile, SessionID: claims.ID}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return principal, nil
}

// CreateIdentity provisions a credential without a profile and returns its id. The caller
// owns creating the matching profile.
func (p *Provider) CreateIdentity(ctx context.Context, email, password string) (string, error) {
	input := credentialsInput{Email: model.NormalizeEmail(email), Password: password}
	if err := p.validator.Check(opCreateIdentity, input); err != nil {
		return "", err
	}
	if err := p.ensureEmailAvailable(ctx, p.identities, input.Email); err != nil {
		if errors.Is(err, errEmailTaken) {
			return "", apperrors.Validation(opCreateIdentity, columnEmail, "is already registered")
		}
		p.logError(opCreateIdentity, "identity_lookup_failed", err)
		return "", apperrors.Retrieval(opCreateIdentity, err)
	}
	hash, err := p.hasher.hash(input.Password)
	if err != nil {
		p.logError(opCreateIdentity, "password_hash_failed", err)
		return "", apperrors.Mutation(opCreateIdentity, err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		p.logError(opCreateIdentity, "id_generation_failed", err)
		return "", apperrors.Mutation(opCreateIdentity, err)
	}
	now := p.clock().UTC()
	identity := Identity{ID: id, Email: input.Email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
	if err := p.identities.Insert(ctx, &identity); err != nil {
		p.logError(opCreateIdentity, "identity_insert_failed", err, zap.String("email", input.Email))
		return "", apperrors.Mutation(opCreateIdentity, err)
	}
	return id, nil
}

// DeleteIdentity removes a credential.
func (p *Provider) DeleteIdentity(ctx context.Context, identityID string) error {
	if err := p.identities.Delete(ctx, identityID); err != nil {
		p.logError(opDeleteIdentity, "identity_delete_failed", err, zap.String("identity_id", identityID))
		return apperrors.Mutation(opDeleteIdentity, err)
	}
	return nil
}

// BootstrapAdmin creates an admin identity and profile, or promotes and reactivates the
// profile of an existing identity with the same email.
func (p *Provider) BootstrapAdmin(ctx context.Context, email, password, fullName string) (model.Profile, error) {
	input := signUpInput{
		Email:    model.NormalizeEmail(email),
		Password: password,
		FullName: strings.TrimSpace(fullName),
	}
	if err := p.validator.Check(opBootstrapAdmin, input); err != nil {
		return model.Profile{}, err
	}
	now := p.clock().UTC()
	var profile model.Profile
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		identities := p.identities.WithTx(tx)
		profiles := p.profiles.WithTx(tx)

		identity, err := identities.First(ctx, records.Eq(columnEmail, input.Email))
		if errors.Is(err, apperrors.ErrNotFound) {
			hash, hashErr := p.hasher.hash(input.Password)
			if hashErr != nil {
				return hashErr
			}
			id, idErr := p.ids.NewID()
			if idErr != nil {
				return idErr
			}
			identity = Identity{ID: id, Email: input.Email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
			if err := identities.Insert(ctx, &identity); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		existing, err := profiles.Get(ctx, identity.ID)
		if errors.Is(err, apperrors.ErrNotFound) {
			profile = model.Profile{
				ID:        identity.ID,
				Email:     input.Email,
				FullName:  model.OptionalText(input.FullName),
				Role:      model.RoleAdmin,
				IsActive:  true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return profiles.Insert(ctx, &profile)
		}
		if err != nil {
			return err
		}
		if err := profiles.Update(ctx, identity.ID, map[string]any{
			"role":       model.RoleAdmin,
			"is_active":  true,
			"full_name":  model.OptionalText(input.FullName),
			"updated_at": now,
		}); err != nil {
			return err
		}
		profile = existing
		profile.Role = model.RoleAdmin
		profile.IsActive = true
		profile.FullName = model.OptionalText(input.FullName)
		profile.UpdatedAt = now
		return nil
	})
	if err != nil {
		p.logError(opBootstrapAdmin, "bootstrap_failed", err, zap.String("email", input.Email))
		return model.Profile{}, apperrors.Mutation(opBootstrapAdmin, err)
	}
	p.publisher.Publish(realtime.Message{UserID: profile.ID, EventType: realtime.EventSession, Timestamp: now})
	return profile, nil
}

func (p *Provider) ensureEmailAvailable(ctx context.Context, identities *records.Repository[Identity], email string) error {
	_, err := identities.First(ctx, records.Eq(columnEmail, email))
	if err == nil {
		return errEmailTaken
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

func (p *Provider) activeProfile(ctx context.Context, operation, profileID string) (model.Profile, error) {
	profile, err := p.profiles.Get(ctx, profileID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return model.Profile{}, apperrors.Auth("missing_profile", "No profile is associated with this account")
	}
	if err != nil {
		p.logError(operation, "profile_lookup_failed", err, zap.String("profile_id", profileID))
		return model.Profile{}, apperrors.Retrieval(operation, err)
	}
	if !profile.IsActive {
		return model.Profile{}, apperrors.Auth("inactive_profile", "This account has been deactivated")
	}
	return profile, nil
}

func (p *Provider) issue(ctx context.Context, operation string, profile model.Profile) (SignedIn, error) {
	token, err := p.tokens.IssueSessionToken(ctx, profile.ID, profile.Email)
	if err != nil {
		p.logError(operation, "token_issue_failed", err, zap.String("profile_id", profile.ID))
		return SignedIn{}, fmt.Errorf("%s: issue token: %w", operation, err)
	}
	return SignedIn{
		Principal: Principal{Profile: profile, SessionID: token.SessionID, ExpiresAt: token.ExpiresAt},
		Token:     token,
	}, nil
}

func (p *Provider) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	p.logger.Error("auth provider error", attrs...)
}

func invalidCredentials() error {
	return apperrors.Auth("invalid_credentials", "Invalid email or password")
}
