package hectares

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/aggregate"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/records"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "hectares.service.new"
	opLoad       = "hectares.load"
	opLoadAll    = "hectares.load_all"
	opCreate     = "hectares.create"
	opUpdate     = "hectares.update"
	opDelete     = "hectares.delete"
	opOwned      = "hectares.owned"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceConfig describes the dependencies of the hectare manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider records.IDProvider
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Service manages land parcels.
type Service struct {
	clock     func() time.Time
	ids       records.IDProvider
	publisher realtime.Publisher
	logger    *zap.Logger
	validator *validation.Validator
	hectares  *records.Repository[model.Hectare]
}

// Input carries the editable hectare fields as submitted. Size is parsed as a decimal.
type Input struct {
	Name     string           `json:"name" validate:"required,max=190"`
	Size     aggregate.Amount `json:"size" validate:"required"`
	Location string           `json:"location" validate:"max=320"`
	Status   string           `json:"status" validate:"omitempty,oneof=active inactive harvested"`
}

// View is a loaded hectare list with its summary. Stale marks a list that could not be
// reloaded after a committed write; it then holds only the written record.
type View struct {
	Hectares []model.Hectare          `json:"hectares"`
	Summary  aggregate.HectareSummary `json:"summary"`
	Stale    bool                     `json:"stale,omitempty"`
}

// NewService constructs the hectare manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingIDProvider)
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
	repository, err := records.NewRepository[model.Hectare](cfg.Database)
	if err != nil {
		return nil, err
	}
	return &Service{
		clock:     clock,
		ids:       cfg.IDProvider,
		publisher: publisher,
		logger:    logger,
		validator: validation.New(),
		hectares:  repository,
	}, nil
}

// Load returns the hectares owned by ownerID, newest first, with their summary.
func (s *Service) Load(ctx context.Context, actor model.Profile, ownerID string) (View, error) {
	if !actor.MayRead(ownerID) {
		return View{}, fmt.Errorf("%w: hectares of %s", apperrors.ErrForbidden, ownerID)
	}
	rows, err := s.hectares.Select(ctx, records.Eq("owner_id", ownerID), newestFirst()...)
	if err != nil {
		s.logError(opLoad, "hectare_select_failed", err, zap.String("owner_id", ownerID))
		return View{}, apperrors.Retrieval(opLoad, err)
	}
	return View{Hectares: rows, Summary: aggregate.SummarizeHectares(rows)}, nil
}

// LoadAll returns every hectare for the admin aggregate.
func (s *Service) LoadAll(ctx context.Context, actor model.Profile) ([]model.Hectare, error) {
	if !actor.Acts(model.RoleAdmin) {
		return nil, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	rows, err := s.hectares.Select(ctx, nil, newestFirst()...)
	if err != nil {
		s.logError(opLoadAll, "hectare_select_failed", err)
		return nil, apperrors.Retrieval(opLoadAll, err)
	}
	return rows, nil
}

// Owned returns a hectare if it belongs to ownerID.
func (s *Service) Owned(ctx context.Context, ownerID, hectareID string) (model.Hectare, error) {
	row, err := s.hectares.First(ctx, records.Eq("id", hectareID).And("owner_id", ownerID))
	if errors.Is(err, apperrors.ErrNotFound) {
		return model.Hectare{}, err
	}
	if err != nil {
		s.logError(opOwned, "hectare_select_failed", err, zap.String("hectare_id", hectareID))
		return model.Hectare{}, apperrors.Retrieval(opOwned, err)
	}
	return row, nil
}

// Create validates input, stores a new hectare for the actor and reloads the actor's list.
func (s *Service) Create(ctx context.Context, actor model.Profile, input Input) (View, error) {
	if !actor.MayWrite(actor.ID) {
		return View{}, fmt.Errorf("%w: operator role required", apperrors.ErrForbidden)
	}
	fields, err := s.parse(opCreate, input)
	if err != nil {
		return View{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return View{}, apperrors.Mutation(opCreate, err)
	}
	now := s.clock().UTC()
	row := model.Hectare{
		ID:        id,
		OwnerID:   actor.ID,
		Name:      fields.name,
		Size:      fields.size,
		Location:  fields.location,
		Status:    fields.status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.hectares.Insert(ctx, &row); err != nil {
		s.logError(opCreate, "hectare_insert_failed", err, zap.String("owner_id", actor.ID))
		return View{}, apperrors.Mutation(opCreate, err)
	}
	s.publishChanged(actor.ID)
	return s.reloadAfterWrite(ctx, actor, opCreate, &row), nil
}

// Update replaces the editable fields of a hectare the actor owns.
func (s *Service) Update(ctx context.Context, actor model.Profile, hectareID string, input Input) (View, error) {
	if !actor.MayWrite(actor.ID) {
		return View{}, fmt.Errorf("%w: operator role required", apperrors.ErrForbidden)
	}
	fields, err := s.parse(opUpdate, input)
	if err != nil {
		return View{}, err
	}
	current, err := s.Owned(ctx, actor.ID, hectareID)
	if err != nil {
		return View{}, err
	}
	current.Name, current.Size, current.Location, current.Status = fields.name, fields.size, fields.location, fields.status
	current.UpdatedAt = s.clock().UTC()
	err = s.hectares.Update(ctx, hectareID, map[string]any{
		"name":       current.Name,
		"size":       current.Size,
		"location":   current.Location,
		"status":     current.Status,
		"updated_at": current.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return View{}, err
		}
		s.logError(opUpdate, "hectare_update_failed", err, zap.String("hectare_id", hectareID))
		return View{}, apperrors.Mutation(opUpdate, err)
	}
	s.publishChanged(actor.ID)
	return s.reloadAfterWrite(ctx, actor, opUpdate, &current), nil
}

// Delete removes a hectare the actor owns. Without confirmation nothing is touched.
func (s *Service) Delete(ctx context.Context, actor model.Profile, hectareID string, confirmed bool) (View, error) {
	if !actor.MayWrite(actor.ID) {
		return View{}, fmt.Errorf("%w: operator role required", apperrors.ErrForbidden)
	}
	if !confirmed {
		return View{}, apperrors.ErrConfirmationRequired
	}
	if _, err := s.Owned(ctx, actor.ID, hectareID); err != nil {
		return View{}, err
	}
	if err := s.hectares.Delete(ctx, hectareID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return View{}, err
		}
		s.logError(opDelete, "hectare_delete_failed", err, zap.String("hectare_id", hectareID))
		return View{}, apperrors.Mutation(opDelete, err)
	}
	s.publishChanged(actor.ID)
	return s.reloadAfterWrite(ctx, actor, opDelete, nil), nil
}

// reloadAfterWrite loads the actor's list once a write has committed. A failed reload does
// not fail the write.
func (s *Service) reloadAfterWrite(ctx context.Context, actor model.Profile, operation string, written *model.Hectare) View {
	view, err := s.Load(ctx, actor, actor.ID)
	if err == nil {
		return view
	}
	s.logger.Warn("hectares reload after write failed",
		zap.String("operation", operation),
		zap.String("owner_id", actor.ID),
		zap.Error(err),
	)
	rows := []model.Hectare{}
	if written != nil {
		rows = append(rows, *written)
	}
	return View{Hectares: rows, Summary: aggregate.SummarizeHectares(rows), Stale: true}
}

type parsedInput struct {
	name     string
	size     decimal.Decimal
	location *string
	status   model.HectareStatus
}

func (s *Service) parse(operation string, input Input) (parsedInput, error) {
	if err := s.validator.Check(operation, input); err != nil {
		return parsedInput{}, err
	}
	name := model.OptionalText(input.Name)
	if name == nil {
		return parsedInput{}, apperrors.Validation(operation, "name", "is required")
	}
	size, err := aggregate.ParseAmount(operation, "size", input.Size)
	if err != nil {
		return parsedInput{}, err
	}
	if !size.IsPositive() {
		return parsedInput{}, apperrors.Validation(operation, "size", "must be greater than zero")
	}
	status := model.HectareStatusActive
	if input.Status != "" {
		status, err = model.ParseHectareStatus(input.Status)
		if err != nil {
			return parsedInput{}, apperrors.Validation(operation, "status", err.Error())
		}
	}
	return parsedInput{name: *name, size: size, location: model.OptionalText(input.Location), status: status}, nil
}

func (s *Service) publishChanged(ownerID string) {
	s.publisher.Publish(realtime.Message{
		UserID:    ownerID,
		EventType: realtime.EventRecordsChanged,
		Topics:    []string{realtime.TopicHectares},
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
	s.logger.Error("hectares service error", attrs...)
}

func newestFirst() []records.Order {
	return []records.Order{records.Desc("created_at"), records.Desc("id")}
}
