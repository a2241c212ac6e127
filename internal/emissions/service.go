package emissions

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
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DateLayout is the accepted emission_date input format.
const DateLayout = "2006-01-02"

const (
	opServiceNew = "emissions.service.new"
	opLoad       = "emissions.load"
	opLoadAll    = "emissions.load_all"
	opCreate     = "emissions.create"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingHectares   = errors.New("hectare lookup is required")
)

// HectareLookup resolves a hectare only when it belongs to the given owner.
type HectareLookup interface {
	Owned(ctx context.Context, ownerID, hectareID string) (model.Hectare, error)
}

// ServiceConfig describes the dependencies of the emission manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider records.IDProvider
	Hectares   HectareLookup
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Service records emission events. Emissions are append-only.
type Service struct {
	clock     func() time.Time
	ids       records.IDProvider
	hectares  HectareLookup
	publisher realtime.Publisher
	logger    *zap.Logger
	validator *validation.Validator
	emissions *records.Repository[model.Emission]
}

// Input carries a submitted emission. A blank date means today.
type Input struct {
	HectareID      string           `json:"hectare_id" validate:"max=64"`
	EmissionAmount aggregate.Amount `json:"emission_amount" validate:"required"`
	EmissionDate   string           `json:"emission_date" validate:"omitempty,datetime=2006-01-02"`
	EmissionType   string           `json:"emission_type" validate:"required,oneof=cultivation harvest transport processing"`
	Notes          string           `json:"notes" validate:"max=2000"`
}

// View is a loaded emission list with its summary. Stale marks a list that
// could not be reloaded after a committed write; it then holds only the written record.
type View struct {
	Emissions []model.Emission          `json:"emissions"`
	Summary   aggregate.EmissionSummary `json:"summary"`
	Stale     bool                      `json:"stale,omitempty"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingIDProvider)
	}
	if cfg.Hectares == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingHectares)
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
	repository, err := records.NewRepository[model.Emission](cfg.Database)
	if err != nil {
		return nil, err
	}
	return &Service{
		clock:     clock,
		ids:       cfg.IDProvider,
		hectares:  cfg.Hectares,
		publisher: publisher,
		logger:    logger,
		validator: validation.New(),
		emissions: repository,
	}, nil
}

// Load returns the emissions owned by ownerID, most recent emission date first.
func (s *Service) Load(ctx context.Context, actor model.Profile, ownerID string) (View, error) {
	if !actor.MayRead(ownerID) {
		return View{}, fmt.Errorf("%w: emissions of %s", apperrors.ErrForbidden, ownerID)
	}
	rows, err := s.emissions.Select(ctx, records.Eq("owner_id", ownerID), mostRecentFirst()...)
	if err != nil {
		s.logError(opLoad, "emission_select_failed", err, zap.String("owner_id", ownerID))
		return View{}, apperrors.Retrieval(opLoad, err)
	}
	return View{Emissions: rows, Summary: aggregate.SummarizeEmissions(rows)}, nil
}

// LoadAll returns every emission for the admin aggregate.
func (s *Service) LoadAll(ctx context.Context, actor model.Profile) ([]model.Emission, error) {
	if !actor.Acts(model.RoleAdmin) {
		return nil, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	rows, err := s.emissions.Select(ctx, nil, mostRecentFirst()...)
	if err != nil {
		s.logError(opLoadAll, "emission_select_failed", err)
		return nil, apperrors.Retrieval(opLoadAll, err)
	}
	return rows, nil
}

// Create validates and stores an emission for the actor, then reloads the actor's list.
func (s *Service) Create(ctx context.Context, actor model.Profile, input Input) (View, error) {
	if !actor.MayWrite(actor.ID) {
		return View{}, fmt.Errorf("%w: operator role required", apperrors.ErrForbidden)
	}
	if err := s.validator.Check(opCreate, input); err != nil {
		return View{}, err
	}
	amount, err := aggregate.ParseAmount(opCreate, "emission_amount", input.EmissionAmount)
	if err != nil {
		return View{}, err
	}
	emissionType, err := model.ParseEmissionType(input.EmissionType)
	if err != nil {
		return View{}, apperrors.Validation(opCreate, "emission_type", err.Error())
	}
	now := s.clock().UTC()
	emissionDate := now.Truncate(24 * time.Hour)
	if date := model.OptionalText(input.EmissionDate); date != nil {
		emissionDate, err = time.ParseInLocation(DateLayout, *date, time.UTC)
		if err != nil {
			return View{}, apperrors.Validation(opCreate, "emission_date", "must match the "+DateLayout+" layout")
		}
	}
	hectareID := model.OptionalText(input.HectareID)
	if hectareID != nil {
		if _, err := s.hectares.Owned(ctx, actor.ID, *hectareID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return View{}, apperrors.Validation(opCreate, "hectare_id", "must reference one of your hectares")
			}
			return View{}, err
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return View{}, apperrors.Mutation(opCreate, err)
	}
	row := model.Emission{
		ID:             id,
		OwnerID:        actor.ID,
		HectareID:      hectareID,
		EmissionAmount: amount,
		EmissionDate:   datatypes.Date(emissionDate),
		EmissionType:   emissionType,
		Notes:          model.OptionalText(input.Notes),
		CreatedAt:      now,
	}
	if err := s.emissions.Insert(ctx, &row); err != nil {
		s.logError(opCreate, "emission_insert_failed", err, zap.String("owner_id", actor.ID))
		return View{}, apperrors.Mutation(opCreate, err)
	}
	s.publisher.Publish(realtime.Message{
		UserID:    actor.ID,
		EventType: realtime.EventRecordsChanged,
		Topics:    []string{realtime.TopicEmissions},
		Timestamp: now,
	})
	return s.reloadAfterWrite(ctx, actor, &row), nil
}

// reloadAfterWrite loads the actor's list once the insert has committed. A failed reload
// does not fail the write.
func (s *Service) reloadAfterWrite(ctx context.Context, actor model.Profile, written *model.Emission) View {
	view, err := s.Load(ctx, actor, actor.ID)
	if err == nil {
		return view
	}
	s.logger.Warn("emissions reload after write failed", zap.String("owner_id", actor.ID), zap.Error(err))
	rows := []model.Emission{*written}
	return View{Emissions: rows, Summary: aggregate.SummarizeEmissions(rows), Stale: true}
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
	s.logger.Error("emissions service error", attrs...)
}

func mostRecentFirst() []records.Order {
	return []records.Order{records.Desc("emission_date"), records.Desc("created_at"), records.Desc("id")}
}
