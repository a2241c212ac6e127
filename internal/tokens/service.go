package tokens

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
	"gorm.io/gorm"
)

const (
	opServiceNew = "tokens.service.new"
	opLoad       = "tokens.load"
	opLoadAll    = "tokens.load_all"
	opCreate     = "tokens.create"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceConfig describes the dependencies of the token ledger.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider records.IDProvider
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Service records carbon-credit transactions. Transactions are append-only.
type Service struct {
	clock     func() time.Time
	ids       records.IDProvider
	publisher realtime.Publisher
	logger    *zap.Logger
	validator *validation.Validator
	tokens    *records.Repository[model.Token]
}

// Input carries a submitted transaction. TransactionDate is RFC 3339; blank means now.
// BlockchainTx is stored as given and never verified.
type Input struct {
	Amount          aggregate.Amount `json:"amount" validate:"required"`
	TokenType       string           `json:"token_type" validate:"required,oneof=earned purchased retired"`
	Value           aggregate.Amount `json:"value" validate:"required"`
	TransactionDate string           `json:"transaction_date"`
	BlockchainTx    string           `json:"blockchain_tx" validate:"max=190"`
}

// View is a loaded transaction list with its summary. Stale marks a list that
// could not be reloaded after a committed write; it then holds only the written record.
type View struct {
	Tokens  []model.Token          `json:"tokens"`
	Summary aggregate.TokenSummary `json:"summary"`
	Stale   bool                   `json:"stale,omitempty"`
}

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
	repository, err := records.NewRepository[model.Token](cfg.Database)
	if err != nil {
		return nil, err
	}
	return &Service{
		clock:     clock,
		ids:       cfg.IDProvider,
		publisher: publisher,
		logger:    logger,
		validator: validation.New(),
		tokens:    repository,
	}, nil
}

// Load returns the transactions owned by ownerID, latest first.
func (s *Service) Load(ctx context.Context, actor model.Profile, ownerID string) (View, error) {
	if !actor.MayRead(ownerID) {
		return View{}, fmt.Errorf("%w: tokens of %s", apperrors.ErrForbidden, ownerID)
	}
	rows, err := s.tokens.Select(ctx, records.Eq("owner_id", ownerID), latestFirst()...)
	if err != nil {
		s.logError(opLoad, "token_select_failed", err, zap.String("owner_id", ownerID))
		return View{}, apperrors.Retrieval(opLoad, err)
	}
	return View{Tokens: rows, Summary: aggregate.SummarizeTokens(rows)}, nil
}

// LoadAll returns every transaction for the admin aggregate.
func (s *Service) LoadAll(ctx context.Context, actor model.Profile) ([]model.Token, error) {
	if !actor.Acts(model.RoleAdmin) {
		return nil, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	rows, err := s.tokens.Select(ctx, nil, latestFirst()...)
	if err != nil {
		s.logError(opLoadAll, "token_select_failed", err)
		return nil, apperrors.Retrieval(opLoadAll, err)
	}
	return rows, nil
}

// Create validates and stores a transaction for the actor, then reloads the actor's list.
func (s *Service) Create(ctx context.Context, actor model.Profile, input Input) (View, error) {
	if !actor.MayWrite(actor.ID) {
		return View{}, fmt.Errorf("%w: operator role required", apperrors.ErrForbidden)
	}
	if err := s.validator.Check(opCreate, input); err != nil {
		return View{}, err
	}
	amount, err := aggregate.ParseAmount(opCreate, "amount", input.Amount)
	if err != nil {
		return View{}, err
	}
	value, err := aggregate.ParseAmount(opCreate, "value", input.Value)
	if err != nil {
		return View{}, err
	}
	tokenType, err := model.ParseTokenType(input.TokenType)
	if err != nil {
		return View{}, apperrors.Validation(opCreate, "token_type", err.Error())
	}
	now := s.clock().UTC()
	transactionDate := now
	if raw := model.OptionalText(input.TransactionDate); raw != nil {
		parsed, err := time.Parse(time.RFC3339, *raw)
		if err != nil {
			return View{}, apperrors.Validation(opCreate, "transaction_date", "must be an RFC 3339 timestamp")
		}
		transactionDate = parsed.UTC()
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return View{}, apperrors.Mutation(opCreate, err)
	}
	row := model.Token{
		ID:              id,
		OwnerID:         actor.ID,
		Amount:          amount,
		TokenType:       tokenType,
		Value:           value,
		TransactionDate: transactionDate,
		BlockchainTx:    model.OptionalText(input.BlockchainTx),
		CreatedAt:       now,
	}
	if err := s.tokens.Insert(ctx, &row); err != nil {
		s.logError(opCreate, "token_insert_failed", err, zap.String("owner_id", actor.ID))
		return View{}, apperrors.Mutation(opCreate, err)
	}
	s.publisher.Publish(realtime.Message{
		UserID:    actor.ID,
		EventType: realtime.EventRecordsChanged,
		Topics:    []string{realtime.TopicTokens},
		Timestamp: now,
	})
	return s.reloadAfterWrite(ctx, actor, &row), nil
}

// reloadAfterWrite loads the actor's list once the insert has committed. A failed reload
// does not fail the write.
func (s *Service) reloadAfterWrite(ctx context.Context, actor model.Profile, written *model.Token) View {
	view, err := s.Load(ctx, actor, actor.ID)
	if err == nil {
		return view
	}
	s.logger.Warn("tokens reload after write failed", zap.String("owner_id", actor.ID), zap.Error(err))
	rows := []model.Token{*written}
	return View{Tokens: rows, Summary: aggregate.SummarizeTokens(rows), Stale: true}
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
	s.logger.Error("tokens service error", attrs...)
}

func latestFirst() []records.Order {
	return []records.Order{records.Desc("transaction_date"), records.Desc("created_at"), records.Desc("id")}
}
