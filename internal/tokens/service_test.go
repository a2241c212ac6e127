package tokens

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type capturePublisher struct {
	messages []realtime.Message
}

func (p *capturePublisher) Publish(message realtime.Message) {
	p.messages = append(p.messages, message)
}

func newTestService(t *testing.T) (*Service, *capturePublisher) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tokens.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Token{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	current := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	publisher := &capturePublisher{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			current = current.Add(time.Minute)
			return current
		},
		IDProvider: records.NewUUIDProvider(),
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, publisher
}

func operator(id string) model.Profile {
	return model.Profile{ID: id, Email: id + "@example.com", Role: model.RoleOperator, IsActive: true}
}

func TestSummaryCountsOnlyEarnedTowardsEarnedAmount(t *testing.T) {
	service, publisher := newTestService(t)
	ctx := context.Background()
	owner := operator("operator-1")

	inputs := []Input{
		{Amount: "10", TokenType: "earned", Value: "150.50"},
		{Amount: "4.5", TokenType: "purchased", Value: "60", BlockchainTx: "0xabc"},
		{Amount: "2", TokenType: "retired", Value: "0"},
	}
	var view View
	for _, input := range inputs {
		var err error
		view, err = service.Create(ctx, owner, input)
		if err != nil {
			t.Fatalf("create %s failed: %v", input.TokenType, err)
		}
	}
	if !view.Summary.TotalAmount.Equal(decimal.RequireFromString("16.5")) {
		t.Fatalf("expected total amount 16.5, got %s", view.Summary.TotalAmount)
	}
	if !view.Summary.TotalValue.Equal(decimal.RequireFromString("210.5")) {
		t.Fatalf("expected total value 210.5, got %s", view.Summary.TotalValue)
	}
	if !view.Summary.EarnedAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected earned amount 10, got %s", view.Summary.EarnedAmount)
	}
	if view.Tokens[0].TokenType != model.TokenTypeRetired {
		t.Fatalf("expected latest transaction first, got %s", view.Tokens[0].TokenType)
	}
	if len(publisher.messages) != 3 || publisher.messages[0].Topics[0] != realtime.TopicTokens {
		t.Fatalf("expected three token events, got %+v", publisher.messages)
	}
}

func TestCreateHonoursExplicitTransactionDate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	owner := operator("operator-1")

	if _, err := service.Create(ctx, owner, Input{Amount: "1", TokenType: "earned", Value: "1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	view, err := service.Create(ctx, owner, Input{Amount: "2", TokenType: "earned", Value: "1", TransactionDate: "2024-11-30T12:00:00Z"})
	if err != nil {
		t.Fatalf("create with date failed: %v", err)
	}
	if len(view.Tokens) != 2 {
		t.Fatalf("expected two tokens, got %d", len(view.Tokens))
	}
	backdated := view.Tokens[1]
	if !backdated.TransactionDate.Equal(time.Date(2024, 11, 30, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected backdated transaction last, got %s", backdated.TransactionDate)
	}
	if backdated.BlockchainTx != nil {
		t.Fatalf("expected blank blockchain reference to be null")
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	service, publisher := newTestService(t)
	owner := operator("operator-1")

	cases := []struct {
		name  string
		input Input
		field string
	}{
		{name: "missing amount", input: Input{TokenType: "earned", Value: "1"}, field: "amount"},
		{name: "negative amount", input: Input{Amount: "-1", TokenType: "earned", Value: "1"}, field: "amount"},
		{name: "unknown type", input: Input{Amount: "1", TokenType: "minted", Value: "1"}, field: "token_type"},
		{name: "missing value", input: Input{Amount: "1", TokenType: "earned"}, field: "value"},
		{name: "malformed value", input: Input{Amount: "1", TokenType: "earned", Value: "1,5"}, field: "value"},
		{name: "amount beyond scale", input: Input{Amount: "1.00005", TokenType: "earned", Value: "1"}, field: "amount"},
		{name: "value beyond column", input: Input{Amount: "1", TokenType: "earned", Value: "100000000000"}, field: "value"},
		{name: "malformed date", input: Input{Amount: "1", TokenType: "earned", Value: "1", TransactionDate: "yesterday"}, field: "transaction_date"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), owner, testCase.input)
			var validationErr *apperrors.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if validationErr.Field != testCase.field {
				t.Fatalf("expected field %s, got %s", testCase.field, validationErr.Field)
			}
		})
	}
	if len(publisher.messages) != 0 {
		t.Fatalf("expected no events for rejected input, got %d", len(publisher.messages))
	}
}

func TestLoadScopesByOwner(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	first := operator("operator-1")
	second := operator("operator-2")
	admin := model.Profile{ID: "admin-1", Role: model.RoleAdmin, IsActive: true}

	if _, err := service.Create(ctx, first, Input{Amount: "3", TokenType: "earned", Value: "3"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	view, err := service.Load(ctx, second, second.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(view.Tokens) != 0 || !view.Summary.TotalAmount.IsZero() {
		t.Fatalf("expected empty view for second operator, got %+v", view)
	}
	if _, err := service.Load(ctx, second, first.ID); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	all, err := service.LoadAll(ctx, admin)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one token in admin load, got %d, %v", len(all), err)
	}
}

func TestCreateSucceedsWhenReloadFails(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tokens.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Token{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, IDProvider: records.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	err = db.Callback().Query().Before("gorm:query").Register("test:fail_reads", func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("replica offline"))
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	view, err := service.Create(context.Background(), operator("operator-1"), Input{Amount: "5", TokenType: "earned", Value: "12.5"})
	if err != nil {
		t.Fatalf("expected committed create to succeed, got %v", err)
	}
	if !view.Stale || len(view.Tokens) != 1 || !view.Summary.EarnedAmount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected stale view holding the written token, got %+v", view)
	}
}
