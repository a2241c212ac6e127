package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/emissions"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/hectares"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/records"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/tokens"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type profileStore struct {
	db *gorm.DB
}

func (p profileStore) ListProfiles(ctx context.Context, _ model.Profile) ([]model.Profile, error) {
	var profiles []model.Profile
	err := p.db.WithContext(ctx).Order("created_at").Find(&profiles).Error
	return profiles, err
}

func (p profileStore) GetOperator(ctx context.Context, _ model.Profile, operatorID string) (model.Profile, error) {
	var profile model.Profile
	err := p.db.WithContext(ctx).Where("id = ? AND role = ?", operatorID, model.RoleOperator).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Profile{}, apperrors.ErrNotFound
	}
	return profile, err
}

type failingTokens struct {
	calls atomic.Int32
}

func (f *failingTokens) Load(context.Context, model.Profile, string) (tokens.View, error) {
	f.calls.Add(1)
	return tokens.View{}, apperrors.Retrieval("tokens.load", errors.New("connection reset"))
}

func (f *failingTokens) LoadAll(context.Context, model.Profile) ([]model.Token, error) {
	f.calls.Add(1)
	return nil, apperrors.Retrieval("tokens.load_all", errors.New("connection reset"))
}

type failingProfiles struct {
	profileStore
}

func (failingProfiles) ListProfiles(context.Context, model.Profile) ([]model.Profile, error) {
	return nil, apperrors.Retrieval("users.list_profiles", errors.New("connection reset"))
}

type composerFixture struct {
	db        *gorm.DB
	hectares  *hectares.Service
	emissions *emissions.Service
	tokens    *tokens.Service
	profiles  profileStore
	admin     model.Profile
}

func newComposerFixture(t *testing.T) composerFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "dashboard.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Profile{}, &model.Hectare{}, &model.Emission{}, &model.Token{}))

	ids := records.NewUUIDProvider()
	hectareService, err := hectares.NewService(hectares.ServiceConfig{Database: db, IDProvider: ids})
	require.NoError(t, err)
	emissionService, err := emissions.NewService(emissions.ServiceConfig{Database: db, IDProvider: ids, Hectares: hectareService})
	require.NoError(t, err)
	tokenService, err := tokens.NewService(tokens.ServiceConfig{Database: db, IDProvider: ids})
	require.NoError(t, err)

	admin := model.Profile{ID: "admin-1", Email: "admin@example.com", Role: model.RoleAdmin, IsActive: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&admin).Error)

	return composerFixture{
		db:        db,
		hectares:  hectareService,
		emissions: emissionService,
		tokens:    tokenService,
		profiles:  profileStore{db: db},
		admin:     admin,
	}
}

func (f composerFixture) addOperator(t *testing.T, id string, active bool) model.Profile {
	t.Helper()
	now := time.Now().UTC()
	profile := model.Profile{ID: id, Email: id + "@example.com", Role: model.RoleOperator, IsActive: active, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.db.Create(&profile).Error)
	return profile
}

func (f composerFixture) composer(t *testing.T, tokenSource TokenSource, logger *zap.Logger) *Composer {
	t.Helper()
	if tokenSource == nil {
		tokenSource = f.tokens
	}
	composer, err := NewComposer(Config{
		Hectares:  f.hectares,
		Emissions: f.emissions,
		Tokens:    tokenSource,
		Profiles:  f.profiles,
		Workers:   2,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(composer.Stop)
	return composer
}

func TestOperatorDashboardWithoutRecordsIsZero(t *testing.T) {
	fixture := newComposerFixture(t)
	operator := fixture.addOperator(t, "operator-1", true)

	view, err := fixture.composer(t, nil, nil).Operator(context.Background(), operator)
	require.NoError(t, err)

	assert.Empty(t, view.Degraded)
	assert.True(t, view.Hectares.Summary.TotalSize.IsZero())
	assert.Zero(t, view.Hectares.Summary.ActiveCount)
	assert.True(t, view.Emissions.Summary.TotalKg.IsZero())
	assert.True(t, view.Tokens.Summary.TotalAmount.IsZero())
}

func TestAdminDashboardAggregatesAcrossOperators(t *testing.T) {
	fixture := newComposerFixture(t)
	ctx := context.Background()
	first := fixture.addOperator(t, "operator-1", true)
	second := fixture.addOperator(t, "operator-2", true)

	_, err := fixture.hectares.Create(ctx, first, hectares.Input{Name: "Lote A", Size: "5", Status: "active"})
	require.NoError(t, err)
	_, err = fixture.hectares.Create(ctx, second, hectares.Input{Name: "Lote B", Size: "3", Status: "inactive"})
	require.NoError(t, err)
	require.NoError(t, fixture.db.Model(&model.Profile{}).Where("id = ?", second.ID).Update("is_active", false).Error)

	view, err := fixture.composer(t, nil, nil).Admin(ctx, fixture.admin)
	require.NoError(t, err)

	assert.Empty(t, view.Degraded)
	assert.True(t, view.Summary.TotalHectares.Equal(decimal.NewFromInt(8)), "total hectares %s", view.Summary.TotalHectares)
	assert.Equal(t, 2, view.Summary.TotalOperators)
	assert.Equal(t, 1, view.Summary.ActiveOperators)
	assert.True(t, view.Summary.TotalEmissionsKg.IsZero())
	assert.True(t, view.Summary.TotalTokens.IsZero())
}

func TestFailedSectionDegradesWithoutBlockingOthers(t *testing.T) {
	fixture := newComposerFixture(t)
	ctx := context.Background()
	operator := fixture.addOperator(t, "operator-1", true)

	_, err := fixture.hectares.Create(ctx, operator, hectares.Input{Name: "Lote 1", Size: "10"})
	require.NoError(t, err)
	_, err = fixture.emissions.Create(ctx, operator, emissions.Input{EmissionAmount: "500", EmissionType: "cultivation"})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.ErrorLevel)
	failing := &failingTokens{}
	composer := fixture.composer(t, failing, zap.New(core))

	view, err := composer.Operator(ctx, operator)
	require.NoError(t, err)

	assert.Equal(t, []string{SectionTokens}, view.Degraded)
	assert.True(t, view.Hectares.Summary.TotalSize.Equal(decimal.NewFromInt(10)))
	assert.True(t, view.Emissions.Summary.TotalKg.Equal(decimal.NewFromInt(500)))
	assert.NotNil(t, view.Tokens.Tokens)
	assert.Empty(t, view.Tokens.Tokens)
	assert.True(t, view.Tokens.Summary.TotalAmount.IsZero())
	assert.Equal(t, int32(1), failing.calls.Load())

	entries := logs.FilterField(zap.String("section", SectionTokens)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dashboard section failed", entries[0].Message)

	adminView, err := composer.Admin(ctx, fixture.admin)
	require.NoError(t, err)
	assert.Equal(t, []string{SectionTokens}, adminView.Degraded)
	assert.True(t, adminView.Summary.TotalHectares.Equal(decimal.NewFromInt(10)))
	assert.True(t, adminView.Summary.TotalTokens.IsZero())
}

func TestAdminTotalsSurviveFailedProfileLoad(t *testing.T) {
	fixture := newComposerFixture(t)
	ctx := context.Background()
	operator := fixture.addOperator(t, "operator-1", true)

	_, err := fixture.hectares.Create(ctx, operator, hectares.Input{Name: "Lote 1", Size: "10", Status: "active"})
	require.NoError(t, err)
	_, err = fixture.emissions.Create(ctx, operator, emissions.Input{EmissionAmount: "500", EmissionType: "cultivation"})
	require.NoError(t, err)

	composer, err := NewComposer(Config{
		Hectares:  fixture.hectares,
		Emissions: fixture.emissions,
		Tokens:    fixture.tokens,
		Profiles:  failingProfiles{profileStore: fixture.profiles},
		Workers:   2,
	})
	require.NoError(t, err)
	t.Cleanup(composer.Stop)

	view, err := composer.Admin(ctx, fixture.admin)
	require.NoError(t, err)
	assert.Equal(t, []string{SectionProfiles}, view.Degraded)
	assert.Zero(t, view.Summary.TotalOperators)
	assert.True(t, view.Summary.TotalHectares.Equal(decimal.NewFromInt(10)), "total hectares %s", view.Summary.TotalHectares)
	assert.True(t, view.Summary.TotalEmissionsKg.Equal(decimal.NewFromInt(500)))
}

func TestOperatorDetailsLoadsProfileAndSets(t *testing.T) {
	fixture := newComposerFixture(t)
	ctx := context.Background()
	operator := fixture.addOperator(t, "operator-1", true)

	_, err := fixture.tokens.Create(ctx, operator, tokens.Input{Amount: "7", TokenType: "earned", Value: "70"})
	require.NoError(t, err)

	composer := fixture.composer(t, nil, nil)
	details, err := composer.OperatorDetails(ctx, fixture.admin, operator.ID)
	require.NoError(t, err)
	assert.Equal(t, operator.ID, details.Operator.ID)
	assert.Len(t, details.Tokens.Tokens, 1)
	assert.True(t, details.Tokens.Summary.EarnedAmount.Equal(decimal.NewFromInt(7)))
	assert.Empty(t, details.Hectares.Hectares)

	_, err = composer.OperatorDetails(ctx, fixture.admin, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestComposerEnforcesRoles(t *testing.T) {
	fixture := newComposerFixture(t)
	ctx := context.Background()
	operator := fixture.addOperator(t, "operator-1", true)
	manager := model.Profile{ID: "manager-1", Role: model.RoleManager, IsActive: true}
	composer := fixture.composer(t, nil, nil)

	_, err := composer.Operator(ctx, fixture.admin)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = composer.Admin(ctx, operator)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = composer.OperatorDetails(ctx, manager, operator.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestCancelledContextDegradesEverySection(t *testing.T) {
	fixture := newComposerFixture(t)
	operator := fixture.addOperator(t, "operator-1", true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view, err := fixture.composer(t, nil, nil).Operator(ctx, operator)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{SectionHectares, SectionEmissions, SectionTokens}, view.Degraded)
}

func TestNewComposerRequiresSources(t *testing.T) {
	_, err := NewComposer(Config{})
	assert.ErrorIs(t, err, errMissingSource)
}
