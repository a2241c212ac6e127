// Package dashboard composes multi-set views by loading their record sets concurrently.
//
// A failing set never aborts its siblings: it is logged, reported in Degraded and rendered
// empty, so the summaries built from it read as zero.
package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/aggregate"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/emissions"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/hectares"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/tokens"
	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

const (
	// DefaultWorkers bounds concurrent set loads across all requests.
	DefaultWorkers = 8

	SectionProfiles  = "profiles"
	SectionHectares  = "hectares"
	SectionEmissions = "emissions"
	SectionTokens    = "tokens"

	opOperator        = "dashboard.operator"
	opAdmin           = "dashboard.admin"
	opOperatorDetails = "dashboard.operator_details"
	opComposerNew     = "dashboard.composer.new"
)

var errMissingSource = errors.New("every record source is required")

// HectareSource loads hectare sets.
type HectareSource interface {
	Load(ctx context.Context, actor model.Profile, ownerID string) (hectares.View, error)
	LoadAll(ctx context.Context, actor model.Profile) ([]model.Hectare, error)
}

// EmissionSource loads emission sets.
type EmissionSource interface {
	Load(ctx context.Context, actor model.Profile, ownerID string) (emissions.View, error)
	LoadAll(ctx context.Context, actor model.Profile) ([]model.Emission, error)
}

// TokenSource loads token sets.
type TokenSource interface {
	Load(ctx context.Context, actor model.Profile, ownerID string) (tokens.View, error)
	LoadAll(ctx context.Context, actor model.Profile) ([]model.Token, error)
}

// ProfileSource loads profiles for the admin views.
type ProfileSource interface {
	ListProfiles(ctx context.Context, actor model.Profile) ([]model.Profile, error)
	GetOperator(ctx context.Context, actor model.Profile, operatorID string) (model.Profile, error)
}

// Config wires the composer to its record sources.
type Config struct {
	Hectares  HectareSource
	Emissions EmissionSource
	Tokens    TokenSource
	Profiles  ProfileSource
	Workers   int
	Logger    *zap.Logger
}

// Composer runs set loads on a shared bounded pool.
type Composer struct {
	hectares  HectareSource
	emissions EmissionSource
	tokens    TokenSource
	profiles  ProfileSource
	pool      pond.Pool
	logger    *zap.Logger
}

// OperatorDashboard is an operator's own overview.
type OperatorDashboard struct {
	Hectares  hectares.View  `json:"hectares"`
	Emissions emissions.View `json:"emissions"`
	Tokens    tokens.View    `json:"tokens"`
	Degraded  []string       `json:"degraded"`
}

// AdminDashboard carries the cross-operator aggregate.
type AdminDashboard struct {
	Summary  aggregate.AdminSummary `json:"summary"`
	Degraded []string               `json:"degraded"`
}

// OperatorDetails is an admin's view of one operator.
type OperatorDetails struct {
	Operator  model.Profile  `json:"operator"`
	Hectares  hectares.View  `json:"hectares"`
	Emissions emissions.View `json:"emissions"`
	Tokens    tokens.View    `json:"tokens"`
	Degraded  []string       `json:"degraded"`
}

func NewComposer(cfg Config) (*Composer, error) {
	if cfg.Hectares == nil || cfg.Emissions == nil || cfg.Tokens == nil || cfg.Profiles == nil {
		return nil, fmt.Errorf("%s: %w", opComposerNew, errMissingSource)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		hectares:  cfg.Hectares,
		emissions: cfg.Emissions,
		tokens:    cfg.Tokens,
		profiles:  cfg.Profiles,
		pool:      pond.NewPool(workers),
		logger:    logger,
	}, nil
}

// Stop waits for queued loads and releases the pool.
func (c *Composer) Stop() {
	c.pool.StopAndWait()
}

// Operator loads the actor's hectares, emissions and tokens concurrently.
func (c *Composer) Operator(ctx context.Context, actor model.Profile) (OperatorDashboard, error) {
	if !actor.Acts(model.RoleOperator) {
		return OperatorDashboard{}, fmt.Errorf("%w: operator role required", apperrors.ErrForbidden)
	}
	result := OperatorDashboard{}
	loads := c.newBatch(ctx, opOperator)
	c.loadOwnerSets(loads, actor, actor.ID, &result.Hectares, &result.Emissions, &result.Tokens)
	result.Degraded = loads.wait()
	fillEmptyOwnerSets(result.Degraded, &result.Hectares, &result.Emissions, &result.Tokens)
	return result, nil
}

// Admin loads profiles, hectares, emissions and tokens concurrently and aggregates them.
func (c *Composer) Admin(ctx context.Context, actor model.Profile) (AdminDashboard, error) {
	if !actor.Acts(model.RoleAdmin) {
		return AdminDashboard{}, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	var (
		profiles     []model.Profile
		hectareRows  []model.Hectare
		emissionRows []model.Emission
		tokenRows    []model.Token
	)
	loads := c.newBatch(ctx, opAdmin)
	loads.run(SectionProfiles, func(ctx context.Context) (err error) {
		profiles, err = c.profiles.ListProfiles(ctx, actor)
		return err
	})
	loads.run(SectionHectares, func(ctx context.Context) (err error) {
		hectareRows, err = c.hectares.LoadAll(ctx, actor)
		return err
	})
	loads.run(SectionEmissions, func(ctx context.Context) (err error) {
		emissionRows, err = c.emissions.LoadAll(ctx, actor)
		return err
	})
	loads.run(SectionTokens, func(ctx context.Context) (err error) {
		tokenRows, err = c.tokens.LoadAll(ctx, actor)
		return err
	})
	degraded := loads.wait()
	return AdminDashboard{
		Summary:  aggregate.SummarizeAdmin(profiles, hectareRows, emissionRows, tokenRows),
		Degraded: degraded,
	}, nil
}

// OperatorDetails loads one operator's profile and record sets for an admin. An unknown
// operator is an error; any other failed set degrades.
func (c *Composer) OperatorDetails(ctx context.Context, actor model.Profile, operatorID string) (OperatorDetails, error) {
	if !actor.Acts(model.RoleAdmin) {
		return OperatorDetails{}, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	result := OperatorDetails{}
	var profileErr error
	loads := c.newBatch(ctx, opOperatorDetails)
	loads.run(SectionProfiles, func(ctx context.Context) error {
		result.Operator, profileErr = c.profiles.GetOperator(ctx, actor, operatorID)
		return profileErr
	})
	c.loadOwnerSets(loads, actor, operatorID, &result.Hectares, &result.Emissions, &result.Tokens)
	result.Degraded = loads.wait()
	if errors.Is(profileErr, apperrors.ErrNotFound) || apperrors.IsValidation(profileErr) {
		return OperatorDetails{}, profileErr
	}
	fillEmptyOwnerSets(result.Degraded, &result.Hectares, &result.Emissions, &result.Tokens)
	return result, nil
}

func (c *Composer) loadOwnerSets(loads *batch, actor model.Profile, ownerID string, hectareView *hectares.View, emissionView *emissions.View, tokenView *tokens.View) {
	loads.run(SectionHectares, func(ctx context.Context) (err error) {
		*hectareView, err = c.hectares.Load(ctx, actor, ownerID)
		return err
	})
	loads.run(SectionEmissions, func(ctx context.Context) (err error) {
		*emissionView, err = c.emissions.Load(ctx, actor, ownerID)
		return err
	})
	loads.run(SectionTokens, func(ctx context.Context) (err error) {
		*tokenView, err = c.tokens.Load(ctx, actor, ownerID)
		return err
	})
}

func fillEmptyOwnerSets(degraded []string, hectareView *hectares.View, emissionView *emissions.View, tokenView *tokens.View) {
	for _, section := range degraded {
		switch section {
		case SectionHectares:
			*hectareView = hectares.View{Hectares: []model.Hectare{}, Summary: aggregate.SummarizeHectares(nil)}
		case SectionEmissions:
			*emissionView = emissions.View{Emissions: []model.Emission{}, Summary: aggregate.SummarizeEmissions(nil)}
		case SectionTokens:
			*tokenView = tokens.View{Tokens: []model.Token{}, Summary: aggregate.SummarizeTokens(nil)}
		}
	}
}
