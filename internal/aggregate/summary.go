package aggregate

import (
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/shopspring/decimal"
)

// HectareSummary holds the hectare view totals.
type HectareSummary struct {
	TotalSize   decimal.Decimal             `json:"total_size"`
	ByStatus    map[model.HectareStatus]int `json:"by_status"`
	ActiveCount int                         `json:"active_count"`
	Count       int                         `json:"count"`
}

// EmissionSummary holds the emission view totals. Amounts are kilograms unless named tonnes.
type EmissionSummary struct {
	TotalKg     decimal.Decimal                        `json:"total_kg"`
	TotalTonnes decimal.Decimal                        `json:"total_tonnes"`
	ByType      map[model.EmissionType]decimal.Decimal `json:"by_type"`
	Count       int                                    `json:"count"`
}

// TokenSummary holds the token view totals.
type TokenSummary struct {
	TotalAmount  decimal.Decimal `json:"total_amount"`
	TotalValue   decimal.Decimal `json:"total_value"`
	EarnedAmount decimal.Decimal `json:"earned_amount"`
	Count        int             `json:"count"`
}

// AdminSummary holds the cross-operator totals.
type AdminSummary struct {
	TotalOperators       int             `json:"total_operators"`
	ActiveOperators      int             `json:"active_operators"`
	TotalHectares        decimal.Decimal `json:"total_hectares"`
	TotalEmissionsKg     decimal.Decimal `json:"total_emissions_kg"`
	TotalEmissionsTonnes decimal.Decimal `json:"total_emissions_tonnes"`
	TotalTokens          decimal.Decimal `json:"total_tokens"`
}

func hectareSize(h model.Hectare) decimal.Decimal { return h.Size }
func hectareStatus(h model.Hectare) model.HectareStatus { return h.Status }
func emissionAmount(e model.Emission) decimal.Decimal { return e.EmissionAmount }
func emissionType(e model.Emission) model.EmissionType { return e.EmissionType }
func tokenAmount(t model.Token) decimal.Decimal { return t.Amount }
func tokenValue(t model.Token) decimal.Decimal { return t.Value }

// SummarizeHectares computes total size, the per-status count and the active count.
func SummarizeHectares(hectares []model.Hectare) HectareSummary {
	byStatus := GroupCount(hectares, model.HectareStatuses(), hectareStatus)
	return HectareSummary{
		TotalSize:   Sum(hectares, hectareSize),
		ByStatus:    byStatus,
		ActiveCount: byStatus[model.HectareStatusActive],
		Count:       len(hectares),
	}
}

// SummarizeEmissions computes the total in kilograms and tonnes and the per-type breakdown.
func SummarizeEmissions(emissions []model.Emission) EmissionSummary {
	total := Sum(emissions, emissionAmount)
	return EmissionSummary{
		TotalKg:     total,
		TotalTonnes: KilogramsToTonnes(total),
		ByType:      GroupSum(emissions, model.EmissionTypes(), emissionType, emissionAmount),
		Count:       len(emissions),
	}
}

// SummarizeTokens computes total amount, total value and the earned amount.
func SummarizeTokens(tokens []model.Token) TokenSummary {
	return TokenSummary{
		TotalAmount: Sum(tokens, tokenAmount),
		TotalValue:  Sum(tokens, tokenValue),
		EarnedAmount: SumWhere(tokens, func(t model.Token) bool {
			return t.TokenType == model.TokenTypeEarned
		}, tokenAmount),
		Count: len(tokens),
	}
}

// SummarizeAdmin computes cross-operator totals. Operator counts come from profiles while the
// record sums cover every loaded record, so a missing profile list leaves the sums intact.
func SummarizeAdmin(profiles []model.Profile, hectares []model.Hectare, emissions []model.Emission, tokens []model.Token) AdminSummary {
	operators, active := 0, 0
	for _, profile := range profiles {
		if profile.Role != model.RoleOperator {
			continue
		}
		operators++
		if profile.IsActive {
			active++
		}
	}
	emissionsKg := Sum(emissions, emissionAmount)
	return AdminSummary{
		TotalOperators:       operators,
		ActiveOperators:      active,
		TotalHectares:        Sum(hectares, hectareSize),
		TotalEmissionsKg:     emissionsKg,
		TotalEmissionsTonnes: KilogramsToTonnes(emissionsKg),
		TotalTokens:          Sum(tokens, tokenAmount),
	}
}
