package formulary

import (
	"context"

	"github.com/formulary/formulary/pkg/pagination"
)

// EntryRepository reads basic_drugs_formulary.
type EntryRepository interface {
	FormularyByDrug(ctx context.Context, id DrugIdentifier) ([]FormularyEntry, error)
	// DrugRequirements returns restriction rows for the drug at the given
	// tiers, ordered by tier, formulary id, then newest formulary version.
	DrugRequirements(ctx context.Context, id DrugIdentifier, tiers []int) ([]TierRequirement, error)
	SearchEntries(ctx context.Context, f SearchFilter, p pagination.Params) ([]FormularyEntry, int, error)
	LookupForPlan(ctx context.Context, id DrugIdentifier, planOrFormularyID, contractID string) ([]PlanFormularyEntry, error)
}

// PlanRepository reads plan_info.
type PlanRepository interface {
	// PlansByFormularies returns at most limit distinct plans, ordered by
	// plan key.
	PlansByFormularies(ctx context.Context, formularyIDs []string, limit int) ([]Plan, error)
}

// CoverageRepository reads the per-plan cost and restriction tables.
type CoverageRepository interface {
	CostBands(ctx context.Context, plan PlanKey, tiers []int) ([]CostBand, error)
	InsulinCostBands(ctx context.Context, plan PlanKey, tiers []int) ([]InsulinCostBand, error)
	ExcludedDrugs(ctx context.Context, contractID, planID string, rxcuis []int64) ([]ExcludedDrug, error)
	IndicationCoverage(ctx context.Context, contractID, planID string, rxcuis []int64) ([]IndicationCoverage, error)
}
