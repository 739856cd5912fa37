package formulary

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/formulary/formulary/internal/platform/apperr"
	"github.com/formulary/formulary/pkg/pagination"
)

// ErrNoFormularyData is returned when no formulary lists the drug.
var ErrNoFormularyData = apperr.NotFoundf("no formulary data for drug")

// ErrFilterRequired is returned by SearchEntries when no filter is set.
var ErrFilterRequired = apperr.Invalidf("provide at least one filter: rxcui, ndc, tier, pa, st, or ql")

const DefaultPlanCap = 50

// Options tunes the analysis fan-out.
type Options struct {
	// PlanCap bounds how many distinct plans one analysis covers.
	PlanCap int
	// Concurrency bounds in-flight per-plan queries; 0 means PlanCap.
	Concurrency int
}

// Service answers coverage and cost questions for a drug.
type Service struct {
	entries  EntryRepository
	plans    PlanRepository
	coverage CoverageRepository
	opts     Options
}

func NewService(entries EntryRepository, plans PlanRepository, coverage CoverageRepository, opts Options) *Service {
	if opts.PlanCap <= 0 {
		opts.PlanCap = DefaultPlanCap
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = opts.PlanCap
	}
	return &Service{entries: entries, plans: plans, coverage: coverage, opts: opts}
}

// Analyze resolves every formulary entry and plan for the drug, computes the
// per-tier cost envelope of each plan and flags plans with access barriers.
// Any store failure abandons the whole analysis.
func (s *Service) Analyze(ctx context.Context, id DrugIdentifier) (*AnalysisReport, error) {
	if id.IsZero() {
		return nil, apperr.Invalidf("drug identifier is required")
	}

	entries, err := s.entries.FormularyByDrug(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, ErrNoFormularyData
	}

	tiers := tierSet(entries)

	candidates, err := s.plans.PlansByFormularies(ctx, formularyIDs(entries), s.opts.PlanCap+1)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", id, err)
	}
	capped := len(candidates) > s.opts.PlanCap
	if capped {
		candidates = candidates[:s.opts.PlanCap]
	}
	plans := dedupPlans(candidates)

	var reqs []TierRequirement
	if len(tiers) > 0 {
		reqs, err = s.entries.DrugRequirements(ctx, id, tiers)
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", id, err)
		}
	}
	rxcuis := drugRxCUIs(id, entries)

	zerolog.Ctx(ctx).Debug().
		Str("drug", id.String()).
		Int("entries", len(entries)).
		Ints("tiers", tiers).
		Int("plans", len(plans)).
		Bool("capped", capped).
		Msg("analyze fan-out")

	reports := make([]PlanReport, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			r, err := s.planReport(gctx, p, tiers, reqs, rxcuis)
			if err != nil {
				return fmt.Errorf("plan %s: %w", p.Key(), err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", id, err)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Plan.Key().Less(reports[j].Plan.Key())
	})

	candidatesOut := []PlanReport{}
	for _, r := range reports {
		if r.ImprovementCandidate {
			candidatesOut = append(candidatesOut, r)
		}
	}

	return &AnalysisReport{
		Drug:                  id,
		Tiers:                 tiers,
		DrugFormularyEntries:  entries,
		Plans:                 reports,
		ImprovementCandidates: candidatesOut,
		PlanCap:               s.opts.PlanCap,
		CandidatesCapped:      capped,
	}, nil
}

func (s *Service) planReport(ctx context.Context, p Plan, tiers []int, reqs []TierRequirement, rxcuis []int64) (PlanReport, error) {
	r := PlanReport{
		Plan:               p,
		ExcludedDrugs:      []ExcludedDrug{},
		IndicationCoverage: []IndicationCoverage{},
		InsulinCostBands:   []InsulinCostBand{},
	}

	var bands []CostBand
	if len(tiers) > 0 {
		var err error
		if bands, err = s.coverage.CostBands(ctx, p.Key(), tiers); err != nil {
			return r, err
		}
		insulin, err := s.coverage.InsulinCostBands(ctx, p.Key(), tiers)
		if err != nil {
			return r, err
		}
		r.InsulinCostBands = append(r.InsulinCostBands, insulin...)
	}

	if len(rxcuis) > 0 {
		excluded, err := s.coverage.ExcludedDrugs(ctx, p.ContractID, p.PlanID, rxcuis)
		if err != nil {
			return r, err
		}
		r.ExcludedDrugs = append(r.ExcludedDrugs, excluded...)

		indications, err := s.coverage.IndicationCoverage(ctx, p.ContractID, p.PlanID, rxcuis)
		if err != nil {
			return r, err
		}
		r.IndicationCoverage = append(r.IndicationCoverage, indications...)
	}

	r.Tiers = buildEnvelopes(tiers, bands, requirementsFor(p, reqs))
	r.ImprovementCandidate = hasAccessBarrier(r.Tiers)
	return r, nil
}

// DrugEntries returns the formulary rows listing the drug.
func (s *Service) DrugEntries(ctx context.Context, id DrugIdentifier) ([]FormularyEntry, error) {
	entries, err := s.entries.FormularyByDrug(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("drug entries %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, ErrNoFormularyData
	}
	return entries, nil
}

// SearchEntries pages through formulary rows matching f.
func (s *Service) SearchEntries(ctx context.Context, f SearchFilter, p pagination.Params) ([]FormularyEntry, int, error) {
	if f.empty() {
		return nil, 0, ErrFilterRequired
	}
	if f.SortBy == "" {
		f.SortBy = SortTierLevel
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		return nil, 0, apperr.Invalidf("unsupported sort_by %q", f.SortBy)
	}
	entries, total, err := s.entries.SearchEntries(ctx, f, p)
	if err != nil {
		return nil, 0, fmt.Errorf("search entries: %w", err)
	}
	if entries == nil {
		entries = []FormularyEntry{}
	}
	return entries, total, nil
}

// LookupForPlan returns the drug's formulary rows for one plan. The plan may
// be given by plan id or formulary id and optionally narrowed by contract.
func (s *Service) LookupForPlan(ctx context.Context, id DrugIdentifier, planOrFormularyID, contractID string) ([]PlanFormularyEntry, error) {
	if planOrFormularyID == "" {
		return nil, apperr.Invalidf("plan_id is required")
	}
	out, err := s.entries.LookupForPlan(ctx, id, planOrFormularyID, contractID)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in plan %s: %w", id, planOrFormularyID, err)
	}
	if len(out) == 0 {
		return nil, ErrNoFormularyData
	}
	return out, nil
}
