package prescribing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/formulary/formulary/internal/platform/apperr"
	"github.com/formulary/formulary/pkg/pagination"
)

// ErrNoPrescribingData is returned when the ranking query yields no rows.
var ErrNoPrescribingData = apperr.NotFoundf("no prescribing data")

// Service answers questions over the regional prescribing dataset.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RankUnderperforming groups prescribing rows by region and drug and ranks
// the groups by average cost per fill.
func (s *Service) RankUnderperforming(ctx context.Context, p RankParams) ([]UnderperformingDrug, error) {
	if p.Limit != nil && *p.Limit <= 0 {
		return nil, apperr.Invalidf("limit must be a positive integer")
	}

	r := newRanker()
	if err := s.repo.EachFillRecord(ctx, p.Year, func(rec FillRecord) error {
		r.add(rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("rank underperforming: %w", err)
	}
	if r.records == 0 {
		if p.Year != nil {
			return nil, apperr.NotFoundf("no prescribing data for year %d", *p.Year)
		}
		return nil, ErrNoPrescribingData
	}

	out := r.ranked()
	if p.Limit != nil && len(out) > *p.Limit {
		out = out[:*p.Limit]
	}

	zerolog.Ctx(ctx).Debug().
		Int("records", r.records).
		Int("groups", len(r.groups)).
		Int("ranked", len(out)).
		Msg("rank underperforming")
	return out, nil
}

func (s *Service) Years(ctx context.Context) ([]int, error) {
	years, err := s.repo.Years(ctx)
	if err != nil {
		return nil, fmt.Errorf("years: %w", err)
	}
	if years == nil {
		years = []int{}
	}
	return years, nil
}

func (s *Service) NationalTotals(ctx context.Context) ([]NationalTotal, error) {
	totals, err := s.repo.NationalTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("national totals: %w", err)
	}
	if totals == nil {
		totals = []NationalTotal{}
	}
	return totals, nil
}

// Trends pages through one year's rows, most claims first.
func (s *Service) Trends(ctx context.Context, year int, p pagination.Params) ([]DrugStat, int, error) {
	out, total, err := s.repo.Trends(ctx, year, p)
	if err != nil {
		return nil, 0, fmt.Errorf("trends %d: %w", year, err)
	}
	return nonNil(out), total, nil
}

// SearchDrug matches term against brand and generic names across years.
func (s *Service) SearchDrug(ctx context.Context, sp SearchParams) ([]DrugStat, error) {
	if sp.Term == "" {
		return nil, apperr.Invalidf("drug search term is required")
	}
	if sp.StartYear != nil && sp.EndYear != nil && *sp.StartYear > *sp.EndYear {
		return nil, apperr.Invalidf("startYear %d is after endYear %d", *sp.StartYear, *sp.EndYear)
	}
	out, err := s.repo.SearchDrug(ctx, sp)
	if err != nil {
		return nil, fmt.Errorf("search drug %q: %w", sp.Term, err)
	}
	return nonNil(out), nil
}

// GeoDetail lists one year's rows by geography, optionally for one drug.
func (s *Service) GeoDetail(ctx context.Context, year int, drug string) ([]DrugStat, error) {
	out, err := s.repo.GeoDetail(ctx, year, drug)
	if err != nil {
		return nil, fmt.Errorf("geo detail %d: %w", year, err)
	}
	return nonNil(out), nil
}

func (s *Service) RegionDetail(ctx context.Context, rp RegionParams, p pagination.Params) ([]DrugStat, int, error) {
	if rp.Level == "" || rp.Region == "" {
		return nil, 0, apperr.Invalidf("level and region are required")
	}
	out, total, err := s.repo.RegionDetail(ctx, rp, p)
	if err != nil {
		return nil, 0, fmt.Errorf("region detail %s/%s: %w", rp.Level, rp.Region, err)
	}
	return nonNil(out), total, nil
}

func nonNil(s []DrugStat) []DrugStat {
	if s == nil {
		return []DrugStat{}
	}
	return s
}
