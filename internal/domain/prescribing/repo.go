package prescribing

import (
	"context"

	"github.com/formulary/formulary/pkg/pagination"
)

// Repository reads prescribers_by_geography_drug.
type Repository interface {
	// EachFillRecord streams the rows of one year, or of all years when
	// year is nil. A non-nil error from fn stops the scan and is returned.
	EachFillRecord(ctx context.Context, year *int, fn func(FillRecord) error) error
	Years(ctx context.Context) ([]int, error)
	NationalTotals(ctx context.Context) ([]NationalTotal, error)
	Trends(ctx context.Context, year int, p pagination.Params) ([]DrugStat, int, error)
	SearchDrug(ctx context.Context, sp SearchParams) ([]DrugStat, error)
	GeoDetail(ctx context.Context, year int, drug string) ([]DrugStat, error)
	RegionDetail(ctx context.Context, rp RegionParams, p pagination.Params) ([]DrugStat, int, error)
	DrugNames(ctx context.Context, term string, limit int) ([]DrugNamePair, error)
}
