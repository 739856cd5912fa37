package prescribing

import "github.com/shopspring/decimal"

// MinFillVolume is the smallest summed fill count a region/drug group needs
// to be ranked.
const MinFillVolume = 10

// FillRecord is the slice of one prescribers_by_geography_drug row the
// ranking needs.
type FillRecord struct {
	Region      string
	BrandName   string
	GenericName string
	Fills       decimal.Decimal
	Cost        decimal.Decimal
}

// DrugName is the brand name, or the generic name when the brand is empty.
func (r FillRecord) DrugName() string {
	if r.BrandName != "" {
		return r.BrandName
	}
	return r.GenericName
}

// UnderperformingDrug is one ranked region/drug group.
type UnderperformingDrug struct {
	Region         string          `json:"region"`
	Drug           string          `json:"drug"`
	TotalFills     decimal.Decimal `json:"totalFills"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	AvgCostPerFill decimal.Decimal `json:"avgCostPerFill"`
}

// RankParams filters and truncates a ranking. Nil fields are unbounded.
type RankParams struct {
	Year  *int
	Limit *int
}

// DrugStat is a per-row view of the prescribing dataset. Geography fields
// are only set by queries that span regions.
type DrugStat struct {
	DrugName           string              `json:"drugName"`
	Year               int                 `json:"year"`
	TotalPrescribers   *int                `json:"totalPrescribers"`
	TotalClaims        *int                `json:"totalClaims"`
	Total30DayFills    decimal.NullDecimal `json:"total30DayFills"`
	TotalDrugCost      decimal.NullDecimal `json:"totalDrugCost"`
	TotalBeneficiaries *int                `json:"totalBeneficiaries"`
	GeoLevel           *string             `json:"geoLevel,omitempty"`
	GeoCode            *string             `json:"geoCode,omitempty"`
	GeoDescription     *string             `json:"geoDescription,omitempty"`
}

// NationalTotal sums the dataset for one year.
type NationalTotal struct {
	Year               int                 `json:"year"`
	TotalPrescribers   decimal.NullDecimal `json:"totalPrescribers"`
	TotalClaims        decimal.NullDecimal `json:"totalClaims"`
	Total30DayFills    decimal.NullDecimal `json:"total30DayFills"`
	TotalDrugCost      decimal.NullDecimal `json:"totalDrugCost"`
	TotalBeneficiaries decimal.NullDecimal `json:"totalBeneficiaries"`
}

// DrugNamePair is a distinct brand/generic combination.
type DrugNamePair struct {
	BrandName   *string `json:"brandName"`
	GenericName *string `json:"genericName"`
}

// SearchParams narrows SearchDrug to an inclusive year range.
type SearchParams struct {
	Term      string
	StartYear *int
	EndYear   *int
}

// RegionParams selects one geography for RegionDetail.
type RegionParams struct {
	Level  string
	Region string
	Year   *int
}
