package formulary

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/formulary/formulary/internal/platform/apperr"
)

// IDKind names the coding system of a DrugIdentifier.
type IDKind string

const (
	KindNDC   IDKind = "ndc"
	KindRxCUI IDKind = "rxcui"
)

// DrugIdentifier is a validated national drug code or RxNorm concept id.
type DrugIdentifier struct {
	Kind  IDKind `json:"kind"`
	Value string `json:"value"`
}

// ParseDrugIdentifier validates a raw identifier: an NDC must be non-empty,
// an RxCUI must be a positive integer.
func ParseDrugIdentifier(kind IDKind, value string) (DrugIdentifier, error) {
	value = strings.TrimSpace(value)
	switch IDKind(strings.ToLower(string(kind))) {
	case KindNDC:
		if value == "" {
			return DrugIdentifier{}, apperr.Invalidf("ndc must not be empty")
		}
		return DrugIdentifier{Kind: KindNDC, Value: value}, nil
	case KindRxCUI:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return DrugIdentifier{}, apperr.Invalidf("rxcui must be a positive integer, got %q", value)
		}
		return DrugIdentifier{Kind: KindRxCUI, Value: strconv.FormatInt(n, 10)}, nil
	default:
		return DrugIdentifier{}, apperr.Invalidf("id type must be 'rxcui' or 'ndc', got %q", kind)
	}
}

// RxCUI returns the concept id; it is zero for NDC identifiers.
func (d DrugIdentifier) RxCUI() int64 {
	if d.Kind != KindRxCUI {
		return 0
	}
	n, _ := strconv.ParseInt(d.Value, 10, 64)
	return n
}

func (d DrugIdentifier) IsZero() bool { return d.Kind == "" }

func (d DrugIdentifier) String() string {
	return fmt.Sprintf("%s:%s", d.Kind, d.Value)
}

// FormularyEntry is one basic_drugs_formulary row. Tier is nil when the
// source row carries no tier.
type FormularyEntry struct {
	FormularyID         string              `json:"formularyId"`
	FormularyVersion    *int                `json:"formularyVersion"`
	ContractYear        *int                `json:"contractYear"`
	RxCUI               *int64              `json:"rxcui"`
	NDC                 *string             `json:"ndc"`
	TierLevel           *int                `json:"tierLevel"`
	PriorAuthorization  bool                `json:"priorAuthorizationRequired"`
	StepTherapy         bool                `json:"stepTherapyRequired"`
	QuantityLimit       bool                `json:"quantityLimit"`
	QuantityLimitAmount decimal.NullDecimal `json:"quantityLimitAmount"`
	QuantityLimitDays   *int                `json:"quantityLimitDays"`
}

// PlanKey is the identity of a plan across formularies.
type PlanKey struct {
	ContractID string
	PlanID     string
	SegmentID  string
}

func (k PlanKey) String() string {
	return k.ContractID + "_" + k.PlanID + "_" + k.SegmentID
}

// Less orders keys by contract, plan, then segment.
func (k PlanKey) Less(o PlanKey) bool {
	if k.ContractID != o.ContractID {
		return k.ContractID < o.ContractID
	}
	if k.PlanID != o.PlanID {
		return k.PlanID < o.PlanID
	}
	return k.SegmentID < o.SegmentID
}

// Plan is a plan_info row. RegionCode is the MA region, falling back to the
// PDP region for stand-alone drug plans.
type Plan struct {
	ContractID         string              `json:"contractId"`
	PlanID             string              `json:"planId"`
	SegmentID          string              `json:"segmentId"`
	ContractName       string              `json:"contractName"`
	PlanName           string              `json:"planName"`
	FormularyID        string              `json:"formularyId"`
	Premium            decimal.NullDecimal `json:"premium"`
	Deductible         *int                `json:"deductible"`
	RegionCode         string              `json:"regionCode"`
	State              *string             `json:"state"`
	CountyCode         *string             `json:"countyCode"`
	IsSpecialNeedsPlan bool                `json:"isSpecialNeedsPlan"`
}

func (p Plan) Key() PlanKey {
	return PlanKey{ContractID: p.ContractID, PlanID: p.PlanID, SegmentID: p.SegmentID}
}

// CostBand is one beneficiary_cost row for a plan and tier. Rows for the
// same tier differ by days supply and coverage level.
type CostBand struct {
	Tier                int                 `json:"tier"`
	DaysSupply          *int                `json:"daysSupply"`
	MinPreferred        decimal.NullDecimal `json:"costMinPreferred"`
	MaxPreferred        decimal.NullDecimal `json:"costMaxPreferred"`
	MinNonPreferred     decimal.NullDecimal `json:"costMinNonPreferred"`
	MaxNonPreferred     decimal.NullDecimal `json:"costMaxNonPreferred"`
	MinMailPreferred    decimal.NullDecimal `json:"costMinMailPreferred"`
	MaxMailPreferred    decimal.NullDecimal `json:"costMaxMailPreferred"`
	MinMailNonPreferred decimal.NullDecimal `json:"costMinMailNonPreferred"`
	MaxMailNonPreferred decimal.NullDecimal `json:"costMaxMailNonPreferred"`
}

func (b CostBand) minimums() [4]decimal.NullDecimal {
	return [4]decimal.NullDecimal{b.MinPreferred, b.MinNonPreferred, b.MinMailPreferred, b.MinMailNonPreferred}
}

func (b CostBand) maximums() [4]decimal.NullDecimal {
	return [4]decimal.NullDecimal{b.MaxPreferred, b.MaxNonPreferred, b.MaxMailPreferred, b.MaxMailNonPreferred}
}

// TierRequirement holds the access restrictions one formulary places on the
// analyzed drug at a tier.
type TierRequirement struct {
	Tier               int
	FormularyID        string
	PriorAuthorization bool
	StepTherapy        bool
	QuantityLimit      bool
}

// ExcludedDrug is an excluded_drugs_formulary row.
type ExcludedDrug struct {
	ContractID          string              `json:"contractId"`
	PlanID              string              `json:"planId"`
	RxCUI               *int64              `json:"rxcui"`
	Tier                *int                `json:"tier"`
	QuantityLimit       bool                `json:"quantityLimit"`
	QuantityLimitAmount decimal.NullDecimal `json:"quantityLimitAmount"`
	QuantityLimitDays   *int                `json:"quantityLimitDays"`
	PriorAuthorization  bool                `json:"priorAuthorizationRequired"`
	StepTherapy         bool                `json:"stepTherapyRequired"`
	CappedBenefit       bool                `json:"cappedBenefit"`
}

// IndicationCoverage is an indication_based_coverage_formulary row.
type IndicationCoverage struct {
	ContractID string `json:"contractId"`
	PlanID     string `json:"planId"`
	RxCUI      int64  `json:"rxcui"`
	Disease    string `json:"disease"`
}

// InsulinCostBand is an insulin_beneficiary_cost row. The source stores the
// tier as text.
type InsulinCostBand struct {
	Tier                  string              `json:"tier"`
	DaysSupply            int                 `json:"daysSupply"`
	CopayPreferred        decimal.NullDecimal `json:"copayPreferred"`
	CopayNonPreferred     decimal.NullDecimal `json:"copayNonPreferred"`
	CopayMailPreferred    decimal.NullDecimal `json:"copayMailPreferred"`
	CopayMailNonPreferred decimal.NullDecimal `json:"copayMailNonPreferred"`
}

// TierEnvelope is the patient cost range and restriction flags for one tier
// of one plan. A nil bound means no cost data exists for the tier.
type TierEnvelope struct {
	Tier                       int                 `json:"tier"`
	MinPatientCost             decimal.NullDecimal `json:"minPatientCost"`
	MaxPatientCost             decimal.NullDecimal `json:"maxPatientCost"`
	PriorAuthorizationRequired bool                `json:"priorAuthorizationRequired"`
	StepTherapyRequired        bool                `json:"stepTherapyRequired"`
	QuantityLimit              bool                `json:"quantityLimit"`
}

// PlanReport is the per-plan section of an AnalysisReport.
type PlanReport struct {
	Plan                 Plan                 `json:"plan"`
	Tiers                []TierEnvelope       `json:"tiers"`
	ImprovementCandidate bool                 `json:"improvementCandidate"`
	ExcludedDrugs        []ExcludedDrug       `json:"excludedDrugs"`
	IndicationCoverage   []IndicationCoverage `json:"indicationCoverage"`
	InsulinCostBands     []InsulinCostBand    `json:"insulinCostBands"`
}

// AnalysisReport is the result of Service.Analyze. Plans are sorted by plan
// key and tiers ascending, so equal inputs give byte-identical JSON.
type AnalysisReport struct {
	Drug                  DrugIdentifier   `json:"drug"`
	Tiers                 []int            `json:"tiers"`
	DrugFormularyEntries  []FormularyEntry `json:"drugFormularyEntries"`
	Plans                 []PlanReport     `json:"plans"`
	ImprovementCandidates []PlanReport     `json:"improvementCandidates"`
	PlanCap               int              `json:"planCap"`
	CandidatesCapped      bool             `json:"candidatesCapped"`
}

// SearchFilter narrows SearchEntries. At least one filter field must be set.
type SearchFilter struct {
	RxCUI              *int64
	NDC                string
	Tier               *int
	PriorAuthorization *bool
	StepTherapy        *bool
	QuantityLimit      *bool

	SortBy   string
	SortDesc bool
}

func (f SearchFilter) empty() bool {
	return f.RxCUI == nil && f.NDC == "" && f.Tier == nil &&
		f.PriorAuthorization == nil && f.StepTherapy == nil && f.QuantityLimit == nil
}

// Sort keys accepted by SearchEntries.
const (
	SortFormularyID   = "formularyId"
	SortTierLevel     = "tierLevel"
	SortPriorAuth     = "paRequired"
	SortStepTherapy   = "stepTherapyRequired"
	SortQuantityLimit = "quantityLimit"
)

// PlanFormularyEntry is a formulary row joined with the plan that uses it.
type PlanFormularyEntry struct {
	FormularyID        string  `json:"formularyId"`
	RxCUI              *int64  `json:"rxcui"`
	NDC                *string `json:"ndc"`
	ContractID         string  `json:"contractId"`
	PlanID             string  `json:"planId"`
	PlanName           string  `json:"planName"`
	TierLevel          *int    `json:"tierLevel"`
	PriorAuthorization bool    `json:"paRequired"`
	StepTherapy        bool    `json:"stepTherapyRequired"`
	QuantityLimit      bool    `json:"quantityLimit"`
	CoveredStatus      string  `json:"coveredStatus"`
}
