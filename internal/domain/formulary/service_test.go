package formulary

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/formulary/formulary/internal/platform/apperr"
	"github.com/formulary/formulary/internal/platform/db"
	"github.com/formulary/formulary/pkg/pagination"
)

// =========== Mock Repositories ===========

type mockEntryRepo struct {
	entries []FormularyEntry
	err     error
}

func newMockEntryRepo(entries ...FormularyEntry) *mockEntryRepo {
	return &mockEntryRepo{entries: entries}
}

func (m *mockEntryRepo) matches(id DrugIdentifier, e FormularyEntry) bool {
	if id.Kind == KindRxCUI {
		return e.RxCUI != nil && *e.RxCUI == id.RxCUI()
	}
	return e.NDC != nil && *e.NDC == id.Value
}

func (m *mockEntryRepo) FormularyByDrug(_ context.Context, id DrugIdentifier) ([]FormularyEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []FormularyEntry
	for _, e := range m.entries {
		if m.matches(id, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEntryRepo) DrugRequirements(_ context.Context, id DrugIdentifier, tiers []int) ([]TierRequirement, error) {
	want := make(map[int]bool)
	for _, t := range tiers {
		want[t] = true
	}
	var out []TierRequirement
	for _, e := range m.entries {
		if !m.matches(id, e) || e.TierLevel == nil || !want[*e.TierLevel] {
			continue
		}
		out = append(out, TierRequirement{
			Tier:               *e.TierLevel,
			FormularyID:        e.FormularyID,
			PriorAuthorization: e.PriorAuthorization,
			StepTherapy:        e.StepTherapy,
			QuantityLimit:      e.QuantityLimit,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].FormularyID < out[j].FormularyID
	})
	return out, nil
}

func (m *mockEntryRepo) SearchEntries(_ context.Context, f SearchFilter, p pagination.Params) ([]FormularyEntry, int, error) {
	var all []FormularyEntry
	for _, e := range m.entries {
		if f.Tier != nil && (e.TierLevel == nil || *e.TierLevel != *f.Tier) {
			continue
		}
		if f.StepTherapy != nil && e.StepTherapy != *f.StepTherapy {
			continue
		}
		all = append(all, e)
	}
	total := len(all)
	if p.Offset >= total {
		return nil, total, nil
	}
	end := min(p.Offset+p.Limit, total)
	return all[p.Offset:end], total, nil
}

func (m *mockEntryRepo) LookupForPlan(_ context.Context, id DrugIdentifier, planOrFormularyID, _ string) ([]PlanFormularyEntry, error) {
	var out []PlanFormularyEntry
	for _, e := range m.entries {
		if m.matches(id, e) && e.FormularyID == planOrFormularyID {
			out = append(out, PlanFormularyEntry{FormularyID: e.FormularyID, TierLevel: e.TierLevel, CoveredStatus: "Covered"})
		}
	}
	return out, nil
}

type mockPlanRepo struct {
	plans     []Plan
	lastLimit int
}

func newMockPlanRepo(plans ...Plan) *mockPlanRepo {
	return &mockPlanRepo{plans: plans}
}

func (m *mockPlanRepo) PlansByFormularies(_ context.Context, ids []string, limit int) ([]Plan, error) {
	m.lastLimit = limit
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []Plan
	for _, p := range m.plans {
		if want[p.FormularyID] {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type mockCoverageRepo struct {
	bands       map[PlanKey][]CostBand
	excluded    []ExcludedDrug
	indications []IndicationCoverage
	failFor     PlanKey
	err         error
	delay       time.Duration

	mu        sync.Mutex
	costCalls int
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newMockCoverageRepo() *mockCoverageRepo {
	return &mockCoverageRepo{bands: make(map[PlanKey][]CostBand)}
}

func (m *mockCoverageRepo) CostBands(ctx context.Context, plan PlanKey, tiers []int) ([]CostBand, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.costCalls++
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil && plan == m.failFor {
		return nil, m.err
	}
	want := make(map[int]bool)
	for _, t := range tiers {
		want[t] = true
	}
	var out []CostBand
	for _, b := range m.bands[plan] {
		if want[b.Tier] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockCoverageRepo) InsulinCostBands(context.Context, PlanKey, []int) ([]InsulinCostBand, error) {
	return nil, nil
}

func (m *mockCoverageRepo) ExcludedDrugs(_ context.Context, contractID, planID string, _ []int64) ([]ExcludedDrug, error) {
	var out []ExcludedDrug
	for _, d := range m.excluded {
		if d.ContractID == contractID && d.PlanID == planID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockCoverageRepo) IndicationCoverage(_ context.Context, contractID, planID string, _ []int64) ([]IndicationCoverage, error) {
	var out []IndicationCoverage
	for _, ic := range m.indications {
		if ic.ContractID == contractID && ic.PlanID == planID {
			out = append(out, ic)
		}
	}
	return out, nil
}

const testNDC = "00002-1234-01"

func ndcEntry(formularyID string, tier int) FormularyEntry {
	return FormularyEntry{FormularyID: formularyID, NDC: strPtr(testNDC), RxCUI: int64Ptr(861004), TierLevel: intPtr(tier)}
}

func ndcID() DrugIdentifier { return DrugIdentifier{Kind: KindNDC, Value: testNDC} }

// =========== Analyze Tests ===========

func TestAnalyze_SingleTierExample(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 3))
	plans := newMockPlanRepo(Plan{ContractID: "H1234", PlanID: "001", SegmentID: "0", FormularyID: "F1"})
	cov := newMockCoverageRepo()
	cov.bands[PlanKey{"H1234", "001", "0"}] = []CostBand{{Tier: 3, MinPreferred: dec("5"), MaxPreferred: dec("45")}}

	svc := NewService(entries, plans, cov, Options{})
	report, err := svc.Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(report.Plans))
	}
	tiers := report.Plans[0].Tiers
	if len(tiers) != 1 || tiers[0].Tier != 3 {
		t.Fatalf("expected a single tier 3 envelope, got %+v", tiers)
	}
	if !tiers[0].MinPatientCost.Decimal.Equal(dec("5").Decimal) || !tiers[0].MaxPatientCost.Decimal.Equal(dec("45").Decimal) {
		t.Errorf("expected 5..45, got %s..%s", tiers[0].MinPatientCost.Decimal, tiers[0].MaxPatientCost.Decimal)
	}
	if tiers[0].PriorAuthorizationRequired || tiers[0].StepTherapyRequired || tiers[0].QuantityLimit {
		t.Errorf("expected no restriction flags, got %+v", tiers[0])
	}
	if len(report.ImprovementCandidates) != 0 {
		t.Errorf("expected no improvement candidates, got %d", len(report.ImprovementCandidates))
	}
	if report.CandidatesCapped {
		t.Error("expected uncapped candidate set")
	}
	if plans.lastLimit != DefaultPlanCap+1 {
		t.Errorf("expected plan query limit %d, got %d", DefaultPlanCap+1, plans.lastLimit)
	}

	b, err := json.Marshal(report.ImprovementCandidates)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[]" {
		t.Errorf("expected empty JSON array, got %s", b)
	}
}

func TestAnalyze_NotFound(t *testing.T) {
	svc := NewService(newMockEntryRepo(ndcEntry("F1", 1)), newMockPlanRepo(), newMockCoverageRepo(), Options{})

	for _, id := range []DrugIdentifier{
		{Kind: KindNDC, Value: "99999-9999-99"},
		{Kind: KindRxCUI, Value: "42"},
	} {
		report, err := svc.Analyze(context.Background(), id)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("%s: expected not found, got %v", id, err)
		}
		if report != nil {
			t.Errorf("%s: expected nil report", id)
		}
	}
}

func TestAnalyze_ZeroIdentifier(t *testing.T) {
	svc := NewService(newMockEntryRepo(), newMockPlanRepo(), newMockCoverageRepo(), Options{})
	if _, err := svc.Analyze(context.Background(), DrugIdentifier{}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestAnalyze_PlanAcrossFormulariesAppearsOnce(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F2023", 2), ndcEntry("F2024", 2))
	plans := newMockPlanRepo(
		Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F2023"},
		Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F2024"},
		Plan{ContractID: "H1", PlanID: "002", SegmentID: "0", FormularyID: "F2024"},
	)
	svc := NewService(entries, plans, newMockCoverageRepo(), Options{})

	report, err := svc.Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[PlanKey]int)
	for _, p := range report.Plans {
		seen[p.Plan.Key()]++
	}
	if len(report.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(report.Plans))
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("plan %s appears %d times", k, n)
		}
	}
}

func TestAnalyze_NullTierExcluded(t *testing.T) {
	untiered := ndcEntry("F1", 0)
	untiered.TierLevel = nil
	entries := newMockEntryRepo(untiered, ndcEntry("F1", 4))
	plans := newMockPlanRepo(Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F1"})

	report, err := NewService(entries, plans, newMockCoverageRepo(), Options{}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Tiers) != 1 || report.Tiers[0] != 4 {
		t.Errorf("expected tiers [4], got %v", report.Tiers)
	}
	tiers := report.Plans[0].Tiers
	if len(tiers) != 1 || tiers[0].MinPatientCost.Valid || tiers[0].MaxPatientCost.Valid {
		t.Errorf("expected one null envelope, got %+v", tiers)
	}
}

func TestAnalyze_ImprovementCandidates(t *testing.T) {
	st := ndcEntry("F1", 2)
	st.StepTherapy = true
	pa := ndcEntry("F2", 3)
	pa.PriorAuthorization = true

	entries := newMockEntryRepo(st, pa)
	plans := newMockPlanRepo(
		Plan{ContractID: "H2", PlanID: "001", SegmentID: "0", FormularyID: "F2"},
		Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F1"},
	)
	report, err := NewService(entries, plans, newMockCoverageRepo(), Options{}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Requirement rows are per drug and tier, so every plan sees step therapy
	// on tier 2.
	if len(report.ImprovementCandidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(report.ImprovementCandidates))
	}
	if report.Plans[0].Plan.ContractID != "H1" {
		t.Errorf("expected plans sorted by key, got %s first", report.Plans[0].Plan.ContractID)
	}
	for _, p := range report.Plans {
		if !p.Tiers[0].StepTherapyRequired {
			t.Errorf("plan %s: expected step therapy on tier 2", p.Plan.Key())
		}
		if !p.Tiers[1].PriorAuthorizationRequired {
			t.Errorf("plan %s: expected prior auth on tier 3", p.Plan.Key())
		}
	}
}

func TestAnalyze_PriorAuthAloneIsNotABarrier(t *testing.T) {
	pa := ndcEntry("F1", 1)
	pa.PriorAuthorization = true
	plans := newMockPlanRepo(Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F1"})

	report, err := NewService(newMockEntryRepo(pa), plans, newMockCoverageRepo(), Options{}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.ImprovementCandidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(report.ImprovementCandidates))
	}
}

func TestAnalyze_PlanCap(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1))
	var all []Plan
	for _, id := range []string{"001", "002", "003", "004"} {
		all = append(all, Plan{ContractID: "H1", PlanID: id, SegmentID: "0", FormularyID: "F1"})
	}
	plans := newMockPlanRepo(all...)

	report, err := NewService(entries, plans, newMockCoverageRepo(), Options{PlanCap: 3}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.CandidatesCapped {
		t.Error("expected capped flag")
	}
	if len(report.Plans) != 3 || report.PlanCap != 3 {
		t.Errorf("expected 3 plans at cap 3, got %d (cap %d)", len(report.Plans), report.PlanCap)
	}

	report, err = NewService(entries, plans, newMockCoverageRepo(), Options{PlanCap: 4}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CandidatesCapped {
		t.Error("expected no capped flag when the cap equals the plan count")
	}
}

func TestAnalyze_SupplementaryEvidence(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1))
	plans := newMockPlanRepo(Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F1"})
	cov := newMockCoverageRepo()
	cov.excluded = []ExcludedDrug{{ContractID: "H1", PlanID: "001", RxCUI: int64Ptr(861004)}}
	cov.indications = []IndicationCoverage{{ContractID: "H1", PlanID: "001", RxCUI: 861004, Disease: "Psoriasis"}}

	report, err := NewService(entries, plans, cov, Options{}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := report.Plans[0]
	if len(p.ExcludedDrugs) != 1 || len(p.IndicationCoverage) != 1 || p.IndicationCoverage[0].Disease != "Psoriasis" {
		t.Errorf("expected supplementary rows passed through, got %+v", p)
	}
	if p.InsulinCostBands == nil {
		t.Error("expected non-nil insulin slice")
	}
}

func TestAnalyze_StoreFailureAbandonsReport(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1))
	plans := newMockPlanRepo(
		Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F1"},
		Plan{ContractID: "H1", PlanID: "002", SegmentID: "0", FormularyID: "F1"},
	)
	cov := newMockCoverageRepo()
	cov.failFor = PlanKey{"H1", "002", "0"}
	cov.err = db.Classify("cost bands", errors.New("connection reset"))

	report, err := NewService(entries, plans, cov, Options{}).Analyze(context.Background(), ndcID())
	if !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if report != nil {
		t.Error("expected no partial report")
	}
}

func TestAnalyze_EntryStoreFailure(t *testing.T) {
	entries := newMockEntryRepo()
	entries.err = db.Classify("formulary by drug", context.DeadlineExceeded)

	_, err := NewService(entries, newMockPlanRepo(), newMockCoverageRepo(), Options{}).Analyze(context.Background(), ndcID())
	if !errors.Is(err, db.ErrUnavailable) {
		t.Errorf("expected store unavailable, got %v", err)
	}
}

func TestAnalyze_BoundedConcurrency(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1))
	var all []Plan
	for i := 0; i < 12; i++ {
		all = append(all, Plan{ContractID: "H1", PlanID: string(rune('A' + i)), SegmentID: "0", FormularyID: "F1"})
	}
	cov := newMockCoverageRepo()
	cov.delay = 5 * time.Millisecond

	report, err := NewService(entries, newMockPlanRepo(all...), cov, Options{Concurrency: 3}).Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Plans) != 12 || cov.costCalls != 12 {
		t.Errorf("expected 12 plans and 12 cost queries, got %d and %d", len(report.Plans), cov.costCalls)
	}
	if got := cov.maxFlight.Load(); got > 3 {
		t.Errorf("expected at most 3 concurrent queries, saw %d", got)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1))
	plans := newMockPlanRepo(Plan{ContractID: "H1", PlanID: "001", SegmentID: "0", FormularyID: "F1"})
	cov := newMockCoverageRepo()
	cov.delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewService(entries, plans, cov, Options{}).Analyze(ctx, ndcID())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1), ndcEntry("F1", 2), ndcEntry("F2", 3))
	var all []Plan
	for _, c := range []string{"S9", "H3", "H1", "R2"} {
		all = append(all, Plan{ContractID: c, PlanID: "001", SegmentID: "0", FormularyID: "F1"})
		all = append(all, Plan{ContractID: c, PlanID: "002", SegmentID: "0", FormularyID: "F2"})
	}
	cov := newMockCoverageRepo()
	for _, p := range all {
		cov.bands[p.Key()] = []CostBand{
			{Tier: 1, MinPreferred: dec("1"), MaxPreferred: dec("10")},
			{Tier: 3, MinMailPreferred: dec("7.25"), MaxNonPreferred: dec("80")},
		}
	}
	svc := NewService(entries, newMockPlanRepo(all...), cov, Options{Concurrency: 4})

	first, err := svc.Analyze(context.Background(), ndcID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := json.Marshal(first)
	for i := 0; i < 5; i++ {
		again, err := svc.Analyze(context.Background(), ndcID())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := json.Marshal(again)
		if string(got) != string(want) {
			t.Fatalf("run %d differs:\n%s\n%s", i, got, want)
		}
	}

	for i := 1; i < len(first.Plans); i++ {
		if !first.Plans[i-1].Plan.Key().Less(first.Plans[i].Plan.Key()) {
			t.Errorf("plans out of order at %d", i)
		}
	}
}

// =========== Lookup / Search Tests ===========

func TestDrugEntries_NotFound(t *testing.T) {
	svc := NewService(newMockEntryRepo(), newMockPlanRepo(), newMockCoverageRepo(), Options{})
	if _, err := svc.DrugEntries(context.Background(), ndcID()); !errors.Is(err, ErrNoFormularyData) {
		t.Errorf("expected ErrNoFormularyData, got %v", err)
	}
}

func TestSearchEntries_RequiresFilter(t *testing.T) {
	svc := NewService(newMockEntryRepo(), newMockPlanRepo(), newMockCoverageRepo(), Options{})
	_, _, err := svc.SearchEntries(context.Background(), SearchFilter{}, pagination.Params{Limit: 10})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestSearchEntries_UnknownSort(t *testing.T) {
	svc := NewService(newMockEntryRepo(), newMockPlanRepo(), newMockCoverageRepo(), Options{})
	_, _, err := svc.SearchEntries(context.Background(), SearchFilter{Tier: intPtr(1), SortBy: "drop table"}, pagination.Params{Limit: 10})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
}

func TestSearchEntries_Paged(t *testing.T) {
	entries := newMockEntryRepo(ndcEntry("F1", 1), ndcEntry("F2", 1), ndcEntry("F3", 1), ndcEntry("F4", 2))
	svc := NewService(entries, newMockPlanRepo(), newMockCoverageRepo(), Options{})

	page, total, err := svc.SearchEntries(context.Background(), SearchFilter{Tier: intPtr(1)}, pagination.Params{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].FormularyID != "F3" {
		t.Errorf("unexpected page %+v (total %d)", page, total)
	}

	page, _, err = svc.SearchEntries(context.Background(), SearchFilter{Tier: intPtr(1)}, pagination.Params{Limit: 2, Offset: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page == nil {
		t.Error("expected empty non-nil page")
	}
}

func TestLookupForPlan(t *testing.T) {
	svc := NewService(newMockEntryRepo(ndcEntry("F1", 2)), newMockPlanRepo(), newMockCoverageRepo(), Options{})

	if _, err := svc.LookupForPlan(context.Background(), ndcID(), "", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid for missing plan, got %v", err)
	}
	if _, err := svc.LookupForPlan(context.Background(), ndcID(), "F9", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	out, err := svc.LookupForPlan(context.Background(), ndcID(), "F1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].CoveredStatus != "Covered" {
		t.Errorf("unexpected lookup result %+v", out)
	}
}
