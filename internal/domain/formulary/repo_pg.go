package formulary

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formulary/formulary/internal/platform/db"
	"github.com/formulary/formulary/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// =========== Formulary entries ===========

const entryColumns = `bf.formulary_id, bf.formulary_version, bf.contract_year, bf.rxcui, bf.ndc, bf.tier_level_value,
	COALESCE(bf.prior_authorization_yn = 'Y', false), COALESCE(bf.step_therapy_yn = 'Y', false),
	COALESCE(bf.quantity_limit_yn = 'Y', false), bf.quantity_limit_amount, bf.quantity_limit_days`

func scanEntry(row pgx.CollectableRow) (FormularyEntry, error) {
	var e FormularyEntry
	err := row.Scan(&e.FormularyID, &e.FormularyVersion, &e.ContractYear, &e.RxCUI, &e.NDC, &e.TierLevel,
		&e.PriorAuthorization, &e.StepTherapy, &e.QuantityLimit, &e.QuantityLimitAmount, &e.QuantityLimitDays)
	return e, err
}

// drugPredicate matches the identifier against its column, binding $n.
func drugPredicate(id DrugIdentifier, n int) (string, any) {
	if id.Kind == KindRxCUI {
		return "bf.rxcui = $" + strconv.Itoa(n), id.RxCUI()
	}
	return "bf.ndc = $" + strconv.Itoa(n), id.Value
}

type entryRepoPG struct{ pool queryable }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository { return &entryRepoPG{pool: pool} }

func (r *entryRepoPG) FormularyByDrug(ctx context.Context, id DrugIdentifier) ([]FormularyEntry, error) {
	pred, arg := drugPredicate(id, 1)
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+`
		FROM basic_drugs_formulary bf
		WHERE `+pred+`
		ORDER BY bf.formulary_id, bf.contract_year, bf.formulary_version, bf.tier_level_value, bf.ndc`, arg)
	if err != nil {
		return nil, db.Classify("formulary by drug", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, db.Classify("formulary by drug", err)
	}
	return entries, nil
}

func (r *entryRepoPG) DrugRequirements(ctx context.Context, id DrugIdentifier, tiers []int) ([]TierRequirement, error) {
	pred, arg := drugPredicate(id, 1)
	rows, err := r.pool.Query(ctx, `SELECT bf.tier_level_value, bf.formulary_id,
			COALESCE(bf.prior_authorization_yn = 'Y', false), COALESCE(bf.step_therapy_yn = 'Y', false),
			COALESCE(bf.quantity_limit_yn = 'Y', false)
		FROM basic_drugs_formulary bf
		WHERE `+pred+` AND bf.tier_level_value = ANY($2)
		ORDER BY bf.tier_level_value, bf.formulary_id, bf.formulary_version DESC NULLS LAST`, arg, tiers)
	if err != nil {
		return nil, db.Classify("drug requirements", err)
	}
	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TierRequirement, error) {
		var t TierRequirement
		err := row.Scan(&t.Tier, &t.FormularyID, &t.PriorAuthorization, &t.StepTherapy, &t.QuantityLimit)
		return t, err
	})
	if err != nil {
		return nil, db.Classify("drug requirements", err)
	}
	return reqs, nil
}

var sortColumns = map[string]string{
	SortFormularyID:   "bf.formulary_id",
	SortTierLevel:     "bf.tier_level_value",
	SortPriorAuth:     "bf.prior_authorization_yn",
	SortStepTherapy:   "bf.step_therapy_yn",
	SortQuantityLimit: "bf.quantity_limit_yn",
}

func ynFlag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// searchWhere builds the WHERE clause and arguments for a SearchFilter.
func searchWhere(f SearchFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.RxCUI != nil {
		add("bf.rxcui", *f.RxCUI)
	}
	if f.NDC != "" {
		add("bf.ndc", f.NDC)
	}
	if f.Tier != nil {
		add("bf.tier_level_value", *f.Tier)
	}
	if f.PriorAuthorization != nil {
		add("bf.prior_authorization_yn", ynFlag(*f.PriorAuthorization))
	}
	if f.StepTherapy != nil {
		add("bf.step_therapy_yn", ynFlag(*f.StepTherapy))
	}
	if f.QuantityLimit != nil {
		add("bf.quantity_limit_yn", ynFlag(*f.QuantityLimit))
	}
	return strings.Join(clauses, " AND "), args
}

func searchOrder(f SearchFilter) string {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = sortColumns[SortTierLevel]
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	return col + " " + dir + ", bf.ndc ASC, bf.formulary_id ASC"
}

func (r *entryRepoPG) SearchEntries(ctx context.Context, f SearchFilter, p pagination.Params) ([]FormularyEntry, int, error) {
	where, args := searchWhere(f)
	args = append(args, p.Limit, p.Offset)
	sql := fmt.Sprintf(`SELECT %s, COUNT(*) OVER()
		FROM basic_drugs_formulary bf
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, entryColumns, where, searchOrder(f), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, db.Classify("formulary search", err)
	}
	defer rows.Close()

	var (
		out   []FormularyEntry
		total int
	)
	for rows.Next() {
		var e FormularyEntry
		if err := rows.Scan(&e.FormularyID, &e.FormularyVersion, &e.ContractYear, &e.RxCUI, &e.NDC, &e.TierLevel,
			&e.PriorAuthorization, &e.StepTherapy, &e.QuantityLimit, &e.QuantityLimitAmount, &e.QuantityLimitDays,
			&total); err != nil {
			return nil, 0, db.Classify("formulary search", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify("formulary search", err)
	}
	return out, total, nil
}

func (r *entryRepoPG) LookupForPlan(ctx context.Context, id DrugIdentifier, planOrFormularyID, contractID string) ([]PlanFormularyEntry, error) {
	pred, arg := drugPredicate(id, 1)
	args := []any{arg, planOrFormularyID}
	sql := `SELECT DISTINCT bf.formulary_id, bf.rxcui, bf.ndc, pi.contract_id, COALESCE(pi.plan_id, ''), COALESCE(pi.plan_name, ''),
			bf.tier_level_value, COALESCE(bf.prior_authorization_yn = 'Y', false),
			COALESCE(bf.step_therapy_yn = 'Y', false), COALESCE(bf.quantity_limit_yn = 'Y', false)
		FROM basic_drugs_formulary bf
		JOIN plan_info pi ON pi.formulary_id = bf.formulary_id
		WHERE ` + pred + ` AND (pi.plan_id = $2 OR pi.formulary_id = $2)`
	if contractID != "" {
		args = append(args, contractID)
		sql += ` AND pi.contract_id = $3`
	}
	// plan_info has one row per county; DISTINCT collapses them.
	sql += ` ORDER BY bf.tier_level_value ASC, bf.ndc ASC, pi.contract_id ASC, 5 ASC`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("formulary lookup", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PlanFormularyEntry, error) {
		var e PlanFormularyEntry
		err := row.Scan(&e.FormularyID, &e.RxCUI, &e.NDC, &e.ContractID, &e.PlanID, &e.PlanName,
			&e.TierLevel, &e.PriorAuthorization, &e.StepTherapy, &e.QuantityLimit)
		e.CoveredStatus = "Covered"
		return e, err
	})
	if err != nil {
		return nil, db.Classify("formulary lookup", err)
	}
	return out, nil
}

// =========== Plans ===========

type planRepoPG struct{ pool queryable }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

// plan_info repeats a plan once per county it serves, so rows are collapsed
// per key before the limit applies.
func (r *planRepoPG) PlansByFormularies(ctx context.Context, formularyIDs []string, limit int) ([]Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (contract_id, plan_id, segment_id)
			contract_id, COALESCE(plan_id, ''), COALESCE(segment_id, ''),
			COALESCE(contract_name, ''), COALESCE(plan_name, ''), COALESCE(formulary_id, ''),
			premium, deductible, COALESCE(ma_region_code, pdp_region_code, ''),
			state, county_code, COALESCE(snp, 0) > 0
		FROM plan_info
		WHERE formulary_id = ANY($1)
		ORDER BY contract_id, plan_id, segment_id, formulary_id, state, county_code
		LIMIT $2`, formularyIDs, limit)
	if err != nil {
		return nil, db.Classify("plans by formularies", err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Plan, error) {
		var p Plan
		err := row.Scan(&p.ContractID, &p.PlanID, &p.SegmentID, &p.ContractName, &p.PlanName, &p.FormularyID,
			&p.Premium, &p.Deductible, &p.RegionCode, &p.State, &p.CountyCode, &p.IsSpecialNeedsPlan)
		return p, err
	})
	if err != nil {
		return nil, db.Classify("plans by formularies", err)
	}
	return plans, nil
}

// =========== Coverage ===========

type coverageRepoPG struct{ pool queryable }

func NewCoverageRepoPG(pool *pgxpool.Pool) CoverageRepository { return &coverageRepoPG{pool: pool} }

func (r *coverageRepoPG) CostBands(ctx context.Context, plan PlanKey, tiers []int) ([]CostBand, error) {
	rows, err := r.pool.Query(ctx, `SELECT tier, days_supply,
			cost_min_amt_pref, cost_max_amt_pref, cost_min_amt_nonpref, cost_max_amt_nonpref,
			cost_min_amt_mail_pref, cost_max_amt_mail_pref, cost_min_amt_mail_nonpref, cost_max_amt_mail_nonpref
		FROM beneficiary_cost
		WHERE contract_id = $1 AND plan_id = $2 AND segment_id = $3 AND tier = ANY($4)
		ORDER BY tier, days_supply, coverage_level`,
		plan.ContractID, plan.PlanID, plan.SegmentID, tiers)
	if err != nil {
		return nil, db.Classify("cost bands", err)
	}
	bands, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CostBand, error) {
		var b CostBand
		err := row.Scan(&b.Tier, &b.DaysSupply,
			&b.MinPreferred, &b.MaxPreferred, &b.MinNonPreferred, &b.MaxNonPreferred,
			&b.MinMailPreferred, &b.MaxMailPreferred, &b.MinMailNonPreferred, &b.MaxMailNonPreferred)
		return b, err
	})
	if err != nil {
		return nil, db.Classify("cost bands", err)
	}
	return bands, nil
}

func (r *coverageRepoPG) InsulinCostBands(ctx context.Context, plan PlanKey, tiers []int) ([]InsulinCostBand, error) {
	textTiers := make([]string, len(tiers))
	for i, t := range tiers {
		textTiers[i] = strconv.Itoa(t)
	}
	rows, err := r.pool.Query(ctx, `SELECT tier, days_supply,
			copay_amt_pref_insln, copay_amt_nonpref_insln, copay_amt_mail_pref_insln, copay_amt_mail_nonpref_insln
		FROM insulin_beneficiary_cost
		WHERE contract_id = $1 AND plan_id = $2 AND segment_id = $3 AND tier = ANY($4)
		ORDER BY tier, days_supply`,
		plan.ContractID, plan.PlanID, plan.SegmentID, textTiers)
	if err != nil {
		return nil, db.Classify("insulin cost bands", err)
	}
	bands, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (InsulinCostBand, error) {
		var b InsulinCostBand
		err := row.Scan(&b.Tier, &b.DaysSupply,
			&b.CopayPreferred, &b.CopayNonPreferred, &b.CopayMailPreferred, &b.CopayMailNonPreferred)
		return b, err
	})
	if err != nil {
		return nil, db.Classify("insulin cost bands", err)
	}
	return bands, nil
}

func (r *coverageRepoPG) ExcludedDrugs(ctx context.Context, contractID, planID string, rxcuis []int64) ([]ExcludedDrug, error) {
	rows, err := r.pool.Query(ctx, `SELECT contract_id, plan_id, rxcui, tier,
			COALESCE(quantity_limit_yn = 'Y', false), quantity_limit_amount, quantity_limit_days,
			COALESCE(prior_auth_yn = 'Y', false), COALESCE(step_therapy_yn = 'Y', false),
			COALESCE(capped_benefit_yn = 'Y', false)
		FROM excluded_drugs_formulary
		WHERE contract_id = $1 AND plan_id = $2 AND rxcui = ANY($3)
		ORDER BY rxcui, tier`, contractID, planID, rxcuis)
	if err != nil {
		return nil, db.Classify("excluded drugs", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExcludedDrug, error) {
		var d ExcludedDrug
		err := row.Scan(&d.ContractID, &d.PlanID, &d.RxCUI, &d.Tier,
			&d.QuantityLimit, &d.QuantityLimitAmount, &d.QuantityLimitDays,
			&d.PriorAuthorization, &d.StepTherapy, &d.CappedBenefit)
		return d, err
	})
	if err != nil {
		return nil, db.Classify("excluded drugs", err)
	}
	return out, nil
}

func (r *coverageRepoPG) IndicationCoverage(ctx context.Context, contractID, planID string, rxcuis []int64) ([]IndicationCoverage, error) {
	rows, err := r.pool.Query(ctx, `SELECT contract_id, plan_id, rxcui, disease
		FROM indication_based_coverage_formulary
		WHERE contract_id = $1 AND plan_id = $2 AND rxcui = ANY($3)
		ORDER BY rxcui, disease`, contractID, planID, rxcuis)
	if err != nil {
		return nil, db.Classify("indication coverage", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[IndicationCoverage])
	if err != nil {
		return nil, db.Classify("indication coverage", err)
	}
	return out, nil
}
