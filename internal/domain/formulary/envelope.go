package formulary

import (
	"sort"

	"github.com/shopspring/decimal"
)

// bound is a running minimum or maximum that stays unset until it sees a
// present value.
type bound struct {
	val decimal.Decimal
	set bool
}

func (b *bound) lower(d decimal.NullDecimal) {
	if d.Valid && (!b.set || d.Decimal.LessThan(b.val)) {
		b.val, b.set = d.Decimal, true
	}
}

func (b *bound) raise(d decimal.NullDecimal) {
	if d.Valid && (!b.set || d.Decimal.GreaterThan(b.val)) {
		b.val, b.set = d.Decimal, true
	}
}

func (b bound) nullable() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: b.val, Valid: b.set}
}

// tierSet returns the distinct positive tiers of entries, ascending.
func tierSet(entries []FormularyEntry) []int {
	seen := make(map[int]struct{})
	out := []int{}
	for _, e := range entries {
		if e.TierLevel == nil || *e.TierLevel <= 0 {
			continue
		}
		if _, ok := seen[*e.TierLevel]; ok {
			continue
		}
		seen[*e.TierLevel] = struct{}{}
		out = append(out, *e.TierLevel)
	}
	sort.Ints(out)
	return out
}

// formularyIDs returns the distinct formulary ids of entries in first-seen order.
func formularyIDs(entries []FormularyEntry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.FormularyID]; ok {
			continue
		}
		seen[e.FormularyID] = struct{}{}
		out = append(out, e.FormularyID)
	}
	return out
}

// drugRxCUIs returns the concept ids that identify the drug: the identifier
// itself for RxCUI lookups, otherwise the ids carried by the matched entries.
func drugRxCUIs(id DrugIdentifier, entries []FormularyEntry) []int64 {
	if id.Kind == KindRxCUI {
		return []int64{id.RxCUI()}
	}
	seen := make(map[int64]struct{})
	var out []int64
	for _, e := range entries {
		if e.RxCUI == nil {
			continue
		}
		if _, ok := seen[*e.RxCUI]; ok {
			continue
		}
		seen[*e.RxCUI] = struct{}{}
		out = append(out, *e.RxCUI)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// dedupPlans keeps the first plan seen for each plan key.
func dedupPlans(plans []Plan) []Plan {
	seen := make(map[PlanKey]struct{}, len(plans))
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// requirementsFor picks one requirement row per tier for a plan. Rows from
// the plan's own formulary win; otherwise the first row for the tier is used.
func requirementsFor(plan Plan, rows []TierRequirement) map[int]TierRequirement {
	out := make(map[int]TierRequirement)
	for _, r := range rows {
		cur, ok := out[r.Tier]
		if !ok || (cur.FormularyID != plan.FormularyID && r.FormularyID == plan.FormularyID) {
			out[r.Tier] = r
		}
	}
	return out
}

// buildEnvelopes computes one TierEnvelope per tier. Bounds stay null when
// no band for the tier carries a value; flags are false without a
// requirement row.
func buildEnvelopes(tiers []int, bands []CostBand, reqs map[int]TierRequirement) []TierEnvelope {
	lows := make(map[int]*bound, len(tiers))
	highs := make(map[int]*bound, len(tiers))
	for _, t := range tiers {
		lows[t], highs[t] = &bound{}, &bound{}
	}

	for _, b := range bands {
		lo, ok := lows[b.Tier]
		if !ok {
			continue
		}
		for _, v := range b.minimums() {
			lo.lower(v)
		}
		hi := highs[b.Tier]
		for _, v := range b.maximums() {
			hi.raise(v)
		}
	}

	out := make([]TierEnvelope, 0, len(tiers))
	for _, t := range tiers {
		req := reqs[t]
		out = append(out, TierEnvelope{
			Tier:                       t,
			MinPatientCost:             lows[t].nullable(),
			MaxPatientCost:             highs[t].nullable(),
			PriorAuthorizationRequired: req.PriorAuthorization,
			StepTherapyRequired:        req.StepTherapy,
			QuantityLimit:              req.QuantityLimit,
		})
	}
	return out
}

// hasAccessBarrier reports whether any tier imposes step therapy or a
// quantity limit.
func hasAccessBarrier(tiers []TierEnvelope) bool {
	for _, t := range tiers {
		if t.StepTherapyRequired || t.QuantityLimit {
			return true
		}
	}
	return false
}
