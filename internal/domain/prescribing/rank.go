package prescribing

import (
	"sort"

	"github.com/shopspring/decimal"
)

type groupKey struct {
	region string
	drug   string
}

// ranker accumulates fill and cost sums per region/drug.
type ranker struct {
	groups  map[groupKey]*UnderperformingDrug
	records int
}

func newRanker() *ranker {
	return &ranker{groups: make(map[groupKey]*UnderperformingDrug)}
}

func (r *ranker) add(rec FillRecord) {
	r.records++
	k := groupKey{region: rec.Region, drug: rec.DrugName()}
	g, ok := r.groups[k]
	if !ok {
		g = &UnderperformingDrug{Region: k.region, Drug: k.drug}
		r.groups[k] = g
	}
	g.TotalFills = g.TotalFills.Add(rec.Fills)
	g.TotalCost = g.TotalCost.Add(rec.Cost)
}

// avgCostPerFill rounds half away from zero to cents; no fills gives zero.
func avgCostPerFill(cost, fills decimal.Decimal) decimal.Decimal {
	if !fills.IsPositive() {
		return decimal.Zero
	}
	return cost.DivRound(fills, 2)
}

// ranked drops groups below MinFillVolume and orders the rest by average
// cost per fill descending, then fills ascending. Region and drug break any
// remaining tie.
func (r *ranker) ranked() []UnderperformingDrug {
	floor := decimal.NewFromInt(MinFillVolume)
	out := make([]UnderperformingDrug, 0, len(r.groups))
	for _, g := range r.groups {
		if g.TotalFills.LessThan(floor) {
			continue
		}
		g.AvgCostPerFill = avgCostPerFill(g.TotalCost, g.TotalFills)
		out = append(out, *g)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.AvgCostPerFill.Cmp(b.AvgCostPerFill); c != 0 {
			return c > 0
		}
		if c := a.TotalFills.Cmp(b.TotalFills); c != 0 {
			return c < 0
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.Drug < b.Drug
	})
	return out
}
