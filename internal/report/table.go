// Package report renders analysis and ranking results for the terminal and
// exports rankings as Parquet.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/formulary/formulary/internal/domain/formulary"
	"github.com/formulary/formulary/internal/domain/prescribing"
)

const noData = "-"

func money(d decimal.NullDecimal) string {
	if !d.Valid {
		return noData
	}
	return "$" + d.Decimal.StringFixed(2)
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// RenderAnalysis writes one row per plan and tier followed by a summary.
func RenderAnalysis(w io.Writer, r *formulary.AnalysisReport) {
	if len(r.Plans) == 0 {
		fmt.Fprintf(w, "%s: no plans reference the drug's formularies\n", r.Drug)
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Plan", "Name", "Region", "Tier", "Min cost", "Max cost", "PA", "ST", "QL", "Candidate"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for _, p := range r.Plans {
		if len(p.Tiers) == 0 {
			t.AppendRow(table.Row{p.Plan.Key().String(), p.Plan.PlanName, p.Plan.RegionCode, noData, noData, noData, "", "", "", yn(p.ImprovementCandidate)})
			continue
		}
		for _, tier := range p.Tiers {
			t.AppendRow(table.Row{
				p.Plan.Key().String(), p.Plan.PlanName, p.Plan.RegionCode,
				strconv.Itoa(tier.Tier), money(tier.MinPatientCost), money(tier.MaxPatientCost),
				yn(tier.PriorAuthorizationRequired), yn(tier.StepTherapyRequired), yn(tier.QuantityLimit),
				yn(p.ImprovementCandidate),
			})
		}
		t.AppendSeparator()
	}
	t.Render()

	tiers := make([]string, len(r.Tiers))
	for i, n := range r.Tiers {
		tiers[i] = strconv.Itoa(n)
	}
	fmt.Fprintf(w, "%s: %d formulary entries, tiers [%s], %d plans, %d improvement candidates\n",
		r.Drug, len(r.DrugFormularyEntries), strings.Join(tiers, " "), len(r.Plans), len(r.ImprovementCandidates))
	if r.CandidatesCapped {
		fmt.Fprintf(w, "plan list capped at %d; raise PLAN_CANDIDATE_CAP to see more\n", r.PlanCap)
	}
}

// RenderRanking writes the ranked groups with a row count footer.
func RenderRanking(w io.Writer, rows []prescribing.UnderperformingDrug) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Region", "Drug", "Fills", "Cost", "Avg cost/fill"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for i, r := range rows {
		t.AppendRow(table.Row{
			i + 1, r.Region, r.Drug,
			r.TotalFills.String(), "$" + r.TotalCost.StringFixed(2), "$" + r.AvgCostPerFill.StringFixed(2),
		})
	}
	t.Render()

	suffix := "s"
	if len(rows) == 1 {
		suffix = ""
	}
	fmt.Fprintf(w, "(%d row%s)\n", len(rows), suffix)
}
