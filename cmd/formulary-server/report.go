package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/formulary/formulary/internal/domain/formulary"
	"github.com/formulary/formulary/internal/domain/prescribing"
	"github.com/formulary/formulary/internal/report"
)

// drugFromFlags mirrors the HTTP rule: exactly one of ndc or rxcui.
func drugFromFlags(ndc, rxcui string) (formulary.DrugIdentifier, error) {
	switch {
	case ndc != "" && rxcui != "":
		return formulary.DrugIdentifier{}, fmt.Errorf("use either --ndc or --rxcui, not both")
	case ndc != "":
		return formulary.ParseDrugIdentifier(formulary.KindNDC, ndc)
	case rxcui != "":
		return formulary.ParseDrugIdentifier(formulary.KindRxCUI, rxcui)
	default:
		return formulary.DrugIdentifier{}, fmt.Errorf("one of --ndc or --rxcui is required")
	}
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print plan tier cost envelopes for a drug",
		RunE: func(cmd *cobra.Command, args []string) error {
			ndc, _ := cmd.Flags().GetString("ndc")
			rxcui, _ := cmd.Flags().GetString("rxcui")
			asJSON, _ := cmd.Flags().GetBool("json")

			id, err := drugFromFlags(ndc, rxcui)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			result, err := newFormularyService(cfg, pool).Analyze(newLogger(cfg).WithContext(ctx), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			report.RenderAnalysis(out, result)
			return nil
		},
	}
	cmd.Flags().String("ndc", "", "National drug code")
	cmd.Flags().String("rxcui", "", "RxNorm concept id")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

// rankParamsFromFlags treats zero as "not set" for both flags.
func rankParamsFromFlags(year, limit int) (prescribing.RankParams, error) {
	var p prescribing.RankParams
	if year < 0 {
		return p, fmt.Errorf("--year must be positive, got %d", year)
	}
	if limit < 0 {
		return p, fmt.Errorf("--limit must be positive, got %d", limit)
	}
	if year > 0 {
		p.Year = &year
	}
	if limit > 0 {
		p.Limit = &limit
	}
	return p, nil
}

func rankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank drugs by average cost per fill within each region",
		RunE: func(cmd *cobra.Command, args []string) error {
			year, _ := cmd.Flags().GetInt("year")
			limit, _ := cmd.Flags().GetInt("limit")
			parquetPath, _ := cmd.Flags().GetString("parquet")

			params, err := rankParamsFromFlags(year, limit)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := prescribing.NewService(prescribing.NewRepoPG(pool))
			rows, err := svc.RankUnderperforming(newLogger(cfg).WithContext(ctx), params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if parquetPath != "" {
				if err := report.WriteRankingFile(parquetPath, rows); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %d row(s) to %s\n", len(rows), parquetPath)
				return nil
			}
			report.RenderRanking(out, rows)
			return nil
		},
	}
	cmd.Flags().Int("year", 0, "Restrict to one data year (0 means all years)")
	cmd.Flags().Int("limit", 0, "Keep only the top N groups (0 means no limit)")
	cmd.Flags().String("parquet", "", "Write the ranking to this Parquet file instead of printing it")
	return cmd
}
