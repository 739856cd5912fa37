package report

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/formulary/formulary/internal/domain/prescribing"
)

// RankingRow is the Parquet schema of one ranked group. Money is written as
// float64 and as exact decimal text.
type RankingRow struct {
	Rank           int32   `parquet:"rank"`
	Region         string  `parquet:"region"`
	Drug           string  `parquet:"drug"`
	TotalFills     float64 `parquet:"total_fills"`
	TotalCost      float64 `parquet:"total_cost"`
	AvgCostPerFill float64 `parquet:"avg_cost_per_fill"`
	AvgCostText    string  `parquet:"avg_cost_per_fill_text"`
}

func rankingRows(rows []prescribing.UnderperformingDrug) []RankingRow {
	out := make([]RankingRow, len(rows))
	for i, r := range rows {
		out[i] = RankingRow{
			Rank:           int32(i + 1),
			Region:         r.Region,
			Drug:           r.Drug,
			TotalFills:     r.TotalFills.InexactFloat64(),
			TotalCost:      r.TotalCost.InexactFloat64(),
			AvgCostPerFill: r.AvgCostPerFill.InexactFloat64(),
			AvgCostText:    r.AvgCostPerFill.StringFixed(2),
		}
	}
	return out
}

// WriteRanking encodes rows as a Snappy-compressed Parquet file to w.
func WriteRanking(w io.Writer, rows []prescribing.UnderperformingDrug) error {
	pw := parquet.NewGenericWriter[RankingRow](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rankingRows(rows)); err != nil {
		return fmt.Errorf("write ranking rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteRankingFile creates path and writes the ranking to it.
func WriteRankingFile(path string, rows []prescribing.UnderperformingDrug) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	if err := WriteRanking(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
