package prescribing

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formulary/formulary/internal/platform/db"
	"github.com/formulary/formulary/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type repoPG struct{ pool queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// likePattern wraps term for a substring ILIKE, escaping its wildcards.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// =========== Ranking ===========

func (r *repoPG) EachFillRecord(ctx context.Context, year *int, fn func(FillRecord) error) error {
	sql := `SELECT COALESCE(prscrbr_geo_desc, ''), COALESCE(brnd_name, ''), COALESCE(gnrc_name, ''),
			COALESCE(tot_30day_fills, 0), COALESCE(tot_drug_cst, 0)
		FROM prescribers_by_geography_drug`
	var args []any
	if year != nil {
		sql += ` WHERE year = $1`
		args = append(args, *year)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return db.Classify("fill records", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec FillRecord
		if err := rows.Scan(&rec.Region, &rec.BrandName, &rec.GenericName, &rec.Fills, &rec.Cost); err != nil {
			return db.Classify("fill records", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return db.Classify("fill records", err)
	}
	return nil
}

// =========== Statistics ===========

func (r *repoPG) Years(ctx context.Context) ([]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT year FROM prescribers_by_geography_drug
		WHERE year IS NOT NULL ORDER BY year ASC`)
	if err != nil {
		return nil, db.Classify("years", err)
	}
	years, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, db.Classify("years", err)
	}
	return years, nil
}

func (r *repoPG) NationalTotals(ctx context.Context) ([]NationalTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT year,
			SUM(tot_prscrbrs), SUM(tot_clms), SUM(tot_30day_fills), SUM(tot_drug_cst), SUM(tot_benes)
		FROM prescribers_by_geography_drug
		WHERE year IS NOT NULL
		GROUP BY year
		ORDER BY year ASC`)
	if err != nil {
		return nil, db.Classify("national totals", err)
	}
	totals, err := pgx.CollectRows(rows, pgx.RowToStructByPos[NationalTotal])
	if err != nil {
		return nil, db.Classify("national totals", err)
	}
	return totals, nil
}

const statColumns = `COALESCE(brnd_name, gnrc_name, ''), year, tot_prscrbrs, tot_clms,
	tot_30day_fills, tot_drug_cst, tot_benes`

const geoColumns = `, prscrbr_geo_lvl, prscrbr_geo_cd, prscrbr_geo_desc`

func scanGeoStat(row pgx.CollectableRow) (DrugStat, error) {
	var s DrugStat
	err := row.Scan(&s.DrugName, &s.Year, &s.TotalPrescribers, &s.TotalClaims,
		&s.Total30DayFills, &s.TotalDrugCost, &s.TotalBeneficiaries,
		&s.GeoLevel, &s.GeoCode, &s.GeoDescription)
	return s, err
}

// collectPaged scans rows whose last column is COUNT(*) OVER().
func collectPaged(rows pgx.Rows, geo bool) ([]DrugStat, int, error) {
	defer rows.Close()
	var (
		out   []DrugStat
		total int
	)
	for rows.Next() {
		var s DrugStat
		dest := []any{&s.DrugName, &s.Year, &s.TotalPrescribers, &s.TotalClaims,
			&s.Total30DayFills, &s.TotalDrugCost, &s.TotalBeneficiaries}
		if geo {
			dest = append(dest, &s.GeoLevel, &s.GeoCode, &s.GeoDescription)
		}
		if err := rows.Scan(append(dest, &total)...); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Trends(ctx context.Context, year int, p pagination.Params) ([]DrugStat, int, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+statColumns+`, COUNT(*) OVER()
		FROM prescribers_by_geography_drug
		WHERE year = $1
		ORDER BY tot_clms DESC NULLS LAST, 1 ASC
		LIMIT $2 OFFSET $3`, year, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, db.Classify("trends", err)
	}
	out, total, err := collectPaged(rows, false)
	if err != nil {
		return nil, 0, db.Classify("trends", err)
	}
	return out, total, nil
}

func (r *repoPG) SearchDrug(ctx context.Context, sp SearchParams) ([]DrugStat, error) {
	where := []string{"(brnd_name ILIKE $1 OR gnrc_name ILIKE $1)"}
	args := []any{likePattern(sp.Term)}
	if sp.StartYear != nil {
		args = append(args, *sp.StartYear)
		where = append(where, fmt.Sprintf("year >= $%d", len(args)))
	}
	if sp.EndYear != nil {
		args = append(args, *sp.EndYear)
		where = append(where, fmt.Sprintf("year <= $%d", len(args)))
	}

	rows, err := r.pool.Query(ctx, `SELECT `+statColumns+geoColumns+`
		FROM prescribers_by_geography_drug
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY year DESC, tot_clms DESC NULLS LAST`, args...)
	if err != nil {
		return nil, db.Classify("drug search", err)
	}
	out, err := pgx.CollectRows(rows, scanGeoStat)
	if err != nil {
		return nil, db.Classify("drug search", err)
	}
	return out, nil
}

func (r *repoPG) GeoDetail(ctx context.Context, year int, drug string) ([]DrugStat, error) {
	sql := `SELECT ` + statColumns + geoColumns + `
		FROM prescribers_by_geography_drug
		WHERE year = $1`
	args := []any{year}
	if drug != "" {
		sql += ` AND (brnd_name ILIKE $2 OR gnrc_name ILIKE $2)`
		args = append(args, likePattern(drug))
	}
	sql += ` ORDER BY prscrbr_geo_lvl ASC, prscrbr_geo_cd ASC, tot_clms DESC NULLS LAST`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("geo detail", err)
	}
	out, err := pgx.CollectRows(rows, scanGeoStat)
	if err != nil {
		return nil, db.Classify("geo detail", err)
	}
	return out, nil
}

func (r *repoPG) RegionDetail(ctx context.Context, rp RegionParams, p pagination.Params) ([]DrugStat, int, error) {
	where := "prscrbr_geo_lvl = $1 AND prscrbr_geo_desc = $2"
	args := []any{rp.Level, rp.Region}
	if rp.Year != nil {
		args = append(args, *rp.Year)
		where += " AND year = $3"
	}
	args = append(args, p.Limit, p.Offset)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s%s, COUNT(*) OVER()
		FROM prescribers_by_geography_drug
		WHERE %s
		ORDER BY tot_clms DESC NULLS LAST, 1 ASC
		LIMIT $%d OFFSET $%d`, statColumns, geoColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.Classify("region detail", err)
	}
	out, total, err := collectPaged(rows, true)
	if err != nil {
		return nil, 0, db.Classify("region detail", err)
	}
	return out, total, nil
}

// =========== Names ===========

func (r *repoPG) DrugNames(ctx context.Context, term string, limit int) ([]DrugNamePair, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT brnd_name, gnrc_name
		FROM prescribers_by_geography_drug
		WHERE brnd_name ILIKE $1 OR gnrc_name ILIKE $1
		ORDER BY brnd_name, gnrc_name
		LIMIT $2`, likePattern(term), limit)
	if err != nil {
		return nil, db.Classify("drug names", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[DrugNamePair])
	if err != nil {
		return nil, db.Classify("drug names", err)
	}
	return out, nil
}
