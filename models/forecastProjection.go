package models

import (
	"context"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ForecastProjection is one projected month of a line item under one run
// version. Rows are immutable once written: re-running produces a new
// version, and reporting always reads the highest version per period.
//
// Grain: (company_id, line_item_id, period_year, period_month, forecast_version).
type ForecastProjection struct {
	CompanyId       string `gorm:"primaryKey;size:36;index:idx_fp_company_period,priority:1" json:"company_id"`
	LineItemId      string `gorm:"primaryKey;size:36" json:"line_item_id"`
	PeriodYear      int    `gorm:"primaryKey;index:idx_fp_company_period,priority:2" json:"period_year"`
	PeriodMonth     int    `gorm:"primaryKey;index:idx_fp_company_period,priority:3" json:"period_month"`
	ForecastVersion int64  `gorm:"primaryKey" json:"forecast_version"`

	ForecastAmount        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"forecast_amount"`
	MethodologyUsed       Methodology     `gorm:"type:enum('straight_line','run_rate','moving_average','linear_trend','growth_rate','seasonal','percent_of_revenue','driver_based','manual');not null" json:"methodology_used"`
	MethodologyParamsJSON []byte          `gorm:"type:json" json:"methodology_params"`
	Notes                 string          `gorm:"type:text" json:"notes"`
	GeneratedAt           time.Time       `gorm:"index;not null" json:"generated_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NextForecastVersion derives a run version from the current time, bumped
// past the company's stored maximum so versions stay strictly increasing
// even if the clock steps backwards or two runs start within a second.
func NextForecastVersion(ctx context.Context, companyId string) (int64, error) {

	db := config.GetDB()
	version := time.Now().Unix()

	var maxVersion int64
	if err := db.WithContext(ctx).Model(&ForecastProjection{}).
		Where("company_id = ?", companyId).
		Select("COALESCE(MAX(forecast_version), 0)").
		Scan(&maxVersion).Error; err != nil {
		return 0, utils.NewStorageError("fetch max forecast version", err)
	}
	if version <= maxVersion {
		version = maxVersion + 1
	}
	return version, nil
}

// UpsertProjections writes run output in chunks. The version is part of the
// key, so a conflict can only re-write rows of the same run (idempotent
// retry); prior versions are never touched.
func UpsertProjections(ctx context.Context, rows []*ForecastProjection) error {

	db := config.GetDB()
	for _, chunk := range utils.ChunkSlice(rows, UpsertChunkSize) {
		sql := `INSERT INTO forecast_projections
			(company_id, line_item_id, period_year, period_month, forecast_version,
			 forecast_amount, methodology_used, methodology_params_json, notes, generated_at, created_at)
		VALUES `
		args := make([]interface{}, 0, len(chunk)*10)
		for i, p := range chunk {
			if i > 0 {
				sql += ","
			}
			sql += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())"
			args = append(args, p.CompanyId, p.LineItemId, p.PeriodYear, p.PeriodMonth, p.ForecastVersion,
				p.ForecastAmount, p.MethodologyUsed, p.MethodologyParamsJSON, p.Notes, p.GeneratedAt)
		}
		sql += `
		ON DUPLICATE KEY UPDATE
			forecast_amount = VALUES(forecast_amount),
			methodology_used = VALUES(methodology_used),
			methodology_params_json = VALUES(methodology_params_json),
			notes = VALUES(notes),
			generated_at = VALUES(generated_at)`

		if err := db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return utils.NewStorageError("upsert forecast projections", err)
		}
	}
	return nil
}

// GetLatestProjectionsForPeriod returns, per line item, the
// highest-version projection row of a single month.
func GetLatestProjectionsForPeriod(ctx context.Context, companyId string, year int, month int) ([]*ForecastProjection, error) {

	db := config.GetDB()
	var results []*ForecastProjection
	sql := `
		SELECT fp.*
		FROM forecast_projections fp
		JOIN (
			SELECT line_item_id, MAX(forecast_version) AS max_version
			FROM forecast_projections
			WHERE company_id = ? AND period_year = ? AND period_month = ?
			GROUP BY line_item_id
		) latest
			ON latest.line_item_id = fp.line_item_id
			AND latest.max_version = fp.forecast_version
		WHERE fp.company_id = ? AND fp.period_year = ? AND fp.period_month = ?`
	if err := db.WithContext(ctx).Raw(sql, companyId, year, month, companyId, year, month).
		Scan(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch latest projections", err)
	}
	return results, nil
}

// GetLatestProjections returns the highest-version projection per
// (line, period) over an inclusive period range, ordered period ascending.
// lineItemIds can be empty for all lines.
func GetLatestProjections(ctx context.Context, companyId string, lineItemIds []string, fromYear, fromMonth, toYear, toMonth int) ([]*ForecastProjection, error) {

	db := config.GetDB()
	from := fromYear*100 + fromMonth
	to := toYear*100 + toMonth

	sql := `
		SELECT fp.*
		FROM forecast_projections fp
		JOIN (
			SELECT line_item_id, period_year, period_month, MAX(forecast_version) AS max_version
			FROM forecast_projections
			WHERE company_id = ?
				AND period_year * 100 + period_month BETWEEN ? AND ?
			GROUP BY line_item_id, period_year, period_month
		) latest
			ON latest.line_item_id = fp.line_item_id
			AND latest.period_year = fp.period_year
			AND latest.period_month = fp.period_month
			AND latest.max_version = fp.forecast_version
		WHERE fp.company_id = ?`
	args := []interface{}{companyId, from, to, companyId}
	if len(lineItemIds) > 0 {
		sql += ` AND fp.line_item_id IN ?`
		args = append(args, lineItemIds)
	}
	sql += ` ORDER BY fp.period_year, fp.period_month`

	var results []*ForecastProjection
	if err := db.WithContext(ctx).Raw(sql, args...).Scan(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch latest projections", err)
	}
	return results, nil
}

// SumLatestProjectionsThrough returns per-line sums of the latest-version
// projections from January of year through the given month (inclusive).
func SumLatestProjectionsThrough(ctx context.Context, companyId string, year int, throughMonth int) (map[string]decimal.Decimal, error) {

	db := config.GetDB()
	var rows []struct {
		LineItemId string
		Total      decimal.Decimal
	}
	sql := `
		SELECT fp.line_item_id, SUM(fp.forecast_amount) AS total
		FROM forecast_projections fp
		JOIN (
			SELECT line_item_id, period_year, period_month, MAX(forecast_version) AS max_version
			FROM forecast_projections
			WHERE company_id = ? AND period_year = ? AND period_month <= ?
			GROUP BY line_item_id, period_year, period_month
		) latest
			ON latest.line_item_id = fp.line_item_id
			AND latest.period_year = fp.period_year
			AND latest.period_month = fp.period_month
			AND latest.max_version = fp.forecast_version
		WHERE fp.company_id = ? AND fp.period_year = ? AND fp.period_month <= ?
		GROUP BY fp.line_item_id`
	if err := db.WithContext(ctx).Raw(sql, companyId, year, throughMonth, companyId, year, throughMonth).
		Scan(&rows).Error; err != nil {
		return nil, utils.NewStorageError("sum projections ytd", err)
	}

	sums := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[row.LineItemId] = row.Total
	}
	return sums, nil
}

// GetProjectionsForVersion returns the rows a single run produced, ordered
// period ascending. Versions are immutable, so this is a point-in-time view.
func GetProjectionsForVersion(ctx context.Context, companyId string, version int64) ([]*ForecastProjection, error) {

	db := config.GetDB()
	var results []*ForecastProjection
	if err := db.WithContext(ctx).
		Where("company_id = ? AND forecast_version = ?", companyId, version).
		Order("period_year, period_month").
		Find(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch projections for version", err)
	}
	return results, nil
}

// ListForecastVersions summarizes past runs, newest first.
func ListForecastVersions(ctx context.Context, companyId string, limit int) ([]*ForecastVersionSummary, error) {

	if limit <= 0 {
		limit = 20
	}
	db := config.GetDB()
	var rows []*ForecastVersionSummary
	if err := db.WithContext(ctx).Model(&ForecastProjection{}).
		Select("forecast_version, MIN(generated_at) AS generated_at, COUNT(*) AS row_count, COUNT(DISTINCT line_item_id) AS line_count").
		Where("company_id = ?", companyId).
		Group("forecast_version").
		Order("forecast_version DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, utils.NewStorageError("list forecast versions", err)
	}
	return rows, nil
}

type ForecastVersionSummary struct {
	ForecastVersion int64     `json:"forecast_version"`
	GeneratedAt     time.Time `json:"generated_at"`
	RowCount        int       `json:"row_count"`
	LineCount       int       `json:"line_count"`
}

// CountProjectionsForVersion reports how many rows one run wrote.
func CountProjectionsForVersion(tx *gorm.DB, ctx context.Context, companyId string, version int64) (int64, error) {
	var count int64
	if err := tx.WithContext(ctx).Model(&ForecastProjection{}).
		Where("company_id = ? AND forecast_version = ?", companyId, version).
		Count(&count).Error; err != nil {
		return 0, utils.NewStorageError("count projections", err)
	}
	return count, nil
}
