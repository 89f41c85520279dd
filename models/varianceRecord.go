package models

import (
	"context"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/shopspring/decimal"
)

// VarianceRecord is a derived cache row reconciling the current forecast of
// a month against its actual. Disposable: the rebuild path can regenerate
// every row from Projections + Actuals at any time.
//
// Grain: (company_id, line_item_id, period_year, period_month).
type VarianceRecord struct {
	CompanyId   string `gorm:"primaryKey;size:36;index:idx_vr_company_period,priority:1" json:"company_id"`
	LineItemId  string `gorm:"primaryKey;size:36" json:"line_item_id"`
	PeriodYear  int    `gorm:"primaryKey;index:idx_vr_company_period,priority:2" json:"period_year"`
	PeriodMonth int    `gorm:"primaryKey;index:idx_vr_company_period,priority:3" json:"period_month"`

	ForecastAmount  *decimal.Decimal `gorm:"type:decimal(20,4)" json:"forecast_amount"`
	ActualAmount    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"actual_amount"`
	VarianceAmount  *decimal.Decimal `gorm:"type:decimal(20,4)" json:"variance_amount"`
	VariancePercent *decimal.Decimal `gorm:"type:decimal(20,4)" json:"variance_percent"`

	YtdForecast *decimal.Decimal `gorm:"type:decimal(20,4)" json:"ytd_forecast"`
	YtdActual   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"ytd_actual"`
	YtdVariance *decimal.Decimal `gorm:"type:decimal(20,4)" json:"ytd_variance"`

	PriorYearActual *decimal.Decimal `gorm:"type:decimal(20,4)" json:"prior_year_actual"`
	IsRestated      bool             `gorm:"not null;default:false" json:"is_restated"`
	CalculatedAt    time.Time        `gorm:"not null" json:"calculated_at"`
}

// UpsertVarianceRecords writes rebuilt rows in chunks, last write wins.
func UpsertVarianceRecords(ctx context.Context, rows []*VarianceRecord) error {

	db := config.GetDB()
	for _, chunk := range utils.ChunkSlice(rows, UpsertChunkSize) {
		sql := `INSERT INTO variance_records
			(company_id, line_item_id, period_year, period_month,
			 forecast_amount, actual_amount, variance_amount, variance_percent,
			 ytd_forecast, ytd_actual, ytd_variance, prior_year_actual, is_restated, calculated_at)
		VALUES `
		args := make([]interface{}, 0, len(chunk)*14)
		for i, r := range chunk {
			if i > 0 {
				sql += ","
			}
			sql += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, r.CompanyId, r.LineItemId, r.PeriodYear, r.PeriodMonth,
				r.ForecastAmount, r.ActualAmount, r.VarianceAmount, r.VariancePercent,
				r.YtdForecast, r.YtdActual, r.YtdVariance, r.PriorYearActual, r.IsRestated, r.CalculatedAt)
		}
		sql += `
		ON DUPLICATE KEY UPDATE
			forecast_amount = VALUES(forecast_amount),
			actual_amount = VALUES(actual_amount),
			variance_amount = VALUES(variance_amount),
			variance_percent = VALUES(variance_percent),
			ytd_forecast = VALUES(ytd_forecast),
			ytd_actual = VALUES(ytd_actual),
			ytd_variance = VALUES(ytd_variance),
			prior_year_actual = VALUES(prior_year_actual),
			is_restated = VALUES(is_restated),
			calculated_at = VALUES(calculated_at)`

		if err := db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return utils.NewStorageError("upsert variance records", err)
		}
	}
	return nil
}

// GetVarianceRecords returns the cached rows of one month.
func GetVarianceRecords(ctx context.Context, companyId string, year int, month int) ([]*VarianceRecord, error) {

	db := config.GetDB()
	var results []*VarianceRecord
	if err := db.WithContext(ctx).
		Where("company_id = ? AND period_year = ? AND period_month = ?", companyId, year, month).
		Find(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch variance records", err)
	}
	return results, nil
}

// CountVarianceForPeriod tells the refresh path whether a rebuild is needed.
func CountVarianceForPeriod(ctx context.Context, companyId string, year int, month int) (int64, error) {

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&VarianceRecord{}).
		Where("company_id = ? AND period_year = ? AND period_month = ?", companyId, year, month).
		Count(&count).Error; err != nil {
		return 0, utils.NewStorageError("count variance records", err)
	}
	return count, nil
}

// DeleteVarianceForPeriod drops one month of cache so the next read rebuilds
// it. Passing year=0 clears the whole company cache.
func DeleteVarianceForPeriod(ctx context.Context, companyId string, year int, month int) error {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if year > 0 {
		dbCtx = dbCtx.Where("period_year = ? AND period_month = ?", year, month)
	}
	if err := dbCtx.Delete(&VarianceRecord{}).Error; err != nil {
		return utils.NewStorageError("delete variance records", err)
	}
	return nil
}
