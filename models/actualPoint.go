package models

import (
	"context"
	"fmt"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ActualPoint is one closed month of a line item as reported by accounting.
// Once present it takes precedence over the HistoricalPoint of the same
// period for forecasting and reconciliation.
//
// Grain: (company_id, line_item_id, period_year, period_month).
// A re-import that changes the amount is a restatement: the previous amount
// is kept in prior_amount and is_restated is set. Re-importing an identical
// amount is not a restatement.
type ActualPoint struct {
	CompanyId   string `gorm:"primaryKey;size:36;index:idx_ap_company_period,priority:1" json:"company_id"`
	LineItemId  string `gorm:"primaryKey;size:36" json:"line_item_id"`
	PeriodYear  int    `gorm:"primaryKey;index:idx_ap_company_period,priority:2" json:"period_year"`
	PeriodMonth int    `gorm:"primaryKey;index:idx_ap_company_period,priority:3" json:"period_month"`

	Amount        decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	PriorAmount   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"prior_amount"`
	IsRestated    bool             `gorm:"not null;default:false" json:"is_restated"`
	ImportBatchId string           `gorm:"size:36;not null" json:"import_batch_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ActualKey is the map key used when reconciling incoming rows against
// already stored values.
func ActualKey(lineItemId string, year int, month int) string {
	return fmt.Sprintf("%s|%d|%d", lineItemId, year, month)
}

// FetchActualAmounts loads the stored amounts for a year range into a map
// keyed by ActualKey, for restatement detection before an upsert.
func FetchActualAmounts(tx *gorm.DB, ctx context.Context, companyId string, yearFrom int, yearTo int) (map[string]decimal.Decimal, error) {

	var rows []*ActualPoint
	if err := tx.WithContext(ctx).
		Where("company_id = ? AND period_year BETWEEN ? AND ?", companyId, yearFrom, yearTo).
		Find(&rows).Error; err != nil {
		return nil, utils.NewStorageError("prefetch actual amounts", err)
	}

	existing := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		existing[ActualKey(row.LineItemId, row.PeriodYear, row.PeriodMonth)] = row.Amount
	}
	return existing, nil
}

// UpsertActualPoints writes points in chunks. Callers are expected to have
// filled PriorAmount/IsRestated against the stored values beforehand (see
// FetchActualAmounts); the statement overwrites both on conflict.
func UpsertActualPoints(tx *gorm.DB, ctx context.Context, points []*ActualPoint) error {

	for _, chunk := range utils.ChunkSlice(points, UpsertChunkSize) {
		sql := `INSERT INTO actual_points
			(company_id, line_item_id, period_year, period_month, amount, prior_amount, is_restated, import_batch_id, created_at, updated_at)
		VALUES `
		args := make([]interface{}, 0, len(chunk)*8)
		for i, p := range chunk {
			if i > 0 {
				sql += ","
			}
			sql += "(?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())"
			args = append(args, p.CompanyId, p.LineItemId, p.PeriodYear, p.PeriodMonth, p.Amount, p.PriorAmount, p.IsRestated, p.ImportBatchId)
		}
		sql += `
		ON DUPLICATE KEY UPDATE
			amount = VALUES(amount),
			prior_amount = VALUES(prior_amount),
			is_restated = VALUES(is_restated),
			import_batch_id = VALUES(import_batch_id),
			updated_at = NOW()`

		if err := tx.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return utils.NewStorageError("upsert actual points", err)
		}
	}
	return nil
}

// GetActualPoints returns every stored actual for the given lines, sorted
// period ascending.
func GetActualPoints(ctx context.Context, companyId string, lineItemIds []string) ([]*ActualPoint, error) {

	db := config.GetDB()
	var results []*ActualPoint
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if len(lineItemIds) > 0 {
		dbCtx = dbCtx.Where("line_item_id IN ?", lineItemIds)
	}
	if err := dbCtx.Order("period_year, period_month").Find(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch actual points", err)
	}
	return results, nil
}

// GetActualsForPeriod returns the stored actuals of a single month.
func GetActualsForPeriod(ctx context.Context, companyId string, year int, month int) ([]*ActualPoint, error) {

	db := config.GetDB()
	var results []*ActualPoint
	if err := db.WithContext(ctx).
		Where("company_id = ? AND period_year = ? AND period_month = ?", companyId, year, month).
		Find(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch actuals for period", err)
	}
	return results, nil
}

// SumActualsThrough returns per-line sums of actuals from January of year
// through the given month (inclusive).
func SumActualsThrough(ctx context.Context, companyId string, year int, throughMonth int) (map[string]decimal.Decimal, error) {

	db := config.GetDB()
	var rows []struct {
		LineItemId string
		Total      decimal.Decimal
	}
	if err := db.WithContext(ctx).Model(&ActualPoint{}).
		Select("line_item_id, SUM(amount) AS total").
		Where("company_id = ? AND period_year = ? AND period_month <= ?", companyId, year, throughMonth).
		Group("line_item_id").
		Scan(&rows).Error; err != nil {
		return nil, utils.NewStorageError("sum actuals ytd", err)
	}

	sums := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[row.LineItemId] = row.Total
	}
	return sums, nil
}
