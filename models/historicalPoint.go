package models

import (
	"context"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UpsertChunkSize bounds how many period rows go into one INSERT statement.
const UpsertChunkSize = 500

// HistoricalPoint is one observed month of a line item, seeded from a
// historical statement export.
//
// Grain: (company_id, line_item_id, period_year, period_month).
// Re-import overwrites in place (last write wins); the writing batch is kept
// for audit via import_batch_id.
type HistoricalPoint struct {
	CompanyId   string `gorm:"primaryKey;size:36;index:idx_hp_company_period,priority:1" json:"company_id"`
	LineItemId  string `gorm:"primaryKey;size:36" json:"line_item_id"`
	PeriodYear  int    `gorm:"primaryKey;index:idx_hp_company_period,priority:2" json:"period_year"`
	PeriodMonth int    `gorm:"primaryKey;index:idx_hp_company_period,priority:3" json:"period_month"`

	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	ImportBatchId string          `gorm:"size:36;not null" json:"import_batch_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertHistoricalPoints writes points in chunks, overwriting any existing
// value for the same period.
func UpsertHistoricalPoints(tx *gorm.DB, ctx context.Context, points []*HistoricalPoint) error {

	for _, chunk := range utils.ChunkSlice(points, UpsertChunkSize) {
		sql := `INSERT INTO historical_points
			(company_id, line_item_id, period_year, period_month, amount, import_batch_id, created_at, updated_at)
		VALUES `
		args := make([]interface{}, 0, len(chunk)*6)
		for i, p := range chunk {
			if i > 0 {
				sql += ","
			}
			sql += "(?, ?, ?, ?, ?, ?, NOW(), NOW())"
			args = append(args, p.CompanyId, p.LineItemId, p.PeriodYear, p.PeriodMonth, p.Amount, p.ImportBatchId)
		}
		sql += `
		ON DUPLICATE KEY UPDATE
			amount = VALUES(amount),
			import_batch_id = VALUES(import_batch_id),
			updated_at = NOW()`

		if err := tx.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return utils.NewStorageError("upsert historical points", err)
		}
	}
	return nil
}

// GetHistoricalPoints returns every stored month for the given lines, sorted
// period ascending.
func GetHistoricalPoints(ctx context.Context, companyId string, lineItemIds []string) ([]*HistoricalPoint, error) {

	db := config.GetDB()
	var results []*HistoricalPoint
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if len(lineItemIds) > 0 {
		dbCtx = dbCtx.Where("line_item_id IN ?", lineItemIds)
	}
	if err := dbCtx.Order("period_year, period_month").Find(&results).Error; err != nil {
		return nil, utils.NewStorageError("fetch historical points", err)
	}
	return results, nil
}

// LastHistoricalPeriod returns the most recent historical month stored for
// the company, or ok=false when nothing has been imported yet.
func LastHistoricalPeriod(ctx context.Context, companyId string) (year int, month int, ok bool, err error) {

	db := config.GetDB()
	var row struct {
		PeriodYear  int
		PeriodMonth int
	}
	result := db.WithContext(ctx).Model(&HistoricalPoint{}).
		Where("company_id = ?", companyId).
		Order("period_year DESC, period_month DESC").
		Limit(1).
		Find(&row)
	if result.Error != nil {
		return 0, 0, false, utils.NewStorageError("fetch last historical period", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, 0, false, nil
	}
	return row.PeriodYear, row.PeriodMonth, true, nil
}
