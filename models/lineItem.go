package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// LineItem is one row of a financial statement (e.g. "Product Revenue").
// Identity within a company is (statement_type, line_code) where line_code is
// the normalized name; the casing of the first import is kept for display.
type LineItem struct {
	ID            uuid.UUID     `gorm:"primary_key" json:"id"`
	CompanyId     string        `gorm:"uniqueIndex:idx_line_item_identity;size:36;not null" json:"company_id"`
	StatementType StatementType `gorm:"uniqueIndex:idx_line_item_identity;type:enum('income_statement','balance_sheet');not null" json:"statement_type"`
	LineCode      string        `gorm:"uniqueIndex:idx_line_item_identity;size:255;not null" json:"line_code"`
	LineName      string        `gorm:"size:255;not null" json:"line_name" binding:"required"`
	Category      string        `gorm:"size:100" json:"category"`
	Subcategory   string        `gorm:"size:100" json:"subcategory"`
	DisplayOrder  int           `gorm:"not null" json:"display_order"`
	IsActive      *bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item LineItem) GetCompanyId() string {
	return item.CompanyId
}

// IncomingLineItem is one resolved row from a workbook, in sheet order.
// LineCode is optional; raw exports without a code column derive it from
// the line name.
type IncomingLineItem struct {
	StatementType StatementType
	LineCode      string
	LineName      string
	Category      string
	Subcategory   string
}

func (inc IncomingLineItem) code() string {
	if code := NormalizeLineCode(inc.LineCode); code != "" {
		return code
	}
	return NormalizeLineCode(inc.LineName)
}

// NormalizeLineCode trims, lowercases and collapses runs of whitespace,
// so " Product  Revenue " and "product revenue" resolve to the same item.
func NormalizeLineCode(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// LineItemKey is the registry lookup key within one company.
func LineItemKey(statementType StatementType, lineCode string) string {
	return string(statementType) + ":" + lineCode
}

// EnsureLineItems resolves every incoming row to a registry entry, creating
// the ones not seen before. Existing items keep their display order and
// category; new items are appended after the current maximum in sheet order.
// Re-importing the same file creates zero new items. Runs inside the caller's
// import transaction. Returns the key->entry map plus created/existing counts.
func EnsureLineItems(tx *gorm.DB, ctx context.Context, companyId string, incoming []IncomingLineItem) (map[string]*LineItem, int, int, error) {

	resolved := make(map[string]*LineItem, len(incoming))
	keys := make([]string, 0, len(incoming))
	byKey := make(map[string]IncomingLineItem, len(incoming))
	for _, inc := range incoming {
		code := inc.code()
		if code == "" {
			continue
		}
		key := LineItemKey(inc.StatementType, code)
		if _, seen := byKey[key]; seen {
			continue
		}
		byKey[key] = inc
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return resolved, 0, 0, nil
	}

	var existing []*LineItem
	if err := tx.WithContext(ctx).
		Where("company_id = ?", companyId).
		Find(&existing).Error; err != nil {
		return nil, 0, 0, err
	}
	maxOrder := make(map[StatementType]int, 2)
	for _, item := range existing {
		resolved[LineItemKey(item.StatementType, item.LineCode)] = item
		if item.DisplayOrder > maxOrder[item.StatementType] {
			maxOrder[item.StatementType] = item.DisplayOrder
		}
	}

	created := 0
	existingCount := 0
	for _, key := range keys {
		inc := byKey[key]
		if item, ok := resolved[key]; ok {
			existingCount++
			// first import to name a category wins, later blanks never clear it
			if item.Category == "" && inc.Category != "" {
				updates := map[string]interface{}{"category": inc.Category}
				if item.Subcategory == "" && inc.Subcategory != "" {
					updates["subcategory"] = inc.Subcategory
				}
				if err := tx.WithContext(ctx).Model(item).
					UpdateColumns(updates).Error; err != nil {
					return nil, 0, 0, err
				}
				item.Category = inc.Category
				if sub, ok := updates["subcategory"]; ok {
					item.Subcategory = sub.(string)
				}
			}
			continue
		}
		maxOrder[inc.StatementType]++
		item := &LineItem{
			ID:            uuid.New(),
			CompanyId:     companyId,
			StatementType: inc.StatementType,
			LineCode:      inc.code(),
			LineName:      strings.TrimSpace(inc.LineName),
			Category:      inc.Category,
			Subcategory:   inc.Subcategory,
			DisplayOrder:  maxOrder[inc.StatementType],
			IsActive:      utils.NewTrue(),
		}
		if err := tx.WithContext(ctx).Create(item).Error; err != nil {
			// a concurrent import won the race on (statement, code); use its row
			if isDuplicateKeyErr(err) {
				var winner LineItem
				if ferr := tx.WithContext(ctx).
					Where("company_id = ? AND statement_type = ? AND line_code = ?",
						companyId, item.StatementType, item.LineCode).
					First(&winner).Error; ferr == nil {
					resolved[key] = &winner
					existingCount++
					continue
				}
			}
			return nil, 0, 0, err
		}
		resolved[key] = item
		created++
	}

	if created > 0 {
		if err := utils.RemoveRedisList[LineItem](companyId); err != nil {
			return nil, 0, 0, err
		}
	}
	return resolved, created, existingCount, nil
}

func GetLineItem(ctx context.Context, id string) (*LineItem, error) {
	return GetResource[LineItem](ctx, id)
}

// GetLineItems lists the registry ordered for display. statementType can be
// blank to list both statements.
func GetLineItems(ctx context.Context, statementType StatementType) ([]*LineItem, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if statementType == "" {
		return ListAllResource[LineItem](ctx, "statement_type", "display_order")
	}

	db := config.GetDB()
	var results []*LineItem
	if err := db.WithContext(ctx).
		Where("company_id = ? AND statement_type = ?", companyId, statementType).
		Order("display_order").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetActiveLineItems lists only the items still eligible for forecasting.
func GetActiveLineItems(ctx context.Context, companyId string) ([]*LineItem, error) {
	db := config.GetDB()
	var results []*LineItem
	if err := db.WithContext(ctx).
		Where("company_id = ? AND is_active = true", companyId).
		Order("statement_type, display_order").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ToggleActiveLineItem hides or restores an item for future forecast runs.
// Historical and forecast rows are never deleted.
func ToggleActiveLineItem(ctx context.Context, id string, isActive bool) (*LineItem, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return ToggleActiveModel[LineItem](ctx, companyId, id, isActive)
}

// UpdateLineItemCategory overrides the category guessed during import.
func UpdateLineItemCategory(ctx context.Context, id string, category string, subcategory string) (*LineItem, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	item, err := utils.FetchModel[LineItem](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(item).
		UpdateColumns(map[string]interface{}{
			"category":    category,
			"subcategory": subcategory,
		}).Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[LineItem](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[LineItem](companyId); err != nil {
		return nil, err
	}
	return item, nil
}
