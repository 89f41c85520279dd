package models

import (
	"context"
	"errors"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/google/uuid"
)

// ImportBatch is the audit record of one workbook upload. It is created
// before any data writes and finalized after them, so a batch row survives
// even when the upsert path fails partway (chunks already committed stay).
type ImportBatch struct {
	ID            uuid.UUID     `gorm:"primary_key" json:"id"`
	CompanyId     string        `gorm:"index;size:36;not null" json:"company_id"`
	ImportType    ImportType    `gorm:"type:enum('historical','actuals');not null" json:"import_type"`
	StatementType StatementType `gorm:"type:enum('income_statement','balance_sheet');not null" json:"statement_type"`
	FileName      string        `gorm:"size:255" json:"file_name"`
	FileUrl       string        `gorm:"size:512" json:"file_url"`
	PeriodStart   string        `gorm:"size:7" json:"period_start"`
	PeriodEnd     string        `gorm:"size:7" json:"period_end"`
	RowCount      int           `gorm:"not null;default:0" json:"row_count"`

	LineItemsCreated  int `gorm:"not null;default:0" json:"line_items_created"`
	LineItemsExisting int `gorm:"not null;default:0" json:"line_items_existing"`

	Status       ImportStatus `gorm:"type:enum('processing','completed','failed');not null;default:'processing'" json:"status"`
	ErrorMessage string       `gorm:"type:text" json:"error_message"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (batch ImportBatch) GetCompanyId() string {
	return batch.CompanyId
}

// CreateImportBatch records the start of an import (status=processing).
func CreateImportBatch(ctx context.Context, batch *ImportBatch) error {

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.Status = ImportStatusProcessing

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(batch).Error; err != nil {
		return utils.NewStorageError("create import batch", err)
	}
	return nil
}

// FinalizeImportBatch closes the batch with its outcome. rowCount reports how
// many period rows were written before success or failure.
func FinalizeImportBatch(ctx context.Context, batch *ImportBatch, status ImportStatus, rowCount int, errorMessage string) error {

	batch.Status = status
	batch.RowCount = rowCount
	batch.ErrorMessage = errorMessage

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(batch).
		UpdateColumns(map[string]interface{}{
			"status":        status,
			"row_count":     rowCount,
			"error_message": errorMessage,
		}).Error; err != nil {
		return utils.NewStorageError("finalize import batch", err)
	}
	return nil
}

func GetImportBatch(ctx context.Context, id string) (*ImportBatch, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return utils.FetchModel[ImportBatch](ctx, companyId, id)
}

// GetImportBatches lists batches newest first. importType can be blank for
// both kinds.
func GetImportBatches(ctx context.Context, importType ImportType, limit int) ([]*ImportBatch, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if importType != "" {
		dbCtx = dbCtx.Where("import_type = ?", importType)
	}
	var results []*ImportBatch
	if err := dbCtx.Order("created_at DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, utils.NewStorageError("list import batches", err)
	}
	return results, nil
}
