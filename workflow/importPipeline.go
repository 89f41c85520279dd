package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/models"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/finsightapps/forecast_backend/workbook"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// Historical imports seed the forecast baseline, so a thin file is
	// almost always the wrong file. Actuals arrive month by month.
	MinHistoricalMonths = 24
	MinActualMonths     = 1
)

// ImportSummary reports one completed import: the audit batch row plus the
// counters a caller shows to the user.
type ImportSummary struct {
	Batch             *models.ImportBatch `json:"batch"`
	PointCount        int                 `json:"point_count"`
	LineItemsCreated  int                 `json:"line_items_created"`
	LineItemsExisting int                 `json:"line_items_existing"`
	RestatedCount     int                 `json:"restated_count"`
	PeriodStart       string              `json:"period_start"`
	PeriodEnd         string              `json:"period_end"`
	FileUrl           string              `json:"file_url,omitempty"`
}

// ImportHistorical loads a multi-year statement export into the historical
// store. The file must cover at least 24 month columns.
func ImportHistorical(ctx context.Context, fileName string, data []byte) (*ImportSummary, error) {
	return runImport(ctx, models.ImportTypeHistorical, MinHistoricalMonths, fileName, data)
}

// ImportActuals loads closed months into the actuals store, flagging
// restatements against previously imported values.
func ImportActuals(ctx context.Context, fileName string, data []byte) (*ImportSummary, error) {
	return runImport(ctx, models.ImportTypeActuals, MinActualMonths, fileName, data)
}

// runImport is the shared pipeline: parse, ensure registry entries, record
// the batch, then upsert points in chunks. Validation failures happen before
// any write. After the batch row exists, point chunks commit independently
// (at-least-once, last write wins), so a failed import can leave earlier
// chunks in place; the batch row records the outcome either way.
func runImport(ctx context.Context, importType models.ImportType, minMonths int, fileName string, data []byte) (*ImportSummary, error) {

	logger := config.GetLogger()

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.NewValidationError("company id is required")
	}

	sheet, err := workbook.ParseWorkbook(fileName, data)
	if err != nil {
		return nil, err
	}
	if len(sheet.Months) < minMonths {
		return nil, utils.NewValidationError("%s imports need at least %d month columns, found %d",
			importType, minMonths, len(sheet.Months))
	}

	rows := sheet.ExtractLineRows()
	if len(rows) == 0 {
		return nil, utils.NewValidationError("no data rows could be extracted from the file")
	}

	incoming := make([]models.IncomingLineItem, 0, len(rows))
	statementCounts := map[models.StatementType]int{}
	for _, row := range rows {
		statement := rowStatement(row)
		statementCounts[statement]++
		incoming = append(incoming, models.IncomingLineItem{
			StatementType: statement,
			LineCode:      row.LineCode,
			LineName:      row.LineName,
			Category:      row.Category,
			Subcategory:   row.Subcategory,
		})
	}

	db := config.GetDB()

	tx := db.Begin()
	resolved, created, existing, err := models.EnsureLineItems(tx, ctx, companyId, incoming)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewStorageError("commit line items", err)
	}

	periodStart, periodEnd := sheet.PeriodRange()

	batch := &models.ImportBatch{
		CompanyId:         companyId,
		ImportType:        importType,
		StatementType:     dominantStatement(statementCounts),
		FileName:          fileName,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
		LineItemsCreated:  created,
		LineItemsExisting: existing,
	}
	if err := models.CreateImportBatch(ctx, batch); err != nil {
		return nil, err
	}

	summary := &ImportSummary{
		Batch:             batch,
		LineItemsCreated:  created,
		LineItemsExisting: existing,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
	}

	// archive the raw upload for audit; the import does not depend on it
	if url, upErr := archiveWorkbook(ctx, companyId, fileName, data); upErr != nil {
		logger.WithFields(logrus.Fields{
			"company_id": companyId,
			"batch_id":   batch.ID.String(),
		}).Warn("workbook archive skipped: " + upErr.Error())
	} else {
		summary.FileUrl = url
		batch.FileUrl = url
		if err := db.WithContext(ctx).Model(batch).UpdateColumn("file_url", url).Error; err != nil {
			config.LogError(logger, "workflow", "runImport", "store file url", nil, err)
		}
	}

	fail := func(stage string, failErr error) (*ImportSummary, error) {
		if finErr := models.FinalizeImportBatch(ctx, batch, models.ImportStatusFailed, 0, failErr.Error()); finErr != nil {
			config.LogError(logger, "workflow", "runImport", "finalize failed batch", map[string]interface{}{
				"batch_id": batch.ID.String(),
			}, finErr)
		}
		if evtErr := models.EnqueueEvent(db, ctx, companyId, models.EventTypeImportFailed, map[string]interface{}{
			"batch_id":    batch.ID.String(),
			"import_type": importType,
			"stage":       stage,
			"error":       failErr.Error(),
		}); evtErr != nil {
			config.LogError(logger, "workflow", "runImport", "enqueue failure event", nil, evtErr)
		}
		config.LogError(logger, "workflow", "runImport", stage, map[string]interface{}{
			"company_id": companyId,
			"batch_id":   batch.ID.String(),
		}, failErr)
		return nil, failErr
	}

	switch importType {
	case models.ImportTypeActuals:
		points, restated, buildErr := buildActualPoints(db, ctx, companyId, batch.ID.String(), sheet, rows, resolved)
		if buildErr != nil {
			return fail("prefetch existing actuals", buildErr)
		}
		summary.RestatedCount = restated
		summary.PointCount = len(points)
		if err := models.UpsertActualPoints(db, ctx, points); err != nil {
			return fail("upsert actual points", err)
		}
		// actuals for these months changed, cached variance is stale
		invalidateVarianceForMonths(ctx, companyId, sheet.Months, logger)
	default:
		points := buildHistoricalPoints(companyId, batch.ID.String(), rows, resolved)
		summary.PointCount = len(points)
		if err := models.UpsertHistoricalPoints(db, ctx, points); err != nil {
			return fail("upsert historical points", err)
		}
	}

	if err := models.FinalizeImportBatch(ctx, batch, models.ImportStatusCompleted, summary.PointCount, ""); err != nil {
		return fail("finalize batch", err)
	}

	if err := models.EnqueueEvent(db, ctx, companyId, models.EventTypeImportCompleted, map[string]interface{}{
		"batch_id":            batch.ID.String(),
		"import_type":         importType,
		"point_count":         summary.PointCount,
		"line_items_created":  created,
		"line_items_existing": existing,
		"restated_count":      summary.RestatedCount,
		"period_start":        periodStart,
		"period_end":          periodEnd,
	}); err != nil {
		config.LogError(logger, "workflow", "runImport", "enqueue import event", nil, err)
	}

	logger.WithFields(logrus.Fields{
		"company_id":  companyId,
		"batch_id":    batch.ID.String(),
		"import_type": importType,
		"points":      summary.PointCount,
		"created":     created,
		"existing":    existing,
		"restated":    summary.RestatedCount,
	}).Info("import completed")

	return summary, nil
}

func rowStatement(row workbook.LineRow) models.StatementType {
	if row.Statement == "" {
		return models.StatementTypeIncomeStatement
	}
	statement, err := models.ParseStatementType(row.Statement)
	if err != nil {
		return models.StatementTypeIncomeStatement
	}
	return statement
}

// dominantStatement picks the batch-level label when a file mixes rows of
// both statements.
func dominantStatement(counts map[models.StatementType]int) models.StatementType {
	if counts[models.StatementTypeBalanceSheet] > counts[models.StatementTypeIncomeStatement] {
		return models.StatementTypeBalanceSheet
	}
	return models.StatementTypeIncomeStatement
}

func resolveLineItem(resolved map[string]*models.LineItem, row workbook.LineRow) *models.LineItem {
	code := models.NormalizeLineCode(row.LineCode)
	if code == "" {
		code = models.NormalizeLineCode(row.LineName)
	}
	return resolved[models.LineItemKey(rowStatement(row), code)]
}

func buildHistoricalPoints(companyId string, batchId string, rows []workbook.LineRow, resolved map[string]*models.LineItem) []*models.HistoricalPoint {

	points := make([]*models.HistoricalPoint, 0, len(rows)*12)
	for _, row := range rows {
		item := resolveLineItem(resolved, row)
		if item == nil {
			continue
		}
		for _, amount := range row.Amounts {
			points = append(points, &models.HistoricalPoint{
				CompanyId:     companyId,
				LineItemId:    item.ID.String(),
				PeriodYear:    amount.Year,
				PeriodMonth:   amount.Month,
				Amount:        amount.Amount,
				ImportBatchId: batchId,
			})
		}
	}
	return points
}

// buildActualPoints assembles the rows to upsert, comparing each incoming
// amount against the stored one so restatements carry the prior amount.
// Re-importing an identical value is not a restatement.
func buildActualPoints(db *gorm.DB, ctx context.Context, companyId string, batchId string, sheet *workbook.Sheet, rows []workbook.LineRow, resolved map[string]*models.LineItem) ([]*models.ActualPoint, int, error) {

	yearFrom, yearTo := sheetYearRange(sheet)
	existing, err := models.FetchActualAmounts(db, ctx, companyId, yearFrom, yearTo)
	if err != nil {
		return nil, 0, err
	}

	restated := 0
	points := make([]*models.ActualPoint, 0, len(rows)*12)
	for _, row := range rows {
		item := resolveLineItem(resolved, row)
		if item == nil {
			continue
		}
		for _, amount := range row.Amounts {
			point := &models.ActualPoint{
				CompanyId:     companyId,
				LineItemId:    item.ID.String(),
				PeriodYear:    amount.Year,
				PeriodMonth:   amount.Month,
				Amount:        amount.Amount,
				ImportBatchId: batchId,
			}
			if old, ok := existing[models.ActualKey(point.LineItemId, point.PeriodYear, point.PeriodMonth)]; ok && !old.Equal(amount.Amount) {
				prior := old
				point.PriorAmount = &prior
				point.IsRestated = true
				restated++
			}
			points = append(points, point)
		}
	}
	return points, restated, nil
}

func sheetYearRange(sheet *workbook.Sheet) (int, int) {
	yearFrom, yearTo := 0, 0
	for _, month := range sheet.Months {
		if yearFrom == 0 || month.Year < yearFrom {
			yearFrom = month.Year
		}
		if month.Year > yearTo {
			yearTo = month.Year
		}
	}
	return yearFrom, yearTo
}

func invalidateVarianceForMonths(ctx context.Context, companyId string, months []workbook.MonthColumn, logger *logrus.Logger) {

	seen := map[string]bool{}
	for _, month := range months {
		key := month.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := models.DeleteVarianceForPeriod(ctx, companyId, month.Year, month.Month); err != nil {
			config.LogError(logger, "workflow", "runImport", "invalidate variance cache", map[string]interface{}{
				"company_id": companyId,
				"period":     key,
			}, err)
		}
	}
}

// archiveWorkbook stores the raw upload in the workbook bucket, preserving
// the original extension so the stored object opens with the right type.
func archiveWorkbook(ctx context.Context, companyId string, fileName string, data []byte) (string, error) {

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != ".xlsx" && ext != ".csv" {
		ext = ".csv"
	}
	objectName := fmt.Sprintf("imports/%s/%s%s", companyId, utils.GenerateUniqueFilename(), ext)
	return utils.UploadWorkbookToGCS(ctx, objectName, data)
}
