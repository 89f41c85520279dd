package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/models"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/finsightapps/forecast_backend/workbook"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// VarianceReport is the read-side answer for one month: the cached rows plus
// company-level totals. Rebuilt says whether this call repopulated the cache.
type VarianceReport struct {
	Period  string                   `json:"period"`
	Rebuilt bool                     `json:"rebuilt"`
	Records []*models.VarianceRecord `json:"records"`
	Summary VarianceSummary          `json:"summary"`
}

// VarianceSummary totals the rows that carry each component; rows without an
// actual contribute nothing to the actual totals, and so on.
type VarianceSummary struct {
	LineCount     int             `json:"line_count"`
	RestatedCount int             `json:"restated_count"`
	Forecast      decimal.Decimal `json:"forecast"`
	Actual        decimal.Decimal `json:"actual"`
	Variance      decimal.Decimal `json:"variance"`
	YtdForecast   decimal.Decimal `json:"ytd_forecast"`
	YtdActual     decimal.Decimal `json:"ytd_actual"`
	YtdVariance   decimal.Decimal `json:"ytd_variance"`
}

// RefreshVariance returns the variance rows of one month, rebuilding the
// cache from Projections and Actuals when it is empty. Callers always get
// the current state; the cache itself stays disposable. Rebuild-on-read can
// be switched off via VARIANCE_AUTO_REBUILD, leaving population to the
// variance-rebuild job.
func RefreshVariance(ctx context.Context, period string) (*VarianceReport, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.NewValidationError("company id is required")
	}
	year, month, ok := workbook.ParsePeriodKey(period)
	if !ok {
		return nil, utils.NewValidationError("invalid period %q, want YYYY-MM", period)
	}

	count, err := models.CountVarianceForPeriod(ctx, companyId, year, month)
	if err != nil {
		return nil, err
	}

	rebuilt := false
	if count == 0 && config.VarianceAutoRebuildEnabled() {
		if err := rebuildVariance(ctx, companyId, year, month); err != nil {
			return nil, err
		}
		rebuilt = true
	}

	return readVarianceReport(ctx, companyId, period, year, month, rebuilt)
}

// RebuildVariance recomputes one month unconditionally, discarding whatever
// the cache holds first. This is the explicit path for the rebuild job and
// ops runbooks; it ignores VARIANCE_AUTO_REBUILD.
func RebuildVariance(ctx context.Context, period string) (*VarianceReport, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.NewValidationError("company id is required")
	}
	year, month, ok := workbook.ParsePeriodKey(period)
	if !ok {
		return nil, utils.NewValidationError("invalid period %q, want YYYY-MM", period)
	}

	if err := models.DeleteVarianceForPeriod(ctx, companyId, year, month); err != nil {
		return nil, err
	}
	if err := rebuildVariance(ctx, companyId, year, month); err != nil {
		return nil, err
	}
	return readVarianceReport(ctx, companyId, period, year, month, true)
}

func readVarianceReport(ctx context.Context, companyId string, period string, year int, month int, rebuilt bool) (*VarianceReport, error) {
	records, err := models.GetVarianceRecords(ctx, companyId, year, month)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LineItemId < records[j].LineItemId
	})

	return &VarianceReport{
		Period:  period,
		Rebuilt: rebuilt,
		Records: records,
		Summary: SummarizeVariance(records),
	}, nil
}

// rebuildVariance derives one month of cache rows from the stores of record
// and writes them back. An empty month (no projections, no actuals) writes
// nothing, so the next read recomputes again; that keeps a not-yet-loaded
// month from pinning an empty cache.
func rebuildVariance(ctx context.Context, companyId string, year int, month int) error {

	logger := config.GetLogger()

	projections, err := models.GetLatestProjectionsForPeriod(ctx, companyId, year, month)
	if err != nil {
		return err
	}
	actuals, err := models.GetActualsForPeriod(ctx, companyId, year, month)
	if err != nil {
		return err
	}
	ytdForecast, err := models.SumLatestProjectionsThrough(ctx, companyId, year, month)
	if err != nil {
		return err
	}
	ytdActual, err := models.SumActualsThrough(ctx, companyId, year, month)
	if err != nil {
		return err
	}
	priorYear, err := models.GetActualsForPeriod(ctx, companyId, year-1, month)
	if err != nil {
		return err
	}

	rows := BuildVarianceRows(companyId, year, month, projections, actuals, ytdForecast, ytdActual, priorYear, time.Now().UTC())
	if len(rows) == 0 {
		return nil
	}
	if err := models.UpsertVarianceRecords(ctx, rows); err != nil {
		return err
	}

	if err := models.EnqueueEvent(config.GetDB(), ctx, companyId, models.EventTypeVarianceRebuilt, map[string]interface{}{
		"period":    workbook.PeriodKey(year, month),
		"row_count": len(rows),
	}); err != nil {
		config.LogError(logger, "workflow", "rebuildVariance", "enqueue event", nil, err)
	}

	logger.WithFields(logrus.Fields{
		"company_id": companyId,
		"period":     workbook.PeriodKey(year, month),
		"rows":       len(rows),
	}).Info("variance cache rebuilt")
	return nil
}

// BuildVarianceRows is the pure core of the rebuild: same inputs, same rows.
// A line appears when it has a projection or an actual for the month.
// Variance fields stay nil unless both sides exist, and the percent also
// needs a non-zero forecast.
func BuildVarianceRows(companyId string, year int, month int,
	projections []*models.ForecastProjection, actuals []*models.ActualPoint,
	ytdForecast map[string]decimal.Decimal, ytdActual map[string]decimal.Decimal,
	priorYear []*models.ActualPoint, calculatedAt time.Time) []*models.VarianceRecord {

	forecastBy := make(map[string]decimal.Decimal, len(projections))
	for _, projection := range projections {
		forecastBy[projection.LineItemId] = projection.ForecastAmount
	}
	actualBy := make(map[string]*models.ActualPoint, len(actuals))
	for _, actual := range actuals {
		actualBy[actual.LineItemId] = actual
	}
	priorBy := make(map[string]decimal.Decimal, len(priorYear))
	for _, actual := range priorYear {
		priorBy[actual.LineItemId] = actual.Amount
	}

	lineIds := make([]string, 0, len(forecastBy)+len(actualBy))
	seen := map[string]bool{}
	for _, projection := range projections {
		if !seen[projection.LineItemId] {
			seen[projection.LineItemId] = true
			lineIds = append(lineIds, projection.LineItemId)
		}
	}
	for _, actual := range actuals {
		if !seen[actual.LineItemId] {
			seen[actual.LineItemId] = true
			lineIds = append(lineIds, actual.LineItemId)
		}
	}
	sort.Strings(lineIds)

	rows := make([]*models.VarianceRecord, 0, len(lineIds))
	for _, lineId := range lineIds {
		row := &models.VarianceRecord{
			CompanyId:    companyId,
			LineItemId:   lineId,
			PeriodYear:   year,
			PeriodMonth:  month,
			CalculatedAt: calculatedAt,
		}

		if forecast, ok := forecastBy[lineId]; ok {
			row.ForecastAmount = decimalPtr(forecast)
		}
		if actual, ok := actualBy[lineId]; ok {
			row.ActualAmount = decimalPtr(actual.Amount)
			row.IsRestated = actual.IsRestated
		}
		if row.ForecastAmount != nil && row.ActualAmount != nil {
			variance := row.ActualAmount.Sub(*row.ForecastAmount)
			row.VarianceAmount = &variance
			if !row.ForecastAmount.IsZero() {
				percent := variance.Div(*row.ForecastAmount).Mul(decimal.NewFromInt(100))
				row.VariancePercent = &percent
			}
		}

		if total, ok := ytdForecast[lineId]; ok {
			row.YtdForecast = decimalPtr(total)
		}
		if total, ok := ytdActual[lineId]; ok {
			row.YtdActual = decimalPtr(total)
		}
		if row.YtdForecast != nil && row.YtdActual != nil {
			variance := row.YtdActual.Sub(*row.YtdForecast)
			row.YtdVariance = &variance
		}

		if prior, ok := priorBy[lineId]; ok {
			row.PriorYearActual = decimalPtr(prior)
		}

		rows = append(rows, row)
	}
	return rows
}

// SummarizeVariance rolls the rows up to company level.
func SummarizeVariance(records []*models.VarianceRecord) VarianceSummary {

	summary := VarianceSummary{LineCount: len(records)}
	for _, record := range records {
		if record.IsRestated {
			summary.RestatedCount++
		}
		if record.ForecastAmount != nil {
			summary.Forecast = summary.Forecast.Add(*record.ForecastAmount)
		}
		if record.ActualAmount != nil {
			summary.Actual = summary.Actual.Add(*record.ActualAmount)
		}
		if record.VarianceAmount != nil {
			summary.Variance = summary.Variance.Add(*record.VarianceAmount)
		}
		if record.YtdForecast != nil {
			summary.YtdForecast = summary.YtdForecast.Add(*record.YtdForecast)
		}
		if record.YtdActual != nil {
			summary.YtdActual = summary.YtdActual.Add(*record.YtdActual)
		}
		if record.YtdVariance != nil {
			summary.YtdVariance = summary.YtdVariance.Add(*record.YtdVariance)
		}
	}
	return summary
}

func decimalPtr(value decimal.Decimal) *decimal.Decimal {
	return &value
}
