package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/forecast"
	"github.com/finsightapps/forecast_backend/models"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RunForecastInput selects what to project. Leaving LineItems or Configs nil
// loads the company's active line items and methodology configs; lines
// without a config fall back to the run-rate default.
type RunForecastInput struct {
	LineItems []*models.LineItem
	Configs   map[string]*models.MethodologyConfig
	Months    int
	Persist   bool
}

// ForecastRunSummary reports one orchestrator run: the shared version stamp,
// the projected points per line item and any data-quality notes collected
// along the way.
type ForecastRunSummary struct {
	ForecastVersion int64                       `json:"forecast_version"`
	StartPeriod     string                      `json:"start_period"`
	Months          int                         `json:"months"`
	LineCount       int                         `json:"line_count"`
	PointCount      int                         `json:"point_count"`
	Persisted       bool                        `json:"persisted"`
	Results         map[string][]forecast.Point `json:"results"`
	Notes           map[string][]string         `json:"notes,omitempty"`
}

// RunForecast projects every selected line forward under one shared forecast
// version. Lines are processed in driver dependency order so that a
// percent_of_revenue line sees its driver's freshly computed forecast.
// Persistence is chunked and at-least-once: a storage failure aborts the run
// without rolling back chunks already written, and the caller re-runs.
func RunForecast(ctx context.Context, input RunForecastInput) (*ForecastRunSummary, error) {

	logger := config.GetLogger()

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.NewValidationError("company id is required")
	}

	items := input.LineItems
	if len(items) == 0 {
		var err error
		items, err = models.GetActiveLineItems(ctx, companyId)
		if err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, utils.NewValidationError("no active line items to forecast")
	}

	configs := input.Configs
	if configs == nil {
		var err error
		configs, err = models.GetActiveMethodologyConfigs(ctx, companyId)
		if err != nil {
			return nil, err
		}
	}
	for _, item := range items {
		if configs[item.ID.String()] == nil {
			configs[item.ID.String()] = models.DefaultMethodologyConfig(companyId, item.ID.String())
		}
	}

	months := input.Months
	if months <= 0 {
		months = 12
	}

	series, lastYear, lastMonth, err := loadMergedSeries(ctx, companyId, items)
	if err != nil {
		return nil, err
	}
	if lastYear == 0 {
		return nil, utils.NewValidationError("no historical or actual data to forecast from")
	}
	startYear, startMonth := forecast.NextPeriod(lastYear, lastMonth)

	version, err := models.NextForecastVersion(ctx, companyId)
	if err != nil {
		return nil, err
	}
	generatedAt := time.Now().UTC()

	resolution := ResolveDriverOrder(items, configs)

	summary := &ForecastRunSummary{
		ForecastVersion: version,
		StartPeriod:     forecast.PeriodLabel(startYear, startMonth),
		Months:          months,
		LineCount:       len(items),
		Persisted:       input.Persist,
		Results:         make(map[string][]forecast.Point, len(items)),
		Notes:           map[string][]string{},
	}

	var projections []*models.ForecastProjection
	for _, item := range resolution.Ordered {
		id := item.ID.String()
		cfg := configs[id]

		params, paramErr := cfg.Parameters()
		notes := []string{}
		if paramErr != nil {
			params = forecast.DefaultParameters(string(cfg.Methodology))
			notes = append(notes, "stored parameters were unreadable; using methodology defaults")
		}
		if note, ok := resolution.Notes[id]; ok {
			notes = append(notes, note)
		}

		calcInput := forecast.Input{
			Method:          string(cfg.Methodology),
			Parameters:      params,
			History:         series[id],
			Months:          months,
			StartYear:       startYear,
			StartMonth:      startMonth,
			ManualOverrides: forecast.ExtractOverrides(params),
		}
		if driverId, ok := resolution.DriverOf[id]; ok {
			calcInput.DriverHistory = series[driverId]
			calcInput.DriverForecast = pointAmounts(summary.Results[driverId])
		} else if driverId, ok := resolution.FallbackDriver[id]; ok {
			calcInput.DriverHistory = series[driverId]
		}

		result := forecast.CalculateLineForecast(calcInput)
		notes = append(notes, result.Notes...)

		summary.Results[id] = result.Points
		summary.PointCount += len(result.Points)
		if len(notes) > 0 {
			summary.Notes[id] = notes
		}

		if input.Persist {
			for _, point := range result.Points {
				projections = append(projections, &models.ForecastProjection{
					CompanyId:             companyId,
					LineItemId:            id,
					PeriodYear:            point.Year,
					PeriodMonth:           point.Month,
					ForecastAmount:        point.Amount,
					MethodologyUsed:       cfg.Methodology,
					MethodologyParamsJSON: cfg.ParametersJSON,
					Notes:                 strings.Join(notes, "; "),
					ForecastVersion:       version,
					GeneratedAt:           generatedAt,
				})
			}
		}
	}

	if input.Persist {
		if err := models.UpsertProjections(ctx, projections); err != nil {
			config.LogError(logger, "workflow", "RunForecast", "persist projections", map[string]interface{}{
				"company_id":       companyId,
				"forecast_version": version,
			}, err)
			return nil, err
		}

		// projections changed, so cached variance for the horizon is stale
		year, month := startYear, startMonth
		for t := 0; t < months; t++ {
			if err := models.DeleteVarianceForPeriod(ctx, companyId, year, month); err != nil {
				config.LogError(logger, "workflow", "RunForecast", "invalidate variance cache", map[string]interface{}{
					"company_id": companyId,
					"period":     forecast.PeriodLabel(year, month),
				}, err)
				break
			}
			year, month = forecast.NextPeriod(year, month)
		}

		db := config.GetDB()
		if err := models.EnqueueEvent(db, ctx, companyId, models.EventTypeForecastRun, map[string]interface{}{
			"forecast_version": version,
			"start_period":     summary.StartPeriod,
			"months":           months,
			"line_count":       summary.LineCount,
			"point_count":      summary.PointCount,
		}); err != nil {
			config.LogError(logger, "workflow", "RunForecast", "enqueue run event", map[string]interface{}{
				"company_id": companyId,
			}, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"company_id":       companyId,
		"forecast_version": version,
		"line_count":       summary.LineCount,
		"point_count":      summary.PointCount,
		"persisted":        input.Persist,
	}).Info("forecast run completed")

	return summary, nil
}

// loadMergedSeries fetches Historical and Actual points for the given lines
// and merges them per line, Actuals winning on overlapping periods. It also
// reports the latest observed period across the whole company so every line
// in a run starts its forecast at the same month.
func loadMergedSeries(ctx context.Context, companyId string, items []*models.LineItem) (map[string][]forecast.Point, int, int, error) {

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID.String())
	}

	historicals, err := models.GetHistoricalPoints(ctx, companyId, ids)
	if err != nil {
		return nil, 0, 0, err
	}
	actuals, err := models.GetActualPoints(ctx, companyId, ids)
	if err != nil {
		return nil, 0, 0, err
	}

	type periodKey struct{ year, month int }
	merged := make(map[string]map[periodKey]forecast.Point)
	upsert := func(lineItemId string, year, month int, point forecast.Point) {
		if merged[lineItemId] == nil {
			merged[lineItemId] = map[periodKey]forecast.Point{}
		}
		merged[lineItemId][periodKey{year, month}] = point
	}
	for _, p := range historicals {
		upsert(p.LineItemId, p.PeriodYear, p.PeriodMonth, forecast.Point{Year: p.PeriodYear, Month: p.PeriodMonth, Amount: p.Amount})
	}
	for _, p := range actuals {
		upsert(p.LineItemId, p.PeriodYear, p.PeriodMonth, forecast.Point{Year: p.PeriodYear, Month: p.PeriodMonth, Amount: p.Amount})
	}

	series := make(map[string][]forecast.Point, len(merged))
	lastYear, lastMonth := 0, 0
	for lineItemId, byPeriod := range merged {
		points := make([]forecast.Point, 0, len(byPeriod))
		for _, point := range byPeriod {
			points = append(points, point)
			if point.Year*12+point.Month > lastYear*12+lastMonth {
				lastYear, lastMonth = point.Year, point.Month
			}
		}
		series[lineItemId] = points
	}
	return series, lastYear, lastMonth, nil
}

func pointAmounts(points []forecast.Point) []decimal.Decimal {
	out := make([]decimal.Decimal, len(points))
	for i, point := range points {
		out[i] = point.Amount
	}
	return out
}
