package workflow

import (
	"reflect"
	"testing"
	"time"

	"github.com/finsightapps/forecast_backend/models"
	"github.com/shopspring/decimal"
)

func varianceProjection(lineId string, amount float64) *models.ForecastProjection {
	return &models.ForecastProjection{
		CompanyId:      "company-1",
		LineItemId:     lineId,
		PeriodYear:     2026,
		PeriodMonth:    3,
		ForecastAmount: decimal.NewFromFloat(amount),
	}
}

func varianceActual(lineId string, amount float64, restated bool) *models.ActualPoint {
	return &models.ActualPoint{
		CompanyId:   "company-1",
		LineItemId:  lineId,
		PeriodYear:  2026,
		PeriodMonth: 3,
		Amount:      decimal.NewFromFloat(amount),
		IsRestated:  restated,
	}
}

func TestBuildVarianceRowsComputesVarianceAndPercent(t *testing.T) {
	rows := BuildVarianceRows("company-1", 2026, 3,
		[]*models.ForecastProjection{varianceProjection("line-a", 1000)},
		[]*models.ActualPoint{varianceActual("line-a", 1100, false)},
		nil, nil, nil, time.Now().UTC())

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.VarianceAmount == nil || !row.VarianceAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected variance 100, got %v", row.VarianceAmount)
	}
	if row.VariancePercent == nil || !row.VariancePercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected variance percent 10, got %v", row.VariancePercent)
	}
	if row.IsRestated {
		t.Fatalf("expected is_restated false")
	}
}

func TestBuildVarianceRowsActualMissing(t *testing.T) {
	rows := BuildVarianceRows("company-1", 2026, 3,
		[]*models.ForecastProjection{varianceProjection("line-a", 1000)},
		nil, nil, nil, nil, time.Now().UTC())

	row := rows[0]
	if row.ForecastAmount == nil || !row.ForecastAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected forecast 1000, got %v", row.ForecastAmount)
	}
	if row.ActualAmount != nil || row.VarianceAmount != nil || row.VariancePercent != nil {
		t.Fatalf("fields needing an actual must stay nil, got %v / %v / %v",
			row.ActualAmount, row.VarianceAmount, row.VariancePercent)
	}
}

func TestBuildVarianceRowsForecastMissing(t *testing.T) {
	// an actual with no projection still shows up, with no variance
	rows := BuildVarianceRows("company-1", 2026, 3,
		nil,
		[]*models.ActualPoint{varianceActual("line-a", 500, false)},
		nil, nil, nil, time.Now().UTC())

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.ForecastAmount != nil || row.VarianceAmount != nil {
		t.Fatalf("expected nil forecast and variance, got %v / %v", row.ForecastAmount, row.VarianceAmount)
	}
	if row.ActualAmount == nil || !row.ActualAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected actual 500, got %v", row.ActualAmount)
	}
}

func TestBuildVarianceRowsZeroForecastHasNoPercent(t *testing.T) {
	rows := BuildVarianceRows("company-1", 2026, 3,
		[]*models.ForecastProjection{varianceProjection("line-a", 0)},
		[]*models.ActualPoint{varianceActual("line-a", 50, false)},
		nil, nil, nil, time.Now().UTC())

	row := rows[0]
	if row.VarianceAmount == nil || !row.VarianceAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected variance 50, got %v", row.VarianceAmount)
	}
	if row.VariancePercent != nil {
		t.Fatalf("percent against a zero forecast must stay nil, got %v", row.VariancePercent)
	}
}

func TestBuildVarianceRowsYtdAndPriorYear(t *testing.T) {
	ytdForecast := map[string]decimal.Decimal{"line-a": decimal.NewFromInt(3000)}
	ytdActual := map[string]decimal.Decimal{"line-a": decimal.NewFromInt(3300)}
	priorYear := []*models.ActualPoint{
		{CompanyId: "company-1", LineItemId: "line-a", PeriodYear: 2025, PeriodMonth: 3, Amount: decimal.NewFromInt(900)},
	}

	rows := BuildVarianceRows("company-1", 2026, 3,
		[]*models.ForecastProjection{varianceProjection("line-a", 1000)},
		[]*models.ActualPoint{varianceActual("line-a", 1100, false)},
		ytdForecast, ytdActual, priorYear, time.Now().UTC())

	row := rows[0]
	if row.YtdVariance == nil || !row.YtdVariance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected ytd variance 300, got %v", row.YtdVariance)
	}
	if row.PriorYearActual == nil || !row.PriorYearActual.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected prior year actual 900, got %v", row.PriorYearActual)
	}
}

func TestBuildVarianceRowsYtdNeedsBothSides(t *testing.T) {
	ytdForecast := map[string]decimal.Decimal{"line-a": decimal.NewFromInt(3000)}

	rows := BuildVarianceRows("company-1", 2026, 3,
		[]*models.ForecastProjection{varianceProjection("line-a", 1000)},
		nil, ytdForecast, nil, nil, time.Now().UTC())

	row := rows[0]
	if row.YtdForecast == nil {
		t.Fatalf("expected ytd forecast to be set")
	}
	if row.YtdActual != nil || row.YtdVariance != nil {
		t.Fatalf("expected nil ytd actual and variance, got %v / %v", row.YtdActual, row.YtdVariance)
	}
}

func TestBuildVarianceRowsCarriesRestatement(t *testing.T) {
	rows := BuildVarianceRows("company-1", 2026, 3,
		nil,
		[]*models.ActualPoint{varianceActual("line-a", 500, true)},
		nil, nil, nil, time.Now().UTC())

	if !rows[0].IsRestated {
		t.Fatalf("expected restatement flag to carry into the variance row")
	}
}

func TestBuildVarianceRowsSortedAndDeterministic(t *testing.T) {
	projections := []*models.ForecastProjection{
		varianceProjection("line-b", 200),
		varianceProjection("line-a", 100),
	}
	actuals := []*models.ActualPoint{
		varianceActual("line-c", 300, false),
		varianceActual("line-a", 110, false),
	}
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	first := BuildVarianceRows("company-1", 2026, 3, projections, actuals, nil, nil, nil, at)
	second := BuildVarianceRows("company-1", 2026, 3, projections, actuals, nil, nil, nil, at)

	if len(first) != 3 {
		t.Fatalf("expected union of 3 lines, got %d", len(first))
	}
	for i, expected := range []string{"line-a", "line-b", "line-c"} {
		if first[i].LineItemId != expected {
			t.Fatalf("position %d: expected %q, got %q", i, expected, first[i].LineItemId)
		}
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two rebuilds over the same inputs must produce identical rows")
	}
}

func TestSummarizeVariance(t *testing.T) {
	at := time.Now().UTC()
	rows := BuildVarianceRows("company-1", 2026, 3,
		[]*models.ForecastProjection{
			varianceProjection("line-a", 1000),
			varianceProjection("line-b", 2000),
		},
		[]*models.ActualPoint{
			varianceActual("line-a", 1100, true),
			// line-b has no actual yet
			varianceActual("line-c", 300, false),
		},
		nil, nil, nil, at)

	summary := SummarizeVariance(rows)

	if summary.LineCount != 3 {
		t.Fatalf("expected 3 lines, got %d", summary.LineCount)
	}
	if summary.RestatedCount != 1 {
		t.Fatalf("expected 1 restated line, got %d", summary.RestatedCount)
	}
	if !summary.Forecast.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected forecast total 3000, got %s", summary.Forecast)
	}
	if !summary.Actual.Equal(decimal.NewFromInt(1400)) {
		t.Fatalf("expected actual total 1400, got %s", summary.Actual)
	}
	// only line-a has both sides, so the variance total is its 100
	if !summary.Variance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected variance total 100, got %s", summary.Variance)
	}
}
