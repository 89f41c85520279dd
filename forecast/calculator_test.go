package forecast

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func points(start string, amounts ...float64) []Point {
	year := int(start[0]-'0')*1000 + int(start[1]-'0')*100 + int(start[2]-'0')*10 + int(start[3]-'0')
	month := int(start[5]-'0')*10 + int(start[6]-'0')
	out := make([]Point, 0, len(amounts))
	for _, amount := range amounts {
		out = append(out, Point{Year: year, Month: month, Amount: decimal.NewFromFloat(amount)})
		year, month = NextPeriod(year, month)
	}
	return out
}

func hasNote(notes []string, substr string) bool {
	for _, note := range notes {
		if strings.Contains(note, substr) {
			return true
		}
	}
	return false
}

func TestCalculate_StraightLine_AveragesLookbackWindow(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodStraightLine,
		Parameters: map[string]interface{}{"lookback_months": 3},
		History:    points("2025-10", 12000, 11500, 11800),
		Months:     3,
	})

	if len(result.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(result.Points))
	}
	for _, p := range result.Points {
		if p.Amount.StringFixed(3) != "11766.667" {
			t.Fatalf("expected 11766.667 for %04d-%02d, got %s", p.Year, p.Month, p.Amount.StringFixed(3))
		}
	}
	if result.Points[0].Year != 2026 || result.Points[0].Month != 1 {
		t.Fatalf("expected forecast to start 2026-01, got %04d-%02d", result.Points[0].Year, result.Points[0].Month)
	}
}

func TestCalculate_StraightLine_LookbackLongerThanHistory(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodStraightLine,
		Parameters: map[string]interface{}{"lookback_months": 6},
		History:    points("2025-11", 100, 200),
		Months:     1,
	})
	if result.Points[0].Amount.StringFixed(0) != "150" {
		t.Fatalf("expected average of available history 150, got %s", result.Points[0].Amount)
	}
}

func TestCalculate_GrowthRate_MonthlyCompounding(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method: MethodGrowthRate,
		Parameters: map[string]interface{}{
			"annual_growth_percent": 12,
			"compounding":           "monthly",
		},
		History: points("2025-10", 12000, 11500, 11800),
		Months:  12,
	})

	// first point applies one month of the equivalent monthly rate
	expectedFirst := decimal.NewFromInt(11800).Mul(decimal.NewFromFloat(math.Pow(1.12, 1.0/12)))
	if got := result.Points[0].Amount.StringFixed(4); got != expectedFirst.StringFixed(4) {
		t.Fatalf("expected first point %s, got %s", expectedFirst.StringFixed(4), got)
	}

	// after 12 months the full 12% has compounded in
	expectedLast := decimal.NewFromInt(11800).Mul(decimal.NewFromFloat(1.12))
	diff := result.Points[11].Amount.Sub(expectedLast).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Fatalf("expected ~%s after a year, got %s", expectedLast, result.Points[11].Amount)
	}
}

func TestCalculate_GrowthRate_SimpleCompounding(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method: MethodGrowthRate,
		Parameters: map[string]interface{}{
			"annual_growth_percent": 12,
			"compounding":           "simple",
		},
		History: points("2025-12", 1000),
		Months:  1,
	})
	// 12% / 12 = 1% per month
	if got := result.Points[0].Amount.StringFixed(2); got != "1010.00" {
		t.Fatalf("expected 1010.00, got %s", got)
	}
}

func TestCalculate_PercentOfRevenue_AutoDerivesRatio(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:         MethodPercentOfRevenue,
		Parameters:     map[string]interface{}{"driver_line_code": "revenue", "percent": 0},
		History:        points("2025-09", 5000, 5200, 5100, 5300),
		DriverHistory:  points("2025-09", 50000, 52000, 51000, 53000),
		DriverForecast: []decimal.Decimal{decimal.NewFromInt(54000)},
		Months:         1,
	})

	if got := result.Points[0].Amount.StringFixed(2); got != "5400.00" {
		t.Fatalf("expected 10%% of 54000 = 5400.00, got %s", got)
	}
	if !hasNote(result.Notes, "auto-derived") {
		t.Fatalf("expected an auto-derivation note, got %v", result.Notes)
	}
}

func TestCalculate_PercentOfRevenue_FallsBackToLastDriverActual(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:        MethodPercentOfRevenue,
		Parameters:    map[string]interface{}{"driver_line_code": "revenue", "percent": 20},
		History:       points("2025-11", 10000, 10400),
		DriverHistory: points("2025-11", 50000, 52000),
		Months:        2,
		// no DriverForecast supplied
	})

	for _, p := range result.Points {
		if got := p.Amount.StringFixed(2); got != "10400.00" {
			t.Fatalf("expected 20%% of last driver actual 52000 = 10400.00, got %s", got)
		}
	}
	if !hasNote(result.Notes, "last actual") {
		t.Fatalf("expected a fallback note, got %v", result.Notes)
	}
}

func TestCalculate_PercentOfRevenue_NoDriverDataDegradesToZero(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodPercentOfRevenue,
		Parameters: map[string]interface{}{"driver_line_code": "revenue"},
		History:    points("2025-11", 10000, 10400),
		Months:     1,
	})
	if !result.Points[0].Amount.IsZero() {
		t.Fatalf("expected 0 with no driver data, got %s", result.Points[0].Amount)
	}
	if len(result.Notes) == 0 {
		t.Fatal("expected an explanatory note")
	}
}

func TestCalculate_MovingAverage_WindowSlidesOverForecastPoints(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodMovingAverage,
		Parameters: map[string]interface{}{"window_months": 3},
		History:    points("2025-10", 10, 20, 30),
		Months:     3,
	})

	// p0 = avg(10,20,30) = 20; p1 = avg(20,30,20); p2 = avg(30,20,p1)
	three := decimal.NewFromInt(3)
	p1 := decimal.NewFromInt(70).Div(three)
	p2 := decimal.NewFromInt(50).Add(p1).Div(three)
	expected := []string{"20.0000", p1.StringFixed(4), p2.StringFixed(4)}
	for i, want := range expected {
		if got := result.Points[i].Amount.StringFixed(4); got != want {
			t.Fatalf("point %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestCalculate_LinearTrend_ProjectsFittedLine(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodLinearTrend,
		Parameters: map[string]interface{}{"lookback_months": 12},
		History:    points("2025-10", 100, 200, 300),
		Months:     2,
	})

	// perfect fit: y = 100 + 100x over x=0..2, so x=3 -> 400, x=4 -> 500
	if got := result.Points[0].Amount.StringFixed(2); got != "400.00" {
		t.Fatalf("expected 400.00, got %s", got)
	}
	if got := result.Points[1].Amount.StringFixed(2); got != "500.00" {
		t.Fatalf("expected 500.00, got %s", got)
	}
}

func TestCalculate_LinearTrend_SinglePointHoldsFlat(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodLinearTrend,
		Parameters: map[string]interface{}{},
		History:    points("2025-12", 250),
		Months:     2,
	})
	for _, p := range result.Points {
		if got := p.Amount.StringFixed(0); got != "250" {
			t.Fatalf("expected flat 250, got %s", got)
		}
	}
	if !hasNote(result.Notes, "single history point") {
		t.Fatalf("expected a degenerate-trend note, got %v", result.Notes)
	}
}

func TestCalculate_Seasonal_SameMonthAverageWithGrowth(t *testing.T) {
	history := append(points("2024-01", 100, 200), points("2025-01", 120, 220)...)
	result := CalculateLineForecast(Input{
		Method: MethodSeasonal,
		Parameters: map[string]interface{}{
			"years_lookback": 2,
			"growth_percent": 10,
		},
		History:    history,
		StartYear:  2026,
		StartMonth: 1,
		Months:     2,
	})

	// Jan: avg(100,120)*1.1 = 121; Feb: avg(200,220)*1.1 = 231
	if got := result.Points[0].Amount.StringFixed(2); got != "121.00" {
		t.Fatalf("expected 121.00 for January, got %s", got)
	}
	if got := result.Points[1].Amount.StringFixed(2); got != "231.00" {
		t.Fatalf("expected 231.00 for February, got %s", got)
	}
}

func TestCalculate_Seasonal_MissingMonthFallsBackToOverallAverage(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodSeasonal,
		Parameters: map[string]interface{}{"years_lookback": 3},
		History:    points("2025-01", 100, 300),
		StartYear:  2026,
		StartMonth: 6,
		Months:     1,
	})
	if got := result.Points[0].Amount.StringFixed(0); got != "200" {
		t.Fatalf("expected overall average 200 for a month with no history, got %s", got)
	}
	if !hasNote(result.Notes, "overall average") {
		t.Fatalf("expected a fallback note, got %v", result.Notes)
	}
}

func TestCalculate_DriverBased_UnitsTimesRate(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method: MethodDriverBased,
		Parameters: map[string]interface{}{
			"base_units":          100,
			"unit_growth_percent": 0,
			"rate_per_unit":       2.5,
		},
		StartYear:  2026,
		StartMonth: 1,
		Months:     3,
	})
	for _, p := range result.Points {
		if got := p.Amount.StringFixed(2); got != "250.00" {
			t.Fatalf("expected 250.00, got %s", got)
		}
	}
}

func TestCalculate_Manual_ConstantWithOverrides(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodManual,
		Parameters: map[string]interface{}{"monthly_value": 500},
		StartYear:  2026,
		StartMonth: 2,
		Months:     3,
		ManualOverrides: map[string]decimal.Decimal{
			"2026-03": decimal.NewFromInt(999),
		},
	})

	if got := result.Points[0].Amount.StringFixed(0); got != "500" {
		t.Fatalf("expected 500, got %s", got)
	}
	if got := result.Points[1].Amount.StringFixed(0); got != "999" {
		t.Fatalf("expected override 999 for 2026-03, got %s", got)
	}
	if got := result.Points[2].Amount.StringFixed(0); got != "500" {
		t.Fatalf("expected 500 after the override month, got %s", got)
	}
}

func TestCalculate_OverrideAppliesToEveryMethod(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodRunRate,
		Parameters: map[string]interface{}{},
		History:    points("2025-10", 100, 100, 100),
		Months:     2,
		ManualOverrides: map[string]decimal.Decimal{
			"2026-01": decimal.NewFromInt(777),
		},
	})
	if got := result.Points[0].Amount.StringFixed(0); got != "777" {
		t.Fatalf("expected override to win over run rate, got %s", got)
	}
	if got := result.Points[1].Amount.StringFixed(0); got != "100" {
		t.Fatalf("expected run rate after override month, got %s", got)
	}
}

func TestCalculate_EmptyHistoryNoStart_ReturnsNoPoints(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodStraightLine,
		Parameters: map[string]interface{}{},
	})
	if len(result.Points) != 0 {
		t.Fatalf("expected no points without history or start, got %d", len(result.Points))
	}
	if len(result.Notes) == 0 {
		t.Fatal("expected an explanatory note")
	}
}

func TestCalculate_EmptyHistoryWithStart_DegradesToZero(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodStraightLine,
		Parameters: map[string]interface{}{},
		StartYear:  2026,
		StartMonth: 1,
		Months:     2,
	})
	if len(result.Points) != 2 {
		t.Fatalf("expected 2 zero points, got %d", len(result.Points))
	}
	for _, p := range result.Points {
		if !p.Amount.IsZero() {
			t.Fatalf("expected 0, got %s", p.Amount)
		}
	}
	if !hasNote(result.Notes, "no history") {
		t.Fatalf("expected a no-history note, got %v", result.Notes)
	}
}

func TestCalculate_MonthsDefaultsToTwelve(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodManual,
		Parameters: map[string]interface{}{"monthly_value": 1},
		StartYear:  2026,
		StartMonth: 1,
	})
	if len(result.Points) != 12 {
		t.Fatalf("expected 12 points by default, got %d", len(result.Points))
	}
}

func TestCalculate_UnsortedHistoryIsOrderedBeforeUse(t *testing.T) {
	history := []Point{
		{Year: 2025, Month: 12, Amount: decimal.NewFromInt(11800)},
		{Year: 2025, Month: 10, Amount: decimal.NewFromInt(12000)},
		{Year: 2025, Month: 11, Amount: decimal.NewFromInt(11500)},
	}
	result := CalculateLineForecast(Input{
		Method:     MethodStraightLine,
		Parameters: map[string]interface{}{"lookback_months": 3},
		History:    history,
		Months:     1,
	})
	if result.Points[0].Year != 2026 || result.Points[0].Month != 1 {
		t.Fatalf("expected start after the latest period, got %04d-%02d", result.Points[0].Year, result.Points[0].Month)
	}
	if got := result.Points[0].Amount.StringFixed(3); got != "11766.667" {
		t.Fatalf("expected 11766.667, got %s", got)
	}
}

func TestCalculate_YearRolloverAtDecember(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     MethodManual,
		Parameters: map[string]interface{}{"monthly_value": 1},
		StartYear:  2025,
		StartMonth: 11,
		Months:     4,
	})
	want := [][2]int{{2025, 11}, {2025, 12}, {2026, 1}, {2026, 2}}
	for i, p := range result.Points {
		if p.Year != want[i][0] || p.Month != want[i][1] {
			t.Fatalf("point %d: expected %04d-%02d, got %04d-%02d", i, want[i][0], want[i][1], p.Year, p.Month)
		}
	}
}

func TestCalculate_InvalidMethodDegradesWithNote(t *testing.T) {
	result := CalculateLineForecast(Input{
		Method:     "crystal_ball",
		StartYear:  2026,
		StartMonth: 1,
		Months:     1,
	})
	if len(result.Points) != 1 || !result.Points[0].Amount.IsZero() {
		t.Fatalf("expected a single zero point, got %+v", result.Points)
	}
	if !hasNote(result.Notes, "invalid methodology") {
		t.Fatalf("expected an invalid-methodology note, got %v", result.Notes)
	}
}
