package forecast

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Point is one month of a series, observed or projected.
type Point struct {
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// Input carries everything one line's projection needs. History is the
// merged observed series (actuals over historicals); DriverForecast, when
// present, is the already-computed forecast of the driver line aligned by
// future index.
type Input struct {
	Method     string
	Parameters map[string]interface{}
	History    []Point
	Months     int

	// Optional explicit first forecast period. Zero derives the month
	// after the last history point.
	StartYear  int
	StartMonth int

	DriverHistory   []Point
	DriverForecast  []decimal.Decimal
	ManualOverrides map[string]decimal.Decimal
}

// Result is the projected series plus any data-quality notes accumulated
// while computing it. Notes never fail a calculation.
type Result struct {
	Points []Point
	Notes  []string
}

// PeriodLabel formats a period as canonical zero-padded YYYY-MM.
func PeriodLabel(year int, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// NextPeriod returns the calendar month after (year, month).
func NextPeriod(year int, month int) (int, int) {
	month++
	if month > 12 {
		month = 1
		year++
	}
	return year, month
}

// CalculateLineForecast projects one line forward. It is a pure function:
// sparse or degenerate inputs degrade to zero-valued points with an
// explanatory note instead of failing, so one bad line cannot abort a run.
func CalculateLineForecast(input Input) Result {

	result := Result{}
	months := input.Months
	if months <= 0 {
		months = 12
	}

	history := sortedCopy(input.History)

	params, err := DecodeParams(input.Method, input.Parameters)
	if err != nil {
		result.Notes = append(result.Notes, fmt.Sprintf("invalid methodology configuration (%v); forecast degrades to 0", err))
		params = nil
	}

	startYear, startMonth := input.StartYear, input.StartMonth
	if startYear == 0 || startMonth == 0 {
		if len(history) == 0 {
			result.Notes = append(result.Notes, "no history and no explicit start period; nothing to forecast")
			return result
		}
		last := history[len(history)-1]
		startYear, startMonth = NextPeriod(last.Year, last.Month)
	}

	noted := map[string]bool{}
	noteOnce := func(note string) {
		if !noted[note] {
			noted[note] = true
			result.Notes = append(result.Notes, note)
		}
	}

	calc := newMethodState(params, history, input, noteOnce)

	year, month := startYear, startMonth
	result.Points = make([]Point, 0, months)
	for t := 0; t < months; t++ {
		var amount decimal.Decimal
		if override, ok := input.ManualOverrides[PeriodLabel(year, month)]; ok {
			amount = override
		} else if calc != nil {
			amount = calc.valueAt(t, month)
		}
		result.Points = append(result.Points, Point{Year: year, Month: month, Amount: amount})
		if calc != nil {
			calc.observe(amount)
		}
		year, month = NextPeriod(year, month)
	}

	return result
}

// methodState holds whatever per-line precomputation a methodology needs,
// plus the rolling state of window methods.
type methodState struct {
	valueFn   func(t int, calendarMonth int) decimal.Decimal
	observeFn func(amount decimal.Decimal)
}

func (s *methodState) valueAt(t int, calendarMonth int) decimal.Decimal {
	if s.valueFn == nil {
		return decimal.Zero
	}
	return s.valueFn(t, calendarMonth)
}

func (s *methodState) observe(amount decimal.Decimal) {
	if s.observeFn != nil {
		s.observeFn(amount)
	}
}

func newMethodState(params MethodParams, history []Point, input Input, noteOnce func(string)) *methodState {

	if params == nil {
		return nil
	}

	switch p := params.(type) {

	case *StraightLineParams:
		return flatAverageState(history, p.LookbackMonths, noteOnce)

	case *RunRateParams:
		return flatAverageState(history, p.LookbackMonths, noteOnce)

	case *MovingAverageParams:
		series := amounts(history)
		if len(series) == 0 {
			noteOnce("no history; moving average degrades to 0")
		}
		window := p.WindowMonths
		state := &methodState{}
		state.valueFn = func(t int, _ int) decimal.Decimal {
			if len(series) == 0 {
				return decimal.Zero
			}
			from := len(series) - window
			if from < 0 {
				from = 0
			}
			return average(series[from:])
		}
		// the window slides over forecast points as they are produced
		state.observeFn = func(amount decimal.Decimal) {
			series = append(series, amount)
		}
		return state

	case *LinearTrendParams:
		window := lastN(history, p.LookbackMonths)
		n := len(window)
		if n == 0 {
			noteOnce("no history; linear trend degrades to 0")
			return &methodState{}
		}
		if n == 1 {
			noteOnce("single history point; linear trend holds it flat")
			value := window[0].Amount
			return &methodState{valueFn: func(int, int) decimal.Decimal { return value }}
		}
		slope, intercept := leastSquares(window)
		return &methodState{valueFn: func(t int, _ int) decimal.Decimal {
			x := decimal.NewFromInt(int64(n + t))
			return intercept.Add(slope.Mul(x))
		}}

	case *GrowthRateParams:
		if len(history) == 0 {
			noteOnce("no history; growth rate degrades to 0")
			return &methodState{}
		}
		last := history[len(history)-1].Amount
		annual := p.AnnualGrowthPercent / 100
		var monthlyRate float64
		if p.Compounding == "simple" {
			monthlyRate = annual / 12
		} else {
			monthlyRate = math.Pow(1+annual, 1.0/12) - 1
		}
		return &methodState{valueFn: func(t int, _ int) decimal.Decimal {
			factor := math.Pow(1+monthlyRate, float64(t+1))
			return last.Mul(decimal.NewFromFloat(factor))
		}}

	case *SeasonalParams:
		if len(history) == 0 {
			noteOnce("no history; seasonal degrades to 0")
			return &methodState{}
		}
		overall := average(amounts(history))
		growth := decimal.NewFromFloat(1 + p.GrowthPercent/100)
		lastYear := history[len(history)-1].Year
		return &methodState{valueFn: func(_ int, calendarMonth int) decimal.Decimal {
			var sameMonth []decimal.Decimal
			for _, point := range history {
				if point.Month == calendarMonth && point.Year > lastYear-p.YearsLookback {
					sameMonth = append(sameMonth, point.Amount)
				}
			}
			if len(sameMonth) == 0 {
				noteOnce("no same-month history for some periods; using overall average")
				return overall.Mul(growth)
			}
			return average(sameMonth).Mul(growth)
		}}

	case *PercentOfRevenueParams:
		pct, ok := resolvePercentage(p, history, input.DriverHistory, noteOnce)
		if !ok {
			return &methodState{}
		}
		driverLast, hasDriverHistory := lastAmount(input.DriverHistory)
		return &methodState{valueFn: func(t int, _ int) decimal.Decimal {
			var driverValue decimal.Decimal
			if t < len(input.DriverForecast) {
				driverValue = input.DriverForecast[t]
			} else if hasDriverHistory {
				noteOnce("driver forecast unavailable; using the driver's last actual")
				driverValue = driverLast
			} else {
				noteOnce("driver has no history or forecast; forecast degrades to 0")
				return decimal.Zero
			}
			return driverValue.Mul(pct).Div(decimal.NewFromInt(100))
		}}

	case *DriverBasedParams:
		base := decimal.NewFromFloat(p.BaseUnits)
		rate := decimal.NewFromFloat(p.RatePerUnit)
		if base.IsZero() || rate.IsZero() {
			noteOnce("base units or rate per unit is 0; driver based forecast is 0")
		}
		return &methodState{valueFn: func(t int, _ int) decimal.Decimal {
			growth := math.Pow(1+p.UnitGrowthPercent/100, float64(t+1))
			return base.Mul(decimal.NewFromFloat(growth)).Mul(rate)
		}}

	case *ManualParams:
		value := decimal.NewFromFloat(p.MonthlyValue)
		return &methodState{valueFn: func(int, int) decimal.Decimal { return value }}
	}

	return nil
}

func flatAverageState(history []Point, lookback int, noteOnce func(string)) *methodState {
	window := lastN(history, lookback)
	if len(window) == 0 {
		noteOnce("no history; forecast degrades to 0")
		return &methodState{}
	}
	value := average(amounts(window))
	return &methodState{valueFn: func(int, int) decimal.Decimal { return value }}
}

// resolvePercentage returns the percent-of-revenue ratio, auto-deriving it
// from overlapping history when not configured.
func resolvePercentage(p *PercentOfRevenueParams, history []Point, driverHistory []Point, noteOnce func(string)) (decimal.Decimal, bool) {

	if p.Percent > 0 {
		return decimal.NewFromFloat(p.Percent), true
	}

	driverByPeriod := make(map[string]decimal.Decimal, len(driverHistory))
	for _, point := range driverHistory {
		driverByPeriod[PeriodLabel(point.Year, point.Month)] = point.Amount
	}

	var ratioSum decimal.Decimal
	ratioCount := 0
	for _, point := range history {
		driverValue, ok := driverByPeriod[PeriodLabel(point.Year, point.Month)]
		if !ok || driverValue.IsZero() {
			continue
		}
		ratioSum = ratioSum.Add(point.Amount.Div(driverValue))
		ratioCount++
	}
	if ratioCount == 0 {
		noteOnce("no overlapping driver history to derive a percentage; forecast degrades to 0")
		return decimal.Zero, false
	}

	pct := ratioSum.Div(decimal.NewFromInt(int64(ratioCount))).Mul(decimal.NewFromInt(100))
	noteOnce(fmt.Sprintf("auto-derived %s%% from %d overlapping periods", pct.Round(2), ratioCount))
	return pct, true
}

// leastSquares fits y = intercept + slope*x over window indices 0..n-1.
func leastSquares(window []Point) (slope decimal.Decimal, intercept decimal.Decimal) {

	n := decimal.NewFromInt(int64(len(window)))
	var sumX, sumY, sumXY, sumXX decimal.Decimal
	for i, point := range window {
		x := decimal.NewFromInt(int64(i))
		sumX = sumX.Add(x)
		sumY = sumY.Add(point.Amount)
		sumXY = sumXY.Add(x.Mul(point.Amount))
		sumXX = sumXX.Add(x.Mul(x))
	}

	denominator := n.Mul(sumXX).Sub(sumX.Mul(sumX))
	if denominator.IsZero() {
		return decimal.Zero, average(amounts(window))
	}
	slope = n.Mul(sumXY).Sub(sumX.Mul(sumY)).Div(denominator)
	intercept = sumY.Sub(slope.Mul(sumX)).Div(n)
	return slope, intercept
}

func sortedCopy(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

func lastN(points []Point, n int) []Point {
	if n <= 0 || n >= len(points) {
		return points
	}
	return points[len(points)-n:]
}

func lastAmount(points []Point) (decimal.Decimal, bool) {
	sorted := sortedCopy(points)
	if len(sorted) == 0 {
		return decimal.Zero, false
	}
	return sorted[len(sorted)-1].Amount, true
}

func amounts(points []Point) []decimal.Decimal {
	out := make([]decimal.Decimal, len(points))
	for i, point := range points {
		out[i] = point.Amount
	}
	return out
}

func average(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	var sum decimal.Decimal
	for _, value := range values {
		sum = sum.Add(value)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
