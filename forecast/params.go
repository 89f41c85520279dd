package forecast

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MethodParams is the typed form of one methodology's parameter bag. Every
// methodology has its own struct so the calculator gets compile-time checked
// fields instead of map lookups.
type MethodParams interface {
	MethodID() string
}

type StraightLineParams struct {
	LookbackMonths int
}

func (StraightLineParams) MethodID() string { return MethodStraightLine }

type RunRateParams struct {
	LookbackMonths int
}

func (RunRateParams) MethodID() string { return MethodRunRate }

type MovingAverageParams struct {
	WindowMonths int
}

func (MovingAverageParams) MethodID() string { return MethodMovingAverage }

type LinearTrendParams struct {
	LookbackMonths int
}

func (LinearTrendParams) MethodID() string { return MethodLinearTrend }

type GrowthRateParams struct {
	AnnualGrowthPercent float64
	Compounding         string // monthly | simple
}

func (GrowthRateParams) MethodID() string { return MethodGrowthRate }

type SeasonalParams struct {
	YearsLookback int
	GrowthPercent float64
}

func (SeasonalParams) MethodID() string { return MethodSeasonal }

type PercentOfRevenueParams struct {
	DriverLineCode string
	Percent        float64 // 0 means auto-derive from history
}

func (PercentOfRevenueParams) MethodID() string { return MethodPercentOfRevenue }

type DriverBasedParams struct {
	BaseUnits         float64
	UnitGrowthPercent float64
	RatePerUnit       float64
}

func (DriverBasedParams) MethodID() string { return MethodDriverBased }

type ManualParams struct {
	MonthlyValue float64
}

func (ManualParams) MethodID() string { return MethodManual }

// paramConstructors maps methodology id to a default-constructed typed
// struct. Defaults here mirror the catalog schema.
var paramConstructors = map[string]func() MethodParams{
	MethodStraightLine:     func() MethodParams { return &StraightLineParams{LookbackMonths: 6} },
	MethodRunRate:          func() MethodParams { return &RunRateParams{LookbackMonths: 3} },
	MethodMovingAverage:    func() MethodParams { return &MovingAverageParams{WindowMonths: 3} },
	MethodLinearTrend:      func() MethodParams { return &LinearTrendParams{LookbackMonths: 12} },
	MethodGrowthRate:       func() MethodParams { return &GrowthRateParams{AnnualGrowthPercent: 10, Compounding: "monthly"} },
	MethodSeasonal:         func() MethodParams { return &SeasonalParams{YearsLookback: 3} },
	MethodPercentOfRevenue: func() MethodParams { return &PercentOfRevenueParams{} },
	MethodDriverBased:      func() MethodParams { return &DriverBasedParams{} },
	MethodManual:           func() MethodParams { return &ManualParams{} },
}

// DecodeParams validates a raw parameter map against the catalog schema and
// returns the typed struct for the methodology. Unknown keys are ignored,
// missing keys keep their defaults, out-of-bounds values error.
func DecodeParams(method string, raw map[string]interface{}) (MethodParams, error) {

	construct, ok := paramConstructors[method]
	if !ok {
		return nil, fmt.Errorf("unknown methodology %q", method)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	normalized, err := ValidateParameters(method, raw)
	if err != nil {
		return nil, err
	}

	params := construct()
	switch p := params.(type) {
	case *StraightLineParams:
		p.LookbackMonths = intParam(normalized, "lookback_months", p.LookbackMonths)
	case *RunRateParams:
		p.LookbackMonths = intParam(normalized, "lookback_months", p.LookbackMonths)
	case *MovingAverageParams:
		p.WindowMonths = intParam(normalized, "window_months", p.WindowMonths)
	case *LinearTrendParams:
		p.LookbackMonths = intParam(normalized, "lookback_months", p.LookbackMonths)
	case *GrowthRateParams:
		p.AnnualGrowthPercent = floatParam(normalized, "annual_growth_percent", p.AnnualGrowthPercent)
		p.Compounding = stringParam(normalized, "compounding", p.Compounding)
	case *SeasonalParams:
		p.YearsLookback = intParam(normalized, "years_lookback", p.YearsLookback)
		p.GrowthPercent = floatParam(normalized, "growth_percent", p.GrowthPercent)
	case *PercentOfRevenueParams:
		p.DriverLineCode = stringParam(normalized, "driver_line_code", p.DriverLineCode)
		p.Percent = floatParam(normalized, "percent", p.Percent)
	case *DriverBasedParams:
		p.BaseUnits = floatParam(normalized, "base_units", p.BaseUnits)
		p.UnitGrowthPercent = floatParam(normalized, "unit_growth_percent", p.UnitGrowthPercent)
		p.RatePerUnit = floatParam(normalized, "rate_per_unit", p.RatePerUnit)
	case *ManualParams:
		p.MonthlyValue = floatParam(normalized, "monthly_value", p.MonthlyValue)
	}
	return params, nil
}

// ExtractOverrides pulls the per-period override map out of a raw parameter
// bag. Keys are canonical "YYYY-MM" labels. Overrides win over the selected
// method for any period present, whatever the method.
func ExtractOverrides(raw map[string]interface{}) map[string]decimal.Decimal {

	overrides := map[string]decimal.Decimal{}
	if raw == nil {
		return overrides
	}
	m, ok := raw["overrides"].(map[string]interface{})
	if !ok {
		return overrides
	}
	for period, amount := range m {
		if f, ok := toFloat(amount); ok {
			overrides[period] = decimal.NewFromFloat(f)
		}
	}
	return overrides
}

func intParam(params map[string]interface{}, key string, def int) int {
	if f, ok := toFloat(params[key]); ok {
		return int(f)
	}
	return def
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	if f, ok := toFloat(params[key]); ok {
		return f
	}
	return def
}

func stringParam(params map[string]interface{}, key string, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}
