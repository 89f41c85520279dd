// Package forecast holds the methodology catalog and the pure projection
// calculator. Nothing here touches the database; the run orchestrator feeds
// it series and persists what it returns.
package forecast

import (
	"encoding/json"
	"fmt"
)

type ParameterType string

const (
	ParameterTypeNumber  ParameterType = "number"
	ParameterTypePercent ParameterType = "percent"
	ParameterTypeSelect  ParameterType = "select"
	ParameterTypeText    ParameterType = "text"
)

// ParameterSpec declares one tunable of a methodology: its type, bounds and
// the default used when the caller supplies nothing.
type ParameterSpec struct {
	Name        string        `json:"name"`
	Label       string        `json:"label"`
	Type        ParameterType `json:"type"`
	Default     interface{}   `json:"default"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Options     []string      `json:"options,omitempty"`
	Description string        `json:"description,omitempty"`
}

type MethodDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Formula     string          `json:"formula"`
	Parameters  []ParameterSpec `json:"parameters"`
}

const (
	MethodStraightLine     = "straight_line"
	MethodRunRate          = "run_rate"
	MethodMovingAverage    = "moving_average"
	MethodLinearTrend      = "linear_trend"
	MethodGrowthRate       = "growth_rate"
	MethodSeasonal         = "seasonal"
	MethodPercentOfRevenue = "percent_of_revenue"
	MethodDriverBased      = "driver_based"
	MethodManual           = "manual"
)

func floatPtr(f float64) *float64 { return &f }

var catalog = []MethodDefinition{
	{
		ID:          MethodStraightLine,
		Name:        "Straight Line",
		Description: "Holds the average of recent months flat across the horizon.",
		Formula:     "avg(last N months)",
		Parameters: []ParameterSpec{
			{Name: "lookback_months", Label: "Lookback (months)", Type: ParameterTypeNumber, Default: 6, Min: floatPtr(1), Max: floatPtr(60)},
		},
	},
	{
		ID:          MethodRunRate,
		Name:        "Run Rate",
		Description: "Like straight line but over a short window, so it reacts faster.",
		Formula:     "avg(last N months, default N=3)",
		Parameters: []ParameterSpec{
			{Name: "lookback_months", Label: "Lookback (months)", Type: ParameterTypeNumber, Default: 3, Min: floatPtr(1), Max: floatPtr(24)},
		},
	},
	{
		ID:          MethodMovingAverage,
		Name:        "Moving Average",
		Description: "Rolling average whose window slides forward over previously forecast points, smoothing volatility across the horizon.",
		Formula:     "avg(last W points of history+forecast)",
		Parameters: []ParameterSpec{
			{Name: "window_months", Label: "Window (months)", Type: ParameterTypeNumber, Default: 3, Min: floatPtr(2), Max: floatPtr(24)},
		},
	},
	{
		ID:          MethodLinearTrend,
		Name:        "Linear Trend",
		Description: "Ordinary least squares over the lookback window, extrapolated forward.",
		Formula:     "OLS fit on index 0..n-1, evaluated at n+t",
		Parameters: []ParameterSpec{
			{Name: "lookback_months", Label: "Lookback (months)", Type: ParameterTypeNumber, Default: 12, Min: floatPtr(2), Max: floatPtr(60)},
		},
	},
	{
		ID:          MethodGrowthRate,
		Name:        "Growth Rate",
		Description: "Compounds the last observed value by an annual growth rate.",
		Formula:     "last × (1+monthly_rate)^(t+1)",
		Parameters: []ParameterSpec{
			{Name: "annual_growth_percent", Label: "Annual growth %", Type: ParameterTypePercent, Default: 10, Min: floatPtr(-100), Max: floatPtr(1000)},
			{Name: "compounding", Label: "Compounding", Type: ParameterTypeSelect, Default: "monthly", Options: []string{"monthly", "simple"},
				Description: "monthly converts the annual rate geometrically; simple divides by 12"},
		},
	},
	{
		ID:          MethodSeasonal,
		Name:        "Seasonal",
		Description: "Averages the same calendar month across recent years, optionally grown.",
		Formula:     "avg(same month, last K years) × (1+growth%)",
		Parameters: []ParameterSpec{
			{Name: "years_lookback", Label: "Years of history", Type: ParameterTypeNumber, Default: 3, Min: floatPtr(1), Max: floatPtr(10)},
			{Name: "growth_percent", Label: "Growth %", Type: ParameterTypePercent, Default: 0, Min: floatPtr(-100), Max: floatPtr(1000)},
		},
	},
	{
		ID:          MethodPercentOfRevenue,
		Name:        "Percent of Revenue",
		Description: "Projects the line as a fixed percentage of a driver line's forecast.",
		Formula:     "driver_forecast[t] × pct",
		Parameters: []ParameterSpec{
			{Name: "driver_line_code", Label: "Driver line", Type: ParameterTypeText, Default: "",
				Description: "line code of the driver, e.g. total revenue"},
			{Name: "percent", Label: "Percent", Type: ParameterTypePercent, Default: 0, Min: floatPtr(0), Max: floatPtr(1000),
				Description: "0 auto-derives from the historical ratio"},
		},
	},
	{
		ID:          MethodDriverBased,
		Name:        "Driver Based",
		Description: "Units times rate, with units growing at a configured pace. Suits headcount or production driven lines.",
		Formula:     "base_units × (1+unit_growth%)^(t+1) × rate_per_unit",
		Parameters: []ParameterSpec{
			{Name: "base_units", Label: "Base units", Type: ParameterTypeNumber, Default: 0, Min: floatPtr(0)},
			{Name: "unit_growth_percent", Label: "Unit growth %", Type: ParameterTypePercent, Default: 0, Min: floatPtr(-100), Max: floatPtr(1000)},
			{Name: "rate_per_unit", Label: "Rate per unit", Type: ParameterTypeNumber, Default: 0},
		},
	},
	{
		ID:          MethodManual,
		Name:        "Manual",
		Description: "A constant monthly value, with optional per-period overrides that win over every method.",
		Formula:     "monthly_value, override map takes precedence",
		Parameters: []ParameterSpec{
			{Name: "monthly_value", Label: "Monthly value", Type: ParameterTypeNumber, Default: 0},
		},
	},
}

// Catalog lists every methodology in declaration order.
func Catalog() []MethodDefinition {
	out := make([]MethodDefinition, len(catalog))
	copy(out, catalog)
	return out
}

// GetMethod looks a methodology up by id.
func GetMethod(id string) (MethodDefinition, bool) {
	for _, def := range catalog {
		if def.ID == id {
			return def, true
		}
	}
	return MethodDefinition{}, false
}

// DefaultParameters returns a ready-to-use parameter map for a methodology,
// derivable with zero user input.
func DefaultParameters(id string) map[string]interface{} {
	def, ok := GetMethod(id)
	if !ok {
		return map[string]interface{}{}
	}
	params := make(map[string]interface{}, len(def.Parameters))
	for _, spec := range def.Parameters {
		params[spec.Name] = spec.Default
	}
	return params
}

// ValidateParameters checks the supplied map against the methodology's
// schema and returns a normalized copy: declared keys coerced and
// bounds-checked, missing keys filled with defaults, unknown keys dropped.
// The manual override map is carried through under "overrides" after shape
// validation.
func ValidateParameters(id string, params map[string]interface{}) (map[string]interface{}, error) {

	def, ok := GetMethod(id)
	if !ok {
		return nil, fmt.Errorf("unknown methodology %q", id)
	}

	normalized := make(map[string]interface{}, len(def.Parameters)+1)
	for _, spec := range def.Parameters {
		raw, present := params[spec.Name]
		if !present || raw == nil {
			normalized[spec.Name] = spec.Default
			continue
		}

		switch spec.Type {
		case ParameterTypeNumber, ParameterTypePercent:
			value, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a number", spec.Name)
			}
			if spec.Min != nil && value < *spec.Min {
				return nil, fmt.Errorf("parameter %q below minimum %v", spec.Name, *spec.Min)
			}
			if spec.Max != nil && value > *spec.Max {
				return nil, fmt.Errorf("parameter %q above maximum %v", spec.Name, *spec.Max)
			}
			normalized[spec.Name] = value
		case ParameterTypeSelect:
			value, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a string", spec.Name)
			}
			valid := false
			for _, opt := range spec.Options {
				if opt == value {
					valid = true
					break
				}
			}
			if !valid {
				return nil, fmt.Errorf("parameter %q must be one of %v", spec.Name, spec.Options)
			}
			normalized[spec.Name] = value
		case ParameterTypeText:
			value, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a string", spec.Name)
			}
			normalized[spec.Name] = value
		}
	}

	// per-period override map, valid for every methodology
	if raw, present := params["overrides"]; present && raw != nil {
		overrides, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("parameter \"overrides\" must map period to amount")
		}
		for period, amount := range overrides {
			if _, ok := toFloat(amount); !ok {
				return nil, fmt.Errorf("override for %q must be a number", period)
			}
		}
		normalized["overrides"] = overrides
	}

	return normalized, nil
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
