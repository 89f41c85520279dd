package forecast

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCatalog_ListsEveryMethodology(t *testing.T) {
	defs := Catalog()
	if len(defs) != 9 {
		t.Fatalf("expected 9 methodologies, got %d", len(defs))
	}
	seen := map[string]bool{}
	for _, def := range defs {
		if def.ID == "" || def.Name == "" || def.Formula == "" {
			t.Fatalf("methodology %+v is missing id, name or formula", def)
		}
		if seen[def.ID] {
			t.Fatalf("duplicate methodology id %q", def.ID)
		}
		seen[def.ID] = true
	}
	for _, id := range []string{
		MethodStraightLine, MethodRunRate, MethodMovingAverage, MethodLinearTrend,
		MethodGrowthRate, MethodSeasonal, MethodPercentOfRevenue, MethodDriverBased, MethodManual,
	} {
		if !seen[id] {
			t.Fatalf("catalog is missing %q", id)
		}
	}
}

func TestGetMethod_UnknownId(t *testing.T) {
	if _, ok := GetMethod("crystal_ball"); ok {
		t.Fatal("expected unknown methodology to be rejected")
	}
}

func TestDefaultParameters_UsableWithoutUserInput(t *testing.T) {
	params := DefaultParameters(MethodRunRate)
	if params["lookback_months"] != 3 {
		t.Fatalf("expected run rate default lookback 3, got %v", params["lookback_months"])
	}
	params = DefaultParameters(MethodGrowthRate)
	if params["compounding"] != "monthly" {
		t.Fatalf("expected default monthly compounding, got %v", params["compounding"])
	}
}

func TestValidateParameters(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		params  map[string]interface{}
		wantErr bool
		check   func(t *testing.T, normalized map[string]interface{})
	}{
		{
			name:    "unknown methodology",
			method:  "crystal_ball",
			params:  map[string]interface{}{},
			wantErr: true,
		},
		{
			name:   "missing keys filled with defaults",
			method: MethodStraightLine,
			params: map[string]interface{}{},
			check: func(t *testing.T, normalized map[string]interface{}) {
				if normalized["lookback_months"] != 6 {
					t.Fatalf("expected default lookback 6, got %v", normalized["lookback_months"])
				}
			},
		},
		{
			name:   "unknown keys dropped",
			method: MethodStraightLine,
			params: map[string]interface{}{"lookback_months": 3, "color": "red"},
			check: func(t *testing.T, normalized map[string]interface{}) {
				if _, ok := normalized["color"]; ok {
					t.Fatal("expected unknown key to be dropped")
				}
			},
		},
		{
			name:   "json numbers coerced",
			method: MethodMovingAverage,
			params: map[string]interface{}{"window_months": float64(4)},
			check: func(t *testing.T, normalized map[string]interface{}) {
				if normalized["window_months"] != float64(4) {
					t.Fatalf("expected 4, got %v", normalized["window_months"])
				}
			},
		},
		{
			name:    "below minimum rejected",
			method:  MethodMovingAverage,
			params:  map[string]interface{}{"window_months": 1},
			wantErr: true,
		},
		{
			name:    "above maximum rejected",
			method:  MethodStraightLine,
			params:  map[string]interface{}{"lookback_months": 120},
			wantErr: true,
		},
		{
			name:    "non numeric rejected",
			method:  MethodStraightLine,
			params:  map[string]interface{}{"lookback_months": "six"},
			wantErr: true,
		},
		{
			name:    "select outside options rejected",
			method:  MethodGrowthRate,
			params:  map[string]interface{}{"compounding": "hourly"},
			wantErr: true,
		},
		{
			name:   "select inside options accepted",
			method: MethodGrowthRate,
			params: map[string]interface{}{"compounding": "simple"},
			check: func(t *testing.T, normalized map[string]interface{}) {
				if normalized["compounding"] != "simple" {
					t.Fatalf("expected simple, got %v", normalized["compounding"])
				}
			},
		},
		{
			name:    "text parameter must be a string",
			method:  MethodPercentOfRevenue,
			params:  map[string]interface{}{"driver_line_code": 42},
			wantErr: true,
		},
		{
			name:   "overrides carried through",
			method: MethodManual,
			params: map[string]interface{}{
				"monthly_value": 100,
				"overrides":     map[string]interface{}{"2026-01": 250},
			},
			check: func(t *testing.T, normalized map[string]interface{}) {
				overrides, ok := normalized["overrides"].(map[string]interface{})
				if !ok || len(overrides) != 1 {
					t.Fatalf("expected overrides to survive, got %v", normalized["overrides"])
				}
			},
		},
		{
			name:    "non numeric override rejected",
			method:  MethodManual,
			params:  map[string]interface{}{"overrides": map[string]interface{}{"2026-01": "a lot"}},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, err := ValidateParameters(tc.method, tc.params)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %v", normalized)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.check != nil {
				tc.check(t, normalized)
			}
		})
	}
}

func TestDecodeParams_PopulatesTypedStructs(t *testing.T) {
	params, err := DecodeParams(MethodGrowthRate, map[string]interface{}{"annual_growth_percent": 12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	growth, ok := params.(*GrowthRateParams)
	if !ok {
		t.Fatalf("expected *GrowthRateParams, got %T", params)
	}
	if growth.AnnualGrowthPercent != 12 || growth.Compounding != "monthly" {
		t.Fatalf("unexpected decode result: %+v", growth)
	}

	params, err = DecodeParams(MethodPercentOfRevenue, map[string]interface{}{"driver_line_code": "revenue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	por, ok := params.(*PercentOfRevenueParams)
	if !ok {
		t.Fatalf("expected *PercentOfRevenueParams, got %T", params)
	}
	if por.DriverLineCode != "revenue" || por.Percent != 0 {
		t.Fatalf("unexpected decode result: %+v", por)
	}
}

func TestExtractOverrides(t *testing.T) {
	overrides := ExtractOverrides(map[string]interface{}{
		"overrides": map[string]interface{}{"2026-01": 250, "2026-02": 300.5},
	})
	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(overrides))
	}
	if !overrides["2026-01"].Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected 250, got %s", overrides["2026-01"])
	}

	if got := ExtractOverrides(nil); len(got) != 0 {
		t.Fatalf("expected no overrides from nil params, got %v", got)
	}
}
