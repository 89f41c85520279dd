package models

import (
	"errors"
)

type StatementType string

const (
	StatementTypeIncomeStatement StatementType = "income_statement"
	StatementTypeBalanceSheet    StatementType = "balance_sheet"
)

func ParseStatementType(str string) (StatementType, error) {
	statementTypes := map[string]StatementType{
		"income_statement": StatementTypeIncomeStatement,
		"balance_sheet":    StatementTypeBalanceSheet,
	}
	t, ok := statementTypes[str]
	if !ok {
		return "", errors.New("invalid statement type")
	}
	return t, nil
}

type ImportType string

const (
	ImportTypeHistorical ImportType = "historical"
	ImportTypeActuals    ImportType = "actuals"
)

func ParseImportType(str string) (ImportType, error) {
	importTypes := map[string]ImportType{
		"historical": ImportTypeHistorical,
		"actuals":    ImportTypeActuals,
	}
	t, ok := importTypes[str]
	if !ok {
		return "", errors.New("invalid import type")
	}
	return t, nil
}

type ImportStatus string

const (
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

type Methodology string

const (
	MethodologyStraightLine     Methodology = "straight_line"
	MethodologyRunRate          Methodology = "run_rate"
	MethodologyMovingAverage    Methodology = "moving_average"
	MethodologyLinearTrend      Methodology = "linear_trend"
	MethodologyGrowthRate       Methodology = "growth_rate"
	MethodologySeasonal         Methodology = "seasonal"
	MethodologyPercentOfRevenue Methodology = "percent_of_revenue"
	MethodologyDriverBased      Methodology = "driver_based"
	MethodologyManual           Methodology = "manual"
)

func ParseMethodology(str string) (Methodology, error) {
	methodologies := map[string]Methodology{
		"straight_line":      MethodologyStraightLine,
		"run_rate":           MethodologyRunRate,
		"moving_average":     MethodologyMovingAverage,
		"linear_trend":       MethodologyLinearTrend,
		"growth_rate":        MethodologyGrowthRate,
		"seasonal":           MethodologySeasonal,
		"percent_of_revenue": MethodologyPercentOfRevenue,
		"driver_based":       MethodologyDriverBased,
		"manual":             MethodologyManual,
	}
	m, ok := methodologies[str]
	if !ok {
		return "", errors.New("invalid methodology")
	}
	return m, nil
}

type ForecastEventType string

const (
	EventTypeImportCompleted  ForecastEventType = "import.completed"
	EventTypeImportFailed     ForecastEventType = "import.failed"
	EventTypeForecastRun      ForecastEventType = "forecast.run.completed"
	EventTypeVarianceRebuilt  ForecastEventType = "variance.rebuilt"
	EventTypeMethodologySaved ForecastEventType = "methodology.saved"
)
