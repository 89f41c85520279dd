package models_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/models"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/finsightapps/forecast_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestForecastRunsPreservePriorVersions(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "forecast_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserNameInContext(ctx, "Test")

	company, err := models.CreateCompany(ctx, &models.NewCompany{Name: "Versioned Co"})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	companyID := company.ID.String()
	ctx = utils.SetCompanyIdInContext(ctx, companyID)

	data := buildStatementsCsv(2026, 6, 24, []csvLine{
		{statement: "income_statement", name: "Revenue", base: 50000, step: 250},
		{statement: "income_statement", name: "COGS", base: 20000, step: 100},
	})
	if _, err := workflow.ImportHistorical(ctx, "history.csv", data); err != nil {
		t.Fatalf("ImportHistorical: %v", err)
	}

	// COGS follows revenue so the run exercises the driver ordering too.
	items, err := models.GetLineItems(ctx, "")
	if err != nil {
		t.Fatalf("GetLineItems: %v", err)
	}
	var cogsID string
	for _, item := range items {
		if item.LineCode == "cogs" {
			cogsID = item.ID.String()
		}
	}
	if cogsID == "" {
		t.Fatalf("cogs line missing from registry")
	}
	if _, err := models.SaveMethodologyConfig(ctx, cogsID, &models.NewMethodologyConfig{
		Methodology: models.MethodologyPercentOfRevenue,
		Parameters:  map[string]interface{}{"driver_line_code": "Revenue"},
	}); err != nil {
		t.Fatalf("SaveMethodologyConfig: %v", err)
	}

	run1, err := workflow.RunForecast(ctx, workflow.RunForecastInput{Months: 12, Persist: true})
	if err != nil {
		t.Fatalf("RunForecast(first): %v", err)
	}
	if run1.StartPeriod != "2026-07" {
		t.Fatalf("first run start period: %s", run1.StartPeriod)
	}
	if run1.PointCount != 24 {
		t.Fatalf("first run point count: got %d, want 24", run1.PointCount)
	}
	stored, err := models.CountProjectionsForVersion(config.GetDB(), ctx, companyID, run1.ForecastVersion)
	if err != nil {
		t.Fatalf("CountProjectionsForVersion: %v", err)
	}
	if stored != int64(run1.PointCount) {
		t.Fatalf("summary and storage disagree: %d points reported, %d rows stored", run1.PointCount, stored)
	}

	v1Rows, err := models.GetProjectionsForVersion(ctx, companyID, run1.ForecastVersion)
	if err != nil {
		t.Fatalf("GetProjectionsForVersion(v1): %v", err)
	}
	if len(v1Rows) != 24 {
		t.Fatalf("v1 rows: got %d, want 24", len(v1Rows))
	}
	v1Amounts := map[string]decimal.Decimal{}
	for _, row := range v1Rows {
		v1Amounts[projectionKey(row)] = row.ForecastAmount
	}

	run2, err := workflow.RunForecast(ctx, workflow.RunForecastInput{Months: 12, Persist: true})
	if err != nil {
		t.Fatalf("RunForecast(second): %v", err)
	}
	if run2.ForecastVersion <= run1.ForecastVersion {
		t.Fatalf("versions not strictly increasing: %d then %d", run1.ForecastVersion, run2.ForecastVersion)
	}

	// The first run's rows must be untouched by the second run.
	v1After, err := models.GetProjectionsForVersion(ctx, companyID, run1.ForecastVersion)
	if err != nil {
		t.Fatalf("GetProjectionsForVersion(v1 after): %v", err)
	}
	if len(v1After) != len(v1Rows) {
		t.Fatalf("v1 row count changed: %d vs %d", len(v1After), len(v1Rows))
	}
	for _, row := range v1After {
		want, ok := v1Amounts[projectionKey(row)]
		if !ok {
			t.Fatalf("v1 grew a new row: %s", projectionKey(row))
		}
		if row.ForecastAmount.Cmp(want) != 0 {
			t.Fatalf("v1 amount changed for %s: %s vs %s", projectionKey(row), row.ForecastAmount, want)
		}
	}

	// Reads without an explicit version see only the newest run.
	latest, err := models.GetLatestProjectionsForPeriod(ctx, companyID, 2026, 7)
	if err != nil {
		t.Fatalf("GetLatestProjectionsForPeriod: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest projections for 2026-07: got %d rows, want 2", len(latest))
	}
	for _, row := range latest {
		if row.ForecastVersion != run2.ForecastVersion {
			t.Fatalf("latest read returned version %d, want %d", row.ForecastVersion, run2.ForecastVersion)
		}
	}

	versions, err := models.ListForecastVersions(ctx, companyID, 10)
	if err != nil {
		t.Fatalf("ListForecastVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("version list: got %d, want 2", len(versions))
	}
	if versions[0].ForecastVersion != run2.ForecastVersion {
		t.Fatalf("version list not newest first: %d", versions[0].ForecastVersion)
	}
	if versions[0].RowCount != 24 || versions[0].LineCount != 2 {
		t.Fatalf("version summary: rows=%d lines=%d", versions[0].RowCount, versions[0].LineCount)
	}
}

func TestVarianceReconcilesForecastAndActuals(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "forecast_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserNameInContext(ctx, "Test")

	company, err := models.CreateCompany(ctx, &models.NewCompany{Name: "Variance Co"})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	companyID := company.ID.String()
	ctx = utils.SetCompanyIdInContext(ctx, companyID)

	data := buildStatementsCsv(2026, 6, 24, []csvLine{
		{statement: "income_statement", name: "Revenue", base: 50000, step: 250},
		{statement: "income_statement", name: "COGS", base: 20000, step: 100},
	})
	if _, err := workflow.ImportHistorical(ctx, "history.csv", data); err != nil {
		t.Fatalf("ImportHistorical: %v", err)
	}
	if _, err := workflow.RunForecast(ctx, workflow.RunForecastInput{Persist: true}); err != nil {
		t.Fatalf("RunForecast: %v", err)
	}

	actuals := []byte("Account,2026-07\nRevenue,57000\nCOGS,20500\n")
	if _, err := workflow.ImportActuals(ctx, "actuals_jul.csv", actuals); err != nil {
		t.Fatalf("ImportActuals: %v", err)
	}

	report, err := workflow.RefreshVariance(ctx, "2026-07")
	if err != nil {
		t.Fatalf("RefreshVariance: %v", err)
	}
	if !report.Rebuilt {
		t.Fatalf("cold read should rebuild")
	}
	if len(report.Records) != 2 {
		t.Fatalf("variance rows: got %d, want 2", len(report.Records))
	}

	// Every row must reconcile exactly against the stored forecast and actual.
	projections, err := models.GetLatestProjectionsForPeriod(ctx, companyID, 2026, 7)
	if err != nil {
		t.Fatalf("GetLatestProjectionsForPeriod: %v", err)
	}
	forecastBy := map[string]decimal.Decimal{}
	for _, p := range projections {
		forecastBy[p.LineItemId] = p.ForecastAmount
	}
	actualPoints, err := models.GetActualsForPeriod(ctx, companyID, 2026, 7)
	if err != nil {
		t.Fatalf("GetActualsForPeriod: %v", err)
	}
	actualBy := map[string]decimal.Decimal{}
	for _, a := range actualPoints {
		actualBy[a.LineItemId] = a.Amount
	}

	for _, row := range report.Records {
		forecast, haveForecast := forecastBy[row.LineItemId]
		actual, haveActual := actualBy[row.LineItemId]
		if !haveForecast || !haveActual {
			t.Fatalf("variance row %s has no stored counterpart", row.LineItemId)
		}
		if row.ForecastAmount == nil || row.ForecastAmount.Cmp(forecast) != 0 {
			t.Fatalf("forecast mismatch for %s: %v vs %s", row.LineItemId, row.ForecastAmount, forecast)
		}
		if row.ActualAmount == nil || row.ActualAmount.Cmp(actual) != 0 {
			t.Fatalf("actual mismatch for %s: %v vs %s", row.LineItemId, row.ActualAmount, actual)
		}
		wantVariance := actual.Sub(forecast)
		if row.VarianceAmount == nil || row.VarianceAmount.Cmp(wantVariance) != 0 {
			t.Fatalf("variance mismatch for %s: %v vs %s", row.LineItemId, row.VarianceAmount, wantVariance)
		}
		// The stored column keeps four decimal places.
		wantPercent := wantVariance.Div(forecast).Mul(decimal.NewFromInt(100)).Round(4)
		if row.VariancePercent == nil || row.VariancePercent.Cmp(wantPercent) != 0 {
			t.Fatalf("percent mismatch for %s: %v vs %s", row.LineItemId, row.VariancePercent, wantPercent)
		}
		// July is the only month with actuals, so it is the whole YTD.
		if row.YtdActual == nil || row.YtdActual.Cmp(actual) != 0 {
			t.Fatalf("ytd actual mismatch for %s: %v", row.LineItemId, row.YtdActual)
		}
		if row.PriorYearActual != nil {
			t.Fatalf("prior year actual should be empty, got %v", row.PriorYearActual)
		}
	}

	// Warm read serves the cache without recomputing.
	cached, err := workflow.RefreshVariance(ctx, "2026-07")
	if err != nil {
		t.Fatalf("RefreshVariance(cached): %v", err)
	}
	if cached.Rebuilt {
		t.Fatalf("warm read rebuilt the cache")
	}
	if len(cached.Records) != len(report.Records) {
		t.Fatalf("cached rows: got %d, want %d", len(cached.Records), len(report.Records))
	}

	// A forced rebuild lands on the same numbers.
	if err := models.DeleteVarianceForPeriod(ctx, companyID, 2026, 7); err != nil {
		t.Fatalf("DeleteVarianceForPeriod: %v", err)
	}
	rebuilt, err := workflow.RefreshVariance(ctx, "2026-07")
	if err != nil {
		t.Fatalf("RefreshVariance(forced): %v", err)
	}
	if !rebuilt.Rebuilt {
		t.Fatalf("forced read should rebuild")
	}
	for i, row := range rebuilt.Records {
		prev := report.Records[i]
		if row.LineItemId != prev.LineItemId {
			t.Fatalf("rebuild changed row order at %d: %s vs %s", i, row.LineItemId, prev.LineItemId)
		}
		if row.VarianceAmount.Cmp(*prev.VarianceAmount) != 0 {
			t.Fatalf("rebuild changed variance for %s: %v vs %v", row.LineItemId, row.VarianceAmount, prev.VarianceAmount)
		}
	}
}

func projectionKey(row *models.ForecastProjection) string {
	return fmt.Sprintf("%s|%d|%d", row.LineItemId, row.PeriodYear, row.PeriodMonth)
}
