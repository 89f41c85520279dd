// seed-demo provisions a demo company with a small chart of lines, two
// years of historical statements, methodology configs, a persisted forecast
// run and one month of actuals, so every read surface has data to show.
//
// Usage:
//   go run ./cmd/seed-demo [-name "Demo Manufacturing Co"]
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/models"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/finsightapps/forecast_backend/workbook"
	"github.com/finsightapps/forecast_backend/workflow"
	"gorm.io/gorm"
)

const historyMonths = 24

type demoLine struct {
	statement string
	name      string
	category  string
	amount    func(t int, month int) float64
}

// Amounts are deterministic so reseeding produces the same books.
var demoLines = []demoLine{
	{"income_statement", "Revenue", "Revenue", func(t, month int) float64 {
		return 50000 * math.Pow(1.01, float64(t))
	}},
	{"income_statement", "COGS", "Cost of Sales", func(t, month int) float64 {
		return 50000 * math.Pow(1.01, float64(t)) * 0.42
	}},
	{"income_statement", "Salaries", "Operating Expenses", func(t, month int) float64 {
		return 12000
	}},
	{"income_statement", "Rent", "Operating Expenses", func(t, month int) float64 {
		return 3500
	}},
	{"income_statement", "Marketing", "Operating Expenses", func(t, month int) float64 {
		if month == 11 || month == 12 {
			return 6500
		}
		return 4200
	}},
	{"balance_sheet", "Cash", "Assets", func(t, month int) float64 {
		return 80000 + 1500*float64(t)
	}},
	{"balance_sheet", "Accounts Receivable", "Assets", func(t, month int) float64 {
		return 50000 * math.Pow(1.01, float64(t)) * 0.8
	}},
}

func main() {
	name := flag.String("name", "Demo Manufacturing Co", "Company name to create or reuse")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := utils.SetUserNameInContext(context.Background(), "Seed")

	company, err := findOrCreateCompany(ctx, db, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create company: %v\n", err)
		os.Exit(1)
	}
	ctx = utils.SetCompanyIdInContext(ctx, company.ID.String())
	fmt.Printf("company: %s (%s)\n", company.Name, company.ID)

	now := time.Now().UTC()
	endYear, endMonth := workbook.AddMonths(now.Year(), int(now.Month()), -1)

	historyCsv := buildStatementCsv(endYear, endMonth, historyMonths, 0)
	histSummary, err := workflow.ImportHistorical(ctx, "seed_history.csv", historyCsv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "historical import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("historical import: %d points, %d lines created\n", histSummary.PointCount, histSummary.LineItemsCreated)

	if err := configureMethodologies(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "methodology setup failed: %v\n", err)
		os.Exit(1)
	}

	runSummary, err := workflow.RunForecast(ctx, workflow.RunForecastInput{Persist: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "forecast run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("forecast: version %d, %d points from %s\n",
		runSummary.ForecastVersion, runSummary.PointCount, runSummary.StartPeriod)

	// One closed month of actuals, a few percent off the trend, so the
	// variance view has something to reconcile.
	actualYear, actualMonth := workbook.AddMonths(endYear, endMonth, 1)
	actualsCsv := buildStatementCsv(actualYear, actualMonth, 1, 0.04)
	actSummary, err := workflow.ImportActuals(ctx, "seed_actuals.csv", actualsCsv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "actuals import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("actuals import: %d points\n", actSummary.PointCount)

	report, err := workflow.RefreshVariance(ctx, workbook.PeriodKey(actualYear, actualMonth))
	if err != nil {
		fmt.Fprintf(os.Stderr, "variance refresh failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("variance %s: %d rows, total variance %s\n",
		report.Period, report.Summary.LineCount, report.Summary.Variance.StringFixed(2))
}

func findOrCreateCompany(ctx context.Context, db *gorm.DB, name string) (*models.Company, error) {
	var existing models.Company
	err := db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return models.CreateCompany(ctx, &models.NewCompany{
		Name:                 name,
		Currency:             "USD",
		FiscalYearStartMonth: 1,
	})
}

// buildStatementCsv renders months ending at (endYear, endMonth) in the
// import template shape. drift skews every amount up by that fraction, for
// actuals that disagree with the forecast.
func buildStatementCsv(endYear int, endMonth int, months int, drift float64) []byte {
	startYear, startMonth := workbook.AddMonths(endYear, endMonth, -(months - 1))

	header := []string{"Statement", "Line Code", "Line Name", "Category", "Subcategory"}
	year, month := startYear, startMonth
	for t := 0; t < months; t++ {
		header = append(header, workbook.PeriodKey(year, month))
		year, month = workbook.AddMonths(year, month, 1)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Write(header)

	// t counts months since the fixed demo epoch so history and actuals
	// line up on the same curve.
	epochYear, epochMonth := workbook.AddMonths(endYear, endMonth, -(historyMonths - 1))
	for _, line := range demoLines {
		row := []string{line.statement, "", line.name, line.category, ""}
		year, month = startYear, startMonth
		for i := 0; i < months; i++ {
			t := (year-epochYear)*12 + (month - epochMonth)
			amount := line.amount(t, month) * (1 + drift)
			row = append(row, fmt.Sprintf("%.2f", amount))
			year, month = workbook.AddMonths(year, month, 1)
		}
		writer.Write(row)
	}
	writer.Flush()
	return buf.Bytes()
}

// configureMethodologies assigns non-default methods to the interesting
// lines; everything else keeps the run_rate default.
func configureMethodologies(ctx context.Context) error {
	items, err := models.GetLineItems(ctx, "")
	if err != nil {
		return err
	}
	byCode := map[string]*models.LineItem{}
	for _, item := range items {
		byCode[item.LineCode] = item
	}

	assign := func(code string, methodology models.Methodology, params map[string]interface{}) error {
		item, ok := byCode[code]
		if !ok {
			return fmt.Errorf("seeded line %q missing from registry", code)
		}
		_, err := models.SaveMethodologyConfig(ctx, item.ID.String(), &models.NewMethodologyConfig{
			Methodology: methodology,
			Parameters:  params,
		})
		return err
	}

	if err := assign("revenue", models.MethodologyGrowthRate, map[string]interface{}{
		"annual_growth_percent": 12, "compounding": "monthly",
	}); err != nil {
		return err
	}
	if err := assign("cogs", models.MethodologyPercentOfRevenue, map[string]interface{}{
		"driver_line_code": "Revenue",
	}); err != nil {
		return err
	}
	if err := assign("marketing", models.MethodologySeasonal, map[string]interface{}{
		"years_lookback": 2,
	}); err != nil {
		return err
	}
	if err := assign("salaries", models.MethodologyStraightLine, map[string]interface{}{
		"lookback_months": 6,
	}); err != nil {
		return err
	}
	return assign("cash", models.MethodologyLinearTrend, map[string]interface{}{
		"lookback_months": 12,
	})
}
