// variance-rebuild drops and recomputes the variance cache for one month.
// Meant for scheduled runs after month close and for recovering from bad
// cache states; it rebuilds even when rebuild-on-read is disabled.
//
// Usage:
//   go run ./cmd/variance-rebuild -company-id <uuid> -period 2026-03
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/finsightapps/forecast_backend/workbook"
	"github.com/finsightapps/forecast_backend/workflow"
)

func main() {
	companyId := flag.String("company-id", "", "Required: company id (uuid)")
	period := flag.String("period", "", "Required: period to rebuild (YYYY-MM)")
	flag.Parse()

	if strings.TrimSpace(*companyId) == "" {
		fmt.Fprintln(os.Stderr, "-company-id is required")
		os.Exit(1)
	}
	year, month, ok := workbook.ParsePeriodKey(strings.TrimSpace(*period))
	if !ok {
		fmt.Fprintln(os.Stderr, "-period must be YYYY-MM")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx := utils.SetCompanyIdInContext(context.Background(), strings.TrimSpace(*companyId))
	ctx = utils.SetUserNameInContext(ctx, "System")

	report, err := workflow.RebuildVariance(ctx, workbook.PeriodKey(year, month))
	if err != nil {
		fmt.Fprintf(os.Stderr, "variance rebuild failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"period":  report.Period,
		"rebuilt": report.Rebuilt,
		"rows":    len(report.Records),
		"summary": report.Summary,
	}, "", "  ")
	fmt.Println(string(out))
}
