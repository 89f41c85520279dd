// forecast-run triggers a forecast run for one company from the command
// line, for ops and scheduled jobs (Cloud Scheduler hits the container with
// this entry point instead of the HTTP surface).
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_NAME=... go run ./cmd/forecast-run -company-id <uuid> [-months 12] [-dry-run]
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
	"github.com/finsightapps/forecast_backend/workflow"
)

func main() {
	companyId := flag.String("company-id", "", "Required: company id (uuid)")
	months := flag.Int("months", 12, "Horizon in months")
	dryRun := flag.Bool("dry-run", false, "Calculate without persisting projections")
	flag.Parse()

	if strings.TrimSpace(*companyId) == "" {
		fmt.Fprintln(os.Stderr, "-company-id is required")
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

	summary, err := workflow.RunForecast(ctx, workflow.RunForecastInput{
		Months:  *months,
		Persist: !*dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "forecast run failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"forecast_version": summary.ForecastVersion,
		"start_period":     summary.StartPeriod,
		"months":           summary.Months,
		"line_count":       summary.LineCount,
		"point_count":      summary.PointCount,
		"persisted":        summary.Persisted,
		"notes":            summary.Notes,
	}, "", "  ")
	fmt.Println(string(out))
}
