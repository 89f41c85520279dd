package workflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/finsightapps/forecast_backend/models"
	"github.com/google/uuid"
)

func testLine(name string) *models.LineItem {
	return &models.LineItem{
		ID:            uuid.New(),
		CompanyId:     "company-1",
		StatementType: models.StatementTypeIncomeStatement,
		LineCode:      models.NormalizeLineCode(name),
		LineName:      name,
	}
}

func percentOfRevenueConfig(t *testing.T, item *models.LineItem, driverCode string) *models.MethodologyConfig {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{"driver_line_code": driverCode})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return &models.MethodologyConfig{
		CompanyId:      item.CompanyId,
		LineItemId:     item.ID.String(),
		Methodology:    models.MethodologyPercentOfRevenue,
		ParametersJSON: params,
	}
}

func orderedNames(res DriverResolution) []string {
	names := make([]string, 0, len(res.Ordered))
	for _, item := range res.Ordered {
		names = append(names, item.LineName)
	}
	return names
}

func assertOrder(t *testing.T, res DriverResolution, expected ...string) {
	t.Helper()
	got := orderedNames(res)
	if len(got) != len(expected) {
		t.Fatalf("expected %d ordered lines, got %d (%v)", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("position %d: expected %q, got %q (full order %v)", i, expected[i], got[i], got)
		}
	}
}

func TestResolveDriverOrderKeepsInputOrderWithoutDrivers(t *testing.T) {
	items := []*models.LineItem{testLine("Revenue"), testLine("COGS"), testLine("Rent")}

	res := ResolveDriverOrder(items, map[string]*models.MethodologyConfig{})

	assertOrder(t, res, "Revenue", "COGS", "Rent")
	if len(res.DriverOf) != 0 || len(res.FallbackDriver) != 0 || len(res.Notes) != 0 {
		t.Fatalf("expected no edges or notes, got %v / %v / %v", res.DriverOf, res.FallbackDriver, res.Notes)
	}
}

func TestResolveDriverOrderPutsDriverBeforeDependent(t *testing.T) {
	cogs := testLine("COGS")
	revenue := testLine("Revenue")
	items := []*models.LineItem{cogs, revenue}
	configs := map[string]*models.MethodologyConfig{
		cogs.ID.String(): percentOfRevenueConfig(t, cogs, "Revenue"),
	}

	res := ResolveDriverOrder(items, configs)

	assertOrder(t, res, "Revenue", "COGS")
	if res.DriverOf[cogs.ID.String()] != revenue.ID.String() {
		t.Fatalf("expected COGS to depend on Revenue, got %v", res.DriverOf)
	}
	if len(res.Notes) != 0 {
		t.Fatalf("expected no notes, got %v", res.Notes)
	}
}

func TestResolveDriverOrderOrdersChains(t *testing.T) {
	commission := testLine("Commission")
	cogs := testLine("COGS")
	revenue := testLine("Revenue")
	items := []*models.LineItem{commission, cogs, revenue}
	configs := map[string]*models.MethodologyConfig{
		commission.ID.String(): percentOfRevenueConfig(t, commission, "COGS"),
		cogs.ID.String():       percentOfRevenueConfig(t, cogs, "Revenue"),
	}

	res := ResolveDriverOrder(items, configs)

	assertOrder(t, res, "Revenue", "COGS", "Commission")
}

func TestResolveDriverOrderIndependentLinesStayStable(t *testing.T) {
	rent := testLine("Rent")
	cogs := testLine("COGS")
	salaries := testLine("Salaries")
	revenue := testLine("Revenue")
	items := []*models.LineItem{rent, cogs, salaries, revenue}
	configs := map[string]*models.MethodologyConfig{
		cogs.ID.String(): percentOfRevenueConfig(t, cogs, "Revenue"),
	}

	res := ResolveDriverOrder(items, configs)

	// rent, salaries and revenue have no dependencies and keep input order;
	// cogs moves after revenue unlocks it
	assertOrder(t, res, "Rent", "Salaries", "Revenue", "COGS")
}

func TestResolveDriverOrderCycleFallsBackToHistory(t *testing.T) {
	alpha := testLine("Alpha")
	beta := testLine("Beta")
	items := []*models.LineItem{alpha, beta}
	configs := map[string]*models.MethodologyConfig{
		alpha.ID.String(): percentOfRevenueConfig(t, alpha, "Beta"),
		beta.ID.String():  percentOfRevenueConfig(t, beta, "Alpha"),
	}

	res := ResolveDriverOrder(items, configs)

	assertOrder(t, res, "Alpha", "Beta")
	if len(res.DriverOf) != 0 {
		t.Fatalf("cycle edges should not survive, got %v", res.DriverOf)
	}
	if res.FallbackDriver[alpha.ID.String()] != beta.ID.String() {
		t.Fatalf("expected Alpha to fall back to Beta's history, got %v", res.FallbackDriver)
	}
	if res.FallbackDriver[beta.ID.String()] != alpha.ID.String() {
		t.Fatalf("expected Beta to fall back to Alpha's history, got %v", res.FallbackDriver)
	}
	for _, id := range []string{alpha.ID.String(), beta.ID.String()} {
		if !strings.Contains(res.Notes[id], "cycle") {
			t.Fatalf("expected cycle note for %s, got %q", id, res.Notes[id])
		}
	}
}

func TestResolveDriverOrderUnknownDriverGetsNote(t *testing.T) {
	cogs := testLine("COGS")
	items := []*models.LineItem{cogs}
	configs := map[string]*models.MethodologyConfig{
		cogs.ID.String(): percentOfRevenueConfig(t, cogs, "Market Size"),
	}

	res := ResolveDriverOrder(items, configs)

	assertOrder(t, res, "COGS")
	if len(res.DriverOf) != 0 || len(res.FallbackDriver) != 0 {
		t.Fatalf("unknown driver must not create an edge, got %v / %v", res.DriverOf, res.FallbackDriver)
	}
	if !strings.Contains(res.Notes[cogs.ID.String()], "not part of this run") {
		t.Fatalf("expected missing-driver note, got %q", res.Notes[cogs.ID.String()])
	}
}

func TestResolveDriverOrderSelfReferenceUsesOwnHistory(t *testing.T) {
	revenue := testLine("Revenue")
	items := []*models.LineItem{revenue}
	configs := map[string]*models.MethodologyConfig{
		revenue.ID.String(): percentOfRevenueConfig(t, revenue, "Revenue"),
	}

	res := ResolveDriverOrder(items, configs)

	assertOrder(t, res, "Revenue")
	if res.FallbackDriver[revenue.ID.String()] != revenue.ID.String() {
		t.Fatalf("expected self reference to fall back to own history, got %v", res.FallbackDriver)
	}
	if !strings.Contains(res.Notes[revenue.ID.String()], "drives itself") {
		t.Fatalf("expected self-reference note, got %q", res.Notes[revenue.ID.String()])
	}
}

func TestResolveDriverOrderMissingDriverCode(t *testing.T) {
	cogs := testLine("COGS")
	items := []*models.LineItem{cogs}
	configs := map[string]*models.MethodologyConfig{
		cogs.ID.String(): percentOfRevenueConfig(t, cogs, ""),
	}

	res := ResolveDriverOrder(items, configs)

	if !strings.Contains(res.Notes[cogs.ID.String()], "no driver line configured") {
		t.Fatalf("expected missing-code note, got %q", res.Notes[cogs.ID.String()])
	}
}

func TestResolveDriverOrderMatchesAcrossStatements(t *testing.T) {
	// driver code resolves against the other statement when the line's own
	// statement has no such code
	deferred := testLine("Deferred Revenue")
	deferred.StatementType = models.StatementTypeBalanceSheet
	revenue := testLine("Revenue")
	items := []*models.LineItem{deferred, revenue}
	configs := map[string]*models.MethodologyConfig{
		deferred.ID.String(): percentOfRevenueConfig(t, deferred, "Revenue"),
	}

	res := ResolveDriverOrder(items, configs)

	if res.DriverOf[deferred.ID.String()] != revenue.ID.String() {
		t.Fatalf("expected balance sheet line to resolve income statement driver, got %v", res.DriverOf)
	}
	assertOrder(t, res, "Revenue", "Deferred Revenue")
}
