package workbook

import "strings"

// Canonical statement identifiers, matching the registry enum values.
const (
	StatementIncome  = "income_statement"
	StatementBalance = "balance_sheet"
)

var balanceHints = []string{"balance", "asset", "liabilit", "equity", "financial position"}

// NormalizeStatementType maps free-text statement labels ("P&L", "income",
// "Balance Sheet", "assets") to a canonical statement identifier. Anything
// ambiguous defaults to the income statement, which is what raw P&L exports
// overwhelmingly are.
func NormalizeStatementType(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return StatementIncome
	}
	if label == "bs" {
		return StatementBalance
	}
	for _, hint := range balanceHints {
		if strings.Contains(label, hint) {
			return StatementBalance
		}
	}
	return StatementIncome
}
