package workbook

import "testing"

func TestNormalizePeriodLabel(t *testing.T) {
	cases := []struct {
		in       string
		expected string
		ok       bool
	}{
		{"2024-01", "2024-01", true},
		{"2024-1", "2024-01", true},
		{"2024/1", "2024-01", true},
		{"2024/01", "2024-01", true},
		{"01/2024", "2024-01", true},
		{"Jan 2024", "2024-01", true},
		{"January 2024", "2024-01", true},
		{"  Sep 2025 ", "2025-09", true},
		{"Sept 2025", "2025-09", true},
		{"Feb-24", "2024-02", true},
		{"2024 Mar", "2024-03", true},
		{"2024-03-15", "2024-03", true},
		{"01/15/2024", "2024-01", true},
		{"Jan 2, 2024", "2024-01", true},
		{"", "", false},
		{"Total", "", false},
		{"Account Name", "", false},
		{"2024-13", "", false},
		{"1234-05", "", false},
		{"FY2024", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePeriodLabel(tc.in)
		if ok != tc.ok {
			t.Fatalf("NormalizePeriodLabel(%q) ok=%v, expected %v", tc.in, ok, tc.ok)
		}
		if ok && got != tc.expected {
			t.Fatalf("NormalizePeriodLabel(%q) = %q, expected %q", tc.in, got, tc.expected)
		}
	}
}

func TestNormalizePeriodLabel_CanonicalIsFixpoint(t *testing.T) {
	for _, key := range []string{"2024-01", "2025-12", "1999-06"} {
		got, ok := NormalizePeriodLabel(key)
		if !ok || got != key {
			t.Fatalf("expected %q to normalize to itself, got %q ok=%v", key, got, ok)
		}
	}
}

func TestParsePeriodKey(t *testing.T) {
	year, month, ok := ParsePeriodKey("2024-07")
	if !ok || year != 2024 || month != 7 {
		t.Fatalf("ParsePeriodKey(2024-07) = %d, %d, %v", year, month, ok)
	}
	for _, bad := range []string{"2024-7", "2024/07", "202407", "2024-00", "abcd-ef", ""} {
		if _, _, ok := ParsePeriodKey(bad); ok {
			t.Fatalf("expected ParsePeriodKey(%q) to fail", bad)
		}
	}
}

func TestAddMonths(t *testing.T) {
	cases := []struct {
		year, month, delta      int
		expectYear, expectMonth int
	}{
		{2024, 1, 1, 2024, 2},
		{2024, 12, 1, 2025, 1},
		{2024, 1, -1, 2023, 12},
		{2024, 6, -18, 2022, 12},
		{2024, 6, 0, 2024, 6},
	}
	for _, tc := range cases {
		year, month := AddMonths(tc.year, tc.month, tc.delta)
		if year != tc.expectYear || month != tc.expectMonth {
			t.Fatalf("AddMonths(%d, %d, %d) = %d-%d, expected %d-%d",
				tc.year, tc.month, tc.delta, year, month, tc.expectYear, tc.expectMonth)
		}
	}
}

func TestNormalizeStatementType(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"P&L", StatementIncome},
		{"income", StatementIncome},
		{"Income Statement", StatementIncome},
		{"profit and loss", StatementIncome},
		{"Balance Sheet", StatementBalance},
		{"balance", StatementBalance},
		{"assets", StatementBalance},
		{"Liabilities", StatementBalance},
		{"Statement of Financial Position", StatementBalance},
		{"bs", StatementBalance},
		{"", StatementIncome},
		{"something else", StatementIncome},
	}
	for _, tc := range cases {
		if got := NormalizeStatementType(tc.in); got != tc.expected {
			t.Fatalf("NormalizeStatementType(%q) = %q, expected %q", tc.in, got, tc.expected)
		}
	}
}
