// Package workbook parses exported financial statements (xlsx or CSV) into
// normalized rows the import pipeline can load. It holds no storage concerns;
// everything here is pure over the file bytes.
package workbook

import (
	"fmt"
	"strconv"
	"strings"
)

var monthsByName = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

// PeriodKey formats a period as canonical zero-padded YYYY-MM.
func PeriodKey(year int, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// ParsePeriodKey is the strict inverse of PeriodKey.
func ParsePeriodKey(key string) (int, int, bool) {
	if len(key) != 7 || key[4] != '-' {
		return 0, 0, false
	}
	year, err := strconv.Atoi(key[:4])
	if err != nil {
		return 0, 0, false
	}
	month, err := strconv.Atoi(key[5:])
	if err != nil {
		return 0, 0, false
	}
	if !validYearMonth(year, month) {
		return 0, 0, false
	}
	return year, month, true
}

// AddMonths walks a period forward or backward on the month calendar.
func AddMonths(year int, month int, delta int) (int, int) {
	idx := year*12 + (month - 1) + delta
	return idx / 12, idx%12 + 1
}

// NormalizePeriodLabel maps free-text column headers like "Jan 2024",
// "2024-01", "2024/1" or "2024-03-15" to a canonical YYYY-MM key. Headers
// that do not resolve to a period return ok=false; the caller simply skips
// them as non-month columns.
func NormalizePeriodLabel(label string) (string, bool) {
	year, month, ok := parsePeriodLabel(label)
	if !ok {
		return "", false
	}
	return PeriodKey(year, month), true
}

func parsePeriodLabel(label string) (int, int, bool) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return 0, 0, false
	}

	tokens := strings.FieldsFunc(trimmed, func(r rune) bool {
		switch r {
		case ' ', '\t', '-', '/', '.', ',':
			return true
		}
		return false
	})

	switch len(tokens) {
	case 2:
		// YYYY-MM, YYYY/M, MM/YYYY, "Jan 2024", "2024 Jan", "Feb-24"
		if year, month, ok := numericPair(tokens[0], tokens[1]); ok {
			return year, month, true
		}
		if month, ok := lookupMonthName(tokens[0]); ok {
			if year, ok := yearToken(tokens[1]); ok {
				return year, month, true
			}
		}
		if month, ok := lookupMonthName(tokens[1]); ok {
			if year, ok := yearToken(tokens[0]); ok {
				return year, month, true
			}
		}
	case 3:
		// full dates: 2024-01-15, 01/15/2024, "Jan 2, 2024"; the day is dropped
		if month, ok := lookupMonthName(tokens[0]); ok {
			if year, ok := fourDigitYear(tokens[2]); ok {
				return year, month, true
			}
		}
		if year, ok := fourDigitYear(tokens[0]); ok {
			if month, ok := monthToken(tokens[1]); ok {
				return year, month, true
			}
		}
		if year, ok := fourDigitYear(tokens[2]); ok {
			if month, ok := monthToken(tokens[0]); ok {
				return year, month, true
			}
		}
	}
	return 0, 0, false
}

func numericPair(a string, b string) (int, int, bool) {
	first, err1 := strconv.Atoi(a)
	second, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if len(a) == 4 && validYearMonth(first, second) {
		return first, second, true
	}
	if len(b) == 4 && validYearMonth(second, first) {
		return second, first, true
	}
	return 0, 0, false
}

func lookupMonthName(token string) (int, bool) {
	month, ok := monthsByName[strings.ToLower(token)]
	return month, ok
}

func monthToken(token string) (int, bool) {
	if month, ok := lookupMonthName(token); ok {
		return month, true
	}
	month, err := strconv.Atoi(token)
	if err != nil || month < 1 || month > 12 {
		return 0, false
	}
	return month, true
}

func yearToken(token string) (int, bool) {
	year, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}
	// two-digit years come from headers like "Feb-24"
	if year >= 0 && year < 100 {
		return 2000 + year, true
	}
	if validYear(year) {
		return year, true
	}
	return 0, false
}

func fourDigitYear(token string) (int, bool) {
	if len(token) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(token)
	if err != nil || !validYear(year) {
		return 0, false
	}
	return year, true
}

func validYear(year int) bool {
	return year >= 1900 && year <= 2200
}

func validYearMonth(year int, month int) bool {
	return validYear(year) && month >= 1 && month <= 12
}
