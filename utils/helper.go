package utils

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func ParseDecimal(value string) (decimal.Decimal, error) {
	// Remove any whitespace and check for empty strings
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	// Convert string to decimal
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// ParseAmount normalizes a spreadsheet cell into an amount. Currency symbols,
// thousands separators and surrounding whitespace are stripped; accounting
// style parentheses mean negative. Blank or non-numeric cells normalize to 0
// (ok=false) rather than failing the row.
func ParseAmount(value string) (decimal.Decimal, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == "-" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = value[1 : len(value)-1]
	}

	replacer := strings.NewReplacer("$", "", ",", "", " ", "")
	value = replacer.Replace(value)

	dec, err := ParseDecimal(value)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		dec = dec.Neg()
	}
	return dec, true
}

// ChunkSlice splits rows into chunks of at most size elements, preserving order.
func ChunkSlice[T any](rows []T, size int) [][]T {
	if size <= 0 || len(rows) == 0 {
		if len(rows) == 0 {
			return nil
		}
		return [][]T{rows}
	}
	chunks := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

func GenerateUniqueFilename() string {

	timestamp := time.Now().UnixNano()

	random := rand.Intn(1000)

	uniqueFilename := fmt.Sprintf("%d_%d", timestamp, random)

	return uniqueFilename
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}
