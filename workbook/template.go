package workbook

import (
	"bytes"
	"encoding/csv"

	"github.com/finsightapps/forecast_backend/utils"
)

// TemplateLine is one pre-filled registry row of the import template.
type TemplateLine struct {
	Statement   string
	LineCode    string
	LineName    string
	Category    string
	Subcategory string
}

var templateColumns = []string{"Statement", "Line Code", "Line Name", "Category", "Subcategory"}

// BuildImportTemplate renders a CSV skeleton users can fill in by hand: the
// registry columns plus one column per trailing month ending at the given
// period. Amount cells are left blank.
func BuildImportTemplate(lines []TemplateLine, endYear int, endMonth int, months int) ([]byte, error) {

	if !validYearMonth(endYear, endMonth) {
		return nil, utils.NewValidationError("invalid template end period %d-%d", endYear, endMonth)
	}
	if months <= 0 {
		months = 12
	}

	header := make([]string, 0, len(templateColumns)+months)
	header = append(header, templateColumns...)
	year, month := AddMonths(endYear, endMonth, -(months - 1))
	for i := 0; i < months; i++ {
		header = append(header, PeriodKey(year, month))
		year, month = AddMonths(year, month, 1)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	blank := make([]string, months)
	for _, line := range lines {
		record := append([]string{line.Statement, line.LineCode, line.LineName, line.Category, line.Subcategory}, blank...)
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
