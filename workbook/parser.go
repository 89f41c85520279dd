package workbook

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/finsightapps/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// accountHints mark a header cell as the account/line-name column. A row
// carrying one of these is the header row even when no month columns qualify
// yet, which guards against title rows above the real header.
var accountHints = []string{"account", "line", "description"}

// MonthColumn is one header column that normalized to a calendar month.
type MonthColumn struct {
	Col    int
	Header string
	Year   int
	Month  int
}

func (m MonthColumn) Key() string {
	return PeriodKey(m.Year, m.Month)
}

// Sheet is the normalized view of the first worksheet: the detected header,
// the data rows below it, and which columns mean what.
type Sheet struct {
	Headers []string
	Rows    [][]string
	Months  []MonthColumn

	LineNameCol    int
	LineCodeCol    int
	StatementCol   int
	CategoryCol    int
	SubcategoryCol int
}

// PeriodAmount is one parsed month cell of a line row.
type PeriodAmount struct {
	Year   int
	Month  int
	Amount decimal.Decimal
}

// LineRow is one extracted account row. Statement is already canonical when
// the sheet carries a statement column, empty otherwise; LineCode is the raw
// cell and may be empty for exports without an explicit code column.
type LineRow struct {
	Statement   string
	LineCode    string
	LineName    string
	Category    string
	Subcategory string
	Amounts     []PeriodAmount
}

// ParseWorkbook reads an uploaded spreadsheet or CSV into a Sheet. Only the
// first worksheet of an xlsx file is considered. A file with no detectable
// header or no month columns is a validation error, never a partial import.
func ParseWorkbook(fileName string, data []byte) (*Sheet, error) {

	if len(data) == 0 {
		return nil, utils.NewValidationError("uploaded file is empty")
	}

	var rows [][]string
	var err error
	if isXLSX(fileName, data) {
		rows, err = readXLSXRows(data)
	} else {
		rows, err = readCSVRows(data)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, utils.NewValidationError("uploaded file is empty")
	}

	headerIdx := detectHeaderRow(rows)
	if headerIdx < 0 {
		return nil, utils.NewValidationError("could not find a header row with account and month columns")
	}

	sheet := &Sheet{
		Headers: rows[headerIdx],
		Rows:    rows[headerIdx+1:],
	}
	sheet.assignColumns()

	if len(sheet.Months) == 0 {
		return nil, utils.NewValidationError("no month columns detected in the header row")
	}
	return sheet, nil
}

func isXLSX(fileName string, data []byte) bool {
	// xlsx files are zip archives
	if len(data) >= 2 && data[0] == 'P' && data[1] == 'K' {
		return true
	}
	return strings.HasSuffix(strings.ToLower(fileName), ".xlsx")
}

func readXLSXRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, utils.NewValidationError("unable to open spreadsheet: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, utils.NewValidationError("spreadsheet has no worksheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, utils.NewValidationError("unable to read worksheet %q: %v", sheets[0], err)
	}
	return rows, nil
}

func readCSVRows(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, utils.NewValidationError("unable to parse CSV: %v", err)
	}
	return rows, nil
}

// detectHeaderRow scans top-down. A row with an account-hint cell is the
// header outright. A row with at least two month cells is the header too,
// unless its first cell is blank and the following row carries an account
// hint, in which case that next row wins.
func detectHeaderRow(rows [][]string) int {
	for i, row := range rows {
		if rowHasAccountHint(row) {
			return i
		}
		if countMonthCells(row) >= 2 {
			if firstCellText(row) == "" && i+1 < len(rows) && rowHasAccountHint(rows[i+1]) {
				return i + 1
			}
			return i
		}
	}
	return -1
}

func rowHasAccountHint(row []string) bool {
	for _, cell := range row {
		lowered := strings.ToLower(strings.TrimSpace(cell))
		for _, hint := range accountHints {
			if strings.HasPrefix(lowered, hint) {
				return true
			}
		}
	}
	return false
}

func countMonthCells(row []string) int {
	count := 0
	for _, cell := range row {
		if _, ok := NormalizePeriodLabel(cell); ok {
			count++
		}
	}
	return count
}

func firstCellText(row []string) string {
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(row[0])
}

// assignColumns resolves each header cell to a role. Headers that normalize
// to a period become month columns; the rest are matched against the known
// label columns. Without an explicit name column the first column is assumed
// to hold the line names, which is how raw accounting exports look.
func (s *Sheet) assignColumns() {

	s.LineNameCol, s.LineCodeCol, s.StatementCol, s.CategoryCol, s.SubcategoryCol = -1, -1, -1, -1, -1

	for col, header := range s.Headers {
		if year, month, ok := parsePeriodLabel(header); ok {
			s.Months = append(s.Months, MonthColumn{Col: col, Header: header, Year: year, Month: month})
			continue
		}
		lowered := strings.ToLower(strings.TrimSpace(header))
		switch {
		case lowered == "":
			continue
		case strings.Contains(lowered, "code"):
			if s.LineCodeCol < 0 {
				s.LineCodeCol = col
			}
		case strings.Contains(lowered, "statement"):
			if s.StatementCol < 0 {
				s.StatementCol = col
			}
		case strings.Contains(lowered, "subcategory") || strings.Contains(lowered, "sub category"):
			if s.SubcategoryCol < 0 {
				s.SubcategoryCol = col
			}
		case strings.Contains(lowered, "category"):
			if s.CategoryCol < 0 {
				s.CategoryCol = col
			}
		case isAccountHeader(lowered):
			if s.LineNameCol < 0 {
				s.LineNameCol = col
			}
		}
	}

	if s.LineNameCol < 0 {
		s.LineNameCol = 0
	}
}

func isAccountHeader(lowered string) bool {
	for _, hint := range accountHints {
		if strings.HasPrefix(lowered, hint) {
			return true
		}
	}
	return strings.Contains(lowered, "name")
}

// PeriodRange returns the earliest and latest month column as YYYY-MM keys.
func (s *Sheet) PeriodRange() (string, string) {
	if len(s.Months) == 0 {
		return "", ""
	}
	min, max := s.Months[0], s.Months[0]
	for _, m := range s.Months[1:] {
		if m.Year*12+m.Month < min.Year*12+min.Month {
			min = m
		}
		if m.Year*12+m.Month > max.Year*12+max.Month {
			max = m
		}
	}
	return min.Key(), max.Key()
}

// ExtractLineRows turns the data rows into typed line rows. Rows with a
// blank name cell are separators or spacing and are skipped; month cells
// that fail to parse as numbers (blank, dashes, text) load as 0.
func (s *Sheet) ExtractLineRows() []LineRow {

	out := make([]LineRow, 0, len(s.Rows))
	for _, row := range s.Rows {
		name := strings.TrimSpace(cellAt(row, s.LineNameCol))
		if name == "" {
			continue
		}

		line := LineRow{
			LineName:    name,
			LineCode:    strings.TrimSpace(cellAt(row, s.LineCodeCol)),
			Category:    strings.TrimSpace(cellAt(row, s.CategoryCol)),
			Subcategory: strings.TrimSpace(cellAt(row, s.SubcategoryCol)),
		}
		if s.StatementCol >= 0 {
			if raw := strings.TrimSpace(cellAt(row, s.StatementCol)); raw != "" {
				line.Statement = NormalizeStatementType(raw)
			}
		}

		line.Amounts = make([]PeriodAmount, 0, len(s.Months))
		for _, month := range s.Months {
			amount, _ := utils.ParseAmount(cellAt(row, month.Col))
			line.Amounts = append(line.Amounts, PeriodAmount{Year: month.Year, Month: month.Month, Amount: amount})
		}
		out = append(out, line)
	}
	return out
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
