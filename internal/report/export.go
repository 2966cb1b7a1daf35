package report

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

type section struct {
	name   string
	emails []string
}

func (c *Categories) sections() []section {
	return []section{
		{"Valid", c.Valid},
		{"Catch-All Valid", c.CatchAllValid},
		{"Invalid", c.Invalid},
		{"Unknown", c.Unknown},
	}
}

// WriteCSV renders one row per email with its category.
func WriteCSV(c *Categories) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"email", "category"}); err != nil {
		return nil, err
	}
	for _, s := range c.sections() {
		for _, email := range s.emails {
			if err := w.Write([]string{email, s.name}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	return buf.Bytes(), nil
}

// SummarySheet is the first sheet of an XLSX export.
const SummarySheet = "Summary"

// WriteXLSX renders a workbook with a summary sheet followed by one sheet per
// category.
func WriteXLSX(c *Categories) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// A new file starts with Sheet1; reuse it as the summary.
	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return nil, err
	}
	setRow := func(sheet string, row int, values ...any) {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	setRow(SummarySheet, 1, "Category", "Count")
	total := 0
	for i, s := range c.sections() {
		setRow(SummarySheet, i+2, s.name, len(s.emails))
		total += len(s.emails)

		if _, err := f.NewSheet(s.name); err != nil {
			return nil, fmt.Errorf("new sheet %s: %w", s.name, err)
		}
		setRow(s.name, 1, "Email")
		for j, email := range s.emails {
			setRow(s.name, j+2, email)
		}
		_ = f.SetColWidth(s.name, "A", "A", 40)
	}
	setRow(SummarySheet, len(c.sections())+2, "Total", total)
	_ = f.SetColWidth(SummarySheet, "A", "A", 18)
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
