package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// statementLine is one label/value row shared by both renderers.
type statementLine struct {
	Label string
	Value any
}

func statementLines(stmt application.Statement, currency string) []statementLine {
	cycle := stmt.Cycle
	lines := []statementLine{
		{"Merchant", cycle.MerchantID},
		{"Cycle", cycle.ID},
		{"Period", fmt.Sprintf("%s to %s", cycle.PeriodStart.Format("2006-01-02"), cycle.PeriodEnd.Format("2006-01-02"))},
		{"Status", string(cycle.Status)},
	}
	if !cycle.ClosedAt.IsZero() {
		lines = append(lines, statementLine{"Closed", cycle.ClosedAt.Format(time.RFC3339)})
	}
	if stmt.Plan != nil {
		usage := billing.ComputeUsage(*stmt.Plan, cycle)
		lines = append(lines,
			statementLine{"Plan", stmt.Plan.Name},
			statementLine{"Free orders included", stmt.Plan.FreeOrdersPerPeriod},
			statementLine{"Overage fee (bp)", stmt.Plan.OverageFeeBP},
			statementLine{"Quota used (%)", usage.PercentageUsed},
		)
	}
	lines = append(lines,
		statementLine{"Free orders used", cycle.FreeOrdersUsed},
		statementLine{"Overage orders", cycle.OverageOrders},
		statementLine{fmt.Sprintf("Overage amount (%s)", currency), formatCents(cycle.OverageAmountCents)},
	)
	return lines
}

// BuildStatementPDF renders a cycle statement as PDF.
func BuildStatementPDF(stmt application.Statement, currency string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Billing Cycle Statement")
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(90, 6, "Value", "1", 0, "L", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range statementLines(stmt, currency) {
		pdf.CellFormat(70, 6, line.Label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(90, 6, fmt.Sprint(line.Value), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a cycle statement as a one-sheet workbook.
func BuildStatementXLSX(stmt application.Statement, currency string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "statement"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(sheet, "A1", "Billing Cycle Statement")
	for i, line := range statementLines(stmt, currency) {
		row := i + 3
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), line.Label)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), line.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
