package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

const (
	invoicesSheet = "Invoices"
	summarySheet  = "Summary"
)

var invoiceHeaders = []string{
	"Filename", "Status", "Reason", "Total Amount", "Reimbursement Amount",
	"Currency", "Categories", "Policy Violations", "From Cache",
}

// WriteBatchReport renders one completed batch as an XLSX workbook with an
// invoice sheet and a summary sheet.
func WriteBatchReport(w io.Writer, done domain.BatchDone) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoicesSheet); err != nil {
		return fmt.Errorf("name invoices sheet: %w", err)
	}
	if err := writeInvoices(f, done); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	if err := writeSummary(f, done); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeInvoices(f *excelize.File, done domain.BatchDone) error {
	for col, h := range invoiceHeaders {
		if err := setCell(f, invoicesSheet, col+1, 1, h); err != nil {
			return err
		}
	}

	for i, r := range done.Results {
		row := i + 2
		values := []any{
			r.Filename,
			string(r.Status),
			r.Reason,
			r.TotalAmount,
			r.ReimbursementAmount,
			r.Currency,
			strings.Join(r.Categories, ", "),
			strings.Join(r.PolicyViolations, "; "),
			r.FromCache,
		}
		for col, v := range values {
			if err := setCell(f, invoicesSheet, col+1, row, v); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(invoicesSheet, "A", "C", 32); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, done domain.BatchDone) error {
	s := done.Summary
	rows := [][2]any{
		{"Employee", done.EmployeeName},
		{"Generated At", done.Timestamp.Format(time.RFC3339)},
		{"Total Invoices", done.TotalInvoices},
		{"Processed", done.ProcessedCount},
		{"Failed", done.FailedCount},
		{"Cache Hits", s.CacheHitCount},
		{"Fully Reimbursed", s.FullyReimbursedCount},
		{"Partially Reimbursed", s.PartiallyReimbursedCount},
		{"Declined", s.DeclinedCount},
		{"Policy Violations", s.PolicyViolationsCount},
		{"Total Amount", s.TotalAmount},
		{"Total Reimbursement", s.TotalReimbursement},
	}

	for i, r := range rows {
		if err := setCell(f, summarySheet, 1, i+1, r[0]); err != nil {
			return err
		}
		if err := setCell(f, summarySheet, 2, i+1, r[1]); err != nil {
			return err
		}
	}

	offset := len(rows) + 2
	for i, pe := range done.ProcessingErrors {
		if err := setCell(f, summarySheet, 1, offset+i, pe.Filename); err != nil {
			return err
		}
		if err := setCell(f, summarySheet, 2, offset+i, pe.Error); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(summarySheet, "A", "B", 28); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell coordinates (%d,%d): %w", col, row, err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}
