package httpadapter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

func TestBatchReportReturnsWorkbook(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil, nil)

	done := domain.BatchDone{
		EmployeeName:   "Asha Rao",
		TotalInvoices:  1,
		ProcessedCount: 1,
		Results: []domain.InvoiceResult{{
			Filename:            "cab.pdf",
			Status:              domain.StatusFullyReimbursed,
			Reason:              "Within the travel allowance.",
			TotalAmount:         494,
			ReimbursementAmount: 494,
			Currency:            "INR",
		}},
		Summary: domain.BatchSummary{FullyReimbursedCount: 1, TotalAmount: 494, TotalReimbursement: 494},
	}
	body, err := json.Marshal(done)
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/report", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "expense_report_Asha Rao.xlsx") {
		t.Fatalf("unexpected disposition: %q", res.Header().Get("Content-Disposition"))
	}

	wb, err := excelize.OpenReader(bytes.NewReader(res.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	got, err := wb.GetCellValue("Invoices", "A2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if got != "cab.pdf" {
		t.Fatalf("Invoices!A2 = %q, want cab.pdf", got)
	}
}

func TestBatchReportRequiresEmployeeName(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/report", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
