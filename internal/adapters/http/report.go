package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/report"
)

// batchReport renders a posted batch result as a downloadable XLSX expense
// report, the same document the worker writes for queued batches.
func (rt *Router) batchReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	var done domain.BatchDone
	if err := json.NewDecoder(r.Body).Decode(&done); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("decode batch result: "+err.Error()))
		return
	}
	if done.EmployeeName == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("employee_name is required"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "expense_report_"+done.EmployeeName+".xlsx"))
	if err := report.WriteBatchReport(w, done); err != nil {
		rt.logger.Error("report generation failed", "employee", done.EmployeeName, "error", err)
	}
}
