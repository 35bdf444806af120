package httpadapter

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
)

const maxUploadMemory = 32 << 20 // 32 MiB before multipart spills to disk

// analyzeInvoices runs a full batch synchronously and returns the final
// BatchDone document as JSON. Streaming clients use the /stream variant.
func (rt *Router) analyzeInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	req, cleanup, err := rt.buildBatchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cleanup()

	start := time.Now()
	var (
		done    *domain.BatchDone
		lastErr *domain.IngestionError
	)
	for ev := range rt.ingestor.Run(r.Context(), req) {
		switch v := ev.(type) {
		case domain.BatchDone:
			d := v
			done = &d
		case domain.IngestionError:
			e := v
			lastErr = &e
		}
	}

	if done == nil {
		// The stream ended without a BatchDone: the batch failed before
		// fan-out, typically on the policy document.
		msg := "batch processing failed"
		if lastErr != nil {
			msg = lastErr.Error
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(msg))
		return
	}

	rt.recordBatchMetrics(done, time.Since(start))
	writeJSON(w, http.StatusOK, done)
}

// analyzeInvoicesStream runs a batch and relays every ingestion event as a
// Server-Sent Event in production order.
func (rt *Router) analyzeInvoicesStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	req, cleanup, err := rt.buildBatchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cleanup()

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	start := time.Now()
	for ev := range rt.ingestor.Run(r.Context(), req) {
		if err := sse.send(ev.EventType(), ev); err != nil {
			rt.logger.Warn("sse write failed, client gone", "error", err)
			return
		}
		if done, ok := ev.(domain.BatchDone); ok {
			rt.recordBatchMetrics(&done, time.Since(start))
		}
	}
	_ = sse.done()
}

// buildBatchRequest spools the multipart upload (one policy file, N invoice
// files, an employee name) to local storage and returns the paths plus a
// cleanup that removes them.
func (rt *Router) buildBatchRequest(r *http.Request) (ports.BatchRequest, func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return ports.BatchRequest{}, noop, domain.WrapError(domain.ErrInvalidInput, "parse multipart form", err)
	}

	employeeName := r.FormValue("employee_name")
	if employeeName == "" {
		return ports.BatchRequest{}, noop, fmt.Errorf("%w: employee_name is required", domain.ErrInvalidInput)
	}

	policyFiles := r.MultipartForm.File["policy"]
	if len(policyFiles) != 1 {
		return ports.BatchRequest{}, noop, fmt.Errorf("%w: exactly one policy file is required", domain.ErrInvalidInput)
	}
	invoiceFiles := r.MultipartForm.File["invoices"]
	if len(invoiceFiles) == 0 {
		return ports.BatchRequest{}, noop, fmt.Errorf("%w: at least one invoice file is required", domain.ErrInvalidInput)
	}

	var saved []string
	cleanup := func() {
		for _, p := range saved {
			_ = rt.uploads.Remove(r.Context(), p)
		}
	}

	spool := func(fh *multipart.FileHeader) (string, error) {
		f, err := fh.Open()
		if err != nil {
			return "", domain.WrapError(domain.ErrInvalidInput, "open upload "+fh.Filename, err)
		}
		defer f.Close()
		key := uuid.NewString() + "_" + filepath.Base(fh.Filename)
		path, err := rt.uploads.Save(r.Context(), key, f)
		if err != nil {
			return "", err
		}
		saved = append(saved, path)
		return path, nil
	}

	policyPath, err := spool(policyFiles[0])
	if err != nil {
		cleanup()
		return ports.BatchRequest{}, noop, err
	}

	invoicePaths := make([]string, 0, len(invoiceFiles))
	for _, fh := range invoiceFiles {
		path, err := spool(fh)
		if err != nil {
			cleanup()
			return ports.BatchRequest{}, noop, err
		}
		invoicePaths = append(invoicePaths, path)
	}

	return ports.BatchRequest{
		EmployeeName: employeeName,
		PolicyPath:   policyPath,
		InvoicePaths: invoicePaths,
	}, cleanup, nil
}

func (rt *Router) recordBatchMetrics(done *domain.BatchDone, duration time.Duration) {
	if rt.metrics == nil {
		return
	}
	statuses := make(map[string]int, len(done.Results))
	for _, res := range done.Results {
		statuses[string(res.Status)]++
	}
	rt.metrics.RecordBatch(serviceName, done.ProcessedCount, done.FailedCount, done.Summary.CacheHitCount, statuses, duration)
}
