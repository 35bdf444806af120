package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
)

func approvedClassification() domain.Classification {
	return domain.Classification{
		Status:              domain.StatusFullyReimbursed,
		Reason:              "Cab fare within the commute policy limits for the travel date.",
		TotalAmount:         494,
		ReimbursementAmount: 494,
		Currency:            "INR",
		Categories:          []string{"travel"},
	}
}

func testPipeline(store *fakeStore, source *fakeSource, extractor *fakeExtractor, classifier *fakeClassifier, notifier ports.BatchNotifier) *IngestionPipeline {
	return NewIngestionPipeline(store, source, extractor, classifier, &fakeEmbedder{}, notifier, 1, nil)
}

func collectEvents(t *testing.T, ch <-chan domain.IngestionEvent) []domain.IngestionEvent {
	t.Helper()
	var events []domain.IngestionEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	return events
}

func batchDone(t *testing.T, events []domain.IngestionEvent) domain.BatchDone {
	t.Helper()
	last := events[len(events)-1]
	done, ok := last.(domain.BatchDone)
	if !ok {
		t.Fatalf("last event = %T (%v), want BatchDone", last, last)
	}
	return done
}

func TestIngestionPipelineFreshBatch(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{files: map[string][]byte{
		"/tmp/policy.pdf": []byte("policy text body"),
		"/tmp/inv1.pdf":   []byte("invoice one"),
		"/tmp/inv2.pdf":   []byte("invoice two"),
	}}
	classifier := &fakeClassifier{result: approvedClassification()}
	notifier := &fakeNotifier{}
	p := testPipeline(store, source, &fakeExtractor{}, classifier, notifier)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/policy.pdf",
		InvoicePaths: []string{"/tmp/inv1.pdf", "/tmp/inv2.pdf"},
	}))

	started, ok := events[0].(domain.BatchStarted)
	if !ok {
		t.Fatalf("first event = %T, want BatchStarted", events[0])
	}
	if started.TotalInvoices != 2 || started.EmployeeName != "Asha Rao" {
		t.Fatalf("unexpected batch metadata: %+v", started)
	}

	done := batchDone(t, events)
	if done.ProcessedCount != 2 || done.FailedCount != 0 {
		t.Fatalf("processed = %d, failed = %d, want 2/0", done.ProcessedCount, done.FailedCount)
	}
	if done.Summary.FullyReimbursedCount != 2 {
		t.Fatalf("fully reimbursed count = %d, want 2", done.Summary.FullyReimbursedCount)
	}
	if done.Summary.TotalAmount != 988 || done.Summary.TotalReimbursement != 988 {
		t.Fatalf("summary totals = %v/%v, want 988/988", done.Summary.TotalAmount, done.Summary.TotalReimbursement)
	}

	if classifier.callCount() != 2 {
		t.Fatalf("classifier calls = %d, want 2", classifier.callCount())
	}
	// One policy document plus two analyses.
	if stored := store.stored(); len(stored) != 3 {
		t.Fatalf("stored documents = %d, want 3", len(stored))
	}
	for _, doc := range store.stored() {
		if doc.Metadata["doc_type"] == domain.DocTypeInvoice && doc.Metadata["employee_name"] != "Asha Rao" {
			t.Fatalf("invoice stored without employee scope: %+v", doc.Metadata)
		}
	}

	if len(notifier.published) != 1 {
		t.Fatalf("published completions = %d, want 1", len(notifier.published))
	}
}

func TestIngestionPipelineCacheHitSkipsAnalysis(t *testing.T) {
	invoiceBytes := []byte("invoice one")
	store := newFakeStore()
	store.invoices[contentHash(invoiceBytes)+"|Asha Rao"] = &domain.StoredDocument{
		ID:      "cached-id",
		Content: "invoice one",
		Metadata: map[string]string{
			"doc_type":             domain.DocTypeInvoice,
			"employee_name":        "Asha Rao",
			"status":               "fully_reimbursed",
			"reason":               "Cab fare within the commute policy limits for the travel date.",
			"total_amount":         "494.00",
			"reimbursement_amount": "494.00",
			"currency":             "INR",
			"categories":           "travel",
		},
	}

	source := &fakeSource{files: map[string][]byte{
		"/tmp/policy.pdf": []byte("policy text body"),
		"/tmp/inv1.pdf":   invoiceBytes,
	}}
	classifier := &fakeClassifier{result: approvedClassification()}
	p := testPipeline(store, source, &fakeExtractor{}, classifier, nil)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/policy.pdf",
		InvoicePaths: []string{"/tmp/inv1.pdf"},
	}))

	if classifier.callCount() != 0 {
		t.Fatalf("classifier calls = %d, want 0 for a cache hit", classifier.callCount())
	}

	var result *domain.InvoiceResult
	for _, ev := range events {
		if r, ok := ev.(domain.InvoiceResult); ok {
			result = &r
		}
	}
	if result == nil {
		t.Fatal("no result event emitted")
	}
	if !result.FromCache {
		t.Fatal("result not marked from_cache")
	}
	if result.Status != domain.StatusFullyReimbursed || result.TotalAmount != 494 {
		t.Fatalf("cached result not reconstructed: %+v", result)
	}

	done := batchDone(t, events)
	if done.Summary.CacheHitCount != 1 {
		t.Fatalf("cache hit count = %d, want 1", done.Summary.CacheHitCount)
	}
	// Only the policy document was written.
	if stored := store.stored(); len(stored) != 1 || stored[0].Metadata["doc_type"] != domain.DocTypePolicy {
		t.Fatalf("unexpected writes for a cached invoice: %+v", stored)
	}
}

func TestIngestionPipelineIsolatesItemFailure(t *testing.T) {
	files := map[string][]byte{"/tmp/policy.pdf": []byte("policy text body")}
	paths := []string{"/tmp/a.pdf", "/tmp/b.pdf", "/tmp/c.pdf", "/tmp/d.pdf", "/tmp/e.pdf"}
	for _, p := range paths {
		files[p] = []byte("invoice " + p)
	}

	store := newFakeStore()
	classifier := &fakeClassifier{result: approvedClassification()}
	p := testPipeline(store, &fakeSource{files: files}, &fakeExtractor{failOn: "c.pdf"}, classifier, nil)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/policy.pdf",
		InvoicePaths: paths,
	}))

	done := batchDone(t, events)
	if done.ProcessedCount != 4 || done.FailedCount != 1 {
		t.Fatalf("processed = %d, failed = %d, want 4/1", done.ProcessedCount, done.FailedCount)
	}
	if len(done.ProcessingErrors) != 1 || done.ProcessingErrors[0].Filename != "c.pdf" {
		t.Fatalf("processing errors = %+v, want one for c.pdf", done.ProcessingErrors)
	}

	var errEvents []domain.IngestionError
	for _, ev := range events {
		if e, ok := ev.(domain.IngestionError); ok {
			errEvents = append(errEvents, e)
		}
	}
	if len(errEvents) != 1 || errEvents[0].Filename != "c.pdf" {
		t.Fatalf("error events = %+v, want exactly one for c.pdf", errEvents)
	}
}

func TestIngestionPipelineDeclinesOnInvalidClassification(t *testing.T) {
	bad := approvedClassification()
	bad.ReimbursementAmount = bad.TotalAmount + 100

	store := newFakeStore()
	source := &fakeSource{files: map[string][]byte{
		"/tmp/policy.pdf": []byte("policy text body"),
		"/tmp/inv1.pdf":   []byte("invoice one"),
	}}
	p := testPipeline(store, source, &fakeExtractor{}, &fakeClassifier{result: bad}, nil)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/policy.pdf",
		InvoicePaths: []string{"/tmp/inv1.pdf"},
	}))

	done := batchDone(t, events)
	if done.ProcessedCount != 1 || done.FailedCount != 0 {
		t.Fatalf("processed = %d, failed = %d, want 1/0", done.ProcessedCount, done.FailedCount)
	}
	if len(done.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(done.Results))
	}
	result := done.Results[0]
	if result.Status != domain.StatusDeclined {
		t.Fatalf("status = %q, want declined fallback", result.Status)
	}
	if result.ReimbursementAmount != 0 {
		t.Fatalf("fallback reimbursement = %v, want 0", result.ReimbursementAmount)
	}
}

func TestIngestionPipelineDeclinesOnClassifierError(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{files: map[string][]byte{
		"/tmp/policy.pdf": []byte("policy text body"),
		"/tmp/inv1.pdf":   []byte("invoice one"),
	}}
	classifier := &fakeClassifier{err: errors.New("model unavailable")}
	p := testPipeline(store, source, &fakeExtractor{}, classifier, nil)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/policy.pdf",
		InvoicePaths: []string{"/tmp/inv1.pdf"},
	}))

	done := batchDone(t, events)
	if done.FailedCount != 0 || len(done.Results) != 1 {
		t.Fatalf("classifier failure should decline, not fail: %+v", done)
	}
	if done.Results[0].Status != domain.StatusDeclined {
		t.Fatalf("status = %q, want declined", done.Results[0].Status)
	}
}

func TestIngestionPipelinePolicyFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{files: map[string][]byte{"/tmp/inv1.pdf": []byte("invoice one")}}
	p := testPipeline(store, source, &fakeExtractor{}, &fakeClassifier{result: approvedClassification()}, nil)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/missing-policy.pdf",
		InvoicePaths: []string{"/tmp/inv1.pdf"},
	}))

	last := events[len(events)-1]
	errEv, ok := last.(domain.IngestionError)
	if !ok {
		t.Fatalf("last event = %T, want IngestionError", last)
	}
	if !strings.Contains(errEv.Error, "read policy file") {
		t.Fatalf("error = %q, want policy read failure", errEv.Error)
	}
	for _, ev := range events {
		if _, ok := ev.(domain.BatchDone); ok {
			t.Fatal("BatchDone emitted after fatal policy failure")
		}
	}
}

func TestIngestionPipelineReusesStoredPolicy(t *testing.T) {
	policyBytes := []byte("policy text body")
	store := newFakeStore()
	store.policies[contentHash(policyBytes)] = &domain.StoredDocument{
		ID:       "policy-id",
		Content:  "policy text body",
		Metadata: map[string]string{"doc_type": domain.DocTypePolicy},
	}
	source := &fakeSource{files: map[string][]byte{
		"/tmp/policy.pdf": policyBytes,
		"/tmp/inv1.pdf":   []byte("invoice one"),
	}}
	p := testPipeline(store, source, &fakeExtractor{}, &fakeClassifier{result: approvedClassification()}, nil)

	events := collectEvents(t, p.Run(context.Background(), ports.BatchRequest{
		EmployeeName: "Asha Rao",
		PolicyPath:   "/tmp/policy.pdf",
		InvoicePaths: []string{"/tmp/inv1.pdf"},
	}))

	var sawDuplicate bool
	for _, ev := range events {
		if ps, ok := ev.(domain.PolicyStage); ok && ps.Status == "duplicate_found" {
			sawDuplicate = true
		}
	}
	if !sawDuplicate {
		t.Fatal("no duplicate_found policy stage emitted")
	}
	// Only the invoice analysis was written.
	for _, doc := range store.stored() {
		if doc.Metadata["doc_type"] == domain.DocTypePolicy {
			t.Fatal("policy re-stored despite duplicate")
		}
	}
}
