package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
)

const defaultAnalysisConcurrency = 4

// IngestionPipeline turns one policy file and a batch of invoice files into
// deduplicated, analyzed, stored records, reporting progress as a typed
// event stream. Invoice items run concurrently under a bounded worker pool;
// a failed item never cancels its siblings.
type IngestionPipeline struct {
	store       ports.ContentStore
	source      ports.FileSource
	extractor   ports.TextExtractor
	classifier  ports.InvoiceClassifier
	embedder    ports.Embedder
	notifier    ports.BatchNotifier
	concurrency int
	logger      *slog.Logger
}

func NewIngestionPipeline(
	store ports.ContentStore,
	source ports.FileSource,
	extractor ports.TextExtractor,
	classifier ports.InvoiceClassifier,
	embedder ports.Embedder,
	notifier ports.BatchNotifier,
	concurrency int,
	logger *slog.Logger,
) *IngestionPipeline {
	if concurrency <= 0 {
		concurrency = defaultAnalysisConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionPipeline{
		store:       store,
		source:      source,
		extractor:   extractor,
		classifier:  classifier,
		embedder:    embedder,
		notifier:    notifier,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run starts the batch and returns its event channel. The channel is closed
// after the terminal event: BatchDone on completion (including partial
// failure), or IngestionError when the policy stage fails.
func (p *IngestionPipeline) Run(ctx context.Context, req ports.BatchRequest) <-chan domain.IngestionEvent {
	events := make(chan domain.IngestionEvent, 16)
	go func() {
		defer close(events)
		p.run(ctx, req, events)
	}()
	return events
}

func (p *IngestionPipeline) run(ctx context.Context, req ports.BatchRequest, events chan<- domain.IngestionEvent) {
	if !emit(ctx, events, domain.BatchStarted{
		EmployeeName:  req.EmployeeName,
		TotalInvoices: len(req.InvoicePaths),
	}) {
		return
	}

	policyText, ok := p.preparePolicy(ctx, req, events)
	if !ok {
		return
	}

	batch := newBatchState(len(req.InvoicePaths))

	pool, err := ants.NewPool(p.concurrency)
	if err != nil {
		emit(ctx, events, domain.IngestionError{Error: fmt.Sprintf("start worker pool: %v", err)})
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, invoicePath := range req.InvoicePaths {
		invoicePath := invoicePath
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			p.processInvoice(ctx, req.EmployeeName, invoicePath, policyText, batch, events)
		})
		if submitErr != nil {
			wg.Done()
			filename := filepath.Base(invoicePath)
			batch.recordError(domain.IngestionError{Filename: filename, Error: submitErr.Error()})
			emit(ctx, events, domain.IngestionError{Filename: filename, Error: submitErr.Error()})
		}
	}
	wg.Wait()

	done := batch.done(req.EmployeeName)
	p.logger.Info("batch completed",
		"employee", req.EmployeeName,
		"total", done.TotalInvoices,
		"processed", done.ProcessedCount,
		"failed", done.FailedCount,
	)

	if p.notifier != nil {
		if err := p.notifier.PublishBatchCompleted(ctx, done); err != nil {
			p.logger.Warn("publish batch completion", "error", err)
		}
	}

	emit(ctx, events, done)
}

// preparePolicy resolves the policy text: reuse the stored copy when the
// content hash is already known, otherwise extract, validate and store it.
// An unreadable or empty policy fails the whole request.
func (p *IngestionPipeline) preparePolicy(ctx context.Context, req ports.BatchRequest, events chan<- domain.IngestionEvent) (string, bool) {
	emit(ctx, events, domain.PolicyStage{Status: "checking_duplicates"})

	data, err := p.source.Read(ctx, req.PolicyPath)
	if err != nil {
		emit(ctx, events, domain.IngestionError{Error: fmt.Sprintf("read policy file: %v", err)})
		return "", false
	}
	hash := contentHash(data)

	existing, err := p.store.FindByHash(ctx, hash, domain.DocTypePolicy)
	if err != nil {
		p.logger.Warn("policy dedup lookup failed, treating as new", "error", err)
	}
	if existing != nil {
		emit(ctx, events, domain.PolicyStage{
			Status:       "duplicate_found",
			Message:      "policy already stored, reusing cached text",
			PolicyLength: len(existing.Content),
		})
		return existing.Content, true
	}

	emit(ctx, events, domain.PolicyStage{Status: "extracting"})
	text, err := p.extractor.Extract(ctx, filepath.Base(req.PolicyPath), data)
	if err != nil {
		emit(ctx, events, domain.IngestionError{Error: fmt.Sprintf("extract policy text: %v", err)})
		return "", false
	}

	policy := domain.PolicyDocument{
		ContentHash:  hash,
		PolicyName:   fmt.Sprintf("HR_Policy_%s_%s", req.EmployeeName, time.Now().UTC().Format("20060102")),
		Organization: "Company",
		RawText:      text,
		StoredAt:     time.Now().UTC(),
	}
	if err := p.storePolicy(ctx, policy); err != nil {
		// The batch can still be analyzed against the extracted text; the
		// policy just won't be reusable or retrievable.
		p.logger.Warn("store policy document", "error", err)
	}

	emit(ctx, events, domain.PolicyStage{Status: "completed", PolicyLength: len(text)})
	return text, true
}

func (p *IngestionPipeline) storePolicy(ctx context.Context, policy domain.PolicyDocument) error {
	vectors, err := p.embedder.Embed(ctx, []string{policy.RawText})
	if err != nil {
		return fmt.Errorf("embed policy: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed policy: expected 1 vector, got %d", len(vectors))
	}

	doc := domain.StoredDocument{
		ID:      uuid.NewString(),
		Content: policy.RawText,
		Metadata: map[string]string{
			"doc_type":     domain.DocTypePolicy,
			"file_hash":    policy.ContentHash,
			"policy_name":  policy.PolicyName,
			"organization": policy.Organization,
			"date":         policy.StoredAt.Format(time.RFC3339),
		},
	}
	if err := p.store.Put(ctx, doc, vectors[0]); err != nil {
		return fmt.Errorf("store policy: %w", err)
	}
	return nil
}

// processInvoice drives one item through its stages:
// CheckingDuplicate -> (CacheHit -> Result) | (Extracting -> Analyzing -> Storing -> Result) | Error.
func (p *IngestionPipeline) processInvoice(
	ctx context.Context,
	employeeName, invoicePath, policyText string,
	batch *batchState,
	events chan<- domain.IngestionEvent,
) {
	filename := filepath.Base(invoicePath)
	index := batch.begin(filename)
	emit(ctx, events, batch.snapshot(index, filename, "checking_duplicates"))

	fail := func(err error) {
		p.logger.Error("invoice processing failed", "filename", filename, "error", err)
		ev := domain.IngestionError{Filename: filename, Error: err.Error()}
		batch.recordError(ev)
		emit(ctx, events, ev)
		emit(ctx, events, batch.snapshot(index, filename, "failed"))
	}

	data, err := p.source.Read(ctx, invoicePath)
	if err != nil {
		fail(fmt.Errorf("read invoice file: %w", err))
		return
	}
	hash := contentHash(data)

	existing, err := p.store.FindInvoice(ctx, hash, employeeName)
	if err != nil {
		p.logger.Warn("invoice dedup lookup failed, treating as new", "filename", filename, "error", err)
	}
	if existing != nil {
		result := resultFromMetadata(filename, existing.Metadata)
		result.FromCache = true
		batch.recordResult(result)
		emit(ctx, events, domain.AnalysisStage{
			Filename: filename,
			Status:   "duplicate_found",
			Message:  "invoice already analyzed, returning cached result",
		})
		emit(ctx, events, result)
		emit(ctx, events, batch.snapshot(index, filename, "completed"))
		return
	}

	emit(ctx, events, batch.snapshot(index, filename, "extracting_text"))
	emit(ctx, events, domain.ExtractionStage{Filename: filename, Status: "extracting"})
	text, err := p.extractor.Extract(ctx, filename, data)
	if err != nil {
		fail(err)
		return
	}
	emit(ctx, events, domain.ExtractionStage{Filename: filename, Status: "completed", TextLength: len(text)})

	emit(ctx, events, batch.snapshot(index, filename, "analyzing"))
	emit(ctx, events, domain.AnalysisStage{Filename: filename, Status: "analyzing"})
	classification := p.classify(ctx, text, policyText, employeeName, filename)

	analysis := domain.InvoiceAnalysis{
		ContentHash:         hash,
		EmployeeName:        employeeName,
		SourceFilename:      filename,
		Status:              classification.Status,
		Reason:              classification.Reason,
		TotalAmount:         classification.TotalAmount,
		ReimbursementAmount: classification.ReimbursementAmount,
		Currency:            classification.Currency,
		Categories:          classification.Categories,
		PolicyViolations:    classification.PolicyViolations,
		RawText:             text,
		AnalyzedAt:          time.Now().UTC(),
	}

	emit(ctx, events, batch.snapshot(index, filename, "storing"))
	emit(ctx, events, domain.StorageStage{Filename: filename, Status: "storing"})
	if err := p.storeAnalysis(ctx, analysis); err != nil {
		fail(err)
		return
	}
	emit(ctx, events, domain.StorageStage{Filename: filename, Status: "completed"})

	result := domain.InvoiceResult{
		Filename:            filename,
		Status:              analysis.Status,
		Reason:              analysis.Reason,
		TotalAmount:         analysis.TotalAmount,
		ReimbursementAmount: analysis.ReimbursementAmount,
		Currency:            analysis.Currency,
		Categories:          analysis.Categories,
		PolicyViolations:    analysis.PolicyViolations,
	}
	batch.recordResult(result)
	emit(ctx, events, result)
	emit(ctx, events, batch.snapshot(index, filename, "completed"))
}

// classify invokes the external classifier and enforces the stored-record
// invariants. Both a classifier failure and invariant-violating output are
// recovered through the declined fallback so the batch keeps going; the two
// cases stay distinguishable in the logs.
func (p *IngestionPipeline) classify(ctx context.Context, invoiceText, policyText, employeeName, filename string) domain.Classification {
	classification, err := p.classifier.Classify(ctx, invoiceText, policyText, employeeName)
	if err != nil {
		p.logger.Warn("classifier call failed, declining", "filename", filename, "error", err)
		return domain.DeclinedFallback(fmt.Sprintf("Error during analysis: %v", err))
	}

	classification.Normalize()
	if err := classification.Validate(); err != nil {
		p.logger.Warn("classifier output failed validation, declining", "filename", filename, "error", err)
		return domain.DeclinedFallback(fmt.Sprintf("Analysis result violated invariants: %v", err))
	}
	return classification
}

func (p *IngestionPipeline) storeAnalysis(ctx context.Context, analysis domain.InvoiceAnalysis) error {
	embeddingInput := analysis.RawText + "\n\n" + analysis.DecisionSummary()
	vectors, err := p.embedder.Embed(ctx, []string{embeddingInput})
	if err != nil {
		return fmt.Errorf("embed invoice analysis: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed invoice analysis: expected 1 vector, got %d", len(vectors))
	}

	doc := domain.StoredDocument{
		ID:       uuid.NewString(),
		Content:  analysis.RawText,
		Metadata: invoiceMetadata(analysis),
	}
	if err := p.store.Put(ctx, doc, vectors[0]); err != nil {
		return fmt.Errorf("store invoice analysis: %w", err)
	}
	return nil
}

func invoiceMetadata(a domain.InvoiceAnalysis) map[string]string {
	md := map[string]string{
		"doc_type":             domain.DocTypeInvoice,
		"file_hash":            a.ContentHash,
		"employee_name":        a.EmployeeName,
		"invoice_filename":     a.SourceFilename,
		"status":               string(a.Status),
		"reason":               a.Reason,
		"total_amount":         strconv.FormatFloat(a.TotalAmount, 'f', 2, 64),
		"reimbursement_amount": strconv.FormatFloat(a.ReimbursementAmount, 'f', 2, 64),
		"currency":             a.Currency,
		"categories":           strings.Join(a.Categories, ","),
		"date":                 a.AnalyzedAt.Format(time.RFC3339),
	}
	if len(a.PolicyViolations) > 0 {
		md["policy_violations"] = strings.Join(a.PolicyViolations, "; ")
	}
	return md
}

func resultFromMetadata(filename string, md map[string]string) domain.InvoiceResult {
	total, _ := strconv.ParseFloat(md["total_amount"], 64)
	reimbursed, _ := strconv.ParseFloat(md["reimbursement_amount"], 64)

	var categories []string
	if md["categories"] != "" {
		categories = strings.Split(md["categories"], ",")
	}
	var violations []string
	if md["policy_violations"] != "" {
		violations = strings.Split(md["policy_violations"], "; ")
	}

	return domain.InvoiceResult{
		Filename:            filename,
		Status:              domain.ReimbursementStatus(md["status"]),
		Reason:              md["reason"],
		TotalAmount:         total,
		ReimbursementAmount: reimbursed,
		Currency:            md["currency"],
		Categories:          categories,
		PolicyViolations:    violations,
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// emit delivers an event unless the consumer is gone; a cancelled context
// abandons the remaining stream without blocking the worker.
func emit(ctx context.Context, events chan<- domain.IngestionEvent, ev domain.IngestionEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// batchState is the only state shared across invoice workers: append-only
// result/error lists and the progress counters, all behind one mutex.
type batchState struct {
	mu        sync.Mutex
	total     int
	started   int
	processed int
	failed    int
	cacheHits int
	results   []domain.InvoiceResult
	errors    []domain.IngestionError
}

func newBatchState(total int) *batchState {
	return &batchState{
		total:   total,
		results: make([]domain.InvoiceResult, 0, total),
		errors:  make([]domain.IngestionError, 0),
	}
}

func (b *batchState) begin(_ string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started++
	return b.started
}

func (b *batchState) recordResult(result domain.InvoiceResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, result)
	b.processed++
	if result.FromCache {
		b.cacheHits++
	}
}

func (b *batchState) recordError(ev domain.IngestionError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, ev)
	b.failed++
}

func (b *batchState) snapshot(index int, filename, stage string) domain.ProgressSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.ProgressSnapshot{
		CurrentIndex:    index,
		TotalInvoices:   b.total,
		ProcessedCount:  b.processed,
		FailedCount:     b.failed,
		CurrentFilename: filename,
		Stage:           stage,
	}
}

func (b *batchState) done(employeeName string) domain.BatchDone {
	b.mu.Lock()
	defer b.mu.Unlock()

	summary := domain.BatchSummary{CacheHitCount: b.cacheHits}
	for _, r := range b.results {
		summary.TotalAmount += r.TotalAmount
		summary.TotalReimbursement += r.ReimbursementAmount
		switch r.Status {
		case domain.StatusFullyReimbursed:
			summary.FullyReimbursedCount++
		case domain.StatusPartiallyReimbursed:
			summary.PartiallyReimbursedCount++
		case domain.StatusDeclined:
			summary.DeclinedCount++
		}
		summary.PolicyViolationsCount += len(r.PolicyViolations)
	}

	return domain.BatchDone{
		EmployeeName:     employeeName,
		TotalInvoices:    b.total,
		ProcessedCount:   b.processed,
		FailedCount:      b.failed,
		Results:          append([]domain.InvoiceResult(nil), b.results...),
		ProcessingErrors: append([]domain.IngestionError(nil), b.errors...),
		Summary:          summary,
		Timestamp:        time.Now().UTC(),
	}
}
