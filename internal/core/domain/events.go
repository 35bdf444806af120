package domain

import "time"

// IngestionEvent is the closed set of events a batch ingestion emits.
// Exactly one variant implements each stage; consumers type-switch over
// the set and the compiler keeps the union honest.
type IngestionEvent interface {
	ingestionEvent()
	EventType() string
}

// BatchStarted opens the stream with batch metadata.
type BatchStarted struct {
	EmployeeName  string `json:"employee_name"`
	TotalInvoices int    `json:"total_invoices"`
}

// PolicyStage reports policy dedup/extraction/storage progress.
type PolicyStage struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	PolicyLength int    `json:"policy_length,omitempty"`
}

// ExtractionStage reports text extraction for one invoice.
type ExtractionStage struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	TextLength int    `json:"text_length,omitempty"`
}

// AnalysisStage reports classification progress for one invoice.
type AnalysisStage struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// StorageStage reports the vector store write for one invoice.
type StorageStage struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// InvoiceResult is the terminal per-item event for a completed invoice,
// fresh or served from cache.
type InvoiceResult struct {
	Filename            string              `json:"filename"`
	Status              ReimbursementStatus `json:"status"`
	Reason              string              `json:"reason"`
	TotalAmount         float64             `json:"total_amount"`
	ReimbursementAmount float64             `json:"reimbursement_amount"`
	Currency            string              `json:"currency"`
	Categories          []string            `json:"categories"`
	PolicyViolations    []string            `json:"policy_violations,omitempty"`
	FromCache           bool                `json:"from_cache"`
}

// ProgressSnapshot is a periodic counter update across the batch.
type ProgressSnapshot struct {
	CurrentIndex    int    `json:"current_index"`
	TotalInvoices   int    `json:"total_invoices"`
	ProcessedCount  int    `json:"processed_count"`
	FailedCount     int    `json:"failed_count"`
	CurrentFilename string `json:"current_filename,omitempty"`
	Stage           string `json:"stage"`
}

// IngestionError reports one failed item; siblings keep running.
type IngestionError struct {
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error"`
}

// BatchSummary aggregates the completed batch.
type BatchSummary struct {
	TotalAmount              float64 `json:"total_amount"`
	TotalReimbursement       float64 `json:"total_reimbursement"`
	FullyReimbursedCount     int     `json:"fully_reimbursed_count"`
	PartiallyReimbursedCount int     `json:"partially_reimbursed_count"`
	DeclinedCount            int     `json:"declined_count"`
	PolicyViolationsCount    int     `json:"policy_violations_count"`
	CacheHitCount            int     `json:"cache_hit_count"`
}

// BatchDone terminates a successful stream with totals and all results.
type BatchDone struct {
	EmployeeName     string           `json:"employee_name"`
	TotalInvoices    int              `json:"total_invoices"`
	ProcessedCount   int              `json:"processed_count"`
	FailedCount      int              `json:"failed_count"`
	Results          []InvoiceResult  `json:"results"`
	ProcessingErrors []IngestionError `json:"processing_errors,omitempty"`
	Summary          BatchSummary     `json:"summary"`
	Timestamp        time.Time        `json:"timestamp"`
}

func (BatchStarted) ingestionEvent()     {}
func (PolicyStage) ingestionEvent()      {}
func (ExtractionStage) ingestionEvent()  {}
func (AnalysisStage) ingestionEvent()    {}
func (StorageStage) ingestionEvent()     {}
func (InvoiceResult) ingestionEvent()    {}
func (ProgressSnapshot) ingestionEvent() {}
func (IngestionError) ingestionEvent()   {}
func (BatchDone) ingestionEvent()        {}

func (BatchStarted) EventType() string     { return "metadata" }
func (PolicyStage) EventType() string      { return "policy_processing" }
func (ExtractionStage) EventType() string  { return "invoice_extraction" }
func (AnalysisStage) EventType() string    { return "invoice_analysis" }
func (StorageStage) EventType() string     { return "vector_storage" }
func (InvoiceResult) EventType() string    { return "result" }
func (ProgressSnapshot) EventType() string { return "progress" }
func (IngestionError) EventType() string   { return "error" }
func (BatchDone) EventType() string        { return "done" }

// ChatChunk is the closed set of chunks a streaming chat query emits:
// one metadata, any number of content chunks, one suggestions, one done.
// An error chunk terminates the stream and nothing follows it.
type ChatChunk interface {
	chatChunk()
	ChunkType() string
}

type ChatMetadata struct {
	Sources            []DocumentSource  `json:"sources,omitempty"`
	RetrievedDocuments int               `json:"retrieved_documents"`
	QueryType          QueryType         `json:"query_type"`
	FiltersApplied     map[string]string `json:"filters_applied,omitempty"`
	ProcessingTimeMS   int64             `json:"processing_time_ms"`
}

type ChatContent struct {
	Text string `json:"text"`
}

type ChatSuggestions struct {
	Suggestions []string `json:"suggestions"`
	Fallback    bool     `json:"fallback,omitempty"`
}

type ChatDone struct {
	TotalProcessingTimeMS int64 `json:"total_processing_time_ms"`
	ChunksStreamed        int   `json:"chunks_streamed"`
	DocumentsRetrieved    int   `json:"documents_retrieved"`
}

type ChatError struct {
	Message string `json:"message"`
}

func (ChatMetadata) chatChunk()    {}
func (ChatContent) chatChunk()     {}
func (ChatSuggestions) chatChunk() {}
func (ChatDone) chatChunk()        {}
func (ChatError) chatChunk()       {}

func (ChatMetadata) ChunkType() string    { return "metadata" }
func (ChatContent) ChunkType() string     { return "content" }
func (ChatSuggestions) ChunkType() string { return "suggestions" }
func (ChatDone) ChunkType() string        { return "done" }
func (ChatError) ChunkType() string       { return "error" }
