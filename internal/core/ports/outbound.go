package ports

import (
	"context"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// ContentStore is the content-addressed vector document store shared by
// ingestion (writer) and querying (reader).
type ContentStore interface {
	// FindByHash returns the first document matching (file_hash, doc_type),
	// or nil when none exists.
	FindByHash(ctx context.Context, contentHash, docType string) (*domain.StoredDocument, error)
	// FindInvoice scopes the hash lookup additionally by employee name.
	FindInvoice(ctx context.Context, contentHash, employeeName string) (*domain.StoredDocument, error)
	// Put upserts an embedded document; duplicate metadata never errors,
	// only backend failures do.
	Put(ctx context.Context, doc domain.StoredDocument, vector []float32) error
	// Search ranks by cosine similarity, applies exact-match metadata
	// filters as a conjunction, truncates to limit, and drops results
	// below scoreThreshold.
	Search(ctx context.Context, vector []float32, filters map[string]string, limit int, scoreThreshold float64) ([]domain.RetrievedContext, error)
}

// Embedder builds fixed-dimension vectors; the model, and therefore the
// dimensionality, is immutable per deployment.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// FileSource reads raw document bytes for hashing and extraction.
type FileSource interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// TextExtractor extracts plain text from raw document bytes. Empty or
// unreadable content fails with a domain.ErrExtraction kind.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// InvoiceClassifier is the external structured-classification capability.
type InvoiceClassifier interface {
	Classify(ctx context.Context, invoiceText, policyText, employeeName string) (domain.Classification, error)
}

// AnswerSynthesizer is the external free-text synthesis capability.
type AnswerSynthesizer interface {
	// Synthesize streams answer text; chunks arrive in production order.
	Synthesize(ctx context.Context, prompt string) (<-chan string, <-chan error)
	// SynthesizeText returns the complete answer in one call.
	SynthesizeText(ctx context.Context, prompt string) (string, error)
}

// SessionStore persists per-session conversation history. Append trims to
// the store's configured maximum atomically, dropping oldest entries.
type SessionStore interface {
	History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Append(ctx context.Context, sessionID string, messages ...domain.ChatMessage) error
	Clear(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]string, error)
}

// BatchNotifier publishes batch-completed events for downstream consumers.
type BatchNotifier interface {
	PublishBatchCompleted(ctx context.Context, done domain.BatchDone) error
}
