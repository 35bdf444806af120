package ports

import (
	"context"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// BatchIngestor is the inbound contract for policy+invoice batch ingestion.
// Run returns immediately; the channel carries the typed event sequence and
// is closed after the terminal BatchDone or IngestionError event.
type BatchIngestor interface {
	Run(ctx context.Context, req BatchRequest) <-chan domain.IngestionEvent
}

// BatchRequest names one policy file and N invoice files for an employee.
type BatchRequest struct {
	EmployeeName string   `json:"employee_name"`
	PolicyPath   string   `json:"policy_path"`
	InvoicePaths []string `json:"invoice_paths"`
}

// ChatService is the inbound contract for the retrieval-augmented query
// engine. Answer never returns an error for user-facing failures; it
// degrades to a well-formed error answer instead.
type ChatService interface {
	Answer(ctx context.Context, req domain.ChatRequest) domain.ChatAnswer
	Stream(ctx context.Context, req domain.ChatRequest) <-chan domain.ChatChunk
}
