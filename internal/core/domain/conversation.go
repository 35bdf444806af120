package domain

import "time"

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TrimHistory caps a conversation at max messages, dropping oldest first.
// When the overflow would split a user/assistant exchange, the cut moves
// forward one message so pairs are dropped together.
func TrimHistory(history []ChatMessage, max int) []ChatMessage {
	if max <= 0 || len(history) <= max {
		return history
	}
	cut := len(history) - max
	if history[cut].Role == RoleAssistant && cut+1 < len(history) {
		cut++
	}
	return history[cut:]
}

// ChatRequest is one conversational query against the analyzed invoices.
type ChatRequest struct {
	Query     string         `json:"query"`
	SessionID string         `json:"session_id,omitempty"`
	Filters   *SearchFilters `json:"filters,omitempty"`
}

// ChatAnswer is the completed, non-streaming result of a query.
type ChatAnswer struct {
	Response           string           `json:"response"`
	SessionID          string           `json:"session_id"`
	Sources            []DocumentSource `json:"sources,omitempty"`
	RetrievedDocuments int              `json:"retrieved_documents"`
	QueryType          QueryType        `json:"query_type"`
	Suggestions        []string         `json:"suggestions,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
}
