package domain

type QueryType string

const (
	QueryGeneral          QueryType = "general"
	QueryEmployeeSpecific QueryType = "employee_specific"
	QueryStatusFilter     QueryType = "status_filter"
	QueryError            QueryType = "error"
)

// SearchFilters are the explicit, caller-supplied filters for a chat query.
// When set they win over anything the lexical heuristics derive.
type SearchFilters struct {
	EmployeeName string              `json:"employee_name,omitempty"`
	Status       ReimbursementStatus `json:"status,omitempty"`
}

// StoredDocument is a document as persisted in the content store: text plus
// typed metadata under a generated id.
type StoredDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// RetrievedContext wraps one search hit with its similarity score and a
// short excerpt for citation. Ephemeral, query-time only.
type RetrievedContext struct {
	Document StoredDocument `json:"document"`
	Score    float64        `json:"score"`
	Excerpt  string         `json:"excerpt"`
}

// DocumentSource is the citation view of a retrieved invoice document.
type DocumentSource struct {
	DocumentID      string  `json:"document_id"`
	Filename        string  `json:"filename"`
	EmployeeName    string  `json:"employee_name"`
	Status          string  `json:"status"`
	SimilarityScore float64 `json:"similarity_score"`
	Excerpt         string  `json:"excerpt,omitempty"`
}
