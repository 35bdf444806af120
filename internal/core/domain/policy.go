package domain

import "time"

// PolicyDocument is a stored reimbursement policy. Identity for dedup is
// ContentHash; uploads of identical bytes reuse the stored text instead of
// re-extracting and re-embedding.
type PolicyDocument struct {
	ContentHash  string    `json:"content_hash"`
	PolicyName   string    `json:"policy_name"`
	Organization string    `json:"organization"`
	RawText      string    `json:"raw_text"`
	StoredAt     time.Time `json:"stored_at"`
}

const (
	DocTypePolicy  = "policy"
	DocTypeInvoice = "invoice_analysis"
)
