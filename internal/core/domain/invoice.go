package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

type ReimbursementStatus string

const (
	StatusFullyReimbursed     ReimbursementStatus = "fully_reimbursed"
	StatusPartiallyReimbursed ReimbursementStatus = "partially_reimbursed"
	StatusDeclined            ReimbursementStatus = "declined"
)

func (s ReimbursementStatus) Valid() bool {
	switch s {
	case StatusFullyReimbursed, StatusPartiallyReimbursed, StatusDeclined:
		return true
	}
	return false
}

// InvoiceAnalysis is the structured result of classifying one invoice
// against the reimbursement policy. Instances are immutable once stored;
// identity for dedup is (ContentHash, EmployeeName).
type InvoiceAnalysis struct {
	ContentHash         string              `json:"content_hash"`
	EmployeeName        string              `json:"employee_name"`
	SourceFilename      string              `json:"source_filename"`
	Status              ReimbursementStatus `json:"status"`
	Reason              string              `json:"reason"`
	TotalAmount         float64             `json:"total_amount"`
	ReimbursementAmount float64             `json:"reimbursement_amount"`
	Currency            string              `json:"currency"`
	Categories          []string            `json:"categories"`
	PolicyViolations    []string            `json:"policy_violations,omitempty"`
	RawText             string              `json:"raw_text"`
	AnalyzedAt          time.Time           `json:"analyzed_at"`
}

// Classification is the raw structured output of the external classifier,
// before invariant validation.
type Classification struct {
	Status              ReimbursementStatus `json:"status"`
	Reason              string              `json:"reason"`
	TotalAmount         float64             `json:"total_amount"`
	ReimbursementAmount float64             `json:"reimbursement_amount"`
	Currency            string              `json:"currency"`
	Categories          []string            `json:"categories"`
	PolicyViolations    []string            `json:"policy_violations,omitempty"`
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

const (
	minReasonLen = 10
	maxReasonLen = 1000
)

// Normalize cleans up classifier output before validation: currency is
// uppercased (defaulting to INR when absent, matching the classifier
// prompt contract), categories are trimmed and lowercased with empties
// dropped.
func (c *Classification) Normalize() {
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "INR"
	}
	cleaned := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat != "" {
			cleaned = append(cleaned, cat)
		}
	}
	c.Categories = cleaned
	c.Reason = strings.TrimSpace(c.Reason)
}

// Validate enforces the stored-record invariants. A failure here is a
// ValidationError and callers recover with DeclinedFallback rather than
// failing the batch.
func (c Classification) Validate() error {
	if !c.Status.Valid() {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("unknown status %q", c.Status))
	}
	if n := utf8.RuneCountInString(c.Reason); n < minReasonLen || n > maxReasonLen {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("reason length %d outside [%d,%d]", n, minReasonLen, maxReasonLen))
	}
	if c.TotalAmount < 0 {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("negative total amount %.2f", c.TotalAmount))
	}
	if c.ReimbursementAmount < 0 {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("negative reimbursement amount %.2f", c.ReimbursementAmount))
	}
	if c.ReimbursementAmount > c.TotalAmount {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("reimbursement %.2f exceeds total %.2f", c.ReimbursementAmount, c.TotalAmount))
	}
	if !currencyPattern.MatchString(c.Currency) {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("currency %q is not a 3-letter uppercase code", c.Currency))
	}
	if len(c.Categories) == 0 {
		return WrapError(ErrValidation, "validate classification", fmt.Errorf("empty categories"))
	}
	return nil
}

// DeclinedFallback is the named recovery path for classifier output that
// fails validation or never arrives: a well-formed Declined record carrying
// the failure reason, so the batch keeps going.
func DeclinedFallback(reason string) Classification {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minReasonLen {
		reason = "Analysis failed: " + reason
	}
	if runes := []rune(reason); len(runes) > maxReasonLen {
		reason = string(runes[:maxReasonLen])
	}
	return Classification{
		Status:              StatusDeclined,
		Reason:              reason,
		TotalAmount:         0,
		ReimbursementAmount: 0,
		Currency:            "INR",
		Categories:          []string{"unknown"},
		PolicyViolations:    []string{"analysis failed"},
	}
}

// DecisionSummary is appended to the raw invoice text before embedding so
// retrieval can match on the outcome as well as the invoice content.
func (a InvoiceAnalysis) DecisionSummary() string {
	var b strings.Builder
	b.WriteString("Status: ")
	b.WriteString(string(a.Status))
	b.WriteString("\nReason: ")
	b.WriteString(a.Reason)
	b.WriteString("\nCategories: ")
	b.WriteString(strings.Join(a.Categories, ", "))
	return b.String()
}
