package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func validClassification() Classification {
	return Classification{
		Status:              StatusFullyReimbursed,
		Reason:              "Business travel expense within policy limits.",
		TotalAmount:         494.0,
		ReimbursementAmount: 494.0,
		Currency:            "INR",
		Categories:          []string{"travel", "cab"},
	}
}

func TestClassificationValidateOK(t *testing.T) {
	c := validClassification()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestClassificationValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Classification)
	}{
		{"unknown status", func(c *Classification) { c.Status = "maybe" }},
		{"short reason", func(c *Classification) { c.Reason = "too short" }},
		{"long reason", func(c *Classification) { c.Reason = strings.Repeat("x", 1001) }},
		{"negative total", func(c *Classification) { c.TotalAmount = -1 }},
		{"negative reimbursement", func(c *Classification) { c.ReimbursementAmount = -1 }},
		{"reimbursement exceeds total", func(c *Classification) {
			c.TotalAmount = 100
			c.ReimbursementAmount = 150
		}},
		{"lowercase currency", func(c *Classification) { c.Currency = "inr" }},
		{"long currency", func(c *Classification) { c.Currency = "RUPEES" }},
		{"empty categories", func(c *Classification) { c.Categories = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validClassification()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsKind(err, ErrValidation) {
				t.Fatalf("expected ErrValidation kind, got %v", err)
			}
		})
	}
}

func TestClassificationNormalize(t *testing.T) {
	c := Classification{
		Currency:   " usd ",
		Categories: []string{" Travel ", "", "CAB"},
		Reason:     "  ok reason here  ",
	}
	c.Normalize()

	if c.Currency != "USD" {
		t.Fatalf("expected USD, got %q", c.Currency)
	}
	if len(c.Categories) != 2 || c.Categories[0] != "travel" || c.Categories[1] != "cab" {
		t.Fatalf("unexpected categories %v", c.Categories)
	}
	if c.Reason != "ok reason here" {
		t.Fatalf("unexpected reason %q", c.Reason)
	}
}

func TestClassificationNormalizeDefaultsCurrency(t *testing.T) {
	c := Classification{Categories: []string{"meals"}}
	c.Normalize()
	if c.Currency != "INR" {
		t.Fatalf("expected INR default, got %q", c.Currency)
	}
}

func TestDeclinedFallbackIsValid(t *testing.T) {
	c := DeclinedFallback("schema mismatch from classifier")
	if err := c.Validate(); err != nil {
		t.Fatalf("fallback must satisfy invariants, got %v", err)
	}
	if c.Status != StatusDeclined {
		t.Fatalf("expected declined, got %s", c.Status)
	}
}

func TestDeclinedFallbackPadsShortReason(t *testing.T) {
	c := DeclinedFallback("x")
	if err := c.Validate(); err != nil {
		t.Fatalf("fallback must satisfy invariants, got %v", err)
	}
}

func TestClassificationValidateCountsReasonRunes(t *testing.T) {
	c := validClassification()
	// 700 multi-byte characters: inside the limit by rune count even though
	// the byte length is far past 1000.
	c.Reason = strings.Repeat("₹", 700)
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() rejected a 700-rune reason: %v", err)
	}

	c.Reason = strings.Repeat("₹", 1001)
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() accepted a 1001-rune reason")
	}
}

func TestDeclinedFallbackTruncatesOnRuneBoundary(t *testing.T) {
	c := DeclinedFallback(strings.Repeat("₹", 1200))
	if err := c.Validate(); err != nil {
		t.Fatalf("fallback must satisfy invariants, got %v", err)
	}
	if !utf8.ValidString(c.Reason) {
		t.Fatal("truncated reason is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(c.Reason); got != 1000 {
		t.Fatalf("reason runes = %d, want 1000", got)
	}
}
