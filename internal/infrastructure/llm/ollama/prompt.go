package ollama

import (
	"fmt"
	"strings"
)

const analysisPromptTemplate = `You are an expense auditor. Analyze the invoice below against the company reimbursement policy and decide how much of it is reimbursable for the named employee.

Rules:
- "fully_reimbursed" when every line item is covered by the policy.
- "partially_reimbursed" when only part of the total is covered; reimbursement_amount is the covered part.
- "declined" when nothing is covered; reimbursement_amount must be 0.
- reimbursement_amount can never exceed total_amount.
- reason must explain the decision in one or two sentences (at least 10 characters).
- currency is the 3-letter code from the invoice; use "INR" if the invoice does not state one.
- categories are lowercase expense categories such as "travel", "food", "accommodation".
- policy_violations lists each violated policy rule, or an empty list.

Respond with only a JSON object in exactly this shape:
{
  "status": "fully_reimbursed" | "partially_reimbursed" | "declined",
  "reason": "<explanation>",
  "total_amount": <number>,
  "reimbursement_amount": <number>,
  "currency": "<3-letter code>",
  "categories": ["<category>"],
  "policy_violations": ["<violation>"]
}

Employee: %s

=== REIMBURSEMENT POLICY ===
%s

=== INVOICE ===
%s`

func buildAnalysisPrompt(invoiceText, policyText, employeeName string) string {
	return fmt.Sprintf(analysisPromptTemplate,
		employeeName,
		truncateForPrompt(policyText, 8000),
		truncateForPrompt(invoiceText, 8000),
	)
}

// truncateForPrompt caps prompt sections so oversized documents do not blow
// the model context; the cut lands on a line boundary when one is close.
func truncateForPrompt(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, '\n'); i > max/2 {
		cut = cut[:i]
	}
	return cut
}
