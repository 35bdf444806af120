package usecase

import (
	"fmt"
	"strings"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// buildChatPrompt composes the synthesis prompt: invoice and policy context
// in separate labeled blocks, then the recent conversation, then the query.
func buildChatPrompt(query string, invoiceCtx, policyCtx []domain.RetrievedContext, history []domain.ChatMessage) string {
	var b strings.Builder

	b.WriteString("You are an expense reimbursement assistant. Answer using only the context below.\n")
	b.WriteString("If the context does not contain the answer, say so; never invent amounts or decisions.\n\n")

	b.WriteString("=== ANALYZED INVOICES ===\n")
	if len(invoiceCtx) == 0 {
		b.WriteString("(no matching invoices found)\n")
	}
	for i, rc := range invoiceCtx {
		md := rc.Document.Metadata
		fmt.Fprintf(&b, "[Invoice %d] employee=%s file=%s status=%s amount=%s %s reimbursed=%s\n",
			i+1,
			md["employee_name"],
			md["invoice_filename"],
			md["status"],
			md["total_amount"],
			md["currency"],
			md["reimbursement_amount"],
		)
		if md["reason"] != "" {
			fmt.Fprintf(&b, "Decision: %s\n", md["reason"])
		}
		fmt.Fprintf(&b, "%s\n\n", rc.Document.Content)
	}

	b.WriteString("=== REIMBURSEMENT POLICY ===\n")
	if len(policyCtx) == 0 {
		b.WriteString("(no policy context available)\n")
	}
	for _, rc := range policyCtx {
		b.WriteString(rc.Document.Content)
		b.WriteString("\n\n")
	}

	if len(history) > 0 {
		b.WriteString("=== RECENT CONVERSATION ===\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\nAnswer:", query)
	return b.String()
}

// buildSuggestionPrompt asks for follow-up questions as a bare JSON array.
func buildSuggestionPrompt(query, answer string) string {
	const maxAnswerContext = 600
	if len(answer) > maxAnswerContext {
		answer = answer[:maxAnswerContext]
	}
	return fmt.Sprintf(`Based on this exchange about invoice reimbursements, suggest 4-5 diverse short follow-up questions the user might ask next.

User asked: %s
Assistant answered: %s

Respond with only a JSON array of strings, for example:
["question one", "question two", "question three", "question four"]`, query, answer)
}

// fallbackSuggestions are served when suggestion generation fails or runs
// past its deadline, keyed by the classified query type.
var fallbackSuggestions = map[domain.QueryType][]string{
	domain.QueryGeneral: {
		"Show me all declined invoices",
		"What is the total reimbursement amount?",
		"Which categories had policy violations?",
		"Which invoices were only partially reimbursed?",
	},
	domain.QueryEmployeeSpecific: {
		"Show all invoices for this employee",
		"Were any of their invoices declined?",
		"What is their total reimbursed amount?",
		"Did any of their expenses violate the policy?",
	},
	domain.QueryStatusFilter: {
		"Why were these invoices given this status?",
		"Show the policy rules behind these decisions",
		"Which employees are affected?",
		"What were the amounts on these invoices?",
	},
	domain.QueryError: {
		"Show me all analyzed invoices",
		"What does the reimbursement policy cover?",
		"Show me declined invoices",
		"What is the total reimbursement amount?",
	},
}

func suggestionsFor(queryType domain.QueryType) []string {
	if s, ok := fallbackSuggestions[queryType]; ok {
		return append([]string(nil), s...)
	}
	return append([]string(nil), fallbackSuggestions[domain.QueryGeneral]...)
}
