package usecase

import (
	"strings"
	"unicode"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

const (
	defaultSearchLimit     = 10
	widenedSearchLimit     = 50
	narrowedSearchLimit    = 5
	defaultScoreThreshold  = 0.3
	filteredScoreThreshold = 0.1
)

// QueryAnalysis is the retrieval plan derived from one chat query.
type QueryAnalysis struct {
	Type           domain.QueryType
	Filters        map[string]string
	Limit          int
	ScoreThreshold float64
}

// statusKeywords maps query words to the status filter they imply. Order
// matters: negative outcomes are matched before positive ones so that
// "rejected but partially covered?" style queries resolve deterministically.
var statusKeywords = []struct {
	word   string
	status domain.ReimbursementStatus
}{
	{"declined", domain.StatusDeclined},
	{"rejected", domain.StatusDeclined},
	{"denied", domain.StatusDeclined},
	{"partially", domain.StatusPartiallyReimbursed},
	{"partial", domain.StatusPartiallyReimbursed},
	{"approved", domain.StatusFullyReimbursed},
	{"reimbursed", domain.StatusFullyReimbursed},
}

// analysisRule inspects the lowercased query and mutates the plan. Rules run
// in a fixed order; lexical rules never override what explicit filters or an
// earlier rule already set.
type analysisRule struct {
	name  string
	apply func(lower string, words []string, out *QueryAnalysis)
}

var analysisRules = []analysisRule{
	{name: "employee_from_phrase", apply: applyEmployeePhrase},
	{name: "status_from_keyword", apply: applyStatusKeyword},
	{name: "limit_widen", apply: applyLimitWiden},
	{name: "limit_narrow", apply: applyLimitNarrow},
}

// AnalyzeQuery classifies a chat query and derives its retrieval plan.
// Explicit filters always win; the lexical heuristics only fill gaps. Any
// active filter lowers the score threshold so exact-match filtering does the
// narrowing instead of similarity.
func AnalyzeQuery(query string, explicit *domain.SearchFilters) QueryAnalysis {
	out := QueryAnalysis{
		Type:           domain.QueryGeneral,
		Filters:        map[string]string{},
		Limit:          defaultSearchLimit,
		ScoreThreshold: defaultScoreThreshold,
	}

	if explicit != nil {
		if explicit.EmployeeName != "" {
			out.Filters["employee_name"] = explicit.EmployeeName
		}
		if explicit.Status != "" {
			out.Filters["status"] = string(explicit.Status)
		}
	}

	lower := strings.ToLower(query)
	words := strings.Fields(lower)
	for _, rule := range analysisRules {
		rule.apply(lower, words, &out)
	}

	switch {
	case out.Filters["employee_name"] != "":
		out.Type = domain.QueryEmployeeSpecific
	case out.Filters["status"] != "":
		out.Type = domain.QueryStatusFilter
	}
	if len(out.Filters) > 0 {
		out.ScoreThreshold = filteredScoreThreshold
	}
	return out
}

// applyEmployeePhrase extracts "for <Name>" / "by <Name>" mentions, taking
// up to two following words as the name. Known stop words and short tokens
// are skipped so "for all employees" stays unfiltered.
func applyEmployeePhrase(_ string, words []string, out *QueryAnalysis) {
	if out.Filters["employee_name"] != "" {
		return
	}
	for i, w := range words {
		if w != "for" && w != "by" {
			continue
		}
		name := collectNameWords(words[i+1:])
		if name != "" {
			out.Filters["employee_name"] = name
			return
		}
	}
}

var nameStopWords = map[string]bool{
	"all": true, "the": true, "any": true, "every": true, "each": true,
	"employees": true, "employee": true, "invoices": true, "invoice": true,
	"me": true, "us": true, "them": true, "my": true, "our": true,
}

func collectNameWords(rest []string) string {
	var parts []string
	for _, w := range rest {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if len(w) <= 2 || nameStopWords[w] {
			break
		}
		parts = append(parts, titleCase(w))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func titleCase(w string) string {
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// applyStatusKeyword sets the status filter from the first matching keyword.
func applyStatusKeyword(_ string, words []string, out *QueryAnalysis) {
	if out.Filters["status"] != "" {
		return
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,?!")] = true
	}
	for _, kw := range statusKeywords {
		if set[kw.word] {
			out.Filters["status"] = string(kw.status)
			return
		}
	}
}

func applyLimitWiden(_ string, words []string, out *QueryAnalysis) {
	if containsWord(words, "all", "list", "every") {
		out.Limit = widenedSearchLimit
	}
}

func applyLimitNarrow(_ string, words []string, out *QueryAnalysis) {
	if out.Limit != defaultSearchLimit {
		return
	}
	if containsWord(words, "few", "some") {
		out.Limit = narrowedSearchLimit
	}
}

func containsWord(words []string, targets ...string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".,?!")
		for _, t := range targets {
			if w == t {
				return true
			}
		}
	}
	return false
}
