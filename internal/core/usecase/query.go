package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
)

const (
	defaultHistoryWindow     = 6
	defaultPolicyLimit       = 3
	policyScoreThreshold     = 0.1
	defaultSuggestionTimeout = 10 * time.Second
	maxSources               = 5
	excerptLength            = 200

	degradedAnswer = "I apologize, but I encountered an error while processing your question. Please try again."
)

// QueryEngineOptions tune retrieval and synthesis; zero values fall back to
// the defaults above.
type QueryEngineOptions struct {
	HistoryWindow     int
	PolicyLimit       int
	SuggestionTimeout time.Duration
}

// QueryEngine answers conversational questions about analyzed invoices by
// retrieving invoice and policy context, synthesizing an answer, and
// offering follow-up suggestions. It degrades instead of failing: every
// request produces a well-formed answer.
type QueryEngine struct {
	embedder ports.Embedder
	store    ports.ContentStore
	synth    ports.AnswerSynthesizer
	sessions ports.SessionStore
	opts     QueryEngineOptions
	logger   *slog.Logger
}

func NewQueryEngine(
	embedder ports.Embedder,
	store ports.ContentStore,
	synth ports.AnswerSynthesizer,
	sessions ports.SessionStore,
	opts QueryEngineOptions,
	logger *slog.Logger,
) *QueryEngine {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.PolicyLimit <= 0 {
		opts.PolicyLimit = defaultPolicyLimit
	}
	if opts.SuggestionTimeout <= 0 {
		opts.SuggestionTimeout = defaultSuggestionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryEngine{
		embedder: embedder,
		store:    store,
		synth:    synth,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
	}
}

// retrieval bundles everything gathered before synthesis.
type retrieval struct {
	analysis   QueryAnalysis
	invoiceCtx []domain.RetrievedContext
	policyCtx  []domain.RetrievedContext
	history    []domain.ChatMessage
	prompt     string
}

// Answer runs the full query cycle and returns a complete ChatAnswer.
// Synthesis failure degrades to an apology answer with query_type "error";
// retrieval failures degrade to answering without the missing context.
func (e *QueryEngine) Answer(ctx context.Context, req domain.ChatRequest) domain.ChatAnswer {
	started := time.Now()

	r, err := e.retrieve(ctx, req)
	if err != nil {
		e.logger.Error("retrieval failed", "session_id", req.SessionID, "error", err)
		return e.degraded(req)
	}

	text, err := e.synth.SynthesizeText(ctx, r.prompt)
	if err != nil {
		e.logger.Error("answer synthesis failed", "session_id", req.SessionID, "error", err)
		return e.degraded(req)
	}

	suggestions, _ := e.suggest(ctx, req.Query, text, r.analysis.Type)

	e.logger.Info("query answered",
		"session_id", req.SessionID,
		"query_type", r.analysis.Type,
		"documents", len(r.invoiceCtx)+len(r.policyCtx),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	return domain.ChatAnswer{
		Response:           text,
		SessionID:          req.SessionID,
		Sources:            sourcesFrom(r.invoiceCtx),
		RetrievedDocuments: len(r.invoiceCtx) + len(r.policyCtx),
		QueryType:          r.analysis.Type,
		Suggestions:        suggestions,
		Timestamp:          time.Now().UTC(),
	}
}

// Stream runs the same cycle but emits typed chunks: one metadata, content
// chunks in synthesis order, one suggestions, one done. An error chunk
// terminates the stream early and nothing follows it.
func (e *QueryEngine) Stream(ctx context.Context, req domain.ChatRequest) <-chan domain.ChatChunk {
	chunks := make(chan domain.ChatChunk, 8)
	go func() {
		defer close(chunks)
		e.stream(ctx, req, chunks)
	}()
	return chunks
}

func (e *QueryEngine) stream(ctx context.Context, req domain.ChatRequest, chunks chan<- domain.ChatChunk) {
	started := time.Now()

	send := func(c domain.ChatChunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	r, err := e.retrieve(ctx, req)
	if err != nil {
		e.logger.Error("retrieval failed", "session_id", req.SessionID, "error", err)
		send(domain.ChatError{Message: "failed to retrieve context for this question"})
		return
	}

	if !send(domain.ChatMetadata{
		Sources:            sourcesFrom(r.invoiceCtx),
		RetrievedDocuments: len(r.invoiceCtx) + len(r.policyCtx),
		QueryType:          r.analysis.Type,
		FiltersApplied:     r.analysis.Filters,
		ProcessingTimeMS:   time.Since(started).Milliseconds(),
	}) {
		return
	}

	textCh, errCh := e.synth.Synthesize(ctx, r.prompt)
	var answer strings.Builder
	streamed := 0
	for text := range textCh {
		answer.WriteString(text)
		streamed++
		if !send(domain.ChatContent{Text: text}) {
			return
		}
	}
	if err := <-errCh; err != nil {
		e.logger.Error("answer synthesis failed", "session_id", req.SessionID, "error", err)
		send(domain.ChatError{Message: "answer generation failed"})
		return
	}

	suggestions, fallback := e.suggest(ctx, req.Query, answer.String(), r.analysis.Type)
	if !send(domain.ChatSuggestions{Suggestions: suggestions, Fallback: fallback}) {
		return
	}

	send(domain.ChatDone{
		TotalProcessingTimeMS: time.Since(started).Milliseconds(),
		ChunksStreamed:        streamed,
		DocumentsRetrieved:    len(r.invoiceCtx) + len(r.policyCtx),
	})
}

// retrieve embeds the query once, then runs the invoice and policy searches
// concurrently. A failed search logs and degrades to empty context; only an
// embedding failure is fatal to retrieval.
func (e *QueryEngine) retrieve(ctx context.Context, req domain.ChatRequest) (retrieval, error) {
	analysis := AnalyzeQuery(req.Query, req.Filters)

	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return retrieval{}, domain.WrapError(domain.ErrStoreUnavailable, "embed query", err)
	}

	invoiceFilters := map[string]string{"doc_type": domain.DocTypeInvoice}
	for k, v := range analysis.Filters {
		invoiceFilters[k] = v
	}
	policyFilters := map[string]string{"doc_type": domain.DocTypePolicy}

	var (
		wg         sync.WaitGroup
		invoiceCtx []domain.RetrievedContext
		policyCtx  []domain.RetrievedContext
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := e.store.Search(ctx, vector, invoiceFilters, analysis.Limit, analysis.ScoreThreshold)
		if err != nil {
			e.logger.Warn("invoice search failed", "error", err)
			return
		}
		invoiceCtx = res
	}()
	go func() {
		defer wg.Done()
		res, err := e.store.Search(ctx, vector, policyFilters, e.opts.PolicyLimit, policyScoreThreshold)
		if err != nil {
			e.logger.Warn("policy search failed", "error", err)
			return
		}
		policyCtx = res
	}()
	wg.Wait()

	history := e.loadHistory(ctx, req.SessionID)

	return retrieval{
		analysis:   analysis,
		invoiceCtx: invoiceCtx,
		policyCtx:  policyCtx,
		history:    history,
		prompt:     buildChatPrompt(req.Query, invoiceCtx, policyCtx, history),
	}, nil
}

func (e *QueryEngine) loadHistory(ctx context.Context, sessionID string) []domain.ChatMessage {
	if sessionID == "" || e.sessions == nil {
		return nil
	}
	history, err := e.sessions.History(ctx, sessionID)
	if err != nil {
		e.logger.Warn("load session history", "session_id", sessionID, "error", err)
		return nil
	}
	if len(history) > e.opts.HistoryWindow {
		history = history[len(history)-e.opts.HistoryWindow:]
	}
	return history
}

// suggest generates follow-up questions under a hard deadline. Timeout or
// malformed output falls back to the static per-type suggestions; the
// second return reports whether the fallback was used.
func (e *QueryEngine) suggest(ctx context.Context, query, answer string, queryType domain.QueryType) ([]string, bool) {
	sctx, cancel := context.WithTimeout(ctx, e.opts.SuggestionTimeout)
	defer cancel()

	raw, err := e.synth.SynthesizeText(sctx, buildSuggestionPrompt(query, answer))
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			err = domain.WrapError(domain.ErrSynthesisTimeout, "generate suggestions", err)
		}
		e.logger.Warn("suggestion generation failed, using fallback", "query_type", queryType, "error", err)
		return suggestionsFor(queryType), true
	}

	suggestions := parseSuggestions(raw)
	if len(suggestions) == 0 {
		e.logger.Warn("suggestion output unparseable, using fallback", "query_type", queryType)
		return suggestionsFor(queryType), true
	}
	return suggestions, false
}

// parseSuggestions extracts a JSON string array from model output, tolerating
// prose around it. Short entries are dropped, at most five are kept.
func parseSuggestions(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var parsed []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}

	out := make([]string, 0, len(parsed))
	for _, s := range parsed {
		s = strings.TrimSpace(s)
		if len(s) > 5 {
			out = append(out, s)
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}

func (e *QueryEngine) degraded(req domain.ChatRequest) domain.ChatAnswer {
	return domain.ChatAnswer{
		Response:    degradedAnswer,
		SessionID:   req.SessionID,
		QueryType:   domain.QueryError,
		Suggestions: suggestionsFor(domain.QueryError),
		Timestamp:   time.Now().UTC(),
	}
}

func sourcesFrom(invoiceCtx []domain.RetrievedContext) []domain.DocumentSource {
	n := len(invoiceCtx)
	if n > maxSources {
		n = maxSources
	}
	sources := make([]domain.DocumentSource, 0, n)
	for _, rc := range invoiceCtx[:n] {
		md := rc.Document.Metadata
		sources = append(sources, domain.DocumentSource{
			DocumentID:      rc.Document.ID,
			Filename:        md["invoice_filename"],
			EmployeeName:    md["employee_name"],
			Status:          md["status"],
			SimilarityScore: rc.Score,
			Excerpt:         excerpt(rc.Document.Content, excerptLength),
		})
	}
	return sources
}

func excerpt(content string, max int) string {
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	cut := content[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
