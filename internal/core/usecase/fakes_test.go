package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	policies  map[string]*domain.StoredDocument // by content hash
	invoices  map[string]*domain.StoredDocument // by content hash + "|" + employee
	putDocs   []domain.StoredDocument
	putErr    error
	invoiceHits []domain.RetrievedContext
	policyHits  []domain.RetrievedContext
	searchErr   error
	searchCalls []searchCall
}

type searchCall struct {
	filters   map[string]string
	limit     int
	threshold float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		policies: map[string]*domain.StoredDocument{},
		invoices: map[string]*domain.StoredDocument{},
	}
}

func (s *fakeStore) FindByHash(_ context.Context, contentHash, docType string) (*domain.StoredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if docType == domain.DocTypePolicy {
		return s.policies[contentHash], nil
	}
	return nil, nil
}

func (s *fakeStore) FindInvoice(_ context.Context, contentHash, employeeName string) (*domain.StoredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[contentHash+"|"+employeeName], nil
}

func (s *fakeStore) Put(_ context.Context, doc domain.StoredDocument, _ []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.putDocs = append(s.putDocs, doc)
	return nil
}

func (s *fakeStore) Search(_ context.Context, _ []float32, filters map[string]string, limit int, threshold float64) ([]domain.RetrievedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls = append(s.searchCalls, searchCall{filters: filters, limit: limit, threshold: threshold})
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if filters["doc_type"] == domain.DocTypePolicy {
		return s.policyHits, nil
	}
	return s.invoiceHits, nil
}

func (s *fakeStore) stored() []domain.StoredDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StoredDocument(nil), s.putDocs...)
}

type fakeSource struct {
	files map[string][]byte
}

func (s *fakeSource) Read(_ context.Context, path string) ([]byte, error) {
	data, ok := s.files[path]
	if !ok {
		return nil, errors.New("no such file: " + path)
	}
	return data, nil
}

type fakeExtractor struct {
	texts   map[string]string
	failOn  string
}

func (e *fakeExtractor) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if e.failOn != "" && filename == e.failOn {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+filename, errors.New("unreadable content"))
	}
	if text, ok := e.texts[filename]; ok {
		return text, nil
	}
	return string(data), nil
}

type fakeClassifier struct {
	mu       sync.Mutex
	result   domain.Classification
	err      error
	calls    int
}

func (c *fakeClassifier) Classify(_ context.Context, _, _, _ string) (domain.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return domain.Classification{}, c.err
	}
	return c.result, nil
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []domain.BatchDone
}

func (n *fakeNotifier) PublishBatchCompleted(_ context.Context, done domain.BatchDone) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, done)
	return nil
}

// fakeSynth serves both the answer and the suggestion calls; the suggestion
// prompt is recognized by its JSON-array instruction.
type fakeSynth struct {
	answer          string
	answerErr       error
	streamErr       error
	suggestionRaw   string
	suggestionErr   error
	suggestionDelay time.Duration
}

func isSuggestionPrompt(prompt string) bool {
	return strings.Contains(prompt, "JSON array")
}

func (f *fakeSynth) SynthesizeText(ctx context.Context, prompt string) (string, error) {
	if isSuggestionPrompt(prompt) {
		if f.suggestionDelay > 0 {
			select {
			case <-time.After(f.suggestionDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return f.suggestionRaw, f.suggestionErr
	}
	return f.answer, f.answerErr
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string) (<-chan string, <-chan error) {
	textCh := make(chan string, 8)
	errCh := make(chan error, 1)
	go func() {
		defer close(textCh)
		defer close(errCh)
		rest := f.answer
		for len(rest) > 0 {
			n := 7
			if n > len(rest) {
				n = len(rest)
			}
			textCh <- rest[:n]
			rest = rest[n:]
		}
		if f.streamErr != nil {
			errCh <- f.streamErr
		}
	}()
	return textCh, errCh
}

type fakeSessions struct {
	mu       sync.Mutex
	history  map[string][]domain.ChatMessage
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{history: map[string][]domain.ChatMessage{}}
}

func (s *fakeSessions) History(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.history[sessionID]...), nil
}

func (s *fakeSessions) Append(_ context.Context, sessionID string, messages ...domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = domain.TrimHistory(append(s.history[sessionID], messages...), 20)
	return nil
}

func (s *fakeSessions) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
	return nil
}

func (s *fakeSessions) Sessions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.history))
	for id := range s.history {
		ids = append(ids, id)
	}
	return ids, nil
}
