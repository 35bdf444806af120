package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/storage/localfs"
)

type fakeIngestor struct {
	events  []domain.IngestionEvent
	lastReq ports.BatchRequest
}

func (f *fakeIngestor) Run(_ context.Context, req ports.BatchRequest) <-chan domain.IngestionEvent {
	f.lastReq = req
	ch := make(chan domain.IngestionEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeChat struct {
	answer domain.ChatAnswer
	chunks []domain.ChatChunk
}

func (f *fakeChat) Answer(_ context.Context, _ domain.ChatRequest) domain.ChatAnswer {
	return f.answer
}

func (f *fakeChat) Stream(_ context.Context, _ domain.ChatRequest) <-chan domain.ChatChunk {
	ch := make(chan domain.ChatChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch
}

type fakeSessionStore struct {
	mu       sync.Mutex
	messages map[string][]domain.ChatMessage

	// listStarted/listBlock let a test hold a Sessions call in flight.
	listStarted chan struct{}
	listBlock   chan struct{}
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{messages: make(map[string][]domain.ChatMessage)}
}

func (f *fakeSessionStore) History(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatMessage(nil), f.messages[sessionID]...), nil
}

func (f *fakeSessionStore) Append(_ context.Context, sessionID string, messages ...domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], messages...)
	return nil
}

func (f *fakeSessionStore) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, sessionID)
	return nil
}

func (f *fakeSessionStore) Sessions(_ context.Context) ([]string, error) {
	if f.listStarted != nil {
		f.listStarted <- struct{}{}
	}
	if f.listBlock != nil {
		<-f.listBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func completedBatch() []domain.IngestionEvent {
	return []domain.IngestionEvent{
		domain.BatchStarted{EmployeeName: "Asha Rao", TotalInvoices: 1},
		domain.InvoiceResult{
			Filename:            "cab.pdf",
			Status:              domain.StatusFullyReimbursed,
			Reason:              "Within the travel allowance.",
			TotalAmount:         494,
			ReimbursementAmount: 494,
			Currency:            "INR",
		},
		domain.BatchDone{
			EmployeeName:   "Asha Rao",
			TotalInvoices:  1,
			ProcessedCount: 1,
			Results: []domain.InvoiceResult{{
				Filename: "cab.pdf",
				Status:   domain.StatusFullyReimbursed,
			}},
			Summary:   domain.BatchSummary{FullyReimbursedCount: 1, TotalAmount: 494, TotalReimbursement: 494},
			Timestamp: time.Now().UTC(),
		},
	}
}

func newTestRouter(t *testing.T, ingestor *fakeIngestor, chat *fakeChat, sessions *fakeSessionStore) (http.Handler, *fakeSessionStore) {
	t.Helper()
	uploads, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	if sessions == nil {
		sessions = newFakeSessionStore()
	}
	if ingestor == nil {
		ingestor = &fakeIngestor{}
	}
	if chat == nil {
		chat = &fakeChat{}
	}
	rt := NewRouter(ingestor, chat, sessions, uploads, nil, nil, RouterOptions{})
	return rt.Handler(), sessions
}

func batchUploadBody(t *testing.T, employee string, invoices map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("employee_name", employee); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	part, err := writer.CreateFormFile("policy", "policy.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte("Travel up to 500 INR per trip.")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	for name, content := range invoices {
		part, err := writer.CreateFormFile("invoices", name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestAnalyzeInvoicesReturnsBatchDone(t *testing.T) {
	ingestor := &fakeIngestor{events: completedBatch()}
	handler, _ := newTestRouter(t, ingestor, nil, nil)

	body, contentType := batchUploadBody(t, "Asha Rao", map[string]string{"cab.pdf": "Cab fare 494 INR"})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/analyze", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var done domain.BatchDone
	if err := json.NewDecoder(res.Body).Decode(&done); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if done.EmployeeName != "Asha Rao" || done.ProcessedCount != 1 {
		t.Fatalf("unexpected batch response: %+v", done)
	}
	if ingestor.lastReq.EmployeeName != "Asha Rao" {
		t.Fatalf("ingestor got employee %q", ingestor.lastReq.EmployeeName)
	}
	if ingestor.lastReq.PolicyPath == "" || len(ingestor.lastReq.InvoicePaths) != 1 {
		t.Fatalf("expected spooled paths, got %+v", ingestor.lastReq)
	}
}

func TestAnalyzeInvoicesRequiresEmployeeName(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil, nil)

	body, contentType := batchUploadBody(t, "", map[string]string{"cab.pdf": "Cab fare"})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/analyze", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAnalyzeInvoicesFailedPolicyReturns422(t *testing.T) {
	ingestor := &fakeIngestor{events: []domain.IngestionEvent{
		domain.BatchStarted{EmployeeName: "Asha Rao", TotalInvoices: 1},
		domain.IngestionError{Error: "read policy file: no such file"},
	}}
	handler, _ := newTestRouter(t, ingestor, nil, nil)

	body, contentType := batchUploadBody(t, "Asha Rao", map[string]string{"cab.pdf": "Cab fare"})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/analyze", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "read policy file") {
		t.Fatalf("expected policy failure message, got %s", res.Body.String())
	}
}

func TestAnalyzeInvoicesStreamRelaysEvents(t *testing.T) {
	ingestor := &fakeIngestor{events: completedBatch()}
	handler, _ := newTestRouter(t, ingestor, nil, nil)

	body, contentType := batchUploadBody(t, "Asha Rao", map[string]string{"cab.pdf": "Cab fare 494 INR"})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices/analyze/stream", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", got)
	}

	frames := sseFrames(t, res.Body.String())
	if len(frames) != len(completedBatch()) {
		t.Fatalf("expected %d frames, got %d", len(completedBatch()), len(frames))
	}
	if frames[0]["type"] != "metadata" {
		t.Fatalf("first frame type = %v", frames[0]["type"])
	}
	if frames[len(frames)-1]["type"] != "done" {
		t.Fatalf("last frame type = %v", frames[len(frames)-1]["type"])
	}
	if !strings.Contains(res.Body.String(), "data: [DONE]") {
		t.Fatalf("expected [DONE] sentinel")
	}
}

func TestChatAnswerPersistsExchange(t *testing.T) {
	chat := &fakeChat{answer: domain.ChatAnswer{
		Response:           "Two invoices were fully reimbursed.",
		QueryType:          domain.QueryGeneral,
		RetrievedDocuments: 2,
	}}
	handler, sessions := newTestRouter(t, nil, chat, nil)

	payload := `{"query":"How many invoices were approved?","session_id":"s1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var answer domain.ChatAnswer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if answer.SessionID != "s1" {
		t.Fatalf("expected session id echoed, got %q", answer.SessionID)
	}

	history, _ := sessions.History(context.Background(), "s1")
	if len(history) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", history)
	}
}

func TestChatAnswerGeneratesSessionID(t *testing.T) {
	chat := &fakeChat{answer: domain.ChatAnswer{Response: "ok", QueryType: domain.QueryGeneral}}
	handler, _ := newTestRouter(t, nil, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"query":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var answer domain.ChatAnswer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if answer.SessionID == "" {
		t.Fatalf("expected generated session id")
	}
}

func TestChatAnswerRejectsEmptyQuery(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"query":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestChatStreamPersistsAccumulatedAnswer(t *testing.T) {
	chat := &fakeChat{chunks: []domain.ChatChunk{
		domain.ChatMetadata{QueryType: domain.QueryGeneral, RetrievedDocuments: 1},
		domain.ChatContent{Text: "Both invoices "},
		domain.ChatContent{Text: "were approved."},
		domain.ChatSuggestions{Suggestions: []string{"What was the total amount?"}},
		domain.ChatDone{ChunksStreamed: 2},
	}}
	handler, sessions := newTestRouter(t, nil, chat, nil)

	payload := `{"query":"What happened?","session_id":"s2"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	frames := sseFrames(t, res.Body.String())
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	if frames[0]["type"] != "metadata" || frames[len(frames)-1]["type"] != "done" {
		t.Fatalf("unexpected frame order: %v ... %v", frames[0]["type"], frames[len(frames)-1]["type"])
	}

	history, _ := sessions.History(context.Background(), "s2")
	if len(history) != 2 {
		t.Fatalf("expected persisted exchange, got %d messages", len(history))
	}
	if history[1].Content != "Both invoices were approved." {
		t.Fatalf("assistant content = %q", history[1].Content)
	}
}

func TestChatStreamErrorSkipsPersistence(t *testing.T) {
	chat := &fakeChat{chunks: []domain.ChatChunk{
		domain.ChatMetadata{QueryType: domain.QueryGeneral},
		domain.ChatError{Message: "synthesis failed"},
	}}
	handler, sessions := newTestRouter(t, nil, chat, nil)

	payload := `{"query":"What happened?","session_id":"s3"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	history, _ := sessions.History(context.Background(), "s3")
	if len(history) != 0 {
		t.Fatalf("expected no persisted messages after stream error, got %d", len(history))
	}
}

func TestSessionHistoryEndpoints(t *testing.T) {
	sessions := newFakeSessionStore()
	_ = sessions.Append(context.Background(), "s9",
		domain.ChatMessage{Role: domain.RoleUser, Content: "hi"},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: "hello"},
	)
	handler, _ := newTestRouter(t, nil, nil, sessions)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/history/s9", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp struct {
		SessionID string               `json:"session_id"`
		Messages  []domain.ChatMessage `json:"messages"`
		Count     int                  `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || resp.SessionID != "s9" {
		t.Fatalf("unexpected history response: %+v", resp)
	}

	del := httptest.NewRequest(http.MethodDelete, "/v1/chat/history/s9", nil)
	delRes := httptest.NewRecorder()
	handler.ServeHTTP(delRes, del)
	if delRes.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", delRes.Code)
	}

	history, _ := sessions.History(context.Background(), "s9")
	if len(history) != 0 {
		t.Fatalf("expected cleared history, got %d messages", len(history))
	}
}

func TestSessionHistoryRequiresID(t *testing.T) {
	handler, _ := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/history/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

// sseFrames parses "data: {json}" frames, skipping the [DONE] sentinel.
func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("unmarshal frame %q: %v", payload, err)
		}
		frames = append(frames, frame)
	}
	return frames
}
