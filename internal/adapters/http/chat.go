package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

func decodeChatRequest(r *http.Request) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode chat request", err)
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return req, nil
}

// chatAnswer answers one query in a single JSON response and persists the
// user/assistant exchange to the session.
func (rt *Router) chatAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	answer := rt.chat.Answer(r.Context(), req)
	answer.SessionID = req.SessionID

	rt.appendExchange(r, req, answer.Response)
	if rt.metrics != nil {
		rt.metrics.RecordChat(serviceName, "chat", string(answer.QueryType), answer.RetrievedDocuments, time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

// chatStream answers one query over SSE, relaying every chunk as it is
// produced. The full assistant text is accumulated and persisted to the
// session once the stream finishes cleanly.
func (rt *Router) chatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	start := time.Now()
	var (
		assistant strings.Builder
		queryType domain.QueryType
		retrieved int
		completed bool
	)
	for chunk := range rt.chat.Stream(r.Context(), req) {
		switch v := chunk.(type) {
		case domain.ChatMetadata:
			queryType = v.QueryType
			retrieved = v.RetrievedDocuments
		case domain.ChatContent:
			assistant.WriteString(v.Text)
		case domain.ChatSuggestions:
			if v.Fallback && rt.metrics != nil {
				rt.metrics.RecordSuggestionFallback(serviceName)
			}
		case domain.ChatDone:
			completed = true
		}
		if err := sse.send(chunk.ChunkType(), chunk); err != nil {
			rt.logger.Warn("sse write failed, client gone", "error", err)
			return
		}
	}

	if completed {
		rt.appendExchange(r, req, assistant.String())
		if rt.metrics != nil {
			rt.metrics.RecordChat(serviceName, "chat_stream", string(queryType), retrieved, time.Since(start))
		}
	}
	_ = sse.done()
}

// appendExchange stores the question and answer; history is advisory, so a
// store failure is logged but never surfaces to the client.
func (rt *Router) appendExchange(r *http.Request, req domain.ChatRequest, response string) {
	if response == "" {
		return
	}
	now := time.Now().UTC()
	err := rt.sessions.Append(r.Context(), req.SessionID,
		domain.ChatMessage{Role: domain.RoleUser, Content: req.Query, Timestamp: now},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: response, Timestamp: now},
	)
	if err != nil {
		rt.logger.Warn("failed to persist chat exchange", "session_id", req.SessionID, "error", err)
	}
}
