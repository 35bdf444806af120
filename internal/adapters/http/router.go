package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/expenseops/invoice-assistant/internal/core/ports"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/storage/localfs"
	"github.com/expenseops/invoice-assistant/internal/observability/metrics"
)

const serviceName = "invoice-assistant-api"

type RouterOptions struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxConcurrent      int
}

// Router wires the HTTP surface: batch analysis (JSON and SSE), chat (JSON
// and SSE), session management and health.
type Router struct {
	ingestor ports.BatchIngestor
	chat     ports.ChatService
	sessions ports.SessionStore
	uploads  *localfs.Storage
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
	opts     RouterOptions
}

func NewRouter(
	ingestor ports.BatchIngestor,
	chat ports.ChatService,
	sessions ports.SessionStore,
	uploads *localfs.Storage,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	opts RouterOptions,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ingestor: ingestor,
		chat:     chat,
		sessions: sessions,
		uploads:  uploads,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/invoices/analyze", rt.analyzeInvoices)
	mux.HandleFunc("/v1/invoices/analyze/stream", rt.analyzeInvoicesStream)
	mux.HandleFunc("/v1/chat", rt.chatAnswer)
	mux.HandleFunc("/v1/chat/stream", rt.chatStream)
	mux.HandleFunc("/v1/invoices/report", rt.batchReport)
	mux.HandleFunc("/v1/chat/sessions", rt.listSessions)
	mux.HandleFunc("/v1/chat/history/", rt.sessionHistory)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	if rt.opts.MaxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxConcurrent, 50*time.Millisecond)
	}
	if rt.opts.RateLimitPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(rt.opts.RateLimitPerSecond), max(rt.opts.RateLimitBurst, 1))
		handler = rateLimitMiddleware(handler, limiter)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	ids, err := rt.sessions.Sessions(r.Context())
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), errorBody(err.Error()))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (rt *Router) sessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/chat/history/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSON(w, http.StatusBadRequest, errorBody("session id is required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		history, err := rt.sessions.History(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"messages":   history,
			"count":      len(history),
		})
	case http.MethodDelete:
		if err := rt.sessions.Clear(r.Context(), sessionID); err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": sessionID})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
