// Package webui exposes the HTTP surface for a running book service: step
// invocation, approvals, health, workflow and artifact state, the live event
// feed, and metrics.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/dispatch"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/steps"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/tasks"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/version"
)

// Server is the web UI HTTP server. It reads state from the dispatcher and
// the step service and pushes dispatched events to websocket subscribers.
type Server struct {
	dispatcher *dispatch.Dispatcher
	steps      *steps.Service
	queue      *tasks.Queue
	queries    *metrics.QueryService
	logger     *logx.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer creates a web UI server and registers it as an event sink on the
// dispatcher so every dispatched event reaches connected websocket clients.
func NewServer(dispatcher *dispatch.Dispatcher, stepService *steps.Service, queue *tasks.Queue) *Server {
	s := &Server{
		dispatcher: dispatcher,
		steps:      stepService,
		queue:      queue,
		logger:     logx.NewLogger("webui"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	if dispatcher != nil {
		dispatcher.AddSink(s.broadcast)
	}
	return s
}

// SetQueryService attaches a Prometheus query service so /api/book/:id/metrics
// can serve aggregated token and cost figures.
func (s *Server) SetQueryService(queries *metrics.QueryService) {
	s.queries = queries
}

// RegisterRoutes sets up the HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/healthz", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/book/", s.handleBook)
	mux.HandleFunc("/api/step/", s.handleStep)
	mux.HandleFunc("/api/approve", s.handleApprove)
	mux.HandleFunc("/api/reject", s.handleReject)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.Handler())
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleState implements GET /api/state: the current artifact state plus the
// dispatcher watermark and queue depth.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.dispatcher == nil {
		http.Error(w, "Dispatcher not available", http.StatusServiceUnavailable)
		return
	}

	response := map[string]any{
		"artifact":  s.dispatcher.State(),
		"watermark": s.dispatcher.Watermark(),
		"summary":   s.dispatcher.Summary(),
	}
	if s.queue != nil {
		response["pending_tasks"] = s.queue.Pending()
	}
	s.writeJSON(w, response)
}

// handleBook implements GET /api/book/:id: workflow snapshot plus asset
// counts for a single book.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.steps == nil {
		http.Error(w, "Step service not available", http.StatusServiceUnavailable)
		return
	}

	bookID := r.URL.Path[len("/api/book/"):]
	if suffix := "/metrics"; len(bookID) > len(suffix) && bookID[len(bookID)-len(suffix):] == suffix {
		s.handleBookMetrics(w, r, bookID[:len(bookID)-len(suffix)])
		return
	}
	if bookID == "" {
		http.Error(w, "Book ID required", http.StatusBadRequest)
		return
	}

	response := map[string]any{"book_id": bookID}

	if wf, err := s.steps.Workflow(bookID); err == nil {
		response["workflow"] = wf.Snapshot()
		response["complete"] = wf.IsComplete()
		if pending := wf.PendingApproval(); pending != nil {
			response["pending_approval"] = pending
		}
	} else {
		s.logger.Debug("no workflow for book %s: %v", bookID, err)
	}

	summary, err := s.steps.Summary(bookID)
	if err != nil {
		s.logger.Warn("book summary failed for %s: %v", bookID, err)
		http.Error(w, "Book not found", http.StatusNotFound)
		return
	}
	response["summary"] = summary

	s.writeJSON(w, response)
}

// handleBookMetrics implements GET /api/book/:id/metrics: aggregated token,
// cost, and image counts from Prometheus, total and broken down by model.
func (s *Server) handleBookMetrics(w http.ResponseWriter, r *http.Request, bookID string) {
	if s.queries == nil {
		http.Error(w, "Metrics query service not configured", http.StatusServiceUnavailable)
		return
	}
	if bookID == "" {
		http.Error(w, "Book ID required", http.StatusBadRequest)
		return
	}

	totals, err := s.queries.GetBookMetrics(r.Context(), bookID)
	if err != nil {
		s.logger.Warn("metrics query failed for book %s: %v", bookID, err)
		http.Error(w, "Metrics query failed", http.StatusBadGateway)
		return
	}
	byModel, err := s.queries.GetBookMetricsByModel(r.Context(), bookID)
	if err != nil {
		s.logger.Warn("per-model metrics query failed for book %s: %v", bookID, err)
	}

	s.writeJSON(w, map[string]any{
		"totals":   totals,
		"by_model": byModel,
	})
}

// approvalRequest is the body for POST /api/approve and /api/reject.
type approvalRequest struct {
	BookID   string `json:"book_id"`
	Step     int    `json:"step"`
	Feedback string `json:"feedback,omitempty"`
}

// handleApprove implements POST /api/approve: resolves a pending approval
// gate so the workflow can advance.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeApproval(w, r)
	if !ok {
		return
	}
	if err := s.steps.Approve(req.BookID, proto.StepID(req.Step)); err != nil {
		http.Error(w, fmt.Sprintf("approve failed: %v", err), http.StatusConflict)
		return
	}
	s.writeJSON(w, map[string]string{"status": "approved"})
}

// handleReject implements POST /api/reject: rejects the pending step with
// feedback so it can be re-run.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeApproval(w, r)
	if !ok {
		return
	}
	if err := s.steps.Reject(req.BookID, proto.StepID(req.Step), req.Feedback); err != nil {
		http.Error(w, fmt.Sprintf("reject failed: %v", err), http.StatusConflict)
		return
	}
	s.writeJSON(w, map[string]string{"status": "rejected"})
}

func (s *Server) decodeApproval(w http.ResponseWriter, r *http.Request) (approvalRequest, bool) {
	var req approvalRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if s.steps == nil {
		http.Error(w, "Step service not available", http.StatusServiceUnavailable)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return req, false
	}
	if req.BookID == "" || req.Step < 1 {
		http.Error(w, "book_id and step are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// handleLogs implements GET /api/logs: recent entries from the in-memory log
// buffer, optionally filtered by component and RFC3339 since time, capped by
// limit (default 200).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	component := query.Get("component")

	var since time.Time
	if sinceStr := query.Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	limit := 200
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries := logx.GetRecentLogEntries(component, since)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	s.writeJSON(w, entries)
}

// handleEvents implements GET /ws/events: upgrades to a websocket and feeds
// the client every event the dispatcher applies from then on.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("websocket client connected: %s", r.RemoteAddr)

	// Drain control frames; any read error means the client is gone.
	go func() {
		defer s.dropConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast is the dispatcher sink: it pushes one event to every connected
// websocket client, dropping clients whose writes fail.
func (s *Server) broadcast(event *proto.StreamEvent) {
	payload, err := event.ToJSON()
	if err != nil {
		s.logger.Warn("failed to serialize event %s: %v", event.Type, err)
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Debug("dropping websocket client: %v", err)
			s.dropConn(conn)
		}
	}
}

func (s *Server) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	_, present := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if present {
		_ = conn.Close()
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

// StartServer starts the HTTP server on addr and shuts it down when ctx is
// cancelled.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting web UI server on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down web UI server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed: %v", err)
		}
		s.closeAll()
	}()

	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
