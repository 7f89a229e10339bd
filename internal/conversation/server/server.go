// Package server exposes the conversation REST API: message history reads and
// turn submission against the remote agent team.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	v1 "github.com/nexatel/voicedesk/api/types/v1"
	"github.com/nexatel/voicedesk/internal/conversation/store"
	"github.com/nexatel/voicedesk/internal/conversation/workflow"
)

// Server serves the conversation API.
type Server struct {
	store      store.Store
	team       workflow.Askable
	httpServer *http.Server
}

// NewServer creates the conversation API server.
func NewServer(addr string, st store.Store, team workflow.Askable) *Server {
	s := &Server{
		store: st,
		team:  team,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversation/{conversationID}", s.handleGetMessages)
	mux.HandleFunc("POST /conversation/{conversationID}", s.handleSendMessage)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// HTTPServer exposes the underlying server for start and shutdown.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleGetMessages returns the full message history for a conversation. An
// unknown conversation yields an empty list, matching upsert-on-write
// storage semantics.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")

	conv, ok, err := s.store.Get(r.Context(), conversationID)
	if err != nil {
		slog.Error("[Conversation] Store read failed", "conversation_id", conversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, v1.ErrorResponse{Detail: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, []v1.Message{})
		return
	}
	writeJSON(w, http.StatusOK, conv.Messages)
}

// handleSendMessage runs one workflow turn: load history, append the
// customer turn, ask the team, persist, and return only the new messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")

	var req v1.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("[Conversation] Unprocessable request", "conversation_id", conversationID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, v1.ErrorResponse{Detail: err.Error()})
		return
	}

	conv, ok, err := s.store.Get(r.Context(), conversationID)
	if err != nil {
		slog.Error("[Conversation] Store read failed", "conversation_id", conversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, v1.ErrorResponse{Detail: err.Error()})
		return
	}
	if !ok {
		conv = store.NewConversation()
	}
	historyCount := len(conv.Messages)

	conv.Messages = append(conv.Messages, v1.Message{
		Name:    v1.CustomerName,
		Role:    v1.RoleUser,
		Content: req.Message,
	})

	replies, err := s.team.Ask(r.Context(), conv, req.Message)
	if err != nil {
		slog.Error("[Conversation] Workflow turn failed", "conversation_id", conversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, v1.ErrorResponse{Detail: err.Error()})
		return
	}
	conv.Messages = append(conv.Messages, replies...)

	if err := s.store.Save(r.Context(), conversationID, conv); err != nil {
		slog.Error("[Conversation] Store write failed", "conversation_id", conversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, v1.ErrorResponse{Detail: err.Error()})
		return
	}

	// The customer's own turn is included so channels can mirror it.
	writeJSON(w, http.StatusOK, conv.Messages[historyCount:])
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
