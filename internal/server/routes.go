// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tether-dev/tether/internal/chat"
	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// ChatService is the orchestrator surface the server exposes.
type ChatService interface {
	Chat(ctx context.Context, req chat.ChatRequest) (*chat.ChatResponse, error)
	History(ctx context.Context, sessionID, tenant string, limit, offset int) (store.Page, error)
	CloseSession(ctx context.Context, sessionID, tenant string) error
}

// RegisterChatService sets the chat dependency and registers REST routes.
func (s *Server) RegisterChatService(svc ChatService, historyPageSize int) {
	s.chat = svc
	s.historyPageSize = historyPageSize
	if s.historyPageSize <= 0 {
		s.historyPageSize = 50
	}
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat",
		Summary:     "Run one conversation turn",
		Tags:        []string{"chat"},
	}, s.handleChat)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-messages",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/messages",
		Summary:     "List session messages in insertion order",
		Tags:        []string{"sessions"},
	}, s.handleGetMessages)

	huma.Register(s.api, huma.Operation{
		OperationID: "close-session",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/close",
		Summary:     "Permanently close a session",
		Tags:        []string{"sessions"},
	}, s.handleCloseSession)
}

// --- Request/Response types for huma ---

type chatInput struct {
	Tenant         string `header:"X-Tether-Tenant" required:"true" doc:"Tenant the session belongs to"`
	IdempotencyKey string `header:"Idempotency-Key" doc:"Request id; alternative to body request_id"`
	Body           struct {
		SessionID string `json:"session_id,omitempty" doc:"Omit to start a new conversation"`
		RequestID string `json:"request_id,omitempty" doc:"Caller-supplied request id for safe retries"`
		Content   string `json:"content" minLength:"1" doc:"User message"`
	}
}
type chatOutput struct {
	Body struct {
		SessionID       string                 `json:"session_id"`
		Version         int64                  `json:"version" doc:"Session version after this turn"`
		Content         string                 `json:"content" doc:"Assistant reply"`
		ToolInvocations []store.ToolInvocation `json:"tool_invocations,omitempty"`
		Recovered       bool                   `json:"recovered" doc:"True when the remote session was recreated during this turn"`
	}
}

type getMessagesInput struct {
	Tenant string `header:"X-Tether-Tenant" required:"true"`
	ID     string `path:"id"`
	Limit  int    `query:"limit" minimum:"0" maximum:"200"`
	Offset int    `query:"offset" minimum:"0"`
}
type getMessagesOutput struct {
	Body struct {
		Messages []messageView `json:"messages"`
		HasMore  bool          `json:"hasMore"`
	}
}

type messageView struct {
	ID              string                 `json:"id"`
	Role            string                 `json:"role"`
	Content         string                 `json:"content"`
	ToolInvocations []store.ToolInvocation `json:"tool_invocations,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

type closeSessionInput struct {
	Tenant string `header:"X-Tether-Tenant" required:"true"`
	ID     string `path:"id"`
}
type closeSessionOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// --- Handlers ---

func (s *Server) handleChat(ctx context.Context, input *chatInput) (*chatOutput, error) {
	requestID := input.Body.RequestID
	if requestID == "" {
		requestID = input.IdempotencyKey
	}

	resp, err := s.chat.Chat(ctx, chat.ChatRequest{
		SessionID: input.Body.SessionID,
		Tenant:    input.Tenant,
		RequestID: requestID,
		Content:   input.Body.Content,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := &chatOutput{}
	out.Body.SessionID = resp.SessionID
	out.Body.Version = resp.Version
	out.Body.Content = resp.AssistantContent
	out.Body.ToolInvocations = resp.ToolInvocations
	out.Body.Recovered = resp.Recovered
	return out, nil
}

func (s *Server) handleGetMessages(ctx context.Context, input *getMessagesInput) (*getMessagesOutput, error) {
	limit := input.Limit
	if limit == 0 {
		limit = s.historyPageSize
	}

	page, err := s.chat.History(ctx, input.ID, input.Tenant, limit, input.Offset)
	if err != nil {
		return nil, mapError(err)
	}

	out := &getMessagesOutput{}
	out.Body.Messages = make([]messageView, 0, len(page.Messages))
	for _, msg := range page.Messages {
		out.Body.Messages = append(out.Body.Messages, messageView{
			ID:              msg.ID,
			Role:            string(msg.Role),
			Content:         msg.Content,
			ToolInvocations: msg.ToolInvocations,
			CreatedAt:       msg.CreatedAt,
		})
	}
	out.Body.HasMore = page.HasMore
	return out, nil
}

func (s *Server) handleCloseSession(ctx context.Context, input *closeSessionInput) (*closeSessionOutput, error) {
	if err := s.chat.CloseSession(ctx, input.ID, input.Tenant); err != nil {
		return nil, mapError(err)
	}

	out := &closeSessionOutput{}
	out.Body.Status = "closed"
	return out, nil
}

// mapError converts a typed engine error into a huma status error with
// a short message whose wording tracks the retry affordance.
func mapError(err error) error {
	status := tetherr.HTTPStatus(err)

	var msg string
	switch {
	case tetherr.HasCode(err, tetherr.CodeChatDuplicateInFlight):
		msg = "this request is already being processed; retry shortly to fetch its result"
	case tetherr.HasCode(err, tetherr.CodeChatConflict), tetherr.IsVersionMismatch(err):
		msg = "another update landed first; reload the session and retry"
	case tetherr.IsDuplicateKey(err):
		msg = "this request was already applied"
	case tetherr.IsSessionClosed(err):
		msg = "this conversation is closed"
	case tetherr.IsNotFound(err):
		msg = "session not found"
	case tetherr.IsTimeout(err):
		msg = "the conversational runtime did not answer in time; retry later"
	case tetherr.IsInvalidInput(err):
		msg = "invalid request"
	case status == http.StatusBadGateway:
		msg = "the conversational runtime is unavailable; retry later"
	default:
		msg = "internal error"
	}

	return huma.NewError(status, msg)
}
