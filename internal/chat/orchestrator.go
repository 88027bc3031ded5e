// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package chat orchestrates a conversation turn end to end: persist
// the user message, resolve or establish the remote runtime session,
// run the turn, persist the assistant reply, and recover once when the
// runtime has forgotten the session.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/correlator"
	"github.com/tether-dev/tether/internal/digest"
	"github.com/tether-dev/tether/internal/runtime"
	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

const (
	defaultTurnTimeout = 30 * time.Second

	// historyWindow bounds how many trailing messages feed the
	// recovery digest.
	historyWindow = 50
)

// ChatRequest is one caller turn. RequestID is the caller-supplied
// idempotency token; retrying with the same RequestID replays the
// stored result instead of running the turn again.
type ChatRequest struct {
	// SessionID is empty on the first turn of a new conversation.
	SessionID string
	Tenant    string
	RequestID string
	Content   string
}

// ChatResponse is the outcome of a persisted turn.
type ChatResponse struct {
	SessionID        string
	Version          int64
	AssistantContent string
	ToolInvocations  []store.ToolInvocation
	Recovered        bool
}

// Orchestrator drives the turn state machine. It is safe for
// concurrent use; the store's version counter is the only arbiter
// between racing turns on the same session.
type Orchestrator struct {
	sessions    store.SessionStore
	correlator  *correlator.Correlator
	runtime     runtime.Client
	bootstrap   bootstrap.Provider
	digest      *digest.Builder
	logger      *slog.Logger
	turnTimeout time.Duration
}

// Config holds Orchestrator dependencies.
type Config struct {
	Sessions   store.SessionStore
	Correlator *correlator.Correlator
	Runtime    runtime.Client
	Bootstrap  bootstrap.Provider
	Digest     *digest.Builder
	Logger     *slog.Logger
	// TurnTimeout bounds each runtime turn call; zero uses 30s.
	TurnTimeout time.Duration
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.TurnTimeout
	if timeout == 0 {
		timeout = defaultTurnTimeout
	}
	builder := cfg.Digest
	if builder == nil {
		builder = digest.NewBuilder()
	}
	provider := cfg.Bootstrap
	if provider == nil {
		provider = &bootstrap.StaticProvider{}
	}

	return &Orchestrator{
		sessions:    cfg.Sessions,
		correlator:  cfg.Correlator,
		runtime:     cfg.Runtime,
		bootstrap:   provider,
		digest:      builder,
		logger:      logger,
		turnTimeout: timeout,
	}
}

// Chat runs one conversation turn. The user message is durable before
// any runtime call; a runtime failure after that point surfaces a
// typed error but never loses the user's turn.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Loaded once per call; recovery reuses the same snapshot so the
	// retried turn is seeded identically.
	init := o.loadInitState(ctx, req.Tenant)

	session, err := o.ensureSession(ctx, &req)
	if err != nil {
		return nil, err
	}

	userMsg := &store.Message{
		ID:             uuid.NewString(),
		SessionID:      session.ID,
		Role:           store.MessageRoleUser,
		Content:        req.Content,
		IdempotencyKey: userKey(req.RequestID),
		CreatedAt:      time.Now().UTC(),
	}

	appended, err := o.sessions.AppendMessage(ctx, session.ID, req.Tenant, userMsg, session.Version)
	switch {
	case err == nil:
		// fall through to the runtime call
	case tetherr.IsDuplicateKey(err):
		return o.replay(ctx, session.ID, req.Tenant, req.RequestID)
	case tetherr.IsVersionMismatch(err):
		return nil, tetherr.Wrap(err, tetherr.CodeChatConflict,
			"another turn landed first, reload and retry",
			tetherr.FieldSessionID(session.ID),
			tetherr.FieldCurrentVersion(tetherr.CurrentVersionOf(err)))
	default:
		return nil, err
	}

	handle, ok, err := o.correlator.Resolve(ctx, session.ID, req.Tenant)
	if err != nil {
		return nil, err
	}
	if !ok {
		handle, err = o.establishRemote(ctx, session.ID, req.Tenant)
		if err != nil {
			return nil, err
		}
	}

	result, err := o.runTurn(ctx, handle, req.Content)
	switch {
	case err == nil:
		return o.completeTurn(ctx, session.ID, req.Tenant, req.RequestID, appended.NewVersion, result, false)
	case tetherr.IsRemoteNotFound(err):
		return o.recoverTurn(ctx, session.ID, req.Tenant, req.RequestID, req.Content, appended.NewVersion, init)
	default:
		// Timeout, upstream failure, malformed response. The user
		// turn is already durable; the caller may retry with a new
		// request id once the runtime is healthy.
		return nil, err
	}
}

// History returns the session's messages in insertion order.
func (o *Orchestrator) History(ctx context.Context, sessionID, tenant string, limit, offset int) (store.Page, error) {
	return o.sessions.GetMessages(ctx, sessionID, tenant, limit, offset)
}

// CloseSession permanently closes a session. Further Chat calls are
// rejected with the session-closed code.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID, tenant string) error {
	return o.sessions.CloseSession(ctx, sessionID, tenant)
}

func validateRequest(req ChatRequest) error {
	switch {
	case req.Tenant == "":
		return tetherr.New(tetherr.CodeChatInvalidInput, "tenant is required")
	case req.RequestID == "":
		return tetherr.New(tetherr.CodeChatInvalidInput, "request id is required")
	case req.Content == "":
		return tetherr.New(tetherr.CodeChatInvalidInput, "content is required")
	}
	return nil
}

// loadInitState degrades to an empty state on provider failure; a
// broken bootstrap source must not block conversation.
func (o *Orchestrator) loadInitState(ctx context.Context, tenant string) bootstrap.InitState {
	init, err := o.bootstrap.LoadInitState(ctx, tenant)
	if err != nil {
		o.logger.Warn("bootstrap state unavailable, continuing without it",
			"tenant", tenant, "error", err)
		return bootstrap.InitState{}
	}
	return init
}

// ensureSession loads the referenced session or creates a fresh one
// when the request carries no session id.
func (o *Orchestrator) ensureSession(ctx context.Context, req *ChatRequest) (*store.Session, error) {
	if req.SessionID != "" {
		return o.sessions.GetSession(ctx, req.SessionID, req.Tenant)
	}

	now := time.Now().UTC()
	session := &store.Session{
		ID:             uuid.NewString(),
		Tenant:         req.Tenant,
		Status:         store.SessionStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := o.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	req.SessionID = session.ID
	return session, nil
}

// replay returns the stored assistant reply for an already-applied
// request id. When the first attempt has not persisted its assistant
// turn yet, the caller gets a typed in-flight error instead of a
// second runtime call.
func (o *Orchestrator) replay(ctx context.Context, sessionID, tenant, requestID string) (*ChatResponse, error) {
	reply, err := o.sessions.GetMessageByKey(ctx, sessionID, tenant, assistantKey(requestID))
	if err != nil {
		if tetherr.IsNotFound(err) {
			return nil, tetherr.New(tetherr.CodeChatDuplicateInFlight,
				"this request is already being processed",
				tetherr.FieldSessionID(sessionID),
				tetherr.FieldRequestID(requestID))
		}
		return nil, err
	}

	session, err := o.sessions.GetSession(ctx, sessionID, tenant)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		SessionID:        sessionID,
		Version:          session.Version,
		AssistantContent: reply.Content,
		ToolInvocations:  reply.ToolInvocations,
	}, nil
}

// establishRemote creates a remote session with minimal identity and
// persists the handle before the turn call. Two racing turns on a
// handle-less session may each create one; the last write wins and
// the loser's remote session is orphaned, a bounded leak with no
// effect on durable state.
func (o *Orchestrator) establishRemote(ctx context.Context, sessionID, tenant string) (string, error) {
	remoteID, err := o.correlator.CreateRemote(ctx, tenant, bootstrap.InitState{
		Facts: map[string]string{"session_id": sessionID},
	})
	if err != nil {
		return "", err
	}
	if err := o.sessions.SetRemoteHandle(ctx, sessionID, tenant, remoteID); err != nil {
		return "", err
	}
	return remoteID, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, remoteID, content string) (*runtime.TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	return o.runtime.RunTurn(ctx, remoteID, content)
}

// completeTurn persists the assistant reply at the post-user-append
// version and builds the response.
func (o *Orchestrator) completeTurn(ctx context.Context, sessionID, tenant, requestID string, version int64, result *runtime.TurnResult, recovered bool) (*ChatResponse, error) {
	msg := &store.Message{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Role:            store.MessageRoleAssistant,
		Content:         result.Content,
		ToolInvocations: result.ToolInvocations,
		IdempotencyKey:  assistantKey(requestID),
		CreatedAt:       time.Now().UTC(),
	}

	appended, err := o.sessions.AppendMessage(ctx, sessionID, tenant, msg, version)
	switch {
	case err == nil:
	case tetherr.IsDuplicateKey(err):
		// A concurrent retry of the same request already stored the
		// reply; return the stored one.
		return o.replay(ctx, sessionID, tenant, requestID)
	case tetherr.IsVersionMismatch(err):
		// The turn between user append and assistant append is
		// single-writer; a mismatch here means that discipline broke.
		o.logger.Error("assistant append lost a version race, conversation state diverged",
			"session_id", sessionID,
			"request_id", requestID,
			"expected_version", version,
			"current_version", tetherr.CurrentVersionOf(err))
		return nil, tetherr.Wrap(err, tetherr.CodeChatTurnFatal,
			"assistant reply could not be persisted consistently",
			tetherr.FieldSessionID(sessionID),
			tetherr.FieldRequestID(requestID))
	default:
		return nil, err
	}

	return &ChatResponse{
		SessionID:        sessionID,
		Version:          appended.NewVersion,
		AssistantContent: result.Content,
		ToolInvocations:  result.ToolInvocations,
		Recovered:        recovered,
	}, nil
}

func userKey(requestID string) string {
	return "user:" + requestID
}

func assistantKey(requestID string) string {
	return "assistant:" + requestID
}
