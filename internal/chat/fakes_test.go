// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package chat_test

import (
	"context"
	"sync"
	"time"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/runtime"
	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// memStore is an in-memory SessionStore with the same typed-error
// semantics as the SQLite implementation, plus failure injection.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	messages map[string][]*store.Message

	// failNextAppend is returned by the next AppendMessage call and
	// then cleared.
	failNextAppend error
}

var _ store.SessionStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*store.Session),
		messages: make(map[string][]*store.Message),
	}
}

func (m *memStore) CreateSession(_ context.Context, session *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return nil
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memStore) GetSession(_ context.Context, id, tenant string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getLocked(id, tenant)
}

func (m *memStore) getLocked(id, tenant string) (*store.Session, error) {
	session, ok := m.sessions[id]
	if !ok || session.Tenant != tenant {
		return nil, tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(id))
	}
	cp := *session
	return &cp, nil
}

func (m *memStore) AppendMessage(_ context.Context, sessionID, tenant string, msg *store.Message, expectedVersion int64) (store.AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNextAppend; err != nil {
		m.failNextAppend = nil
		return store.AppendResult{}, err
	}

	session, err := m.getLocked(sessionID, tenant)
	if err != nil {
		return store.AppendResult{}, err
	}
	if session.Closed() {
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreSessionClosed, "session is closed",
			tetherr.FieldSessionID(sessionID))
	}
	for _, existing := range m.messages[sessionID] {
		if existing.IdempotencyKey == msg.IdempotencyKey {
			return store.AppendResult{}, tetherr.New(tetherr.CodeStoreDuplicateKey, "duplicate idempotency key",
				tetherr.FieldSessionID(sessionID))
		}
	}
	if session.Version != expectedVersion {
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreVersionMismatch, "version mismatch",
			tetherr.FieldSessionID(sessionID),
			tetherr.FieldCurrentVersion(session.Version))
	}

	cp := *msg
	m.messages[sessionID] = append(m.messages[sessionID], &cp)
	m.sessions[sessionID].Version++
	m.sessions[sessionID].LastActivityAt = time.Now().UTC()
	return store.AppendResult{NewVersion: m.sessions[sessionID].Version}, nil
}

func (m *memStore) GetMessages(_ context.Context, sessionID, tenant string, limit, offset int) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getLocked(sessionID, tenant); err != nil {
		return store.Page{}, err
	}
	if limit <= 0 {
		limit = 50
	}
	msgs := m.messages[sessionID]
	if offset >= len(msgs) {
		return store.Page{}, nil
	}
	end := offset + limit
	hasMore := end < len(msgs)
	if end > len(msgs) {
		end = len(msgs)
	}
	return store.Page{Messages: msgs[offset:end], HasMore: hasMore}, nil
}

func (m *memStore) GetMessageByKey(_ context.Context, sessionID, tenant, idempotencyKey string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getLocked(sessionID, tenant); err != nil {
		return nil, err
	}
	for _, msg := range m.messages[sessionID] {
		if msg.IdempotencyKey == idempotencyKey {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, tetherr.New(tetherr.CodeStoreMessageNotFound, "message not found",
		tetherr.FieldSessionID(sessionID))
}

func (m *memStore) SetRemoteHandle(_ context.Context, sessionID, tenant, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.Tenant != tenant {
		return tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(sessionID))
	}
	session.RemoteHandle = remoteID
	return nil
}

func (m *memStore) CloseSession(_ context.Context, sessionID, tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.Tenant != tenant {
		return tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(sessionID))
	}
	session.Status = store.SessionStatusClosed
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) remoteHandle(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		return session.RemoteHandle
	}
	return ""
}

// fakeRuntime counts calls and delegates to per-test hooks.
type fakeRuntime struct {
	mu          sync.Mutex
	createCalls int
	runCalls    int
	createFn    func(ctx context.Context, tenant string, init bootstrap.InitState) (string, error)
	runFn       func(ctx context.Context, remoteID, content string) (*runtime.TurnResult, error)
}

var _ runtime.Client = (*fakeRuntime)(nil)

func (f *fakeRuntime) CreateSession(ctx context.Context, tenant string, init bootstrap.InitState) (string, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()

	if f.createFn == nil {
		return "rt-default", nil
	}
	return f.createFn(ctx, tenant, init)
}

func (f *fakeRuntime) RunTurn(ctx context.Context, remoteID, content string) (*runtime.TurnResult, error) {
	f.mu.Lock()
	f.runCalls++
	f.mu.Unlock()

	if f.runFn == nil {
		return &runtime.TurnResult{Content: "ok: " + content}, nil
	}
	return f.runFn(ctx, remoteID, content)
}

func (f *fakeRuntime) calls() (created, ran int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.runCalls
}
