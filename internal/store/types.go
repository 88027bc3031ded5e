// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package store

import "time"

// --- Session types ---

// SessionStatus represents the lifecycle state of a durable session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusClosed SessionStatus = "closed"
)

// Session is the authoritative record of one conversation. Version is
// the optimistic-concurrency counter: it starts at 0 and increases by
// exactly 1 per successfully persisted message. RemoteHandle is the
// opaque identifier of the counterpart session on the external
// runtime; empty means no remote session exists for this generation.
type Session struct {
	ID             string
	Tenant         string
	Version        int64
	RemoteHandle   string
	Status         SessionStatus
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Closed reports whether the session no longer accepts turns.
func (s *Session) Closed() bool {
	return s.Status == SessionStatusClosed
}

// --- Message types ---

// MessageRole identifies the sender of a message in a session.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ToolInvocation records one structured tool call made by the
// assistant while producing a turn.
type ToolInvocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
}

// Message is a single immutable conversation turn. IdempotencyKey is
// unique within the owning session; it is derived from caller request
// identity, never from a local clock.
type Message struct {
	ID              string
	SessionID       string
	Role            MessageRole
	Content         string
	ToolInvocations []ToolInvocation
	IdempotencyKey  string
	CreatedAt       time.Time
}

// AppendResult reports the session version after a successful append.
type AppendResult struct {
	NewVersion int64
}

// Page is one window of a session's message log. HasMore is honest:
// it is true whenever messages beyond the returned window exist,
// including when the caller's limit was clamped to the hard cap.
type Page struct {
	Messages []*Message
	HasMore  bool
}
