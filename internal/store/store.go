// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package store defines the durable session store contract: the
// authoritative, persistent record of conversations and their
// optimistic-concurrency version counters.
package store

import "context"

// SessionStore is the durable session store. All failures are typed
// via pkg/errors codes so callers can distinguish VersionMismatch,
// DuplicateKey, NotFound, SessionClosed, and Transient.
type SessionStore interface {
	// CreateSession persists a new session at version 0. Retrying a
	// create with the same ID and tenant is treated as idempotent:
	// the existing row is left untouched and no error is returned.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession loads a session scoped to its tenant.
	GetSession(ctx context.Context, id, tenant string) (*Session, error)

	// AppendMessage atomically checks expectedVersion, inserts the
	// message, and bumps the session version by one. On a stale
	// expectedVersion the write is not applied and the returned
	// error carries the current version. A duplicate idempotency key
	// is rejected distinctly from a version mismatch.
	AppendMessage(ctx context.Context, sessionID, tenant string, msg *Message, expectedVersion int64) (AppendResult, error)

	// GetMessages returns messages in insertion order. limit is
	// clamped to a hard cap; HasMore reflects reality either way.
	GetMessages(ctx context.Context, sessionID, tenant string, limit, offset int) (Page, error)

	// GetMessageByKey looks up a message by its idempotency key,
	// used to replay the stored result of an already-applied turn.
	GetMessageByKey(ctx context.Context, sessionID, tenant, idempotencyKey string) (*Message, error)

	// SetRemoteHandle records (or clears, with "") the remote
	// session identifier. Idempotent; never touches the version.
	SetRemoteHandle(ctx context.Context, sessionID, tenant, remoteID string) error

	// CloseSession marks the session closed. Closed sessions reject
	// further appends.
	CloseSession(ctx context.Context, sessionID, tenant string) error

	Close() error
}
