// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func (s *SessionStore) CreateSession(ctx context.Context, session *store.Session) error {
	if session.ID == "" || session.Tenant == "" {
		return tetherr.New(tetherr.CodeStoreInvalidInput, "session id and tenant are required")
	}

	const q = `INSERT INTO sessions (id, tenant, version, remote_handle, status, created_at, last_activity_at)
VALUES (?, ?, 0, ?, ?, ?, ?)`

	status := session.Status
	if status == "" {
		status = store.SessionStatusActive
	}

	_, err := s.db.ExecContext(ctx, q,
		session.ID,
		session.Tenant,
		session.RemoteHandle,
		string(status),
		formatTime(session.CreatedAt),
		formatTime(session.LastActivityAt),
	)
	if isUniqueViolation(err) {
		// Retried create after an ambiguous failure: the row already
		// exists. Same tenant means the original create won; treat as
		// success. A different tenant owning the id is a caller bug.
		existing, getErr := s.GetSession(ctx, session.ID, session.Tenant)
		if getErr != nil {
			return tetherr.Wrap(getErr, tetherr.CodeStoreInvalidInput, "session id already owned by another tenant",
				tetherr.FieldSessionID(session.ID))
		}
		session.Version = existing.Version
		session.Status = existing.Status
		return nil
	}
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeStoreTransient, "creating session %s", session.ID)
	}

	session.Version = 0
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id, tenant string) (*store.Session, error) {
	const q = `SELECT id, tenant, version, remote_handle, status, created_at, last_activity_at
FROM sessions WHERE id = ? AND tenant = ?`

	var sess store.Session
	var createdAt, lastActivity string

	err := s.db.QueryRowContext(ctx, q, id, tenant).Scan(
		&sess.ID,
		&sess.Tenant,
		&sess.Version,
		&sess.RemoteHandle,
		&sess.Status,
		&createdAt,
		&lastActivity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(id), tetherr.FieldTenant(tenant))
	}
	if err != nil {
		return nil, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "getting session %s", id)
	}

	sess.CreatedAt = parseTime(createdAt)
	sess.LastActivityAt = parseTime(lastActivity)

	return &sess, nil
}

// SetRemoteHandle writes the remote session identifier (or clears it
// with an empty string). Deliberately a plain column write with no
// version guard: it may race with AppendMessage and must never
// corrupt the version counter.
func (s *SessionStore) SetRemoteHandle(ctx context.Context, sessionID, tenant, remoteID string) error {
	const q = `UPDATE sessions SET remote_handle = ? WHERE id = ? AND tenant = ?`

	result, err := s.db.ExecContext(ctx, q, remoteID, sessionID, tenant)
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeStoreTransient, "setting remote handle for session %s", sessionID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeStoreTransient, "checking rows affected for session %s", sessionID)
	}
	if rows == 0 {
		return tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(sessionID), tetherr.FieldTenant(tenant))
	}
	return nil
}

// CloseSession marks the session closed. Closing an already-closed
// session is a no-op success.
func (s *SessionStore) CloseSession(ctx context.Context, sessionID, tenant string) error {
	const q = `UPDATE sessions SET status = ?, last_activity_at = ? WHERE id = ? AND tenant = ?`

	result, err := s.db.ExecContext(ctx, q,
		string(store.SessionStatusClosed),
		formatTime(time.Now()),
		sessionID,
		tenant,
	)
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeStoreTransient, "closing session %s", sessionID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeStoreTransient, "checking rows affected for session %s", sessionID)
	}
	if rows == 0 {
		return tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(sessionID), tetherr.FieldTenant(tenant))
	}
	return nil
}
