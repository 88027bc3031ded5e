// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// maxPageSize is the hard cap on messages returned per query. Callers
// needing more must page; the cap is never silently reported as the
// end of the log.
const maxPageSize = 200

// defaultPageSize applies when the caller passes limit <= 0.
const defaultPageSize = 50

// AppendMessage performs the version check, the insert, and the
// version increment in a single transaction. The caller's context
// governs acquisition; an in-flight transaction is never torn down
// mid-write by cancellation.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID, tenant string, msg *store.Message, expectedVersion int64) (store.AppendResult, error) {
	if msg.IdempotencyKey == "" {
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreInvalidInput, "idempotency key is required",
			tetherr.FieldSessionID(sessionID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "beginning append transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT version, status FROM sessions WHERE id = ? AND tenant = ?`,
		sessionID, tenant,
	).Scan(&version, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreSessionNotFound, "session not found",
			tetherr.FieldSessionID(sessionID), tetherr.FieldTenant(tenant))
	}
	if err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "reading session %s version", sessionID)
	}

	if store.SessionStatus(status) == store.SessionStatusClosed {
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreSessionClosed, "session is closed",
			tetherr.FieldSessionID(sessionID))
	}

	if version != expectedVersion {
		// The write is not applied. Carry the authoritative version so
		// the caller can reload without another round trip.
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreVersionMismatch, "stale session version",
			tetherr.FieldSessionID(sessionID),
			tetherr.Field("expected_version", expectedVersion),
			tetherr.FieldCurrentVersion(version))
	}

	invocations, err := json.Marshal(msg.ToolInvocations)
	if err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreInvalidInput, "marshalling tool invocations")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tool_invocations, idempotency_key, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		sessionID,
		string(msg.Role),
		msg.Content,
		string(invocations),
		msg.IdempotencyKey,
		formatTime(msg.CreatedAt),
	)
	if isUniqueViolation(err) {
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreDuplicateKey, "turn already applied",
			tetherr.FieldSessionID(sessionID),
			tetherr.Field("idempotency_key", msg.IdempotencyKey))
	}
	if err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "inserting message %s", msg.ID)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE sessions SET version = version + 1, last_activity_at = ? WHERE id = ? AND tenant = ? AND version = ?`,
		formatTime(time.Now()),
		sessionID,
		tenant,
		expectedVersion,
	)
	if err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "bumping version for session %s", sessionID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "checking rows affected for session %s", sessionID)
	}
	if rows == 0 {
		// The guarded update is inside the same transaction as the
		// version read, so this cannot fire unless the schema is
		// broken. Fail closed rather than commit a torn write.
		return store.AppendResult{}, tetherr.New(tetherr.CodeStoreVersionMismatch, "version changed mid-transaction",
			tetherr.FieldSessionID(sessionID), tetherr.FieldCurrentVersion(version))
	}

	if err := tx.Commit(); err != nil {
		return store.AppendResult{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "committing append for session %s", sessionID)
	}

	return store.AppendResult{NewVersion: expectedVersion + 1}, nil
}

// GetMessages returns messages in insertion order. The limit is
// clamped to maxPageSize; HasMore is computed by peeking one row past
// the window so a capped page is never reported as complete.
func (s *SessionStore) GetMessages(ctx context.Context, sessionID, tenant string, limit, offset int) (store.Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	// Verify the session exists for this tenant before paging.
	if _, err := s.GetSession(ctx, sessionID, tenant); err != nil {
		return store.Page{}, err
	}

	const q = `SELECT id, session_id, role, content, tool_invocations, idempotency_key, created_at
FROM messages WHERE session_id = ?
ORDER BY rowid ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, limit+1, offset)
	if err != nil {
		return store.Page{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "listing messages for session %s", sessionID)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return store.Page{}, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "iterating messages for session %s", sessionID)
	}

	page := store.Page{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
	}
	return page, nil
}

func (s *SessionStore) GetMessageByKey(ctx context.Context, sessionID, tenant, idempotencyKey string) (*store.Message, error) {
	if _, err := s.GetSession(ctx, sessionID, tenant); err != nil {
		return nil, err
	}

	const q = `SELECT id, session_id, role, content, tool_invocations, idempotency_key, created_at
FROM messages WHERE session_id = ? AND idempotency_key = ?`

	row := s.db.QueryRowContext(ctx, q, sessionID, idempotencyKey)
	msg, err := scanMessage(row)
	if tetherr.HasCode(err, tetherr.CodeStoreMessageNotFound) {
		return nil, tetherr.New(tetherr.CodeStoreMessageNotFound, "no message for idempotency key",
			tetherr.FieldSessionID(sessionID),
			tetherr.Field("idempotency_key", idempotencyKey))
	}
	return msg, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var createdAt, invocationsJSON string

	err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&msg.Role,
		&msg.Content,
		&invocationsJSON,
		&msg.IdempotencyKey,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tetherr.New(tetherr.CodeStoreMessageNotFound, "message not found")
	}
	if err != nil {
		return nil, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "scanning message row")
	}

	msg.CreatedAt = parseTime(createdAt)
	if invocationsJSON != "" && invocationsJSON != "[]" {
		if err := json.Unmarshal([]byte(invocationsJSON), &msg.ToolInvocations); err != nil {
			return nil, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "unmarshalling tool invocations")
		}
	}
	return &msg, nil
}
