// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/store"
	"github.com/tether-dev/tether/internal/store/sqlite"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func newTestStore(t *testing.T, name string) *sqlite.SessionStore {
	t.Helper()
	ss, err := sqlite.NewSessionStore(testDBPath(t, name))
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })
	return ss
}

func newTestSession(id, tenant string) *store.Session {
	now := time.Now().Truncate(time.Millisecond)
	return &store.Session{
		ID:             id,
		Tenant:         tenant,
		Status:         store.SessionStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions")

	session := newTestSession("sess-1", "acme")
	require.NoError(t, ss.CreateSession(ctx, session))

	got, err := ss.GetSession(ctx, "sess-1", "acme")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "acme", got.Tenant)
	assert.Equal(t, int64(0), got.Version)
	assert.Empty(t, got.RemoteHandle)
	assert.Equal(t, store.SessionStatusActive, got.Status)
}

func TestSessionStore_CreateIsIdempotentForSameTenant(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions-idem")

	require.NoError(t, ss.CreateSession(ctx, newTestSession("sess-1", "acme")))

	// Retry after an ambiguous failure: same id, same tenant.
	retry := newTestSession("sess-1", "acme")
	require.NoError(t, ss.CreateSession(ctx, retry))

	// A different tenant claiming the same id is rejected.
	err := ss.CreateSession(ctx, newTestSession("sess-1", "other"))
	require.Error(t, err)
	assert.True(t, tetherr.IsInvalidInput(err))
}

func TestSessionStore_GetScopedToTenant(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions-tenant")

	require.NoError(t, ss.CreateSession(ctx, newTestSession("sess-1", "acme")))

	_, err := ss.GetSession(ctx, "sess-1", "other")
	require.Error(t, err)
	assert.True(t, tetherr.IsNotFound(err))
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions-noent")

	_, err := ss.GetSession(ctx, "nonexistent", "acme")
	require.Error(t, err)
	assert.True(t, tetherr.HasCode(err, tetherr.CodeStoreSessionNotFound))
}

func TestSessionStore_SetRemoteHandle(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions-handle")

	require.NoError(t, ss.CreateSession(ctx, newTestSession("sess-1", "acme")))

	require.NoError(t, ss.SetRemoteHandle(ctx, "sess-1", "acme", "rt-abc"))
	got, err := ss.GetSession(ctx, "sess-1", "acme")
	require.NoError(t, err)
	assert.Equal(t, "rt-abc", got.RemoteHandle)
	assert.Equal(t, int64(0), got.Version, "handle write must not bump the version")

	// Idempotent rewrite and clear.
	require.NoError(t, ss.SetRemoteHandle(ctx, "sess-1", "acme", "rt-abc"))
	require.NoError(t, ss.SetRemoteHandle(ctx, "sess-1", "acme", ""))
	got, err = ss.GetSession(ctx, "sess-1", "acme")
	require.NoError(t, err)
	assert.Empty(t, got.RemoteHandle)

	err = ss.SetRemoteHandle(ctx, "missing", "acme", "rt-x")
	assert.True(t, tetherr.IsNotFound(err))
}

func TestSessionStore_RemoteHandleDoesNotTouchVersion(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions-handle-version")

	require.NoError(t, ss.CreateSession(ctx, newTestSession("sess-1", "acme")))

	res, err := ss.AppendMessage(ctx, "sess-1", "acme", &store.Message{
		ID:             "msg-1",
		SessionID:      "sess-1",
		Role:           store.MessageRoleUser,
		Content:        "hello",
		IdempotencyKey: "user:req-1",
		CreatedAt:      time.Now(),
	}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.NewVersion)

	require.NoError(t, ss.SetRemoteHandle(ctx, "sess-1", "acme", "rt-1"))

	got, err := ss.GetSession(ctx, "sess-1", "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "rt-1", got.RemoteHandle)
}

func TestSessionStore_CloseSession(t *testing.T) {
	ctx := context.Background()
	ss := newTestStore(t, "sessions-close")

	require.NoError(t, ss.CreateSession(ctx, newTestSession("sess-1", "acme")))
	require.NoError(t, ss.CloseSession(ctx, "sess-1", "acme"))

	got, err := ss.GetSession(ctx, "sess-1", "acme")
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusClosed, got.Status)
	assert.True(t, got.Closed())

	// Closing twice is fine.
	require.NoError(t, ss.CloseSession(ctx, "sess-1", "acme"))

	// Appends against a closed session are rejected, not merged.
	_, err = ss.AppendMessage(ctx, "sess-1", "acme", &store.Message{
		ID:             "msg-1",
		SessionID:      "sess-1",
		Role:           store.MessageRoleUser,
		Content:        "hello?",
		IdempotencyKey: "user:req-1",
		CreatedAt:      time.Now(),
	}, 0)
	require.Error(t, err)
	assert.True(t, tetherr.IsSessionClosed(err))

	err = ss.CloseSession(ctx, "missing", "acme")
	assert.True(t, tetherr.IsNotFound(err))
}
