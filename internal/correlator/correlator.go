// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package correlator maps durable sessions to their counterpart
// sessions on the external runtime. The mapping is a routing token
// only, never a source of truth for conversation content.
package correlator

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/runtime"
	"github.com/tether-dev/tether/internal/store"
)

// legacyHandlePattern matches the deprecated placeholder format from
// the era when remote handles were minted locally from a millisecond
// timestamp. Those ids were never valid on the runtime; a stored
// handle in this shape must be treated as absent, never sent.
var legacyHandlePattern = regexp.MustCompile(`^chat-\d{13}$`)

// defaultCreateTimeout bounds the remote-session creation call.
const defaultCreateTimeout = 10 * time.Second

// Correlator resolves, creates, and invalidates remote session
// handles. Creation and persistence are deliberately separate steps
// owned by the caller: the runtime call cannot share a transaction
// with the durable store.
type Correlator struct {
	sessions      store.SessionStore
	client        runtime.Client
	logger        *slog.Logger
	createTimeout time.Duration
}

// Config holds Correlator dependencies.
type Config struct {
	Sessions store.SessionStore
	Client   runtime.Client
	Logger   *slog.Logger
	// CreateTimeout bounds CreateRemote; zero uses a 10s default.
	CreateTimeout time.Duration
}

// New creates a Correlator.
func New(cfg Config) *Correlator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.CreateTimeout
	if timeout == 0 {
		timeout = defaultCreateTimeout
	}

	return &Correlator{
		sessions:      cfg.Sessions,
		client:        cfg.Client,
		logger:        logger,
		createTimeout: timeout,
	}
}

// Resolve returns the stored remote handle for a session. ok is false
// when no usable handle exists; a handle matching the legacy
// placeholder format counts as absent and is logged, never returned.
func (c *Correlator) Resolve(ctx context.Context, sessionID, tenant string) (string, bool, error) {
	session, err := c.sessions.GetSession(ctx, sessionID, tenant)
	if err != nil {
		return "", false, err
	}

	handle := session.RemoteHandle
	if handle == "" {
		return "", false, nil
	}

	if IsLegacyHandle(handle) {
		c.logger.Warn("ignoring legacy placeholder remote handle",
			"session_id", sessionID,
			"handle", handle)
		return "", false, nil
	}

	return handle, true, nil
}

// CreateRemote creates a new session on the external runtime under a
// bounded timeout. Persisting the returned id is the caller's job.
func (c *Correlator) CreateRemote(ctx context.Context, tenant string, init bootstrap.InitState) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.createTimeout)
	defer cancel()

	return c.client.CreateSession(ctx, tenant, init)
}

// Invalidate clears the stored remote handle after the runtime has
// reported it unknown.
func (c *Correlator) Invalidate(ctx context.Context, sessionID, tenant string) error {
	return c.sessions.SetRemoteHandle(ctx, sessionID, tenant, "")
}

// IsLegacyHandle reports whether handle is in the deprecated
// timestamp placeholder format.
func IsLegacyHandle(handle string) bool {
	return legacyHandlePattern.MatchString(handle)
}
