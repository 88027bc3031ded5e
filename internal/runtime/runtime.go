// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package runtime is the client boundary to the external
// conversational runtime: the volatile, stateful remote service that
// executes agent turns. Its sessions can disappear without notice;
// callers must treat every remote identifier as disposable.
package runtime

import (
	"context"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/store"
)

// TurnResult is the structured response to one executed turn.
type TurnResult struct {
	Content         string
	ToolInvocations []store.ToolInvocation
}

// Client talks to the external conversational runtime. Both calls are
// network operations; timeout and retry semantics are owned by the
// caller, not the runtime.
type Client interface {
	// CreateSession creates a remote session and returns its
	// identifier. The caller is responsible for persisting it.
	CreateSession(ctx context.Context, tenant string, init bootstrap.InitState) (string, error)

	// RunTurn executes one user turn against an existing remote
	// session. A remote id the runtime no longer knows yields a
	// typed runtime.session.not_found error.
	RunTurn(ctx context.Context, remoteID, userContent string) (*TurnResult, error)
}
