// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package chat

import (
	"context"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// recoverTurn runs the one-shot recovery protocol after the runtime
// reported the stored handle unknown: clear the stale handle, build a
// context digest from durable history, create a fresh remote session
// seeded with it, and retry the turn exactly once. The new handle is
// persisted only after the retried turn succeeds, so a failed
// recovery leaves the session handle-less and the next turn starts
// clean. Never loops.
func (o *Orchestrator) recoverTurn(ctx context.Context, sessionID, tenant, requestID, content string, version int64, init bootstrap.InitState) (*ChatResponse, error) {
	o.logger.Warn("remote session lost, attempting recovery",
		"session_id", sessionID, "tenant", tenant)

	if err := o.correlator.Invalidate(ctx, sessionID, tenant); err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeChatRecoveryFailure,
			"clearing stale remote handle", tetherr.FieldSessionID(sessionID))
	}

	summary := o.digest.Build(o.recentHistory(ctx, sessionID, tenant, version), init)

	seeded := bootstrap.InitState{
		Facts: init.Facts,
		Notes: append(append([]string{}, init.Notes...), summary),
	}
	remoteID, err := o.correlator.CreateRemote(ctx, tenant, seeded)
	if err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeChatRecoveryFailure,
			"recreating remote session", tetherr.FieldSessionID(sessionID))
	}

	result, err := o.runTurn(ctx, remoteID, content)
	if err != nil {
		// One attempt, full stop. The session stays handle-less; the
		// orphaned remote session expires on its own.
		return nil, tetherr.Wrap(err, tetherr.CodeChatRecoveryFailure,
			"retried turn failed on the recreated session",
			tetherr.FieldSessionID(sessionID))
	}

	if err := o.sessions.SetRemoteHandle(ctx, sessionID, tenant, remoteID); err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeChatRecoveryFailure,
			"persisting recovered remote handle", tetherr.FieldSessionID(sessionID))
	}

	o.logger.Info("remote session recovered",
		"session_id", sessionID, "tenant", tenant)

	return o.completeTurn(ctx, sessionID, tenant, requestID, version, result, true)
}

// recentHistory loads the trailing window of durable messages for the
// digest. The version counter equals the number of persisted messages,
// which gives the tail offset without a count query. Failures degrade
// to an empty history; recovery proceeds with bootstrap state alone.
func (o *Orchestrator) recentHistory(ctx context.Context, sessionID, tenant string, version int64) []*store.Message {
	offset := 0
	if version > historyWindow {
		offset = int(version) - historyWindow
	}

	page, err := o.sessions.GetMessages(ctx, sessionID, tenant, historyWindow, offset)
	if err != nil {
		o.logger.Warn("history unavailable for recovery digest",
			"session_id", sessionID, "error", err)
		return nil
	}
	return page.Messages
}
