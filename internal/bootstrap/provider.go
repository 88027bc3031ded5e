// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package bootstrap defines the context-loading boundary: the domain
// data folded into remote session creation and into context digests.
// The queries behind it belong to the host application; Tether only
// consumes the result.
package bootstrap

import "context"

// InitState is arbitrary domain data for seeding a remote session.
type InitState struct {
	// Facts are stable key/value assertions about the tenant.
	Facts map[string]string
	// Notes are free-form context lines.
	Notes []string
}

// Provider loads initialization state for a tenant. Implementations
// must be side-effect-free reads, safe to call more than once per
// request.
type Provider interface {
	LoadInitState(ctx context.Context, tenant string) (InitState, error)
}

// StaticProvider serves a fixed InitState from configuration. It lets
// the engine run standalone; real deployments inject their own
// Provider.
type StaticProvider struct {
	Facts map[string]string
	Notes []string
}

var _ Provider = (*StaticProvider)(nil)

func (p *StaticProvider) LoadInitState(_ context.Context, _ string) (InitState, error) {
	return InitState{Facts: p.Facts, Notes: p.Notes}, nil
}
