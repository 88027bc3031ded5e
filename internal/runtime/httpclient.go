// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// errorCodeSessionNotFound is the runtime's wire code for "I do not
// know this session". It is the trigger for the recovery protocol.
const errorCodeSessionNotFound = "session_not_found"

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// HTTPClient implements Client against the runtime's JSON API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds every call; zero uses a 30s default.
	Timeout time.Duration
}

// NewHTTPClient creates a client targeting the runtime at cfg.BaseURL.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, tetherr.New(tetherr.CodeConfigValidateInvalidValue, "runtime base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type createSessionRequest struct {
	Tenant string            `json:"tenant"`
	Facts  map[string]string `json:"facts,omitempty"`
	Notes  []string          `json:"notes,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type runTurnRequest struct {
	Content string `json:"content"`
}

type runTurnResponse struct {
	Content         string                 `json:"content"`
	ToolInvocations []store.ToolInvocation `json:"tool_invocations,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) CreateSession(ctx context.Context, tenant string, init bootstrap.InitState) (string, error) {
	req := createSessionRequest{
		Tenant: tenant,
		Facts:  init.Facts,
		Notes:  init.Notes,
	}

	var resp createSessionResponse
	if err := c.postJSON(ctx, "/v1/sessions", req, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", tetherr.New(tetherr.CodeRuntimeResponseInvalid, "runtime returned an empty session id",
			tetherr.FieldTenant(tenant))
	}
	return resp.SessionID, nil
}

func (c *HTTPClient) RunTurn(ctx context.Context, remoteID, userContent string) (*TurnResult, error) {
	if remoteID == "" {
		return nil, tetherr.New(tetherr.CodeStoreInvalidInput, "remote session id is required")
	}

	var resp runTurnResponse
	path := fmt.Sprintf("/v1/sessions/%s/turns", remoteID)
	if err := c.postJSON(ctx, path, runTurnRequest{Content: userContent}, &resp); err != nil {
		return nil, err
	}

	return &TurnResult{
		Content:         resp.Content,
		ToolInvocations: resp.ToolInvocations,
	}, nil
}

// postJSON performs a POST and decodes the JSON response into dest,
// mapping transport and protocol failures to the typed taxonomy.
func (c *HTTPClient) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeRuntimeResponseInvalid, "encoding runtime request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeRuntimeUpstreamFailure, "building runtime request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return tetherr.Wrapf(err, tetherr.CodeRuntimeTimeout, "runtime call timed out")
		}
		return tetherr.Wrapf(err, tetherr.CodeRuntimeUpstreamFailure, "runtime unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.mapErrorStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		// Malformed success payloads are transient, never a crash.
		return tetherr.Wrapf(err, tetherr.CodeRuntimeResponseInvalid, "decoding runtime response")
	}
	return nil
}

// mapErrorStatus converts a non-200 runtime response into a typed
// error. A 404 or a session_not_found error payload means the remote
// session vanished; everything else is upstream failure.
func (c *HTTPClient) mapErrorStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error.Code == errorCodeSessionNotFound {
			return tetherr.New(tetherr.CodeRuntimeSessionNotFound, "runtime does not know this session",
				tetherr.Field("runtime_message", payload.Error.Message))
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return tetherr.New(tetherr.CodeRuntimeSessionNotFound, "runtime does not know this session")
	}

	return tetherr.Errorf(tetherr.CodeRuntimeUpstreamFailure, "runtime returned status %d: %s",
		resp.StatusCode, string(raw))
}

// isTimeout reports whether err is a deadline or timeout condition
// rather than a hard transport failure.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
