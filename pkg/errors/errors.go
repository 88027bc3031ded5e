// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package errors defines the typed error taxonomy shared by every
// Tether subsystem. Codes are dot-separated paths whose final segment
// classifies the failure (not_found, version_mismatch, ...) so callers
// can branch on the kind without enumerating every code.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreVersionMismatch Code = "store.append.version_mismatch"
	CodeStoreDuplicateKey    Code = "store.append.duplicate_key"
	CodeStoreSessionNotFound Code = "store.session.not_found"
	CodeStoreSessionClosed   Code = "store.session.closed"
	CodeStoreMessageNotFound Code = "store.message.not_found"
	CodeStoreInvalidInput    Code = "store.invalid_input"
	CodeStoreTransient       Code = "store.transient"

	CodeRuntimeSessionNotFound Code = "runtime.session.not_found"
	CodeRuntimeTimeout         Code = "runtime.call.timeout"
	CodeRuntimeUpstreamFailure Code = "runtime.upstream.failure"
	CodeRuntimeResponseInvalid Code = "runtime.response.invalid"

	CodeChatInvalidInput      Code = "chat.request.invalid_input"
	CodeChatDuplicateInFlight Code = "chat.request.duplicate_in_flight"
	CodeChatConflict          Code = "chat.append.conflict"
	CodeChatTurnFatal         Code = "chat.turn.fatal"
	CodeChatRecoveryFailure   Code = "chat.recovery.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldTenant(value string) Attr {
	return Field("tenant", value)
}

func FieldRequestID(value string) Attr {
	return Field("request_id", value)
}

// FieldCurrentVersion carries the authoritative session version on a
// version-mismatch rejection so the caller can reload without a
// second round trip.
func FieldCurrentVersion(value int64) Attr {
	return Field("current_version", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// FieldsOf returns the structured context attached to an error chain.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

// CurrentVersionOf extracts the authoritative version carried by a
// version-mismatch error. Returns -1 when the field is absent.
func CurrentVersionOf(err error) int64 {
	fields := FieldsOf(err)
	if fields == nil {
		return -1
	}
	if v, ok := fields["current_version"].(int64); ok {
		return v
	}
	return -1
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsVersionMismatch(err error) bool {
	return reason(CodeOf(err)) == "version_mismatch"
}

func IsDuplicateKey(err error) bool {
	return reason(CodeOf(err)) == "duplicate_key"
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

// IsRemoteNotFound reports whether the external runtime no longer
// knows the session referenced by the call.
func IsRemoteNotFound(err error) bool {
	return HasCode(err, CodeRuntimeSessionNotFound)
}

func IsSessionClosed(err error) bool {
	return reason(CodeOf(err)) == "closed"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsRetryable reports whether the caller may safely retry the same
// request: transient store failures, runtime timeouts/upstream
// failures, and lost append races all qualify. Duplicate-key and
// fatal errors do not.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreTransient, CodeRuntimeTimeout, CodeRuntimeUpstreamFailure,
		CodeRuntimeResponseInvalid, CodeChatConflict, CodeChatRecoveryFailure:
		return true
	}
	return false
}

// IsFatal reports a broken invariant (e.g. an assistant append losing
// a version race under single-writer discipline).
func IsFatal(err error) bool {
	return HasCode(err, CodeChatTurnFatal)
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// HTTPStatus maps an error chain to the HTTP status the server surface
// should return.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsDuplicateKey(err), HasCode(err, CodeChatDuplicateInFlight):
		return http.StatusConflict
	case IsVersionMismatch(err), HasCode(err, CodeChatConflict):
		return http.StatusConflict
	case IsSessionClosed(err):
		return http.StatusGone
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case HasCode(err, CodeRuntimeUpstreamFailure), HasCode(err, CodeRuntimeResponseInvalid),
		HasCode(err, CodeChatRecoveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
