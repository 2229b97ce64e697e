// Package apierr defines the domain error taxonomy surfaced to clients (see
// spec §7). Every Kind is carried by the shared *Error type; the pending and
// unknown-tool outcomes additionally have their own types with extra fields
// (approval id and retry interval, did-you-mean suggestions). HTTPStatus maps
// a Kind to its status code, and the deny/pending messages carry the
// APPROVAL_PENDING:/APPROVAL_DENIED: prefix the mediator raises.
//
// Maps to: internal/tools/errors.go TransientError/ValidationError split —
// generalized here to the full taxonomy instead of just retryable/not.
package apierr

import (
	"errors"
	"fmt"
)

// Kind identifies one row of the error taxonomy table.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindPolicyDeny          Kind = "policy_deny"
	KindApprovalDenied      Kind = "approval_denied"
	KindApprovalPending     Kind = "approval_pending"
	KindCredentialMissing   Kind = "credential_missing"
	KindToolUnknown         Kind = "tool_unknown"
	KindRuntimeError        Kind = "runtime_error"
	KindIdempotencyConflict Kind = "idempotency_conflict"
)

// Error is the common shape for every taxonomy member.
type Error struct {
	Kind    Kind
	Message string
	// Wrapped is the underlying cause, if any.
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Wrapped }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// Validation is a synchronous 4xx: missing/invalid field, unknown runtime.
func Validation(format string, args ...any) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, args...))
}

// Unauthorized covers missing/invalid bearer tokens and token/context mismatch.
func Unauthorized(format string, args ...any) *Error {
	return newErr(KindUnauthorized, fmt.Sprintf(format, args...))
}

// Forbidden covers workspace ACL rejection of the caller.
func Forbidden(format string, args ...any) *Error {
	return newErr(KindForbidden, fmt.Sprintf(format, args...))
}

// PolicyDeny is raised by the mediator when the policy evaluator returns deny.
// The message carries the "APPROVAL_DENIED:<path>" prefix the runtime harness
// boundary expects (spec §9 design note).
func PolicyDeny(toolPath string) *Error {
	return newErr(KindPolicyDeny, "APPROVAL_DENIED: "+toolPath)
}

// ApprovalDenied is raised when a human reviewer denies the approval.
func ApprovalDenied(approvalID string) *Error {
	return newErr(KindApprovalDenied, "APPROVAL_DENIED: "+approvalID)
}

// errorBase lets the typed errors below embed Error under a field name that
// does not shadow the promoted Error() method.
type errorBase = Error

// ApprovalPending is raised while a call awaits human review. RetryAfterMs is
// the interval the runtime should wait before resubmitting the call.
type ApprovalPendingError struct {
	errorBase
	ApprovalID   string
	RetryAfterMs int64
}

// NewApprovalPending constructs the pending outcome with its retry interval.
func NewApprovalPending(approvalID string, retryAfterMs int64) *ApprovalPendingError {
	return &ApprovalPendingError{
		errorBase:    Error{Kind: KindApprovalPending, Message: "APPROVAL_PENDING: " + approvalID},
		ApprovalID:   approvalID,
		RetryAfterMs: retryAfterMs,
	}
}

// CredentialMissing is raised when no binding and no static secret resolve.
func CredentialMissing(sourceKey string, scope string) *Error {
	return newErr(KindCredentialMissing, fmt.Sprintf("Missing credential for source '%s' (%s scope)", sourceKey, scope))
}

// ToolUnknownError carries did-you-mean suggestions alongside the message.
type ToolUnknownError struct {
	errorBase
	Suggestions []string
}

// NewToolUnknown constructs the unknown-tool outcome with ranked suggestions.
func NewToolUnknown(toolPath string, suggestions []string) *ToolUnknownError {
	msg := fmt.Sprintf("Unknown tool: %s", toolPath)
	if len(suggestions) > 0 {
		msg = fmt.Sprintf("%s (did you mean: %v?)", msg, suggestions)
	}
	return &ToolUnknownError{
		errorBase:   Error{Kind: KindToolUnknown, Message: msg},
		Suggestions: suggestions,
	}
}

// RuntimeError covers worker crashes, network errors, and timeouts.
func RuntimeError(format string, args ...any) *Error {
	return newErr(KindRuntimeError, fmt.Sprintf(format, args...))
}

// IdempotencyConflict is raised re-invoking an already-completed call.
func IdempotencyConflict() *Error {
	return newErr(KindIdempotencyConflict, "already completed; output not retained")
}

// As reports whether err (or something it wraps) is an *Error of kind k.
func As(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	var pe *ApprovalPendingError
	if errors.As(err, &pe) {
		return pe.Kind == k
	}
	var te *ToolUnknownError
	if errors.As(err, &te) {
		return te.Kind == k
	}
	return false
}

// HTTPStatus maps a Kind to the status code documented in spec §6.2/§7.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	default:
		return 500
	}
}
