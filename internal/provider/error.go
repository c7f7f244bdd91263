// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the only error type adapters return. Kind carries the
// classification the dispatch layer folds into a failed turn record;
// Cause keeps the transport error reachable for errors.Is/As.
type Error struct {
	Kind    model.FailureKind
	ModelID string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.ModelID != "" {
		msg = e.ModelID + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind, so callers can compare
// against the kind sentinels below without caring about model or cause.
func (e *Error) Is(target error) bool {
	var pe *Error
	if !errors.As(target, &pe) {
		return false
	}
	return e.Kind == pe.Kind
}

// Sentinel errors for easy checking.
var (
	ErrAuthRejected = &Error{Kind: model.FailureAuthRejected, Message: "authentication rejected"}
	ErrRateLimited  = &Error{Kind: model.FailureRateLimited, Message: "rate limited"}
	ErrTimeout      = &Error{Kind: model.FailureTimeout, Message: "request timed out"}
	ErrUnreachable  = &Error{Kind: model.FailureUnreachable, Message: "backend unreachable"}
	ErrModelUnknown = &Error{Kind: model.FailureModelUnknown, Message: "model not found"}
)

// classifyStatus maps an HTTP status code to a failure kind.
func classifyStatus(status int) model.FailureKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
		return model.FailureAuthRejected
	case http.StatusTooManyRequests:
		return model.FailureRateLimited
	case http.StatusNotFound:
		return model.FailureModelUnknown
	default:
		return model.FailureUnknown
	}
}

// classifyTransport maps a transport-level error to a failure kind.
// Context expiry is a timeout; everything else on the wire is
// unreachable.
func classifyTransport(err error) model.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailureTimeout
	}
	return model.FailureUnreachable
}

// wrapTransport builds an *Error from a transport failure.
func wrapTransport(modelID string, err error) *Error {
	return &Error{
		Kind:    classifyTransport(err),
		ModelID: modelID,
		Message: "request failed",
		Cause:   err,
	}
}
