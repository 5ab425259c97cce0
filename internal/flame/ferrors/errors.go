// Package ferrors defines Flame's error taxonomy and its RPC-boundary mapping.
package ferrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a FlameError per the propagation policy: NotFound maps to
// not-found, InvalidState to failed-precondition, Network to unavailable,
// everything else to internal.
type Kind string

const (
	KindNotFound      Kind = "NotFound"
	KindInvalidConfig Kind = "InvalidConfig"
	KindInvalidState  Kind = "InvalidState"
	KindInternal      Kind = "Internal"
	KindNetwork       Kind = "Network"
	KindUninitialized Kind = "Uninitialized"
)

// FlameError is the error type returned across Flame's internal APIs.
type FlameError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *FlameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FlameError) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, message string) *FlameError {
	return &FlameError{Kind: kind, Message: message}
}

func NotFound(message string) *FlameError      { return newErr(KindNotFound, message) }
func InvalidConfig(message string) *FlameError { return newErr(KindInvalidConfig, message) }
func InvalidState(message string) *FlameError  { return newErr(KindInvalidState, message) }
func Internal(message string) *FlameError      { return newErr(KindInternal, message) }
func Network(message string) *FlameError       { return newErr(KindNetwork, message) }
func Uninitialized(message string) *FlameError { return newErr(KindUninitialized, message) }

// Wrap attaches context to err, preserving its Kind if it is already a
// FlameError, otherwise classifying it Internal.
func Wrap(err error, message string) *FlameError {
	var fe *FlameError
	if errors.As(err, &fe) {
		return &FlameError{Kind: fe.Kind, Message: message, Err: err}
	}
	return &FlameError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal when err is not a
// FlameError.
func KindOf(err error) Kind {
	var fe *FlameError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind onto the RPC boundary's HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindInvalidConfig:
		return http.StatusBadRequest
	case KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RPCStatus returns the short status token used in RPC error payloads.
func RPCStatus(kind Kind) string {
	switch kind {
	case KindNotFound:
		return "not-found"
	case KindInvalidState:
		return "failed-precondition"
	case KindNetwork:
		return "unavailable"
	default:
		return "internal"
	}
}
