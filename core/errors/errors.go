// Package errors defines the canonical error taxonomy every processor
// failure is normalised into, and the classification helpers the
// orchestrator retries and falls back on.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a canonical taxonomy code.
type Code string

const (
	CodeTransient            Code = "transient"
	CodeRetriableDecline     Code = "retriable_decline"
	CodeHardDecline          Code = "hard_decline"
	CodeFraud                Code = "fraud"
	CodeDuplicate            Code = "duplicate"
	CodeInvalidRequest       Code = "invalid_request"
	CodeAuthenticationFailed Code = "authentication_failed"
	CodeRateLimited          Code = "rate_limited"
	CodeTimeout              Code = "timeout"
	CodeUnknown              Code = "unknown"
)

// Valid reports whether the code belongs to the closed taxonomy.
func (c Code) Valid() bool {
	switch c {
	case CodeTransient, CodeRetriableDecline, CodeHardDecline, CodeFraud,
		CodeDuplicate, CodeInvalidRequest, CodeAuthenticationFailed,
		CodeRateLimited, CodeTimeout, CodeUnknown:
		return true
	}
	return false
}

// Retriable reports whether the same call may be retried with backoff.
// Unknown errors get one reduced-budget retry; the orchestrator enforces
// the budget.
func (c Code) Retriable() bool {
	switch c {
	case CodeTransient, CodeRateLimited, CodeTimeout, CodeUnknown:
		return true
	}
	return false
}

// Fallback reports whether the next MID in the fallback chain should be
// tried instead of retrying the same one.
func (c Code) Fallback() bool { return c == CodeRetriableDecline }

// Terminal reports whether the transaction is dead on this code.
func (c Code) Terminal() bool {
	switch c {
	case CodeHardDecline, CodeFraud, CodeInvalidRequest:
		return true
	}
	return false
}

// Error is a classified failure crossing an orchestration boundary. Details
// stay internal; callers surface only the code and hint.
type Error struct {
	Code      Code
	Processor string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Processor != "" {
		return fmt.Sprintf("%s: %s: %s", e.Processor, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(code Code, message string) *Error {
	if !code.Valid() {
		code = CodeUnknown
	}
	return &Error{Code: code, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(code Code, cause error, message string) *Error {
	if !code.Valid() {
		code = CodeUnknown
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// Classify extracts the taxonomy code from any error. Non-classified
// errors map to unknown.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Code
	}
	return CodeUnknown
}
