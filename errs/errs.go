// Package errs defines the two error kinds used throughout the bot:
// usage errors, which describe the chat user's situation and are surfaced
// verbatim as replies, and internal errors, which describe integration or
// upstream failures and carry diagnostic detail for logs only.
package errs

import "fmt"

// UsageError means the invoking user did something wrong or is in a state
// that blocks the action (banned, on cooldown, bad link). The Reason is
// written for chat and is always safe to show.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return e.Reason }

// Usagef builds a UsageError from a format string.
func Usagef(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// InternalError means the bot or an upstream dependency misbehaved.
// Reason is a short user-safe summary; Details holds the full diagnostic
// (typically HTTP status + response body) and must never reach chat.
type InternalError struct {
	Reason  string
	Details string
}

func (e *InternalError) Error() string { return e.Reason }

// Internal builds an InternalError with separate summary and diagnostics.
func Internal(reason, details string) error {
	return &InternalError{Reason: reason, Details: details}
}

// Internalf builds an InternalError whose details are formatted; the
// reason stays generic so it can double as the user-facing summary.
func Internalf(reason, format string, args ...any) error {
	return &InternalError{Reason: reason, Details: fmt.Sprintf(format, args...)}
}
