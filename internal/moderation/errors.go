package moderation

import (
	"errors"
	"fmt"
	"time"
)

// ErrPermissionDenied: the caller's role or level is insufficient. No
// state changed.
var ErrPermissionDenied = errors.New("permission denied")

// ErrNotFound: the command requires an existing record (unban on a user
// who was never banned). No state changed.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed command or unknown feature name.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// RateLimitedError reports a refused admission with a retry hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}
