// Package errors classifies failures of outbound calls (model endpoint,
// search provider, broker) as retryable or not.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks a failure worth retrying: throttling, a 5xx, a reset
// connection or an empty completion.
type TransientError struct {
	Err        error
	StatusCode int
	Message    string
}

// NewTransientError marks err as retry-able.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that repeats on every attempt, such as bad
// credentials or an undecodable response.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

// NewPermanentError marks err as non-retry-able.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// FromHTTPStatus turns a non-2xx response into a classified error carrying
// the status and the (trimmed) body.
func FromHTTPStatus(status int, body string) error {
	base := fmt.Errorf("status %d: %s", status, strings.TrimSpace(body))
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Err: base, StatusCode: status}
	}
	return &PermanentError{Err: base, StatusCode: status}
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
	syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH,
}

// transientText matches transport failures that reach us only as text, e.g.
// through a client library that flattens the cause.
var transientText = []string{"connection refused", "connection reset", "broken pipe", "i/o timeout", "deadline exceeded"}

// IsTransient reports whether err is worth another attempt. Explicit
// classification wins; cancellation never retries; unclassified errors are
// retried only when they look like transport failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientText {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
