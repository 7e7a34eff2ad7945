package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
)

// Transport errors describe failures to talk to the remote API at all.
// Together they form the TransportError class (see IsTransport).

// ErrRemoteUnreachable indicates the remote endpoint could not be reached or the
// connection failed before a complete response was received.
var ErrRemoteUnreachable = errors.New("remote unreachable")

// ErrRemoteTimeout indicates a call exceeded the connection profile timeout.
var ErrRemoteTimeout = errors.New("remote timeout")

// ErrMalformedResponse indicates the remote answered 200 with a body that could not be parsed.
var ErrMalformedResponse = errors.New("malformed response")

// ErrRemoteRejected indicates the remote API answered a mutating call with a non-200 status.
var ErrRemoteRejected = errors.New("remote rejected request")

// Permanent errors indicate declaration problems that require operator intervention.
// They are raised before any network activity and should NOT be requeued automatically.

// ErrValidation indicates a declared resource or connection profile failed validation.
var ErrValidation = errors.New("validation failed")

// ErrDuplicateResource indicates two declared resources share a name and an identical profile.
var ErrDuplicateResource = errors.New("duplicate resource")

// RemoteRejectedError carries the message extracted from the remote error payload.
type RemoteRejectedError struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("Elasticsearch API responded with: %s", e.Message)
}

func (e *RemoteRejectedError) Unwrap() error {
	return ErrRemoteRejected
}

// ValidationError describes which declared field was rejected and why.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s: %s (got %q)", ErrValidation, e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError returns a ValidationError for field with the given reason.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsTransientConnection checks if a raw error looks like a network-level failure.
// This includes timeouts, connection refused, DNS failures, and similar issues.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRemoteUnreachable) || errors.Is(err, ErrRemoteTimeout) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"context deadline exceeded",
		"timeout",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"connection closed",
		"broken pipe",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsTimeout reports whether a raw error is a deadline or timeout failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WrapRemoteUnreachable wraps an error as ErrRemoteUnreachable.
// If the error is already a transport error, it is returned as-is.
func WrapRemoteUnreachable(err error) error {
	if err == nil {
		return nil
	}
	if IsTransport(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRemoteUnreachable, err)
}

// WrapRemoteTimeout wraps an error as ErrRemoteTimeout.
func WrapRemoteTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRemoteTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRemoteTimeout, err)
}

// WrapMalformedResponse wraps a decode failure as ErrMalformedResponse.
func WrapMalformedResponse(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
}

// WrapDuplicateResource returns an ErrDuplicateResource naming the conflicting declaration.
func WrapDuplicateResource(name, first string) error {
	return fmt.Errorf("%w: repository %q is already declared by %s for the same connection", ErrDuplicateResource, name, first)
}

// IsTransport checks if an error belongs to the TransportError class.
func IsTransport(err error) bool {
	return errors.Is(err, ErrRemoteUnreachable) || errors.Is(err, ErrRemoteTimeout)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDuplicate checks if an error is a duplicate declaration error.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateResource)
}

// IsPermanent checks if an error requires operator intervention.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return IsValidation(err) || IsDuplicate(err)
}

// RejectedMessage returns the remote message carried by a RemoteRejectedError, if any.
func RejectedMessage(err error) (string, bool) {
	var rejected *RemoteRejectedError
	if errors.As(err, &rejected) {
		return rejected.Message, true
	}
	return "", false
}

// ShouldRequeue determines if an error should trigger a requeue.
// Transport failures requeue quickly, remote rejections on the standard interval,
// and permanent errors wait for the declaration to change.
// Returns (shouldRequeue, requeueAfter).
func ShouldRequeue(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	if IsPermanent(err) {
		return false, 0
	}

	if errors.Is(err, ErrRemoteRejected) || errors.Is(err, ErrMalformedResponse) {
		return true, constants.RequeueStandard
	}

	if IsTransport(err) || IsTransientConnection(err) {
		return true, constants.RequeueShort
	}

	// For unknown errors, default to requeue (controller-runtime will handle backoff)
	return true, 0
}
