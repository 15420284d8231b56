package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

type Kind string

const (
	KindAuth       Kind = "AUTH"       // token endpoint answered without a token
	KindNetwork    Kind = "NETWORK"    // connection, timeout or HTTP status failures
	KindStorage    Kind = "STORAGE"    // object store listing or fetch
	KindFilesystem Kind = "FILESYSTEM" // directory creation, write or rename
	KindValidation Kind = "VALIDATION" // bad caller input
)

// Common sentinel errors
var (
	ErrNoAccessToken = New("no access token in response")
	ErrTimeout       = New("operation timed out")
	ErrStatus        = New("unexpected HTTP status")
)

// Error is the single error type surfaced by this module. Details carries raw diagnostic
// payloads such as the body returned by the identity endpoint.
type Error struct {
	Kind       Kind
	Op         string
	Resource   string
	StatusCode int
	Retryable  bool
	Err        error
	Details    map[string]any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Resource != "" {
		msg += " " + e.Resource
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status: %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if raw, ok := e.Details["response"]; ok && e.Kind == KindAuth {
		msg += fmt.Sprintf(" (response: %v)", raw)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthError creates an authentication error carrying the raw identity endpoint response.
func NewAuthError(err error, op string, response string) *Error {
	return &Error{
		Kind:    KindAuth,
		Op:      op,
		Err:     err,
		Details: map[string]any{"response": response},
	}
}

// NewNetworkError creates a network-related error
func NewNetworkError(err error, op, resource string, retryable bool) *Error {
	return &Error{
		Kind:      KindNetwork,
		Op:        op,
		Resource:  resource,
		Retryable: retryable,
		Err:       err,
	}
}

// NewStatusError creates a network error for a non-2xx HTTP reply. 5xx and 429 are
// reported as retryable by the caller.
func NewStatusError(op, resource string, statusCode int, body string) *Error {
	return &Error{
		Kind:       KindNetwork,
		Op:         op,
		Resource:   resource,
		StatusCode: statusCode,
		Retryable:  statusCode == 429 || (statusCode >= 500 && statusCode != 501),
		Err:        ErrStatus,
		Details:    map[string]any{"response": body},
	}
}

func NewStorageError(err error, op, resource string) *Error {
	return &Error{
		Kind:     KindStorage,
		Op:       op,
		Resource: resource,
		Err:      err,
	}
}

func NewFilesystemError(err error, op, resource string) *Error {
	return &Error{
		Kind:     KindFilesystem,
		Op:       op,
		Resource: resource,
		Err:      err,
	}
}

func NewValidationError(op, format string, args ...any) *Error {
	return &Error{
		Kind: KindValidation,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}

// ClassifyNetwork wraps a transport failure. Deadline and net.Error timeouts become retryable
// ErrTimeout errors; cancellation is passed through untouched.
func ClassifyNetwork(err error, op, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError(fmt.Errorf("%w: %w", ErrTimeout, err), op, resource, true)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewNetworkError(fmt.Errorf("%w: %w", ErrTimeout, err), op, resource, true)
	}
	return NewNetworkError(err, op, resource, false)
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsAuth(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

func IsNetwork(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNetwork
}

func IsStorage(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindStorage
}

func IsFilesystem(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindFilesystem
}

func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsRetryable reports whether the caller may reasonably try the operation again.
func IsRetryable(err error) bool {
	var e *Error
	return As(err, &e) && e.Retryable
}

// GetStatusCode extracts the HTTP status code from an error if available
func GetStatusCode(err error) (int, bool) {
	var e *Error
	if As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode, true
	}
	return 0, false
}
