package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidClient = errors.New("moderator client not authenticated")
	ErrMissingAuth   = errors.New("operation requires moderator rights")
	ErrInvalidAction = errors.New("unknown confirm action")
	ErrRateLimited   = errors.New("rate limited by upstream")
	ErrUpstream      = errors.New("upstream request failed")
	ErrTimeout       = errors.New("timeout")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeUpstream   ErrorType = "upstream"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeInternal   ErrorType = "internal"
)

// ModError is a structured error for moderation-pipeline operations
type ModError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "fetch_threads", "classify")
	Fname      string // Forum name where the error occurred
	User       string // User worker if applicable
	Err        error  // Underlying error
	StatusCode int    // HTTP status or platform error code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *ModError) Error() string {
	if e.User != "" {
		return fmt.Sprintf("%s failed for %s/%s: %v", e.Op, e.Fname, e.User, e.Err)
	}
	if e.Fname != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Fname, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ModError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ModError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized, ErrInvalidClient, ErrMissingAuth:
		return e.Type == ErrorTypeAuth
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	case ErrUpstream:
		return e.Type == ErrorTypeUpstream
	}

	return errors.Is(e.Err, target)
}

// NewModError creates a new ModError
func NewModError(errorType ErrorType, op, fname string, err error) *ModError {
	return &ModError{
		Type:      errorType,
		Op:        op,
		Fname:     fname,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithUser adds the owning user worker to the error
func (e *ModError) WithUser(user string) *ModError {
	e.User = user
	return e
}

// WithStatusCode adds an HTTP status or platform error code
func (e *ModError) WithStatusCode(code int) *ModError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeUpstream, ErrorTypeRateLimit, ErrorTypeStorage:
		return true
	case ErrorTypeAuth, ErrorTypeValidation, ErrorTypeNotFound:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrUnauthorized)
		}
		return true
	}
}

// Helper functions

// WrapUpstreamError wraps a forum-API error with context
func WrapUpstreamError(op, fname string, err error) error {
	return NewModError(ErrorTypeUpstream, op, fname, err)
}

// WrapStorageError wraps a database error with context
func WrapStorageError(op string, err error) error {
	return NewModError(ErrorTypeStorage, op, "", err)
}

// WrapAuthError wraps a credential or session error with context
func WrapAuthError(op, user string, err error) error {
	e := NewModError(ErrorTypeAuth, op, "", err)
	e.User = user
	return e
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var modErr *ModError
	if errors.As(err, &modErr) {
		return modErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream)
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var modErr *ModError
	if errors.As(err, &modErr) {
		if modErr.Type == ErrorTypeAuth {
			return true
		}
		if modErr.StatusCode == 401 || modErr.StatusCode == 403 {
			return true
		}
	}

	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidClient) || errors.Is(err, ErrMissingAuth)
}
