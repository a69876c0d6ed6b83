package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeUnauthenticated   = "unauthenticated"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeForbidden         = "forbidden"
	ErrCodeNotFound          = "not_found"
	ErrCodePersistenceFailed = "persistence_failed"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeUnsupported       = "unsupported"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrHubStopped      = errors.New("hub stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// BadRequest builds a validation error.
func BadRequest(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg)
}

// Forbidden builds an authorization error.
func Forbidden(msg string) *CoreError {
	return coreError(ErrCodeForbidden, msg)
}

// ErrorCode extracts the wire code of err, or "" when err is not a CoreError.
func ErrorCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
