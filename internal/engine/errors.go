package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common fetch errors
var (
	ErrBrowserNotFound = errors.New("chrome browser not found")
	ErrPoolClosed      = errors.New("browser pool is closed")
	ErrTimeout         = errors.New("request timeout")
	ErrNetworkError    = errors.New("network error")
	ErrParseError      = errors.New("failed to parse response")
	ErrUnsupportedType = errors.New("unsupported content type")
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"
	ErrCodeBrowser      ErrorCode = "BROWSER"
	ErrCodeParseError   ErrorCode = "PARSE_ERROR"
	ErrCodeCanceled     ErrorCode = "CANCELED"
)

// EngineError wraps a fetch failure with the URL and a code.
type EngineError struct {
	Code       ErrorCode
	URL        string
	Message    string
	Underlying error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Message, e.URL, e.Underlying)
	}
	return fmt.Sprintf("%s: %s %s", e.Code, e.Message, e.URL)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// Is matches another EngineError by code, otherwise defers to the underlying error.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Underlying, target)
}

// NewEngineError creates a new EngineError
func NewEngineError(code ErrorCode, url, message string, err error) *EngineError {
	return &EngineError{
		Code:       code,
		URL:        url,
		Message:    message,
		Underlying: err,
	}
}

// Classify wraps a transport error from fetching url with the matching code.
func Classify(url string, err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, context.Canceled) {
		return NewEngineError(ErrCodeCanceled, url, "fetch canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewEngineError(ErrCodeTimeout, url, "fetch timed out", errors.Join(ErrTimeout, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewEngineError(ErrCodeTimeout, url, "fetch timed out", errors.Join(ErrTimeout, err))
	}
	return NewEngineError(ErrCodeNetworkError, url, "fetch failed", errors.Join(ErrNetworkError, err))
}
