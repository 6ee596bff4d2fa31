package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedModel    = errors.New("unsupported model")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUnsupportedType     = errors.New("unsupported datasource type")
	ErrDimensionMismatch   = errors.New("dimension mismatch")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUploadFailed        = errors.New("upload failed")
	ErrTrainingJobRejected = errors.New("training job rejected")
	ErrNotFound            = errors.New("not found")
	ErrMissingSource       = errors.New("exactly one of url or content must be set")
	ErrForbiddenSource     = errors.New("source location not allowed")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ConfigurationError is raised when a provider, model or index cannot be
// constructed from configuration. It is never retried.
type ConfigurationError struct {
	Key    string
	Kind   error
	Detail string
}

func (e *ConfigurationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("configuration error: %v %q: %s", e.Kind, e.Key, e.Detail)
	}
	return fmt.Sprintf("configuration error: %v %q", e.Kind, e.Key)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Kind
}

// UpstreamError wraps a failed call to a remote provider.
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError builds an UpstreamError whose chain contains kind and,
// when present, the underlying cause.
func NewUpstreamError(provider, op string, status int, kind error, cause error) *UpstreamError {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &UpstreamError{Provider: provider, Op: op, StatusCode: status, Err: err}
}

// ValidationError describes a dataset line that was discarded.
type ValidationError struct {
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
