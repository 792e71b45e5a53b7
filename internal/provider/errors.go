package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers should use errors.Is.
var (
	ErrInvalidArgument    = errors.New("provider: invalid argument")
	ErrUnsupportedContent = errors.New("provider: unsupported content")
	ErrUnsupportedMessage = errors.New("provider: unsupported message kind")
	ErrEmptyResponse      = errors.New("provider: response contains no choices")
	ErrClientClosed       = errors.New("provider: client is closed")
)

// ConfigurationError reports invalid construction inputs or override keys.
// It is always returned before any network call.
type ConfigurationError struct {
	// Keys lists every offending override key, sorted.
	Keys []string
	Msg  string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("configuration error: %s: %s", e.Msg, strings.Join(e.Keys, ", "))
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CapabilityError reports a requested feature the model does not declare.
type CapabilityError struct {
	Feature string
	Err     error
}

func (e *CapabilityError) Error() string {
	msg := fmt.Sprintf("model does not support %s", e.Feature)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// TransportError reports a non-200 HTTP status or a connection failure.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("API request failed with status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamError reports an in-band error on a streamed response.
type StreamError struct {
	Code    string
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream error: %s: %v", e.Message, e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("stream error (code %s): %s", e.Code, e.Message)
	}
	return "stream error: " + e.Message
}

func (e *StreamError) Unwrap() error { return e.Err }
