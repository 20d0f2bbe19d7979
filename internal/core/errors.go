// Package core provides shared types and interfaces for the chat relay.
package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType classifies relay errors for HTTP status mapping.
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider failure (5xx).
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates an upstream rate limit (429).
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx).
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401).
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates an unknown provider or model (404).
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// RelayError is the base error type for all relay errors. Validation errors
// surface as plain HTTP JSON responses before any stream opens; once a stream
// is open, errors travel in-band as protocol events instead.
type RelayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	Err        error     `json:"-"`
}

func (e *RelayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status for this error.
func (e *RelayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the wire error envelope.
func (e *RelayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewProviderError creates an upstream provider error.
func NewProviderError(provider string, statusCode int, message string, err error) *RelayError {
	return &RelayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider string, message string) *RelayError {
	return &RelayError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates a client error (400).
func NewInvalidRequestError(message string, err error) *RelayError {
	return &RelayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider string, message string) *RelayError {
	return &RelayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(message string) *RelayError {
	return &RelayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseProviderError parses a non-200 provider response body into a RelayError,
// pulling the human-readable message out of the provider's error envelope when
// one is present.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *RelayError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		err := NewInvalidRequestError(message, originalErr)
		err.StatusCode = statusCode
		err.Provider = provider
		return err
	default:
		return NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
}
