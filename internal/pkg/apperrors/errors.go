package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrAuthFailed       ErrorType = "AUTH_FAILED"
	ErrInvalidSignature ErrorType = "INVALID_HMAC_SIGNATURE"
	ErrInvalidRequest   ErrorType = "INVALID_REQUEST"
	ErrForbidden        ErrorType = "FORBIDDEN"
	ErrNotFound         ErrorType = "NOT_FOUND"
	ErrRateLimited      ErrorType = "RATE_LIMITED"
	ErrReadOnly         ErrorType = "READ_ONLY"
	ErrUpstream         ErrorType = "UPSTREAM_ERROR"
	ErrAuditDisabled    ErrorType = "AUDIT_DISABLED"
	ErrInternal         ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewAuthFailed(msg string) *AppError {
	return New(ErrAuthFailed, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed, ErrInvalidSignature:
		return http.StatusUnauthorized
	case ErrForbidden, ErrReadOnly:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrAuditDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrAuthFailed:
		return "Check the API key or bearer token."
	case ErrInvalidSignature:
		return "Check the request signature, timestamp and shared secret."
	case ErrRateLimited:
		return "Slow down and retry after the indicated interval."
	case ErrUpstream:
		return "The upstream edge function is unavailable, retry later."
	case ErrReadOnly:
		return "The gateway is in read-only mode."
	default:
		return ""
	}
}
