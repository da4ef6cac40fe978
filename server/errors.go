package server

import (
	"fmt"
	"net/http"
)

// OAuth error codes as constants (also defined in root package errors.go)
// These are duplicated to avoid import cycles since root package imports server package
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInvalidTarget           = "invalid_target"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedTokenType    = "unsupported_token_type"
	ErrorCodeServerError             = "server_error"
)

// Error is an OAuth protocol error carrying the wire-level error code and the
// HTTP status the transport layer should respond with.
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates an Error with an explicit code, description and status.
func NewError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates a subject token presented for exchange could
	// not be verified. Provider unreachability is reported the same way: to
	// the protocol client an unverifiable token and an invalid one are
	// identical.
	ErrInvalidToken = func(desc string) *Error {
		return NewError(ErrorCodeInvalidToken, desc, http.StatusBadRequest)
	}

	// ErrInvalidTarget indicates the subject_issuer does not name a recognized provider
	ErrInvalidTarget = func(desc string) *Error {
		return NewError(ErrorCodeInvalidTarget, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedTokenType indicates the subject_token_type is not supported for exchange
	ErrUnsupportedTokenType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedTokenType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal or dependency failure
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
