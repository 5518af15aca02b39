package domain

import (
	"errors"
	"fmt"
)

// DomainError is a business error with a stable, machine readable code.
//
// Codes have the form TG-<AREA>-<NNNN>. The last four digits borrow the HTTP
// status the condition would map to, followed by a discriminator.
type DomainError struct {
	Code    string // Error code (e.g., "TG-SESS-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrSessionNotFound indicates the requested session was not found.
	ErrSessionNotFound = NewDomainError("TG-SESS-4040", "session not found")

	// ErrSessionExpired indicates the session has expired.
	ErrSessionExpired = NewDomainError("TG-SESS-4041", "session expired")

	// ErrSessionConflict indicates a token hash already identifies a live session.
	ErrSessionConflict = NewDomainError("TG-SESS-4090", "session conflict")

	// ErrSessionValidation indicates session data validation failed.
	ErrSessionValidation = NewDomainError("TG-SESS-4001", "session validation failed")

	// ErrSessionQuotaExceeded indicates the identity already holds its maximum of sessions.
	ErrSessionQuotaExceeded = NewDomainError("TG-SESS-4002", "identity session quota exceeded")

	// ErrSessionCapacity indicates the store is full.
	ErrSessionCapacity = NewDomainError("TG-SESS-5031", "session store at capacity")
)

// ============================================================================
// Token Errors (TOKN)
// ============================================================================

var (
	// ErrTokenMalformed indicates the token format is invalid.
	ErrTokenMalformed = NewDomainError("TG-TOKN-4000", "malformed token")

	// ErrTokenInvalid indicates the token does not identify any session.
	ErrTokenInvalid = NewDomainError("TG-TOKN-4010", "invalid token")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAuthenticationFailed indicates the credentials were rejected.
	ErrAuthenticationFailed = NewDomainError("TG-AUTH-4010", "authentication failed")

	// ErrNotAuthenticated indicates a command needs an authenticated connection.
	ErrNotAuthenticated = NewDomainError("TG-AUTH-4011", "not authenticated")

	// ErrRateLimited indicates too many login attempts.
	ErrRateLimited = NewDomainError("TG-RATE-4290", "too many requests")
)

// ============================================================================
// Protocol and Connection Errors (PROT, CONN)
// ============================================================================

var (
	// ErrProtocol indicates a malformed or unknown command on the wire.
	ErrProtocol = NewDomainError("TG-PROT-4000", "protocol error")

	// ErrConnectionIO indicates a read or write failure on a client socket.
	ErrConnectionIO = NewDomainError("TG-CONN-5000", "connection io error")

	// ErrConnectionLimit indicates the server refused a connection because it is full.
	ErrConnectionLimit = NewDomainError("TG-CONN-5030", "max connections reached")
)

// ============================================================================
// Server Errors (SRV)
// ============================================================================

var (
	// ErrBind indicates the listener could not bind its address.
	ErrBind = NewDomainError("TG-SRV-5001", "bind failed")

	// ErrAlreadyRunning indicates Start was called on a running server.
	ErrAlreadyRunning = NewDomainError("TG-SRV-4090", "server already running")

	// ErrNotRunning indicates Stop was called on a stopped server.
	ErrNotRunning = NewDomainError("TG-SRV-4091", "server not running")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("TG-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("TG-SYS-5002", "storage error")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("TG-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("TG-ARG-1002", "missing required argument")
)
