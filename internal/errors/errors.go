package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken  ErrorCode = "INVALID_TOKEN"
	ErrCodeNotAuthorized ErrorCode = "NOT_AUTHORIZED"

	// Session membership
	ErrCodeSessionFull     ErrorCode = "SESSION_FULL"
	ErrCodeNotAMember      ErrorCode = "NOT_A_MEMBER"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeAlreadyClosed   ErrorCode = "ALREADY_CLOSED"

	// Validation
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Billing
	ErrCodeDebitFailed         ErrorCode = "DEBIT_FAILED"
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

// NotAuthorized is returned for operations reserved to the operator role,
// e.g. a pause toggle attempted by the counterpart.
func NotAuthorized(message string) *AppError {
	return New(ErrCodeNotAuthorized, message)
}

func SessionFull(sessionID string) *AppError {
	return New(ErrCodeSessionFull, "Both participant slots are taken").
		WithDetails(map[string]string{"sessionId": sessionID})
}

func NotAMember(sessionID, participantID string) *AppError {
	return New(ErrCodeNotAMember, "Participant is not a member of this session").
		WithDetails(map[string]string{"sessionId": sessionID, "participantId": participantID})
}

func SessionNotFound(sessionID string) *AppError {
	return New(ErrCodeSessionNotFound, "Session not found").
		WithDetails(map[string]string{"sessionId": sessionID})
}

// AlreadyClosed marks late operations on a closed session. Callers treat it
// as a no-op, not a failure, so retries and duplicate leaves stay harmless.
func AlreadyClosed(sessionID string) *AppError {
	return New(ErrCodeAlreadyClosed, "Session is already closed").
		WithDetails(map[string]string{"sessionId": sessionID})
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func DebitFailed(cause error) *AppError {
	return Wrap(ErrCodeDebitFailed, "Ledger debit failed", cause)
}

func InsufficientBalance(accountID string) *AppError {
	return New(ErrCodeInsufficientBalance, "Insufficient balance").
		WithDetails(map[string]string{"accountId": accountID})
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
