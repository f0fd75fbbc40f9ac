// Package errors provides the application error type and the governance
// error taxonomy shared by every component.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// Error codes.
const (
	// Governance taxonomy.
	CodeInvalidInput        = "INVALID_INPUT"
	CodeDuplicateSpan       = "DUPLICATE_SPAN"
	CodeDuplicateRecord     = "DUPLICATE_RECORD"
	CodeUnknownSpan         = "UNKNOWN_SPAN"
	CodeMissingAuxiliary    = "MISSING_AUXILIARY_DATA"
	CodeNoData              = "NO_DATA"
	CodeFallbackUnavailable = "FALLBACK_UNAVAILABLE"

	// Client errors (4xx).
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeRateLimited = "RATE_LIMITED"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput, CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound, CodeUnknownSpan:
		return http.StatusNotFound
	case CodeDuplicateSpan, CodeDuplicateRecord:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable, CodeFallbackUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// InvalidInputError creates an error for a request the scorer cannot accept.
func InvalidInputError(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// DuplicateSpanError reports a second Start for an in-flight request id.
func DuplicateSpanError(requestID string) *AppError {
	return New(CodeDuplicateSpan, "span already started").WithDetail("request_id", requestID)
}

// DuplicateRecordError reports a second record for the same request id.
func DuplicateRecordError(requestID string) *AppError {
	return New(CodeDuplicateRecord, "record already exists").WithDetail("request_id", requestID)
}

// UnknownSpanError reports an End for a request id with no span.
func UnknownSpanError(requestID string) *AppError {
	return New(CodeUnknownSpan, "no span for request").WithDetail("request_id", requestID)
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsInvalidInput checks if error is an invalid input error.
func IsInvalidInput(err error) bool {
	return IsCode(err, CodeInvalidInput)
}

// IsDuplicate checks for either idempotency violation.
func IsDuplicate(err error) bool {
	code := CodeOf(err)
	return code == CodeDuplicateSpan || code == CodeDuplicateRecord
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	code := CodeOf(err)
	return code == CodeNotFound || code == CodeUnknownSpan
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// If err is an *AppError, it uses the code and status from the error.
// For other errors, it sanitizes the message to prevent leaking internal details.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}

// WriteErrorWithStatus writes an error with a specific HTTP status code.
// 4xx messages are shown to the client, 5xx messages are sanitized.
func WriteErrorWithStatus(w http.ResponseWriter, status int, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		WriteJSON(w, status, ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	if status >= 400 && status < 500 {
		WriteJSON(w, status, ErrorResponse{
			Error:   err.Error(),
			Code:    codeForStatus(status),
			Message: err.Error(),
		})
		return
	}

	WriteJSON(w, status, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}

// codeForStatus returns an error code for common HTTP status codes.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	case http.StatusGatewayTimeout:
		return CodeTimeout
	default:
		return CodeInternal
	}
}
