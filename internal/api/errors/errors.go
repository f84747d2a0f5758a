// Package errors defines the uniform error envelope every HTTP endpoint
// returns, and the ErrorCode set those errors carry.
package errors

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/solari-labs/adctl/internal/domain"
)

// ErrorCode names a class of API error, independent of the Go error type
// that produced it.
type ErrorCode string

const (
	CodeValidationError  ErrorCode = "VALIDATION_ERROR"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
	CodeWarehouseUnavailable ErrorCode = "WAREHOUSE_UNAVAILABLE"
	CodeLedgerUnavailable    ErrorCode = "LEDGER_UNAVAILABLE"
)

// APIError is the error half of the envelope every endpoint returns.
type APIError struct {
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse wraps APIError for JSON responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (e *APIError) WithDetails(details interface{}) *APIError {
	e.Details = details
	return e
}

func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

// StatusCode maps an ErrorCode to the HTTP status the endpoint layer uses:
// 400 validation, 404 not found, 409 illegal transition, 429 rate-limited,
// 503 upstream-store unavailable, 500 everything else.
func (e *APIError) StatusCode() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeIllegalTransition:
		return http.StatusConflict
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeWarehouseUnavailable, CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteError writes APIError as the JSON response body.
func WriteError(w http.ResponseWriter, err *APIError) {
	response := ErrorResponse{Error: *err}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	_ = json.NewEncoder(w).Encode(response)
}

// Helper constructors for the common cases every handler reaches for.

func ValidationError(message string) *APIError {
	return NewAPIError(CodeValidationError, message)
}

func NotFoundError(resource string) *APIError {
	return NewAPIError(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func IllegalTransitionError(message string) *APIError {
	return NewAPIError(CodeIllegalTransition, message)
}

func RateLimitError() *APIError {
	return NewAPIError(CodeRateLimitExceeded, "rate limit exceeded, retry later")
}

func InternalError(message string) *APIError {
	return NewAPIError(CodeInternalError, message)
}

func WarehouseUnavailableError() *APIError {
	return NewAPIError(CodeWarehouseUnavailable, "warehouse is currently unavailable")
}

func LedgerUnavailableError() *APIError {
	return NewAPIError(CodeLedgerUnavailable, "change ledger is currently unavailable")
}

// FromDomainError classifies a domain-layer error into the APIError an
// endpoint should return, defaulting to 500 for anything it does not
// recognize. Guardrail rejections reached through ExecuteBatch/ExecuteOne
// are reported inside the per-proposal outcome body, not the request-level
// envelope, so most of them are not mapped here — only the ones that can
// also occur before a proposal is ever looked up (a bad request body, a
// transition requested on a recommendation in the wrong state) are.
func FromDomainError(err error) *APIError {
	if err == nil {
		return nil
	}

	var validation *domain.ValidationFailed
	if goerrors.As(err, &validation) {
		return ValidationError(err.Error())
	}

	var illegal *domain.IllegalTransition
	if goerrors.As(err, &illegal) {
		return IllegalTransitionError(err.Error())
	}

	var warehouseDown *domain.WarehouseUnavailable
	if goerrors.As(err, &warehouseDown) {
		return WarehouseUnavailableError()
	}

	var ledgerDown *domain.LedgerUnavailable
	if goerrors.As(err, &ledgerDown) {
		return LedgerUnavailableError()
	}

	return InternalError(err.Error())
}
