package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Standard error codes
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Reconciliation-engine codes
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	CodeAuthExpired       = "AUTH_EXPIRED"
	CodeOverAllocation    = "OVER_ALLOCATION"
	CodeNoOpenFulfillment = "NO_OPEN_FULFILLMENT"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodePartialSync       = "PARTIAL_SYNC"
)

// AppError represents an application error with HTTP status and error code
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap wraps an existing error
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewAppError creates a new AppError
func NewAppError(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return NewAppError(CodeValidationError, message, http.StatusBadRequest)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// ErrConflict creates a conflict error
func ErrConflict(message string) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict)
}

// ErrInternal creates an internal error
func ErrInternal(message string) *AppError {
	if message == "" {
		message = "an internal error occurred"
	}
	return NewAppError(CodeInternalError, message, http.StatusInternalServerError)
}

// ErrBadRequest creates a bad request error
func ErrBadRequest(message string) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest)
}

// ErrInvalidPayload flags a malformed remote payload; retrying without
// fixing the source will not help.
func ErrInvalidPayload(message string) *AppError {
	return NewAppError(CodeInvalidPayload, message, http.StatusUnprocessableEntity)
}

// ErrRemoteUnavailable flags a transport-level failure (network error or
// timeout) talking to the remote system. Retryable.
func ErrRemoteUnavailable(err error) *AppError {
	return NewAppError(CodeRemoteUnavailable, "remote system unavailable", http.StatusBadGateway).Wrap(err)
}

// ErrAuthExpired flags a remote session that could not be re-established
// after one automatic re-login.
func ErrAuthExpired(err error) *AppError {
	return NewAppError(CodeAuthExpired, "remote session expired", http.StatusBadGateway).Wrap(err)
}

// ErrOverAllocation names the offending product and both figures so an
// operator can correct the input and retry.
func ErrOverAllocation(productID int64, requested, available float64) *AppError {
	msg := fmt.Sprintf("prepared quantity %.2f exceeds remaining %.2f for product %d", requested, available, productID)
	return NewAppError(CodeOverAllocation, msg, http.StatusConflict).
		WithDetail("productId", strconv.FormatInt(productID, 10)).
		WithDetail("requested", strconv.FormatFloat(requested, 'f', -1, 64)).
		WithDetail("available", strconv.FormatFloat(available, 'f', -1, 64))
}

// ErrNoOpenFulfillment distinguishes "order not yet confirmed upstream"
// from "no open delivery document at all".
func ErrNoOpenFulfillment(orderState string) *AppError {
	msg := "no open delivery document for this order"
	if orderState == "draft" || orderState == "sent" {
		msg = fmt.Sprintf("no delivery document: the sale order is still %q and must be confirmed first", orderState)
	}
	return NewAppError(CodeNoOpenFulfillment, msg, http.StatusConflict).WithDetail("orderState", orderState)
}

// ErrValidationFailed passes the remote rejection message through verbatim.
func ErrValidationFailed(remoteMessage string, err error) *AppError {
	return NewAppError(CodeValidationFailed, remoteMessage, http.StatusConflict).
		WithDetail("remoteMessage", remoteMessage).
		Wrap(err)
}

// ErrPartialSync reports a batch where some items failed; the batch itself
// completed.
func ErrPartialSync(imported, failed int) *AppError {
	msg := fmt.Sprintf("batch sync finished with %d imported, %d failed", imported, failed)
	return NewAppError(CodePartialSync, msg, http.StatusMultiStatus).
		WithDetail("imported", strconv.Itoa(imported)).
		WithDetail("failed", strconv.Itoa(failed))
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

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// FromError converts a standard error to an AppError
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return ErrInternal("").Wrap(err)
}
