package common

import (
	"errors"
	"net/http"
)

// Error codes shared by the payment endpoints.
const (
	CodeMethodNotAllowed          = "METHOD_NOT_ALLOWED"
	CodeConfigurationMissing      = "CONFIGURATION_MISSING"
	CodeInvalidAmount             = "INVALID_AMOUNT"
	CodeMissingFields             = "MISSING_FIELDS"
	CodeInvalidSignature          = "INVALID_SIGNATURE"
	CodeInvalidRequest            = "INVALID_REQUEST"
	CodeReceiptInProgress         = "RECEIPT_IN_PROGRESS"
	CodeUpstreamMalformedResponse = "UPSTREAM_MALFORMED_RESPONSE"
	CodeUpstreamStatus            = "UPSTREAM_STATUS"
	CodeUpstreamTimeout           = "UPSTREAM_TIMEOUT"
	CodeInternal                  = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError unwraps err into an AppError. Anything else is reported as an
// internal error carrying the original as its cause.
func AsAppError(err error) *AppError {
	var target *AppError
	if errors.As(err, &target) {
		if target.HTTPStatus == 0 {
			target.HTTPStatus = http.StatusInternalServerError
		}
		return target
	}
	return NewAppError(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
