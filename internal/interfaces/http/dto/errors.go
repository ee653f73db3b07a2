package dto

import (
	"errors"
	"net/http"

	"github.com/collab/admin/internal/domain/shared"
	"go.uber.org/multierr"
)

// KindHTTPStatus maps failure kinds to HTTP status codes
var KindHTTPStatus = map[shared.FailureKind]int{
	shared.KindInvalidCredentials:   http.StatusUnauthorized,
	shared.KindInvalidData:          http.StatusBadRequest,
	shared.KindNoSuchEntity:         http.StatusNotFound,
	shared.KindEntityExists:         http.StatusConflict,
	shared.KindStorageFailure:       http.StatusInternalServerError,
	shared.KindDatabaseNeedsUpgrade: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for a failure kind.
// Unknown kinds are treated as storage faults.
func GetHTTPStatus(kind shared.FailureKind) int {
	if status, ok := KindHTTPStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of every failed request. Kind is the stable tag
// clients switch on; Message is human readable.
type ErrorResponse struct {
	Kind      shared.FailureKind `json:"kind"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	// Failures lists the individual errors of a batch operation
	Failures []string `json:"failures,omitempty"`
}

// NewErrorResponse renders an error for the wire. Errors that are not
// failures are reported as storage faults without leaking their text.
func NewErrorResponse(err error, requestID string) (int, ErrorResponse) {
	resp := ErrorResponse{
		Kind:      shared.KindStorageFailure,
		Message:   "internal error",
		RequestID: requestID,
	}

	var f *shared.Failure
	if !errors.As(err, &f) {
		return http.StatusInternalServerError, resp
	}

	resp.Kind = f.Kind
	if f.Message != "" {
		resp.Message = f.Message
	}
	if f.Cause != nil {
		if errs := multierr.Errors(f.Cause); len(errs) > 1 {
			resp.Failures = make([]string, len(errs))
			for i, e := range errs {
				resp.Failures[i] = e.Error()
			}
		}
	}
	return GetHTTPStatus(resp.Kind), resp
}

// NewInvalidDataResponse renders a request that could not be bound
func NewInvalidDataResponse(message, requestID string) ErrorResponse {
	return ErrorResponse{
		Kind:      shared.KindInvalidData,
		Message:   message,
		RequestID: requestID,
	}
}
