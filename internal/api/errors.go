package api

import (
	"errors"
	"net/http"

	"github.com/cankoe/rcon-event-scheduler/internal/generator"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
)

const (
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeDatabaseError    = "database_error"
	ErrCodeValidationFailed = "validation_failed"
)

type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ApiError) Error() string {
	return e.Message
}

func mapErrorToStatusCode(err error) (int, *ApiError) {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidRequest:
			return http.StatusBadRequest, apiErr
		case ErrCodeNotFound:
			return http.StatusNotFound, apiErr
		case ErrCodeConflict:
			return http.StatusConflict, apiErr
		case ErrCodeValidationFailed:
			return http.StatusUnprocessableEntity, apiErr
		case ErrCodeDatabaseError:
			return http.StatusInternalServerError, apiErr
		}
	}

	switch {
	case errors.Is(err, generator.ErrInvalidEvent):
		return http.StatusUnprocessableEntity, &ApiError{Code: ErrCodeValidationFailed, Message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, &ApiError{Code: ErrCodeNotFound, Message: "Resource not found"}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, &ApiError{Code: ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, &ApiError{Code: ErrCodeDatabaseError, Message: "Database unavailable"}
	}

	// Default unknown error
	return http.StatusInternalServerError, &ApiError{
		Code:    "internal_error",
		Message: "An unexpected error occurred",
	}
}
