package apierror

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	data, _ := json.Marshal(response)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}
