package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error with an HTTP status. Handlers and hooks return it to
// answer a request with a specific status. Any other error is a server error.
type Error struct {
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the cause of a server error
func (e *Error) Unwrap() error {
	return e.cause
}

// BadRequest returns a 400 error with a formatted message
func BadRequest(format string, a ...interface{}) *Error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, a...)}
}

// Unauthorized returns a 401 error
func Unauthorized() *Error {
	return &Error{Status: http.StatusUnauthorized, Message: "not authorized"}
}

// NotFound returns a 404 error for the thing that was not found
func NotFound(what string) *Error {
	return &Error{Status: http.StatusNotFound, Message: "no such " + what}
}

// ServerError returns a 500 error. The cause is logged but never sent to the client.
func ServerError(cause error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: "internal server error", cause: cause}
}

// asError returns err as *Error. Errors of other types become server errors.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ServerError(err)
}
