package api

import (
	"errors"
	"fmt"
)

// AuthError is a 401 response: the backend rejected the presented access
// token. The gateway reacts to it with a refresh-and-retry cycle; it reaches
// callers only when that cycle is exhausted.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return fmt.Sprintf("unauthorized: %s", e.Message)
}

// ServerError is any non-2xx, non-401 backend response. Message is extracted
// best-effort from the response body.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
}

// NetworkError is a transport-level failure: the request never produced a
// backend response. It never mutates credential state.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is (or wraps) a 401 from the backend.
func IsUnauthorized(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
