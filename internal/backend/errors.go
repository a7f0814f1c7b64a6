package backend

import (
	"errors"
	"fmt"
)

// Response codes the API uses to signal session state.
const (
	CodeSessionInvalid      = "SESSION_INVALID"
	CodeActiveSessionExists = "ACTIVE_SESSION_EXISTS"
)

var (
	// ErrSessionInvalid matches API errors telling the caller to drop its session.
	ErrSessionInvalid = errors.New("backend: session invalid")
	// ErrActiveSession matches login rejections caused by a session elsewhere.
	ErrActiveSession = errors.New("backend: active session exists")
	// ErrRejected matches every error response from the API.
	ErrRejected = errors.New("backend: request rejected")
	// ErrMalformed reports a response that could not be understood.
	ErrMalformed = errors.New("backend: malformed response")
)

// APIError is an error response returned by the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("backend: %d %s", e.Status, e.Code)
	case e.Message != "":
		return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend: status %d", e.Status)
}

// Is maps response codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrSessionInvalid:
		return e.Code == CodeSessionInvalid
	case ErrActiveSession:
		return e.Code == CodeActiveSessionExists
	}
	return false
}
