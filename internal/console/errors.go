package console

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownAssistant    = errors.New("assistant not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionCreateFailed = errors.New("session create failed")
)

// SessionCreateError is returned when the backend cannot issue a session id
// for an INTERNAL assistant. It matches ErrSessionCreateFailed.
type SessionCreateError struct {
	AssistantKey string
	Err          error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create session for %s: %v", e.AssistantKey, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

func (e *SessionCreateError) Is(target error) bool {
	return target == ErrSessionCreateFailed
}
