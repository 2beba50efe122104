package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Turn failure kinds. Every fatal condition of a turn wraps exactly one of
// these so handlers can classify it with errors.Is.
var (
	ErrConfiguration          = errors.New("assistant is not configured")
	ErrValidation             = errors.New("invalid message")
	ErrThreadCreationFailed   = errors.New("failed to create conversation thread")
	ErrMessageAppendFailed    = errors.New("failed to add message to thread")
	ErrRunStartFailed         = errors.New("failed to start assistant run")
	ErrRunPollFailed          = errors.New("failed to check assistant run status")
	ErrRunTimeout             = errors.New("assistant run timed out")
	ErrRunFailed              = errors.New("assistant run failed")
	ErrUnexpectedRunStatus    = errors.New("assistant run ended with unexpected status")
	ErrNoAssistantReply       = errors.New("no assistant reply found")
	ErrUnsupportedContentType = errors.New("assistant reply has unsupported content type")
	ErrReplyListFailed        = errors.New("failed to read assistant reply")
)

// StatusCode maps a turn error to the HTTP status of a non-streaming reply.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrThreadCreationFailed),
		errors.Is(err, ErrMessageAppendFailed),
		errors.Is(err, ErrRunStartFailed),
		errors.Is(err, ErrRunPollFailed),
		errors.Is(err, ErrReplyListFailed),
		errors.Is(err, ErrRunFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicKinds lists the kinds whose text is safe to show to users, in
// match order.
var publicKinds = []error{
	ErrConfiguration,
	ErrThreadCreationFailed,
	ErrMessageAppendFailed,
	ErrRunStartFailed,
	ErrRunPollFailed,
	ErrRunTimeout,
	ErrUnexpectedRunStatus,
	ErrNoAssistantReply,
	ErrUnsupportedContentType,
	ErrReplyListFailed,
}

// PublicMessage collapses a turn error into the single string shown to the
// user. Validation messages and the provider's text for failed runs are
// passed through; wrapped transport errors are not.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrRunFailed) {
		return capitalize(err.Error())
	}
	for _, kind := range publicKinds {
		if errors.Is(err, kind) {
			return capitalize(kind.Error())
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return capitalize(ErrRunTimeout.Error())
	}
	return "Failed to process your message"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// TurnError is returned by Orchestrator.Turn. It carries the thread id that
// was resolved before the failure, if any, so a streamed error frame can
// still point the client at its conversation.
type TurnError struct {
	ThreadID string
	Err      error
}

func (e *TurnError) Error() string { return e.Err.Error() }
func (e *TurnError) Unwrap() error { return e.Err }

// ThreadIDOf returns the thread id attached to a turn error, or "".
func ThreadIDOf(err error) string {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr.ThreadID
	}
	return ""
}
