/*
Package core contains the server side of the assessment assistant: the
orchestrator that drives a remote thread/run agent through one exchange,
the emulated streaming emitter and the HTTP handlers that expose both.

This file defines the contract every agent provider satisfies. The
orchestrator only consumes thread and run state through it; the provider
is the single source of truth between turns.
*/
package core

import (
	"context"
	"time"
)

// RunStatus is the provider-reported state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Pending reports whether polling should continue. Only queued and
// in_progress are waited on; every other value is terminal.
func (s RunStatus) Pending() bool {
	return s == RunStatusQueued || s == RunStatusInProgress
}

// Message roles used in threads.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentTypeText is the only content block type a reply can be taken from.
const ContentTypeText = "text"

// Run is one execution of the agent against a thread.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Status    RunStatus `json:"status"`
	LastError string    `json:"lastError,omitempty"` // provider error text for failed runs
}

// ContentBlock is one part of a thread message. Text is only set for
// blocks of type "text".
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ThreadMessage is a message stored in a provider thread.
type ThreadMessage struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	Role      string         `json:"role"`
	RunID     string         `json:"runId,omitempty"` // set on assistant messages produced by a run
	CreatedAt time.Time      `json:"createdAt"`
	Content   []ContentBlock `json:"content"`
}

// Provider is the small API surface of a stateful conversational agent.
type Provider interface {
	// Name identifies the provider in logs and the health check.
	Name() string
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID, content string) error
	StartRun(ctx context.Context, threadID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListMessages returns the thread's messages, newest first.
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// RunReporter is implemented by providers that execute runs in-process and
// can report the ones still in flight.
type RunReporter interface {
	ActiveRuns() []string
}

// RunCanceller is implemented by providers that can stop a run they are
// executing. CancelRun reports false when runID is not in flight.
type RunCanceller interface {
	CancelRun(runID string) bool
}

// ThreadReporter is implemented by providers that hold their threads
// locally and can enumerate them.
type ThreadReporter interface {
	// ThreadIDs returns the known thread ids, oldest first.
	ThreadIDs(ctx context.Context) ([]string, error)
	// ThreadStats reports thread and message counts.
	ThreadStats(ctx context.Context) (map[string]interface{}, error)
}
