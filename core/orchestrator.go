/*
Package core contains the server side of the assessment assistant.

This file implements the Orchestrator, which drives one exchange against a
thread/run provider: it creates or reuses a thread, posts the user message,
starts a run, polls it to a terminal status and extracts the reply.
*/
package core

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "assessbot/core"

// Defaults used when the orchestrator is built without options.
const (
	DefaultPollInterval     = time.Second
	DefaultMaxPollAttempts  = 30
	DefaultMaxMessageLength = 10000
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TurnRequest is one user message addressed to a conversation.
type TurnRequest struct {
	Message  string
	ThreadID string // empty to start a new conversation
}

// TurnResult is the assistant's reply to one turn.
type TurnResult struct {
	Reply    string
	ThreadID string
	RunID    string
}

// Orchestrator drives one exchange with the provider: resolve the thread,
// append the message, start a run, poll until it settles and extract the
// reply. It keeps no state between turns.
type Orchestrator struct {
	provider        Provider
	logger          *logrus.Logger
	pollInterval    time.Duration
	maxPollAttempts int
	sleep           SleepFunc
	tracer          trace.Tracer
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets the delay between run status checks.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithMaxPollAttempts bounds the number of run status checks per turn.
func WithMaxPollAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxPollAttempts = n }
}

// WithSleep replaces the wall-clock sleep, mostly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// NewOrchestrator creates an orchestrator over provider.
func NewOrchestrator(provider Provider, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:        provider,
		logger:          logger,
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
		sleep:           Sleep,
		tracer:          otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidateMessage trims message and rejects it when empty or longer than
// maxLength characters. It never touches the provider.
func ValidateMessage(message string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", fmt.Errorf("%w: message is required", ErrValidation)
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	if utf8.RuneCountInString(message) > maxLength {
		return "", fmt.Errorf("%w: message is too long (maximum %d characters)", ErrValidation, maxLength)
	}
	return trimmed, nil
}

// Turn runs one exchange. The message is expected to be validated already.
// Every failure is returned as a *TurnError wrapping one of the Err* kinds.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := o.tracer.Start(ctx, "assistant.turn", trace.WithAttributes(
		attribute.String("assistant.provider", o.provider.Name()),
		attribute.Bool("assistant.new_thread", req.ThreadID == ""),
	))
	defer span.End()

	turnLogger := o.logger.WithField("provider", o.provider.Name())
	startTime := time.Now()

	result, err := o.turn(ctx, req, turnLogger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		turnLogger.WithError(err).WithFields(logrus.Fields{
			"threadId":      ThreadIDOf(err),
			"executionTime": time.Since(startTime),
		}).Error("Assistant turn failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("assistant.thread_id", result.ThreadID),
		attribute.String("assistant.run_id", result.RunID),
	)
	turnLogger.WithFields(logrus.Fields{
		"threadId":       result.ThreadID,
		"runId":          result.RunID,
		"executionTime":  time.Since(startTime),
		"responseLength": len(result.Reply),
	}).Info("Assistant turn completed")

	return result, nil
}

func (o *Orchestrator) turn(ctx context.Context, req TurnRequest, turnLogger *logrus.Entry) (*TurnResult, error) {
	threadID := req.ThreadID
	if threadID == "" {
		err := o.traced(ctx, "assistant.create_thread", func(ctx context.Context) error {
			id, err := o.provider.CreateThread(ctx)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrThreadCreationFailed, err)
			}
			threadID = id
			return nil
		})
		if err != nil {
			return nil, &TurnError{Err: err}
		}
		turnLogger.WithField("threadId", threadID).Info("Created conversation thread")
	}

	turnLogger = turnLogger.WithField("threadId", threadID)
	fail := func(err error) (*TurnResult, error) {
		return nil, &TurnError{ThreadID: threadID, Err: err}
	}

	err := o.traced(ctx, "assistant.append_message", func(ctx context.Context) error {
		if err := o.provider.AppendMessage(ctx, threadID, req.Message); err != nil {
			return fmt.Errorf("%w: %w", ErrMessageAppendFailed, err)
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	var run *Run
	err = o.traced(ctx, "assistant.start_run", func(ctx context.Context) error {
		started, err := o.provider.StartRun(ctx, threadID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRunStartFailed, err)
		}
		run = started
		return nil
	})
	if err != nil {
		return fail(err)
	}
	turnLogger = turnLogger.WithField("runId", run.ID)
	turnLogger.WithField("status", run.Status).Debug("Run started")

	err = o.traced(ctx, "assistant.await_run", func(ctx context.Context) error {
		settled, err := o.awaitRun(ctx, threadID, run, turnLogger)
		if err != nil {
			return err
		}
		run = settled
		return checkRunOutcome(run)
	})
	if err != nil {
		return fail(err)
	}

	var reply string
	err = o.traced(ctx, "assistant.extract_reply", func(ctx context.Context) error {
		messages, err := o.provider.ListMessages(ctx, threadID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReplyListFailed, err)
		}
		reply, err = ExtractReply(messages, run.ID)
		return err
	})
	if err != nil {
		return fail(err)
	}

	return &TurnResult{Reply: reply, ThreadID: threadID, RunID: run.ID}, nil
}

// awaitRun polls until the run leaves the pending statuses or the attempt
// budget is spent. No provider call is made after the budget runs out.
func (o *Orchestrator) awaitRun(ctx context.Context, threadID string, run *Run, turnLogger *logrus.Entry) (*Run, error) {
	attempts := 0
	for run.Status.Pending() {
		if attempts >= o.maxPollAttempts {
			return nil, fmt.Errorf("%w after %d status checks", ErrRunTimeout, attempts)
		}
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return nil, err
		}

		next, err := o.provider.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRunPollFailed, err)
		}
		attempts++
		run = next

		turnLogger.WithFields(logrus.Fields{
			"attempt": attempts,
			"status":  run.Status,
		}).Debug("Polled run status")
	}
	return run, nil
}

func checkRunOutcome(run *Run) error {
	switch run.Status {
	case RunStatusCompleted:
		return nil
	case RunStatusFailed:
		reason := run.LastError
		if reason == "" {
			reason = "unknown error"
		}
		return fmt.Errorf("%w: %s", ErrRunFailed, reason)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedRunStatus, run.Status)
	}
}

// ExtractReply finds the assistant message produced by runID and returns
// its first content block, which must be text. When several messages carry
// the same run id the first one listed wins.
func ExtractReply(messages []ThreadMessage, runID string) (string, error) {
	for _, msg := range messages {
		if msg.Role != RoleAssistant || msg.RunID != runID {
			continue
		}
		if len(msg.Content) == 0 {
			return "", fmt.Errorf("%w: message %s has no content", ErrNoAssistantReply, msg.ID)
		}
		block := msg.Content[0]
		if block.Type != ContentTypeText {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedContentType, block.Type)
		}
		return block.Text, nil
	}
	return "", fmt.Errorf("%w for run %s", ErrNoAssistantReply, runID)
}

func (o *Orchestrator) traced(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
