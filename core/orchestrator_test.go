package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(p Provider, sleep *recordingSleep, opts ...Option) *Orchestrator {
	opts = append([]Option{WithSleep(sleep.sleep)}, opts...)
	return NewOrchestrator(p, testLogger(), opts...)
}

func TestTurnCreatesThreadAndExtractsReply(t *testing.T) {
	provider := newFakeProvider("Here is a rubric.")
	sleep := &recordingSleep{}
	o := newTestOrchestrator(provider, sleep)

	result, err := o.Turn(context.Background(), TurnRequest{Message: "Draft a rubric"})
	require.NoError(t, err)

	assert.Equal(t, "Here is a rubric.", result.Reply)
	assert.Equal(t, "thread_new", result.ThreadID)
	assert.Equal(t, "run_1", result.RunID)
	assert.Equal(t, 1, provider.createCalls)
	assert.Equal(t, []string{"Draft a rubric"}, provider.appended)
	assert.Equal(t, 2, provider.getCalls)
	assert.Equal(t, 1, provider.listCalls)
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval}, sleep.waits)
}

func TestTurnReusesSuppliedThread(t *testing.T) {
	provider := newFakeProvider("reply")
	o := newTestOrchestrator(provider, &recordingSleep{})

	first, err := o.Turn(context.Background(), TurnRequest{Message: "one"})
	require.NoError(t, err)

	second, err := o.Turn(context.Background(), TurnRequest{Message: "two", ThreadID: first.ThreadID})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.createCalls, "second turn must not create a thread")
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, []string{"thread_new", "thread_new"}, provider.threadsUsed)
}

func TestTurnTimesOutAfterExactAttemptCount(t *testing.T) {
	provider := newFakeProvider("never")
	provider.statuses = []RunStatus{RunStatusInProgress}
	sleep := &recordingSleep{}
	o := newTestOrchestrator(provider, sleep, WithMaxPollAttempts(30), WithPollInterval(time.Second))

	_, err := o.Turn(context.Background(), TurnRequest{Message: "hello"})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, "thread_new", ThreadIDOf(err))
	assert.Equal(t, 30, provider.getCalls)
	assert.Equal(t, 30, sleep.count())
	assert.Equal(t, 0, provider.listCalls, "no provider call may follow the timeout")
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(err))
}

func TestTurnStopsPollingWhenContextIsCancelled(t *testing.T) {
	provider := newFakeProvider("never")
	provider.statuses = []RunStatus{RunStatusQueued}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err()
	}
	o := NewOrchestrator(provider, testLogger(), WithSleep(sleep))

	_, err := o.Turn(ctx, TurnRequest{Message: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, provider.getCalls)
}

func TestTurnRunOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		status    RunStatus
		lastError string
		wantErr   error
		wantText  string
	}{
		{name: "failed with provider text", status: RunStatusFailed, lastError: "rate limit exceeded", wantErr: ErrRunFailed, wantText: "rate limit exceeded"},
		{name: "failed without text", status: RunStatusFailed, wantErr: ErrRunFailed, wantText: "unknown error"},
		{name: "requires action", status: RunStatusRequiresAction, wantErr: ErrUnexpectedRunStatus, wantText: "requires_action"},
		{name: "expired", status: RunStatusExpired, wantErr: ErrUnexpectedRunStatus, wantText: "expired"},
		{name: "cancelled", status: RunStatusCancelled, wantErr: ErrUnexpectedRunStatus, wantText: "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider("unused")
			provider.statuses = []RunStatus{tt.status}
			provider.lastError = tt.lastError
			o := newTestOrchestrator(provider, &recordingSleep{})

			_, err := o.Turn(context.Background(), TurnRequest{Message: "hello"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.wantText)
			assert.Equal(t, "thread_new", ThreadIDOf(err))
			assert.Equal(t, 0, provider.listCalls)
		})
	}
}

func TestTurnProviderFailures(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name       string
		setup      func(p *fakeProvider)
		wantErr    error
		wantThread string
	}{
		{name: "create thread", setup: func(p *fakeProvider) { p.createErr = boom }, wantErr: ErrThreadCreationFailed},
		{name: "append message", setup: func(p *fakeProvider) { p.appendErr = boom }, wantErr: ErrMessageAppendFailed, wantThread: "thread_new"},
		{name: "start run", setup: func(p *fakeProvider) { p.startErr = boom }, wantErr: ErrRunStartFailed, wantThread: "thread_new"},
		{name: "poll run", setup: func(p *fakeProvider) { p.getErr = boom }, wantErr: ErrRunPollFailed, wantThread: "thread_new"},
		{name: "list messages", setup: func(p *fakeProvider) { p.listErr = boom }, wantErr: ErrReplyListFailed, wantThread: "thread_new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider("unused")
			tt.setup(provider)
			o := newTestOrchestrator(provider, &recordingSleep{})

			_, err := o.Turn(context.Background(), TurnRequest{Message: "hello"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, tt.wantThread, ThreadIDOf(err))
			assert.Equal(t, http.StatusBadGateway, StatusCode(err))
			assert.NotContains(t, PublicMessage(err), "connection reset")
		})
	}
}

func TestValidateMessage(t *testing.T) {
	t.Run("trims", func(t *testing.T) {
		got, err := ValidateMessage("  hello \n", 10000)
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("rejects blank", func(t *testing.T) {
		_, err := ValidateMessage(" \t\n", 10000)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("accepts the bound", func(t *testing.T) {
		_, err := ValidateMessage(strings.Repeat("a", 10000), 10000)
		assert.NoError(t, err)
	})

	t.Run("rejects one over the bound", func(t *testing.T) {
		_, err := ValidateMessage(strings.Repeat("a", 10001), 10000)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("counts characters not bytes", func(t *testing.T) {
		_, err := ValidateMessage(strings.Repeat("é", 10000), 10000)
		assert.NoError(t, err)
	})
}

func TestExtractReply(t *testing.T) {
	text := func(s string) []ContentBlock { return []ContentBlock{{Type: ContentTypeText, Text: s}} }

	t.Run("matches run id", func(t *testing.T) {
		messages := []ThreadMessage{
			{ID: "m3", Role: RoleAssistant, RunID: "run_2", Content: text("newer")},
			{ID: "m2", Role: RoleAssistant, RunID: "run_1", Content: text("older")},
		}
		got, err := ExtractReply(messages, "run_1")
		require.NoError(t, err)
		assert.Equal(t, "older", got)
	})

	t.Run("first match wins", func(t *testing.T) {
		messages := []ThreadMessage{
			{ID: "m3", Role: RoleAssistant, RunID: "run_1", Content: text("first")},
			{ID: "m2", Role: RoleAssistant, RunID: "run_1", Content: text("second")},
		}
		got, err := ExtractReply(messages, "run_1")
		require.NoError(t, err)
		assert.Equal(t, "first", got)
	})

	t.Run("ignores user messages", func(t *testing.T) {
		messages := []ThreadMessage{{ID: "m1", Role: RoleUser, RunID: "run_1", Content: text("mine")}}
		_, err := ExtractReply(messages, "run_1")
		assert.ErrorIs(t, err, ErrNoAssistantReply)
	})

	t.Run("non-text first block", func(t *testing.T) {
		messages := []ThreadMessage{{
			ID: "m1", Role: RoleAssistant, RunID: "run_1",
			Content: []ContentBlock{{Type: "image_file"}, {Type: ContentTypeText, Text: "caption"}},
		}}
		_, err := ExtractReply(messages, "run_1")
		assert.ErrorIs(t, err, ErrUnsupportedContentType)
	})

	t.Run("empty content", func(t *testing.T) {
		messages := []ThreadMessage{{ID: "m1", Role: RoleAssistant, RunID: "run_1"}}
		_, err := ExtractReply(messages, "run_1")
		assert.ErrorIs(t, err, ErrNoAssistantReply)
	})
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "Assistant run failed: quota exceeded",
		PublicMessage(&TurnError{Err: fmt.Errorf("%w: %s", ErrRunFailed, "quota exceeded")}))
	assert.Equal(t, "Assistant run timed out", PublicMessage(&TurnError{Err: ErrRunTimeout}))
	assert.Equal(t, "Failed to create conversation thread",
		PublicMessage(&TurnError{Err: errors.Join(ErrThreadCreationFailed, errors.New("dial tcp: refused"))}))
	assert.Equal(t, "Failed to process your message", PublicMessage(errors.New("something else")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("something else")))
}
