package core

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeProvider scripts run statuses and records every call.
type fakeProvider struct {
	mu sync.Mutex

	threadID  string
	runID     string
	statuses  []RunStatus // returned by successive GetRun calls; the last repeats
	lastError string
	messages  []ThreadMessage

	createErr error
	appendErr error
	startErr  error
	getErr    error
	listErr   error

	createCalls int
	appendCalls int
	startCalls  int
	getCalls    int
	listCalls   int
	appended    []string
	threadsUsed []string
}

func newFakeProvider(reply string) *fakeProvider {
	return &fakeProvider{
		threadID: "thread_new",
		runID:    "run_1",
		statuses: []RunStatus{RunStatusInProgress, RunStatusCompleted},
		messages: []ThreadMessage{
			{ID: "msg_2", Role: RoleAssistant, RunID: "run_1", Content: []ContentBlock{{Type: ContentTypeText, Text: reply}}},
			{ID: "msg_1", Role: RoleUser, Content: []ContentBlock{{Type: ContentTypeText, Text: "question"}}},
		},
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.threadID, nil
}

func (f *fakeProvider) AppendMessage(ctx context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	f.appended = append(f.appended, content)
	f.threadsUsed = append(f.threadsUsed, threadID)
	return f.appendErr
}

func (f *fakeProvider) StartRun(ctx context.Context, threadID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &Run{ID: f.runID, ThreadID: threadID, Status: RunStatusQueued}, nil
}

func (f *fakeProvider) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	i := f.getCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return &Run{ID: runID, ThreadID: threadID, Status: f.statuses[i], LastError: f.lastError}, nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages, nil
}

func (f *fakeProvider) providerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls + f.appendCalls + f.startCalls + f.getCalls + f.listCalls
}

// recordingSleep counts waits without blocking.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return nil
}

func (r *recordingSleep) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
