/*
Package local provides an in-process implementation of the assistant's
thread/run provider contract. Threads and runs are kept in a ThreadStore and
runs are executed against a langchaingo model in background goroutines, so
the orchestrator polls them exactly as it polls a remote provider.

This file defines the ThreadStore contract and its in-memory implementation,
which expires idle threads in the background to bound memory use.
*/
package local

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"assessbot/core"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrRunNotFound    = errors.New("run not found")
)

// ThreadStore persists threads, their messages and their runs.
type ThreadStore interface {
	CreateThread(ctx context.Context) (string, error)
	ThreadExists(ctx context.Context, threadID string) (bool, error)
	// AppendMessage stores msg; the store assigns ID and CreatedAt when empty.
	AppendMessage(ctx context.Context, msg core.ThreadMessage) (core.ThreadMessage, error)
	// ListMessages returns the thread's messages oldest first.
	ListMessages(ctx context.Context, threadID string) ([]core.ThreadMessage, error)
	// SaveRun inserts or updates a run.
	SaveRun(ctx context.Context, run core.Run) error
	GetRun(ctx context.Context, threadID, runID string) (*core.Run, error)
	// ThreadIDs returns the stored thread ids, oldest first.
	ThreadIDs(ctx context.Context) ([]string, error)
	// Stats reports the totalThreads and totalMessages counts.
	Stats(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

func newThreadID() string  { return "thread_" + uuid.NewString() }
func newRunID() string     { return "run_" + uuid.NewString() }
func newMessageID() string { return "msg_" + uuid.NewString() }

// threadRecord is one conversation held in memory.
type threadRecord struct {
	id       string
	messages []core.ThreadMessage
	runs     map[string]core.Run
	created  time.Time
	updated  time.Time
}

// MemoryStore keeps threads in memory and drops the ones idle for longer
// than maxAge.
type MemoryStore struct {
	threads         map[string]*threadRecord
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	logger          *logrus.Logger
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewMemoryStore creates a memory store and starts its cleanup loop.
// A zero cleanupInterval disables expiry.
func NewMemoryStore(maxAge time.Duration, cleanupInterval time.Duration, logger *logrus.Logger) *MemoryStore {
	store := &MemoryStore{
		threads:         make(map[string]*threadRecord),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		stop:            make(chan struct{}),
	}

	if cleanupInterval > 0 && maxAge > 0 {
		go store.cleanupExpiredThreads()
	}

	return store
}

func (m *MemoryStore) CreateThread(ctx context.Context) (string, error) {
	now := time.Now()
	record := &threadRecord{
		id:       newThreadID(),
		messages: make([]core.ThreadMessage, 0),
		runs:     make(map[string]core.Run),
		created:  now,
		updated:  now,
	}

	m.mutex.Lock()
	m.threads[record.id] = record
	m.mutex.Unlock()

	m.logger.WithField("threadId", record.id).Info("Created thread")
	return record.id, nil
}

func (m *MemoryStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, exists := m.threads[threadID]
	return exists, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg core.ThreadMessage) (core.ThreadMessage, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, exists := m.threads[msg.ThreadID]
	if !exists {
		return core.ThreadMessage{}, ErrThreadNotFound
	}

	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Content = append([]core.ContentBlock(nil), msg.Content...)

	record.messages = append(record.messages, msg)
	record.updated = time.Now()
	return msg, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, threadID string) ([]core.ThreadMessage, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, exists := m.threads[threadID]
	if !exists {
		return nil, ErrThreadNotFound
	}

	messages := make([]core.ThreadMessage, len(record.messages))
	for i, msg := range record.messages {
		msg.Content = append([]core.ContentBlock(nil), msg.Content...)
		messages[i] = msg
	}
	return messages, nil
}

func (m *MemoryStore) SaveRun(ctx context.Context, run core.Run) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, exists := m.threads[run.ThreadID]
	if !exists {
		return ErrThreadNotFound
	}

	record.runs[run.ID] = run
	record.updated = time.Now()
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, threadID, runID string) (*core.Run, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, exists := m.threads[threadID]
	if !exists {
		return nil, ErrThreadNotFound
	}
	run, exists := record.runs[runID]
	if !exists {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

// Close stops the cleanup loop. Stored threads stay readable.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// Stats reports thread and message counts for the status endpoint.
func (m *MemoryStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	totalMessages := 0
	for _, record := range m.threads {
		totalMessages += len(record.messages)
	}

	return map[string]interface{}{
		"totalThreads":  len(m.threads),
		"totalMessages": totalMessages,
	}, nil
}

// ThreadIDs returns the stored thread ids, oldest first.
func (m *MemoryStore) ThreadIDs(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	records := make([]*threadRecord, 0, len(m.threads))
	for _, record := range m.threads {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].created.Before(records[j].created) })

	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.id
	}
	return ids, nil
}

func (m *MemoryStore) cleanupExpiredThreads() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.removeIdleSince(now.Add(-m.maxAge))
		}
	}
}

// removeIdleSince drops threads not updated after cutoff and returns how many
// were removed.
func (m *MemoryStore) removeIdleSince(cutoff time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	expired := 0
	for id, record := range m.threads {
		if record.updated.Before(cutoff) {
			delete(m.threads, id)
			expired++
		}
	}

	if expired > 0 {
		m.logger.WithFields(logrus.Fields{
			"expiredThreads":   expired,
			"remainingThreads": len(m.threads),
			"cleanupInterval":  m.cleanupInterval,
		}).Info("Cleaned up idle threads")
	}
	return expired
}
