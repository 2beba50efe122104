package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"assessbot/core"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// Defaults for a Provider built without options.
const (
	DefaultRunTimeout   = 120 * time.Second
	DefaultContextLimit = 20
)

// Provider runs the assistant in-process. Each run executes in its own
// goroutine and moves queued -> in_progress -> completed, failed, expired
// or cancelled; the orchestrator observes it only through GetRun.
type Provider struct {
	store          ThreadStore
	model          llms.Model
	runs           *CancelManager
	instructions   prompts.PromptTemplate
	runTimeout     time.Duration
	contextLimit   int
	truncateLength int
	logger         *logrus.Logger
	now            func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Provider.
type Option func(*Provider)

// WithRunTimeout bounds a single run's model call. Runs that exceed it end
// as expired.
func WithRunTimeout(d time.Duration) Option {
	return func(p *Provider) { p.runTimeout = d }
}

// WithContextLimit caps how many of the latest thread messages are sent to
// the model.
func WithContextLimit(n int) Option {
	return func(p *Provider) { p.contextLimit = n }
}

// WithLogTruncateLength bounds logged model output.
func WithLogTruncateLength(n int) Option {
	return func(p *Provider) { p.truncateLength = n }
}

// WithInstructions replaces the system instructions template.
func WithInstructions(template prompts.PromptTemplate) Option {
	return func(p *Provider) { p.instructions = template }
}

// New creates a provider over store and model.
//
// Parameters:
//   - store: Thread store; Close closes it
//   - model: langchaingo model that produces replies
//   - logger: Logger for run lifecycle events
//   - opts: Run timeout, context limit and instruction overrides
//
// Returns:
//   - *Provider: Provider whose runs execute in background goroutines
func New(store ThreadStore, model llms.Model, logger *logrus.Logger, opts ...Option) *Provider {
	baseCtx, stop := context.WithCancel(context.Background())
	p := &Provider{
		store:          store,
		model:          model,
		runs:           NewCancelManager(),
		instructions:   NewInstructionsTemplate(),
		runTimeout:     DefaultRunTimeout,
		contextLimit:   DefaultContextLimit,
		truncateLength: 500,
		logger:         logger,
		now:            time.Now,
		baseCtx:        baseCtx,
		stop:           stop,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig builds the thread store and model selected by config.
func NewFromConfig(ctx context.Context, config *core.Config, logger *logrus.Logger) (*Provider, error) {
	model, err := NewModel(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	var store ThreadStore
	switch config.ThreadStore {
	case core.ThreadStoreSQLite:
		store, err = NewSQLiteStore(config.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
		}
		logger.WithField("dsn", config.SQLiteDSN).Info("SQLite thread store initialized")
	default:
		store = NewMemoryStore(config.ThreadMaxAge, config.CleanupInterval, logger)
		logger.WithField("threadMaxAge", config.ThreadMaxAge).Info("Memory thread store initialized")
	}

	return New(store, model, logger,
		WithRunTimeout(config.RunTimeout),
		WithLogTruncateLength(config.LogTruncateLength),
	), nil
}

func (p *Provider) Name() string { return core.ProviderLocal }

func (p *Provider) CreateThread(ctx context.Context) (string, error) {
	return p.store.CreateThread(ctx)
}

func (p *Provider) requireThread(ctx context.Context, threadID string) error {
	exists, err := p.store.ThreadExists(ctx, threadID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return nil
}

func (p *Provider) AppendMessage(ctx context.Context, threadID, content string) error {
	if err := p.requireThread(ctx, threadID); err != nil {
		return err
	}
	_, err := p.store.AppendMessage(ctx, core.ThreadMessage{
		ThreadID: threadID,
		Role:     core.RoleUser,
		Content:  []core.ContentBlock{{Type: core.ContentTypeText, Text: content}},
	})
	return err
}

// StartRun records a queued run and executes it in the background. The run
// outlives ctx; it is bounded by the run timeout and by Close.
func (p *Provider) StartRun(ctx context.Context, threadID string) (*core.Run, error) {
	if err := p.requireThread(ctx, threadID); err != nil {
		return nil, err
	}

	run := core.Run{ID: newRunID(), ThreadID: threadID, Status: core.RunStatusQueued}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(p.baseCtx, p.runTimeout)
	p.runs.AddRun(run.ID, cancel)
	p.wg.Add(1)
	go p.execute(runCtx, cancel, run)

	started := run
	return &started, nil
}

func (p *Provider) execute(ctx context.Context, cancel context.CancelFunc, run core.Run) {
	defer p.wg.Done()
	defer p.runs.RemoveRun(run.ID)
	defer cancel()

	runLogger := p.logger.WithFields(logrus.Fields{
		"threadId": run.ThreadID,
		"runId":    run.ID,
	})
	startTime := time.Now()

	run.Status = core.RunStatusInProgress
	if err := p.store.SaveRun(ctx, run); err != nil {
		runLogger.WithError(err).Error("Failed to mark run in progress")
		p.finish(run, core.RunStatusFailed, err.Error(), runLogger)
		return
	}

	reply, err := p.generate(ctx, run, runLogger)
	if err != nil {
		status := core.RunStatusFailed
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = core.RunStatusExpired
		case errors.Is(err, context.Canceled):
			status = core.RunStatusCancelled
		}
		runLogger.WithError(err).WithField("status", status).Warn("Run did not complete")
		p.finish(run, status, err.Error(), runLogger)
		return
	}

	_, err = p.store.AppendMessage(ctx, core.ThreadMessage{
		ThreadID: run.ThreadID,
		Role:     core.RoleAssistant,
		RunID:    run.ID,
		Content:  []core.ContentBlock{{Type: core.ContentTypeText, Text: reply}},
	})
	if err != nil {
		runLogger.WithError(err).Error("Failed to store assistant reply")
		p.finish(run, core.RunStatusFailed, err.Error(), runLogger)
		return
	}

	p.finish(run, core.RunStatusCompleted, "", runLogger)
	runLogger.WithFields(logrus.Fields{
		"replyLength":   len(reply),
		"executionTime": time.Since(startTime),
	}).Info("Run completed")
}

// finish records the terminal state. It uses a fresh context because the
// run context may already be done.
func (p *Provider) finish(run core.Run, status core.RunStatus, lastError string, runLogger *logrus.Entry) {
	run.Status = status
	run.LastError = lastError

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SaveRun(ctx, run); err != nil {
		runLogger.WithError(err).WithField("status", status).Error("Failed to record run outcome")
	}
}

func (p *Provider) generate(ctx context.Context, run core.Run, runLogger *logrus.Entry) (string, error) {
	history, err := p.store.ListMessages(ctx, run.ThreadID)
	if err != nil {
		return "", fmt.Errorf("failed to load thread: %w", err)
	}

	instructions, err := RenderInstructions(p.instructions, p.now())
	if err != nil {
		return "", fmt.Errorf("failed to render instructions: %w", err)
	}

	content := BuildConversation(instructions, history, p.contextLimit)
	model := NewCleaningLLMWrapper(p.model, NewRunLogHandler(runLogger, p.truncateLength), runLogger)

	resp, err := model.GenerateContent(ctx, content)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// BuildConversation turns the last limit messages of a thread (oldest first)
// into model input headed by the system instructions. Non-text blocks are
// skipped.
func BuildConversation(instructions string, history []core.ThreadMessage, limit int) []llms.MessageContent {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	content := make([]llms.MessageContent, 0, len(history)+1)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, instructions))
	for _, msg := range history {
		role := llms.ChatMessageTypeHuman
		if msg.Role == core.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}

		texts := make([]string, 0, len(msg.Content))
		for _, block := range msg.Content {
			if block.Type == core.ContentTypeText {
				texts = append(texts, block.Text)
			}
		}
		if len(texts) == 0 {
			continue
		}
		content = append(content, llms.TextParts(role, texts...))
	}
	return content
}

func (p *Provider) GetRun(ctx context.Context, threadID, runID string) (*core.Run, error) {
	return p.store.GetRun(ctx, threadID, runID)
}

// ListMessages returns the thread's messages newest first.
func (p *Provider) ListMessages(ctx context.Context, threadID string) ([]core.ThreadMessage, error) {
	messages, err := p.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ActiveRuns lists the runs still executing.
func (p *Provider) ActiveRuns() []string {
	return p.runs.ActiveRuns()
}

// CancelRun stops an executing run; it ends as cancelled.
func (p *Provider) CancelRun(runID string) bool {
	return p.runs.CancelRun(runID)
}

// ThreadIDs lists the threads held by the store, oldest first.
func (p *Provider) ThreadIDs(ctx context.Context) ([]string, error) {
	return p.store.ThreadIDs(ctx)
}

// ThreadStats reports the store's thread and message counts.
func (p *Provider) ThreadStats(ctx context.Context) (map[string]interface{}, error) {
	return p.store.Stats(ctx)
}

var (
	_ core.Provider       = (*Provider)(nil)
	_ core.RunReporter    = (*Provider)(nil)
	_ core.RunCanceller   = (*Provider)(nil)
	_ core.ThreadReporter = (*Provider)(nil)
)

// Close cancels executing runs, waits for them to record their outcome and
// closes the store.
func (p *Provider) Close() error {
	p.stop()
	if n := p.runs.CancelAll(); n > 0 {
		p.logger.WithField("cancelledRuns", n).Info("Cancelled executing runs")
	}
	p.wg.Wait()
	return p.store.Close()
}
