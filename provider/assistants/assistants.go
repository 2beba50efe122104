// Package assistants implements the thread/run provider contract on top of
// the OpenAI Assistants API.
package assistants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assessbot/core"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// listLimit is the page size used when listing thread messages. The reply
// of the latest run is always on the first page since it is listed newest
// first.
const listLimit = 100

// Config names the OpenAI assistant a Provider drives.
type Config struct {
	APIKey      string
	AssistantID string
	BaseURL     string
}

// Provider talks to a configured OpenAI assistant.
type Provider struct {
	client      openai.Client
	assistantID string
	logger      *logrus.Logger
}

// New creates a provider for the assistant cfg names.
//
// Parameters:
//   - cfg: API key, assistant id and an optional base URL override
//   - logger: Logger for thread and run operations
//   - opts: Extra request options, applied after the ones derived from cfg
//
// Returns:
//   - *Provider: Provider ready to serve the orchestrator
func New(cfg Config, logger *logrus.Logger, opts ...option.RequestOption) *Provider {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &Provider{
		client:      openai.NewClient(clientOpts...),
		assistantID: cfg.AssistantID,
		logger:      logger,
	}
}

// NewFromConfig reads the OpenAI settings of config.
func NewFromConfig(config *core.Config, logger *logrus.Logger) *Provider {
	return New(Config{
		APIKey:      config.OpenAIAPIKey,
		AssistantID: config.OpenAIAssistantID,
		BaseURL:     config.OpenAIBaseURL,
	}, logger)
}

func (p *Provider) Name() string { return core.ProviderOpenAI }

func (p *Provider) CreateThread(ctx context.Context) (string, error) {
	thread, err := p.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", describe(err)
	}
	return thread.ID, nil
}

func (p *Provider) AppendMessage(ctx context.Context, threadID, content string) error {
	_, err := p.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	if err != nil {
		return describe(err)
	}
	return nil
}

func (p *Provider) StartRun(ctx context.Context, threadID string) (*core.Run, error) {
	run, err := p.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: p.assistantID,
	})
	if err != nil {
		return nil, describe(err)
	}
	return toRun(run, threadID), nil
}

func (p *Provider) GetRun(ctx context.Context, threadID, runID string) (*core.Run, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, describe(err)
	}
	return toRun(run, threadID), nil
}

// ListMessages returns the first page of the thread's messages, newest
// first.
func (p *Provider) ListMessages(ctx context.Context, threadID string) ([]core.ThreadMessage, error) {
	page, err := p.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(listLimit),
	})
	if err != nil {
		return nil, describe(err)
	}

	messages := make([]core.ThreadMessage, 0, len(page.Data))
	for _, msg := range page.Data {
		messages = append(messages, toThreadMessage(msg))
	}

	p.logger.WithFields(logrus.Fields{
		"threadId":     threadID,
		"messageCount": len(messages),
		"hasMore":      page.HasMore,
	}).Debug("Listed thread messages")
	return messages, nil
}

func toRun(run *openai.Run, threadID string) *core.Run {
	if run.ThreadID != "" {
		threadID = run.ThreadID
	}
	return &core.Run{
		ID:        run.ID,
		ThreadID:  threadID,
		Status:    core.RunStatus(run.Status),
		LastError: run.LastError.Message,
	}
}

func toThreadMessage(msg openai.Message) core.ThreadMessage {
	blocks := make([]core.ContentBlock, 0, len(msg.Content))
	for _, content := range msg.Content {
		block := core.ContentBlock{Type: content.Type}
		if content.Type == core.ContentTypeText {
			block.Text = content.Text.Value
		}
		blocks = append(blocks, block)
	}

	return core.ThreadMessage{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      string(msg.Role),
		RunID:     msg.RunID,
		CreatedAt: time.Unix(msg.CreatedAt, 0),
		Content:   blocks,
	}
}

// describe keeps API errors matchable while adding the HTTP status to the
// message.
func describe(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai api status %d: %w", apiErr.StatusCode, err)
	}
	return err
}
