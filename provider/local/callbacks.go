package local

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

// RunLogHandler logs the model calls made while executing one run.
// Callbacks it does not override are no-ops.
type RunLogHandler struct {
	callbacks.SimpleHandler
	runLogger      *logrus.Entry
	truncateLength int
	started        time.Time
}

// NewRunLogHandler logs model calls for one run, truncating prompts and
// replies to truncateLength characters.
func NewRunLogHandler(runLogger *logrus.Entry, truncateLength int) *RunLogHandler {
	return &RunLogHandler{
		runLogger:      runLogger,
		truncateLength: truncateLength,
	}
}

func (h *RunLogHandler) truncateForLog(text string) string {
	if h.truncateLength <= 0 || len(text) <= h.truncateLength {
		return text
	}
	return text[:h.truncateLength] + "..."
}

func (h *RunLogHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	h.started = time.Now()
	h.runLogger.WithField("messageCount", len(ms)).Info("LLM content generation started")
}

func (h *RunLogHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	response := ""
	if res != nil && len(res.Choices) > 0 {
		response = res.Choices[0].Content
	}

	h.runLogger.WithFields(logrus.Fields{
		"response":       h.truncateForLog(response),
		"responseLength": len(response),
		"duration":       time.Since(h.started),
	}).Info("LLM content generation completed")
}

func (h *RunLogHandler) HandleLLMError(ctx context.Context, err error) {
	h.runLogger.WithFields(logrus.Fields{
		"error":    err.Error(),
		"duration": time.Since(h.started),
	}).Error("LLM call failed")
}
