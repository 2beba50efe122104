package local

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"assessbot/core"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
)

// EmptyReplyFallback replaces a model reply that is empty once cleaned.
const EmptyReplyFallback = "I could not produce an answer to that. Could you rephrase your question?"

var (
	thinkBlockRegex   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkRegex    = regexp.MustCompile(`(?is)<think>.*`)
	reasoningRegex    = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	multiNewlineRegex = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// NewModel builds the chat model selected by config.LocalLLM.
func NewModel(ctx context.Context, config *core.Config, logger *logrus.Logger) (llms.Model, error) {
	switch config.LocalLLM {
	case core.LocalLLMGemini:
		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is required when LOCAL_LLM is gemini", core.ErrConfiguration)
		}

		logger.WithField("model", config.GeminiModel).Info("Initializing Gemini LLM")
		llm, err := googleai.New(ctx,
			googleai.WithAPIKey(config.GeminiAPIKey),
			googleai.WithDefaultModel(config.GeminiModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini LLM: %w", err)
		}
		return llm, nil

	default:
		logger.WithFields(logrus.Fields{
			"endpoint": config.OllamaEndpoint,
			"model":    config.OllamaModel,
		}).Info("Initializing Ollama LLM")
		llm, err := ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
		return llm, nil
	}
}

// CleaningLLMWrapper strips reasoning markup from model replies and reports
// each generation to a callbacks handler.
type CleaningLLMWrapper struct {
	wrappedLLM llms.Model
	handler    callbacks.Handler
	logger     *logrus.Entry
}

// NewCleaningLLMWrapper wraps llm. handler may be nil.
func NewCleaningLLMWrapper(llm llms.Model, handler callbacks.Handler, logger *logrus.Entry) *CleaningLLMWrapper {
	return &CleaningLLMWrapper{
		wrappedLLM: llm,
		handler:    handler,
		logger:     logger,
	}
}

// CleanReply removes <think> and <reasoning> sections (including an
// unterminated trailing <think>) and collapses runs of blank lines.
func CleanReply(reply string) string {
	cleaned := thinkBlockRegex.ReplaceAllString(reply, "")
	cleaned = openThinkRegex.ReplaceAllString(cleaned, "")
	cleaned = reasoningRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = multiNewlineRegex.ReplaceAllString(cleaned, "\n\n")

	if cleaned == "" {
		return EmptyReplyFallback
	}
	return cleaned
}

func (w *CleaningLLMWrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if w.handler != nil {
		w.handler.HandleLLMGenerateContentStart(ctx, messages)
	}

	response, err := w.wrappedLLM.GenerateContent(ctx, messages, options...)
	if err != nil {
		if w.handler != nil {
			w.handler.HandleLLMError(ctx, err)
		}
		return response, err
	}

	if response != nil {
		for i := range response.Choices {
			original := response.Choices[i].Content
			cleaned := CleanReply(original)
			response.Choices[i].Content = cleaned

			if len(original) != len(cleaned) {
				w.logger.WithFields(logrus.Fields{
					"originalLength": len(original),
					"cleanedLength":  len(cleaned),
				}).Debug("Cleaned LLM response content")
			}
		}
	}

	if w.handler != nil {
		w.handler.HandleLLMGenerateContentEnd(ctx, response)
	}
	return response, nil
}

func (w *CleaningLLMWrapper) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}
