/*
Package core contains the server side of the assessment assistant.

This file implements the Echo handlers: the assistant turn route with its
JSON and framed text variants, the health and status reports, thread
transcripts, and the run and thread management routes that local providers
support.
*/
package core

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"assessbot/protocol"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Server exposes an Orchestrator over HTTP. Management routes are served
// only when the provider implements RunCanceller or ThreadReporter.
type Server struct {
	orchestrator *Orchestrator
	provider     Provider
	config       *Config
	logger       *logrus.Logger
	sleep        SleepFunc
}

// NewServer creates a server over provider. A nil provider is allowed: the
// health check still answers and every turn fails with a configuration
// error.
//
// Parameters:
//   - config: Loaded server configuration; its poll settings seed the orchestrator
//   - provider: Thread/run provider, or nil when credentials are missing
//   - logger: Logger shared with the orchestrator
//   - opts: Orchestrator options applied after the configured ones
//
// Returns:
//   - *Server: Server ready for RegisterRoutes
func NewServer(config *Config, provider Provider, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		provider: provider,
		config:   config,
		logger:   logger,
		sleep:    Sleep,
	}

	if provider != nil {
		opts = append([]Option{
			WithPollInterval(config.PollInterval),
			WithMaxPollAttempts(config.MaxPollAttempts),
		}, opts...)
		s.orchestrator = NewOrchestrator(provider, logger, opts...)
		s.sleep = s.orchestrator.sleep
		logger.WithField("provider", provider.Name()).Info("Assistant orchestrator initialized")
	} else {
		logger.Warn("No assistant provider configured; turns will be rejected")
	}

	return s
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get(protocol.HeaderRequestID)
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}

	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

func errorResponse(message string) protocol.ErrorResponse {
	return protocol.ErrorResponse{Error: message, Success: false}
}

func (s *Server) truncateForLog(text string) string {
	if s.config.LogTruncateLength <= 0 || len(text) <= s.config.LogTruncateLength {
		return text
	}
	return text[:s.config.LogTruncateLength] + "..."
}

// handleChat runs one assistant turn. The Accept header decides between a
// single JSON document and a framed text stream.
func (s *Server) handleChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/api/assistant")

	var req protocol.ChatRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Warn("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, errorResponse("Invalid request body"))
	}

	message, err := ValidateMessage(req.Message, s.config.MaxMessageLength)
	if err != nil {
		requestLogger.WithError(err).WithField("messageLength", len(req.Message)).Warn("Rejected assistant message")
		return c.JSON(StatusCode(err), errorResponse(PublicMessage(err)))
	}

	if s.orchestrator == nil || !s.config.Configured() {
		requestLogger.Error("Assistant provider credentials are missing")
		return c.JSON(http.StatusInternalServerError, errorResponse(PublicMessage(ErrConfiguration)))
	}

	stream := protocol.WantsStream(c.Request().Header.Get(echo.HeaderAccept))
	turn := TurnRequest{Message: message, ThreadID: req.ThreadID}

	requestLogger.WithFields(logrus.Fields{
		"threadId":      req.ThreadID,
		"messageLength": len(message),
		"message":       s.truncateForLog(message),
		"stream":        stream,
	}).Info("Received assistant turn")

	if stream {
		return s.streamTurn(c, turn, requestLogger)
	}

	result, err := s.orchestrator.Turn(c.Request().Context(), turn)
	if err != nil {
		return c.JSON(StatusCode(err), errorResponse(PublicMessage(err)))
	}

	return c.JSON(http.StatusOK, protocol.ChatResponse{
		Response: result.Reply,
		ThreadID: result.ThreadID,
		Success:  true,
	})
}

// streamTurn commits to a 200 framed response before the turn starts, so
// every failure from here on is reported as a single error frame.
func (s *Server) streamTurn(c echo.Context, turn TurnRequest, requestLogger *logrus.Entry) error {
	ctx := c.Request().Context()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, protocol.ContentTypeFramedText)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	writer := &responseFrameWriter{res: res}

	result, err := s.orchestrator.Turn(ctx, turn)
	if err != nil {
		threadID := ThreadIDOf(err)
		if threadID == "" {
			threadID = turn.ThreadID
		}
		if writeErr := writer.WriteFrame(protocol.ErrorFrame{Error: PublicMessage(err), ThreadID: threadID}); writeErr != nil {
			requestLogger.WithError(writeErr).Warn("Failed to send error frame")
		}
		return nil
	}

	startTime := time.Now()
	if err := StreamReply(ctx, writer, result.Reply, result.ThreadID, s.config.StreamChunkDelay, s.sleep); err != nil {
		// The client is gone; nothing more can be delivered.
		requestLogger.WithError(err).WithField("threadId", result.ThreadID).Warn("Streaming interrupted")
		return nil
	}

	requestLogger.WithFields(logrus.Fields{
		"threadId":     result.ThreadID,
		"runId":        result.RunID,
		"chunks":       len(Tokenize(result.Reply)),
		"streamedTime": time.Since(startTime),
	}).Info("Streamed assistant reply")

	return nil
}

// handleHealth reports whether the provider credentials are present.
func (s *Server) handleHealth(c echo.Context) error {
	hasAPIKey, hasAssistantID := s.config.Credentials()

	return c.JSON(http.StatusOK, protocol.HealthResponse{
		Status:         "ok",
		Provider:       s.config.Provider,
		HasAPIKey:      hasAPIKey,
		HasAssistantID: hasAssistantID,
		Configured:     s.config.Configured() && s.provider != nil,
	})
}

// handleTranscript returns the messages of a thread as held by the provider.
func (s *Server) handleTranscript(c echo.Context) error {
	threadID := c.Param("threadId")
	requestLogger := s.requestLogger(c, "/api/assistant/threads/:threadId/messages").WithField("threadId", threadID)

	if threadID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse("Thread ID required"))
	}
	if s.provider == nil {
		return c.JSON(http.StatusInternalServerError, errorResponse(PublicMessage(ErrConfiguration)))
	}

	messages, err := s.provider.ListMessages(c.Request().Context(), threadID)
	if err != nil {
		requestLogger.WithError(err).Error("Failed to list thread messages")
		return c.JSON(http.StatusBadGateway, errorResponse(PublicMessage(fmt.Errorf("%w: %w", ErrReplyListFailed, err))))
	}

	transcript := protocol.TranscriptResponse{
		ThreadID: threadID,
		Messages: make([]protocol.TranscriptMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		transcript.Messages = append(transcript.Messages, protocol.TranscriptMessage{
			ID:        msg.ID,
			Role:      msg.Role,
			RunID:     msg.RunID,
			Content:   textOf(msg),
			CreatedAt: msg.CreatedAt.Unix(),
		})
	}

	requestLogger.WithField("messageCount", len(messages)).Debug("Thread transcript retrieved")
	return c.JSON(http.StatusOK, transcript)
}

func textOf(msg ThreadMessage) string {
	parts := make([]string, 0, len(msg.Content))
	for _, block := range msg.Content {
		if block.Type == ContentTypeText {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// handleStatus reports liveness plus whatever run and thread statistics the
// provider can give.
func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/status")
	requestLogger.Debug("Status check requested")

	response := map[string]interface{}{
		"status":     "healthy",
		"provider":   s.config.Provider,
		"configured": s.config.Configured() && s.provider != nil,
	}

	if reporter, ok := s.provider.(RunReporter); ok {
		active := reporter.ActiveRuns()
		response["activeRuns"] = active
		response["activeRunCount"] = len(active)
	}

	if reporter, ok := s.provider.(ThreadReporter); ok {
		stats, err := reporter.ThreadStats(c.Request().Context())
		if err != nil {
			requestLogger.WithError(err).Warn("Failed to read thread statistics")
		} else {
			response["threads"] = stats
		}
	}

	return c.JSON(http.StatusOK, response)
}

// handleListThreads returns the ids of the threads a local provider holds.
func (s *Server) handleListThreads(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/api/assistant/threads")

	if s.provider == nil {
		return c.JSON(http.StatusInternalServerError, errorResponse(PublicMessage(ErrConfiguration)))
	}
	reporter, ok := s.provider.(ThreadReporter)
	if !ok {
		requestLogger.WithField("provider", s.provider.Name()).Debug("Thread listing not supported")
		return c.JSON(http.StatusNotImplemented, errorResponse("Thread listing is not supported by this provider"))
	}

	ids, err := reporter.ThreadIDs(c.Request().Context())
	if err != nil {
		requestLogger.WithError(err).Error("Failed to list threads")
		return c.JSON(http.StatusInternalServerError, errorResponse("Failed to list threads"))
	}

	requestLogger.WithField("threadCount", len(ids)).Info("Threads listed successfully")
	return c.JSON(http.StatusOK, protocol.ThreadListResponse{Threads: ids, Count: len(ids)})
}

// handleCancelRun stops a run the provider is executing. The turn polling
// that run then ends with ErrUnexpectedRunStatus.
func (s *Server) handleCancelRun(c echo.Context) error {
	runID := c.Param("runId")
	requestLogger := s.requestLogger(c, "/api/assistant/runs/:runId/cancel").WithField("runId", runID)

	if s.provider == nil {
		return c.JSON(http.StatusInternalServerError, errorResponse(PublicMessage(ErrConfiguration)))
	}
	canceller, ok := s.provider.(RunCanceller)
	if !ok {
		requestLogger.WithField("provider", s.provider.Name()).Debug("Run cancellation not supported")
		return c.JSON(http.StatusNotImplemented, protocol.CancelRunResponse{
			RunID:   runID,
			Message: "Run cancellation is not supported by this provider",
		})
	}

	requestLogger.Info("Attempting to cancel run")

	if !canceller.CancelRun(runID) {
		requestLogger.Warn("Run not found or already completed")
		return c.JSON(http.StatusNotFound, protocol.CancelRunResponse{
			RunID:   runID,
			Message: "Run not found or already completed",
		})
	}

	requestLogger.Info("Run cancelled successfully")
	return c.JSON(http.StatusOK, protocol.CancelRunResponse{
		RunID:     runID,
		Success:   true,
		Message:   "Run cancelled successfully",
		Cancelled: true,
	})
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.POST("/api/assistant", s.handleChat)
	e.GET("/api/assistant/health", s.handleHealth)
	e.GET("/api/assistant/threads", s.handleListThreads)
	e.GET("/api/assistant/threads/:threadId/messages", s.handleTranscript)
	e.POST("/api/assistant/runs/:runId/cancel", s.handleCancelRun)
	e.GET("/status", s.handleStatus)

	s.logger.Info("Routes registered successfully")
}
