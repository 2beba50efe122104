/*
Package client consumes the assistant endpoint.

This file implements Session, which owns one conversation: it sends turns,
applies JSON or streamed replies to the conversation state, and discards any
reply that arrives after the turn was superseded by a newer send, a retry or
a clear.
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"assessbot/protocol"

	"github.com/sirupsen/logrus"
)

// GenericErrorMessage is shown when the assistant could not be reached or
// answered with something unreadable.
const GenericErrorMessage = "Failed to reach the assistant. Please try again."

// ErrStreamTruncated means the stream ended before its terminal frame.
var ErrStreamTruncated = errors.New("stream ended without a terminal frame")

// ResponseError carries the error message the server reported for a turn.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string { return e.Message }

// Session holds one conversation with the assistant endpoint.
type Session struct {
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
	greeting   string
	onChange   func(State)
	now        func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the client used for turns and health checks. The
// default is http.DefaultClient; a client Timeout also bounds streamed
// replies.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithLogger sets the logger for failed turns and skipped frames.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithGreeting replaces the assistant message shown on a fresh session.
func WithGreeting(greeting string) Option {
	return func(s *Session) { s.greeting = greeting }
}

// WithOnChange registers fn to receive a snapshot after every state change.
// fn is called without the session lock held.
func WithOnChange(fn func(State)) Option {
	return func(s *Session) { s.onChange = fn }
}

// NewSession creates a conversation against endpoint, the URL of the
// assistant POST route.
//
// Parameters:
//   - endpoint: Assistant route, e.g. "http://localhost:8080/api/assistant"
//   - opts: Session options
//
// Returns:
//   - *Session: Session holding only the greeting message
func NewSession(endpoint string, opts ...Option) *Session {
	s := &Session{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		logger:     logrus.StandardLogger(),
		greeting:   DefaultGreeting,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = initialState(s.greeting, s.now())
	return s
}

// State returns a snapshot of the conversation.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// update applies fn under the lock and publishes the result.
func (s *Session) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state.clone()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(snapshot)
	}
}

// updateTurn is update restricted to the current turn: it is a no-op once
// gen has been superseded by a newer send, a retry or a clear.
func (s *Session) updateTurn(gen uint64, fn func(st *State)) {
	s.update(func(st *State) {
		if gen == s.generation {
			fn(st)
		}
	})
}

// Send submits message as a new user turn and blocks until the turn ends.
// Blank input is ignored. It returns the turn's error, or nil when the turn
// succeeded or was cancelled.
func (s *Session) Send(ctx context.Context, message string, enableStreaming bool) error {
	content := strings.TrimSpace(message)
	if content == "" {
		return nil
	}

	s.update(func(st *State) {
		st.Messages = append(st.Messages, Message{
			ID:        newMessageID(),
			Content:   content,
			IsUser:    true,
			Timestamp: s.now(),
		})
	})

	return s.dispatch(ctx, content, enableStreaming)
}

// Retry drops everything after the most recent user message and sends that
// message again. It is a no-op when there is no user message.
func (s *Session) Retry(ctx context.Context, enableStreaming bool) error {
	var content string
	s.update(func(st *State) {
		i := st.lastUserIndex()
		if i < 0 {
			return
		}
		content = st.Messages[i].Content
		st.Messages = st.Messages[:i+1]
	})

	if content == "" {
		return nil
	}
	return s.dispatch(ctx, content, enableStreaming)
}

// Cancel aborts the in-flight request, if any. The cancelled turn ends
// without an error.
func (s *Session) Cancel() {
	s.update(func(st *State) {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		st.IsLoading = false
	})
}

// Clear restores the greeting-only state. It does not cancel an in-flight
// request; call Cancel first. A request still running afterwards can no
// longer change the conversation.
func (s *Session) Clear() {
	s.update(func(st *State) {
		s.generation++
		*st = initialState(s.greeting, s.now())
	})
}

func (s *Session) dispatch(ctx context.Context, content string, enableStreaming bool) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var gen uint64
	var threadID string
	s.update(func(st *State) {
		s.generation++
		gen = s.generation
		s.cancel = cancel
		threadID = st.ThreadID
		st.IsLoading = true
		st.Error = ""
	})

	err := s.exchange(reqCtx, gen, content, threadID, enableStreaming)
	if err != nil && reqCtx.Err() != nil {
		// Aborted on purpose, not a failure.
		err = nil
	}

	s.updateTurn(gen, func(st *State) {
		st.IsLoading = false
		s.cancel = nil
		if err != nil {
			st.Error = publicMessage(err)
		}
	})

	if err != nil {
		s.logger.WithError(err).WithField("threadId", threadID).Warn("Assistant turn failed")
	}
	return err
}

func publicMessage(err error) string {
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.Message != "" {
		return respErr.Message
	}
	return GenericErrorMessage
}

func (s *Session) exchange(ctx context.Context, gen uint64, content, threadID string, enableStreaming bool) error {
	body, err := json.Marshal(protocol.ChatRequest{Message: content, ThreadID: threadID})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if enableStreaming {
		req.Header.Set("Accept", protocol.MIMEFramedText)
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// The server may decline to stream, so the declared content type decides.
	if protocol.IsFramedText(resp.Header.Get("Content-Type")) {
		return s.readStream(ctx, gen, resp.Body)
	}
	return s.readJSON(gen, resp)
}

// jsonReply covers both the success and the error document.
type jsonReply struct {
	Response string  `json:"response"`
	ThreadID *string `json:"threadId"`
	Success  bool    `json:"success"`
	Error    string  `json:"error"`
}

func (s *Session) readJSON(gen uint64, resp *http.Response) error {
	var reply jsonReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if !reply.Success {
		message := reply.Error
		if message == "" {
			message = GenericErrorMessage
		}
		return &ResponseError{StatusCode: resp.StatusCode, Message: message}
	}

	s.updateTurn(gen, func(st *State) {
		st.Messages = append(st.Messages, Message{
			ID:        newMessageID(),
			Content:   reply.Response,
			IsUser:    false,
			Timestamp: s.now(),
		})
		if reply.ThreadID != nil && *reply.ThreadID != "" {
			st.ThreadID = *reply.ThreadID
		}
	})
	return nil
}

func (s *Session) readStream(ctx context.Context, gen uint64, body io.Reader) error {
	// Later updates address the message by id, so a superseded turn that
	// never placed it changes nothing.
	messageID := newMessageID()
	s.updateTurn(gen, func(st *State) {
		st.Messages = append(st.Messages, Message{
			ID:          messageID,
			IsUser:      false,
			Timestamp:   s.now(),
			IsStreaming: true,
		})
	})

	var text strings.Builder
	lastThreadID := ""
	decoder := NewDecoder(body)

	for {
		frame, err := decoder.Next()
		if err != nil {
			var parseErr *FrameParseError
			if errors.As(err, &parseErr) {
				s.logger.WithError(err).Warn("Skipping malformed stream frame")
				continue
			}

			if ctx.Err() != nil {
				s.settleCancelled(messageID)
				return ctx.Err()
			}

			s.update(func(st *State) { st.remove(messageID) })
			if errors.Is(err, io.EOF) {
				return ErrStreamTruncated
			}
			return fmt.Errorf("read stream: %w", err)
		}

		switch f := frame.(type) {
		case protocol.ChunkFrame:
			text.WriteString(f.Content)
			accumulated := text.String()
			if f.ThreadID != "" {
				lastThreadID = f.ThreadID
			}
			s.update(func(st *State) {
				if i := st.indexOf(messageID); i >= 0 {
					st.Messages[i].Content = accumulated
				}
			})

		case protocol.CompleteFrame:
			threadID := f.ThreadID
			if threadID == "" {
				threadID = lastThreadID
			}
			s.update(func(st *State) {
				if i := st.indexOf(messageID); i >= 0 {
					st.Messages[i].IsStreaming = false
				}
				if gen == s.generation {
					st.IsLoading = false
					if threadID != "" {
						st.ThreadID = threadID
					}
				}
			})
			return nil

		case protocol.ErrorFrame:
			s.update(func(st *State) {
				st.remove(messageID)
				if gen == s.generation && f.ThreadID != "" {
					st.ThreadID = f.ThreadID
				}
			})
			return &ResponseError{StatusCode: http.StatusOK, Message: f.Error}
		}
	}
}

// settleCancelled keeps whatever text a cancelled stream delivered, or
// drops the message when nothing arrived.
func (s *Session) settleCancelled(messageID string) {
	s.update(func(st *State) {
		i := st.indexOf(messageID)
		if i < 0 {
			return
		}
		if st.Messages[i].Content == "" {
			st.remove(messageID)
			return
		}
		st.Messages[i].IsStreaming = false
	})
}

// Health queries the health route next to the assistant endpoint.
func (s *Session) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(s.endpoint, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health protocol.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}
