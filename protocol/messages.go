// Package protocol defines the HTTP contract between the assistant endpoint
// and its clients: request and response bodies, media types and the framed
// text stream used for incremental replies.
package protocol

import (
	"mime"
	"strings"
)

// Media types and headers used on the assistant endpoint.
const (
	// MIMEFramedText is the media type a client puts in Accept to ask for a
	// framed stream instead of a single JSON document.
	MIMEFramedText = "text/plain"
	// ContentTypeFramedText is the Content-Type of a streamed reply.
	ContentTypeFramedText = "text/plain; charset=utf-8"

	HeaderRequestID = "X-Request-ID"
)

// ChatRequest is the body of a turn request.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"` // empty on the first turn of a conversation
}

// ChatResponse is the non-streaming success body.
type ChatResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"threadId"`
	Success  bool   `json:"success"`
}

// ErrorResponse is the body of every non-2xx reply from the assistant
// endpoint. ThreadID is always null.
type ErrorResponse struct {
	Error    string  `json:"error"`
	Success  bool    `json:"success"`
	ThreadID *string `json:"threadId"`
}

// HealthResponse reports whether the provider credentials are present.
type HealthResponse struct {
	Status         string `json:"status"`
	Provider       string `json:"provider"`
	HasAPIKey      bool   `json:"hasApiKey"`
	HasAssistantID bool   `json:"hasAssistantId"`
	Configured     bool   `json:"configured"`
}

// TranscriptMessage is one message of a thread transcript.
type TranscriptMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	RunID     string `json:"runId,omitempty"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// TranscriptResponse lists a thread's messages, newest first.
type TranscriptResponse struct {
	ThreadID string              `json:"threadId"`
	Messages []TranscriptMessage `json:"messages"`
}

// ThreadListResponse lists the threads a local provider holds, oldest first.
type ThreadListResponse struct {
	Threads []string `json:"threads"`
	Count   int      `json:"count"`
}

// CancelRunResponse is the body of a run cancellation reply.
type CancelRunResponse struct {
	RunID     string `json:"runId"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Cancelled bool   `json:"cancelled"`
}

// WantsStream reports whether an Accept header asks for a framed stream.
func WantsStream(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mediaType == MIMEFramedText {
			return true
		}
	}
	return false
}

// IsFramedText reports whether a response Content-Type declares a framed stream.
func IsFramedText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == MIMEFramedText
}
