/*
Package client consumes the assistant endpoint: it sends user turns, reads
either the JSON reply or the framed text stream, and keeps the conversation
state a chat UI renders.

A Session is an explicitly constructed conversation. Sessions share nothing,
so several conversations can run side by side.
*/
package client

import (
	"time"

	"github.com/google/uuid"
)

// DefaultGreeting is the assistant message a fresh or cleared session shows.
const DefaultGreeting = "Hello! I'm your assessment assistant. How can I help you plan, write or review an assessment today?"

// Message is one entry of the visible conversation.
type Message struct {
	ID          string
	Content     string
	IsUser      bool
	Timestamp   time.Time
	IsStreaming bool
}

// State is a snapshot of a conversation. Empty Error and ThreadID mean no
// error and no thread yet.
type State struct {
	Messages  []Message
	IsLoading bool
	Error     string
	ThreadID  string
}

func newMessageID() string {
	return uuid.NewString()
}

func initialState(greeting string, now time.Time) State {
	return State{
		Messages: []Message{{
			ID:        newMessageID(),
			Content:   greeting,
			IsUser:    false,
			Timestamp: now,
		}},
	}
}

func (s State) clone() State {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}

// indexOf returns the position of the message with id, or -1.
func (s *State) indexOf(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) remove(id string) {
	if i := s.indexOf(id); i >= 0 {
		s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
	}
}

// lastUserIndex returns the position of the most recent user message, or -1.
func (s *State) lastUserIndex() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].IsUser {
			return i
		}
	}
	return -1
}
