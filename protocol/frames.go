package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType discriminates the three frame shapes of a streamed reply.
type FrameType string

const (
	FrameTypeChunk    FrameType = "chunk"
	FrameTypeComplete FrameType = "complete"
	FrameTypeError    FrameType = "error"
)

// Frame is one newline-terminated record of a streamed reply. The set of
// implementations is closed: ChunkFrame, CompleteFrame and ErrorFrame.
type Frame interface {
	Type() FrameType
	// Terminal reports whether the frame ends the stream.
	Terminal() bool
	frame()
}

// ChunkFrame carries the next piece of the reply.
type ChunkFrame struct {
	Content  string
	ThreadID string
}

// CompleteFrame ends a successful stream.
type CompleteFrame struct {
	ThreadID string
}

// ErrorFrame ends a failed stream. ThreadID is empty when the failure
// happened before a thread was resolved.
type ErrorFrame struct {
	Error    string
	ThreadID string
}

func (ChunkFrame) Type() FrameType    { return FrameTypeChunk }
func (CompleteFrame) Type() FrameType { return FrameTypeComplete }
func (ErrorFrame) Type() FrameType    { return FrameTypeError }

func (ChunkFrame) Terminal() bool    { return false }
func (CompleteFrame) Terminal() bool { return true }
func (ErrorFrame) Terminal() bool    { return true }

func (ChunkFrame) frame()    {}
func (CompleteFrame) frame() {}
func (ErrorFrame) frame()    {}

// wireFrame is the JSON shape shared by all frame types.
type wireFrame struct {
	Type     FrameType `json:"type"`
	Content  *string   `json:"content,omitempty"`
	Error    *string   `json:"error,omitempty"`
	ThreadID *string   `json:"threadId"`
	Success  *bool     `json:"success,omitempty"`
}

var errMissingField = errors.New("missing required field")

func (f ChunkFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFrame{
		Type:     FrameTypeChunk,
		Content:  &f.Content,
		ThreadID: &f.ThreadID,
	})
}

func (f CompleteFrame) MarshalJSON() ([]byte, error) {
	success := true
	return json.Marshal(wireFrame{
		Type:     FrameTypeComplete,
		ThreadID: &f.ThreadID,
		Success:  &success,
	})
}

func (f ErrorFrame) MarshalJSON() ([]byte, error) {
	success := false
	w := wireFrame{
		Type:    FrameTypeError,
		Error:   &f.Error,
		Success: &success,
	}
	if f.ThreadID != "" {
		w.ThreadID = &f.ThreadID
	}
	return json.Marshal(w)
}

// EncodeFrame renders a frame as one line of the stream, newline included.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type(), err)
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses one line (without its newline) into a Frame.
func DecodeFrame(line []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	threadID := ""
	if w.ThreadID != nil {
		threadID = *w.ThreadID
	}

	switch w.Type {
	case FrameTypeChunk:
		if w.Content == nil {
			return nil, fmt.Errorf("decode chunk frame: %w: content", errMissingField)
		}
		return ChunkFrame{Content: *w.Content, ThreadID: threadID}, nil
	case FrameTypeComplete:
		return CompleteFrame{ThreadID: threadID}, nil
	case FrameTypeError:
		if w.Error == nil {
			return nil, fmt.Errorf("decode error frame: %w: error", errMissingField)
		}
		return ErrorFrame{Error: *w.Error, ThreadID: threadID}, nil
	default:
		return nil, fmt.Errorf("decode frame: unknown type %q", w.Type)
	}
}
