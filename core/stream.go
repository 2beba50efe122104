package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assessbot/protocol"

	"github.com/labstack/echo/v4"
)

// DefaultStreamChunkDelay separates emitted chunk frames.
const DefaultStreamChunkDelay = 50 * time.Millisecond

// FrameWriter writes one frame of a streamed reply.
type FrameWriter interface {
	WriteFrame(frame protocol.Frame) error
}

// Tokenize splits a reply on single spaces into the tokens emitted as
// chunks. Newlines stay inside their token and consecutive spaces yield
// empty tokens, so joining the tokens with " " gives back the reply.
func Tokenize(reply string) []string {
	if reply == "" {
		return nil
	}
	return strings.Split(reply, " ")
}

// StreamReply discloses an already known reply token by token: one chunk
// frame per token (with a trailing space), delay after each chunk, then a
// single complete frame. It stops at the first write or sleep error and
// writes nothing after it.
func StreamReply(ctx context.Context, w FrameWriter, reply, threadID string, delay time.Duration, sleep SleepFunc) error {
	for _, token := range Tokenize(reply) {
		if err := w.WriteFrame(protocol.ChunkFrame{Content: token + " ", ThreadID: threadID}); err != nil {
			return err
		}
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return w.WriteFrame(protocol.CompleteFrame{ThreadID: threadID})
}

// responseFrameWriter writes newline-terminated frames to an echo response,
// flushing after each one so the client sees it immediately.
type responseFrameWriter struct {
	res *echo.Response
}

func (w *responseFrameWriter) WriteFrame(frame protocol.Frame) error {
	line, err := protocol.EncodeFrame(frame)
	if err != nil {
		return err
	}
	if _, err := w.res.Write(line); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type(), err)
	}
	w.res.Flush()
	return nil
}
