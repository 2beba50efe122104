package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"assessbot/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	frames  []protocol.Frame
	failAt  int // 1-based frame index that fails; 0 never fails
	written int
}

func (w *recordingWriter) WriteFrame(frame protocol.Frame) error {
	w.written++
	if w.failAt > 0 && w.written == w.failAt {
		return errors.New("broken pipe")
	}
	w.frames = append(w.frames, frame)
	return nil
}

func chunkText(frames []protocol.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		if chunk, ok := f.(protocol.ChunkFrame); ok {
			b.WriteString(chunk.Content)
		}
	}
	return b.String()
}

func TestStreamReplyContentFidelity(t *testing.T) {
	replies := []string{
		"Here is a short rubric.",
		"Criteria:\n1. Accuracy\n2. Clarity",
		"double  spaced  words",
		" leading and trailing ",
		"single",
	}

	for _, reply := range replies {
		t.Run(reply, func(t *testing.T) {
			w := &recordingWriter{}
			err := StreamReply(context.Background(), w, reply, "thread_1", 0, Sleep)
			require.NoError(t, err)

			joined := chunkText(w.frames)
			require.True(t, strings.HasSuffix(joined, " "))
			assert.Equal(t, reply, strings.TrimSuffix(joined, " "))
		})
	}
}

func TestStreamReplyTerminalFrameExclusivity(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, StreamReply(context.Background(), w, "one two three", "thread_1", 0, Sleep))

	require.Len(t, w.frames, 4)
	for _, f := range w.frames[:3] {
		assert.Equal(t, protocol.ChunkFrame{Content: f.(protocol.ChunkFrame).Content, ThreadID: "thread_1"}, f)
	}
	assert.Equal(t, protocol.CompleteFrame{ThreadID: "thread_1"}, w.frames[3])

	terminal := 0
	for _, f := range w.frames {
		if f.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestStreamReplyEmptyReply(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, StreamReply(context.Background(), w, "", "thread_1", 0, Sleep))
	assert.Equal(t, []protocol.Frame{protocol.CompleteFrame{ThreadID: "thread_1"}}, w.frames)
}

func TestStreamReplyDelaysAfterEachChunk(t *testing.T) {
	sleep := &recordingSleep{}
	w := &recordingWriter{}
	require.NoError(t, StreamReply(context.Background(), w, "a b c", "t", 50*time.Millisecond, sleep.sleep))
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}, sleep.waits)
}

func TestStreamReplyStopsAtFirstFailure(t *testing.T) {
	t.Run("write error", func(t *testing.T) {
		w := &recordingWriter{failAt: 2}
		err := StreamReply(context.Background(), w, "a b c", "t", 0, Sleep)
		require.Error(t, err)
		assert.Len(t, w.frames, 1)
		assert.Equal(t, 2, w.written)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		w := &recordingWriter{}
		err := StreamReply(ctx, w, "a b c", "t", time.Millisecond, Sleep)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, w.frames, 1)
	})
}
