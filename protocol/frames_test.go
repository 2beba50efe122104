package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameWireShape(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{
			name:  "chunk",
			frame: ChunkFrame{Content: "Hello ", ThreadID: "thread_1"},
			want:  `{"type":"chunk","content":"Hello ","threadId":"thread_1"}`,
		},
		{
			name:  "complete",
			frame: CompleteFrame{ThreadID: "thread_1"},
			want:  `{"type":"complete","threadId":"thread_1","success":true}`,
		},
		{
			name:  "error with thread",
			frame: ErrorFrame{Error: "Run failed", ThreadID: "thread_1"},
			want:  `{"type":"error","error":"Run failed","threadId":"thread_1","success":false}`,
		},
		{
			name:  "error before thread",
			frame: ErrorFrame{Error: "Failed to create thread"},
			want:  `{"type":"error","error":"Failed to create thread","threadId":null,"success":false}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := EncodeFrame(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", string(line))
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Run("chunk", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"type":"chunk","content":"a ","threadId":"t1"}`))
		require.NoError(t, err)
		assert.Equal(t, ChunkFrame{Content: "a ", ThreadID: "t1"}, f)
		assert.False(t, f.Terminal())
	})

	t.Run("complete without thread id", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"type":"complete","success":true}`))
		require.NoError(t, err)
		assert.Equal(t, CompleteFrame{}, f)
		assert.True(t, f.Terminal())
	})

	t.Run("error with null thread id", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`{"type":"error","error":"boom","threadId":null,"success":false}`))
		require.NoError(t, err)
		assert.Equal(t, ErrorFrame{Error: "boom"}, f)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, line := range []string{
			`not json`,
			`{"type":"chunk"}`,
			`{"type":"error","success":false}`,
			`{"type":"progress","content":"x"}`,
			`{"content":"x"}`,
		} {
			_, err := DecodeFrame([]byte(line))
			assert.Error(t, err, line)
		}
	})
}

func TestWantsStream(t *testing.T) {
	assert.True(t, WantsStream("text/plain"))
	assert.True(t, WantsStream("application/json, text/plain;q=0.9"))
	assert.False(t, WantsStream("application/json"))
	assert.False(t, WantsStream(""))
	assert.False(t, WantsStream("text/event-stream"))
}

func TestIsFramedText(t *testing.T) {
	assert.True(t, IsFramedText("text/plain; charset=utf-8"))
	assert.False(t, IsFramedText("application/json; charset=UTF-8"))
	assert.False(t, IsFramedText(""))
}
