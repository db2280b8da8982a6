package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBuffer(t *testing.T) {
	t.Run("splits on double newline", func(t *testing.T) {
		var b frameBuffer
		b.write([]byte("data: one\n\ndata: two\n\n"))

		frame, ok := b.nextFrame()
		require.True(t, ok)
		assert.Equal(t, "data: one", string(frame))

		frame, ok = b.nextFrame()
		require.True(t, ok)
		assert.Equal(t, "data: two", string(frame))

		_, ok = b.nextFrame()
		assert.False(t, ok)
	})

	t.Run("prefers crlf delimiter", func(t *testing.T) {
		var b frameBuffer
		b.write([]byte("data: one\r\n\r\ndata: two"))

		frame, ok := b.nextFrame()
		require.True(t, ok)
		assert.Equal(t, "data: one", string(frame))
		assert.Equal(t, "data: two", string(b.rest()))
	})

	t.Run("partial frame stays buffered", func(t *testing.T) {
		var b frameBuffer
		b.write([]byte("data: par"))
		_, ok := b.nextFrame()
		assert.False(t, ok)

		b.write([]byte("tial\n\n"))
		frame, ok := b.nextFrame()
		require.True(t, ok)
		assert.Equal(t, "data: partial", string(frame))
	})

	t.Run("utf8 runes split across writes survive", func(t *testing.T) {
		var b frameBuffer
		payload := []byte("data: héllo wörld\n\n")
		b.write(payload[:8])
		b.write(payload[8:])

		frame, ok := b.nextFrame()
		require.True(t, ok)
		data, ok := sseDataFromFrame(frame)
		require.True(t, ok)
		assert.Equal(t, "héllo wörld", data)
	})
}

func TestSSEDataFromFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
		ok    bool
	}{
		{
			name:  "data without space",
			frame: `data:{"x":1}` + "\n",
			want:  `{"x":1}`,
			ok:    true,
		},
		{
			name:  "one leading space stripped",
			frame: "data:  padded\n",
			want:  " padded",
			ok:    true,
		},
		{
			name:  "joins multiple data lines",
			frame: "event: message\ndata: a\ndata: b\n",
			want:  "a\nb",
			ok:    true,
		},
		{
			name:  "skips comment lines",
			frame: ": keepalive\ndata: x\n",
			want:  "x",
			ok:    true,
		},
		{
			name:  "crlf line endings",
			frame: "data: x\r\ndata: y\r",
			want:  "x\ny",
			ok:    true,
		},
		{
			name:  "no data lines",
			frame: "event: ping\n",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sseDataFromFrame([]byte(tt.frame))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSSEEventFromFrame(t *testing.T) {
	event, data, ok := sseEventFromFrame([]byte("event: text_delta\ndata: {\"text\":\"hi\"}\n"))
	require.True(t, ok)
	assert.Equal(t, "text_delta", event)
	assert.Equal(t, `{"text":"hi"}`, data)

	_, _, ok = sseEventFromFrame([]byte(": comment only\n"))
	assert.False(t, ok)
}
