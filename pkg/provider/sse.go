package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// chunkReadTimeout bounds the wait for each raw network chunk. Long
// model "thinking" pauses stay under this; a dead connection does not.
const chunkReadTimeout = 60 * time.Second

// frameBuffer accumulates raw bytes and splits them into SSE frames.
type frameBuffer struct {
	buf []byte
}

func (b *frameBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
}

// nextFrame extracts the next complete frame. CRLF CRLF is preferred
// over LF LF so proxied Windows-style streams split correctly.
func (b *frameBuffer) nextFrame() ([]byte, bool) {
	pos := bytes.Index(b.buf, []byte("\r\n\r\n"))
	delimLen := 4
	if pos < 0 {
		pos = bytes.Index(b.buf, []byte("\n\n"))
		delimLen = 2
	}
	if pos < 0 {
		return nil, false
	}
	frame := make([]byte, pos)
	copy(frame, b.buf[:pos])
	b.buf = b.buf[pos+delimLen:]
	return frame, true
}

// rest drains whatever is left in the buffer.
func (b *frameBuffer) rest() []byte {
	out := b.buf
	b.buf = nil
	return out
}

// sseDataFromFrame collects the data lines of one SSE frame: comment
// lines are skipped, one optional space after "data:" is stripped, and
// multiple data lines join with a newline.
func sseDataFromFrame(frame []byte) (string, bool) {
	var parts []string
	for _, rawLine := range strings.Split(string(frame), "\n") {
		line := strings.TrimSuffix(rawLine, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, " ")
		parts = append(parts, rest)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// sseEventFromFrame additionally returns the event: field, for the
// event:/data: dialect.
func sseEventFromFrame(frame []byte) (event, data string, ok bool) {
	var parts []string
	for _, rawLine := range strings.Split(string(frame), "\n") {
		line := strings.TrimSuffix(rawLine, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if rest, found := strings.CutPrefix(line, "event:"); found {
			event = strings.TrimPrefix(rest, " ")
			continue
		}
		if rest, found := strings.CutPrefix(line, "data:"); found {
			parts = append(parts, strings.TrimPrefix(rest, " "))
		}
	}
	if event == "" && len(parts) == 0 {
		return "", "", false
	}
	return event, strings.Join(parts, "\n"), true
}

type readResult struct {
	data []byte
	err  error
}

// readBody pumps raw body chunks into a channel so the consumer can
// impose a per-chunk timeout. The goroutine exits when the body is
// closed or drained.
func readBody(body io.Reader) <-chan readResult {
	ch := make(chan readResult)
	go func() {
		defer close(ch)
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				ch <- readResult{data: data}
			}
			if err != nil {
				if err != io.EOF {
					ch <- readResult{err: fmt.Errorf("stream read error: %w", err)}
				}
				return
			}
		}
	}()
	return ch
}

// nextRawChunk waits for the next raw chunk, enforcing the per-chunk
// read timeout. It returns done=true at natural end of stream.
func nextRawChunk(ctx context.Context, raw <-chan readResult, timer *time.Timer) (data []byte, done bool, err error) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(chunkReadTimeout)

	select {
	case r, ok := <-raw:
		if !ok {
			return nil, true, nil
		}
		if r.err != nil {
			return nil, false, r.err
		}
		return r.data, false, nil
	case <-timer.C:
		return nil, false, fmt.Errorf(
			"stream chunk read timeout after %d seconds. The API may be unresponsive or the connection was lost",
			int(chunkReadTimeout.Seconds()))
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
