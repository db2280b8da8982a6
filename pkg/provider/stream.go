package provider

import (
	"io"
	"sync"
)

type streamItem struct {
	chunk Chunk
	err   error
}

// Stream is a pull iterator over canonical chunks. A producer goroutine
// feeds it; Recv returns io.EOF once the producer is done.
type Stream struct {
	items     chan streamItem
	cancel    func()
	closeOnce sync.Once
}

func newStream(cancel func()) (*Stream, chan streamItem) {
	items := make(chan streamItem, 16)
	return &Stream{items: items, cancel: cancel}, items
}

// Recv returns the next canonical chunk. It returns io.EOF when the
// stream has ended and a non-nil error on stream failure.
func (s *Stream) Recv() (Chunk, error) {
	item, ok := <-s.items
	if !ok {
		return Chunk{}, io.EOF
	}
	return item.chunk, item.err
}

// Close releases the stream's resources. It is safe to call more than
// once and safe to call concurrently with Recv.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
