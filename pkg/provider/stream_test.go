package provider

import (
	"io"
	"testing"
)

// collectStream drains a stream, returning the chunks seen and the
// first error, if any.
func collectStream(t *testing.T, s *Stream) ([]Chunk, error) {
	t.Helper()
	defer s.Close()

	var chunks []Chunk
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

// joinedContent concatenates the content deltas of all chunks.
func joinedContent(chunks []Chunk) string {
	var out string
	for _, chunk := range chunks {
		for _, choice := range chunk.Choices {
			out += choice.Delta.Content
		}
	}
	return out
}

// joinedArguments accumulates tool-call argument fragments per index.
func joinedArguments(chunks []Chunk) map[int]string {
	out := make(map[int]string)
	for _, chunk := range chunks {
		for _, choice := range chunk.Choices {
			for _, tc := range choice.Delta.ToolCalls {
				out[tc.Index] += tc.Function.Arguments
			}
		}
	}
	return out
}
