package resilience

import (
	"context"
	"fmt"
)

// ChunkCount returns how many chunks n items split into under the ceiling.
func ChunkCount(n, ceiling int) int {
	if n <= 0 {
		return 0
	}
	if ceiling <= 0 {
		return 1
	}
	return (n + ceiling - 1) / ceiling
}

// Chunk splits items into consecutive chunks holding at most ceiling items.
// A non-positive ceiling yields a single chunk.
func Chunk[T any](items []T, ceiling int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if ceiling <= 0 || ceiling >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, ChunkCount(len(items), ceiling))
	for start := 0; start < len(items); start += ceiling {
		end := start + ceiling
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ChunkError reports a chunk failure. Chunks before Index were committed and
// are not compensated.
type ChunkError struct {
	Index     int
	Chunks    int
	Committed int
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d/%d failed after %d rows committed: %v", e.Index+1, e.Chunks, e.Committed, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ForEachChunk runs fn once per chunk in order. The context is checked between
// chunks, never in the middle of one.
func ForEachChunk[T any](ctx context.Context, items []T, ceiling int, fn func(ctx context.Context, index int, chunk []T) error) error {
	chunks := Chunk(items, ceiling)
	committed := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return &ChunkError{Index: i, Chunks: len(chunks), Committed: committed, Err: err}
		}
		if err := fn(ctx, i, chunk); err != nil {
			return &ChunkError{Index: i, Chunks: len(chunks), Committed: committed, Err: err}
		}
		committed += len(chunk)
	}
	return nil
}
