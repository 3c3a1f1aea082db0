// Package llm talks to the text-generation and vision backends: Ollama over
// its NDJSON API and OpenRouter over server-sent events.
package llm

import (
	"context"
	"strings"
)

// Prompt is one user turn. Images are raw JPEG bytes attached to the turn.
type Prompt struct {
	Model  string
	System string
	Text   string
	Images [][]byte
}

// Streamer writes response chunks to out in arrival order. It never closes
// out; the caller owns the channel.
type Streamer interface {
	Stream(ctx context.Context, p Prompt, out chan<- string) error
}

// ChunkFunc observes the n-th chunk (1-based) as it arrives.
type ChunkFunc func(n int, chunk string)

// Collect drains s into a single string, calling onChunk for every chunk.
// Partial output is discarded when the stream fails.
func Collect(ctx context.Context, s Streamer, p Prompt, onChunk ChunkFunc) (string, error) {
	resultCh := make(chan string, 100)
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Stream(ctx, p, resultCh)
		close(resultCh)
	}()

	var text strings.Builder
	n := 0
	for chunk := range resultCh {
		n++
		if onChunk != nil {
			onChunk(n, chunk)
		}
		text.WriteString(chunk)
	}

	if err := <-errCh; err != nil {
		return "", err
	}
	return text.String(), nil
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, out chan<- string, chunk string) error {
	select {
	case out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
