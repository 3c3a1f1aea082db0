package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// StreamParser reads an OpenAI-style server-sent event stream and yields the
// text deltas in order.
type StreamParser struct {
	lines *bufio.Scanner
	done  bool
}

func NewStreamParser(r io.Reader) *StreamParser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamParser{lines: sc}
}

// StreamChunk is one decoded event.
type StreamChunk struct {
	Content      string
	FinishReason string
	Done         bool
}

// Next returns the next event carrying choices. A stream that ends without
// [DONE] still finishes cleanly; lines that are not JSON data are skipped.
func (p *StreamParser) Next() (*StreamChunk, error) {
	if p.done {
		return &StreamChunk{Done: true}, nil
	}
	for p.lines.Scan() {
		data, ok := strings.CutPrefix(p.lines.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			p.done = true
			return &StreamChunk{Done: true}, nil
		}

		var event openRouterResponse
		if json.Unmarshal([]byte(data), &event) != nil || len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]
		text := choice.Delta.Content
		if text == "" {
			text = choice.Message.Content
		}
		return &StreamChunk{Content: text, FinishReason: choice.FinishReason, Done: choice.FinishReason != ""}, nil
	}
	if err := p.lines.Err(); err != nil {
		return nil, err
	}
	p.done = true
	return &StreamChunk{Done: true}, nil
}

// ParseAll hands every non-empty delta to emit, including the one on the
// final event.
func (p *StreamParser) ParseAll(emit func(string) error) error {
	for {
		chunk, err := p.Next()
		if err != nil {
			return err
		}
		if chunk.Content != "" {
			if err := emit(chunk.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}
