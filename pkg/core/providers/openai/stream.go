package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// eventStream implements EventStream over an SSE response body.
type eventStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	err      error
	started  bool
	finished bool
	pending  []types.StreamEvent

	responseID string
	model      string
	acc        streamAccumulator
}

// streamAccumulator collects stream-level state that only surfaces in
// the terminal events.
type streamAccumulator struct {
	finishReason string
	usage        chatUsage
}

// chatChunk is the streaming chunk format. DeepSeek reasoner models
// stream reasoning_content deltas ahead of the reply; those never
// reach the caller.
type chatChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role             string `json:"role,omitempty"`
			Content          string `json:"content,omitempty"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

// Next returns the next normalized event. io.EOF signals a completed
// stream; every stream ends with MessageDelta then MessageStop before
// EOF.
func (s *eventStream) Next() (types.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		return event, nil
	}
	if s.finished {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return s.finish()
			}
			s.err = err
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return s.finish()
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.ID != "" {
			s.responseID = chunk.ID
		}
		if chunk.Model != "" {
			s.model = chunk.Model
		}
		// Usage arrives on a trailing chunk with no choices when
		// stream_options.include_usage is set.
		if chunk.Usage != nil {
			s.acc.usage = *chunk.Usage
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			s.acc.finishReason = choice.FinishReason
		}

		if !s.started {
			s.started = true
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, types.TextDeltaEvent{Text: choice.Delta.Content})
			}
			return types.MessageStartEvent{ID: s.responseID, Model: s.model}, nil
		}

		if choice.Delta.Content != "" {
			return types.TextDeltaEvent{Text: choice.Delta.Content}, nil
		}
	}
}

// finish queues the terminal events and returns the first of them.
func (s *eventStream) finish() (types.StreamEvent, error) {
	if s.finished {
		return nil, io.EOF
	}
	s.finished = true

	s.pending = append(s.pending, types.MessageStopEvent{})
	return types.MessageDeltaEvent{
		StopReason: mapFinishReason(s.acc.finishReason),
		Usage:      s.acc.usage.toUsage(),
	}, nil
}

// Close releases the underlying response body.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
