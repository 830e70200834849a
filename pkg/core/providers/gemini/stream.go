package gemini

import (
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// eventStream adapts the SDK's push iterator to the pull-based
// EventStream contract. The final MessageDelta carries the stop reason
// and usage, followed by MessageStop, then io.EOF.
type eventStream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	model string

	err      error
	started  bool
	finished bool
	pending  []types.StreamEvent

	finishReason genai.FinishReason
	usage        types.Usage
}

func newEventStream(seq iter.Seq2[*genai.GenerateContentResponse, error], model string) *eventStream {
	next, stop := iter.Pull2(seq)
	return &eventStream{next: next, stop: stop, model: model}
}

// Next returns the next event. Returns nil, io.EOF when done.
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
		resp, err, ok := s.next()
		if !ok {
			return s.finish()
		}
		if err != nil {
			s.err = mapError(err)
			return nil, s.err
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			s.usage = toUsage(resp.UsageMetadata)
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			s.finishReason = resp.Candidates[0].FinishReason
		}

		text := resp.Text()

		if !s.started {
			s.started = true
			if text != "" {
				s.pending = append(s.pending, types.TextDeltaEvent{Text: text})
			}
			return types.MessageStartEvent{ID: "msg_" + s.model, Model: s.model}, nil
		}

		if text != "" {
			return types.TextDeltaEvent{Text: text}, nil
		}
	}
}

func (s *eventStream) finish() (types.StreamEvent, error) {
	s.finished = true
	s.pending = append(s.pending, types.MessageStopEvent{})
	return types.MessageDeltaEvent{
		StopReason: mapFinishReason(s.finishReason),
		Usage:      s.usage,
	}, nil
}

// Close releases the underlying iterator. Safe to call more than once.
func (s *eventStream) Close() error {
	s.stop()
	return nil
}
