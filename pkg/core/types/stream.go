package types

// StreamEvent is the interface for normalized LLM streaming events.
// Every provider translates its own wire format into this sequence:
// MessageStart, zero or more TextDelta, MessageDelta, MessageStop.
type StreamEvent interface {
	EventType() string
}

// StopReason explains why generation ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonCanceled  StopReason = "canceled"
)

// MessageStartEvent opens a generation.
type MessageStartEvent struct {
	ID    string
	Model string
}

func (e MessageStartEvent) EventType() string { return "message_start" }

// TextDeltaEvent carries an incremental slice of generated text.
type TextDeltaEvent struct {
	Text string
}

func (e TextDeltaEvent) EventType() string { return "text_delta" }

// MessageDeltaEvent closes out generation metadata: why the model
// stopped and what it consumed.
type MessageDeltaEvent struct {
	StopReason StopReason
	Usage      Usage
}

func (e MessageDeltaEvent) EventType() string { return "message_delta" }

// MessageStopEvent is the final event of a generation.
type MessageStopEvent struct{}

func (e MessageStopEvent) EventType() string { return "message_stop" }

// PingEvent keeps long streams alive. Consumers may ignore it.
type PingEvent struct{}

func (e PingEvent) EventType() string { return "ping" }

// ErrorEvent surfaces a mid-stream provider error.
type ErrorEvent struct {
	Message string
}

func (e ErrorEvent) EventType() string { return "error" }
