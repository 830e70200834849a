package live

import (
	"time"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// Event is a session event delivered through Session.Events().
type Event interface {
	EventType() string
}

// SessionCreatedEvent is emitted once the session is live and
// listening.
type SessionCreatedEvent struct {
	SessionID  string         `json:"session_id"`
	Config     *SessionConfig `json:"config"`
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
}

func (e *SessionCreatedEvent) EventType() string { return "session.created" }

// SessionClosedEvent is the last event a session emits.
type SessionClosedEvent struct {
	Reason string `json:"reason"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// StateChangedEvent reports a session state transition.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptPartialEvent carries an in-progress transcription of user
// speech. Partials may be revised; only finals enter the turn.
type TranscriptPartialEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptPartialEvent) EventType() string { return "transcript.partial" }

// TranscriptFinalEvent carries a finalized transcription of user
// speech.
type TranscriptFinalEvent struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func (e *TranscriptFinalEvent) EventType() string { return "transcript.final" }

// TurnAnalyzingEvent is emitted when the turn detector runs a
// completion check on the transcript.
type TurnAnalyzingEvent struct {
	Transcript string `json:"transcript"`
}

func (e *TurnAnalyzingEvent) EventType() string { return "turn.analyzing" }

// TurnCommittedEvent is emitted when a user turn commits. Forced means
// the inactivity timeout committed it without a completion
// confirmation.
type TurnCommittedEvent struct {
	Transcript string `json:"transcript"`
	Forced     bool   `json:"forced"`
}

func (e *TurnCommittedEvent) EventType() string { return "turn.committed" }

// TextInputEvent acknowledges typed text submitted with SendText.
type TextInputEvent struct {
	Text string `json:"text"`
}

func (e *TextInputEvent) EventType() string { return "input.text" }

// InputCommittedEvent is emitted when a user turn, spoken or typed,
// enters the conversation and reply generation starts.
type InputCommittedEvent struct {
	Transcript string `json:"transcript"`
}

func (e *InputCommittedEvent) EventType() string { return "input.committed" }

// GracePeriodStartedEvent is emitted when the continuation window
// opens. The reply is already generating; the window only decides
// whether it survives.
type GracePeriodStartedEvent struct {
	Transcript string    `json:"transcript"`
	DurationMs int       `json:"duration_ms"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (e *GracePeriodStartedEvent) EventType() string { return "grace_period.started" }

// GracePeriodExtendedEvent is emitted when the user continued during
// the window and the turns merged.
type GracePeriodExtendedEvent struct {
	PreviousTranscript string `json:"previous_transcript"`
	CombinedTranscript string `json:"combined_transcript"`
}

func (e *GracePeriodExtendedEvent) EventType() string { return "grace_period.extended" }

// GracePeriodExpiredEvent is emitted when the window closes with no
// continuation.
type GracePeriodExpiredEvent struct {
	Transcript string `json:"transcript"`
}

func (e *GracePeriodExpiredEvent) EventType() string { return "grace_period.expired" }

// ReplyStartedEvent is emitted when reply generation begins streaming.
type ReplyStartedEvent struct{}

func (e *ReplyStartedEvent) EventType() string { return "agent.reply.started" }

// ReplyTextEvent carries one streamed text delta of the reply.
type ReplyTextEvent struct {
	Delta string `json:"delta"`
}

func (e *ReplyTextEvent) EventType() string { return "agent.reply.text" }

// ReplyDoneEvent is emitted when the reply text is complete. Text is
// what the model produced; SpokenText is what the output policy passed
// to synthesis.
type ReplyDoneEvent struct {
	Text       string `json:"text"`
	SpokenText string `json:"spoken_text"`
}

func (e *ReplyDoneEvent) EventType() string { return "agent.reply.done" }

// ReplyAudioEvent carries one chunk of synthesized reply audio.
type ReplyAudioEvent struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

func (e *ReplyAudioEvent) EventType() string { return "agent.reply.audio" }

// AudioDoneEvent is emitted when reply playback has fully streamed.
type AudioDoneEvent struct {
	DurationMs int `json:"duration_ms"`
}

func (e *AudioDoneEvent) EventType() string { return "audio.done" }

// AudioFlushEvent tells the playback side to drop any buffered audio
// immediately. Emitted when a reply is cancelled or interrupted.
type AudioFlushEvent struct{}

func (e *AudioFlushEvent) EventType() string { return "audio.flush" }

// InterruptDetectedEvent is emitted when speech is detected during
// playback and the capture window opens.
type InterruptDetectedEvent struct{}

func (e *InterruptDetectedEvent) EventType() string { return "interrupt.detected" }

// InterruptCapturedEvent is emitted when the capture window fills.
type InterruptCapturedEvent struct {
	Transcript string `json:"transcript"`
}

func (e *InterruptCapturedEvent) EventType() string { return "interrupt.captured" }

// InterruptDismissedEvent is emitted when captured speech turned out
// to be a backchannel or noise; playback resumes.
type InterruptDismissedEvent struct {
	Transcript string `json:"transcript"`
	Reason     string `json:"reason"`
}

func (e *InterruptDismissedEvent) EventType() string { return "interrupt.dismissed" }

// InterruptConfirmedEvent is emitted when captured speech is a real
// interrupt. The reply stops and the captured transcript becomes the
// next turn.
type InterruptConfirmedEvent struct {
	Transcript      string `json:"transcript"`
	PartialReply    string `json:"partial_reply"`
	AudioPositionMs int    `json:"audio_position_ms"`
}

func (e *InterruptConfirmedEvent) EventType() string { return "interrupt.confirmed" }

// TTSPausedEvent is emitted when playback pauses for interrupt
// capture.
type TTSPausedEvent struct {
	PositionMs int `json:"position_ms"`
}

func (e *TTSPausedEvent) EventType() string { return "tts.paused" }

// TTSResumedEvent is emitted when paused playback resumes.
type TTSResumedEvent struct {
	PositionMs int `json:"position_ms"`
}

func (e *TTSResumedEvent) EventType() string { return "tts.resumed" }

// TTSCancelledEvent is emitted when playback is cancelled outright.
type TTSCancelledEvent struct {
	PositionMs int `json:"position_ms"`
}

func (e *TTSCancelledEvent) EventType() string { return "tts.cancelled" }

// PolicyViolationEvent is emitted when the output policy caught reply
// text that should not be spoken as-is.
type PolicyViolationEvent struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (e *PolicyViolationEvent) EventType() string { return "policy.violation" }

// MetricsCollectedEvent reports per-turn counters once the reply has
// fully played out.
type MetricsCollectedEvent struct {
	Usage        types.Usage `json:"usage"`
	FirstTokenMs int         `json:"first_token_ms"`
	ReplyChars   int         `json:"reply_chars"`
	AudioMs      int         `json:"audio_ms"`
}

func (e *MetricsCollectedEvent) EventType() string { return "metrics.collected" }

// ErrorEvent reports a session error. The session keeps running
// unless a SessionClosedEvent follows.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent carries internal diagnostics when debug is enabled.
// Categories: AUDIO, STT, TURN, SEMANTIC, GRACE, LLM, POLICY, TTS,
// INTERRUPT, INPUT, SESSION.
type DebugEvent struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
