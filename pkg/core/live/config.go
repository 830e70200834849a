package live

import (
	"github.com/vango-go/vai-translate/pkg/core/types"
)

// SessionState represents the current state of a live session.
type SessionState int

const (
	// StateConfiguring is the initial state before the session starts.
	StateConfiguring SessionState = iota
	// StateListening means the session is accepting user audio.
	StateListening
	// StateGracePeriod means a turn committed but the user can still
	// continue; the reply is already being generated underneath.
	StateGracePeriod
	// StateProcessing means the reply is being generated.
	StateProcessing
	// StateSpeaking means reply audio is streaming out.
	StateSpeaking
	// StateInterruptCapturing means the user spoke during playback and
	// the session is capturing enough audio to classify it.
	StateInterruptCapturing
	// StateClosed means the session has ended.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConfiguring:
		return "CONFIGURING"
	case StateListening:
		return "LISTENING"
	case StateGracePeriod:
		return "GRACE_PERIOD"
	case StateProcessing:
		return "PROCESSING"
	case StateSpeaking:
		return "SPEAKING"
	case StateInterruptCapturing:
		return "INTERRUPT_CAPTURING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultSystemPrompt is the interpreter instruction used when
// SessionConfig.System is left empty.
const DefaultSystemPrompt = `You are a simultaneous interpreter on a live voice call. The user speaks Mandarin Chinese. Translate each thing they say into natural, spoken English and reply with the English translation only. Never answer questions, never add commentary, never explain your translation. If part of the input is already English, carry it through unchanged. Keep the register of the original: casual stays casual, formal stays formal.`

// DefaultGreeting is the instruction used to produce the opening reply
// when SessionConfig.Greeting is left empty by callers that want one.
const DefaultGreeting = `Introduce yourself in one or two short English sentences: you are a live interpreter, and everything the user says in Mandarin will be spoken back in English.`

// TextOutputPolicy screens reply text at the speech boundary. The
// session calls BeforeSpeak exactly once per reply, with the complete
// generated text, before any synthesis starts. Whatever comes back is
// what gets spoken.
type TextOutputPolicy interface {
	BeforeSpeak(text string) string
}

// SessionConfig configures a live translation session.
type SessionConfig struct {
	// Model is the LLM used to generate replies.
	Model string `json:"model"`

	// System is the instruction prompt. Empty selects
	// DefaultSystemPrompt.
	System string `json:"system,omitempty"`

	// Greeting, when set, is an instruction the agent answers as its
	// first reply on session start. The instruction itself stays out
	// of the conversation history; the spoken reply is recorded like
	// any other turn.
	Greeting string `json:"greeting,omitempty"`

	// Messages seeds the conversation history.
	Messages []types.Message `json:"messages,omitempty"`

	// Input configures transcription of user audio.
	Input InputConfig `json:"input"`

	// Output configures speech synthesis of replies.
	Output OutputConfig `json:"output"`

	// Turn configures turn detection.
	Turn TurnConfig `json:"turn"`

	// GracePeriod configures the continuation window after a turn
	// commits.
	GracePeriod GracePeriodConfig `json:"grace_period"`

	// Interrupt configures barge-in handling during playback.
	Interrupt InterruptConfig `json:"interrupt"`

	// SampleRate is the session PCM rate in Hz. Default: 24000.
	SampleRate int `json:"sample_rate,omitempty"`

	// Channels is the audio channel count. Default: 1.
	Channels int `json:"channels,omitempty"`

	// MaxTokens caps reply generation. Default: 1024.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls reply sampling. Nil uses the model default.
	Temperature *float64 `json:"temperature,omitempty"`

	// Policy screens reply text before synthesis. Nil selects the
	// sanitize package default, which strips reasoning tags and
	// replaces untranslated Mandarin with a spoken fallback.
	Policy TextOutputPolicy `json:"-"`
}

// InputConfig configures the transcription leg.
type InputConfig struct {
	// Model is the STT model. Empty selects the provider default.
	Model string `json:"model,omitempty"`

	// Language is the expected input language. Empty selects the
	// provider default (Mandarin).
	Language string `json:"language,omitempty"`

	// MinVolume is the provider-side volume gate for streaming
	// transcription, 0 to 1. Zero selects the provider default.
	MinVolume float64 `json:"min_volume,omitempty"`
}

// OutputConfig configures the synthesis leg.
type OutputConfig struct {
	// Voice is the synthesis voice ID. Empty selects the provider
	// default.
	Voice string `json:"voice,omitempty"`

	// Speed adjusts speaking rate. Zero means provider default.
	Speed float64 `json:"speed,omitempty"`

	// Volume adjusts loudness. Zero means provider default.
	Volume float64 `json:"volume,omitempty"`

	// Format overrides the synthesis container. Default: raw PCM.
	Format string `json:"format,omitempty"`

	// SampleRate overrides the session rate for synthesis only.
	SampleRate int `json:"sample_rate,omitempty"`
}

// TurnConfig configures turn detection. Detection is hybrid: sentence
// punctuation or transcript inactivity proposes a boundary, and an LLM
// check confirms the user is actually done.
type TurnConfig struct {
	// Model is the LLM for completion checks. Empty uses the session
	// Model.
	Model string `json:"model,omitempty"`

	// PunctuationTrigger holds the runes that end a sentence and
	// trigger an immediate completion check. The default covers both
	// Mandarin and Western sentence punctuation.
	PunctuationTrigger string `json:"punctuation_trigger,omitempty"`

	// NoActivityTimeoutMs forces a completion check after this much
	// transcript inactivity. Default: 3000.
	NoActivityTimeoutMs int `json:"no_activity_timeout_ms,omitempty"`

	// SemanticCheck enables the LLM completion check. When false, a
	// punctuation or timeout trigger commits the turn directly.
	// Default: true.
	SemanticCheck bool `json:"semantic_check"`

	// MinUnitsForCheck is the minimum transcript size before a check
	// runs. Units are space-separated words, except Han characters,
	// which count one each. Default: 1.
	MinUnitsForCheck int `json:"min_units_for_check,omitempty"`

	// EnergyThreshold is the RMS level treated as user speech when
	// watching for continuation during the grace window, 0 to 1.
	// Default: 0.02.
	EnergyThreshold float64 `json:"energy_threshold,omitempty"`
}

// DefaultTurnConfig returns turn detection defaults tuned for
// conversational Mandarin.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		PunctuationTrigger:  "。！？．.!?",
		NoActivityTimeoutMs: 3000,
		SemanticCheck:       true,
		MinUnitsForCheck:    1,
		EnergyThreshold:     0.02,
	}
}

// GracePeriodConfig configures the continuation window that follows a
// committed turn. The reply generates during the window; if the user
// keeps talking, the reply is cancelled and their turns merge.
type GracePeriodConfig struct {
	// Enabled turns the window on. Default: true.
	Enabled bool `json:"enabled"`

	// DurationMs is the window length. Default: 5000.
	DurationMs int `json:"duration_ms,omitempty"`
}

// DefaultGracePeriodConfig returns the grace period defaults.
func DefaultGracePeriodConfig() GracePeriodConfig {
	return GracePeriodConfig{
		Enabled:    true,
		DurationMs: 5000,
	}
}

// InterruptMode controls how speech during playback is classified.
type InterruptMode string

const (
	// InterruptModeAuto captures a short window and classifies it as a
	// real interrupt or a backchannel.
	InterruptModeAuto InterruptMode = "auto"
	// InterruptModeAlways treats any speech during playback as a real
	// interrupt.
	InterruptModeAlways InterruptMode = "always"
	// InterruptModeNever ignores speech during playback.
	InterruptModeNever InterruptMode = "never"
)

// PartialSaveMode controls what happens to a partially spoken reply
// when a real interrupt cuts it off.
type PartialSaveMode string

const (
	// PartialSaveNone drops the partial reply from the history.
	PartialSaveNone PartialSaveMode = "none"
	// PartialSaveMarked saves the partial reply with an interruption
	// marker appended.
	PartialSaveMarked PartialSaveMode = "marked"
	// PartialSaveFull saves the partial reply as-is.
	PartialSaveFull PartialSaveMode = "full"
)

// InterruptConfig configures barge-in handling during playback.
type InterruptConfig struct {
	// Mode selects the classification strategy. Default: auto.
	Mode InterruptMode `json:"mode,omitempty"`

	// EnergyThreshold is the RMS level that counts as speech during
	// playback, 0 to 1. Higher than the turn threshold because the
	// user hears the bot and speaks over it deliberately.
	// Default: 0.05.
	EnergyThreshold float64 `json:"energy_threshold,omitempty"`

	// CaptureDurationMs is how much audio to capture before
	// classifying. Default: 600.
	CaptureDurationMs int `json:"capture_duration_ms,omitempty"`

	// PreRollMs is how much recent audio is kept while the bot speaks
	// and fed into the capture window when an interrupt starts, so the
	// first syllable is not lost. Default: 500.
	PreRollMs int `json:"pre_roll_ms,omitempty"`

	// SemanticCheck enables LLM classification in auto mode. When
	// false, auto mode falls back to the backchannel word list.
	// Default: true.
	SemanticCheck bool `json:"semantic_check"`

	// SemanticModel is the LLM for interrupt classification. Empty
	// uses the session Model.
	SemanticModel string `json:"semantic_model,omitempty"`

	// SavePartial controls history handling for interrupted replies.
	// Default: marked.
	SavePartial PartialSaveMode `json:"save_partial,omitempty"`
}

// DefaultInterruptConfig returns interrupt handling defaults.
func DefaultInterruptConfig() InterruptConfig {
	return InterruptConfig{
		Mode:              InterruptModeAuto,
		EnergyThreshold:   0.05,
		CaptureDurationMs: 600,
		PreRollMs:         500,
		SemanticCheck:     true,
		SavePartial:       PartialSaveMarked,
	}
}

// DefaultSessionConfig returns a config for Mandarin to English
// translation with all detection features on.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:       "deepseek-chat",
		System:      DefaultSystemPrompt,
		Turn:        DefaultTurnConfig(),
		GracePeriod: DefaultGracePeriodConfig(),
		Interrupt:   DefaultInterruptConfig(),
		SampleRate:  24000,
		Channels:    1,
		MaxTokens:   1024,
	}
}

// AudioConfig describes the PCM format a session runs at.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultAudioConfig returns the session audio format: 24kHz mono
// 16-bit PCM.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the PCM byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the playback duration of a byte count.
func (c AudioConfig) DurationMs(byteCount int) int {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return byteCount * 1000 / bps
}

// BytesForDurationMs returns the byte count for a duration.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return c.BytesPerSecond() * ms / 1000
}
