// Package stt turns caller audio into text. The worker listens for
// Mandarin, so transcription defaults to Chinese unless the options
// say otherwise.
package stt

import (
	"context"
	"io"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts a complete audio recording to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)

	// NewStreamingSTT opens a live transcription session. Audio is
	// pushed incrementally and deltas arrive on the session channel.
	NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (*StreamingSTT, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string  // Provider-specific model (default: "ink-whisper")
	Language   string  // ISO language code (default: "zh")
	Format     string  // Audio format hint (wav, mp3, pcm_s16le, ...)
	SampleRate int     // Audio sample rate in Hz
	Timestamps bool    // Include word-level timestamps
	MinVolume  float64 // Server-side noise gate, 0..1 (default: 0.01)
}

// Transcript is the result of batch transcription.
type Transcript struct {
	Text     string  // Full transcribed text
	Language string  // Detected or specified language
	Duration float64 // Audio duration in seconds
	Words    []Word  // Word-level details (if timestamps requested)
}

// Word is a single transcribed word with timing.
type Word struct {
	Word  string  // The word
	Start float64 // Start time in seconds
	End   float64 // End time in seconds
}

// TranscriptDelta is a live transcript update.
type TranscriptDelta struct {
	Text     string  // Transcript segment
	IsFinal  bool    // True once the segment will no longer change
	Language string  // Language reported for the segment
	Duration float64 // Seconds of audio processed so far
}
