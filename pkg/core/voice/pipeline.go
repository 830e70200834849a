// Package voice bundles the speech side of the translator: Cartesia
// transcription in, Cartesia synthesis out, and the sanitize package
// between model text and anything that gets spoken.
//
// A Pipeline carries the audio defaults (voice, sample rate, minimum
// volume) so callers configure them once. Live sessions take the
// providers directly via STTProvider and TTSProvider; the batch
// helpers TranscribeRecording and SpeakText serve the offline file
// mode and anything else that works on whole recordings.
package voice

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/vango-go/vai-translate/pkg/core/voice/stt"
	"github.com/vango-go/vai-translate/pkg/core/voice/tts"
)

// Pipeline pairs the STT and TTS providers with the session audio
// defaults.
type Pipeline struct {
	stt stt.Provider
	tts tts.Provider

	sampleRate int
	voice      string
	minVolume  float64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProviders replaces both providers. Used by tests and by callers
// that construct providers with custom HTTP clients.
func WithProviders(sttProvider stt.Provider, ttsProvider tts.Provider) Option {
	return func(p *Pipeline) {
		p.stt = sttProvider
		p.tts = ttsProvider
	}
}

// WithSampleRate sets the PCM sample rate used for capture and
// playback. Defaults to 24000.
func WithSampleRate(hz int) Option {
	return func(p *Pipeline) {
		p.sampleRate = hz
	}
}

// WithVoice sets the synthesis voice ID. Empty means the provider
// default.
func WithVoice(id string) Option {
	return func(p *Pipeline) {
		p.voice = id
	}
}

// WithMinVolume sets the server-side volume gate for streaming
// transcription.
func WithMinVolume(v float64) Option {
	return func(p *Pipeline) {
		p.minVolume = v
	}
}

// NewPipeline creates a pipeline backed by Cartesia for both
// directions.
func NewPipeline(cartesiaAPIKey string, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:        stt.NewCartesia(cartesiaAPIKey),
		tts:        tts.NewCartesia(cartesiaAPIKey),
		sampleRate: 24000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// STTProvider returns the transcription provider for live sessions.
func (p *Pipeline) STTProvider() stt.Provider {
	return p.stt
}

// TTSProvider returns the synthesis provider for live sessions.
func (p *Pipeline) TTSProvider() tts.Provider {
	return p.tts
}

// MinVolume returns the configured streaming volume gate.
func (p *Pipeline) MinVolume() float64 {
	return p.minVolume
}

// TranscribeRecording transcribes a complete recording. The provider
// defaults the language to Mandarin; word timestamps are always
// requested so callers can align the transcript with the audio.
func (p *Pipeline) TranscribeRecording(ctx context.Context, audio io.Reader, format string) (*stt.Transcript, error) {
	opts := stt.TranscribeOptions{
		Format:     format,
		Timestamps: true,
	}
	// Raw PCM has no header, so the provider needs the rate spelled out.
	if strings.HasPrefix(format, "pcm_") {
		opts.SampleRate = p.sampleRate
	}
	return p.stt.Transcribe(ctx, audio, opts)
}

// SpeakText synthesizes a complete reply as WAV at the pipeline
// sample rate. Callers are expected to have run the text through the
// output sanitizer first.
func (p *Pipeline) SpeakText(ctx context.Context, text string) (*tts.Synthesis, error) {
	return p.tts.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:      p.voice,
		Format:     "wav",
		SampleRate: p.sampleRate,
	})
}

// FormatFromPath guesses the transcription format from a file
// extension. Returns "" when the extension is unknown, letting the
// provider sniff the container instead.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "wav"
	case ".mp3":
		return "mp3"
	case ".flac":
		return "flac"
	case ".ogg":
		return "ogg"
	case ".webm":
		return "webm"
	case ".pcm", ".raw":
		return "pcm_s16le"
	default:
		return ""
	}
}
