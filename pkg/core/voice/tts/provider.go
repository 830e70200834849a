// Package tts turns translated text into speech. Replies are spoken in
// English, so synthesis defaults to the English voice the worker ships
// with.
package tts

import (
	"context"
	"sync"
	"sync/atomic"
)

// Provider is the interface for text-to-speech backends.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to a complete audio clip.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)

	// SynthesizeStream converts text to audio streamed as it is generated.
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)

	// NewStreamingContext opens a session that accepts text
	// incrementally and streams audio back as it is generated.
	NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error)
}

// StreamingContextOptions configures a streaming context.
type StreamingContextOptions struct {
	Voice            string  // Voice identifier
	Speed            float64 // Speed multiplier (0.6-1.5)
	Volume           float64 // Volume multiplier (0.5-2.0)
	Emotion          string  // Emotion hint
	Language         string  // Language code (default: "en")
	Format           string  // Output format: "wav", "mp3", or "pcm"
	SampleRate       int     // Sample rate
	MaxBufferDelayMs int     // Max time to buffer text before generating (0-5000ms, default 500)
}

// StreamingContext manages an incremental synthesis session. Text goes
// in through SendText and audio comes out on Audio. The Send and Close
// seams let backends plug in their transport and let tests substitute
// fakes.
type StreamingContext struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates an unbound streaming context. Backends
// attach SendFunc and CloseFunc before handing it out.
func NewStreamingContext() *StreamingContext {
	return &StreamingContext{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// SendText submits a text chunk for synthesis. The final chunk carries
// isFinal=true; after that the context accepts no more text.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent and generation should
// finish.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of audio chunks. It is closed when
// synthesis completes or fails; check Err afterwards.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Err reports a synthesis failure, if any.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Close tears the session down. Safe to call more than once. The done
// channel closes before the transport does so the backend read loop
// can tell a deliberate close from a transport failure.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		close(sc.done)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
	})
	return err
}

// Done returns a channel closed when the context is closed.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// PushAudio delivers an audio chunk from the backend. Returns false if
// the context closed first.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// SetError records a backend failure. The first error wins.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	if sc.err == nil {
		sc.err = err
	}
	sc.errMu.Unlock()
}

// FinishAudio closes the audio channel. Backends call it exactly once
// when no more audio will arrive.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}

// ErrContextClosed is returned when sending to a closed context.
var ErrContextClosed = &contextClosedError{}

type contextClosedError struct{}

func (e *contextClosedError) Error() string { return "streaming context closed" }

// SynthesizeOptions configures one-shot synthesis.
type SynthesizeOptions struct {
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier (0.6-1.5, default 1.0)
	Volume     float64 // Volume multiplier (0.5-2.0, default 1.0)
	Emotion    string  // Emotion hint (neutral, happy, sad, ...)
	Language   string  // Language code (default: "en")
	Format     string  // Output format: "wav", "mp3", or "pcm"
	SampleRate int     // Sample rate: 8000, 16000, 22050, 24000, 44100, 48000
}

// Synthesis is the result of one-shot synthesis.
type Synthesis struct {
	Audio    []byte  // Audio data
	Format   string  // Audio format
	Duration float64 // Duration in seconds (if available)
}

// SynthesisStream delivers one-shot synthesis output incrementally.
// Drain Chunks, then check Err.
type SynthesisStream struct {
	chunks chan []byte
	err    error
	errMu  sync.Mutex
	done   chan struct{}
	once   sync.Once
}

// NewSynthesisStream creates a synthesis stream.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 100),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks. It is closed when
// synthesis completes or fails.
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err reports a synthesis failure. Valid once Chunks is closed.
func (s *SynthesisStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close abandons the stream.
func (s *SynthesisStream) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

// SetError records a backend failure. The first error wins.
func (s *SynthesisStream) SetError(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Send delivers a chunk. Returns false if the stream was closed first.
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunks channel to signal completion.
func (s *SynthesisStream) FinishSending() {
	close(s.chunks)
}
