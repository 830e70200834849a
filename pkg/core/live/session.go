package live

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-translate/pkg/core/types"
	"github.com/vango-go/vai-translate/pkg/core/voice/sanitize"
	"github.com/vango-go/vai-translate/pkg/core/voice/stt"
	"github.com/vango-go/vai-translate/pkg/core/voice/tts"
)

// LLMClient is the generation interface the session needs. Generate
// serves the small classification checks; StreamMessage serves reply
// generation.
type LLMClient interface {
	Generate(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResponse, error)
	StreamMessage(ctx context.Context, req *types.GenerateRequest) (EventStream, error)
}

// EventStream iterates streamed generation events.
type EventStream interface {
	Next() (types.StreamEvent, error)
	Close() error
}

// TTSClient opens streaming synthesis contexts.
type TTSClient interface {
	NewStreamingContext(ctx context.Context, opts tts.StreamingContextOptions) (*tts.StreamingContext, error)
}

// STTClient opens streaming transcription sessions.
type STTClient interface {
	NewStreamingSTT(ctx context.Context, opts stt.TranscribeOptions) (*stt.StreamingSTT, error)
}

// Session is a live translation session. Audio goes in through
// SendAudio, events come out through Events. One session serves one
// conversation.
type Session struct {
	config      SessionConfig
	audioConfig AudioConfig
	policy      TextOutputPolicy

	llmClient LLMClient
	ttsClient TTSClient
	sttClient STTClient

	turn        *TurnDetector
	gracePeriod *GracePeriodManager
	interrupt   *InterruptDetector
	preRoll     *RingBuffer

	mu                sync.RWMutex
	state             SessionState
	sessionID         string
	messages          []types.Message
	currentTranscript string
	agentCancel       context.CancelFunc

	// Per-turn reply tracking, reset when a turn starts.
	partialReply string
	replySaved   bool
	spokenText   string
	turnStart    time.Time
	firstTokenMs int
	turnUsage    types.Usage
	replyChars   int

	sttMu      sync.Mutex
	sttSession *stt.StreamingSTT

	ttsMu       sync.Mutex
	ttsContext  *tts.StreamingContext
	ttsPaused   bool
	ttsDrained  bool
	ttsPosition int
	pausedAudio [][]byte

	events       chan Event
	audio        chan []byte
	done         chan struct{}
	closed       atomic.Bool
	emitMu       sync.RWMutex
	eventsClosed bool

	ctx    context.Context
	cancel context.CancelFunc

	debugEnabled bool
}

// NewSession creates a session. Call Start to go live.
func NewSession(config SessionConfig, llmClient LLMClient, ttsClient TTSClient, sttClient STTClient) *Session {
	if config.Model == "" {
		config.Model = DefaultSessionConfig().Model
	}
	if config.System == "" {
		config.System = DefaultSystemPrompt
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultSessionConfig().MaxTokens
	}
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}

	audioConfig := AudioConfig{
		SampleRate:    config.SampleRate,
		Channels:      config.Channels,
		BitsPerSample: 16,
	}

	s := &Session{
		config:      config,
		audioConfig: audioConfig,
		llmClient:   llmClient,
		ttsClient:   ttsClient,
		sttClient:   sttClient,
		state:       StateConfiguring,
		sessionID:   generateSessionID(),
		messages:    append([]types.Message(nil), config.Messages...),
		events:      make(chan Event, 100),
		audio:       make(chan []byte, 100),
		done:        make(chan struct{}),
	}

	s.policy = config.Policy
	if s.policy == nil {
		s.policy = sanitize.New(
			sanitize.WithViolationHook(func(text string) {
				s.emit(&PolicyViolationEvent{Text: text, Reason: "untranslated_reply"})
			}),
			sanitize.WithCleanHook(func(original, cleaned string) {
				if original != cleaned {
					s.debug("POLICY", fmt.Sprintf("Cleaned reply: %q -> %q", original, cleaned))
				}
			}),
		)
	}

	return s
}

// Start brings the session live: transcription connects, the turn
// detector starts, and the session begins listening. If a greeting is
// configured, the agent speaks it first.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConfiguring {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.initComponents()

	if err := s.startSTT(); err != nil {
		return fmt.Errorf("start transcription: %w", err)
	}

	go s.audioLoop()
	go s.sttLoop()

	s.setState(StateListening)

	s.emit(&SessionCreatedEvent{
		SessionID:  s.sessionID,
		Config:     &s.config,
		SampleRate: s.audioConfig.SampleRate,
		Channels:   s.audioConfig.Channels,
	})
	s.debug("SESSION", "Session started: "+s.sessionID)

	if s.config.Greeting != "" {
		s.speakGreeting()
	}
	return nil
}

func (s *Session) initComponents() {
	s.turn = NewTurnDetector(s.config.Turn, SemanticCheckerFunc(s.checkTurnComplete))
	s.turn.SetCallbacks(
		func(transcript string) { s.emit(&TurnAnalyzingEvent{Transcript: transcript}) },
		s.onTurnCommit,
		s.debug,
	)
	s.turn.Start(s.ctx)

	s.gracePeriod = NewGracePeriodManager(s.config.GracePeriod)
	s.gracePeriod.SetCallbacks(
		s.onGracePeriodExpired,
		s.onGracePeriodContinuation,
		s.debug,
	)

	s.interrupt = NewInterruptDetector(s.config.Interrupt, s.audioConfig, InterruptCheckerFunc(s.checkInterrupt))
	s.interrupt.SetCallbacks(
		func() { s.emit(&InterruptDetectedEvent{}) },
		func(transcript string) { s.emit(&InterruptCapturedEvent{Transcript: transcript}) },
		func(transcript, reason string) { s.emit(&InterruptDismissedEvent{Transcript: transcript, Reason: reason}) },
		s.debug,
	)

	if s.config.Interrupt.PreRollMs > 0 {
		s.preRoll = NewRingBuffer(s.audioConfig, s.config.Interrupt.PreRollMs)
	}
}

// startSTT opens the streaming transcription session.
func (s *Session) startSTT() error {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()

	session, err := s.sttClient.NewStreamingSTT(s.ctx, stt.TranscribeOptions{
		Model:      s.config.Input.Model,
		Language:   s.config.Input.Language,
		Format:     "pcm_s16le",
		SampleRate: s.audioConfig.SampleRate,
		MinVolume:  s.config.Input.MinVolume,
	})
	if err != nil {
		return err
	}
	s.sttSession = session
	return nil
}

// speakGreeting generates and speaks the opening reply. The greeting
// instruction stays out of the history; the spoken reply is recorded
// like any other turn.
func (s *Session) speakGreeting() {
	s.debug("SESSION", "Generating greeting")

	s.mu.Lock()
	messages := make([]types.Message, 0, len(s.messages)+1)
	messages = append(messages, s.messages...)
	messages = append(messages, types.UserMessage(s.config.Greeting))
	s.beginTurnLocked()
	s.mu.Unlock()

	agentCtx := s.newAgentContext()
	s.setState(StateProcessing)
	go s.runAgent(agentCtx, messages)
}

// SendAudio submits user audio as 16-bit little-endian PCM at the
// session sample rate. The caller may reuse the slice; the session
// keeps its own copy.
func (s *Session) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case s.audio <- buf:
	default:
		s.debug("AUDIO", "Audio channel full, dropping chunk")
	}
	return nil
}

// SendText submits typed text as a complete user turn, bypassing turn
// detection and the grace window. If a reply is in flight, the text
// waits for it to finish.
func (s *Session) SendText(text string) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	s.debug("INPUT", fmt.Sprintf("Typed input received (state: %s)", state))
	s.emit(&TextInputEvent{Text: text})

	switch state {
	case StateListening:
		s.processTypedInput(text)
	case StateGracePeriod:
		s.gracePeriod.Cancel()
		s.cancelAgent()
		s.cancelTTS()
		s.emit(&AudioFlushEvent{})
		s.processTypedInput(text)
	case StateProcessing, StateSpeaking, StateInterruptCapturing:
		go func() {
			s.waitForResponseComplete()
			s.processTypedInput(text)
		}()
	default:
		return fmt.Errorf("cannot send text in state %s", state)
	}
	return nil
}

func (s *Session) processTypedInput(text string) {
	s.turn.Reset()
	s.startAgentProcessing(text)
}

// Commit forces the accumulated transcript to commit as a turn,
// push-to-talk style.
func (s *Session) Commit() error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateListening {
		return fmt.Errorf("cannot commit in state %s", state)
	}

	transcript := s.turn.GetTranscript()
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("no transcript to commit")
	}

	s.debug("TURN", "Manual commit")
	s.turn.Reset()
	s.onTurnCommit(transcript, false)
	return nil
}

// Interrupt stops the in-flight reply as if a real interrupt had been
// confirmed. An empty transcript just returns the session to
// listening.
func (s *Session) Interrupt(transcript string) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateProcessing && state != StateSpeaking && state != StateGracePeriod && state != StateInterruptCapturing {
		return fmt.Errorf("nothing to interrupt in state %s", state)
	}

	s.gracePeriod.Cancel()
	s.interrupt.Reset()
	s.confirmInterrupt(transcript)
	return nil
}

// Events returns the session event channel. It closes after
// SessionClosedEvent.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string {
	return s.sessionID
}

// History returns a copy of the conversation history.
func (s *Session) History() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// EnableDebug turns on debug output: DebugEvents on the event channel
// and a timestamped trace on stderr. Call before Start.
func (s *Session) EnableDebug() {
	s.debugEnabled = true
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.debug("SESSION", "Closing session")

	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	if s.turn != nil {
		s.turn.Stop()
	}
	if s.gracePeriod != nil {
		s.gracePeriod.Cancel()
	}
	s.cancelAgent()

	s.sttMu.Lock()
	if s.sttSession != nil {
		s.sttSession.Close()
		s.sttSession = nil
	}
	s.sttMu.Unlock()

	s.ttsMu.Lock()
	if s.ttsContext != nil {
		s.ttsContext.Close()
		s.ttsContext = nil
	}
	s.ttsMu.Unlock()

	close(s.done)
	s.setState(StateClosed)
	s.emit(&SessionClosedEvent{Reason: "closed"})

	s.emitMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.emitMu.Unlock()

	return nil
}

// audioLoop drains the audio channel into state-dependent processing.
func (s *Session) audioLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case data := <-s.audio:
			s.processAudio(data)
		}
	}
}

// processAudio routes one audio chunk by state.
func (s *Session) processAudio(data []byte) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	switch state {
	case StateListening:
		// The provider-side volume gate filters silence; everything
		// goes through.
		s.sendToSTT(data)

	case StateProcessing:
		// The reply has not started playing. Loud speech here means
		// the user wants to keep going before the response lands.
		if CalculateRMSEnergy(data) > s.config.Interrupt.EnergyThreshold {
			s.debug("AUDIO", "Speech during processing, cancelling reply")
			s.cancelAgent()
			s.cancelTTS()
			s.emit(&AudioFlushEvent{})
			s.setState(StateListening)
			s.sendToSTT(data)
		}

	case StateGracePeriod:
		// Energy cancels the pending reply immediately so nothing gets
		// spoken over the user; the transcript catches up through STT.
		if CalculateRMSEnergy(data) > s.config.Turn.EnergyThreshold {
			if s.hasAgent() || s.ttsActive() {
				s.debug("GRACE", "User speech during grace window, cancelling reply")
				s.cancelAgent()
				s.cancelTTS()
				s.emit(&AudioFlushEvent{})
			}
		}
		s.sendToSTT(data)

	case StateSpeaking:
		if s.gracePeriod.IsActive() {
			// Playback with the window still open means the user can
			// continue without it counting as an interrupt.
			if CalculateRMSEnergy(data) > s.config.Turn.EnergyThreshold && s.ttsActive() {
				s.debug("GRACE", "User speech while speaking, cancelling playback")
				s.cancelAgent()
				s.cancelTTS()
				s.emit(&AudioFlushEvent{})
			}
			s.sendToSTT(data)
			return
		}

		if s.preRoll != nil {
			s.preRoll.Write(data)
		}
		if s.config.Interrupt.Mode != InterruptModeNever &&
			CalculateRMSEnergy(data) > s.config.Interrupt.EnergyThreshold {
			s.handlePotentialInterrupt()
		}
		// STT stays warm during playback so an interrupt transcribes
		// without a cold start.
		s.sendToSTT(data)

	case StateInterruptCapturing:
		s.interrupt.AddAudio(data)
		s.sendToSTT(data)
		if s.interrupt.CaptureComplete() {
			s.handleInterruptResult(s.interrupt.Analyze(s.ctx))
		}
	}
}

func (s *Session) sendToSTT(data []byte) {
	s.sttMu.Lock()
	session := s.sttSession
	s.sttMu.Unlock()
	if session != nil {
		session.SendAudio(data)
	}
}

func (s *Session) hasAgent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentCancel != nil
}

func (s *Session) ttsActive() bool {
	s.ttsMu.Lock()
	defer s.ttsMu.Unlock()
	return s.ttsContext != nil
}

// handlePotentialInterrupt pauses playback and opens the capture
// window, seeded with the pre-roll so the first syllable of the
// interruption is not lost.
func (s *Session) handlePotentialInterrupt() {
	s.debug("INTERRUPT", "Speech detected during playback, pausing")

	s.pauseTTS()
	s.emit(&AudioFlushEvent{})

	s.interrupt.StartCapture()
	if s.preRoll != nil {
		s.interrupt.AddAudio(s.preRoll.Read())
		s.preRoll.Clear()
	}

	s.setState(StateInterruptCapturing)
}

// handleInterruptResult acts on the interrupt classification.
func (s *Session) handleInterruptResult(result InterruptResult) {
	switch result {
	case InterruptNone, InterruptBackchannel:
		s.debug("INTERRUPT", "Dismissed as "+result.String()+", resuming playback")
		resumed, finished := s.resumeTTS()
		switch {
		case !resumed:
			// Playback is gone, the stream died while paused. Speak
			// the reply again rather than leave the turn half
			// delivered.
			s.mu.RLock()
			text := s.spokenText
			s.mu.RUnlock()
			if text != "" {
				s.debug("TTS", "No playback to resume, re-speaking reply")
				s.speakReply(s.ctx, text)
				return
			}
			s.finishTurn()
		case finished:
			// resumeTTS delivered the buffered tail and closed out the
			// turn.
		default:
			s.setState(StateSpeaking)
		}

	case InterruptReal:
		s.debug("INTERRUPT", "Confirmed real interrupt")
		s.confirmInterrupt(s.interrupt.CapturedTranscript())
	}
}

// confirmInterrupt stops the in-flight reply, records whatever part of
// it was produced, and feeds the interrupting speech in as the next
// turn.
func (s *Session) confirmInterrupt(transcript string) {
	s.mu.Lock()
	partial := s.partialReply
	if !s.replySaved && partial != "" {
		switch s.config.Interrupt.SavePartial {
		case PartialSaveNone:
		case PartialSaveFull:
			s.messages = append(s.messages, types.AssistantMessage(partial))
			s.replySaved = true
		default:
			s.messages = append(s.messages, types.AssistantMessage(partial+" [cut off by the user]"))
			s.replySaved = true
		}
	}
	s.mu.Unlock()

	s.emit(&InterruptConfirmedEvent{
		Transcript:      transcript,
		PartialReply:    partial,
		AudioPositionMs: s.audioPositionMs(),
	})

	s.cancelAgent()
	s.cancelTTS()
	s.emit(&AudioFlushEvent{})
	s.setState(StateListening)
	s.turn.Reset()

	// The interrupting speech becomes the next turn. The grace window
	// opens with it, so if the user is still mid-thought their
	// continuation merges instead of racing the reply.
	if strings.TrimSpace(transcript) != "" {
		s.onTurnCommit(transcript, false)
	}
}

// sttLoop forwards transcription deltas into the session, restarting
// the provider session if it drops.
func (s *Session) sttLoop() {
	for {
		s.sttMu.Lock()
		session := s.sttSession
		s.sttMu.Unlock()

		if session == nil {
			select {
			case <-s.done:
				return
			case <-s.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case delta, ok := <-session.Transcripts():
			if !ok {
				if s.closed.Load() {
					return
				}
				s.debug("STT", "Transcription stream closed, reconnecting")
				if err := s.startSTT(); err != nil {
					s.debug("STT", "Reconnect failed: "+err.Error())
					select {
					case <-s.done:
						return
					case <-s.ctx.Done():
						return
					case <-time.After(500 * time.Millisecond):
					}
				}
				continue
			}
			s.processTranscriptDelta(delta)
		}
	}
}

// processTranscriptDelta routes transcription by state. Only finals
// carry text into the turn; partials mark activity and keep windows
// open.
func (s *Session) processTranscriptDelta(delta stt.TranscriptDelta) {
	if delta.IsFinal {
		s.emit(&TranscriptFinalEvent{Text: delta.Text, Language: delta.Language})
	} else {
		s.emit(&TranscriptPartialEvent{Text: delta.Text})
	}

	if strings.TrimSpace(delta.Text) == "" {
		return
	}
	s.debug("STT", fmt.Sprintf("Transcribed %q (final: %v)", delta.Text, delta.IsFinal))

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	switch state {
	case StateListening:
		if s.gracePeriod.IsActive() {
			s.handleGraceSpeech(delta)
			return
		}
		if delta.IsFinal {
			s.turn.AddTranscript(delta.Text)
		} else {
			s.turn.Touch()
		}

	case StateGracePeriod, StateProcessing:
		s.handleGraceSpeech(delta)

	case StateSpeaking:
		if s.gracePeriod.IsActive() {
			s.handleGraceSpeech(delta)
		}
		// Otherwise the interrupt flow owns speech during playback.

	case StateInterruptCapturing:
		s.interrupt.AddTranscript(delta.Text, delta.IsFinal)
	}
}

// handleGraceSpeech treats transcription during the grace window as
// the user continuing their turn. Partials keep the window open;
// finals go in as the continuation.
func (s *Session) handleGraceSpeech(delta stt.TranscriptDelta) {
	if delta.IsFinal {
		s.gracePeriod.HandleUserSpeech(delta.Text)
		return
	}
	if s.gracePeriod.Extend() {
		if s.hasAgent() || s.ttsActive() {
			s.debug("GRACE", "User still speaking, cancelling pending reply")
			s.cancelAgent()
			s.cancelTTS()
			s.emit(&AudioFlushEvent{})
		}
	}
}

// onTurnCommit handles a committed turn: the reply starts generating
// immediately, and the grace window runs alongside it purely as a
// cancellation window.
func (s *Session) onTurnCommit(transcript string, forced bool) {
	s.emit(&TurnCommittedEvent{Transcript: transcript, Forced: forced})
	if forced {
		s.debug("TURN", "Committed by timeout: "+transcript)
	} else {
		s.debug("TURN", "Committed: "+transcript)
	}

	s.mu.Lock()
	s.currentTranscript = transcript
	s.mu.Unlock()

	s.startAgentProcessing(transcript)

	if s.config.GracePeriod.Enabled {
		s.setState(StateGracePeriod)
		s.gracePeriod.Start(transcript)
		s.emit(&GracePeriodStartedEvent{
			Transcript: transcript,
			DurationMs: s.config.GracePeriod.DurationMs,
			ExpiresAt:  s.gracePeriod.ExpiresAt(),
		})
	}
}

func (s *Session) onGracePeriodExpired(transcript string) {
	s.emit(&GracePeriodExpiredEvent{Transcript: transcript})
	s.debug("GRACE", "Window expired, reply continues")

	// The reply kept generating through the window. If it already
	// finished and playback is done, the turn is over; otherwise the
	// in-flight work carries the session forward.
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == StateGracePeriod {
		if s.hasAgent() || s.ttsActive() {
			s.setState(StateProcessing)
		} else {
			s.finishTurn()
		}
	}
}

// onGracePeriodContinuation merges the continuation into the committed
// turn and reopens it.
func (s *Session) onGracePeriodContinuation(combined string) {
	s.debug("GRACE", "User continued: "+combined)

	s.cancelAgent()
	s.cancelTTS()
	s.emit(&AudioFlushEvent{})

	s.mu.Lock()
	previous := s.currentTranscript
	s.currentTranscript = combined
	s.mu.Unlock()

	s.emit(&GracePeriodExtendedEvent{
		PreviousTranscript: previous,
		CombinedTranscript: combined,
	})

	// The merged transcript re-enters turn detection so punctuation or
	// silence can commit the combined turn.
	s.turn.SetTranscript(combined)
	s.setState(StateListening)
}

// startAgentProcessing records the user turn and starts the reply.
func (s *Session) startAgentProcessing(transcript string) {
	s.setState(StateProcessing)
	s.emit(&InputCommittedEvent{Transcript: transcript})

	s.mu.Lock()
	s.messages = append(s.messages, types.UserMessage(transcript))
	messages := make([]types.Message, len(s.messages))
	copy(messages, s.messages)
	s.beginTurnLocked()
	s.mu.Unlock()

	go s.runAgent(s.newAgentContext(), messages)
}

// beginTurnLocked resets per-turn reply tracking. Callers hold s.mu.
func (s *Session) beginTurnLocked() {
	s.partialReply = ""
	s.replySaved = false
	s.spokenText = ""
	s.turnStart = time.Now()
	s.firstTokenMs = 0
	s.turnUsage = types.Usage{}
	s.replyChars = 0
}

// newAgentContext replaces the agent cancellation scope.
func (s *Session) newAgentContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(s.ctx)
	s.agentCancel = cancel
	return ctx
}

// cancelAgent cancels the in-flight reply generation, if any.
func (s *Session) cancelAgent() {
	s.mu.Lock()
	cancel := s.agentCancel
	s.agentCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		s.debug("LLM", "Cancelling in-flight generation")
		cancel()
	}
}

// runAgent streams one reply from the LLM, screens it through the
// output policy, and hands the result to synthesis.
func (s *Session) runAgent(ctx context.Context, messages []types.Message) {
	s.debug("LLM", fmt.Sprintf("Generating with %s (%d messages)", s.config.Model, len(messages)))

	req := &types.GenerateRequest{
		Model:       s.config.Model,
		System:      s.config.System,
		Messages:    messages,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	stream, err := s.llmClient.StreamMessage(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.debug("LLM", "Request failed: "+err.Error())
		s.emit(&ErrorEvent{Code: "llm_error", Message: err.Error()})
		s.finishTurn()
		return
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		event, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.debug("LLM", "Generation cancelled")
				return
			}
			s.debug("LLM", "Stream error: "+err.Error())
			s.emit(&ErrorEvent{Code: "llm_stream_error", Message: err.Error()})
			break
		}

		switch e := event.(type) {
		case types.MessageStartEvent:
			s.emit(&ReplyStartedEvent{})
		case types.TextDeltaEvent:
			if e.Text == "" {
				continue
			}
			first := reply.Len() == 0
			reply.WriteString(e.Text)
			s.mu.Lock()
			if first {
				s.firstTokenMs = int(time.Since(s.turnStart).Milliseconds())
			}
			s.partialReply = reply.String()
			s.mu.Unlock()
			if first {
				s.debug("LLM", "First token")
			}
			s.emit(&ReplyTextEvent{Delta: e.Text})
		case types.MessageDeltaEvent:
			s.mu.Lock()
			s.turnUsage = s.turnUsage.Add(e.Usage)
			s.mu.Unlock()
			if e.StopReason == types.StopReasonMaxTokens {
				s.debug("LLM", "Reply hit the token limit")
			}
		case types.ErrorEvent:
			s.debug("LLM", "Provider error: "+e.Message)
		}
	}

	if ctx.Err() != nil {
		s.debug("LLM", "Generation cancelled")
		return
	}

	raw := reply.String()

	// The raw reply joins the history even when the policy rewrites
	// what gets spoken; the conversation context stays faithful to
	// what the model produced. An interrupt may have saved it already.
	s.mu.Lock()
	if raw != "" && !s.replySaved && ctx.Err() == nil {
		s.messages = append(s.messages, types.AssistantMessage(raw))
		s.replySaved = true
	}
	s.mu.Unlock()

	spoken := s.policy.BeforeSpeak(raw)

	s.mu.Lock()
	s.spokenText = spoken
	s.replyChars = len(spoken)
	s.mu.Unlock()

	s.debug("LLM", fmt.Sprintf("Generation complete (%d chars)", len(raw)))
	s.emit(&ReplyDoneEvent{Text: raw, SpokenText: spoken})

	if strings.TrimSpace(spoken) == "" {
		// The policy can suppress a reply outright.
		s.finishTurn()
		return
	}

	s.speakReply(ctx, spoken)
}

// speakReply synthesizes one complete reply. The text has already
// passed the output policy.
func (s *Session) speakReply(ctx context.Context, text string) {
	if ctx.Err() != nil {
		return
	}

	ttsCtx, err := s.createTTSContext(ctx)
	if err != nil {
		s.debug("TTS", "Context failed: "+err.Error())
		s.emit(&ErrorEvent{Code: "tts_error", Message: err.Error()})
		s.finishTurn()
		return
	}

	s.setState(StateSpeaking)
	go s.streamTTSAudio(ctx, ttsCtx)

	chunks := splitSpeechChunks(text)
	for i, chunk := range chunks {
		final := i == len(chunks)-1
		s.debug("TTS", fmt.Sprintf("Chunk %d/%d: %q", i+1, len(chunks), chunk))
		if err := ttsCtx.SendText(chunk, final); err != nil {
			s.debug("TTS", "Send failed: "+err.Error())
			return
		}
	}
}

// createTTSContext replaces the streaming synthesis context. Closing
// the previous one first keeps a single audio stream alive at a time.
func (s *Session) createTTSContext(ctx context.Context) (*tts.StreamingContext, error) {
	opts := tts.StreamingContextOptions{
		Voice:      s.config.Output.Voice,
		Speed:      s.config.Output.Speed,
		Volume:     s.config.Output.Volume,
		Format:     "pcm",
		SampleRate: s.audioConfig.SampleRate,
	}
	if s.config.Output.Format != "" {
		opts.Format = s.config.Output.Format
	}
	if s.config.Output.SampleRate > 0 {
		opts.SampleRate = s.config.Output.SampleRate
	}

	s.ttsMu.Lock()
	defer s.ttsMu.Unlock()

	if s.ttsContext != nil {
		s.debug("TTS", "Closing previous synthesis context")
		s.ttsContext.Close()
		s.ttsContext = nil
	}

	ttsCtx, err := s.ttsClient.NewStreamingContext(ctx, opts)
	if err != nil {
		return nil, err
	}

	s.debug("TTS", fmt.Sprintf("Synthesis context open (format: %s, rate: %d)", opts.Format, opts.SampleRate))
	s.ttsContext = ttsCtx
	s.ttsPaused = false
	s.ttsDrained = false
	s.ttsPosition = 0
	s.pausedAudio = nil
	if s.preRoll != nil {
		s.preRoll.Clear()
	}
	return ttsCtx, nil
}

// streamTTSAudio forwards synthesized audio to the event stream until
// the context completes or is replaced.
func (s *Session) streamTTSAudio(ctx context.Context, ttsCtx *tts.StreamingContext) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case chunk, ok := <-ttsCtx.Audio():
			if !ok {
				s.ttsMu.Lock()
				isCurrent := s.ttsContext == ttsCtx
				paused := s.ttsPaused
				if isCurrent && paused {
					s.ttsDrained = true
				}
				position := s.ttsPosition
				s.ttsMu.Unlock()

				if !isCurrent {
					s.debug("TTS", "Context replaced, old stream exiting")
					return
				}
				if paused {
					// The tail sits in the pause buffer. The interrupt
					// decision either flushes it (resume) or drops it
					// (cancel); either path finishes the turn.
					s.debug("TTS", "Synthesis finished while paused")
					return
				}

				if !s.clearTTSContext(ttsCtx) {
					// A cancel got there first and owns the state
					// transition.
					return
				}
				if err := ttsCtx.Err(); err != nil {
					s.debug("TTS", "Stream failed: "+err.Error())
					s.emit(&ErrorEvent{Code: "tts_stream_error", Message: err.Error()})
				}
				s.debug("TTS", fmt.Sprintf("Playback complete (%dms)", position))
				s.emit(&AudioDoneEvent{DurationMs: position})
				s.emitTurnMetrics(position)
				s.finishTurn()
				return
			}

			s.ttsMu.Lock()
			if s.ttsContext != ttsCtx {
				s.ttsMu.Unlock()
				return
			}
			if s.ttsPaused {
				s.pausedAudio = append(s.pausedAudio, chunk)
				s.ttsMu.Unlock()
				continue
			}
			s.ttsPosition += s.audioConfig.DurationMs(len(chunk))
			s.ttsMu.Unlock()

			s.emit(&ReplyAudioEvent{Data: chunk, Format: "pcm_s16le"})
		}
	}
}

// clearTTSContext closes and detaches ttsCtx if it is still the active
// context. The caller that wins the detach owns the turn transition.
func (s *Session) clearTTSContext(ttsCtx *tts.StreamingContext) bool {
	s.ttsMu.Lock()
	defer s.ttsMu.Unlock()
	if s.ttsContext != ttsCtx {
		return false
	}
	s.ttsContext.Close()
	s.ttsContext = nil
	return true
}

// pauseTTS holds playback while an interrupt is classified. Synthesis
// keeps running underneath; chunks buffer until resume or cancel.
func (s *Session) pauseTTS() {
	s.ttsMu.Lock()
	defer s.ttsMu.Unlock()
	if s.ttsContext != nil && !s.ttsPaused {
		s.ttsPaused = true
		s.emit(&TTSPausedEvent{PositionMs: s.ttsPosition})
	}
}

// resumeTTS restarts playback after a dismissed interrupt, delivering
// whatever buffered while paused. Reports whether there was playback
// to resume and whether the turn finished in the process.
func (s *Session) resumeTTS() (resumed, finished bool) {
	s.ttsMu.Lock()
	if s.ttsContext == nil || !s.ttsPaused {
		s.ttsMu.Unlock()
		return false, false
	}
	s.ttsPaused = false
	buffered := s.pausedAudio
	s.pausedAudio = nil
	drained := s.ttsDrained
	s.ttsDrained = false
	position := s.ttsPosition
	ttsCtx := s.ttsContext
	s.ttsMu.Unlock()

	s.emit(&TTSResumedEvent{PositionMs: position})

	for _, chunk := range buffered {
		s.ttsMu.Lock()
		s.ttsPosition += s.audioConfig.DurationMs(len(chunk))
		s.ttsMu.Unlock()
		s.emit(&ReplyAudioEvent{Data: chunk, Format: "pcm_s16le"})
	}

	if drained {
		// Synthesis already finished behind the pause; the buffered
		// tail above was the end of the reply.
		if !s.clearTTSContext(ttsCtx) {
			return true, true
		}
		s.ttsMu.Lock()
		position = s.ttsPosition
		s.ttsMu.Unlock()
		s.debug("TTS", fmt.Sprintf("Playback complete (%dms)", position))
		s.emit(&AudioDoneEvent{DurationMs: position})
		s.emitTurnMetrics(position)
		s.finishTurn()
		return true, true
	}
	return true, false
}

// cancelTTS drops the synthesis context and any buffered audio.
func (s *Session) cancelTTS() {
	s.ttsMu.Lock()
	defer s.ttsMu.Unlock()
	if s.ttsContext != nil {
		s.ttsContext.Close()
		s.ttsContext = nil
		s.ttsPaused = false
		s.ttsDrained = false
		s.pausedAudio = nil
		s.emit(&TTSCancelledEvent{PositionMs: s.ttsPosition})
	}
}

func (s *Session) audioPositionMs() int {
	s.ttsMu.Lock()
	defer s.ttsMu.Unlock()
	return s.ttsPosition
}

// finishTurn returns the session to listening for the next turn.
func (s *Session) finishTurn() {
	s.turn.Reset()
	s.setState(StateListening)
}

// emitTurnMetrics publishes per-turn counters once the reply has fully
// played out.
func (s *Session) emitTurnMetrics(audioMs int) {
	s.mu.RLock()
	usage := s.turnUsage
	firstToken := s.firstTokenMs
	replyChars := s.replyChars
	s.mu.RUnlock()

	s.emit(&MetricsCollectedEvent{
		Usage:        usage,
		FirstTokenMs: firstToken,
		ReplyChars:   replyChars,
		AudioMs:      audioMs,
	})
}

// checkTurnComplete asks the completion model whether the transcript
// reads finished.
func (s *Session) checkTurnComplete(ctx context.Context, transcript string) (bool, error) {
	model := s.config.Turn.Model
	if model == "" {
		model = s.config.Model
	}

	resp, err := s.llmClient.Generate(ctx, &types.GenerateRequest{
		Model:     model,
		Messages:  []types.Message{types.UserMessage(fmt.Sprintf(TurnCompletePrompt, transcript))},
		MaxTokens: 5,
	})
	if err != nil {
		return false, err
	}
	return ParseTurnCompleteResponse(resp.Text), nil
}

// checkInterrupt asks the classification model whether captured speech
// is a real interrupt.
func (s *Session) checkInterrupt(ctx context.Context, transcript string) (bool, error) {
	model := s.config.Interrupt.SemanticModel
	if model == "" {
		model = s.config.Model
	}

	resp, err := s.llmClient.Generate(ctx, &types.GenerateRequest{
		Model:     model,
		Messages:  []types.Message{types.UserMessage(fmt.Sprintf(InterruptCheckPrompt, transcript))},
		MaxTokens: 10,
	})
	if err != nil {
		return false, err
	}
	return ParseInterruptCheckResponse(resp.Text), nil
}

// waitForResponseComplete polls until the session returns to
// listening. Used to queue typed input behind an in-flight reply.
func (s *Session) waitForResponseComplete() {
	for {
		select {
		case <-s.done:
			return
		case <-time.After(50 * time.Millisecond):
			s.mu.RLock()
			state := s.state
			s.mu.RUnlock()
			if state == StateListening || state == StateClosed {
				return
			}
		}
	}
}

// setState transitions the session state and announces it. Closed is
// terminal.
func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	old := s.state
	if old == state || old == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.debug("SESSION", fmt.Sprintf("State: %s -> %s", old, state))
	s.emit(&StateChangedEvent{From: old, To: state})
}

// emit delivers an event without blocking the audio path. A slow
// consumer loses events rather than stalling the session.
func (s *Session) emit(event Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

func (s *Session) debug(category, message string) {
	if !s.debugEnabled {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(os.Stderr, "\033[90m%s\033[0m [\033[36m%-10s\033[0m] %s\n", timestamp, category, message)
	s.emit(&DebugEvent{Category: category, Message: message})
}

func generateSessionID() string {
	return "live_" + uuid.NewString()
}
