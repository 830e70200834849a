package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// InterruptResult classifies speech captured during playback.
type InterruptResult int

const (
	// InterruptNone means the audio carried no usable speech.
	InterruptNone InterruptResult = iota
	// InterruptBackchannel means the user was just acknowledging.
	InterruptBackchannel
	// InterruptReal means the user wants the floor.
	InterruptReal
)

func (r InterruptResult) String() string {
	switch r {
	case InterruptNone:
		return "none"
	case InterruptBackchannel:
		return "backchannel"
	case InterruptReal:
		return "real"
	default:
		return "unknown"
	}
}

// InterruptChecker asks a model whether captured speech is a real
// interrupt.
type InterruptChecker interface {
	CheckInterrupt(ctx context.Context, transcript string) (bool, error)
}

// InterruptCheckerFunc adapts a function to the InterruptChecker
// interface.
type InterruptCheckerFunc func(ctx context.Context, transcript string) (bool, error)

func (f InterruptCheckerFunc) CheckInterrupt(ctx context.Context, transcript string) (bool, error) {
	return f(ctx, transcript)
}

// InterruptCheckPrompt is the interrupt classification prompt. The
// captured transcript is interpolated with %s.
const InterruptCheckPrompt = `The user said: "%s"

The assistant was speaking an English translation aloud when the user said this. The user may be speaking Mandarin. Is the user trying to interrupt and say something new, or is this just a backchannel acknowledgement (like "uh-huh", "okay", "嗯", "好的") that does not require stopping?

Reply only: INTERRUPT or BACKCHANNEL`

// ParseInterruptCheckResponse interprets a classification reply.
func ParseInterruptCheckResponse(response string) bool {
	return strings.Contains(strings.ToUpper(strings.TrimSpace(response)), "INTERRUPT")
}

// backchannels are acknowledgements that should never stop playback,
// in both languages the session hears.
var backchannels = map[string]bool{
	"uh huh": true, "uh-huh": true, "uhuh": true,
	"mm hmm": true, "mm-hmm": true, "mmhmm": true, "mhm": true,
	"yeah": true, "yep": true, "yup": true,
	"okay": true, "ok": true,
	"right": true, "i see": true, "got it": true,
	"sure": true, "alright": true, "all right": true,
	"hmm": true, "hm": true, "ah": true, "oh": true,
	"oh okay": true, "oh ok": true,
	"嗯": true, "嗯嗯": true, "嗯哼": true,
	"哦": true, "噢": true, "啊": true,
	"好": true, "好的": true, "好好": true,
	"对": true, "对对": true, "对的": true,
	"是": true, "是的": true, "行": true,
	"明白": true, "知道了": true,
}

// InterruptDetector classifies user speech that arrives while the bot
// is speaking. Energy detection opens a short capture window; once the
// window fills, the captured transcript decides between a real
// interrupt and a backchannel.
type InterruptDetector struct {
	config      InterruptConfig
	audioConfig AudioConfig
	checker     InterruptChecker

	mu            sync.Mutex
	capturing     bool
	captureStart  time.Time
	captureBuffer *AudioBuffer
	transcript    string
	partial       string

	onDetected  func()
	onCaptured  func(transcript string)
	onDismissed func(transcript, reason string)
	onDebug     func(category, message string)
}

// NewInterruptDetector creates an interrupt detector.
func NewInterruptDetector(config InterruptConfig, audioConfig AudioConfig, checker InterruptChecker) *InterruptDetector {
	if config.CaptureDurationMs == 0 {
		config.CaptureDurationMs = DefaultInterruptConfig().CaptureDurationMs
	}
	// The buffer holds the capture window plus the pre-roll seed, with
	// slack for one extra audio chunk.
	bufferMs := config.CaptureDurationMs + config.PreRollMs + 100
	return &InterruptDetector{
		config:        config,
		audioConfig:   audioConfig,
		checker:       checker,
		captureBuffer: NewAudioBuffer(audioConfig, bufferMs),
	}
}

// SetCallbacks registers the detector's callbacks. Callbacks run on
// their own goroutines.
func (d *InterruptDetector) SetCallbacks(
	onDetected func(),
	onCaptured func(transcript string),
	onDismissed func(transcript, reason string),
	onDebug func(category, message string),
) {
	d.onDetected = onDetected
	d.onCaptured = onCaptured
	d.onDismissed = onDismissed
	d.onDebug = onDebug
}

// StartCapture opens the capture window.
func (d *InterruptDetector) StartCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		return
	}
	d.capturing = true
	d.captureStart = time.Now()
	d.captureBuffer.Clear()
	d.transcript = ""
	d.partial = ""

	d.debug(fmt.Sprintf("Capture window open (%dms)", d.config.CaptureDurationMs))
	if d.onDetected != nil {
		go d.onDetected()
	}
}

// AddAudio feeds audio into the capture window.
func (d *InterruptDetector) AddAudio(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.capturing {
		return
	}
	d.captureBuffer.Write(data)
}

// AddTranscript records transcription that arrived during the capture
// window. Partials replace each other; finals append.
func (d *InterruptDetector) AddTranscript(text string, isFinal bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.capturing {
		return
	}
	if isFinal {
		d.transcript = combineTranscripts(d.transcript, text)
		d.partial = ""
		return
	}
	d.partial = text
}

// CaptureComplete reports whether the capture window has filled.
func (d *InterruptDetector) CaptureComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.capturing {
		return false
	}
	elapsed := time.Since(d.captureStart)
	return elapsed >= time.Duration(d.config.CaptureDurationMs)*time.Millisecond
}

// CapturedTranscript returns everything transcribed so far in the
// window, finals plus the latest partial.
func (d *InterruptDetector) CapturedTranscript() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return combineTranscripts(d.transcript, d.partial)
}

// CapturedAudio returns a copy of the audio captured in the window.
func (d *InterruptDetector) CapturedAudio() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captureBuffer.Read()
}

// IsCapturing reports whether the capture window is open.
func (d *InterruptDetector) IsCapturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

// Analyze closes the capture window and classifies what was captured.
func (d *InterruptDetector) Analyze(ctx context.Context) InterruptResult {
	d.mu.Lock()
	if !d.capturing {
		d.mu.Unlock()
		return InterruptNone
	}
	d.capturing = false
	transcript := combineTranscripts(d.transcript, d.partial)
	d.mu.Unlock()

	if d.onCaptured != nil {
		go d.onCaptured(transcript)
	}

	switch d.config.Mode {
	case InterruptModeNever:
		d.dismiss(transcript, "interrupts disabled")
		return InterruptNone
	case InterruptModeAlways:
		d.debug("Mode always, treating as real interrupt")
		return InterruptReal
	}

	if strings.TrimSpace(transcript) == "" {
		// Energy without words. A cough, the bot's own audio bleeding
		// into the mic, background noise.
		d.dismiss(transcript, "no speech transcribed")
		return InterruptNone
	}

	if isLikelyBackchannel(transcript) {
		d.debug(fmt.Sprintf("Backchannel from word list: %q", transcript))
		d.dismiss(transcript, "backchannel")
		return InterruptBackchannel
	}

	if !d.config.SemanticCheck || d.checker == nil {
		// Without the model check, transcribed speech that is not a
		// known backchannel takes the floor.
		d.debug(fmt.Sprintf("Real interrupt (no semantic check): %q", transcript))
		return InterruptReal
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1200*time.Millisecond)
	defer cancel()

	isInterrupt, err := d.checker.CheckInterrupt(checkCtx, transcript)
	if err != nil {
		// When the check cannot run, stopping is the safer read. The
		// user can always wave the bot onward; talking over them is
		// worse.
		d.debug("Check failed, assuming real interrupt: " + err.Error())
		return InterruptReal
	}

	if isInterrupt {
		d.debug(fmt.Sprintf("Real interrupt confirmed: %q", transcript))
		return InterruptReal
	}

	d.dismiss(transcript, "backchannel")
	return InterruptBackchannel
}

// Reset abandons any open capture window.
func (d *InterruptDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	d.captureBuffer.Clear()
	d.transcript = ""
	d.partial = ""
}

func (d *InterruptDetector) dismiss(transcript, reason string) {
	d.debug("Dismissed (" + reason + ")")
	if d.onDismissed != nil {
		go d.onDismissed(transcript, reason)
	}
}

// isLikelyBackchannel matches the transcript against the acknowledgement
// word list. STT finals often carry trailing punctuation, so it is
// stripped before matching.
func isLikelyBackchannel(transcript string) bool {
	normalized := strings.ToLower(strings.TrimSpace(transcript))
	normalized = strings.Trim(normalized, "。，！？、.,!?")
	normalized = strings.TrimSpace(normalized)
	return backchannels[normalized]
}

// debug dispatches on its own goroutine, so it is safe to call with
// d.mu held.
func (d *InterruptDetector) debug(message string) {
	if d.onDebug != nil {
		go d.onDebug("INTERRUPT", message)
	}
}
