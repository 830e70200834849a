package live

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vango-go/vai-translate/pkg/core/voice/sanitize"
)

// combineTranscripts joins two transcript fragments. Mandarin has no
// word spacing, so adjacent Han runes join directly; everything else
// gets a space between the fragments.
func combineTranscripts(prev, cont string) string {
	prev = strings.TrimSpace(prev)
	cont = strings.TrimSpace(cont)
	if prev == "" {
		return cont
	}
	if cont == "" {
		return prev
	}
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(cont)
	if sanitize.IsHan(last) && sanitize.IsHan(first) {
		return prev + cont
	}
	return prev + " " + cont
}

// GracePeriodManager runs the continuation window that follows a
// committed turn. The reply generates during the window; if the user
// speaks again before it closes, the window reports a continuation and
// the session merges the turns instead of speaking over them.
type GracePeriodManager struct {
	config GracePeriodConfig

	mu         sync.Mutex
	active     bool
	transcript string
	startedAt  time.Time
	timer      *time.Timer

	onExpired      func(transcript string)
	onContinuation func(combined string)
	onDebug        func(category, message string)
}

// NewGracePeriodManager creates a grace period manager.
func NewGracePeriodManager(config GracePeriodConfig) *GracePeriodManager {
	if config.DurationMs == 0 {
		config.DurationMs = DefaultGracePeriodConfig().DurationMs
	}
	return &GracePeriodManager{config: config}
}

// SetCallbacks registers the manager's callbacks. Callbacks run on
// their own goroutines.
func (g *GracePeriodManager) SetCallbacks(
	onExpired func(transcript string),
	onContinuation func(combined string),
	onDebug func(category, message string),
) {
	g.onExpired = onExpired
	g.onContinuation = onContinuation
	g.onDebug = onDebug
}

// Start opens the window for a committed transcript. A disabled
// manager expires immediately.
func (g *GracePeriodManager) Start(transcript string) {
	if !g.config.Enabled {
		if g.onExpired != nil {
			go g.onExpired(transcript)
		}
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}

	g.active = true
	g.transcript = transcript
	g.startedAt = time.Now()

	duration := time.Duration(g.config.DurationMs) * time.Millisecond
	g.debug(fmt.Sprintf("Window open for %dms: %q", g.config.DurationMs, transcript))

	g.timer = time.AfterFunc(duration, func() {
		g.expire()
	})
}

func (g *GracePeriodManager) expire() {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}
	g.active = false
	transcript := g.transcript
	g.mu.Unlock()

	g.debug("Window expired: " + transcript)
	if g.onExpired != nil {
		go g.onExpired(transcript)
	}
}

// HandleUserSpeech feeds a final transcription that arrived during the
// window. The window closes and the combined transcript goes out
// through onContinuation.
func (g *GracePeriodManager) HandleUserSpeech(text string) {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}

	g.active = false
	if g.timer != nil {
		g.timer.Stop()
	}
	combined := combineTranscripts(g.transcript, text)
	g.mu.Unlock()

	g.debug("User continued: " + combined)
	if g.onContinuation != nil {
		go g.onContinuation(combined)
	}
}

// Extend restarts the window timer without closing it. Partial
// transcriptions call it so the window cannot expire while the user is
// mid-utterance. Reports whether the window was active.
func (g *GracePeriodManager) Extend() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return false
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.startedAt = time.Now()
	g.timer = time.AfterFunc(time.Duration(g.config.DurationMs)*time.Millisecond, func() {
		g.expire()
	})
	return true
}

// IsActive reports whether the window is open.
func (g *GracePeriodManager) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Cancel closes the window without firing either callback.
func (g *GracePeriodManager) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return
	}
	g.active = false
	if g.timer != nil {
		g.timer.Stop()
	}
	g.debug("Window cancelled")
}

// OriginalTranscript returns the transcript the window opened with.
func (g *GracePeriodManager) OriginalTranscript() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transcript
}

// TimeRemaining returns how long the window has left, or zero when
// closed.
func (g *GracePeriodManager) TimeRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.active {
		return 0
	}
	elapsed := time.Since(g.startedAt)
	total := time.Duration(g.config.DurationMs) * time.Millisecond
	if elapsed >= total {
		return 0
	}
	return total - elapsed
}

// ExpiresAt returns when the window closes. Meaningful only while
// active.
func (g *GracePeriodManager) ExpiresAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startedAt.Add(time.Duration(g.config.DurationMs) * time.Millisecond)
}

// debug dispatches on its own goroutine, so it is safe to call with
// g.mu held.
func (g *GracePeriodManager) debug(message string) {
	if g.onDebug != nil {
		go g.onDebug("GRACE", message)
	}
}
