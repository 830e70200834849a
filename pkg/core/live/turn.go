package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vango-go/vai-translate/pkg/core/voice/sanitize"
)

// SemanticChecker asks a model whether the transcript reads like a
// finished thought.
type SemanticChecker interface {
	CheckTurnComplete(ctx context.Context, transcript string) (bool, error)
}

// SemanticCheckerFunc adapts a function to the SemanticChecker
// interface.
type SemanticCheckerFunc func(ctx context.Context, transcript string) (bool, error)

func (f SemanticCheckerFunc) CheckTurnComplete(ctx context.Context, transcript string) (bool, error) {
	return f(ctx, transcript)
}

// TurnCompletePrompt is the completion check prompt. The transcript is
// interpolated with %s and may be Mandarin, English, or a mix.
const TurnCompletePrompt = `Voice transcript: "%s"

This is what a user has said so far on a live voice call, transcribed from speech. It may be in Mandarin Chinese. Decide if the user has finished their thought and is waiting for a response, or if they are mid-sentence and more is coming.

YES = The user is done talking
NO = The user is not done talking

Reply only: YES or NO`

// ParseTurnCompleteResponse interprets a completion check reply.
func ParseTurnCompleteResponse(response string) bool {
	return strings.Contains(strings.ToUpper(strings.TrimSpace(response)), "YES")
}

// TurnDetector decides when the user has finished a turn. Detection is
// hybrid:
//
//  1. Sentence punctuation in a final transcription triggers an
//     immediate completion check.
//  2. Transcript inactivity forces a check after NoActivityTimeoutMs.
//  3. The completion check confirms before the turn commits, so a
//     trailing comma or an unfinished clause keeps the floor with the
//     user.
//
// A timeout that fires twice on the same transcript commits without
// confirmation, so a stalled check can never wedge the session.
type TurnDetector struct {
	config  TurnConfig
	checker SemanticChecker

	mu             sync.Mutex
	transcript     strings.Builder
	lastActivity   time.Time
	pendingCheck   bool
	committed      bool
	lastCheckedLen int

	ctx    context.Context
	cancel context.CancelFunc

	onAnalyzing func(transcript string)
	onCommit    func(transcript string, forced bool)
	onDebug     func(category, message string)
}

// NewTurnDetector creates a turn detector. Call Start before feeding
// transcripts.
func NewTurnDetector(config TurnConfig, checker SemanticChecker) *TurnDetector {
	if config.PunctuationTrigger == "" {
		config.PunctuationTrigger = DefaultTurnConfig().PunctuationTrigger
	}
	if config.NoActivityTimeoutMs == 0 {
		config.NoActivityTimeoutMs = DefaultTurnConfig().NoActivityTimeoutMs
	}
	return &TurnDetector{
		config:  config,
		checker: checker,
	}
}

// SetCallbacks registers the detector's callbacks. Callbacks run on
// their own goroutines.
func (t *TurnDetector) SetCallbacks(
	onAnalyzing func(transcript string),
	onCommit func(transcript string, forced bool),
	onDebug func(category, message string),
) {
	t.onAnalyzing = onAnalyzing
	t.onCommit = onCommit
	t.onDebug = onDebug
}

// Start launches the inactivity watcher.
func (t *TurnDetector) Start(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	go t.timeoutLoop()
}

// Stop halts the inactivity watcher.
func (t *TurnDetector) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// AddTranscript appends a final transcription to the turn and checks
// for a sentence boundary.
func (t *TurnDetector) AddTranscript(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return
	}

	combined := combineTranscripts(t.transcript.String(), text)
	t.transcript.Reset()
	t.transcript.WriteString(combined)
	t.lastActivity = time.Now()

	t.debug("TURN", fmt.Sprintf("Transcript now: %q", combined))

	if t.endsWithBoundary(combined) && !t.pendingCheck {
		t.debug("TURN", "Sentence boundary, checking completion")
		t.pendingCheck = true
		t.mu.Unlock()
		go t.runCompletionCheck(combined, false)
		return
	}
	t.mu.Unlock()
}

// Touch marks transcript activity without adding text. Partial
// transcriptions call it so the inactivity timeout does not fire while
// the user is mid-utterance.
func (t *TurnDetector) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed || t.transcript.Len() == 0 {
		return
	}
	t.lastActivity = time.Now()
}

// GetTranscript returns the accumulated transcript.
func (t *TurnDetector) GetTranscript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript.String()
}

// SetTranscript replaces the accumulated transcript and reopens the
// turn. Used when turns merge after a grace period continuation.
func (t *TurnDetector) SetTranscript(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transcript.Reset()
	t.transcript.WriteString(text)
	t.lastActivity = time.Now()
	t.committed = false
	t.pendingCheck = false
	t.lastCheckedLen = 0
}

// Reset clears the detector for the next turn.
func (t *TurnDetector) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transcript.Reset()
	t.committed = false
	t.pendingCheck = false
	t.lastCheckedLen = 0
}

// timeoutLoop watches for transcript inactivity.
func (t *TurnDetector) timeoutLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.checkTimeout()
		}
	}
}

func (t *TurnDetector) checkTimeout() {
	t.mu.Lock()

	if t.committed || t.pendingCheck || t.transcript.Len() == 0 {
		t.mu.Unlock()
		return
	}

	elapsed := time.Since(t.lastActivity)
	timeout := time.Duration(t.config.NoActivityTimeoutMs) * time.Millisecond
	if elapsed < timeout {
		t.mu.Unlock()
		return
	}

	transcript := t.transcript.String()

	if countUnits(transcript) < t.config.MinUnitsForCheck {
		t.mu.Unlock()
		return
	}

	// A second timeout on the same transcript means the completion
	// check already said no and nothing new arrived. Commit anyway;
	// the user has clearly stopped.
	if len(transcript) <= t.lastCheckedLen {
		t.debug("TURN", "No activity since last check, force committing")
		t.commitLocked(transcript, true)
		t.mu.Unlock()
		return
	}

	t.debug("TURN", fmt.Sprintf("No activity for %dms, checking completion", elapsed.Milliseconds()))
	t.pendingCheck = true
	t.lastCheckedLen = len(transcript)
	t.mu.Unlock()

	go t.runCompletionCheck(transcript, true)
}

// runCompletionCheck asks the checker whether the turn is complete and
// commits on YES. fromTimeout marks checks raised by inactivity.
func (t *TurnDetector) runCompletionCheck(transcript string, fromTimeout bool) {
	if !t.config.SemanticCheck || t.checker == nil {
		t.mu.Lock()
		t.pendingCheck = false
		t.commitLocked(transcript, fromTimeout)
		t.mu.Unlock()
		return
	}

	if t.onAnalyzing != nil {
		go t.onAnalyzing(transcript)
	}

	ctx, cancel := context.WithTimeout(t.ctx, 1200*time.Millisecond)
	defer cancel()

	complete, err := t.checker.CheckTurnComplete(ctx, transcript)
	if err != nil {
		// Checker trouble should not hold the floor forever. Treat the
		// turn as complete and let the conversation move.
		t.debug("SEMANTIC", "Check failed, assuming complete: "+err.Error())
		complete = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingCheck = false

	if t.committed {
		return
	}

	// Text may have arrived while the check ran. Stale answers only
	// count when nothing changed underneath.
	current := t.transcript.String()
	if current != transcript {
		t.debug("SEMANTIC", "Transcript grew during check, discarding result")
		return
	}

	if complete {
		t.debug("SEMANTIC", "Turn complete")
		t.commitLocked(transcript, false)
	} else {
		t.debug("SEMANTIC", "Turn incomplete, keeping the floor")
		t.lastCheckedLen = len(transcript)
	}
}

// commitLocked commits the turn. Callers hold t.mu.
func (t *TurnDetector) commitLocked(transcript string, forced bool) {
	if t.committed {
		return
	}
	t.committed = true
	if t.onCommit != nil {
		go t.onCommit(transcript, forced)
	}
}

// endsWithBoundary reports whether the transcript ends with a sentence
// boundary rune. Mandarin punctuation is multibyte, so this decodes
// the final rune rather than indexing bytes.
func (t *TurnDetector) endsWithBoundary(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(t.config.PunctuationTrigger, last)
}

// countUnits measures transcript size for the MinUnitsForCheck gate.
// Mandarin has no word spacing, so Han runes count one each and the
// rest counts in space-separated words.
func countUnits(text string) int {
	han := 0
	var rest strings.Builder
	for _, r := range text {
		if sanitize.IsHan(r) {
			han++
			rest.WriteByte(' ')
			continue
		}
		rest.WriteRune(r)
	}
	return han + len(strings.Fields(rest.String()))
}

// debug dispatches the callback on its own goroutine, so it is safe
// to call with t.mu held.
func (t *TurnDetector) debug(category, message string) {
	if t.onDebug != nil {
		go t.onDebug(category, message)
	}
}
