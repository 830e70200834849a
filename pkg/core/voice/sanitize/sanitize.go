// Package sanitize screens model-generated translation text before it
// reaches speech synthesis. It strips reasoning markup and punctuation,
// normalizes whitespace, and replaces output that still carries the
// source script with a spoken apology. Every input maps to a non-empty,
// speech-safe string; nothing here returns an error.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	// FallbackText is spoken when cleaning leaves nothing usable.
	FallbackText = "Sorry I could not translate that"

	// UntranslatedText is spoken in place of a reply that still
	// contains Han script. The offending reply is discarded whole,
	// never partially cleaned.
	UntranslatedText = "I apologize but I need to translate that to English"
)

var (
	// Reasoning spans: leftmost open tag to the nearest matching close,
	// case-insensitive, across newlines.
	reasoningTags = regexp.MustCompile(`(?is)<think>.*?</think>`)
	nonSpeakable  = regexp.MustCompile(`[^a-zA-Z0-9\s]+`)
	spaceRuns     = regexp.MustCompile(`\s+`)
)

// IsHan reports whether r falls within the CJK Unified Ideographs
// block (U+4E00 through U+9FFF).
func IsHan(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

// ContainsHan reports whether any rune of text is a Han character. The
// empty string contains none.
func ContainsHan(text string) bool {
	for _, r := range text {
		if IsHan(r) {
			return true
		}
	}
	return false
}

// Clean normalizes raw model output into speakable text. Reasoning tag
// spans are removed first, then every character that is not an ASCII
// letter, digit, or whitespace, then whitespace runs collapse to single
// spaces. Empty input, and input that cleans down to nothing, both
// yield FallbackText. The result is never empty, and re-cleaning a
// cleaned string returns it unchanged.
func Clean(text string) string {
	if text == "" {
		return FallbackText
	}
	out := reasoningTags.ReplaceAllString(text, "")
	out = nonSpeakable.ReplaceAllString(out, "")
	out = spaceRuns.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	if out == "" {
		return FallbackText
	}
	return out
}

// Sanitizer applies the output-language policy at the speech boundary.
// The zero value is usable; hooks are optional and advisory only. A
// Sanitizer holds no mutable state and is safe for concurrent use.
type Sanitizer struct {
	onViolation func(text string)
	onCleaned   func(original, cleaned string)
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithViolationHook registers fn to receive the original text whenever
// a reply is rejected for carrying Han script.
func WithViolationHook(fn func(text string)) Option {
	return func(s *Sanitizer) {
		s.onViolation = fn
	}
}

// WithCleanHook registers fn to observe each original/cleaned pair.
func WithCleanHook(fn func(original, cleaned string)) Option {
	return func(s *Sanitizer) {
		s.onCleaned = fn
	}
}

// New creates a Sanitizer.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeforeSpeak enforces the output policy on one reply. A reply with any
// Han character is replaced by UntranslatedText; everything else is
// cleaned. The returned string is always safe to synthesize.
func (s *Sanitizer) BeforeSpeak(text string) string {
	if ContainsHan(text) {
		if s.onViolation != nil {
			s.onViolation(text)
		}
		return UntranslatedText
	}
	cleaned := Clean(text)
	if s.onCleaned != nil {
		s.onCleaned(text, cleaned)
	}
	return cleaned
}
