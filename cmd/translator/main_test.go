package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vango-go/vai-translate/internal/config"
	"github.com/vango-go/vai-translate/pkg/core/live"
	"github.com/vango-go/vai-translate/pkg/core/types"
	"github.com/vango-go/vai-translate/pkg/metrics"
)

func TestSessionConfigMapping(t *testing.T) {
	cfg := &config.Config{
		LLMProvider:              "deepseek",
		LLMModel:                 "deepseek-chat",
		Voice:                    "voice-id",
		SampleRate:               16000,
		MinVolume:                0.02,
		PunctuationTrigger:       "。",
		NoActivityTimeoutMs:      2500,
		SemanticTurnCheck:        true,
		GraceEnabled:             true,
		GraceMs:                  4000,
		InterruptMode:            "always",
		InterruptEnergyThreshold: 0.08,
	}

	sc := sessionConfig(cfg)

	if sc.Model != "deepseek-chat" {
		t.Errorf("Model = %q", sc.Model)
	}
	if sc.System != live.DefaultSystemPrompt {
		t.Error("system prompt not defaulted")
	}
	if sc.Greeting != live.DefaultGreeting {
		t.Error("greeting not set")
	}
	if sc.SampleRate != 16000 || sc.Output.SampleRate != 16000 {
		t.Errorf("sample rates = %d/%d, want 16000", sc.SampleRate, sc.Output.SampleRate)
	}
	if sc.Output.Voice != "voice-id" {
		t.Errorf("Output.Voice = %q", sc.Output.Voice)
	}
	if sc.Input.MinVolume != 0.02 {
		t.Errorf("Input.MinVolume = %v", sc.Input.MinVolume)
	}
	if sc.Turn.PunctuationTrigger != "。" || sc.Turn.NoActivityTimeoutMs != 2500 || !sc.Turn.SemanticCheck {
		t.Errorf("turn config = %+v", sc.Turn)
	}
	if !sc.GracePeriod.Enabled || sc.GracePeriod.DurationMs != 4000 {
		t.Errorf("grace config = %+v", sc.GracePeriod)
	}
	if sc.Interrupt.Mode != live.InterruptModeAlways || sc.Interrupt.EnergyThreshold != 0.08 {
		t.Errorf("interrupt config = %+v", sc.Interrupt)
	}
	if sc.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want default 1024", sc.MaxTokens)
	}
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestEventHandlerTurnMetrics(t *testing.T) {
	met := metrics.NewMetrics("")
	collector := metrics.NewUsageCollector()
	h := &eventHandler{
		log:       zap.NewNop().Sugar(),
		metrics:   met,
		collector: collector,
		provider:  "deepseek",
		model:     "deepseek-chat",
		sessionID: "live_test",
	}

	h.handle(t.Context(), &live.TurnCommittedEvent{Transcript: "你好。", Forced: true})
	if h.turnStarted.IsZero() {
		t.Fatal("turn commit did not start the turn timer")
	}
	if !h.turnForced {
		t.Fatal("forced flag not carried")
	}

	h.handle(t.Context(), &live.MetricsCollectedEvent{
		Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	})
	if !h.turnStarted.IsZero() {
		t.Error("turn timer not reset after metrics")
	}

	// The greeting completes without a committed turn; only the token
	// counters should move.
	h.handle(t.Context(), &live.MetricsCollectedEvent{
		Usage: types.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5},
	})

	sum := collector.Summary()
	if sum.Turns != 2 {
		t.Errorf("collector turns = %d, want 2", sum.Turns)
	}
	if sum.Usage.InputTokens != 13 || sum.Usage.OutputTokens != 7 {
		t.Errorf("collector usage = %+v", sum.Usage)
	}

	body := scrapeMetrics(t, met)
	if !strings.Contains(body, `translator_turns_total{forced="true",model="deepseek-chat",provider="deepseek"} 1`) {
		t.Error("committed turn not counted")
	}
	if strings.Contains(body, `forced="false"`) {
		t.Error("greeting counted as a turn")
	}
	if !strings.Contains(body, `translator_tokens_total{direction="input",model="deepseek-chat",provider="deepseek"} 13`) {
		t.Error("input tokens not accumulated")
	}
}

func TestEventHandlerTypedInputStartsTimer(t *testing.T) {
	h := &eventHandler{
		log:       zap.NewNop().Sugar(),
		metrics:   metrics.NewMetrics(""),
		collector: metrics.NewUsageCollector(),
		provider:  "deepseek",
		model:     "deepseek-chat",
		sessionID: "live_test",
	}

	h.handle(t.Context(), &live.InputCommittedEvent{Transcript: "你好"})
	if h.turnStarted.IsZero() {
		t.Fatal("typed input did not start the turn timer")
	}

	// A spoken commit precedes its input event; the earlier timestamp
	// must win.
	h2 := &eventHandler{
		log:       zap.NewNop().Sugar(),
		metrics:   metrics.NewMetrics(""),
		collector: metrics.NewUsageCollector(),
	}
	h2.handle(t.Context(), &live.TurnCommittedEvent{Transcript: "你好。"})
	started := h2.turnStarted
	h2.handle(t.Context(), &live.InputCommittedEvent{Transcript: "你好。"})
	if h2.turnStarted != started {
		t.Error("input event reset the spoken turn timer")
	}
}
