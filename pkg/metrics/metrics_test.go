package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics("")

	m.RecordSessionStart()
	m.RecordTurn("deepseek", "deepseek-chat", false, 1500*time.Millisecond)
	m.RecordTurn("deepseek", "deepseek-chat", true, 500*time.Millisecond)
	m.RecordTokens("deepseek", "deepseek-chat", 120, 45)
	m.RecordCost("deepseek", "deepseek-chat", 0.0123)
	m.RecordPolicyViolation("untranslated_reply")
	m.RecordAudioBytes("input", 960)
	m.RecordAudioBytes("output", 480)
	m.RecordSessionEnd("deepseek", "deepseek-chat", "closed", 42*time.Second)

	body := scrape(t, m)

	// Text exposition sorts labels alphabetically.
	want := []string{
		`translator_sessions_active 0`,
		`translator_sessions_total{status="closed"} 1`,
		`translator_turns_total{forced="false",model="deepseek-chat",provider="deepseek"} 1`,
		`translator_turns_total{forced="true",model="deepseek-chat",provider="deepseek"} 1`,
		`translator_turn_duration_seconds_count{model="deepseek-chat",provider="deepseek"} 2`,
		`translator_turn_duration_seconds_sum{model="deepseek-chat",provider="deepseek"} 2`,
		`translator_tokens_total{direction="input",model="deepseek-chat",provider="deepseek"} 120`,
		`translator_tokens_total{direction="output",model="deepseek-chat",provider="deepseek"} 45`,
		`translator_cost_usd_total{model="deepseek-chat",provider="deepseek"} 0.0123`,
		`translator_policy_violations_total{reason="untranslated_reply"} 1`,
		`translator_audio_bytes_total{direction="input"} 960`,
		`translator_audio_bytes_total{direction="output"} 480`,
		`translator_session_duration_seconds_count{model="deepseek-chat",provider="deepseek"} 1`,
		`translator_session_duration_seconds_sum{model="deepseek-chat",provider="deepseek"} 42`,
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Errorf("exposition missing %q", line)
		}
	}
}

func TestMetricsCustomNamespace(t *testing.T) {
	m := NewMetrics("vango")

	body := scrape(t, m)

	if !strings.Contains(body, "vango_sessions_active 0") {
		t.Errorf("exposition missing vango-namespaced gauge:\n%s", body)
	}
	if strings.Contains(body, "translator_") {
		t.Error("default namespace leaked into custom-namespace registry")
	}
}

func TestMetricsZeroValuesNotRecorded(t *testing.T) {
	m := NewMetrics("")

	m.RecordTokens("deepseek", "deepseek-chat", 0, 0)
	m.RecordCost("deepseek", "deepseek-chat", 0)
	m.RecordAudioBytes("input", 0)

	body := scrape(t, m)

	for _, name := range []string{"tokens_total{", "cost_usd_total{", "audio_bytes_total{"} {
		if strings.Contains(body, name) {
			t.Errorf("zero-value record produced a %s series", name)
		}
	}
}

func TestMetricsActiveSessionsGauge(t *testing.T) {
	m := NewMetrics("")

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd("deepseek", "deepseek-chat", "closed", time.Second)

	body := scrape(t, m)

	if !strings.Contains(body, "translator_sessions_active 1") {
		t.Errorf("want one active session, got:\n%s", body)
	}
}

func TestUsageCollector(t *testing.T) {
	c := NewUsageCollector()

	if got := c.Summary(); got.Turns != 0 || !got.Usage.IsEmpty() {
		t.Errorf("fresh collector summary = %+v", got)
	}

	hit := 30
	cost := 0.01
	c.Collect(types.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120})
	c.Collect(types.Usage{InputTokens: 50, OutputTokens: 10, TotalTokens: 60, CacheReadTokens: &hit, CostUSD: &cost})
	c.Collect(types.Usage{})

	got := c.Summary()
	if got.Turns != 3 {
		t.Errorf("Turns = %d, want 3", got.Turns)
	}
	if got.Usage.InputTokens != 150 || got.Usage.OutputTokens != 30 || got.Usage.TotalTokens != 180 {
		t.Errorf("Usage totals = %+v", got.Usage)
	}
	if got.Usage.CacheReadTokens == nil || *got.Usage.CacheReadTokens != 30 {
		t.Errorf("CacheReadTokens = %v, want 30", got.Usage.CacheReadTokens)
	}
	if got.Usage.CostUSD == nil || *got.Usage.CostUSD != 0.01 {
		t.Errorf("CostUSD = %v, want 0.01", got.Usage.CostUSD)
	}
}

func TestUsageSummaryString(t *testing.T) {
	s := UsageSummary{Turns: 3, Usage: types.Usage{InputTokens: 150, OutputTokens: 30}}
	if got, want := s.String(), "3 turns, 150 input tokens, 30 output tokens"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	hit := 30
	cost := 0.01
	s.Usage.CacheReadTokens = &hit
	s.Usage.CostUSD = &cost
	if got, want := s.String(), "3 turns, 150 input tokens, 30 output tokens (30 cached), $0.0100"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
