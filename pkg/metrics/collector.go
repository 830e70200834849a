package metrics

import (
	"fmt"
	"sync"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// UsageCollector accumulates per-turn usage into a session summary.
// Collect runs on the session event loop while Summary may be read
// from the shutdown path.
type UsageCollector struct {
	mu    sync.Mutex
	turns int
	usage types.Usage
}

// NewUsageCollector creates an empty collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{}
}

// Collect adds one turn's usage to the running totals.
func (c *UsageCollector) Collect(u types.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns++
	c.usage = c.usage.Add(u)
}

// Summary returns a snapshot of the accumulated totals.
func (c *UsageCollector) Summary() UsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return UsageSummary{
		Turns: c.turns,
		Usage: c.usage,
	}
}

// UsageSummary is a point-in-time snapshot of collected usage.
type UsageSummary struct {
	Turns int         `json:"turns"`
	Usage types.Usage `json:"usage"`
}

// String formats the summary for the shutdown log line.
func (s UsageSummary) String() string {
	out := fmt.Sprintf("%d turns, %d input tokens, %d output tokens",
		s.Turns, s.Usage.InputTokens, s.Usage.OutputTokens)
	if s.Usage.CacheReadTokens != nil {
		out += fmt.Sprintf(" (%d cached)", *s.Usage.CacheReadTokens)
	}
	if s.Usage.CostUSD != nil {
		out += fmt.Sprintf(", $%.4f", *s.Usage.CostUSD)
	}
	return out
}
