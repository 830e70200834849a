package types

// Usage contains token counts and cost for one generation.
// CacheReadTokens is reported by backends with prompt caching
// (DeepSeek returns it as prompt_cache_hit_tokens); nil means the
// backend did not report it.
type Usage struct {
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	TotalTokens     int      `json:"total_tokens"`
	CacheReadTokens *int     `json:"cache_read_tokens,omitempty"`
	CostUSD         *float64 `json:"cost_usd,omitempty"`
}

// Add combines two Usage values for aggregation.
func (u Usage) Add(other Usage) Usage {
	result := Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}

	if u.CacheReadTokens != nil || other.CacheReadTokens != nil {
		sum := 0
		if u.CacheReadTokens != nil {
			sum += *u.CacheReadTokens
		}
		if other.CacheReadTokens != nil {
			sum += *other.CacheReadTokens
		}
		result.CacheReadTokens = &sum
	}

	if u.CostUSD != nil || other.CostUSD != nil {
		var sum float64
		if u.CostUSD != nil {
			sum += *u.CostUSD
		}
		if other.CostUSD != nil {
			sum += *other.CostUSD
		}
		result.CostUSD = &sum
	}

	return result
}

// IsEmpty reports whether the usage has no tokens.
func (u Usage) IsEmpty() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}
