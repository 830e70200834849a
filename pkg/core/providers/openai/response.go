package openai

import (
	"encoding/json"
	"fmt"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// chatResponse is the Chat Completions response format. DeepSeek adds
// prompt_cache_hit_tokens to the usage block; it maps onto
// Usage.CacheReadTokens.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens         int  `json:"prompt_tokens"`
	CompletionTokens     int  `json:"completion_tokens"`
	TotalTokens          int  `json:"total_tokens"`
	PromptCacheHitTokens *int `json:"prompt_cache_hit_tokens,omitempty"`
}

func (u chatUsage) toUsage() types.Usage {
	usage := types.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.PromptCacheHitTokens != nil {
		hit := *u.PromptCacheHitTokens
		usage.CacheReadTokens = &hit
	}
	return usage
}

// parseResponse parses a non-streaming response.
func (p *Provider) parseResponse(body []byte) (*types.GenerateResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]

	return &types.GenerateResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Text:       choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      resp.Usage.toUsage(),
	}, nil
}

// mapFinishReason converts finish_reason to a normalized stop reason.
func mapFinishReason(reason string) types.StopReason {
	switch reason {
	case "length":
		return types.StopReasonMaxTokens
	default:
		return types.StopReasonEndTurn
	}
}
