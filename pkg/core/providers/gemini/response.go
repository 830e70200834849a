package gemini

import (
	"google.golang.org/genai"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// toResponse converts an SDK response into the shared response type.
func toResponse(resp *genai.GenerateContentResponse, model string) *types.GenerateResponse {
	out := &types.GenerateResponse{
		ID:         "msg_" + model,
		Model:      model,
		Text:       resp.Text(),
		StopReason: types.StopReasonEndTurn,
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = mapFinishReason(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.Usage = toUsage(resp.UsageMetadata)
	}
	return out
}

func toUsage(m *genai.GenerateContentResponseUsageMetadata) types.Usage {
	u := types.Usage{
		InputTokens:  int(m.PromptTokenCount),
		OutputTokens: int(m.CandidatesTokenCount),
		TotalTokens:  int(m.TotalTokenCount),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if m.CachedContentTokenCount > 0 {
		cached := int(m.CachedContentTokenCount)
		u.CacheReadTokens = &cached
	}
	return u
}

// mapFinishReason folds SDK finish reasons into the shared stop reasons.
// Safety and recitation stops surface as a normal end of turn.
func mapFinishReason(reason genai.FinishReason) types.StopReason {
	if reason == genai.FinishReasonMaxTokens {
		return types.StopReasonMaxTokens
	}
	return types.StopReasonEndTurn
}
