package types

// GenerateRequest describes one LLM generation call. Providers
// translate it into their own wire formats.
type GenerateRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// GenerateResponse is a completed, non-streamed generation.
type GenerateResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason StopReason
	Usage      Usage
}
