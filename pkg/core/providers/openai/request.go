package openai

import "github.com/vango-go/vai-translate/pkg/core/types"

// chatRequest is the Chat Completions request format, trimmed to the
// text chat fields the translator uses.
type chatRequest struct {
	Model               string         `json:"model"`
	Messages            []chatMessage  `json:"messages"`
	MaxTokens           *int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
	Stream              bool           `json:"stream,omitempty"`
	StreamOptions       *streamOptions `json:"stream_options,omitempty"`
}

// chatMessage is a single message on the wire.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamOptions configures streaming behavior.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// buildRequest converts a generation request to the wire format. The
// system prompt becomes the leading system message.
func (p *Provider) buildRequest(req *types.GenerateRequest) *chatRequest {
	wireReq := &chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	if p.maxTokensField == MaxTokensFieldMaxCompletionTokens {
		wireReq.MaxCompletionTokens = &maxTokens
	} else {
		wireReq.MaxTokens = &maxTokens
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: types.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	wireReq.Messages = messages

	return wireReq
}
