// Package openai implements a client for the OpenAI Chat Completions
// API surface. DeepSeek serves the same surface, so the translator
// points this provider at api.deepseek.com via WithBaseURL; any other
// chat-completions-compatible vendor works the same way.
package openai

import (
	"context"
	"net/http"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

const (
	// DefaultBaseURL is the stock OpenAI endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultChatCompletionsPath is appended to the base URL.
	DefaultChatCompletionsPath = "/chat/completions"

	// DefaultMaxTokens applies when the request does not set one.
	DefaultMaxTokens = 4096
)

// EventStream is an iterator over normalized streaming events.
type EventStream interface {
	Next() (types.StreamEvent, error)
	Close() error
}

// Provider implements the Chat Completions API.
type Provider struct {
	apiKey              string
	baseURL             string
	chatCompletionsPath string
	httpClient          *http.Client
	auth                AuthConfig
	extraHeaders        map[string]string
	maxTokensField      MaxTokensField
	streamIncludeUsage  bool
}

// New creates a provider with Bearer auth and usage reporting on
// streams. Compatible vendors are selected with WithBaseURL.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:              apiKey,
		baseURL:             DefaultBaseURL,
		chatCompletionsPath: DefaultChatCompletionsPath,
		httpClient:          &http.Client{},
		auth:                AuthConfig{Header: "Authorization", Prefix: "Bearer "},
		maxTokensField:      MaxTokensFieldMaxTokens,
		streamIncludeUsage:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Generate sends a non-streaming request and returns the completed
// generation. The translator uses this for short auxiliary calls like
// the turn-completion check.
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResponse, error) {
	body, err := p.doRequest(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return p.parseResponse(body)
}

// StreamMessage sends a streaming request and returns the normalized
// event stream.
func (p *Provider) StreamMessage(ctx context.Context, req *types.GenerateRequest) (EventStream, error) {
	wireReq := p.buildRequest(req)
	wireReq.Stream = true
	if p.streamIncludeUsage {
		wireReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	body, err := p.doStreamRequest(ctx, wireReq)
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}
