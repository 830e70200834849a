// Package gemini implements the Gemini LLM backend on the official
// google.golang.org/genai SDK. SDK responses are normalized into the
// shared provider event model so the session engine can consume either
// backend through the same stream contract.
package gemini

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

// DefaultMaxTokens is the default output cap if the request does not set one.
const DefaultMaxTokens = 4096

// EventStream is an iterator over streaming events.
type EventStream interface {
	Next() (types.StreamEvent, error)
	Close() error
}

// Provider implements the Gemini API through the official SDK.
type Provider struct {
	client     *genai.Client
	httpClient *http.Client
	baseURL    string
}

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Useful for proxies.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// New creates a Gemini provider. The SDK client is constructed eagerly
// so configuration problems surface at startup rather than mid-session.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.httpClient != nil {
		cc.HTTPClient = p.httpClient
	}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Generate sends a non-streaming request and returns the completed
// generation.
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResponse, error) {
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, buildContents(req.Messages), buildConfig(req))
	if err != nil {
		return nil, mapError(err)
	}
	return toResponse(resp, req.Model), nil
}

// StreamMessage sends a streaming request and returns the normalized
// event stream.
func (p *Provider) StreamMessage(ctx context.Context, req *types.GenerateRequest) (EventStream, error) {
	seq := p.client.Models.GenerateContentStream(ctx, req.Model, buildContents(req.Messages), buildConfig(req))
	return newEventStream(seq, req.Model), nil
}
