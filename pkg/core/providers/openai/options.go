package openai

import (
	"net/http"
	"strings"
)

// Option configures the provider.
type Option func(*Provider)

// MaxTokensField controls which max tokens field is sent. DeepSeek and
// older OpenAI models take "max_tokens"; newer OpenAI models want
// "max_completion_tokens".
type MaxTokensField string

const (
	MaxTokensFieldMaxTokens           MaxTokensField = "max_tokens"
	MaxTokensFieldMaxCompletionTokens MaxTokensField = "max_completion_tokens"
)

// AuthConfig configures the authentication header. Value, when set,
// is sent verbatim; otherwise Prefix+key is used.
type AuthConfig struct {
	Header string
	Prefix string
	Value  string
}

// WithBaseURL points the provider at a compatible vendor or a test
// server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url == "" {
			return
		}
		p.baseURL = url
	}
}

// WithChatCompletionsPath overrides the request path.
func WithChatCompletionsPath(path string) Option {
	return func(p *Provider) {
		if path == "" {
			return
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		p.chatCompletionsPath = path
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client == nil {
			return
		}
		p.httpClient = client
	}
}

// WithMaxTokensField selects the max tokens field name.
func WithMaxTokensField(field MaxTokensField) Option {
	return func(p *Provider) {
		if field != MaxTokensFieldMaxTokens && field != MaxTokensFieldMaxCompletionTokens {
			return
		}
		p.maxTokensField = field
	}
}

// WithStreamIncludeUsage controls stream_options.include_usage. Some
// compatible vendors reject the field.
func WithStreamIncludeUsage(include bool) Option {
	return func(p *Provider) {
		p.streamIncludeUsage = include
	}
}

// WithAuth sets custom auth header behavior for vendors that take the
// key in a non-Authorization header.
func WithAuth(auth AuthConfig) Option {
	return func(p *Provider) {
		if auth.Header == "" {
			auth.Header = p.auth.Header
		}
		if auth.Value == "" && auth.Prefix == "" && strings.EqualFold(auth.Header, "Authorization") {
			auth.Prefix = p.auth.Prefix
		}
		p.auth = auth
	}
}

// WithExtraHeader adds one request header.
func WithExtraHeader(key, value string) Option {
	return func(p *Provider) {
		if key == "" {
			return
		}
		if p.extraHeaders == nil {
			p.extraHeaders = make(map[string]string)
		}
		p.extraHeaders[key] = value
	}
}
