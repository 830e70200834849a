package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"

	// DefaultModel is Cartesia's streaming synthesis model.
	DefaultModel = "sonic-3"

	// DefaultLanguage is the language replies are spoken in.
	DefaultLanguage = "en"

	// defaultVoice is the English voice the worker ships with.
	defaultVoice = "6f84f4b8-58a2-430c-8c79-688dad597532"
)

// Cartesia implements Provider against the Cartesia TTS API.
type Cartesia struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures the Cartesia provider.
type Option func(*Cartesia)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Cartesia) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for batch requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cartesia) {
		c.client = client
	}
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string, opts ...Option) *Cartesia {
	c := &Cartesia{
		apiKey:  apiKey,
		baseURL: cartesiaBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier.
func (c *Cartesia) Name() string {
	return "cartesia"
}

// Synthesize converts text to a complete audio clip via the bytes API.
func (c *Cartesia) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	voice := opts.Voice
	if voice == "" {
		voice = defaultVoice
	}

	reqBody := synthesizeRequest{
		ModelID:          DefaultModel,
		Transcript:       text,
		Voice:            voiceSpec{Mode: "id", ID: voice},
		OutputFormat:     buildOutputFormat(opts.Format, opts.SampleRate),
		Language:         language(opts.Language),
		GenerationConfig: buildGenerationConfig(opts.Speed, opts.Volume, opts.Emotion),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return &Synthesis{Audio: []byte{}, Format: normalizeFormat(opts.Format)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	return &Synthesis{
		Audio:  audio,
		Format: normalizeFormat(opts.Format),
	}, nil
}

type synthesizeRequest struct {
	ModelID          string            `json:"model_id"`
	Transcript       string            `json:"transcript"`
	Voice            voiceSpec         `json:"voice"`
	OutputFormat     outputFormat      `json:"output_format"`
	Language         string            `json:"language"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type generationConfig struct {
	Speed   float64 `json:"speed,omitempty"`
	Volume  float64 `json:"volume,omitempty"`
	Emotion string  `json:"emotion,omitempty"`
}

// buildOutputFormat maps the format hint to Cartesia's output_format
// block. The zero sample rate means 24kHz, the rate the rest of the
// pipeline runs at.
func buildOutputFormat(format string, sampleRate int) outputFormat {
	if sampleRate == 0 {
		sampleRate = 24000
	}

	switch format {
	case "mp3":
		return outputFormat{
			Container:  "mp3",
			SampleRate: sampleRate,
			BitRate:    128000,
		}
	case "pcm", "raw":
		return outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		}
	default: // wav
		return outputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		}
	}
}

func buildGenerationConfig(speed, volume float64, emotion string) *generationConfig {
	if speed == 0 && volume == 0 && emotion == "" {
		return nil
	}
	return &generationConfig{Speed: speed, Volume: volume, Emotion: emotion}
}

func language(code string) string {
	if code == "" {
		return DefaultLanguage
	}
	return code
}

func normalizeFormat(format string) string {
	switch format {
	case "mp3", "pcm", "raw", "wav":
		return format
	default:
		return "wav"
	}
}

// SynthesizeStream converts text to audio streamed over a WebSocket.
func (c *Cartesia) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	voice := opts.Voice
	if voice == "" {
		voice = defaultVoice
	}

	conn, err := c.dialStream(ctx)
	if err != nil {
		return nil, err
	}

	stream := NewSynthesisStream()

	req := streamRequest{
		ModelID:          DefaultModel,
		Transcript:       text,
		Voice:            voiceSpec{Mode: "id", ID: voice},
		OutputFormat:     buildOutputFormat(opts.Format, opts.SampleRate),
		Language:         language(opts.Language),
		ContextID:        newContextID(),
		Continue:         false,
		GenerationConfig: buildGenerationConfig(opts.Speed, opts.Volume, opts.Emotion),
	}

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	go func() {
		defer stream.FinishSending()
		defer conn.Close()
		readAudioStream(ctx, conn, stream.done, stream.Send, stream.SetError)
	}()

	return stream, nil
}

// NewStreamingContext opens an incremental synthesis session. Text
// chunks go in through SendText; audio chunks come out on Audio.
func (c *Cartesia) NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error) {
	voice := opts.Voice
	if voice == "" {
		voice = defaultVoice
	}

	conn, err := c.dialStream(ctx)
	if err != nil {
		return nil, err
	}

	sc := NewStreamingContext()

	maxBufferDelay := opts.MaxBufferDelayMs
	if maxBufferDelay == 0 {
		maxBufferDelay = 500
	}

	baseReq := streamRequest{
		ModelID:          DefaultModel,
		Voice:            voiceSpec{Mode: "id", ID: voice},
		OutputFormat:     buildOutputFormat(opts.Format, opts.SampleRate),
		Language:         language(opts.Language),
		ContextID:        newContextID(),
		MaxBufferDelayMs: maxBufferDelay,
		GenerationConfig: buildGenerationConfig(opts.Speed, opts.Volume, opts.Emotion),
	}

	var writeMu sync.Mutex

	sc.SendFunc = func(text string, isFinal bool) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		req := baseReq
		req.Transcript = text
		// Continue must stay true until the final chunk. Once a
		// request goes out with continue=false Cartesia closes the
		// context and rejects further text with "Context has closed".
		req.Continue = !isFinal
		return conn.WriteJSON(req)
	}

	sc.CloseFunc = func() error {
		return conn.Close()
	}

	go func() {
		defer sc.FinishAudio()
		defer conn.Close()
		readAudioStream(ctx, conn, sc.Done(), sc.PushAudio, sc.SetError)
	}()

	return sc, nil
}

// dialStream opens the synthesis WebSocket with header auth.
func (c *Cartesia) dialStream(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.streamEndpoint(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

// streamEndpoint derives the websocket endpoint from the base URL so
// that overriding one redirects both.
func (c *Cartesia) streamEndpoint() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/tts/websocket"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/tts/websocket"
	default:
		return c.baseURL + "/tts/websocket"
	}
}

// readAudioStream drains synthesis messages from conn until the server
// reports done or an error. A send callback returning false means the
// consumer is gone.
func readAudioStream(ctx context.Context, conn *websocket.Conn, cancelled <-chan struct{}, send func([]byte) bool, setErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			setErr(ctx.Err())
			return
		case <-cancelled:
			return
		default:
		}

		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-cancelled:
				// Deliberate close, not a failure.
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			setErr(err)
			return
		}

		switch msg.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				setErr(fmt.Errorf("decode audio: %w", err))
				return
			}
			if !send(audio) {
				return
			}

		case "done":
			return

		case "flush_done":
			// Flush acknowledged; audio continues until "done".

		case "error":
			setErr(fmt.Errorf("cartesia tts: %s", msg.Error))
			return
		}
	}
}

type streamRequest struct {
	ModelID          string            `json:"model_id"`
	Transcript       string            `json:"transcript"`
	Voice            voiceSpec         `json:"voice"`
	OutputFormat     outputFormat      `json:"output_format"`
	Language         string            `json:"language"`
	ContextID        string            `json:"context_id"`
	Continue         bool              `json:"continue"`
	Flush            bool              `json:"flush,omitempty"`
	MaxBufferDelayMs int               `json:"max_buffer_delay_ms,omitempty"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type streamMessage struct {
	Type       string `json:"type"` // "chunk", "flush_done", "done", "error"
	Data       string `json:"data,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

func newContextID() string {
	return "ctx_" + uuid.NewString()
}
