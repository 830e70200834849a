package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"

	// DefaultModel is Cartesia's streaming Whisper variant.
	DefaultModel = "ink-whisper"

	// DefaultLanguage is what the worker listens for.
	DefaultLanguage = "zh"

	defaultMinVolume = 0.01
)

// Cartesia implements Provider against the Cartesia STT API.
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

// NewCartesia creates a Cartesia STT provider.
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

// Transcribe converts a complete recording to text via the batch API.
func (c *Cartesia) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+fileExtension(opts.Format))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audioData); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}

	language := opts.Language
	if language == "" {
		language = DefaultLanguage
	}
	if err := mw.WriteField("language", language); err != nil {
		return nil, fmt.Errorf("write language field: %w", err)
	}

	if opts.Timestamps {
		if err := mw.WriteField("timestamp_granularities[]", "word"); err != nil {
			return nil, fmt.Errorf("write timestamp field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL := c.baseURL + "/stt"
	if opts.Format != "" || opts.SampleRate > 0 {
		u, err := url.Parse(reqURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		if encoding := pcmEncoding(opts.Format); encoding != "" {
			q.Set("encoding", encoding)
		}
		if opts.SampleRate > 0 {
			q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(body))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return toTranscript(tr), nil
}

type transcriptionResponse struct {
	Text     string   `json:"text"`
	Language *string  `json:"language,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words,omitempty"`
}

func toTranscript(resp transcriptionResponse) *Transcript {
	t := &Transcript{Text: resp.Text}
	if resp.Language != nil {
		t.Language = *resp.Language
	}
	if resp.Duration != nil {
		t.Duration = *resp.Duration
	}
	if len(resp.Words) > 0 {
		t.Words = make([]Word, len(resp.Words))
		for i, w := range resp.Words {
			t.Words[i] = Word{Word: w.Word, Start: w.Start, End: w.End}
		}
	}
	return t
}

// StreamingSTT is a live transcription session over a WebSocket.
type StreamingSTT struct {
	conn        *websocket.Conn
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	errMu       sync.Mutex
	err         error
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewStreamingSTT opens a live transcription session. Audio is pushed
// with SendAudio and deltas arrive on Transcripts.
func (c *Cartesia) NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (*StreamingSTT, error) {
	u, err := url.Parse(c.streamEndpoint())
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	q.Set("model", model)

	language := opts.Language
	if language == "" {
		language = DefaultLanguage
	}
	q.Set("language", language)

	encoding := opts.Format
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	q.Set("encoding", encoding)

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))

	// Turn detection happens on our side, so max_silence_duration_secs
	// stays unset and Cartesia streams interim transcripts without
	// waiting for silence. min_volume still filters background noise.
	minVolume := opts.MinVolume
	if minVolume <= 0 {
		minVolume = defaultMinVolume
	}
	q.Set("min_volume", strconv.FormatFloat(minVolume, 'g', -1, 64))

	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
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

	ctx, cancel := context.WithCancel(ctx)
	s := &StreamingSTT{
		conn:        conn,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	go s.readLoop()

	return s, nil
}

// streamEndpoint derives the websocket endpoint from the base URL so
// that overriding one redirects both.
func (c *Cartesia) streamEndpoint() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/stt/websocket"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/stt/websocket"
	default:
		return c.baseURL + "/stt/websocket"
	}
}

func (s *StreamingSTT) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(fmt.Errorf("read transcript: %w", err))
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			delta := TranscriptDelta{
				Text:     msg.Text,
				IsFinal:  msg.IsFinal,
				Language: msg.Language,
				Duration: msg.Duration,
			}
			select {
			case s.transcripts <- delta:
			case <-s.ctx.Done():
				return
			}

		case "flush_done":
			// Acknowledgment of a finalize command.

		case "done":
			return

		case "error":
			s.setErr(fmt.Errorf("cartesia stt: %s", msg.Error))
			return
		}
	}
}

type streamMessage struct {
	Type      string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	Duration  float64 `json:"duration"`
	Language  string  `json:"language"`
	RequestID string  `json:"request_id"`
	Error     string  `json:"error"`
}

// SendAudio pushes raw audio in the format the session was opened with.
func (s *StreamingSTT) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize flushes buffered audio server-side and keeps the session
// open. Use it when the caller stops speaking mid-session.
func (s *StreamingSTT) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Transcripts returns the channel of transcript deltas. It is closed
// when the session ends.
func (s *StreamingSTT) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done returns a channel closed when the session ends.
func (s *StreamingSTT) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended. It returns nil while the session
// is live and after a clean shutdown.
func (s *StreamingSTT) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *StreamingSTT) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close shuts the session down.
func (s *StreamingSTT) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

// fileExtension maps a format hint to the upload filename extension.
func fileExtension(format string) string {
	switch format {
	case "wav", "mp3", "webm", "ogg", "flac", "m4a", "mp4", "mpeg", "mpga", "oga":
		return format
	default:
		return "wav"
	}
}

// pcmEncoding returns the encoding query value for raw audio formats.
func pcmEncoding(format string) string {
	switch format {
	case "pcm_s16le", "pcm_s32le", "pcm_f16le", "pcm_f32le", "pcm_mulaw", "pcm_alaw":
		return format
	default:
		return ""
	}
}
