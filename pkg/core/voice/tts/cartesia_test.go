package tts

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestNewCartesia_Defaults(t *testing.T) {
	p := NewCartesia("api-key")
	if p.Name() != "cartesia" {
		t.Fatalf("name = %q, want cartesia", p.Name())
	}
	if p.client == nil {
		t.Fatal("default provider should initialize http client")
	}

	client := &http.Client{}
	p = NewCartesia("api-key", WithHTTPClient(client), WithBaseURL("https://example.test/"))
	if p.client != client {
		t.Fatal("expected custom http client to be set")
	}
	if p.baseURL != "https://example.test" {
		t.Fatalf("baseURL = %q, want trailing slash trimmed", p.baseURL)
	}
}

func TestBuildOutputFormat(t *testing.T) {
	mp3 := buildOutputFormat("mp3", 44100)
	if mp3.Container != "mp3" || mp3.SampleRate != 44100 || mp3.BitRate == 0 {
		t.Fatalf("mp3 format = %#v, want mp3/44100/non-zero bitrate", mp3)
	}

	pcm := buildOutputFormat("pcm", 16000)
	if pcm.Container != "raw" || pcm.Encoding != "pcm_s16le" || pcm.SampleRate != 16000 {
		t.Fatalf("pcm format = %#v, want raw/pcm_s16le/16000", pcm)
	}

	wavDefault := buildOutputFormat("", 0)
	if wavDefault.Container != "wav" || wavDefault.Encoding != "pcm_s16le" || wavDefault.SampleRate != 24000 {
		t.Fatalf("default format = %#v, want wav/pcm_s16le/24000", wavDefault)
	}
}

func TestNormalizeFormat(t *testing.T) {
	if got := normalizeFormat("mp3"); got != "mp3" {
		t.Fatalf("normalizeFormat(mp3) = %q, want mp3", got)
	}
	if got := normalizeFormat("unknown"); got != "wav" {
		t.Fatalf("normalizeFormat(unknown) = %q, want wav", got)
	}
}

func TestSynthesize_SendsRequestAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %q, want /tts/bytes", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Cartesia-Version"); got != cartesiaVersion {
			t.Errorf("version header = %q, want %q", got, cartesiaVersion)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got := body["model_id"]; got != DefaultModel {
			t.Errorf("model_id = %v, want %v", got, DefaultModel)
		}
		if got := body["transcript"]; got != "Hello there" {
			t.Errorf("transcript = %v", got)
		}
		if got := body["language"]; got != "en" {
			t.Errorf("language = %v, want en", got)
		}
		voice := body["voice"].(map[string]any)
		if voice["mode"] != "id" || voice["id"] != defaultVoice {
			t.Errorf("voice = %v, want default id", voice)
		}
		format := body["output_format"].(map[string]any)
		if format["container"] != "raw" || format["encoding"] != "pcm_s16le" {
			t.Errorf("output_format = %v", format)
		}
		if format["sample_rate"] != float64(24000) {
			t.Errorf("sample_rate = %v, want 24000", format["sample_rate"])
		}
		if _, present := body["generation_config"]; present {
			t.Error("generation_config should be omitted when unset")
		}

		w.Write([]byte("pcm-audio-bytes"))
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	got, err := p.Synthesize(t.Context(), "Hello there", SynthesizeOptions{Format: "pcm"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got.Audio) != "pcm-audio-bytes" {
		t.Fatalf("audio = %q", got.Audio)
	}
	if got.Format != "pcm" {
		t.Fatalf("format = %q, want pcm", got.Format)
	}
}

func TestSynthesize_GenerationConfigWhenSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		gen, ok := body["generation_config"].(map[string]any)
		if !ok {
			t.Error("generation_config missing")
		} else if gen["speed"] != 1.25 {
			t.Errorf("speed = %v, want 1.25", gen["speed"])
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(t.Context(), "hi", SynthesizeOptions{Speed: 1.25}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestStreamingContext_SendAndReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q, want test-key", got)
		}
		if got := r.URL.Query().Get("api_key"); got != "" {
			t.Errorf("api_key leaked into query: %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req["model_id"] != DefaultModel {
			t.Errorf("model_id = %v", req["model_id"])
		}
		if req["transcript"] != "Hello there" {
			t.Errorf("transcript = %v", req["transcript"])
		}
		if req["continue"] != false {
			t.Errorf("continue = %v, want false for final chunk", req["continue"])
		}
		if req["max_buffer_delay_ms"] != float64(500) {
			t.Errorf("max_buffer_delay_ms = %v, want 500", req["max_buffer_delay_ms"])
		}
		ctxID, _ := req["context_id"].(string)
		if !strings.HasPrefix(ctxID, "ctx_") {
			t.Errorf("context_id = %q, want ctx_ prefix", ctxID)
		}

		chunk := base64.StdEncoding.EncodeToString([]byte("audio-chunk"))
		conn.WriteJSON(map[string]any{"type": "chunk", "data": chunk})
		conn.WriteJSON(map[string]any{"type": "done"})
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	sc, err := p.NewStreamingContext(t.Context(), StreamingContextOptions{Format: "pcm", SampleRate: 24000})
	if err != nil {
		t.Fatalf("NewStreamingContext: %v", err)
	}
	defer sc.Close()

	if err := sc.SendText("Hello there", true); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	chunk, ok := <-sc.Audio()
	if !ok {
		t.Fatal("audio channel closed before first chunk")
	}
	if string(chunk) != "audio-chunk" {
		t.Fatalf("chunk = %q", chunk)
	}
	if _, ok := <-sc.Audio(); ok {
		t.Fatal("audio channel should be closed after done")
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}

func TestStreamingContext_ContinueAcrossChunks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var first, second map[string]any
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		if err := conn.ReadJSON(&second); err != nil {
			return
		}
		if first["continue"] != true {
			t.Errorf("first continue = %v, want true", first["continue"])
		}
		if second["continue"] != false {
			t.Errorf("second continue = %v, want false", second["continue"])
		}
		if first["context_id"] != second["context_id"] {
			t.Errorf("context ids differ: %v vs %v", first["context_id"], second["context_id"])
		}
		conn.WriteJSON(map[string]any{"type": "done"})
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	sc, err := p.NewStreamingContext(t.Context(), StreamingContextOptions{})
	if err != nil {
		t.Fatalf("NewStreamingContext: %v", err)
	}
	defer sc.Close()

	if err := sc.SendText("first part", false); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := sc.SendText("last part", true); err != nil {
		t.Fatalf("SendText final: %v", err)
	}

	for range sc.Audio() {
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}

func TestStreamingContext_ServerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "error", "error": "voice not found"})
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	sc, err := p.NewStreamingContext(t.Context(), StreamingContextOptions{Voice: "missing"})
	if err != nil {
		t.Fatalf("NewStreamingContext: %v", err)
	}
	defer sc.Close()

	if err := sc.SendText("hi", true); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	for range sc.Audio() {
	}
	if err := sc.Err(); err == nil || !strings.Contains(err.Error(), "voice not found") {
		t.Fatalf("Err() = %v, want voice not found", err)
	}
}

func TestStreamingContext_DeliberateCloseIsClean(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	sc, err := p.NewStreamingContext(t.Context(), StreamingContextOptions{})
	if err != nil {
		t.Fatalf("NewStreamingContext: %v", err)
	}

	if err := sc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sc.SendText("late", true); err != ErrContextClosed {
		t.Fatalf("SendText after close = %v, want ErrContextClosed", err)
	}

	for range sc.Audio() {
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Err() after deliberate close = %v, want nil", err)
	}
}

func TestSynthesizeStream_CollectsChunks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req["continue"] != false {
			t.Errorf("continue = %v, want false for one-shot synthesis", req["continue"])
		}
		for _, data := range []string{"one", "two"} {
			conn.WriteJSON(map[string]any{
				"type": "chunk",
				"data": base64.StdEncoding.EncodeToString([]byte(data)),
			})
		}
		conn.WriteJSON(map[string]any{"type": "done"})
	}))
	defer srv.Close()

	p := NewCartesia("test-key", WithBaseURL(srv.URL))
	stream, err := p.SynthesizeStream(t.Context(), "Hello", SynthesizeOptions{Format: "pcm"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	defer stream.Close()

	var got []string
	for chunk := range stream.Chunks() {
		got = append(got, string(chunk))
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("chunks = %v", got)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}

func TestNewContextID(t *testing.T) {
	a, b := newContextID(), newContextID()
	if !strings.HasPrefix(a, "ctx_") {
		t.Fatalf("context id = %q, want ctx_ prefix", a)
	}
	if a == b {
		t.Fatal("context ids should be unique")
	}
}
