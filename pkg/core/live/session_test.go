package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-translate/pkg/core/types"
	"github.com/vango-go/vai-translate/pkg/core/voice/sanitize"
	"github.com/vango-go/vai-translate/pkg/core/voice/stt"
	"github.com/vango-go/vai-translate/pkg/core/voice/tts"
)

// sttServer is a fake transcription backend. The session connects to it
// over websocket; tests push transcript frames back through the
// server-side connection.
type sttServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newSTTServer(t *testing.T) *sttServer {
	t.Helper()
	s := &sttServer{}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sttServer) provider() *stt.Cartesia {
	return stt.NewCartesia("test-key", stt.WithBaseURL(s.srv.URL))
}

// push writes one transcript frame to the most recent connection.
func (s *sttServer) push(t *testing.T, text string, final bool) {
	t.Helper()
	if !waitFor(t, 2*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) > 0
	}) {
		t.Fatal("no transcription connection")
	}

	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()

	frame, err := json.Marshal(map[string]any{
		"type":     "transcript",
		"text":     text,
		"is_final": final,
		"language": "zh",
		"duration": 0.8,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("push transcript: %v", err)
	}
}

// scriptedStream replays a fixed event sequence. With block set it
// delivers the events and then holds the stream open until the request
// context is cancelled.
type scriptedStream struct {
	ctx    context.Context
	events []types.StreamEvent
	idx    int
	block  bool
}

func (s *scriptedStream) Next() (types.StreamEvent, error) {
	if s.idx < len(s.events) {
		event := s.events[s.idx]
		s.idx++
		return event, nil
	}
	if s.block {
		<-s.ctx.Done()
		return nil, s.ctx.Err()
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

// fakeLLM scripts reply generation. Each StreamMessage call takes the
// next reply from the list; the last one repeats.
type fakeLLM struct {
	mu         sync.Mutex
	replies    []string
	blockFirst bool
	checkText  string
	streamReqs []*types.GenerateRequest
	genReqs    []*types.GenerateRequest
}

func (f *fakeLLM) Generate(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResponse, error) {
	f.mu.Lock()
	f.genReqs = append(f.genReqs, req)
	text := f.checkText
	f.mu.Unlock()
	if text == "" {
		text = "YES"
	}
	return &types.GenerateResponse{
		ID:         "check",
		Model:      req.Model,
		Text:       text,
		StopReason: types.StopReasonEndTurn,
	}, nil
}

func (f *fakeLLM) StreamMessage(ctx context.Context, req *types.GenerateRequest) (EventStream, error) {
	f.mu.Lock()
	call := len(f.streamReqs)
	f.streamReqs = append(f.streamReqs, req)
	reply := "Understood."
	if len(f.replies) > 0 {
		if call < len(f.replies) {
			reply = f.replies[call]
		} else {
			reply = f.replies[len(f.replies)-1]
		}
	}
	block := f.blockFirst && call == 0
	f.mu.Unlock()

	events := []types.StreamEvent{
		types.MessageStartEvent{ID: fmt.Sprintf("msg_%d", call), Model: req.Model},
		types.TextDeltaEvent{Text: reply},
	}
	if !block {
		events = append(events,
			types.MessageDeltaEvent{
				StopReason: types.StopReasonEndTurn,
				Usage:      types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			},
			types.MessageStopEvent{},
		)
	}
	return &scriptedStream{ctx: ctx, events: events, block: block}, nil
}

func (f *fakeLLM) streamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streamReqs)
}

func (f *fakeLLM) streamReq(i int) *types.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streamReqs) {
		return nil
	}
	return f.streamReqs[i]
}

func (f *fakeLLM) requestEndingWith(content string) *types.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.streamReqs {
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Content == content {
			return req
		}
	}
	return nil
}

type ttsChunk struct {
	text  string
	final bool
}

// fakeTTSClient synthesizes one 10ms audio chunk per text chunk. With
// holdAudio set the audio channel never closes, so playback stays
// active the way a long reply would.
type fakeTTSClient struct {
	mu        sync.Mutex
	holdAudio bool
	failOpen  bool
	opts      []tts.StreamingContextOptions
	sent      []ttsChunk
}

func (f *fakeTTSClient) NewStreamingContext(ctx context.Context, opts tts.StreamingContextOptions) (*tts.StreamingContext, error) {
	f.mu.Lock()
	fail := f.failOpen
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if fail {
		return nil, errors.New("synthesis unavailable")
	}

	sc := tts.NewStreamingContext()
	sc.SendFunc = func(text string, isFinal bool) error {
		f.mu.Lock()
		f.sent = append(f.sent, ttsChunk{text: text, final: isFinal})
		hold := f.holdAudio
		f.mu.Unlock()
		sc.PushAudio(make([]byte, 480))
		if isFinal && !hold {
			sc.FinishAudio()
		}
		return nil
	}
	return sc, nil
}

func (f *fakeTTSClient) sentChunks() []ttsChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ttsChunk, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTTSClient) contextOpts() []tts.StreamingContextOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tts.StreamingContextOptions, len(f.opts))
	copy(out, f.opts)
	return out
}

// eventLog drains a session's event channel into an inspectable record.
type eventLog struct {
	mu      sync.Mutex
	events  []Event
	drained bool
}

func collectEvents(s *Session) *eventLog {
	log := &eventLog{}
	go func() {
		for event := range s.Events() {
			log.mu.Lock()
			log.events = append(log.events, event)
			log.mu.Unlock()
		}
		log.mu.Lock()
		log.drained = true
		log.mu.Unlock()
	}()
	return log
}

func (l *eventLog) find(eventType string) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.EventType() == eventType {
			return e
		}
	}
	return nil
}

func (l *eventLog) last(eventType string) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].EventType() == eventType {
			return l.events[i]
		}
	}
	return nil
}

func (l *eventLog) has(eventType string) bool {
	return l.find(eventType) != nil
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func (l *eventLog) closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drained
}

// newTestConfig disables the model-backed checks and the grace window
// so turns commit deterministically. Tests that exercise those paths
// turn them back on.
func newTestConfig() SessionConfig {
	config := DefaultSessionConfig()
	config.Turn.SemanticCheck = false
	config.GracePeriod.Enabled = false
	return config
}

func newTestSession(t *testing.T, config SessionConfig, llm *fakeLLM, ttsClient *fakeTTSClient) (*Session, *eventLog, *sttServer) {
	t.Helper()
	server := newSTTServer(t)
	session := NewSession(config, llm, ttsClient, server.provider())
	log := collectEvents(session)
	if err := session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, log, server
}

// loudFrame is 20ms of PCM well above every energy threshold.
func loudFrame() []byte {
	samples := make([]int16, 480)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 20000
		} else {
			samples[i] = -20000
		}
	}
	return pcmSamples(samples...)
}

func TestSessionStartAndClose(t *testing.T) {
	session, log, _ := newTestSession(t, newTestConfig(), &fakeLLM{}, &fakeTTSClient{})

	if !strings.HasPrefix(session.SessionID(), "live_") {
		t.Errorf("session id = %q", session.SessionID())
	}
	if session.State() != StateListening {
		t.Fatalf("state after Start = %v, want listening", session.State())
	}
	if err := session.Start(t.Context()); err == nil {
		t.Error("second Start should fail")
	}

	if !waitFor(t, 2*time.Second, func() bool { return log.has("session.created") }) {
		t.Fatal("no session.created event")
	}
	created, ok := log.find("session.created").(*SessionCreatedEvent)
	if !ok {
		t.Fatal("session.created has wrong type")
	}
	if created.SessionID != session.SessionID() {
		t.Errorf("created session id = %q", created.SessionID)
	}
	if created.SampleRate != 24000 || created.Channels != 1 {
		t.Errorf("created format = %d/%d, want 24000/1", created.SampleRate, created.Channels)
	}
	change, ok := log.find("state.changed").(*StateChangedEvent)
	if !ok || change.From != StateConfiguring || change.To != StateListening {
		t.Errorf("first transition = %+v", change)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("state after Close = %v", session.State())
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if !waitFor(t, 2*time.Second, log.closed) {
		t.Fatal("event channel never closed")
	}
	closedEvent, ok := log.find("session.closed").(*SessionClosedEvent)
	if !ok || closedEvent.Reason != "closed" {
		t.Errorf("session.closed = %+v", closedEvent)
	}

	if err := session.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := session.SendText("hello"); err == nil {
		t.Error("SendText after Close should fail")
	}
}

func TestSessionSpokenTurn(t *testing.T) {
	llm := &fakeLLM{replies: []string{"It is sunny today."}}
	ttsClient := &fakeTTSClient{}
	session, log, server := newTestSession(t, newTestConfig(), llm, ttsClient)

	server.push(t, "今天天气很好。", true)

	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("audio.done") && session.State() == StateListening
	}) {
		t.Fatal("turn never completed")
	}

	final, ok := log.find("transcript.final").(*TranscriptFinalEvent)
	if !ok || final.Text != "今天天气很好。" || final.Language != "zh" {
		t.Errorf("transcript.final = %+v", final)
	}
	committed, ok := log.find("turn.committed").(*TurnCommittedEvent)
	if !ok || committed.Transcript != "今天天气很好。" || committed.Forced {
		t.Errorf("turn.committed = %+v", committed)
	}
	done, ok := log.find("agent.reply.done").(*ReplyDoneEvent)
	if !ok || done.Text != "It is sunny today." || done.SpokenText != "It is sunny today" {
		t.Errorf("agent.reply.done = %+v", done)
	}
	audio, ok := log.find("agent.reply.audio").(*ReplyAudioEvent)
	if !ok {
		t.Fatal("no agent.reply.audio event")
	}
	if audio.Format != "pcm_s16le" || len(audio.Data) != 480 {
		t.Errorf("agent.reply.audio = format %q, %d bytes", audio.Format, len(audio.Data))
	}
	audioDone, ok := log.find("audio.done").(*AudioDoneEvent)
	if !ok || audioDone.DurationMs != 10 {
		t.Errorf("audio.done = %+v", audioDone)
	}
	metrics, ok := log.find("metrics.collected").(*MetricsCollectedEvent)
	if !ok {
		t.Fatal("no metrics.collected event")
	}
	if metrics.Usage.InputTokens != 10 || metrics.Usage.OutputTokens != 5 {
		t.Errorf("metrics usage = %+v", metrics.Usage)
	}
	if metrics.ReplyChars != len("It is sunny today") || metrics.AudioMs != 10 {
		t.Errorf("metrics = chars %d, audio %dms", metrics.ReplyChars, metrics.AudioMs)
	}

	req := llm.streamReq(0)
	if req == nil {
		t.Fatal("no generation request")
	}
	if req.Model != "deepseek-chat" || req.MaxTokens != 1024 {
		t.Errorf("request model/tokens = %q/%d", req.Model, req.MaxTokens)
	}
	if req.System != DefaultSystemPrompt {
		t.Error("request should carry the default system prompt")
	}
	if n := len(req.Messages); n == 0 || req.Messages[n-1].Content != "今天天气很好。" {
		t.Errorf("request messages = %+v", req.Messages)
	}

	sent := ttsClient.sentChunks()
	if len(sent) != 1 || sent[0].text != "It is sunny today" || !sent[0].final {
		t.Errorf("synthesis chunks = %+v", sent)
	}
	opts := ttsClient.contextOpts()
	if len(opts) != 1 || opts[0].Format != "pcm" || opts[0].SampleRate != 24000 {
		t.Errorf("synthesis opts = %+v", opts)
	}

	history := session.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != types.RoleUser || history[0].Content != "今天天气很好。" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != types.RoleAssistant || history[1].Content != "It is sunny today." {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestSessionPolicyViolation(t *testing.T) {
	llm := &fakeLLM{replies: []string{"今天天气很好"}}
	ttsClient := &fakeTTSClient{}
	session, log, _ := newTestSession(t, newTestConfig(), llm, ttsClient)

	if err := session.SendText("今天天气怎么样"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("audio.done") && session.State() == StateListening
	}) {
		t.Fatal("turn never completed")
	}

	violation, ok := log.find("policy.violation").(*PolicyViolationEvent)
	if !ok {
		t.Fatal("no policy.violation event")
	}
	if violation.Text != "今天天气很好" || violation.Reason != "untranslated_reply" {
		t.Errorf("policy.violation = %+v", violation)
	}
	done, ok := log.find("agent.reply.done").(*ReplyDoneEvent)
	if !ok || done.Text != "今天天气很好" || done.SpokenText != sanitize.UntranslatedText {
		t.Errorf("agent.reply.done = %+v", done)
	}

	// The apology is what gets spoken; the raw reply stays in history so
	// the model sees what it actually said.
	sent := ttsClient.sentChunks()
	want := []ttsChunk{
		{text: "I apologize but I need", final: false},
		{text: "to translate that to English", final: true},
	}
	if len(sent) != len(want) || sent[0] != want[0] || sent[1] != want[1] {
		t.Errorf("synthesis chunks = %+v, want %+v", sent, want)
	}

	history := session.History()
	if len(history) != 2 || history[1].Content != "今天天气很好" {
		t.Errorf("history = %+v", history)
	}
}

func TestSessionTypedInput(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Hello there."}}
	ttsClient := &fakeTTSClient{}

	idle := NewSession(newTestConfig(), llm, ttsClient, newSTTServer(t).provider())
	if err := idle.SendText("early"); err == nil {
		t.Error("SendText before Start should fail")
	}

	session, log, _ := newTestSession(t, newTestConfig(), llm, ttsClient)
	if err := session.SendText("   "); err == nil {
		t.Error("blank text should fail")
	}
	if err := session.SendText("你好。"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("audio.done") && session.State() == StateListening
	}) {
		t.Fatal("typed turn never completed")
	}

	input, ok := log.find("input.text").(*TextInputEvent)
	if !ok || input.Text != "你好。" {
		t.Errorf("input.text = %+v", input)
	}
	inputCommitted, ok := log.find("input.committed").(*InputCommittedEvent)
	if !ok || inputCommitted.Transcript != "你好。" {
		t.Errorf("input.committed = %+v", inputCommitted)
	}
	// Typed input bypasses turn detection entirely.
	if n := log.count("turn.committed"); n != 0 {
		t.Errorf("turn.committed count = %d, want 0", n)
	}

	history := session.History()
	if len(history) != 2 || history[0].Content != "你好。" {
		t.Errorf("history = %+v", history)
	}
}

func TestSessionGreeting(t *testing.T) {
	config := newTestConfig()
	config.Greeting = "Greet the user and offer help."
	llm := &fakeLLM{replies: []string{"Hello I am ready."}}
	session, log, _ := newTestSession(t, config, llm, &fakeTTSClient{})

	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("audio.done") && session.State() == StateListening
	}) {
		t.Fatal("greeting never completed")
	}

	// The greeting instruction itself stays out of the history.
	history := session.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Role != types.RoleAssistant || history[0].Content != "Hello I am ready." {
		t.Errorf("history[0] = %+v", history[0])
	}

	req := llm.streamReq(0)
	if req == nil || len(req.Messages) != 1 || req.Messages[0].Content != config.Greeting {
		t.Errorf("greeting request = %+v", req)
	}
}

func TestSessionCommit(t *testing.T) {
	llm := &fakeLLM{replies: []string{"I would like to know."}}
	session, log, server := newTestSession(t, newTestConfig(), llm, &fakeTTSClient{})

	if err := session.Commit(); err == nil {
		t.Error("Commit with no transcript should fail")
	}

	// No trailing punctuation, so nothing commits on its own.
	server.push(t, "我想了解一下这个", true)
	if !waitFor(t, 3*time.Second, func() bool { return session.Commit() == nil }) {
		t.Fatal("Commit never succeeded")
	}

	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("audio.done") && session.State() == StateListening
	}) {
		t.Fatal("committed turn never completed")
	}

	committed, ok := log.find("turn.committed").(*TurnCommittedEvent)
	if !ok || committed.Transcript != "我想了解一下这个" || committed.Forced {
		t.Errorf("turn.committed = %+v", committed)
	}
}

func TestSessionTTSFailure(t *testing.T) {
	llm := &fakeLLM{replies: []string{"This will not be spoken."}}
	ttsClient := &fakeTTSClient{failOpen: true}
	session, log, _ := newTestSession(t, newTestConfig(), llm, ttsClient)

	if err := session.SendText("说点什么"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("error") && session.State() == StateListening
	}) {
		t.Fatal("session never recovered from synthesis failure")
	}

	errEvent, ok := log.find("error").(*ErrorEvent)
	if !ok || errEvent.Code != "tts_error" {
		t.Errorf("error = %+v", errEvent)
	}
	// The reply still lands in history even though it was never spoken.
	history := session.History()
	if len(history) != 2 || history[1].Content != "This will not be spoken." {
		t.Errorf("history = %+v", history)
	}
}

func TestSessionInterruptDuringProcessing(t *testing.T) {
	llm := &fakeLLM{
		replies:    []string{"The weather is", "Never mind."},
		blockFirst: true,
	}
	ttsClient := &fakeTTSClient{}
	session, log, _ := newTestSession(t, newTestConfig(), llm, ttsClient)

	if err := session.SendText("天气怎么样"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return log.has("agent.reply.text") }) {
		t.Fatal("reply never started streaming")
	}

	if err := session.Interrupt("算了"); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		return llm.streamCalls() == 2 && log.count("audio.done") >= 1 && session.State() == StateListening
	}) {
		t.Fatal("interrupting turn never completed")
	}

	confirmed, ok := log.find("interrupt.confirmed").(*InterruptConfirmedEvent)
	if !ok || confirmed.Transcript != "算了" || confirmed.PartialReply != "The weather is" {
		t.Errorf("interrupt.confirmed = %+v", confirmed)
	}

	history := session.History()
	if len(history) != 4 {
		t.Fatalf("history = %+v", history)
	}
	if history[1].Role != types.RoleAssistant || history[1].Content != "The weather is [cut off by the user]" {
		t.Errorf("partial reply = %+v", history[1])
	}
	if history[2].Content != "算了" || history[3].Content != "Never mind." {
		t.Errorf("interrupting turn = %+v, %+v", history[2], history[3])
	}

	// The second request sees the cut-off marker.
	req := llm.streamReq(1)
	if req == nil || len(req.Messages) != 3 {
		t.Fatalf("second request = %+v", req)
	}
	if req.Messages[1].Content != "The weather is [cut off by the user]" {
		t.Errorf("second request messages = %+v", req.Messages)
	}
}

func TestSessionBackchannelResumesPlayback(t *testing.T) {
	config := newTestConfig()
	config.Interrupt = InterruptConfig{
		Mode:              InterruptModeAuto,
		EnergyThreshold:   0.05,
		CaptureDurationMs: 400,
		PreRollMs:         100,
		SemanticCheck:     false,
		SavePartial:       PartialSaveMarked,
	}
	llm := &fakeLLM{replies: []string{"It is sunny today."}}
	ttsClient := &fakeTTSClient{holdAudio: true}
	session, log, server := newTestSession(t, config, llm, ttsClient)

	if err := session.SendText("今天天气怎么样"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		return session.State() == StateSpeaking && log.has("agent.reply.audio")
	}) {
		t.Fatal("reply never started playing")
	}

	// Speech during playback opens the capture window; an acknowledgement
	// lets playback continue.
	loud := loudFrame()
	pushed := false
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		state := session.State()
		if state == StateInterruptCapturing && !pushed {
			server.push(t, "嗯", false)
			pushed = true
		}
		if pushed && state == StateSpeaking {
			break
		}
		if err := session.SendAudio(loud); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !pushed {
		t.Fatal("capture window never opened")
	}
	if !waitFor(t, 2*time.Second, func() bool {
		return log.has("interrupt.dismissed") && session.State() == StateSpeaking
	}) {
		t.Fatal("playback never resumed")
	}

	captured, ok := log.find("interrupt.captured").(*InterruptCapturedEvent)
	if !ok || captured.Transcript != "嗯" {
		t.Errorf("interrupt.captured = %+v", captured)
	}
	dismissed, ok := log.find("interrupt.dismissed").(*InterruptDismissedEvent)
	if !ok || dismissed.Reason != "backchannel" {
		t.Errorf("interrupt.dismissed = %+v", dismissed)
	}
	paused, ok := log.find("tts.paused").(*TTSPausedEvent)
	if !ok || paused.PositionMs != 10 {
		t.Errorf("tts.paused = %+v", paused)
	}
	resumed, ok := log.find("tts.resumed").(*TTSResumedEvent)
	if !ok || resumed.PositionMs != 10 {
		t.Errorf("tts.resumed = %+v", resumed)
	}
	if n := log.count("tts.cancelled"); n != 0 {
		t.Errorf("tts.cancelled count = %d, want 0", n)
	}

	// A backchannel never becomes a turn.
	if llm.streamCalls() != 1 {
		t.Errorf("stream calls = %d, want 1", llm.streamCalls())
	}
	if history := session.History(); len(history) != 2 {
		t.Errorf("history = %+v", history)
	}
}

func TestSessionGraceContinuation(t *testing.T) {
	config := newTestConfig()
	config.GracePeriod = GracePeriodConfig{Enabled: true, DurationMs: 400}
	config.Turn.NoActivityTimeoutMs = 300
	llm := &fakeLLM{replies: []string{"Okay noted.", "Got it."}}
	session, log, server := newTestSession(t, config, llm, &fakeTTSClient{})

	server.push(t, "我想去北京。", true)
	if !waitFor(t, 3*time.Second, func() bool {
		return log.has("grace_period.started") && log.count("audio.done") >= 1 && session.State() == StateListening
	}) {
		t.Fatal("first turn never completed")
	}

	// The reply already played, but the window is still open: more
	// speech merges into the same turn instead of starting a new one.
	server.push(t, "然后去上海。", true)
	combined := "我想去北京。 然后去上海。"

	if !waitFor(t, 3*time.Second, func() bool { return log.has("grace_period.extended") }) {
		t.Fatal("continuation never merged")
	}
	extended, ok := log.find("grace_period.extended").(*GracePeriodExtendedEvent)
	if !ok || extended.PreviousTranscript != "我想去北京。" || extended.CombinedTranscript != combined {
		t.Errorf("grace_period.extended = %+v", extended)
	}

	if !waitFor(t, 5*time.Second, func() bool {
		history := session.History()
		return len(history) == 4 && history[3].Role == types.RoleAssistant && session.State() == StateListening
	}) {
		t.Fatal("merged turn never completed")
	}

	if req := llm.requestEndingWith(combined); req == nil {
		t.Error("no generation request carried the merged transcript")
	}
	if n := log.count("turn.committed"); n != 2 {
		t.Errorf("turn.committed count = %d, want 2", n)
	}
	recommit, ok := log.last("turn.committed").(*TurnCommittedEvent)
	if !ok || recommit.Transcript != combined || !recommit.Forced {
		t.Errorf("merged commit = %+v", recommit)
	}

	history := session.History()
	if history[2].Content != combined {
		t.Errorf("history[2] = %+v", history[2])
	}
}
