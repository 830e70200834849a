// Package main runs the Mandarin to English voice interpreter from
// the terminal: microphone audio in, translated English speech out.
//
// Usage:
//
//	go run ./cmd/translator
//	go run ./cmd/translator -file recording.wav -out reply.wav
//
// Environment variables:
//
//	CARTESIA_API_KEY - Required for STT and TTS
//	DEEPSEEK_API_KEY - Required unless TRANSLATOR_LLM_PROVIDER=gemini
//	GEMINI_API_KEY   - Required when TRANSLATOR_LLM_PROVIDER=gemini
//
// Controls:
//
//	/t <text>   - Submit Mandarin text instead of speaking
//	/commit     - Commit the current transcript as a turn
//	q           - Quit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/vai-translate/internal/config"
	"github.com/vango-go/vai-translate/internal/logging"
	"github.com/vango-go/vai-translate/pkg/core/live"
	"github.com/vango-go/vai-translate/pkg/core/providers/gemini"
	"github.com/vango-go/vai-translate/pkg/core/providers/openai"
	"github.com/vango-go/vai-translate/pkg/core/types"
	"github.com/vango-go/vai-translate/pkg/core/voice"
	"github.com/vango-go/vai-translate/pkg/core/voice/sanitize"
	"github.com/vango-go/vai-translate/pkg/metrics"
	"github.com/vango-go/vai-translate/pkg/store"
)

func main() {
	os.Exit(runMain())
}

func runMain() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	logger := logging.Sugar()
	defer func() { _ = logger.Sync() }()

	var (
		filePath string
		outPath  string
		debug    bool
	)
	flag.StringVar(&filePath, "file", "", "Translate a recording instead of running live")
	flag.StringVar(&outPath, "out", "reply.wav", "Output WAV path for -file mode")
	flag.BoolVar(&debug, "debug", false, "Enable session debug output")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	llm, err := buildLLM(ctx, cfg)
	if err != nil {
		logger.Errorw("init llm", "provider", cfg.LLMProvider, "error", err)
		return 1
	}

	pipeline := voice.NewPipeline(cfg.CartesiaAPIKey,
		voice.WithSampleRate(cfg.SampleRate),
		voice.WithVoice(cfg.Voice),
		voice.WithMinVolume(cfg.MinVolume),
	)

	if filePath != "" {
		return runFile(ctx, logger, cfg, llm, pipeline, filePath, outPath)
	}
	return runLive(ctx, logger, cfg, llm, pipeline, debug)
}

// deepseekLLM and geminiLLM align each provider's stream type with the
// session interface.
type deepseekLLM struct{ *openai.Provider }

func (c deepseekLLM) StreamMessage(ctx context.Context, req *types.GenerateRequest) (live.EventStream, error) {
	stream, err := c.Provider.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type geminiLLM struct{ *gemini.Provider }

func (c geminiLLM) StreamMessage(ctx context.Context, req *types.GenerateRequest) (live.EventStream, error) {
	stream, err := c.Provider.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func buildLLM(ctx context.Context, cfg *config.Config) (live.LLMClient, error) {
	switch cfg.LLMProvider {
	case "gemini":
		provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return geminiLLM{provider}, nil
	default:
		return deepseekLLM{openai.New(cfg.DeepSeekAPIKey, openai.WithBaseURL(cfg.LLMBaseURL))}, nil
	}
}

// sessionConfig maps the environment configuration onto the session
// defaults.
func sessionConfig(cfg *config.Config) live.SessionConfig {
	sc := live.DefaultSessionConfig()
	sc.Model = cfg.LLMModel
	sc.Greeting = live.DefaultGreeting
	sc.SampleRate = cfg.SampleRate
	sc.Input.MinVolume = cfg.MinVolume
	sc.Output.Voice = cfg.Voice
	sc.Output.SampleRate = cfg.SampleRate
	sc.Turn.PunctuationTrigger = cfg.PunctuationTrigger
	sc.Turn.NoActivityTimeoutMs = cfg.NoActivityTimeoutMs
	sc.Turn.SemanticCheck = cfg.SemanticTurnCheck
	sc.GracePeriod.Enabled = cfg.GraceEnabled
	sc.GracePeriod.DurationMs = cfg.GraceMs
	sc.Interrupt.Mode = live.InterruptMode(cfg.InterruptMode)
	sc.Interrupt.EnergyThreshold = cfg.InterruptEnergyThreshold
	return sc
}

func runLive(ctx context.Context, logger *zap.SugaredLogger, cfg *config.Config, llm live.LLMClient, pipeline *voice.Pipeline, debug bool) int {
	var st *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		st, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Errorw("open store", "error", err)
			return 1
		}
		defer st.Close()
	}

	met := metrics.NewMetrics("")
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	mic, speaker, cleanup, err := initAudio(cfg.SampleRate)
	if err != nil {
		logger.Errorw("init audio", "error", err)
		return 1
	}
	defer cleanup()

	session := live.NewSession(sessionConfig(cfg), llm, pipeline.TTSProvider(), pipeline.STTProvider())
	if debug {
		session.EnableDebug()
	}

	slog := logging.ForSession(cfg.Room, session.SessionID())
	collector := metrics.NewUsageCollector()
	handler := &eventHandler{
		log:       slog,
		speaker:   speaker,
		store:     st,
		metrics:   met,
		collector: collector,
		provider:  cfg.LLMProvider,
		model:     cfg.LLMModel,
		sessionID: session.SessionID(),
	}

	// Persistence must survive shutdown, when ctx is already cancelled.
	persistCtx := context.WithoutCancel(ctx)
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		for event := range session.Events() {
			handler.handle(persistCtx, event)
		}
	}()

	if err := session.Start(ctx); err != nil {
		slog.Errorw("start session", "error", err)
		_ = session.Close()
		<-sessionDone
		return 1
	}

	started := time.Now()
	met.RecordSessionStart()
	slog.Infow("session live",
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"voice", cfg.Voice,
		"sample_rate", cfg.SampleRate,
	)

	fmt.Println("Live interpreter ready. Speak Mandarin; the reply comes back in English.")
	fmt.Println("Commands: /t <text> to type instead, /commit to force the turn, q to quit.")
	fmt.Println()

	// Pump microphone audio into the session.
	go func() {
		buf := make([]byte, cfg.SampleRate*2/50) // 20ms frames
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n := mic.Read(buf)
			if n == 0 {
				return
			}
			met.RecordAudioBytes("input", n)
			if err := session.SendAudio(buf[:n]); err != nil {
				return
			}
		}
	}()

	// Command input loop.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			input := strings.TrimSpace(line)
			switch {
			case input == "":
			case strings.EqualFold(input, "q"):
				break loop
			case strings.HasPrefix(input, "/t "):
				if err := session.SendText(strings.TrimPrefix(input, "/t ")); err != nil {
					fmt.Printf("[ERROR] send text: %v\n", err)
				}
			case input == "/commit":
				if err := session.Commit(); err != nil {
					fmt.Printf("[ERROR] commit: %v\n", err)
				}
			default:
				fmt.Println("[INFO] Commands: /t <text>, /commit, q")
			}
		}
	}

	if err := session.Close(); err != nil {
		slog.Warnw("close session", "error", err)
	}
	<-sessionDone

	met.RecordSessionEnd(cfg.LLMProvider, cfg.LLMModel, "closed", time.Since(started))
	slog.Infow("usage", "summary", collector.Summary().String())
	return 0
}

// eventHandler consumes the session event stream: conversation lines
// to stdout, everything operational to the logger, counters to
// Prometheus, transcripts and usage to the store. Runs on a single
// goroutine.
type eventHandler struct {
	log       *zap.SugaredLogger
	speaker   *speakerWriter
	store     *store.Store
	metrics   *metrics.Metrics
	collector *metrics.UsageCollector
	provider  string
	model     string
	sessionID string

	turnStarted time.Time
	turnForced  bool
}

func (h *eventHandler) handle(ctx context.Context, event live.Event) {
	switch e := event.(type) {
	case *live.TranscriptPartialEvent:
		h.log.Debugw("transcript partial", "text", e.Text)

	case *live.TranscriptFinalEvent:
		fmt.Printf("user> %s\n", e.Text)

	case *live.TurnCommittedEvent:
		h.turnStarted = time.Now()
		h.turnForced = e.Forced

	case *live.InputCommittedEvent:
		if h.turnStarted.IsZero() {
			// Typed input commits without a spoken turn event.
			h.turnStarted = time.Now()
		}
		h.saveTranscript(ctx, "user", e.Transcript)

	case *live.GracePeriodExtendedEvent:
		h.log.Infow("turn extended", "combined", e.CombinedTranscript)

	case *live.ReplyDoneEvent:
		fmt.Printf("agent> %s\n", e.SpokenText)
		h.saveTranscript(ctx, "assistant", e.Text)

	case *live.ReplyAudioEvent:
		h.speaker.Write(e.Data)
		h.metrics.RecordAudioBytes("output", len(e.Data))

	case *live.AudioFlushEvent:
		h.speaker.Flush()

	case *live.PolicyViolationEvent:
		h.metrics.RecordPolicyViolation(e.Reason)
		h.log.Warnw("policy violation", "reason", e.Reason, "text", e.Text)

	case *live.InterruptDismissedEvent:
		h.log.Infow("interrupt dismissed", "reason", e.Reason, "transcript", e.Transcript)

	case *live.InterruptConfirmedEvent:
		fmt.Printf("user (interrupting)> %s\n", e.Transcript)
		if e.PartialReply != "" {
			h.saveTranscript(ctx, "assistant", e.PartialReply)
		}

	case *live.MetricsCollectedEvent:
		h.collector.Collect(e.Usage)
		h.metrics.RecordTokens(h.provider, h.model, e.Usage.InputTokens, e.Usage.OutputTokens)
		if e.Usage.CostUSD != nil {
			h.metrics.RecordCost(h.provider, h.model, *e.Usage.CostUSD)
		}
		if !h.turnStarted.IsZero() {
			h.metrics.RecordTurn(h.provider, h.model, h.turnForced, time.Since(h.turnStarted))
			h.turnStarted = time.Time{}
			h.turnForced = false
		}
		if err := h.store.SaveUsage(ctx, h.sessionID, e.Usage); err != nil {
			h.log.Warnw("persist usage", "error", err)
		}
		h.log.Debugw("turn metrics",
			"input_tokens", e.Usage.InputTokens,
			"output_tokens", e.Usage.OutputTokens,
			"first_token_ms", e.FirstTokenMs,
			"reply_chars", e.ReplyChars,
			"audio_ms", e.AudioMs,
		)

	case *live.ErrorEvent:
		h.log.Errorw("session error", "code", e.Code, "message", e.Message)

	case *live.SessionClosedEvent:
		h.log.Infow("session closed", "reason", e.Reason)
	}
}

func (h *eventHandler) saveTranscript(ctx context.Context, role, text string) {
	if err := h.store.SaveTranscript(ctx, h.sessionID, role, text); err != nil {
		h.log.Warnw("persist transcript", "role", role, "error", err)
	}
}

// runFile translates a single recording: transcribe, translate, screen
// the reply, synthesize it to a WAV file.
func runFile(ctx context.Context, logger *zap.SugaredLogger, cfg *config.Config, llm live.LLMClient, pipeline *voice.Pipeline, inPath, outPath string) int {
	f, err := os.Open(inPath)
	if err != nil {
		logger.Errorw("open recording", "path", inPath, "error", err)
		return 1
	}
	defer f.Close()

	transcript, err := pipeline.TranscribeRecording(ctx, f, voice.FormatFromPath(inPath))
	if err != nil {
		logger.Errorw("transcribe recording", "path", inPath, "error", err)
		return 1
	}
	if strings.TrimSpace(transcript.Text) == "" {
		logger.Warnw("no speech found in recording", "path", inPath)
		return 1
	}
	fmt.Printf("user> %s\n", transcript.Text)

	resp, err := llm.Generate(ctx, &types.GenerateRequest{
		Model:     cfg.LLMModel,
		System:    live.DefaultSystemPrompt,
		Messages:  []types.Message{types.UserMessage(transcript.Text)},
		MaxTokens: 1024,
	})
	if err != nil {
		logger.Errorw("translate", "error", err)
		return 1
	}

	spoken := sanitize.New().BeforeSpeak(resp.Text)
	fmt.Printf("agent> %s\n", spoken)

	synthesis, err := pipeline.SpeakText(ctx, spoken)
	if err != nil {
		logger.Errorw("synthesize reply", "error", err)
		return 1
	}
	if err := os.WriteFile(outPath, synthesis.Audio, 0o644); err != nil {
		logger.Errorw("write output", "path", outPath, "error", err)
		return 1
	}

	logger.Infow("translated recording",
		"in", inPath,
		"out", outPath,
		"duration_s", synthesis.Duration,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return 0
}
