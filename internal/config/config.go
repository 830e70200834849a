// Package config loads the translator worker's environment
// configuration. A .env.local file in the working directory is applied
// first when present, then the process environment wins.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// EnvFile is the dotenv file consulted before the process environment.
const EnvFile = ".env.local"

// Config is everything the worker reads from the environment.
type Config struct {
	CartesiaAPIKey string `env:"CARTESIA_API_KEY"`
	DeepSeekAPIKey string `env:"DEEPSEEK_API_KEY"`
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`

	// LLM backend. deepseek runs over the OpenAI-compatible client.
	LLMProvider string `env:"TRANSLATOR_LLM_PROVIDER" envDefault:"deepseek"`
	LLMModel    string `env:"TRANSLATOR_LLM_MODEL" envDefault:"deepseek-chat"`
	LLMBaseURL  string `env:"TRANSLATOR_LLM_BASE_URL" envDefault:"https://api.deepseek.com"`

	// Speech output voice (Cartesia voice ID).
	Voice string `env:"TRANSLATOR_VOICE" envDefault:"6f84f4b8-58a2-430c-8c79-688dad597532"`

	// PCM16 mono throughout the pipeline.
	SampleRate int `env:"TRANSLATOR_SAMPLE_RATE" envDefault:"24000"`

	// Room labels log entries and persisted transcripts.
	Room string `env:"TRANSLATOR_ROOM" envDefault:"local"`

	// Turn detection.
	PunctuationTrigger  string `env:"TRANSLATOR_PUNCTUATION_TRIGGER" envDefault:"。！？．.!?"`
	NoActivityTimeoutMs int    `env:"TRANSLATOR_NO_ACTIVITY_TIMEOUT_MS" envDefault:"3000"`
	SemanticTurnCheck   bool   `env:"TRANSLATOR_SEMANTIC_TURN_CHECK" envDefault:"true"`

	// Reply cancellation window after a turn commits. The agent starts
	// generating immediately; speech inside the window folds into the
	// same turn instead of a new one.
	GraceEnabled bool `env:"TRANSLATOR_GRACE_ENABLED" envDefault:"true"`
	GraceMs      int  `env:"TRANSLATOR_GRACE_MS" envDefault:"5000"`

	// Barge-in handling.
	InterruptMode            string  `env:"TRANSLATOR_INTERRUPT_MODE" envDefault:"auto"`
	InterruptEnergyThreshold float64 `env:"TRANSLATOR_INTERRUPT_ENERGY" envDefault:"0.05"`

	// Input noise gate passed to streaming STT.
	MinVolume float64 `env:"TRANSLATOR_MIN_VOLUME" envDefault:"0.01"`

	// Optional Postgres DSN for transcript and usage persistence.
	DatabaseURL string `env:"TRANSLATOR_DATABASE_URL"`

	// Optional listen address for the Prometheus endpoint, e.g. ":9090".
	MetricsAddr string `env:"TRANSLATOR_METRICS_ADDR"`
}

// Load reads EnvFile when present, parses the environment, and
// validates the result.
func Load() (*Config, error) {
	if _, err := os.Stat(EnvFile); err == nil {
		if err := godotenv.Load(EnvFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", EnvFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	switch c.LLMProvider {
	case "deepseek":
		if c.DeepSeekAPIKey == "" {
			return fmt.Errorf("DEEPSEEK_API_KEY is required when TRANSLATOR_LLM_PROVIDER=deepseek")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when TRANSLATOR_LLM_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("TRANSLATOR_LLM_PROVIDER must be deepseek or gemini, got %q", c.LLMProvider)
	}
	switch c.InterruptMode {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("TRANSLATOR_INTERRUPT_MODE must be auto, always, or never, got %q", c.InterruptMode)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("TRANSLATOR_SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.GraceMs < 0 {
		return fmt.Errorf("TRANSLATOR_GRACE_MS must not be negative, got %d", c.GraceMs)
	}
	return nil
}
