// Package config loads the intake service configuration from an optional YAML
// file and the environment variables the service has always honoured.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultModel         = "gpt-4o-mini"
	defaultPort          = "8080"
	defaultUploadDir     = "uploads"
	defaultNotifyChannel = "summary_updates"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port      string `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
	// MaxUploadBytes bounds a single report upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// DatabaseConfig points at the Postgres database.  An empty URL keeps every
// session in memory.
type DatabaseConfig struct {
	URL           string `yaml:"url"`
	NotifyChannel string `yaml:"notify_channel"`
}

// OpenAIConfig selects credentials and one model per kind of request.
type OpenAIConfig struct {
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	ChatModel       string  `yaml:"chat_model"`
	SupervisorModel string  `yaml:"supervisor_model"`
	AnalysisModel   string  `yaml:"analysis_model"`
	SummaryModel    string  `yaml:"summary_model"`
	Temperature     float32 `yaml:"temperature"`
}

// IntakeConfig carries the knobs that differed between the old prototype
// variants: turn thresholds, caps and the termination keyword.
type IntakeConfig struct {
	SymptomTurns       int           `yaml:"symptom_turns"`
	MessageCap         int           `yaml:"message_cap"`
	MaxQuestions       int           `yaml:"max_questions"`
	TerminationKeyword string        `yaml:"termination_keyword"`
	MaxCyclesPerTurn   int           `yaml:"max_cycles_per_turn"`
	ReasoningTimeout   time.Duration `yaml:"reasoning_timeout"`
	DocumentTimeout    time.Duration `yaml:"document_timeout"`
}

// LogConfig selects slog level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config models the service configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Intake   IntakeConfig   `yaml:"intake"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns a Config with every field set to its default.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           defaultPort,
			UploadDir:      defaultUploadDir,
			MaxUploadBytes: 20 << 20,
		},
		Database: DatabaseConfig{NotifyChannel: defaultNotifyChannel},
		OpenAI: OpenAIConfig{
			ChatModel:   defaultModel,
			Temperature: 0.2,
		},
		Intake: IntakeConfig{
			SymptomTurns:       5,
			MessageCap:         50,
			MaxQuestions:       5,
			TerminationKeyword: "exit",
			MaxCyclesPerTurn:   8,
			ReasoningTimeout:   30 * time.Second,
			DocumentTimeout:    10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result.  A missing file is only an
// error when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config file %s not found", path)
			}
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.  lookup is usually
// os.LookupEnv; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("OPENAI_MODEL_CHAT", &c.OpenAI.ChatModel)
	str("OPENAI_MODEL_SUPERVISOR", &c.OpenAI.SupervisorModel)
	str("OPENAI_MODEL_ANALYSIS", &c.OpenAI.AnalysisModel)
	str("OPENAI_MODEL_SUMMARY", &c.OpenAI.SummaryModel)
	str("DATABASE_URL", &c.Database.URL)
	str("POSTGRES_NOTIFY_CHANNEL", &c.Database.NotifyChannel)
	str("PORT", &c.Server.Port)
	str("UPLOAD_DIR", &c.Server.UploadDir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("TERMINATION_KEYWORD", &c.Intake.TerminationKeyword)

	ints := []struct {
		key string
		dst *int
	}{
		{"MESSAGE_CAP", &c.Intake.MessageCap},
		{"SYMPTOM_TURNS", &c.Intake.SymptomTurns},
		{"MAX_QUESTIONS", &c.Intake.MaxQuestions},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}
	return nil
}

// fillDerived copies the chat model into unset per-purpose models.
func (c *Config) fillDerived() {
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = defaultModel
	}
	for _, m := range []*string{&c.OpenAI.SupervisorModel, &c.OpenAI.AnalysisModel, &c.OpenAI.SummaryModel} {
		if *m == "" {
			*m = c.OpenAI.ChatModel
		}
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	in := c.Intake
	switch {
	case in.SymptomTurns < 1:
		return errors.New("intake.symptom_turns must be at least 1")
	case in.MessageCap <= in.SymptomTurns:
		return fmt.Errorf("intake.message_cap (%d) must exceed intake.symptom_turns (%d)", in.MessageCap, in.SymptomTurns)
	case in.MaxQuestions < 0:
		return errors.New("intake.max_questions must not be negative")
	case in.MaxCyclesPerTurn < 2:
		return errors.New("intake.max_cycles_per_turn must be at least 2")
	case strings.TrimSpace(in.TerminationKeyword) == "":
		return errors.New("intake.termination_keyword must not be empty")
	case in.ReasoningTimeout <= 0 || in.DocumentTimeout <= 0:
		return errors.New("intake timeouts must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}
