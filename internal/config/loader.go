package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt": {"deepgram", "whisper-native"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// AudioSocket ingress listener
	if cfg.AudioSock.Port <= 0 || cfg.AudioSock.Port > 65535 {
		errs = append(errs, fmt.Errorf("audiosocket.port %d is out of range [1, 65535]", cfg.AudioSock.Port))
	}
	if cfg.AudioSock.IdentifyTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("audiosocket.identify_timeout_s must be positive"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.STT.Name == "whisper-native" && cfg.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt.model_path is required when providers.stt.name is \"whisper-native\""))
	}

	// TTS speaking rate
	if cfg.TTS.SpeakingRate != 0 && (cfg.TTS.SpeakingRate < 0.5 || cfg.TTS.SpeakingRate > 2.0) {
		errs = append(errs, fmt.Errorf("tts.speaking_rate %.2f is out of range [0.5, 2.0]", cfg.TTS.SpeakingRate))
	}

	// LLM turn limits
	if cfg.LLM.MaxToolCallsPerTurn < 0 {
		errs = append(errs, errors.New("llm.max_tool_calls_per_turn must not be negative"))
	}
	if cfg.LLM.MaxHistoryMessages < 0 {
		errs = append(errs, errors.New("llm.max_history_messages must not be negative"))
	}

	// Backing store
	if cfg.Store.BaseURL == "" {
		errs = append(errs, errors.New("store.base_url is required"))
	}
	if cfg.Store.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("store.request_timeout_s must be positive"))
	}
	if cfg.Store.MaxRetries < 0 {
		errs = append(errs, errors.New("store.max_retries must not be negative"))
	}

	// Circuit breaker
	if cfg.Circuit.FailMax <= 0 {
		errs = append(errs, errors.New("circuit.fail_max must be positive"))
	}
	if cfg.Circuit.OpenDurationSeconds <= 0 {
		errs = append(errs, errors.New("circuit.open_duration_s must be positive"))
	}

	// Session mirror
	if cfg.Session.TTLSeconds <= 0 {
		errs = append(errs, errors.New("session.ttl_s must be positive"))
	}

	// Silence timer
	if cfg.Silence.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("silence.timeout_s must be positive"))
	}
	if cfg.Silence.MaxConsecutive <= 0 {
		errs = append(errs, errors.New("silence.max_consecutive must be positive"))
	}

	// Graceful shutdown
	if cfg.Shutdown.DrainSeconds <= 0 {
		errs = append(errs, errors.New("shutdown.drain_s must be positive"))
	}

	// Redis session store
	if cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
