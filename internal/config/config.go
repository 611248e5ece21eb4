// Package config provides the configuration schema, loader, and provider
// registry for the call handler.
package config

import "time"

// Config is the root configuration structure for the call handler.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	AudioSock AudioSockConfig `yaml:"audiosocket"`
	Providers ProvidersConfig `yaml:"providers"`
	STT       STTConfig       `yaml:"stt"`
	TTS       TTSConfig       `yaml:"tts"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Circuit   CircuitConfig   `yaml:"circuit"`
	Session   SessionConfig   `yaml:"session"`
	Silence   SilenceConfig   `yaml:"silence"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ServerConfig holds network and logging settings for the process.
type ServerConfig struct {
	// HTTPAddr is the address the health/metrics HTTP server listens on.
	HTTPAddr string `yaml:"http_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is the verbosity of the structured logger.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// AudioSockConfig configures the ingress TCP listener for PBX connections.
type AudioSockConfig struct {
	// Port is the TCP port the frame-protocol listener binds to.
	Port int `yaml:"port"`

	// IdentifyTimeoutSeconds bounds how long a new connection has to send its
	// Identify frame before the server closes it with an Error frame.
	IdentifyTimeoutSeconds int `yaml:"identify_timeout_s"`
}

// IdentifyTimeout returns the configured identify deadline as a [time.Duration].
func (c AudioSockConfig) IdentifyTimeout() time.Duration {
	return time.Duration(c.IdentifyTimeoutSeconds) * time.Second
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// STTFallback, when Name is non-empty, is wrapped behind the primary STT
	// provider via resilience.STTFallback (e.g. a local whisper.cpp instance
	// backing up a cloud deepgram primary).
	STTFallback ProviderEntry `yaml:"stt_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// ModelPath is used by local, file-backed providers (the whisper.cpp model file).
	ModelPath string `yaml:"model_path"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// STTConfig carries recognizer hints shared across STT sessions.
type STTConfig struct {
	PrimaryLanguage    string   `yaml:"primary_language"`
	AlternateLanguages []string `yaml:"alternate_languages"`
	SampleRate         int      `yaml:"sample_rate"`
}

// TTSConfig carries synthesis defaults.
type TTSConfig struct {
	Voice        string  `yaml:"voice"`
	SpeakingRate float64 `yaml:"speaking_rate"`
}

// LLMConfig carries the call agent's model selection and turn limits.
type LLMConfig struct {
	Model               string `yaml:"model"`
	MaxToolCallsPerTurn int    `yaml:"max_tool_calls_per_turn"`
	MaxHistoryMessages  int    `yaml:"max_history_messages"`
}

// StoreConfig configures the outbound HTTP client to the backing store.
type StoreConfig struct {
	BaseURL               string `yaml:"base_url"`
	APIKey                string `yaml:"api_key"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_s"`
	MaxRetries            int    `yaml:"max_retries"`
}

// RequestTimeout returns the configured HTTP request timeout as a [time.Duration].
func (c StoreConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CircuitConfig tunes the backing-store circuit breaker.
type CircuitConfig struct {
	FailMax             int `yaml:"fail_max"`
	OpenDurationSeconds int `yaml:"open_duration_s"`
}

// OpenDuration returns the configured open-state duration as a [time.Duration].
func (c CircuitConfig) OpenDuration() time.Duration {
	return time.Duration(c.OpenDurationSeconds) * time.Second
}

// SessionConfig controls the Redis session mirror.
type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_s"`
}

// TTL returns the configured session time-to-live as a [time.Duration].
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SilenceConfig tunes the caller-silence timer.
type SilenceConfig struct {
	TimeoutSeconds int `yaml:"timeout_s"`
	MaxConsecutive int `yaml:"max_consecutive"`
}

// Timeout returns the configured silence timeout as a [time.Duration].
func (c SilenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ShutdownConfig tunes graceful shutdown behavior.
type ShutdownConfig struct {
	DrainSeconds int `yaml:"drain_s"`
}

// Drain returns the configured shutdown drain period as a [time.Duration].
func (c ShutdownConfig) Drain() time.Duration {
	return time.Duration(c.DrainSeconds) * time.Second
}

// RedisConfig configures the session-store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}
