package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxline/callhandler/internal/config"
	"github.com/voxline/callhandler/pkg/provider/llm"
	"github.com/voxline/callhandler/pkg/provider/stt"
	"github.com/voxline/callhandler/pkg/provider/tts"
	"github.com/voxline/callhandler/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  http_addr: ":8080"
  log_level: info

audiosocket:
  port: 4573
  identify_timeout_s: 5

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  stt:
    name: deepgram
    api_key: dg-test
  tts:
    name: elevenlabs
    api_key: el-test

stt:
  primary_language: en-US
  sample_rate: 8000

tts:
  voice: front-desk
  speaking_rate: 1.0

llm:
  model: gpt-4o
  max_tool_calls_per_turn: 4
  max_history_messages: 40

store:
  base_url: https://backstore.example.com
  api_key: store-test
  request_timeout_s: 3
  max_retries: 2

circuit:
  fail_max: 5
  open_duration_s: 30

session:
  ttl_s: 1800

silence:
  timeout_s: 10
  max_consecutive: 2

shutdown:
  drain_s: 30

redis:
  addr: "localhost:6379"
  db: 0
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("server.http_addr: got %q, want %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.AudioSock.Port != 4573 {
		t.Errorf("audiosocket.port: got %d, want 4573", cfg.AudioSock.Port)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("providers.llm.name: got %q, want %q", cfg.Providers.LLM.Name, "openai")
	}
	if cfg.Store.BaseURL != "https://backstore.example.com" {
		t.Errorf("store.base_url: got %q", cfg.Store.BaseURL)
	}
	if cfg.Silence.MaxConsecutive != 2 {
		t.Errorf("silence.max_consecutive: got %d, want 2", cfg.Silence.MaxConsecutive)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis.addr: got %q", cfg.Redis.Addr)
	}
}

func TestLoadFromReader_MissingRequired(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "log_level: info", "log_level: verbose", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "port: 4573", "port: 0", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
	if !strings.Contains(err.Error(), "audiosocket.port") {
		t.Errorf("error should mention audiosocket.port, got: %v", err)
	}
}

func TestValidate_MissingLLMProviderName(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "name: openai", "name: \"\"", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing llm provider name, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.name") {
		t.Errorf("error should mention providers.llm.name, got: %v", err)
	}
}

func TestValidate_InvalidSpeakingRate(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "speaking_rate: 1.0", "speaking_rate: 9.0", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid speaking_rate, got nil")
	}
}

func TestValidate_WhisperNativeRequiresModelPath(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "name: deepgram", "name: whisper-native", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing model_path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_MissingStoreBaseURL(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "base_url: https://backstore.example.com", "base_url: \"\"", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing store.base_url, got nil")
	}
}

func TestValidate_MissingRedisAddr(t *testing.T) {
	yaml := strings.Replace(sampleYAML, `addr: "localhost:6379"`, `addr: ""`, 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing redis.addr, got nil")
	}
}

func TestValidate_NonPositiveCircuitFailMax(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "fail_max: 5", "fail_max: 0", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-positive fail_max, got nil")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown LLM provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSTT(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownTTS(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubSTT{}
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubTTS{}
	reg.RegisterTTS("stub", func(e config.ProviderEntry) (tts.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubLLM implements llm.Provider with no-op methods.
type stubLLM struct{}

func (s *stubLLM) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}
func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (s *stubLLM) CountTokens(_ []types.Message) (int, error) { return 0, nil }
func (s *stubLLM) Capabilities() types.ModelCapabilities       { return types.ModelCapabilities{} }

// stubSTT implements stt.Provider.
type stubSTT struct{}

func (s *stubSTT) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, nil
}

// stubTTS implements tts.Provider.
type stubTTS struct{}

func (s *stubTTS) SynthesizeStream(_ context.Context, _ <-chan string, _ tts.VoiceProfile) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}
func (s *stubTTS) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) { return nil, nil }
