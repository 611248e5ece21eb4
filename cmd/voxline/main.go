// Command voxline is the main entry point for the voxline call handler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/voxline/callhandler/internal/agent"
	"github.com/voxline/callhandler/internal/config"
	"github.com/voxline/callhandler/internal/health"
	"github.com/voxline/callhandler/internal/observe"
	"github.com/voxline/callhandler/internal/pipeline"
	"github.com/voxline/callhandler/internal/resilience"
	"github.com/voxline/callhandler/internal/server"
	"github.com/voxline/callhandler/internal/session"
	"github.com/voxline/callhandler/internal/store"
	"github.com/voxline/callhandler/internal/tools"
	"github.com/voxline/callhandler/pkg/provider/llm"
	"github.com/voxline/callhandler/pkg/provider/llm/anyllm"
	"github.com/voxline/callhandler/pkg/provider/stt"
	"github.com/voxline/callhandler/pkg/provider/stt/deepgram"
	"github.com/voxline/callhandler/pkg/provider/stt/whisper"
	"github.com/voxline/callhandler/pkg/provider/tts"
	"github.com/voxline/callhandler/pkg/provider/tts/elevenlabs"
	"github.com/voxline/callhandler/pkg/provider/tts/phrasecache"
)

func main() {
	os.Exit(run())
}

// pinger is implemented by providers that can cheaply verify reachability of
// their backend for the /health/ready probe, without the cost of a real
// streaming session or completion.
type pinger interface {
	Ping(ctx context.Context) error
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxline starting",
		"config", *configPath,
		"audiosock_port", cfg.AudioSock.Port,
		"http_addr", cfg.Server.HTTPAddr,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownOTel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voxline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics instruments", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, sttProvider, ttsProvider, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	storeClient := store.New(store.Config{
		BaseURL:        cfg.Store.BaseURL,
		APIKey:         cfg.Store.APIKey,
		RequestTimeout: cfg.Store.RequestTimeout(),
		FailMax:        cfg.Circuit.FailMax,
		OpenDuration:   cfg.Circuit.OpenDuration(),
		MaxRetries:     cfg.Store.MaxRetries,
	})

	router, err := tools.RegisterAll(storeClient)
	if err != nil {
		slog.Error("failed to register tool handlers", "err", err)
		return 1
	}

	callAgent := agent.New(llmProvider, router, agent.Config{
		MaxToolCallsPerTurn: cfg.LLM.MaxToolCallsPerTurn,
		MaxHistoryMessages:  cfg.LLM.MaxHistoryMessages,
	})

	voice := tts.VoiceProfile{ID: cfg.TTS.Voice, SpeedFactor: cfg.TTS.SpeakingRate}
	phrases := phrasecache.New(ttsProvider, cfg.STT.SampleRate, phrasecache.Phrases{
		Greeting:       "Thank you for calling. How can I help you today?",
		PleaseWait:     "One moment, please, while I look that up for you.",
		Farewell:       "Thank you for calling. Goodbye.",
		SilencePrompt:  "Are you still there?",
		TransferNotice: "One moment, I'm transferring you to a member of our team.",
	}, metrics)

	preloadCtx, preloadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = phrases.Preload(preloadCtx, voice)
	preloadCancel()
	if err != nil {
		slog.Error("failed to preload phrase cache", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionStore, err := session.NewRedisStore(ctx, session.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("failed to connect to session store", "err", err)
		return 1
	}
	defer sessionStore.Close()

	srv := server.New(server.Deps{
		STT:         sttProvider,
		TTS:         ttsProvider,
		PhraseCache: phrases,
		Agent:       callAgent,
		Voice:       voice,
		Sessions:    sessionStore,
		Metrics:     metrics,
		PipelineConfig: pipeline.Config{
			STT: stt.StreamConfig{
				SampleRate: cfg.STT.SampleRate,
				Channels:   1,
				Language:   cfg.STT.PrimaryLanguage,
			},
			SilenceTimeout:   cfg.Silence.Timeout(),
			TTSFrameInterval: 20 * time.Millisecond,
		},
		IdentifyTimeout: cfg.AudioSock.IdentifyTimeout(),
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.AudioSock.Port))
	if err != nil {
		slog.Error("failed to bind audiosocket listener", "err", err)
		return 1
	}

	readinessCheckers := []health.Checker{
		{Name: "session_store", Check: sessionStore.Ping},
		{Name: "backing_store", Check: func(ctx context.Context) error {
			return storeClient.Ping(ctx)
		}},
		{Name: "tts_provider", Check: func(ctx context.Context) error {
			_, err := ttsProvider.ListVoices(ctx)
			return err
		}},
	}
	if pp, ok := sttProvider.(pinger); ok {
		readinessCheckers = append(readinessCheckers, health.Checker{Name: "stt_provider", Check: pp.Ping})
	}
	if pp, ok := llmProvider.(pinger); ok {
		readinessCheckers = append(readinessCheckers, health.Checker{Name: "llm_provider", Check: pp.Ping})
	}

	healthHandler := health.New(readinessCheckers...).WithLiveness(sessionStore.Ping, srv.ActiveCalls)

	httpSrv := server.NewHTTPServer(cfg.Server.HTTPAddr, healthHandler, promhttp.Handler())

	errCh := make(chan error, 2)
	go func() {
		slog.Info("audiosocket listener ready", "addr", ln.Addr())
		errCh <- srv.Serve(ctx, ln)
	}()
	go func() {
		slog.Info("http server ready", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	slog.Info("voxline ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		if err != nil {
			slog.Error("run error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Drain()+5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx, cfg.Shutdown.Drain()); err != nil {
		slog.Error("audiosocket shutdown error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires every provider implementation this binary
// ships with into reg, keyed by the name deployments select in config.yaml.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", newAnyLLMFactory(anyllm.NewOpenAI))
	reg.RegisterLLM("anthropic", newAnyLLMFactory(anyllm.NewAnthropic))
	reg.RegisterLLM("gemini", newAnyLLMFactory(anyllm.NewGemini))
	reg.RegisterLLM("ollama", newAnyLLMFactory(anyllm.NewOllama))
	reg.RegisterLLM("deepseek", newAnyLLMFactory(anyllm.NewDeepSeek))
	reg.RegisterLLM("mistral", newAnyLLMFactory(anyllm.NewMistral))
	reg.RegisterLLM("groq", newAnyLLMFactory(anyllm.NewGroq))

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.NewNative(entry.ModelPath)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// newAnyLLMFactory adapts one of anyllm's named constructors (NewOpenAI,
// NewAnthropic, ...) into a config.Registry LLM factory.
func newAnyLLMFactory(ctor func(model string, opts ...anyllmlib.Option) (*anyllm.Provider, error)) func(config.ProviderEntry) (llm.Provider, error) {
	return func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return ctor(entry.Model, opts...)
	}
}

// buildProviders instantiates the LLM, STT, and TTS providers named in cfg,
// wrapping STT and TTS behind resilience fallback groups so a transient
// provider outage fails over rather than ending every in-flight call.
func buildProviders(cfg *config.Config, reg *config.Registry) (llmP llm.Provider, sttP stt.Provider, ttsP tts.Provider, err error) {
	llmP, err = reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	fallbackCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Circuit.FailMax,
			ResetTimeout: cfg.Circuit.OpenDuration(),
			HalfOpenMax:  1,
		},
	}
	sttGroup := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, fallbackCfg)
	if cfg.Providers.STTFallback.Name != "" {
		sttFallback, err := reg.CreateSTT(cfg.Providers.STTFallback)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create stt fallback provider %q: %w", cfg.Providers.STTFallback.Name, err)
		}
		sttGroup.AddFallback(cfg.Providers.STTFallback.Name, sttFallback)
	}
	sttP = sttGroup

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ttsP = resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, fallbackCfg)

	return llmP, sttP, ttsP, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
