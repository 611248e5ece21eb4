package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxline/callhandler/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Ping checks that at least one backing provider is reachable, trying each in
// fallback order. Providers that don't implement a Ping method are skipped.
func (f *STTFallback) Ping(ctx context.Context) error {
	var (
		lastErr error
		tried   bool
	)
	for _, e := range f.group.entries {
		pp, ok := any(e.value).(interface{ Ping(context.Context) error })
		if !ok {
			continue
		}
		tried = true
		if err := pp.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if !tried {
		return errors.New("resilience: no STT provider in group supports Ping")
	}
	return fmt.Errorf("resilience: all STT providers unreachable: %w", lastErr)
}

// StartStream opens a streaming transcription session against the first healthy
// provider. If the primary fails to start the stream, subsequent fallbacks are
// tried.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
