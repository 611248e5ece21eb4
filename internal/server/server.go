// Package server owns the process-level lifecycle: the frame-protocol
// accept loop that turns inbound PBX connections into call pipelines, and
// the HTTP mux serving health and metrics endpoints.
//
// Generalizes the teacher's App.Run/App.Shutdown ordered-lifecycle idiom
// from a single long-lived NPC session to many short-lived call pipelines,
// each tracked by a cancel func in a registry so a specific call (or every
// call, at shutdown) can be told to stop without touching the others.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/callhandler/internal/agent"
	"github.com/voxline/callhandler/internal/codec"
	"github.com/voxline/callhandler/internal/health"
	"github.com/voxline/callhandler/internal/observe"
	"github.com/voxline/callhandler/internal/pipeline"
	"github.com/voxline/callhandler/pkg/provider/stt"
	"github.com/voxline/callhandler/pkg/provider/tts"
)

// defaultIdentifyTimeout bounds how long a new connection has to send its
// Identify frame before the server gives up on it, per spec §4.9 / §5. Used
// when Deps.IdentifyTimeout is zero.
const defaultIdentifyTimeout = 5 * time.Second

// Deps bundles every process-global dependency a call's pipeline needs.
// All fields are shared read-mostly across every concurrently running
// call — no call's pipeline may hold exclusive access to any of them.
type Deps struct {
	STT         stt.Provider
	TTS         tts.Provider
	PhraseCache pipeline.PhraseCache
	Agent       *agent.Agent
	Voice       tts.VoiceProfile
	Sessions    pipeline.SessionStore
	Metrics     *observe.Metrics

	PipelineConfig pipeline.Config

	// IdentifyTimeout overrides defaultIdentifyTimeout, sourced from
	// audiosocket.identify_timeout_s. Zero uses the default.
	IdentifyTimeout time.Duration
}

// Server accepts frame-protocol connections and runs one [pipeline.Pipeline]
// per accepted call, plus an HTTP server for health and metrics.
type Server struct {
	deps Deps

	mu       sync.Mutex
	calls    map[string]context.CancelFunc
	wg       sync.WaitGroup
	draining bool
}

// New constructs a Server against deps.
func New(deps Deps) *Server {
	if deps.IdentifyTimeout <= 0 {
		deps.IdentifyTimeout = defaultIdentifyTimeout
	}
	return &Server{
		deps:  deps,
		calls: make(map[string]context.CancelFunc),
	}
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called. Each accepted connection is identified and handed to its own
// pipeline in a new goroutine; Serve itself never blocks on a call.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		s.mu.Lock()
		draining := s.draining
		s.mu.Unlock()
		if draining {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn reads the Identify frame, rejects a duplicate or missing one,
// then runs a pipeline for the call until it ends.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.deps.IdentifyTimeout))
	frame, err := codec.ReadFrame(conn)
	if err != nil {
		slog.Warn("server: connection closed before Identify", "remote", conn.RemoteAddr(), "error", err)
		conn.Write(codec.EncodeError("identify timeout or protocol error"))
		return
	}
	conn.SetReadDeadline(time.Time{})

	if frame.Kind != codec.KindIdentify {
		slog.Warn("server: first frame was not Identify", "remote", conn.RemoteAddr(), "kind", frame.Kind)
		conn.Write(codec.EncodeError("expected Identify as the first frame"))
		return
	}

	callID, err := parseCallID(frame.Payload)
	if err != nil {
		slog.Warn("server: malformed Identify payload", "remote", conn.RemoteAddr(), "error", err)
		conn.Write(codec.EncodeError("malformed Identify payload"))
		return
	}

	callCtx, cancel, err := s.registerCall(ctx, callID)
	if err != nil {
		slog.Warn("server: rejecting duplicate call id", "call_id", callID)
		conn.Write(codec.EncodeError(fmt.Sprintf("call %q already active", callID)))
		return
	}
	defer s.deregisterCall(callID)
	defer cancel()

	p := pipeline.New(
		callID,
		conn,
		s.deps.STT,
		s.deps.TTS,
		s.deps.PhraseCache,
		s.deps.Agent,
		s.deps.Voice,
		s.deps.Sessions,
		s.deps.Metrics,
		s.deps.PipelineConfig,
	)

	slog.Info("server: call started", "call_id", callID, "remote", conn.RemoteAddr())
	if err := p.Run(callCtx); err != nil {
		slog.Error("server: call ended with error", "call_id", callID, "error", err)
		return
	}
	slog.Info("server: call ended", "call_id", callID)
}

// registerCall enforces the "no two pipelines for the same call_id" rule
// (spec §3 Ownership) and returns a per-call context derived from parent.
func (s *Server) registerCall(parent context.Context, callID string) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[callID]; exists {
		return nil, nil, fmt.Errorf("server: call %q already active", callID)
	}
	callCtx, cancel := context.WithCancel(parent)
	s.calls[callID] = cancel
	return callCtx, cancel, nil
}

func (s *Server) deregisterCall(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
}

// ActiveCalls returns the number of calls currently being served. Safe for
// concurrent use; read by the liveness health check.
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Shutdown stops accepting new calls, cancels every live call's context, and
// waits up to drain for them to finish before returning. Calls still running
// past the deadline are abandoned — their connections are force-closed when
// their goroutines observe ctx.Done() via the pipeline's own watcher.
func (s *Server) Shutdown(ctx context.Context, drain time.Duration) error {
	s.mu.Lock()
	s.draining = true
	for callID, cancel := range s.calls {
		slog.Info("server: signaling call to terminate for shutdown", "call_id", callID)
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drain):
		return errors.New("server: shutdown drain deadline exceeded, calls force-abandoned")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseCallID decodes an Identify payload into its canonical UUID string
// form. Per spec §6.1 the payload is either a 16-byte binary UUID or its
// 36-byte ASCII (hyphenated) representation.
func parseCallID(payload []byte) (string, error) {
	switch len(payload) {
	case 16:
		id, err := uuid.FromBytes(payload)
		if err != nil {
			return "", fmt.Errorf("server: decode binary call id: %w", err)
		}
		return id.String(), nil
	case 36:
		s := strings.TrimSpace(string(payload))
		if _, err := uuid.Parse(s); err != nil {
			return "", fmt.Errorf("server: decode ascii call id: %w", err)
		}
		return s, nil
	default:
		return "", fmt.Errorf("server: identify payload length %d, want 16 or 36", len(payload))
	}
}

// NewHTTPServer builds the health/metrics HTTP server described in spec
// §4.9 / §6.3, reusing the teacher's health package almost verbatim.
func NewHTTPServer(addr string, h *health.Handler, metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)
	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
