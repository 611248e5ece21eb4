// Package pipeline runs the two cooperating activities — ingress and
// dialogue — that drive a single call from Connected through Ended.
//
// One Pipeline owns exactly one call: one frame-protocol connection, one STT
// session, one conversation history, and one [session.Session] state
// machine. The ingress loop reads frames off the wire and feeds audio to
// STT; the dialogue loop consumes finalized transcripts, drives the LLM
// agent, and paces synthesized audio back out at real-time cadence. The two
// loops are supervised by an errgroup so either's fatal error tears down the
// whole call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxline/callhandler/internal/agent"
	"github.com/voxline/callhandler/internal/observe"
	"github.com/voxline/callhandler/internal/session"
	"github.com/voxline/callhandler/pkg/provider/stt"
	"github.com/voxline/callhandler/pkg/provider/tts"
	"github.com/voxline/callhandler/pkg/types"
)

// frameBytes is the expected PCM payload size of one 20ms, 16kHz, 16-bit
// mono audio frame per spec §6.1.
const frameBytes = 640

// errHangup and errTransferred are sentinel errors returned internally by
// the dialogue/ingress loops to signal a non-fatal, expected call ending.
// Run treats either as a clean termination rather than propagating them to
// the caller.
var (
	errHangup      = errors.New("pipeline: caller hangup")
	errTransferred = errors.New("pipeline: transferred to operator")
)

// PhraseCache synthesizes the small set of canonical, pre-recordable
// phrases the pipeline plays outside of an LLM turn: the opening greeting,
// the silence re-engagement prompt, and the operator-transfer notice.
// Declared locally so tests can substitute a stub without depending on the
// concrete phrase-cache implementation.
type PhraseCache interface {
	Greeting(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error)
	SilencePrompt(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error)
	TransferNotice(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error)
}

// SessionStore is the subset of *session.RedisStore the pipeline depends on
// for cross-process observability. Nil-safe: a Pipeline constructed without
// one simply skips KV writes.
type SessionStore interface {
	Save(ctx context.Context, callID string, rec session.Record) error
	Delete(ctx context.Context, callID string) error
}

// Config carries the per-deployment tunables for one call's pipeline.
type Config struct {
	// STT carries the audio format and recognition hints for the call's
	// STT session.
	STT stt.StreamConfig

	// SilenceTimeout is how long the pipeline waits in Listening without
	// any transcript activity before playing the re-engagement prompt.
	SilenceTimeout time.Duration

	// TTSFrameInterval is the wall-clock cadence of outbound Audio frames.
	// Defaults to 20ms (spec §3) when zero.
	TTSFrameInterval time.Duration
}

// Pipeline drives one call end to end. Construct with New; start with Run.
type Pipeline struct {
	callID string
	conn   io.ReadWriteCloser

	sttProvider stt.Provider
	ttsProvider tts.Provider
	phraseCache PhraseCache
	agent       *agent.Agent
	voice       tts.VoiceProfile

	sessionStore SessionStore
	metrics      *observe.Metrics
	cfg          Config

	sess       *session.Session
	sttSession stt.SessionHandle
	history    []types.Message

	// bargeIn is set by the ingress loop when inbound audio arrives while
	// Speaking, and observed by pace's playback loop on the other goroutine.
	bargeIn atomic.Bool
}

// New constructs a Pipeline for callID bound to conn. conn is owned by the
// Pipeline from this point: Run reads and writes frames on it and closes it
// on termination.
func New(
	callID string,
	conn io.ReadWriteCloser,
	sttProvider stt.Provider,
	ttsProvider tts.Provider,
	phraseCache PhraseCache,
	agentH *agent.Agent,
	voice tts.VoiceProfile,
	sessionStore SessionStore,
	metrics *observe.Metrics,
	cfg Config,
) *Pipeline {
	if cfg.TTSFrameInterval <= 0 {
		cfg.TTSFrameInterval = 20 * time.Millisecond
	}
	return &Pipeline{
		callID:       callID,
		conn:         conn,
		sttProvider:  sttProvider,
		ttsProvider:  ttsProvider,
		phraseCache:  phraseCache,
		agent:        agentH,
		voice:        voice,
		sessionStore: sessionStore,
		metrics:      metrics,
		cfg:          cfg,
		sess:         session.New(callID),
	}
}

// Run drives the call to completion. It blocks until the call ends — by
// hangup, operator transfer, a second consecutive silence timeout, a fatal
// protocol/provider error, or ctx cancellation — and returns a non-nil
// error only for the unexpected cases; expected endings return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.metrics != nil {
		p.metrics.ActiveCalls.Add(ctx, 1)
		defer p.metrics.ActiveCalls.Add(ctx, -1)
	}
	defer p.terminate(context.WithoutCancel(ctx))

	sttSession, err := p.sttProvider.StartStream(ctx, p.cfg.STT)
	if err != nil {
		return fmt.Errorf("pipeline: start stt stream: %w", err)
	}
	p.sttSession = sttSession

	// A blocked Read on conn does not observe ctx cancellation on its own;
	// closing the connection is what wakes it up.
	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	if err := p.greet(ctx); err != nil {
		return err
	}
	p.transition(ctx, session.Listening)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runGuarded(gctx, "ingress", p.ingressLoop) })
	g.Go(func() error {
		// When the dialogue loop finishes (transfer, second silence timeout),
		// cancelling ctx closes conn so the ingress loop's blocked read returns.
		err := p.runGuarded(gctx, "dialogue", p.dialogueLoop)
		cancel()
		return err
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errHangup), errors.Is(err, errTransferred), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// runGuarded wraps a loop function with a top-level recover so an illegal
// state transition's panic is logged, converted into a forced Ended
// transition, and surfaced to the supervising errgroup as an ordinary error
// rather than crashing the process.
func (p *Pipeline) runGuarded(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline: illegal state transition, forcing Ended", "call_id", p.callID, "loop", name, "panic", r)
			p.forceEnded(ctx)
			err = fmt.Errorf("pipeline: %s: %v", name, r)
		}
	}()
	return fn(ctx)
}

// forceEnded transitions to Ended unless already there, swallowing a
// (theoretically unreachable) panic from a concurrent transition racing it.
func (p *Pipeline) forceEnded(ctx context.Context) {
	defer func() { recover() }()
	if p.sess.State() != session.Ended {
		p.sess.Transition(session.Ended)
		p.saveSession(ctx)
	}
}

// transition moves the session to to and mirrors the change to the session
// store, if one is configured.
func (p *Pipeline) transition(ctx context.Context, to session.State) {
	p.sess.Transition(to)
	p.saveSession(ctx)
}

func (p *Pipeline) saveSession(ctx context.Context) {
	if p.sessionStore == nil {
		return
	}
	if err := p.sessionStore.Save(ctx, p.callID, p.sess.Snapshot()); err != nil {
		slog.Warn("pipeline: session save failed", "call_id", p.callID, "error", err)
	}
}

// terminate releases every resource held by the call, per spec §4.7's
// termination sequence: stop STT, force Ended, delete the KV entry, close
// the connection. Every step runs regardless of earlier failures.
func (p *Pipeline) terminate(ctx context.Context) {
	if p.sttSession != nil {
		if err := p.sttSession.Close(); err != nil {
			slog.Warn("pipeline: stt session close error", "call_id", p.callID, "error", err)
		}
	}
	p.forceEnded(ctx)
	if p.sessionStore != nil {
		if err := p.sessionStore.Delete(ctx, p.callID); err != nil {
			slog.Warn("pipeline: session delete error", "call_id", p.callID, "error", err)
		}
	}
	if err := p.conn.Close(); err != nil {
		slog.Warn("pipeline: conn close error", "call_id", p.callID, "error", err)
	}
}

// greet plays the canonical greeting phrase before the call enters
// Listening for the first time.
func (p *Pipeline) greet(ctx context.Context) error {
	p.transition(ctx, session.Greeting)
	audioCh, err := p.phraseCache.Greeting(ctx, p.voice)
	if err != nil {
		return fmt.Errorf("pipeline: greeting synthesis: %w", err)
	}
	if _, err := p.pace(ctx, audioCh); err != nil {
		return fmt.Errorf("pipeline: greeting playback: %w", err)
	}
	return nil
}
