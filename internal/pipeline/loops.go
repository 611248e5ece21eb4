package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/voxline/callhandler/internal/codec"
	"github.com/voxline/callhandler/internal/session"
)

// ingressLoop reads frames off the wire for the lifetime of the call. Audio
// frames feed the STT session and, while Speaking, raise the barge-in flag
// watched by pace. Hangup and Error frames end the call.
func (p *Pipeline) ingressLoop(ctx context.Context) error {
	for {
		frame, err := codec.ReadFrame(p.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pipeline: ingress: %w", err)
		}

		switch frame.Kind {
		case codec.KindAudio:
			if p.sess.State() == session.Speaking {
				p.bargeIn.Store(true)
			}
			if err := p.sttSession.SendAudio(frame.Payload); err != nil {
				slog.Warn("pipeline: stt send audio failed", "call_id", p.callID, "error", err)
			}
			codec.PutBuf(frame.Payload)

		case codec.KindHangup:
			slog.Info("pipeline: caller hangup", "call_id", p.callID)
			return errHangup

		case codec.KindError:
			slog.Warn("pipeline: peer sent error frame", "call_id", p.callID, "message", string(frame.Payload))
			return fmt.Errorf("pipeline: peer error frame: %s", frame.Payload)
		}
	}
}

// dialogueLoop consumes the STT session's transcript streams. Every is_final
// transcript drives one LLM agent turn; partials only reset the silence
// timer. Because handleTurn runs synchronously within this loop, finals that
// arrive while a turn is in flight simply queue — satisfying the "transcripts
// are not dispatched until Processing completes" rule without extra
// bookkeeping.
func (p *Pipeline) dialogueLoop(ctx context.Context) error {
	finals := p.sttSession.Finals()
	partials := p.sttSession.Partials()

	timer := time.NewTimer(p.cfg.SilenceTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			if p.sess.State() != session.Listening {
				resetTimer(timer, p.cfg.SilenceTimeout)
				continue
			}
			ended, err := p.handleSilenceTimeout(ctx)
			if err != nil {
				return err
			}
			if ended {
				return nil
			}
			resetTimer(timer, p.cfg.SilenceTimeout)

		case _, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			resetTimer(timer, p.cfg.SilenceTimeout)

		case tr, ok := <-finals:
			if !ok {
				return nil
			}
			resetTimer(timer, p.cfg.SilenceTimeout)
			if err := p.handleTurn(ctx, tr.Text); err != nil {
				return err
			}
		}
	}
}

// resetTimer drains and restarts t, the idiomatic pattern for reusing a
// time.Timer whose channel may already hold an unconsumed tick.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handleSilenceTimeout plays the "are you still there?" prompt and records
// the timeout. A second consecutive timeout ends the call.
//
// The prompt is played without leaving Listening. Session.Transition(to
// Speaking) clears the consecutive-timeout counter on the assumption that
// reaching Speaking means a genuine conversational turn happened — true for
// an LLM reply, false for this automated nudge. Routing the nudge through
// Speaking would therefore erase the very counter it is meant to advance,
// so it is synthesized and paced out directly instead.
func (p *Pipeline) handleSilenceTimeout(ctx context.Context) (ended bool, err error) {
	if p.sess.RecordSilenceTimeout() {
		slog.Info("pipeline: second consecutive silence timeout, ending call", "call_id", p.callID)
		p.transition(ctx, session.Ended)
		return true, nil
	}

	audioCh, err := p.phraseCache.SilencePrompt(ctx, p.voice)
	if err != nil {
		return false, fmt.Errorf("pipeline: silence prompt synthesis: %w", err)
	}
	if _, err := p.pace(ctx, audioCh); err != nil {
		return false, fmt.Errorf("pipeline: silence prompt playback: %w", err)
	}
	return false, nil
}

// handleTurn drives one complete user turn: LLM agent invocation, optional
// tool round-trips, and the spoken reply (or operator transfer).
func (p *Pipeline) handleTurn(ctx context.Context, utterance string) error {
	p.transition(ctx, session.Processing)

	start := time.Now()
	outcome, err := p.agent.HandleTurn(ctx, p.history, utterance)
	if p.metrics != nil {
		p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("pipeline: agent turn: %w", err)
	}
	p.history = outcome.History

	if outcome.Transfer != nil {
		return p.transferToOperator(ctx, outcome.Transfer.Reason)
	}

	p.transition(ctx, session.Speaking)
	p.bargeIn.Store(false)

	if _, err := p.speak(ctx, outcome.Reply); err != nil {
		return fmt.Errorf("pipeline: reply playback: %w", err)
	}

	// speak returns early (without re-entering Listening) on barge-in; only
	// advance here if still Speaking.
	if p.sess.State() == session.Speaking {
		p.transition(ctx, session.Listening)
	}
	return nil
}

// transferToOperator plays the transfer notice and ends the call in the
// Transferring state, per spec §4.7's terminal edge.
func (p *Pipeline) transferToOperator(ctx context.Context, reason string) error {
	p.transition(ctx, session.Speaking)

	audioCh, err := p.phraseCache.TransferNotice(ctx, p.voice)
	if err != nil {
		slog.Warn("pipeline: transfer notice synthesis failed", "call_id", p.callID, "error", err)
	} else if _, err := p.pace(ctx, audioCh); err != nil {
		slog.Warn("pipeline: transfer notice playback failed", "call_id", p.callID, "error", err)
	}

	slog.Info("pipeline: transferring to operator", "call_id", p.callID, "reason", reason)
	p.transition(ctx, session.Transferring)
	p.transition(ctx, session.Ended)
	return errTransferred
}

// speak synthesizes text as a single TTS stream and paces it out.
func (p *Pipeline) speak(ctx context.Context, text string) (interrupted bool, err error) {
	if text == "" {
		return false, nil
	}
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	start := time.Now()
	audioCh, err := p.ttsProvider.SynthesizeStream(ctx, textCh, p.voice)
	if err != nil {
		return false, fmt.Errorf("pipeline: tts start: %w", err)
	}
	interrupted, err = p.pace(ctx, audioCh)
	if p.metrics != nil {
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	return interrupted, err
}

// pace drains audioCh into fixed-size frames and writes one to conn per
// TTSFrameInterval tick, the real-time pacing spec §4.7 requires. It stops
// early — discarding any buffered or in-flight audio — the instant barge-in
// is observed, reporting interrupted=true. pace never changes session
// state itself; the resulting transition depends on which activity the
// caller was playing audio for, so that decision is left to the caller.
func (p *Pipeline) pace(ctx context.Context, audioCh <-chan []byte) (interrupted bool, err error) {
	ticker := time.NewTicker(p.cfg.TTSFrameInterval)
	defer ticker.Stop()

	var buf []byte
	closed := false

	for {
		buf, closed = fillNonBlocking(buf, audioCh, frameBytes, closed)

		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-ticker.C:
			if p.bargeIn.Load() {
				go drainAudio(audioCh)
				return true, nil
			}

			if len(buf) == 0 {
				if closed {
					return false, nil
				}
				continue
			}

			n := frameBytes
			if n > len(buf) {
				n = len(buf)
			}
			frame := buf[:n]
			buf = buf[n:]
			if _, err := p.conn.Write(codec.EncodeAudio(frame)); err != nil {
				return false, fmt.Errorf("pipeline: write audio frame: %w", err)
			}
			if len(buf) == 0 && closed {
				return false, nil
			}
		}
	}
}

// fillNonBlocking tops buf up to want bytes from ch without blocking,
// reporting whether ch has been closed.
func fillNonBlocking(buf []byte, ch <-chan []byte, want int, alreadyClosed bool) ([]byte, bool) {
	if alreadyClosed {
		return buf, true
	}
	for len(buf) < want {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return buf, true
			}
			buf = append(buf, chunk...)
		default:
			return buf, false
		}
	}
	return buf, false
}

// drainAudio discards all remaining chunks from ch, the same leak guard the
// teacher's cascade engine uses when it abandons a stream mid-flight.
func drainAudio(ch <-chan []byte) {
	for range ch {
	}
}
