// Package phrasecache caches the synthesized audio for the small set of
// canonical phrases the pipeline plays outside of an LLM turn — the
// greeting, please-wait notice, farewell, silence re-engagement prompt, and
// operator-transfer notice — so repeat playback of the same phrase in the
// same voice never re-invokes the TTS provider.
//
// The cache is process-global and read-mostly after Preload: concurrent
// reads from many calls' pipelines are safe.
package phrasecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/voxline/callhandler/internal/observe"
	"github.com/voxline/callhandler/pkg/provider/tts"
)

// Phrases carries the five canonical phrase texts to preload, one voice
// config's worth. Deployments with multiple configured voices preload each
// voice separately.
type Phrases struct {
	Greeting       string
	PleaseWait     string
	Farewell       string
	SilencePrompt  string
	TransferNotice string
}

// Cache stores fully-synthesized PCM audio for canonical phrases, keyed by a
// fingerprint of the text, voice, and sample rate. A cache hit replays the
// stored bytes through a fresh channel; a miss synthesizes via provider and
// stores the result for next time.
type Cache struct {
	provider   tts.Provider
	sampleRate int
	metrics    *observe.Metrics
	phrases    Phrases

	mu      sync.RWMutex
	entries map[string][]byte
}

// New constructs an empty Cache backed by provider, configured with the
// canonical phrase texts in p. sampleRate is folded into the cache
// fingerprint so a deployment change in audio format can't serve
// stale-rate audio from a previous run's entries.
func New(provider tts.Provider, sampleRate int, p Phrases, metrics *observe.Metrics) *Cache {
	return &Cache{
		provider:   provider,
		sampleRate: sampleRate,
		metrics:    metrics,
		phrases:    p,
		entries:    make(map[string][]byte),
	}
}

// Preload synthesizes and stores every configured phrase for voice, so the
// first live call never pays a cache-miss synthesis cost for these phrases.
func (c *Cache) Preload(ctx context.Context, voice tts.VoiceProfile) error {
	for _, text := range []string{c.phrases.Greeting, c.phrases.PleaseWait, c.phrases.Farewell, c.phrases.SilencePrompt, c.phrases.TransferNotice} {
		if text == "" {
			continue
		}
		if _, err := c.synthesizeAndStore(ctx, text, voice); err != nil {
			return fmt.Errorf("phrasecache: preload %q: %w", text, err)
		}
	}
	return nil
}

// Greeting returns the cached greeting audio for voice, synthesizing it on
// a miss.
func (c *Cache) Greeting(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.get(ctx, c.phrases.Greeting, voice)
}

// SilencePrompt returns the cached "are you still there?" prompt for voice.
func (c *Cache) SilencePrompt(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.get(ctx, c.phrases.SilencePrompt, voice)
}

// TransferNotice returns the cached operator-transfer notice for voice.
func (c *Cache) TransferNotice(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.get(ctx, c.phrases.TransferNotice, voice)
}

// Farewell returns the cached hangup notice for voice.
func (c *Cache) Farewell(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.get(ctx, c.phrases.Farewell, voice)
}

// PleaseWait returns the cached please-wait notice for voice, played while
// a slow tool invocation is in flight.
func (c *Cache) PleaseWait(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.get(ctx, c.phrases.PleaseWait, voice)
}

// Phrase returns the cached audio for an arbitrary canonical text, or
// synthesizes and caches it on a miss. Use Preload to populate the hot set
// up front; Phrase takes the same cache lookup path as the named shortcuts
// above.
func (c *Cache) Phrase(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.get(ctx, text, voice)
}

func (c *Cache) get(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if text == "" {
		return nil, fmt.Errorf("phrasecache: no text configured for this phrase and voice %q", voice.ID)
	}
	key := fingerprint(text, voice, c.sampleRate)

	c.mu.RLock()
	audio, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.recordHit(ctx)
		return replay(audio), nil
	}

	c.recordMiss(ctx)
	audio, err := c.synthesizeAndStore(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	return replay(audio), nil
}

// synthesizeAndStore runs the phrase through the provider in full and
// stores the concatenated PCM bytes under its fingerprint. Canonical
// phrases are short (a sentence or two), so buffering the whole result
// before returning is acceptable — unlike live LLM replies, which the
// pipeline paces directly off the provider's stream.
func (c *Cache) synthesizeAndStore(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	textCh := make(chan string, len(sentences(text)))
	for _, s := range sentences(text) {
		textCh <- s
	}
	close(textCh)

	audioCh, err := c.provider.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		return nil, fmt.Errorf("phrasecache: synthesize: %w", err)
	}

	var buf []byte
	for chunk := range audioCh {
		buf = append(buf, chunk...)
	}

	key := fingerprint(text, voice, c.sampleRate)
	c.mu.Lock()
	c.entries[key] = buf
	c.mu.Unlock()
	return buf, nil
}

// sentences splits text into sentence-sized fragments, cutting after each
// '.', '!' or '?' that is followed by whitespace. The dialogue turn path does
// not use it: a live LLM reply is sent to the provider as a single fragment.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			switch text[i+1] {
			case ' ', '\n', '\r', '\t':
				out = append(out, strings.TrimSpace(text[start:i+1]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// replay serves pre-synthesized audio through a fresh, already-populated
// channel so every caller gets an independent read cursor over the same
// cached bytes.
func replay(audio []byte) <-chan []byte {
	ch := make(chan []byte, 1)
	if len(audio) > 0 {
		ch <- audio
	}
	close(ch)
	return ch
}

func (c *Cache) recordHit(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.TTSCacheHits.Add(ctx, 1)
	}
}

func (c *Cache) recordMiss(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.TTSCacheMisses.Add(ctx, 1)
	}
}

// fingerprint derives the cache key from the phrase text, the voice
// identity and speed (a faster/slower voice produces different audio for
// identical text), and the deployment's sample rate.
func fingerprint(text string, voice tts.VoiceProfile, sampleRate int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%f|%d", text, voice.ID, voice.SpeedFactor, sampleRate)
	return hex.EncodeToString(h.Sum(nil))
}
