package pipeline_test

import (
	"context"
	"sync"

	"github.com/voxline/callhandler/internal/session"
	"github.com/voxline/callhandler/internal/tools"
	"github.com/voxline/callhandler/pkg/provider/llm"
	"github.com/voxline/callhandler/pkg/provider/stt"
	"github.com/voxline/callhandler/pkg/provider/tts"
	"github.com/voxline/callhandler/pkg/types"
)

// fakeSTTSession is a controllable stt.SessionHandle. Tests push transcripts
// directly onto Finals/Partials.
type fakeSTTSession struct {
	partials chan types.Transcript
	finals   chan types.Transcript

	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

func newFakeSTTSession() *fakeSTTSession {
	return &fakeSTTSession{
		partials: make(chan types.Transcript),
		finals:   make(chan types.Transcript),
	}
}

func (s *fakeSTTSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeSTTSession) Partials() <-chan types.Transcript { return s.partials }
func (s *fakeSTTSession) Finals() <-chan types.Transcript   { return s.finals }

func (s *fakeSTTSession) SetKeywords(keywords []types.KeywordBoost) error { return nil }

func (s *fakeSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}

// fakeSTTProvider hands out a single fakeSTTSession and publishes it on
// Created so the test can reach in and drive transcripts.
type fakeSTTProvider struct {
	Created chan *fakeSTTSession
}

func newFakeSTTProvider() *fakeSTTProvider {
	return &fakeSTTProvider{Created: make(chan *fakeSTTSession, 1)}
}

func (p *fakeSTTProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	s := newFakeSTTSession()
	p.Created <- s
	return s, nil
}

// fakeTTSProvider synthesizes one audio chunk per text fragment received.
type fakeTTSProvider struct{}

func (fakeTTSProvider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for s := range text {
			if s == "" {
				continue
			}
			out <- make([]byte, 640)
		}
	}()
	return out, nil
}

func (fakeTTSProvider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return nil, nil
}

// fakePhraseCache returns a single short frame for every canonical phrase.
type fakePhraseCache struct{}

func (fakePhraseCache) phrase() (<-chan []byte, error) {
	ch := make(chan []byte, 1)
	ch <- make([]byte, 640)
	close(ch)
	return ch, nil
}

func (c fakePhraseCache) Greeting(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.phrase()
}

func (c fakePhraseCache) SilencePrompt(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.phrase()
}

func (c fakePhraseCache) TransferNotice(ctx context.Context, voice tts.VoiceProfile) (<-chan []byte, error) {
	return c.phrase()
}

// fakeLLMProvider returns one canned response per call, taking Responses in
// call order and repeating the last one once they run out. It never fails.
type fakeLLMProvider struct {
	mu        sync.Mutex
	Responses []*llm.CompletionResponse
	calls     int
}

func (p *fakeLLMProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	return p.Responses[idx], nil
}

func (p *fakeLLMProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (p *fakeLLMProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }

func (p *fakeLLMProvider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{SupportsToolCalling: true}
}

// fakeToolRouter lets a test control exactly what agent.HandleTurn sees when
// it dispatches a tool call.
type fakeToolRouter struct {
	dispatch func(ctx context.Context, name, argsJSON string) (*tools.Result, *tools.TransferSignal, error)
}

func (r *fakeToolRouter) Dispatch(ctx context.Context, name, argsJSON string) (*tools.Result, *tools.TransferSignal, error) {
	return r.dispatch(ctx, name, argsJSON)
}

func (r *fakeToolRouter) Catalog() []types.ToolDefinition { return nil }

// recordingSessionStore captures every Snapshot passed to Save, in order.
type recordingSessionStore struct {
	mu      sync.Mutex
	saved   []session.Record
	deletes int
}

func (s *recordingSessionStore) Save(ctx context.Context, callID string, rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return nil
}

func (s *recordingSessionStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	return nil
}

func (s *recordingSessionStore) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.saved))
	for i, r := range s.saved {
		out[i] = r.State
	}
	return out
}
