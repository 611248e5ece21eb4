// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/voxline/callhandler/pkg/provider/stt"
	"github.com/voxline/callhandler/pkg/types"
)

const (
	deepgramProjectsEndpoint = "https://api.deepgram.com/v1/projects"
	deepgramEndpoint         = "wss://api.deepgram.com/v1/listen"
	defaultModel             = "nova-3"
	defaultLanguage          = "en"
	defaultSampleRate        = 16000

	// maxSessionAge bounds how long a single underlying websocket connection is
	// kept open. Deepgram's streaming API disconnects sessions after roughly
	// five minutes regardless of activity, so the session re-dials before that
	// limit and continues delivering to the same Partials/Finals channels —
	// the caller never observes the boundary.
	maxSessionAge = 4 * time.Minute
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	// Build the WebSocket URL with query parameters.
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, err := p.dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	sess := &session{
		provider: p,
		wsURL:    wsURL,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(1)
	go sess.run(ctx, conn)

	return sess, nil
}

// dial opens a single websocket connection to wsURL, authenticated with p's
// API key. Used both for the initial connection and for every restart.
func (p *Provider) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return conn, nil
}

// Ping verifies the Deepgram REST API is reachable and the API key is
// accepted, using the lightweight projects listing rather than opening a
// streaming session.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deepgramProjectsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("deepgram: build ping request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("deepgram: ping returned status %d", resp.StatusCode)
	}
	return nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:5")
		val := fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
// A session may span more than one underlying websocket connection: run
// re-dials before maxSessionAge without closing partials/finals, so a
// restart is invisible to the caller.
type session struct {
	provider *Provider
	wsURL    string

	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	kwMu     sync.RWMutex
	keywords []types.KeywordBoost // stored for reference; Deepgram doesn't support mid-stream updates
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// SetKeywords records the new keyword list. Deepgram does not support mid-stream
// keyword updates, so this always returns a "not supported" error.
func (s *session) SetKeywords(keywords []types.KeywordBoost) error {
	s.kwMu.Lock()
	s.keywords = keywords
	s.kwMu.Unlock()
	return fmt.Errorf("deepgram: %w", errNotSupported)
}

var errNotSupported = errors.New("mid-session keyword updates are not supported")

// Close terminates the session cleanly, across however many connections it
// went through.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

// run owns the session's connection for its whole lifetime, re-dialing
// before maxSessionAge and on unrecoverable read errors so a long call is
// never simply dropped by Deepgram's server-side session limit. conn is the
// already-dialed initial connection.
func (s *session) run(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		connCtx, cancelConn := context.WithCancel(ctx)
		restart := time.NewTimer(maxSessionAge)
		readDone := make(chan struct{})
		writeDone := make(chan struct{})

		go func() {
			s.readLoop(connCtx, conn)
			close(readDone)
		}()
		go func() {
			s.writeLoop(connCtx, conn)
			close(writeDone)
		}()

		select {
		case <-restart.C:
			slog.Info("deepgram: restarting stream before provider session limit")
			cancelConn()
			<-readDone
			<-writeDone
			conn.Close(websocket.StatusNormalClosure, "session restart")

			newConn, err := s.provider.dial(ctx, s.wsURL)
			if err != nil {
				slog.Error("deepgram: restart dial failed, ending session", "error", err)
				return
			}
			conn = newConn
			continue

		case <-readDone:
			restart.Stop()
			cancelConn()
			<-writeDone
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case <-s.done:
			restart.Stop()
			cancelConn()
			<-readDone
			<-writeDone
			s.flushPendingAudio(conn)
			_ = conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
			conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		}
	}
}

// flushPendingAudio writes every chunk still buffered in s.audio to conn
// without blocking, so Close doesn't silently drop trailing audio.
func (s *session) flushPendingAudio(conn *websocket.Conn) {
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			_ = conn.Write(context.Background(), websocket.MessageBinary, chunk)
		default:
			return
		}
	}
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram over conn until ctx is cancelled, which happens both on a
// restart and on session Close.
func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram over conn and dispatches
// them to the session's partials and finals channels, which outlive any
// single connection.
func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// Connection closed, errored, or ctx cancelled for a restart.
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		if t.IsFinal {
			select {
			case s.finals <- t:
			case <-ctx.Done():
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- t:
			case <-ctx.Done():
			case <-s.done:
			}
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (types.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false
	}
	if resp.Type != "Results" {
		return types.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
	}, true
}
