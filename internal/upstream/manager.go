// Package upstream owns one OpenAI Realtime connection per client session.
//
// Every operation for a client runs on that client's bus mailbox, so chunk
// buffering, draining and commits for one session are strictly ordered.
// The socket reader runs on its own goroutine and only publishes events.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/bus"
	"yuzu/voicegw/internal/collab"
	"yuzu/voicegw/internal/types"
)

type Config struct {
	APIKey       string
	Model        string
	Voice        string
	Temperature  float64
	MaxTokens    int
	InputFormat  string
	OutputFormat string
	SampleRate   int // rate of the PCM16 chunks sent upstream
	DialTimeout  time.Duration
	KeepAlive    time.Duration
}

// Internal kinds published by the dial goroutine back onto the client's
// mailbox.
const (
	kindOpened     bus.Kind = "upstream_opened"
	kindDialFailed bus.Kind = "upstream_dial_failed"
)

type opened struct {
	sock    Socket
	latency time.Duration
}

type Manager struct {
	log     *zap.Logger
	bus     *bus.Bus
	dialer  Dialer
	cfg     Config
	journal collab.Journal

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]*conn
}

func NewManager(b *bus.Bus, d Dialer, cfg Config, j collab.Journal, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if j == nil {
		j = collab.NopJournal{}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:     log.Named("upstream"),
		bus:     b,
		dialer:  d,
		cfg:     cfg,
		journal: j,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*conn),
	}
	b.Subscribe(bus.TopicUpstream, m.handle)
	return m
}

// Len returns the number of connection records, open or dialing.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Connected reports whether the client's upstream socket is open.
func (m *Manager) Connected(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conns[clientID]
	return c != nil && c.connected
}

// Close tears down every connection and aborts pending dials.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.teardown(id, "shutdown")
	}
}

func (m *Manager) handle(ev bus.Event) {
	switch ev.Kind {
	case bus.KindInit:
		req, _ := ev.Payload.(types.InitRequest)
		m.init(ev.ClientID, req)
	case kindOpened:
		m.onOpen(ev.ClientID, ev.Payload.(opened))
	case kindDialFailed:
		err, _ := ev.Payload.(error)
		m.onDialFailed(ev.ClientID, err)
	case bus.KindAudioChunk:
		chunk, _ := ev.Payload.(types.AudioChunk)
		m.audio(ev.ClientID, chunk.Audio)
	case bus.KindCommit:
		m.commit(ev.ClientID)
	case bus.KindTextInput:
		in, _ := ev.Payload.(types.TextInput)
		m.text(ev.ClientID, in.Text)
	case bus.KindEndSession, bus.KindCleanup:
		m.teardown(ev.ClientID, string(ev.Kind))
	default:
		m.log.Debug("unhandled event", zap.String("kind", string(ev.Kind)), zap.String("client_id", ev.ClientID))
	}
}

func (m *Manager) get(clientID string) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[clientID]
}

func (m *Manager) toRouter(clientID string, kind bus.Kind, payload any) {
	m.bus.Publish(bus.Event{Topic: bus.TopicRouter, ClientID: clientID, Kind: kind, Payload: payload})
}

func (m *Manager) init(clientID string, req types.InitRequest) {
	log := m.log.With(zap.String("client_id", clientID))
	if m.cfg.APIKey == "" {
		log.Error("OPENAI_API_KEY not configured")
		m.toRouter(clientID, bus.KindError, types.UpstreamError{
			Message: "OpenAI API key is not configured",
			Err:     fmt.Errorf("%w: missing api key", collab.ErrUpstreamConnect),
		})
		return
	}

	c := &conn{
		clientID:     clientID,
		createdAt:    time.Now().UTC(),
		model:        firstNonEmpty(req.Model, m.cfg.Model),
		voice:        firstNonEmpty(req.Voice, m.cfg.Voice),
		temperature:  req.Temperature,
		instructions: req.Instructions,
		maxTokens:    req.MaxTokens,
		inputFormat:  firstNonEmpty(req.InputFormat, m.cfg.InputFormat, "pcm16"),
		outputFormat: firstNonEmpty(req.OutputFormat, m.cfg.OutputFormat, "pcm16"),
		done:         make(chan struct{}),
	}
	if c.temperature == 0 {
		c.temperature = m.cfg.Temperature
	}
	if c.maxTokens == 0 {
		c.maxTokens = m.cfg.MaxTokens
	}

	m.mu.Lock()
	if _, exists := m.conns[clientID]; exists {
		m.mu.Unlock()
		log.Warn("init for client with an existing upstream connection; ignoring")
		return
	}
	m.conns[clientID] = c
	m.mu.Unlock()

	log.Info("dialing realtime", zap.String("model", c.model), zap.String("voice", c.voice))
	go m.dial(clientID, c.model)
}

func (m *Manager) dial(clientID, model string) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	defer cancel()
	start := time.Now()
	sock, err := m.dialer.Dial(ctx, model)
	if err != nil {
		m.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: clientID, Kind: kindDialFailed, Payload: err})
		return
	}
	ok := m.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: clientID, Kind: kindOpened,
		Payload: opened{sock: sock, latency: time.Since(start)}})
	if !ok {
		_ = sock.Close()
	}
}

func (m *Manager) onDialFailed(clientID string, err error) {
	m.mu.Lock()
	c := m.conns[clientID]
	if c != nil {
		delete(m.conns, clientID)
	}
	m.mu.Unlock()
	if c == nil {
		return
	}
	metricConnectFailures.Inc()
	m.log.Error("realtime dial failed", zap.String("client_id", clientID), zap.Error(err))
	m.journal.AppendEvent(clientID, "upstream_connect_failed", map[string]any{"error": err.Error()})
	m.toRouter(clientID, bus.KindError, types.UpstreamError{
		Message: "failed to connect to OpenAI realtime",
		Err:     fmt.Errorf("%w: %w", collab.ErrUpstreamConnect, err),
	})
	m.toRouter(clientID, bus.KindEnded, nil)
}

func (m *Manager) onOpen(clientID string, o opened) {
	m.mu.Lock()
	c := m.conns[clientID]
	if c == nil || c.closing {
		m.mu.Unlock()
		// torn down while dialing
		_ = o.sock.Close()
		return
	}
	c.sock = o.sock
	c.connected = true
	m.mu.Unlock()

	metricActive.Inc()
	metricConnectLatency.Observe(o.latency.Seconds())
	log := m.log.With(zap.String("client_id", clientID))
	log.Info("realtime connected", zap.Duration("latency", o.latency))
	m.journal.AppendEvent(clientID, "upstream_connected", map[string]any{
		"model": c.model, "voice": c.voice, "latency_ms": o.latency.Milliseconds(),
	})

	go m.readLoop(c, o.sock)
	go keepAlive(o.sock, m.cfg.KeepAlive, c.done)

	m.toRouter(clientID, bus.KindReady, types.Ready{Model: c.model, Voice: c.voice})
	if err := c.sock.WriteJSON(handshakeFrame(c)); err != nil {
		log.Error("send session.update", zap.Error(err))
		return
	}
	m.flushPending(c)
}

func (m *Manager) audio(clientID, chunk string) {
	c := m.get(clientID)
	if c == nil {
		metricChunksDropped.Inc()
		m.log.Warn("audio for unknown client", zap.String("client_id", clientID))
		return
	}
	m.mu.Lock()
	connected := c.connected
	m.mu.Unlock()

	if !connected {
		c.pending = append(c.pending, queued{audio: chunk})
		metricChunksBuffered.Inc()
		m.log.Debug("socket not open; buffering chunk",
			zap.String("client_id", clientID),
			zap.Int("pending", len(c.pending)),
			zap.Float64("chunk_ms", chunkMs(chunk, m.cfg.SampleRate)))
		return
	}
	if len(c.pending) > 0 {
		m.flushPending(c)
	}
	m.appendAudio(c, chunk)
}

// flushPending sends buffered input in arrival order and clears the queue.
func (m *Manager) flushPending(c *conn) {
	if len(c.pending) == 0 {
		return
	}
	total, texts := 0.0, 0
	for _, p := range c.pending {
		if p.text != "" {
			texts++
			continue
		}
		total += chunkMs(p.audio, m.cfg.SampleRate)
	}
	m.log.Info("sending buffered input",
		zap.String("client_id", c.clientID),
		zap.Int("chunks", len(c.pending)-texts),
		zap.Int("texts", texts),
		zap.Float64("buffered_ms", total))
	for _, p := range c.pending {
		if p.text != "" {
			m.sendText(c, p.text)
			continue
		}
		m.appendAudio(c, p.audio)
	}
	c.pending = nil
}

func (m *Manager) appendAudio(c *conn, chunk string) {
	if err := c.sock.WriteJSON(appendFrame{Type: "input_audio_buffer.append", Audio: chunk}); err != nil {
		m.log.Warn("send audio chunk", zap.String("client_id", c.clientID), zap.Error(err))
		return
	}
	c.sent++
	metricChunksSent.Inc()
}

func (m *Manager) commit(clientID string) {
	c := m.get(clientID)
	if c == nil {
		m.log.Warn("commit for unknown client", zap.String("client_id", clientID))
		return
	}
	sent := c.sent
	c.sent = 0

	m.mu.Lock()
	connected := c.connected
	m.mu.Unlock()

	if !connected || sent == 0 {
		metricCommitsSuppressed.Inc()
		m.log.Debug("commit suppressed", zap.String("client_id", clientID), zap.Int("sent", sent), zap.Bool("connected", connected))
		m.journal.AppendEvent(clientID, "commit_suppressed", map[string]any{"sent": sent})
		return
	}
	if err := c.sock.WriteJSON(commitFrame); err != nil {
		m.log.Warn("send commit", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	if err := c.sock.WriteJSON(responseCreateFrame); err != nil {
		m.log.Warn("send response.create", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	metricCommits.Inc()
	m.log.Info("audio committed", zap.String("client_id", clientID), zap.Int("chunks", sent))
	m.journal.AppendEvent(clientID, "commit_sent", map[string]any{"sent": sent})
}

func (m *Manager) text(clientID, text string) {
	c := m.get(clientID)
	if c == nil {
		m.log.Warn("text input for unknown client", zap.String("client_id", clientID))
		m.toRouter(clientID, bus.KindError, types.UpstreamError{
			Message: "no realtime session; text input dropped",
			Err:     collab.ErrUpstreamConnect,
		})
		return
	}
	m.mu.Lock()
	connected := c.connected
	m.mu.Unlock()
	if !connected {
		c.pending = append(c.pending, queued{text: text})
		m.log.Debug("socket not open; buffering text", zap.String("client_id", clientID))
		return
	}
	m.flushPending(c)
	m.sendText(c, text)
}

func (m *Manager) sendText(c *conn, text string) {
	clientID := c.clientID
	if err := c.sock.WriteJSON(textItemFrame(text)); err != nil {
		m.log.Warn("send text item", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	if err := c.sock.WriteJSON(responseCreateFrame); err != nil {
		m.log.Warn("send response.create", zap.String("client_id", clientID), zap.Error(err))
	}
}

// teardown closes the client's socket if open. Unknown clients are a no-op.
func (m *Manager) teardown(clientID, reason string) {
	m.mu.Lock()
	c := m.conns[clientID]
	if c == nil {
		m.mu.Unlock()
		return
	}
	delete(m.conns, clientID)
	c.closing = true
	wasConnected := c.connected
	c.connected = false
	sock := c.sock
	m.mu.Unlock()

	c.shutdown(sock)
	if wasConnected {
		metricActive.Dec()
	}
	m.log.Info("upstream closed", zap.String("client_id", clientID), zap.String("reason", reason))
	m.journal.AppendEvent(clientID, "upstream_closed", map[string]any{"reason": reason})
}

func (m *Manager) readLoop(c *conn, sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			m.onReadEnd(c, sock, err)
			return
		}
		f, err := ParseFrame(data)
		if err != nil {
			metricFrames.WithLabelValues("malformed").Inc()
			m.log.Warn("malformed frame", zap.String("client_id", c.clientID), zap.Error(err))
			m.toRouter(c.clientID, bus.KindError, types.UpstreamError{Message: "malformed message from OpenAI", Err: err})
			continue
		}
		metricFrames.WithLabelValues(f.Kind.String()).Inc()
		switch f.Kind {
		case FrameTextDelta:
			m.toRouter(c.clientID, bus.KindTextDelta, types.Delta{Delta: f.Delta})
		case FrameTranscriptDelta:
			m.toRouter(c.clientID, bus.KindTranscriptDelta, types.Delta{Delta: f.Delta})
		case FrameAudioDelta:
			m.toRouter(c.clientID, bus.KindAudioDelta, types.Delta{Delta: f.Delta})
		case FrameResponseDone:
			m.toRouter(c.clientID, bus.KindResponseDone, types.ResponseDone{Raw: f.Raw})
		case FrameError:
			m.toRouter(c.clientID, bus.KindError, types.UpstreamError{
				Message: f.Message,
				Err:     fmt.Errorf("%w: %s", collab.ErrUpstreamProtocol, f.Message),
			})
		default:
			m.log.Debug("ignoring frame", zap.String("client_id", c.clientID), zap.String("type", f.Type))
		}
	}
}

func (m *Manager) onReadEnd(c *conn, sock Socket, err error) {
	m.mu.Lock()
	if m.conns[c.clientID] == c {
		delete(m.conns, c.clientID)
	}
	intentional := c.closing
	c.closing = true
	wasConnected := c.connected
	c.connected = false
	m.mu.Unlock()

	c.shutdown(sock)
	if wasConnected {
		metricActive.Dec()
	}
	if intentional {
		return
	}

	log := m.log.With(zap.String("client_id", c.clientID))
	if isAbnormal(err) {
		log.Warn("realtime socket closed abnormally", zap.Error(err))
		m.toRouter(c.clientID, bus.KindError, types.UpstreamError{Message: "OpenAI connection lost", Err: err})
	} else {
		log.Info("realtime socket closed by peer")
	}
	m.journal.AppendEvent(c.clientID, "upstream_closed", map[string]any{"reason": "peer", "error": err.Error()})
	m.toRouter(c.clientID, bus.KindEnded, nil)
}

func isAbnormal(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (c *conn) shutdown(sock Socket) {
	c.once.Do(func() {
		close(c.done)
		if sock != nil {
			_ = sock.Close()
		}
	})
}

func chunkMs(b64 string, rate int) float64 {
	_, raw, err := audio.NormalizeBase64(b64)
	if err != nil {
		return 0
	}
	return audio.DurationMs(raw, rate)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
