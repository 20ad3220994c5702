// Package ingress serves the client-facing realtime socket.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/bus"
	"yuzu/voicegw/internal/collab"
	"yuzu/voicegw/internal/session"
	"yuzu/voicegw/internal/types"
	"yuzu/voicegw/internal/vad"
)

// FallbackUserText is stored when a spoken user turn cannot be transcribed.
const FallbackUserText = "[Audio Input]"

type Config struct {
	Voice              string
	Model              string
	Temperature        float64
	MaxTokens          int
	InputFormat        string
	InputSampleRate    int
	OutputFormat       string
	UpstreamSampleRate int
	VADThreshold       float64
	VADHangover        time.Duration
	ReadLimit          int64
	TranscribeTimeout  time.Duration
}

// Deps are the collaborators. Any of them may be nil.
type Deps struct {
	Auth        collab.Authenticator
	Modes       collab.ModeResolver
	Settings    collab.SettingsProvider
	Transcriber collab.Transcriber
	Messages    collab.MessageStore
	Journal     collab.Journal
}

type Handler struct {
	log  *zap.Logger
	bus  *bus.Bus
	reg  *session.Registry
	deps Deps
	cfg  Config

	mu      sync.Mutex
	sockets map[string]*ws.Conn

	wg sync.WaitGroup
}

func New(b *bus.Bus, reg *session.Registry, deps Deps, cfg Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Journal == nil {
		deps.Journal = collab.NopJournal{}
	}
	if cfg.UpstreamSampleRate <= 0 {
		cfg.UpstreamSampleRate = 24000
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = vad.DefaultThreshold
	}
	if cfg.VADHangover <= 0 {
		cfg.VADHangover = vad.DefaultHangover
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	return &Handler{
		log:     log.Named("ingress"),
		bus:     b,
		reg:     reg,
		deps:    deps,
		cfg:     cfg,
		sockets: make(map[string]*ws.Conn),
	}
}

// Wait blocks until background transcription and persistence finish.
func (h *Handler) Wait() { h.wg.Wait() }

type wsSender struct{ c *ws.Conn }

func (s wsSender) SendJSON(ctx context.Context, v any) error { return wsjson.Write(ctx, s.c, v) }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := uuid.NewString()
	log := h.log.With(zap.String("client_id", clientID))
	q := r.URL.Query()

	userID := h.authenticate(ctx, tokenFrom(r), log)

	c, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warn("ws accept", zap.Error(err))
		return
	}
	c.SetReadLimit(h.cfg.ReadLimit)
	metricConnections.Inc()

	var mode *collab.Mode
	if id := q.Get("mode"); id != "" {
		m, err := h.resolveMode(ctx, id)
		if err != nil {
			metricRejected.WithLabelValues("mode").Inc()
			log.Warn("mode resolution failed; rejecting", zap.String("mode", id), zap.Error(err))
			_ = wsjson.Write(ctx, c, types.ServerMessage{Type: "error", Message: fmt.Sprintf("invalid mode %q", id)})
			_ = c.Close(ws.StatusPolicyViolation, "invalid mode")
			return
		}
		mode = &m
	}

	p := resolveParams(q, h.loadSettings(ctx, log), mode, h.cfg)
	det := vad.New(h.cfg.VADThreshold, h.cfg.VADHangover, func(spurt uint64) {
		h.bus.Publish(bus.Event{Topic: bus.TopicRouter, ClientID: clientID, Kind: bus.KindSpeechStopped,
			Payload: types.SpeechStopped{Spurt: spurt}})
	})
	s := session.New(session.Params{
		ClientID:        clientID,
		UserID:          userID,
		ModeID:          q.Get("mode"),
		InputFormat:     p.InputFormat,
		InputSampleRate: p.SampleRate,
		Model:           p.Model,
		Voice:           p.Voice,
	}, det, wsSender{c: c})
	if err := h.reg.Add(s); err != nil {
		det.Stop()
		log.Error("register session", zap.Error(err))
		_ = c.Close(ws.StatusInternalError, "session registration failed")
		return
	}
	h.mu.Lock()
	h.sockets[clientID] = c
	h.mu.Unlock()
	s.Activate()

	h.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: clientID, Kind: bus.KindInit, Payload: types.InitRequest{
		Model:        p.Model,
		Voice:        p.Voice,
		Temperature:  p.Temperature,
		Instructions: p.Instructions,
		MaxTokens:    p.MaxTokens,
		InputFormat:  p.InputFormat,
		OutputFormat: p.OutputFormat,
	}})
	h.deps.Journal.AppendEvent(clientID, "session_started", map[string]any{
		"user_id": userID, "mode": q.Get("mode"), "voice": p.Voice, "model": p.Model,
		"format": p.InputFormat, "sample_rate": p.SampleRate,
	})
	log.Info("session created",
		zap.String("user_id", userID), zap.String("voice", p.Voice), zap.String("model", p.Model),
		zap.Int("max_tokens", p.MaxTokens), zap.String("format", p.InputFormat), zap.Int("sample_rate", p.SampleRate))

	h.readLoop(ctx, c, s, log)
	h.Close(clientID)
}

func (h *Handler) authenticate(ctx context.Context, token string, log *zap.Logger) string {
	if token == "" || h.deps.Auth == nil {
		return ""
	}
	userID, err := h.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		metricAuthFailures.Inc()
		log.Warn("invalid token; continuing anonymously", zap.Error(err))
		return ""
	}
	return userID
}

func (h *Handler) resolveMode(ctx context.Context, id string) (collab.Mode, error) {
	if h.deps.Modes == nil {
		return collab.Mode{}, fmt.Errorf("%w: %s", collab.ErrModeNotFound, id)
	}
	return h.deps.Modes.ResolveMode(ctx, id)
}

func (h *Handler) loadSettings(ctx context.Context, log *zap.Logger) collab.Settings {
	if h.deps.Settings == nil {
		return collab.Settings{}
	}
	st, err := h.deps.Settings.Settings(ctx)
	if err != nil {
		log.Warn("settings unavailable; using defaults", zap.Error(err))
		return collab.Settings{}
	}
	return st
}

func (h *Handler) readLoop(ctx context.Context, c *ws.Conn, s *session.Session, log *zap.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch ws.CloseStatus(err) {
			case ws.StatusNormalClosure, ws.StatusGoingAway:
				log.Info("client disconnected")
			default:
				log.Info("client read ended", zap.Error(err))
			}
			return
		}
		if typ == ws.MessageBinary {
			h.onAudio(ctx, s, data, log)
			continue
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("invalid client message", zap.Error(err))
			h.sendError(ctx, s, "invalid message")
			continue
		}
		switch msg.Type {
		case "audio_chunk":
			_, raw, err := audio.NormalizeBase64(msg.Audio)
			if err != nil {
				log.Warn("bad audio payload", zap.Error(err))
				h.sendError(ctx, s, "invalid audio payload")
				continue
			}
			h.onAudio(ctx, s, raw, log)
		case "stop":
			h.onStop(s, log)
		case "input_text":
			h.onText(s, msg.Text, log)
		case "end":
			log.Info("session end requested")
			h.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: s.ClientID, Kind: bus.KindEndSession})
			return
		default:
			log.Debug("unknown message type", zap.String("type", msg.Type))
		}
	}
}

func (h *Handler) sendError(ctx context.Context, s *session.Session, msg string) {
	_ = s.Send(ctx, types.ServerMessage{Type: "error", Message: msg})
}

func isPCM(format string) bool { return format == "" || format == "pcm16" }

func (h *Handler) onAudio(ctx context.Context, s *session.Session, raw []byte, log *zap.Logger) {
	if !s.Active() {
		log.Warn("audio for inactive session")
		return
	}
	if len(raw) == 0 {
		return
	}

	// Companded formats go upstream untouched; the VAD sees them expanded.
	up := raw
	res := vad.Result{Speech: true}
	switch {
	case isPCM(s.InputFormat):
		up = audio.Resample(raw, s.InputSampleRate, h.cfg.UpstreamSampleRate)
		res = s.Detector().Process(up)
	case audio.IsG711(s.InputFormat):
		pcm, _ := audio.DecodeG711(s.InputFormat, raw)
		res = s.Detector().Process(pcm)
	}

	s.Do(func(m *session.Mutable) {
		m.Turn = append(m.Turn, raw)
		if res.Started {
			m.Gate.OnSpeechStart(res.Spurt)
		}
		if res.Speech {
			m.Forwarded++
		}
	})

	if res.Started {
		speaking, rms, thr := true, res.RMS, h.cfg.VADThreshold
		_ = s.Send(ctx, types.ServerMessage{Type: "vad_state", IsSpeaking: &speaking, RMS: &rms, Threshold: &thr})
		h.deps.Journal.AppendEvent(s.ClientID, "vad_speech_start", map[string]any{"rms": rms, "spurt": res.Spurt})
	}
	if !res.Speech {
		metricFrames.WithLabelValues("silent").Inc()
		return
	}
	b64, err := audio.EncodeBinary(up)
	if err != nil {
		return
	}
	metricFrames.WithLabelValues("forwarded").Inc()
	h.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: s.ClientID, Kind: bus.KindAudioChunk,
		Payload: types.AudioChunk{Audio: b64}})
}

func (h *Handler) onStop(s *session.Session, log *zap.Logger) {
	if !s.Active() {
		log.Warn("stop for inactive session")
		return
	}
	var turn []byte
	var forwarded int
	s.Do(func(m *session.Mutable) {
		turn = m.TurnBytes()
		forwarded = m.Forwarded
		m.ResetTurn()
	})

	if s.UserID != "" && len(turn) > 0 && h.deps.Messages != nil {
		clip := audio.ClipFor(s.InputFormat, turn, s.InputSampleRate)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.recordUserAudio(s.ClientID, s.UserID, clip)
		}()
	}

	h.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: s.ClientID, Kind: bus.KindCommit})
	metricStops.Inc()
	log.Info("commit requested", zap.Int("forwarded", forwarded), zap.Int("turn_bytes", len(turn)))
	h.deps.Journal.AppendEvent(s.ClientID, "stop", map[string]any{"forwarded": forwarded, "turn_bytes": len(turn)})
}

func (h *Handler) recordUserAudio(clientID, userID string, clip audio.Clip) {
	text := FallbackUserText
	if h.deps.Transcriber != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.TranscribeTimeout)
		t, err := h.deps.Transcriber.Transcribe(ctx, clip)
		cancel()
		switch {
		case err != nil:
			metricTranscribeFailures.Inc()
			h.log.Warn("user audio transcription failed", zap.String("client_id", clientID), zap.Error(err))
		case strings.TrimSpace(t) != "":
			text = strings.TrimSpace(t)
		}
	}
	h.save(clientID, collab.Message{OwnerID: userID, Text: text})
}

func (h *Handler) onText(s *session.Session, text string, log *zap.Logger) {
	if !s.Active() {
		log.Warn("text input for inactive session")
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Debug("empty text input ignored")
		return
	}
	if s.UserID != "" && h.deps.Messages != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.save(s.ClientID, collab.Message{OwnerID: s.UserID, Text: text})
		}()
	}
	h.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: s.ClientID, Kind: bus.KindTextInput,
		Payload: types.TextInput{Text: text}})
}

func (h *Handler) save(clientID string, m collab.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.deps.Messages.SaveMessage(ctx, m); err != nil {
		h.log.Error("persist user message", zap.String("client_id", clientID),
			zap.Error(errors.Join(collab.ErrPersistence, err)))
	}
}

// Close tears the session down: it is marked closed, its VAD timer is
// stopped, the upstream is told to clean up and the registry forgets it.
// Later calls for the same client are no-ops.
func (h *Handler) Close(clientID string) {
	s := h.reg.Get(clientID)
	if s == nil || !s.Close() {
		return
	}
	h.bus.Publish(bus.Event{Topic: bus.TopicUpstream, ClientID: clientID, Kind: bus.KindCleanup})
	h.reg.Remove(clientID)
	h.deps.Journal.AppendEvent(clientID, "session_closed", nil)
	h.log.Info("session closed", zap.String("client_id", clientID))

	h.mu.Lock()
	c := h.sockets[clientID]
	delete(h.sockets, clientID)
	h.mu.Unlock()
	if c != nil {
		// the reader may still be blocked on this socket
		go c.Close(ws.StatusNormalClosure, "session ended")
	}
}

// CloseAll tears down every live session. Used on shutdown, since hijacked
// sockets outlive http.Server.Shutdown.
func (h *Handler) CloseAll() int {
	ids := h.reg.IDs()
	for _, id := range ids {
		h.Close(id)
	}
	return len(ids)
}
