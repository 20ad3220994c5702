// Package router delivers upstream model output to the client and records
// finished AI turns.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/bus"
	"yuzu/voicegw/internal/collab"
	"yuzu/voicegw/internal/session"
	"yuzu/voicegw/internal/types"
)

// FallbackAIText is stored when an AI turn yields no text at all.
const FallbackAIText = "[AI Audio Response]"

// Closer tears a session down. It must be safe to call more than once.
type Closer interface {
	Close(clientID string)
}

type Config struct {
	OutputFormat      string // upstream audio format, picks the clip container
	SampleRate        int    // upstream PCM rate
	TranscribeTimeout time.Duration
	PersistTimeout    time.Duration
}

type Router struct {
	log     *zap.Logger
	reg     *session.Registry
	tr      collab.Transcriber
	msgs    collab.MessageStore
	journal collab.Journal
	cfg     Config

	mu     sync.Mutex
	closer Closer

	wg sync.WaitGroup
}

func New(b *bus.Bus, reg *session.Registry, tr collab.Transcriber, msgs collab.MessageStore, j collab.Journal, cfg Config, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if j == nil {
		j = collab.NopJournal{}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm16"
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	r := &Router{log: log.Named("router"), reg: reg, tr: tr, msgs: msgs, journal: j, cfg: cfg}
	b.Subscribe(bus.TopicRouter, r.handle)
	return r
}

// SetCloser wires the teardown used when the upstream ends.
func (r *Router) SetCloser(c Closer) {
	r.mu.Lock()
	r.closer = c
	r.mu.Unlock()
}

// Wait blocks until background persistence has finished.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) handle(ev bus.Event) {
	s := r.reg.Get(ev.ClientID)
	if s == nil {
		metricDropped.WithLabelValues(string(ev.Kind)).Inc()
		r.log.Warn("no session for upstream event", zap.String("client_id", ev.ClientID), zap.String("kind", string(ev.Kind)))
		return
	}
	metricEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case bus.KindReady:
		p, _ := ev.Payload.(types.Ready)
		r.send(s, types.ServerMessage{Type: "ready", Model: p.Model, Voice: p.Voice})
		r.journal.AppendEvent(s.ClientID, "ready", map[string]any{"model": p.Model, "voice": p.Voice})

	case bus.KindTextDelta:
		p, _ := ev.Payload.(types.Delta)
		r.send(s, types.ServerMessage{Type: "response_text", Delta: p.Delta})

	case bus.KindTranscriptDelta:
		p, _ := ev.Payload.(types.Delta)
		s.Do(func(m *session.Mutable) { m.ResponseTranscript = append(m.ResponseTranscript, p.Delta) })
		r.send(s, types.ServerMessage{Type: "response_text", Delta: p.Delta})

	case bus.KindAudioDelta:
		p, _ := ev.Payload.(types.Delta)
		var emit bool
		s.Do(func(m *session.Mutable) {
			m.ResponseAudio = append(m.ResponseAudio, p.Delta)
			emit = m.Gate.OnAudio(p.Delta).Emit
		})
		if emit {
			r.send(s, types.ServerMessage{Type: "response_audio_base64", Audio: p.Delta})
		}

	case bus.KindSpeechStopped:
		p, _ := ev.Payload.(types.SpeechStopped)
		var out []string
		s.Do(func(m *session.Mutable) { out = m.Gate.OnSpeechEnd(p.Spurt) })
		for _, chunk := range out {
			r.send(s, types.ServerMessage{Type: "response_audio_base64", Audio: chunk})
		}
		if len(out) > 0 {
			r.log.Debug("released withheld audio", zap.String("client_id", s.ClientID), zap.Int("chunks", len(out)))
			r.journal.AppendEvent(s.ClientID, "withheld_audio_released", map[string]any{"chunks": len(out)})
		}

	case bus.KindResponseDone:
		p, _ := ev.Payload.(types.ResponseDone)
		var chunks, transcript []string
		s.Do(func(m *session.Mutable) {
			chunks, transcript = m.ResponseAudio, m.ResponseTranscript
			m.ResetResponse()
		})
		r.send(s, types.ServerMessage{Type: "response_done", Response: p.Raw})
		r.journal.AppendEvent(s.ClientID, "response_done", map[string]any{"audio_chunks": len(chunks)})
		if s.UserID != "" && r.msgs != nil {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.recordAI(s.ClientID, s.UserID, p, chunks, transcript)
			}()
		}

	case bus.KindError:
		p, _ := ev.Payload.(types.UpstreamError)
		r.log.Error("upstream error", zap.String("client_id", s.ClientID), zap.String("message", p.Message), zap.Error(p.Err))
		r.send(s, types.ServerMessage{Type: "error", Message: p.Message})
		r.journal.AppendEvent(s.ClientID, "error", map[string]any{"message": p.Message})

	case bus.KindEnded:
		r.log.Info("upstream ended", zap.String("client_id", s.ClientID))
		r.send(s, types.ServerMessage{Type: "end"})
		r.mu.Lock()
		c := r.closer
		r.mu.Unlock()
		if c != nil {
			c.Close(s.ClientID)
		}

	default:
		r.log.Debug("unhandled event", zap.String("kind", string(ev.Kind)))
	}
}

func (r *Router) send(s *session.Session, msg types.ServerMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Send(ctx, msg); err != nil {
		r.log.Debug("client send failed", zap.String("client_id", s.ClientID), zap.String("type", msg.Type), zap.Error(err))
	}
}

// aiText resolves the text to store for a finished response: the response
// body first, then streamed transcript deltas, then a transcription of the
// streamed audio (or the audio embedded in the response body), then the
// fixed placeholder.
func (r *Router) aiText(clientID string, done types.ResponseDone, chunks, transcript []string) (string, string) {
	if text, src := ExtractText(done.Raw); text != "" {
		return text, src
	}
	if text := strings.TrimSpace(strings.Join(transcript, "")); text != "" {
		return text, "transcript_deltas"
	}
	src := "transcription"
	if len(chunks) == 0 {
		// nothing streamed; the audio may ride inside response.done
		var from string
		if chunks, from = ExtractAudio(done.Raw); len(chunks) > 0 {
			src = "transcription:" + from
		}
	}
	if len(chunks) == 0 || r.tr == nil {
		return FallbackAIText, "fallback"
	}

	var pcm []byte
	for _, c := range chunks {
		_, raw, err := audio.NormalizeBase64(c)
		if err != nil {
			continue
		}
		pcm = append(pcm, raw...)
	}
	if len(pcm) == 0 {
		return FallbackAIText, "fallback"
	}
	clip := audio.ClipFor(r.cfg.OutputFormat, pcm, r.cfg.SampleRate)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TranscribeTimeout)
	defer cancel()
	text, err := r.tr.Transcribe(ctx, clip)
	if err != nil || strings.TrimSpace(text) == "" {
		metricTranscribeFailures.Inc()
		r.log.Warn("ai audio transcription failed", zap.String("client_id", clientID), zap.Error(err))
		return FallbackAIText, "fallback"
	}
	return strings.TrimSpace(text), src
}

func (r *Router) recordAI(clientID, userID string, done types.ResponseDone, chunks, transcript []string) {
	text, src := r.aiText(clientID, done, chunks, transcript)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()
	err := r.msgs.SaveMessage(ctx, collab.Message{OwnerID: userID, Text: text, IsAI: true})
	if err != nil {
		metricPersistFailures.Inc()
		r.log.Error("persist ai message", zap.String("client_id", clientID),
			zap.Error(fmt.Errorf("%w: %w", collab.ErrPersistence, err)))
		return
	}
	r.log.Info("ai message recorded", zap.String("client_id", clientID), zap.String("source", src))
}
