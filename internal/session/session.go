// Package session holds the per-connection state shared by the ingress
// reader, the response router and the VAD timer.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"yuzu/voicegw/internal/floor"
	"yuzu/voicegw/internal/types"
	"yuzu/voicegw/internal/vad"
)

var ErrClosed = errors.New("session closed")

type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Sender writes one JSON message to the client socket.
type Sender interface {
	SendJSON(ctx context.Context, v any) error
}

type Params struct {
	ClientID        string
	UserID          string
	ModeID          string
	InputFormat     string
	InputSampleRate int
	Model           string
	Voice           string
}

// Mutable is the state guarded by the session lock. Only touch it inside Do.
type Mutable struct {
	State     State
	Turn      [][]byte // raw decoded client audio for the current turn
	Forwarded int      // chunks sent upstream this turn
	Gate      *floor.Gate

	// current AI response, for the transcription fallback
	ResponseAudio      []string
	ResponseTranscript []string
}

// TurnBytes concatenates the turn buffer.
func (m *Mutable) TurnBytes() []byte {
	n := 0
	for _, c := range m.Turn {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range m.Turn {
		out = append(out, c...)
	}
	return out
}

// ResetTurn clears the turn buffer and the forwarded count.
func (m *Mutable) ResetTurn() {
	m.Turn = nil
	m.Forwarded = 0
}

// ResetResponse clears the AI response accumulators.
func (m *Mutable) ResetResponse() {
	m.ResponseAudio = nil
	m.ResponseTranscript = nil
}

type Session struct {
	ClientID        string
	UserID          string
	ModeID          string
	InputFormat     string
	InputSampleRate int
	Model           string
	Voice           string
	CreatedAt       time.Time

	det *vad.Detector
	out Sender

	mu sync.Mutex
	m  Mutable

	sendMu    sync.Mutex
	closeOnce sync.Once
}

func New(p Params, det *vad.Detector, out Sender) *Session {
	return &Session{
		ClientID:        p.ClientID,
		UserID:          p.UserID,
		ModeID:          p.ModeID,
		InputFormat:     p.InputFormat,
		InputSampleRate: p.InputSampleRate,
		Model:           p.Model,
		Voice:           p.Voice,
		CreatedAt:       time.Now().UTC(),
		det:             det,
		out:             out,
		m:               Mutable{State: StateConnecting, Gate: floor.New()},
	}
}

// Do runs fn with the session lock held.
func (s *Session) Do(fn func(m *Mutable)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.m)
}

func (s *Session) Detector() *vad.Detector { return s.det }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.State
}

// Active reports whether the session has been activated and not closed.
func (s *Session) Active() bool { return s.State() == StateActive }

// Activate moves Connecting to Active. It is a no-op for any other state.
func (s *Session) Activate() {
	s.Do(func(m *Mutable) {
		if m.State == StateConnecting {
			m.State = StateActive
		}
	})
}

// Send writes v to the client unless the session is closed. Writes are
// serialized so messages from different goroutines never interleave.
func (s *Session) Send(ctx context.Context, v any) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	if s.out == nil {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.out.SendJSON(ctx, v)
}

// Close marks the session closed, drops buffered audio and stops the VAD
// timer. It reports true only for the call that actually closed it.
func (s *Session) Close() bool {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		s.Do(func(m *Mutable) {
			m.State = StateClosed
			m.ResetTurn()
			m.ResetResponse()
			m.Gate.Reset()
		})
		if s.det != nil {
			s.det.Stop()
		}
	})
	return closed
}

func (s *Session) Info() types.SessionInfo {
	info := types.SessionInfo{
		ClientID:  s.ClientID,
		UserID:    s.UserID,
		ModeID:    s.ModeID,
		CreatedAt: s.CreatedAt,
		State:     s.State().String(),
	}
	if s.det != nil {
		info.Speaking = s.det.Speaking()
		if at := s.det.LastSpeech(); !at.IsZero() {
			info.LastSpeechAt = &at
		}
	}
	return info
}
