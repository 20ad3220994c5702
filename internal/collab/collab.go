// Package collab defines the contracts the gateway needs from the outside
// world and the error kinds they report.
package collab

import (
	"context"
	"errors"

	"yuzu/voicegw/internal/audio"
)

var (
	ErrAuth             = errors.New("authentication failed")
	ErrModeNotFound     = errors.New("mode not found")
	ErrUpstreamConnect  = errors.New("upstream connect failed")
	ErrUpstreamProtocol = errors.New("upstream protocol error")
	ErrTranscription    = errors.New("transcription failed")
	ErrPersistence      = errors.New("persistence failed")
)

// Authenticator maps a bearer token to a principal id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type Mode struct {
	ID           string
	Instructions string
	Temperature  *float64
	Role         string
}

type ModeResolver interface {
	ResolveMode(ctx context.Context, id string) (Mode, error)
}

// Settings are operator-level defaults. Zero fields mean "not set".
type Settings struct {
	Model     string
	MaxTokens int
}

type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

type Message struct {
	OwnerID string
	Text    string
	IsAI    bool
}

type MessageStore interface {
	SaveMessage(ctx context.Context, m Message) error
}

// Journal records diagnostic events per session.
type Journal interface {
	AppendEvent(clientID, typ string, payload map[string]any)
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) AppendEvent(string, string, map[string]any) {}
