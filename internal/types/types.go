package types

import (
	"encoding/json"
	"time"
)

// Event is one entry of a session's diagnostic journal.
type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SessionInfo is the read-only view of a live session served by the API.
type SessionInfo struct {
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	ModeID    string    `json:"mode_id,omitempty"`
	State     string    `json:"state"`
	Speaking  bool      `json:"is_speaking"`
	CreatedAt time.Time `json:"created_at"`
	// LastSpeechAt is nil until the first speech frame.
	LastSpeechAt *time.Time `json:"last_speech_at,omitempty"`
}

// InitRequest asks the upstream manager to open a model connection.
type InitRequest struct {
	Model        string
	Voice        string
	Temperature  float64
	Instructions string
	MaxTokens    int
	InputFormat  string
	OutputFormat string
}

// AudioChunk carries base64 PCM16 at the upstream rate.
type AudioChunk struct {
	Audio string
}

type TextInput struct {
	Text string
}

type Ready struct {
	Model string
	Voice string
}

type Delta struct {
	Delta string
}

type ResponseDone struct {
	Raw json.RawMessage
}

type UpstreamError struct {
	Message string
	Err     error
}

// SpeechStopped is published when the VAD hangover for spurt elapses.
type SpeechStopped struct {
	Spurt uint64
}

// ClientMessage is a JSON text frame sent by the browser.
type ClientMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ServerMessage is a JSON text frame sent to the browser. Only the fields
// relevant to Type are set.
type ServerMessage struct {
	Type       string          `json:"type"`
	Model      string          `json:"model,omitempty"`
	Voice      string          `json:"voice,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Audio      string          `json:"audio,omitempty"`
	Message    string          `json:"message,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	IsSpeaking *bool           `json:"isSpeaking,omitempty"`
	RMS        *float64        `json:"rms,omitempty"`
	Threshold  *float64        `json:"threshold,omitempty"`
}
