package upstream

import (
	"encoding/json"
	"fmt"

	"yuzu/voicegw/internal/collab"
)

type FrameKind int

const (
	FrameIgnored FrameKind = iota
	FrameTextDelta
	FrameTranscriptDelta
	FrameAudioDelta
	FrameResponseDone
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameTextDelta:
		return "text_delta"
	case FrameTranscriptDelta:
		return "transcript_delta"
	case FrameAudioDelta:
		return "audio_delta"
	case FrameResponseDone:
		return "response_done"
	case FrameError:
		return "error"
	}
	return "ignored"
}

// frameKinds maps every recognised server event type. The older beta names
// and the GA output_* names are both accepted.
var frameKinds = map[string]FrameKind{
	"response.text.delta":                    FrameTextDelta,
	"response.output_text.delta":             FrameTextDelta,
	"response.audio_transcript.delta":        FrameTranscriptDelta,
	"response.output_audio_transcript.delta": FrameTranscriptDelta,
	"response.audio.delta":                   FrameAudioDelta,
	"response.output_audio.delta":            FrameAudioDelta,
	"response.done":                          FrameResponseDone,
	"response.completed":                     FrameResponseDone,
	"error":                                  FrameError,
}

// Frame is one parsed server event.
type Frame struct {
	Type    string
	Kind    FrameKind
	Delta   string
	Message string // error text for FrameError
	Raw     json.RawMessage
}

type wireFrame struct {
	Type  string          `json:"type"`
	Delta string          `json:"delta"`
	Error json.RawMessage `json:"error"`
}

// ParseFrame classifies a server event. Unknown types come back as
// FrameIgnored; anything that is not a JSON object is a protocol error.
func ParseFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", collab.ErrUpstreamProtocol, err)
	}
	f := Frame{Type: w.Type, Kind: frameKinds[w.Type], Raw: json.RawMessage(append([]byte(nil), data...))}
	switch f.Kind {
	case FrameTextDelta, FrameTranscriptDelta, FrameAudioDelta:
		f.Delta = w.Delta
	case FrameError:
		f.Message = errorMessage(w.Error)
	}
	return f, nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "upstream error"
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		return s
	}
	return string(raw)
}

// Outbound frames.

type sessionConfig struct {
	Modalities              []string  `json:"modalities"`
	Voice                   string    `json:"voice"`
	InputAudioFormat        string    `json:"input_audio_format"`
	OutputAudioFormat       string    `json:"output_audio_format"`
	Temperature             float64   `json:"temperature,omitempty"`
	Instructions            string    `json:"instructions,omitempty"`
	MaxResponseOutputTokens int       `json:"max_response_output_tokens,omitempty"`
	TurnDetection           *struct{} `json:"turn_detection"` // null: the gateway commits turns itself
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type appendFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type typeOnly struct {
	Type string `json:"type"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

func handshakeFrame(c *conn) sessionUpdate {
	return sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:              []string{"text", "audio"},
			Voice:                   c.voice,
			InputAudioFormat:        c.inputFormat,
			OutputAudioFormat:       c.outputFormat,
			Temperature:             c.temperature,
			Instructions:            c.instructions,
			MaxResponseOutputTokens: c.maxTokens,
		},
	}
}

func textItemFrame(text string) itemCreate {
	return itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	}
}

var (
	commitFrame         = typeOnly{Type: "input_audio_buffer.commit"}
	responseCreateFrame = typeOnly{Type: "response.create"}
)
