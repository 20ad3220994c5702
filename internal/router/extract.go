package router

import (
	"encoding/json"
	"strings"
)

type contentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Audio      string `json:"audio"`
}

type outputItem struct {
	Content []contentPart `json:"content"`
}

type responseBody struct {
	OutputText string       `json:"output_text"`
	Text       string       `json:"text"`
	Transcript string       `json:"transcript"`
	Audio      string       `json:"audio"`
	Output     []outputItem `json:"output"`
}

type doneFrame struct {
	Response responseBody `json:"response"`
}

type extractor struct {
	name string
	fn   func(*responseBody) string
}

// extractors are tried in order; the first non-blank result wins.
var extractors = []extractor{
	{"response.output_text", func(r *responseBody) string { return r.OutputText }},
	{"response.text", func(r *responseBody) string { return r.Text }},
	{"response.transcript", func(r *responseBody) string { return r.Transcript }},
	{"response.output.content.transcript", func(r *responseBody) string {
		return joinParts(r, func(p contentPart) (string, bool) { return p.Transcript, p.Transcript != "" })
	}},
	{"response.output.content.text", func(r *responseBody) string {
		return joinParts(r, func(p contentPart) (string, bool) {
			return p.Text, p.Type == "text" || p.Type == "output_text"
		})
	}},
}

// audioExtractors find base64 audio embedded in a completed response.
var audioExtractors = []struct {
	name string
	fn   func(*responseBody) []string
}{
	{"response.audio", func(r *responseBody) []string {
		if strings.TrimSpace(r.Audio) == "" {
			return nil
		}
		return []string{r.Audio}
	}},
	{"response.output.content.audio", func(r *responseBody) []string {
		var out []string
		for _, item := range r.Output {
			for _, p := range item.Content {
				if strings.TrimSpace(p.Audio) != "" {
					out = append(out, p.Audio)
				}
			}
		}
		return out
	}},
}

func joinParts(r *responseBody, pick func(contentPart) (string, bool)) string {
	var parts []string
	for _, item := range r.Output {
		for _, p := range item.Content {
			if s, ok := pick(p); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// ExtractText pulls the assistant's text out of a completed response frame.
// It returns the text and the name of the extractor that produced it, or
// two empty strings.
func ExtractText(raw json.RawMessage) (string, string) {
	if len(raw) == 0 {
		return "", ""
	}
	var f doneFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", ""
	}
	for _, x := range extractors {
		if s := strings.TrimSpace(x.fn(&f.Response)); s != "" {
			return s, x.name
		}
	}
	return "", ""
}

// ExtractAudio returns the base64 audio chunks carried inside a completed
// response frame, in output order, and the extractor that found them.
func ExtractAudio(raw json.RawMessage) ([]string, string) {
	if len(raw) == 0 {
		return nil, ""
	}
	var f doneFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, ""
	}
	for _, x := range audioExtractors {
		if chunks := x.fn(&f.Response); len(chunks) > 0 {
			return chunks, x.name
		}
	}
	return nil, ""
}
