package ingress

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"yuzu/voicegw/internal/collab"
)

// Hard-coded fallbacks, used when neither the query nor the configuration
// supplies a value.
const (
	DefaultVoice       = "alloy"
	DefaultModel       = "gpt-4o-realtime-preview"
	DefaultTemperature = 0.8
	DefaultFormat      = "pcm16"
	DefaultSampleRate  = 16000
	DefaultMaxTokens   = 2000
)

// sessionParams is everything decided at connect time.
type sessionParams struct {
	Voice        string
	Model        string
	Temperature  float64
	MaxTokens    int
	InputFormat  string
	SampleRate   int
	OutputFormat string
	Instructions string
}

// resolveParams applies query > settings/config > fallback. A mode's
// temperature wins over configuration but not over ?temperature=.
func resolveParams(q url.Values, st collab.Settings, mode *collab.Mode, cfg Config) sessionParams {
	p := sessionParams{
		Voice:        pick(q.Get("voice"), cfg.Voice, DefaultVoice),
		Model:        pick(q.Get("model"), st.Model, cfg.Model, DefaultModel),
		InputFormat:  pick(q.Get("format"), cfg.InputFormat, DefaultFormat),
		OutputFormat: pick(cfg.OutputFormat, DefaultFormat),
		MaxTokens:    firstPositive(st.MaxTokens, cfg.MaxTokens, DefaultMaxTokens),
		SampleRate:   firstPositive(atoi(q.Get("sr")), cfg.InputSampleRate, DefaultSampleRate),
	}

	p.Temperature = DefaultTemperature
	if cfg.Temperature > 0 {
		p.Temperature = cfg.Temperature
	}
	if mode != nil {
		p.Instructions = mode.Instructions
		if mode.Temperature != nil {
			p.Temperature = *mode.Temperature
		}
	}
	if t, err := strconv.ParseFloat(q.Get("temperature"), 64); err == nil {
		p.Temperature = t
	}
	return p
}

// tokenFrom reads ?token= first, then the Authorization bearer header.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
