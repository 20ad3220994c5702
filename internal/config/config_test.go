package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "OPENAI_REALTIME_MODEL", "OPENAI_REALTIME_VOICE",
		"OPENAI_REALTIME_INPUT_SAMPLE_RATE", "VAD_THRESHOLD", "VAD_HANGOVER_MS", "UPSTREAM_SAMPLE_RATE"} {
		// empty counts as unset for viper
		t.Setenv(k, "")
	}

	c := Load()

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, "info", c.Server.LogLevel)
	assert.Equal(t, "gpt-4o-realtime-preview", c.OpenAI.Model)
	assert.Equal(t, "alloy", c.OpenAI.Voice)
	assert.Equal(t, "pcm16", c.OpenAI.InputFormat)
	assert.Equal(t, 16000, c.OpenAI.InputSampleRate)
	assert.Equal(t, 2000, c.OpenAI.MaxTokens)
	assert.InDelta(t, 0.015, c.VAD.Threshold, 1e-9)
	assert.Equal(t, 300, c.VAD.HangoverMs)
	assert.Equal(t, 24000, c.Upstream.SampleRate)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("OPENAI_REALTIME_VOICE", "verse")
	t.Setenv("VAD_HANGOVER_MS", "450")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c := Load()

	assert.Equal(t, "9000", c.Server.Port)
	assert.Equal(t, "verse", c.OpenAI.Voice)
	assert.Equal(t, 450, c.VAD.HangoverMs)
	assert.Equal(t, "sk-test", c.OpenAI.APIKey)
	assert.NotContains(t, c.String(), "sk-test")
}
