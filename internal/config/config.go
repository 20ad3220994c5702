package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port           string
		LogLevel       string
		LogFormat      string
		GRPCHealthAddr string
	}
	OpenAI struct {
		APIKey          string
		BaseURL         string
		RealtimeURL     string
		Model           string
		Voice           string
		InputFormat     string
		InputSampleRate int
		OutputFormat    string
		Temperature     float64
		MaxTokens       int
		TranscribeModel string
	}
	Auth struct {
		JWTSecret string
	}
	Database struct {
		URL string
	}
	VAD struct {
		Threshold  float64
		HangoverMs int
	}
	Upstream struct {
		SampleRate int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "console")
	v.SetDefault("server.grpc_health_addr", ":9091")

	v.SetDefault("openai.realtime_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("openai.model", "gpt-4o-realtime-preview")
	v.SetDefault("openai.voice", "alloy")
	v.SetDefault("openai.input_format", "pcm16")
	v.SetDefault("openai.input_sample_rate", 16000)
	v.SetDefault("openai.output_format", "pcm16")
	v.SetDefault("openai.temperature", 0.8)
	v.SetDefault("openai.max_tokens", 2000)
	v.SetDefault("openai.transcribe_model", "whisper-1")

	v.SetDefault("vad.threshold", 0.015)
	v.SetDefault("vad.hangover_ms", 300)
	v.SetDefault("upstream.sample_rate", 24000)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.log_format", "LOG_FORMAT")
	v.BindEnv("server.grpc_health_addr", "GRPC_HEALTH_ADDR")

	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("openai.realtime_url", "OPENAI_REALTIME_URL")
	v.BindEnv("openai.model", "OPENAI_REALTIME_MODEL")
	v.BindEnv("openai.voice", "OPENAI_REALTIME_VOICE")
	v.BindEnv("openai.input_format", "OPENAI_REALTIME_INPUT_FORMAT")
	v.BindEnv("openai.input_sample_rate", "OPENAI_REALTIME_INPUT_SAMPLE_RATE")
	v.BindEnv("openai.output_format", "OPENAI_REALTIME_OUTPUT_FORMAT")
	v.BindEnv("openai.temperature", "OPENAI_TEMPERATURE")
	v.BindEnv("openai.max_tokens", "OPENAI_MAX_TOKENS")
	v.BindEnv("openai.transcribe_model", "OPENAI_TRANSCRIBE_MODEL")

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.url", "DATABASE_URL")

	v.BindEnv("vad.threshold", "VAD_THRESHOLD")
	v.BindEnv("vad.hangover_ms", "VAD_HANGOVER_MS")
	v.BindEnv("upstream.sample_rate", "UPSTREAM_SAMPLE_RATE")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.LogFormat = v.GetString("server.log_format")
	c.Server.GRPCHealthAddr = v.GetString("server.grpc_health_addr")

	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.BaseURL = v.GetString("openai.base_url")
	c.OpenAI.RealtimeURL = v.GetString("openai.realtime_url")
	c.OpenAI.Model = v.GetString("openai.model")
	c.OpenAI.Voice = v.GetString("openai.voice")
	c.OpenAI.InputFormat = v.GetString("openai.input_format")
	c.OpenAI.InputSampleRate = v.GetInt("openai.input_sample_rate")
	c.OpenAI.OutputFormat = v.GetString("openai.output_format")
	c.OpenAI.Temperature = v.GetFloat64("openai.temperature")
	c.OpenAI.MaxTokens = v.GetInt("openai.max_tokens")
	c.OpenAI.TranscribeModel = v.GetString("openai.transcribe_model")

	c.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	c.Database.URL = v.GetString("database.url")

	c.VAD.Threshold = v.GetFloat64("vad.threshold")
	c.VAD.HangoverMs = v.GetInt("vad.hangover_ms")
	c.Upstream.SampleRate = v.GetInt("upstream.sample_rate")

	return c
}

// String is safe to log: secrets are reported by length only.
func (c Config) String() string {
	return fmt.Sprintf("port=%s model=%s voice=%s input=%s@%d openai_key_len=%d jwt=%t db=%t",
		c.Server.Port, c.OpenAI.Model, c.OpenAI.Voice, c.OpenAI.InputFormat, c.OpenAI.InputSampleRate,
		len(c.OpenAI.APIKey), c.Auth.JWTSecret != "", c.Database.URL != "")
}

func toString(v any) string { return fmt.Sprint(v) }
