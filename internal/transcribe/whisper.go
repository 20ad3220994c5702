// Package transcribe turns recorded turns into text with the OpenAI
// transcription endpoint.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/collab"
)

const DefaultModel = "whisper-1"

type Options struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	MaxRetries int
}

// Whisper implements collab.Transcriber.
type Whisper struct {
	client openai.Client
	model  string
	log    *zap.Logger
}

func NewWhisper(apiKey string, opts Options, log *zap.Logger) *Whisper {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Whisper{
		client: openai.NewClient(reqOpts...),
		model:  opts.Model,
		log:    log.Named("transcribe"),
	}
}

func (w *Whisper) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("%w: empty clip", collab.ErrTranscription)
	}
	start := time.Now()
	res, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(clip.Data), clip.Filename, clip.ContentType),
		Model: openai.AudioModel(w.model),
	})
	metricLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metricRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %w", collab.ErrTranscription, err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		metricRequests.WithLabelValues("empty").Inc()
		return "", fmt.Errorf("%w: empty transcript", collab.ErrTranscription)
	}
	metricRequests.WithLabelValues("ok").Inc()
	w.log.Debug("transcribed clip", zap.String("file", clip.Filename), zap.Int("bytes", len(clip.Data)), zap.Int("chars", len(text)))
	return text, nil
}
