package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/collab"
)

func TestTranscribeSendsClip(t *testing.T) {
	var gotPath, gotModel, gotName, gotAuth string
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")
		if f, hdr, err := r.FormFile("file"); assert.NoError(t, err) {
			gotName = hdr.Filename
			gotBytes, _ = io.ReadAll(f)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello world "}`))
	}))
	defer srv.Close()

	w := NewWhisper("sk-test", Options{BaseURL: srv.URL + "/v1/"}, nil)
	clip := audio.ClipFor("pcm16", make([]byte, 320), 16000)
	text, err := w.Transcribe(context.Background(), clip)
	require.NoError(t, err)

	assert.Equal(t, "hello world", text)
	assert.Equal(t, "/v1/audio/transcriptions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, DefaultModel, gotModel)
	assert.Equal(t, "clip.wav", gotName)
	assert.Len(t, gotBytes, 44+320)
}

func TestTranscribeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad audio","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	w := NewWhisper("sk-test", Options{BaseURL: srv.URL + "/v1/"}, nil)
	_, err := w.Transcribe(context.Background(), audio.ClipFor("pcm16", make([]byte, 32), 16000))
	assert.ErrorIs(t, err, collab.ErrTranscription)

	_, err = w.Transcribe(context.Background(), audio.Clip{})
	assert.ErrorIs(t, err, collab.ErrTranscription)
}

func TestEmptyTranscriptIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	w := NewWhisper("sk-test", Options{BaseURL: srv.URL + "/v1/"}, nil)
	_, err := w.Transcribe(context.Background(), audio.ClipFor("g711_ulaw", []byte{1, 2, 3}, 8000))
	assert.ErrorIs(t, err, collab.ErrTranscription)
}
