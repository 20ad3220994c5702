package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/bus"
	"yuzu/voicegw/internal/collab"
	"yuzu/voicegw/internal/session"
	"yuzu/voicegw/internal/types"
)

type recordSender struct {
	mu   sync.Mutex
	msgs []types.ServerMessage
}

func (r *recordSender) SendJSON(_ context.Context, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, v.(types.ServerMessage))
	return nil
}

func (r *recordSender) all() []types.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ServerMessage(nil), r.msgs...)
}

func (r *recordSender) audio() []string {
	var out []string
	for _, m := range r.all() {
		if m.Type == "response_audio_base64" {
			out = append(out, m.Audio)
		}
	}
	return out
}

type fakeTranscriber struct {
	text  string
	err   error
	mu    sync.Mutex
	clips []audio.Clip
}

func (f *fakeTranscriber) Transcribe(_ context.Context, c audio.Clip) (string, error) {
	f.mu.Lock()
	f.clips = append(f.clips, c)
	f.mu.Unlock()
	return f.text, f.err
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []collab.Message
	err  error
}

func (f *fakeMessages) SaveMessage(_ context.Context, m collab.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return f.err
}

type countCloser struct {
	mu  sync.Mutex
	ids []string
}

func (c *countCloser) Close(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

type fixture struct {
	bus    *bus.Bus
	reg    *session.Registry
	router *Router
	out    *recordSender
	tr     *fakeTranscriber
	msgs   *fakeMessages
	sess   *session.Session
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	f := &fixture{
		bus:  bus.New(nil),
		reg:  session.NewRegistry(),
		out:  &recordSender{},
		tr:   &fakeTranscriber{},
		msgs: &fakeMessages{},
	}
	f.router = New(f.bus, f.reg, f.tr, f.msgs, nil, Config{}, nil)
	f.sess = session.New(session.Params{ClientID: "c1", UserID: userID}, nil, f.out)
	f.sess.Activate()
	require.NoError(t, f.reg.Add(f.sess))
	return f
}

func (f *fixture) publish(kind bus.Kind, payload any) {
	f.bus.Publish(bus.Event{Topic: bus.TopicRouter, ClientID: "c1", Kind: kind, Payload: payload})
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.bus.Drain(ctx))
	f.router.Wait()
}

func pcmChunk(n int) string {
	s, _ := audio.EncodeBinary(make([]byte, n))
	return s
}

func TestAudioPassesWhenUserSilent(t *testing.T) {
	f := newFixture(t, "")
	f.publish(bus.KindAudioDelta, types.Delta{Delta: "a1"})
	f.publish(bus.KindAudioDelta, types.Delta{Delta: "a2"})
	f.settle(t)
	assert.Equal(t, []string{"a1", "a2"}, f.out.audio())
}

func TestAudioWithheldWhileSpeakingThenReleasedInOrder(t *testing.T) {
	f := newFixture(t, "")
	f.sess.Do(func(m *session.Mutable) { m.Gate.OnSpeechStart(1) })

	f.publish(bus.KindAudioDelta, types.Delta{Delta: "a1"})
	f.publish(bus.KindAudioDelta, types.Delta{Delta: "a2"})
	f.settle(t)
	assert.Empty(t, f.out.audio(), "nothing reaches the client while the user speaks")

	f.publish(bus.KindSpeechStopped, types.SpeechStopped{Spurt: 1})
	f.publish(bus.KindAudioDelta, types.Delta{Delta: "a3"})
	f.settle(t)
	assert.Equal(t, []string{"a1", "a2", "a3"}, f.out.audio())
}

func TestStaleSpeechStopKeepsAudioWithheld(t *testing.T) {
	f := newFixture(t, "")
	f.sess.Do(func(m *session.Mutable) { m.Gate.OnSpeechStart(2) })
	f.publish(bus.KindAudioDelta, types.Delta{Delta: "a1"})
	f.publish(bus.KindSpeechStopped, types.SpeechStopped{Spurt: 1})
	f.settle(t)
	assert.Empty(t, f.out.audio())
}

func TestDeltasForwarded(t *testing.T) {
	f := newFixture(t, "")
	f.publish(bus.KindReady, types.Ready{Model: "m", Voice: "alloy"})
	f.publish(bus.KindTextDelta, types.Delta{Delta: "Hel"})
	f.publish(bus.KindTranscriptDelta, types.Delta{Delta: "lo"})
	f.publish(bus.KindError, types.UpstreamError{Message: "bad", Err: collab.ErrUpstreamProtocol})
	f.settle(t)

	msgs := f.out.all()
	require.Len(t, msgs, 4)
	assert.Equal(t, types.ServerMessage{Type: "ready", Model: "m", Voice: "alloy"}, msgs[0])
	assert.Equal(t, "Hel", msgs[1].Delta)
	assert.Equal(t, "lo", msgs[2].Delta)
	assert.Equal(t, types.ServerMessage{Type: "error", Message: "bad"}, msgs[3])
}

func TestAudioOnlyResponseTranscribed(t *testing.T) {
	f := newFixture(t, "u1")
	f.tr.text = "hello there"
	f.publish(bus.KindAudioDelta, types.Delta{Delta: pcmChunk(480)})
	f.publish(bus.KindAudioDelta, types.Delta{Delta: pcmChunk(480)})
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"type":"response.done","response":{"output":[]}}`)})
	f.settle(t)

	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, collab.Message{OwnerID: "u1", Text: "hello there", IsAI: true}, f.msgs.msgs[0])
	require.Len(t, f.tr.clips, 1)
	assert.Equal(t, "audio/wav", f.tr.clips[0].ContentType)
	assert.Len(t, f.tr.clips[0].Data, 44+960)

	last := f.out.all()[len(f.out.all())-1]
	assert.Equal(t, "response_done", last.Type)
}

func TestAudioOnlyResponseTranscriptionFails(t *testing.T) {
	f := newFixture(t, "u1")
	f.tr.err = errors.New("whisper down")
	f.publish(bus.KindAudioDelta, types.Delta{Delta: pcmChunk(480)})
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"type":"response.done"}`)})
	f.settle(t)

	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, FallbackAIText, f.msgs.msgs[0].Text)
	assert.True(t, f.msgs.msgs[0].IsAI)
}

func TestResponseTextPreferredOverAudio(t *testing.T) {
	f := newFixture(t, "u1")
	f.publish(bus.KindAudioDelta, types.Delta{Delta: pcmChunk(480)})
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(
		`{"type":"response.done","response":{"output":[{"content":[{"type":"audio","transcript":"from transcript"}]}]}}`)})
	f.settle(t)

	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, "from transcript", f.msgs.msgs[0].Text)
	assert.Empty(t, f.tr.clips)
}

func TestTranscriptDeltasUsedWhenBodyEmpty(t *testing.T) {
	f := newFixture(t, "u1")
	f.publish(bus.KindTranscriptDelta, types.Delta{Delta: "good "})
	f.publish(bus.KindTranscriptDelta, types.Delta{Delta: "morning"})
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"type":"response.done","response":{}}`)})
	f.settle(t)

	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, "good morning", f.msgs.msgs[0].Text)

	// accumulators reset per response
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"type":"response.done"}`)})
	f.settle(t)
	require.Len(t, f.msgs.msgs, 2)
	assert.Equal(t, FallbackAIText, f.msgs.msgs[1].Text)
}

func TestAnonymousSessionNotPersisted(t *testing.T) {
	f := newFixture(t, "")
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"response":{"output_text":"hi"}}`)})
	f.settle(t)
	assert.Empty(t, f.msgs.msgs)
	assert.Equal(t, "response_done", f.out.all()[0].Type)
}

func TestPersistenceFailureIsContained(t *testing.T) {
	f := newFixture(t, "u1")
	f.msgs.err = errors.New("db down")
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"response":{"text":"hi"}}`)})
	f.publish(bus.KindTextDelta, types.Delta{Delta: "next"})
	f.settle(t)
	msgs := f.out.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "next", msgs[1].Delta)
}

func TestEndedClosesSession(t *testing.T) {
	f := newFixture(t, "")
	c := &countCloser{}
	f.router.SetCloser(c)
	f.publish(bus.KindEnded, nil)
	f.settle(t)

	assert.Equal(t, "end", f.out.all()[0].Type)
	assert.Equal(t, []string{"c1"}, c.ids)
}

func TestUnknownSessionDropped(t *testing.T) {
	f := newFixture(t, "")
	f.bus.Publish(bus.Event{Topic: bus.TopicRouter, ClientID: "ghost", Kind: bus.KindAudioDelta, Payload: types.Delta{Delta: "x"}})
	f.settle(t)
	assert.Empty(t, f.out.all())
}

func doneWithEmbeddedAudio(b64 string) json.RawMessage {
	return json.RawMessage(`{"type":"response.done","response":{"output":[{"content":[{"type":"audio","audio":"` + b64 + `"}]}]}}`)
}

func TestEmbeddedAudioResponseTranscribed(t *testing.T) {
	f := newFixture(t, "u1")
	f.tr.text = "hello there"
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: doneWithEmbeddedAudio(pcmChunk(480))})
	f.settle(t)

	require.Len(t, f.tr.clips, 1)
	assert.Equal(t, "audio/wav", f.tr.clips[0].ContentType)
	assert.Len(t, f.tr.clips[0].Data, 44+480)
	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, collab.Message{OwnerID: "u1", Text: "hello there", IsAI: true}, f.msgs.msgs[0])
}

func TestEmbeddedAudioTranscriptionFails(t *testing.T) {
	f := newFixture(t, "u1")
	f.tr.err = errors.New("whisper down")
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: json.RawMessage(`{"response":{"audio":"` + pcmChunk(320) + `"}}`)})
	f.settle(t)

	require.Len(t, f.tr.clips, 1)
	require.Len(t, f.msgs.msgs, 1)
	assert.Equal(t, FallbackAIText, f.msgs.msgs[0].Text)
}

func TestStreamedAudioPreferredOverEmbedded(t *testing.T) {
	f := newFixture(t, "u1")
	f.tr.text = "streamed"
	f.publish(bus.KindAudioDelta, types.Delta{Delta: pcmChunk(960)})
	f.publish(bus.KindResponseDone, types.ResponseDone{Raw: doneWithEmbeddedAudio(pcmChunk(480))})
	f.settle(t)

	require.Len(t, f.tr.clips, 1)
	assert.Len(t, f.tr.clips[0].Data, 44+960)
}

func TestExtractAudio(t *testing.T) {
	cases := []struct {
		raw    string
		chunks []string
		src    string
	}{
		{`{"response":{"audio":"QUJD"}}`, []string{"QUJD"}, "response.audio"},
		{`{"response":{"output":[{"content":[{"type":"audio","audio":"QQ=="}]},{"content":[{"type":"audio","audio":"Qg=="}]}]}}`, []string{"QQ==", "Qg=="}, "response.output.content.audio"},
		{`{"response":{"output":[{"content":[{"type":"audio","transcript":"hi"}]}]}}`, nil, ""},
		{`not json`, nil, ""},
	}
	for _, tc := range cases {
		chunks, src := ExtractAudio(json.RawMessage(tc.raw))
		assert.Equal(t, tc.chunks, chunks, tc.raw)
		assert.Equal(t, tc.src, src, tc.raw)
	}
}

func TestExtractText(t *testing.T) {
	cases := []struct {
		raw, text, src string
	}{
		{`{"response":{"output_text":"a","text":"b"}}`, "a", "response.output_text"},
		{`{"response":{"text":"b","transcript":"c"}}`, "b", "response.text"},
		{`{"response":{"transcript":"c"}}`, "c", "response.transcript"},
		{`{"response":{"output":[{"content":[{"type":"audio","transcript":"d1"},{"type":"audio","transcript":"d2"}]}]}}`, "d1 d2", "response.output.content.transcript"},
		{`{"response":{"output":[{"content":[{"type":"text","text":"e1"}]},{"content":[{"type":"output_text","text":"e2"},{"type":"other","text":"no"}]}]}}`, "e1 e2", "response.output.content.text"},
		{`{"response":{"output_text":"   "}}`, "", ""},
		{`{}`, "", ""},
		{`not json`, "", ""},
	}
	for _, tc := range cases {
		text, src := ExtractText(json.RawMessage(tc.raw))
		assert.Equal(t, tc.text, text, tc.raw)
		assert.Equal(t, tc.src, src, tc.raw)
	}
}
