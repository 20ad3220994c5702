// Command realtime-probe streams an audio file (or a line of text) to a
// running gateway and prints what comes back.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"yuzu/voicegw/internal/audio"
	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/logging"
	"yuzu/voicegw/internal/types"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("url", "ws://localhost:8080/ws/realtime", "gateway realtime endpoint")
	file := flag.String("file", "", "WAV or raw PCM16 file to stream")
	rate := flag.Int("rate", 16000, "sample rate of a raw PCM file")
	text := flag.String("text", "", "send this as input_text instead of audio")
	mode := flag.String("mode", "", "mode id")
	voice := flag.String("voice", "", "voice override")
	user := flag.String("user", "", "mint a token for this user id with JWT_SECRET")
	frame := flag.Duration("frame", 20*time.Millisecond, "audio frame size")
	out := flag.String("out", "", "write response audio to this WAV file")
	outRate := flag.Int("out-rate", 24000, "sample rate of response audio")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	log, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if *file == "" && *text == "" {
		log.Fatal("one of -file or -text is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	u, err := url.Parse(*addr)
	if err != nil {
		log.Fatal("parse url", zap.Error(err))
	}
	q := u.Query()
	if *mode != "" {
		q.Set("mode", *mode)
	}
	if *voice != "" {
		q.Set("voice", *voice)
	}
	if *user != "" {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			log.Fatal("-user needs JWT_SECRET")
		}
		q.Set("token", auth.MustToken(secret, *user, time.Hour))
	}
	q.Set("sr", fmt.Sprint(*rate))

	var pcm []byte
	if *file != "" {
		pcm, *rate, err = load(*file, *rate)
		if err != nil {
			log.Fatal("load audio", zap.String("file", *file), zap.Error(err))
		}
		q.Set("sr", fmt.Sprint(*rate))
	}
	u.RawQuery = q.Encode()

	c, _, err := ws.Dial(ctx, u.String(), nil)
	if err != nil {
		log.Fatal("dial gateway", zap.Error(err))
	}
	defer c.Close(ws.StatusNormalClosure, "probe done")
	c.SetReadLimit(8 << 20)

	// Start receiver goroutine
	done := make(chan []byte, 1)
	go func() { done <- receive(ctx, c, log) }()

	if *text != "" {
		fmt.Printf("[send] input_text %q\n", *text)
		if err := wsjson.Write(ctx, c, types.ClientMessage{Type: "input_text", Text: *text}); err != nil {
			log.Fatal("send text", zap.Error(err))
		}
	} else {
		if err := stream(ctx, c, pcm, *rate, *frame); err != nil {
			log.Fatal("stream audio", zap.Error(err))
		}
		fmt.Printf("[send] %d bytes (%.0f ms) then stop\n", len(pcm), audio.DurationMs(pcm, *rate))
		if err := wsjson.Write(ctx, c, types.ClientMessage{Type: "stop"}); err != nil {
			log.Fatal("send stop", zap.Error(err))
		}
	}

	got := <-done
	fmt.Printf("\n[recv] %d bytes of response audio\n", len(got))
	if *out != "" && len(got) > 0 {
		if err := os.WriteFile(*out, audio.EncodeWAV(got, *outRate), 0o644); err != nil {
			log.Fatal("write output", zap.Error(err))
		}
		fmt.Printf("[recv] wrote %s\n", *out)
	}
	_ = wsjson.Write(ctx, c, types.ClientMessage{Type: "end"})
}

func load(path string, rate int) ([]byte, int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if strings.HasSuffix(strings.ToLower(path), ".wav") {
		return audio.DecodeWAV(b)
	}
	return b, rate, nil
}

// stream sends pcm as binary frames paced at real time.
func stream(ctx context.Context, c *ws.Conn, pcm []byte, rate int, frame time.Duration) error {
	size := int(int64(rate)*int64(frame)/int64(time.Second)) * 2
	if size <= 0 {
		size = 640
	}
	tick := time.NewTicker(frame)
	defer tick.Stop()
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		if err := c.Write(ctx, ws.MessageBinary, pcm[off:end]); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// receive prints server messages until the response completes and returns
// the decoded response audio.
func receive(ctx context.Context, c *ws.Conn, log *zap.Logger) []byte {
	var pcm []byte
	for {
		var m types.ServerMessage
		if err := wsjson.Read(ctx, c, &m); err != nil {
			if !errors.Is(err, context.Canceled) && ws.CloseStatus(err) != ws.StatusNormalClosure {
				log.Warn("read", zap.Error(err))
			}
			return pcm
		}
		switch m.Type {
		case "ready":
			fmt.Printf("[recv] ready model=%s voice=%s\n", m.Model, m.Voice)
		case "vad_state":
			if m.IsSpeaking != nil && m.RMS != nil {
				fmt.Printf("[recv] vad speaking=%t rms=%.4f\n", *m.IsSpeaking, *m.RMS)
			}
		case "response_text":
			fmt.Print(m.Delta)
		case "response_audio_base64":
			b, err := base64.StdEncoding.DecodeString(m.Audio)
			if err != nil {
				log.Warn("bad audio chunk", zap.Error(err))
				continue
			}
			pcm = append(pcm, b...)
		case "response_done":
			fmt.Println("\n[recv] response_done")
			return pcm
		case "error":
			fmt.Printf("\n[recv] error: %s\n", m.Message)
		case "end":
			fmt.Println("\n[recv] end")
			return pcm
		default:
			fmt.Printf("[recv] %s\n", m.Type)
		}
	}
}
