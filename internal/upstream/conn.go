package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the manager uses.
type Socket interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens an upstream socket for a model.
type Dialer interface {
	Dial(ctx context.Context, model string) (Socket, error)
}

// GorillaDialer connects to the OpenAI Realtime endpoint.
type GorillaDialer struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
}

func (d GorillaDialer) Dial(ctx context.Context, model string) (Socket, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return ws, nil
}

// conn is the manager's record of one client's upstream connection. All
// fields are guarded by Manager.mu; socket writes happen only on the
// client's mailbox goroutine.
type conn struct {
	clientID  string
	sock      Socket
	connected bool
	closing   bool
	createdAt time.Time

	model        string
	voice        string
	temperature  float64
	instructions string
	maxTokens    int
	inputFormat  string
	outputFormat string

	pending []queued // input received before the socket opened, in arrival order
	sent    int      // appends since the last commit
	done    chan struct{}
	once    sync.Once
}

// queued is one held input item: a base64 audio chunk or a text turn.
type queued struct {
	audio string
	text  string
}

func keepAlive(sock Socket, every time.Duration, done <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
