// Package bus carries events between the gateway's components.
//
// Every (topic, client) pair gets its own FIFO mailbox drained by a single
// goroutine: one session's events are handled in publish order and never
// concurrently, while different sessions proceed independently. Publish
// never blocks on a handler.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Topic string

const (
	TopicUpstream Topic = "upstream"
	TopicRouter   Topic = "router"
)

type Kind string

// Upstream-bound kinds.
const (
	KindInit       Kind = "init"
	KindAudioChunk Kind = "audio_chunk"
	KindCommit     Kind = "commit"
	KindTextInput  Kind = "text_input"
	KindEndSession Kind = "end_session"
	KindCleanup    Kind = "cleanup"
)

// Router-bound kinds.
const (
	KindReady           Kind = "ready"
	KindTextDelta       Kind = "text_delta"
	KindTranscriptDelta Kind = "transcript_delta"
	KindAudioDelta      Kind = "audio_delta"
	KindResponseDone    Kind = "response_done"
	KindError           Kind = "error"
	KindEnded           Kind = "ended"
	KindSpeechStopped   Kind = "speech_stopped"
)

type Event struct {
	ID       string
	At       time.Time
	Topic    Topic
	ClientID string
	Kind     Kind
	Payload  any
}

type Handler func(Event)

type boxKey struct {
	topic  Topic
	client string
}

type mailbox struct {
	queue []Event
}

type Bus struct {
	log *zap.Logger

	mu       sync.Mutex
	handlers map[Topic][]Handler
	boxes    map[boxKey]*mailbox
	closed   bool
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:      log.Named("bus"),
		handlers: make(map[Topic][]Handler),
		boxes:    make(map[boxKey]*mailbox),
	}
}

// Subscribe registers h for every event published on topic.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish enqueues ev and returns immediately. It reports false when the bus
// is closed and the event was dropped.
func (b *Bus) Publish(ev Event) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		metricDropped.WithLabelValues(string(ev.Topic)).Inc()
		return false
	}
	key := boxKey{topic: ev.Topic, client: ev.ClientID}
	box, running := b.boxes[key]
	if !running {
		box = &mailbox{}
		b.boxes[key] = box
		metricMailboxes.Inc()
	}
	box.queue = append(box.queue, ev)
	b.mu.Unlock()

	metricPublished.WithLabelValues(string(ev.Topic), string(ev.Kind)).Inc()
	if !running {
		go b.drain(key, box)
	}
	return true
}

func (b *Bus) drain(key boxKey, box *mailbox) {
	for {
		b.mu.Lock()
		if len(box.queue) == 0 {
			delete(b.boxes, key)
			b.mu.Unlock()
			metricMailboxes.Dec()
			return
		}
		ev := box.queue[0]
		box.queue[0] = Event{}
		box.queue = box.queue[1:]
		hs := append([]Handler(nil), b.handlers[key.topic]...)
		b.mu.Unlock()

		for _, h := range hs {
			b.dispatch(h, ev)
		}
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metricPanics.WithLabelValues(string(ev.Topic)).Inc()
			b.log.Error("handler panic",
				zap.String("topic", string(ev.Topic)),
				zap.String("kind", string(ev.Kind)),
				zap.String("client_id", ev.ClientID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	h(ev)
}

// Close stops accepting new events. Mailboxes already holding events keep
// draining; use Drain to wait for them.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Pending returns the number of mailboxes with undelivered or in-flight events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.boxes)
}

// Drain blocks until every mailbox is empty or ctx is done.
func (b *Bus) Drain(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if b.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
