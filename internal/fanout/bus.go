// Package fanout implements the Fan-out Bus (spec.md §4.G): one bounded,
// per-subscriber queue per connected client, drop-oldest/latest-wins
// backpressure instead of blocking the publisher, and MessagePack+zlib
// binary framing.
//
// Grounded on yohannesjx-sniperterminal/hub.go's Hub (connection registry,
// ping/pong heartbeat constants reused verbatim) and PriceThrottler
// (coalescing cadence for high-frequency updates), generalized from a
// single fan-out-everything JSON broadcaster into per-subscriber bounded
// binary queues with two distinct backpressure policies.
package fanout

import (
	"bytes"
	"compress/zlib"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c0herence/papertrade/internal/metrics"
)

// Heartbeat constants, unchanged from hub.go.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

const (
	streamQueueDepth = 64
	statusQueueDepth = 1 // latest-wins: capacity 1, always holds only the newest value
)

// Envelope is the one wire shape every frame uses; Kind discriminates the
// payload for the client (e.g. "bar", "indicator", "trade", "account",
// "equity", "condition").
type Envelope struct {
	Kind    string      `msgpack:"kind"`
	Payload interface{} `msgpack:"payload"`
}

// Subscriber is one connected client's bounded queues. Stream carries
// high-volume append-only events (bars, trades) with drop-oldest
// backpressure; Status carries coalescing state (account/equity views)
// with latest-wins backpressure — a slow subscriber never blocks the
// publisher and never sees a message replayed out of its queue's order.
type Subscriber struct {
	id     string
	conn   *websocket.Conn
	stream chan []byte
	status chan []byte
	closed chan struct{}
	once   sync.Once
}

func newSubscriber(id string, conn *websocket.Conn) *Subscriber {
	return &Subscriber{
		id:     id,
		conn:   conn,
		stream: make(chan []byte, streamQueueDepth),
		status: make(chan []byte, statusQueueDepth),
		closed: make(chan struct{}),
	}
}

// PublishStream enqueues a high-volume event, dropping the oldest queued
// frame if the subscriber hasn't drained in time.
func (s *Subscriber) PublishStream(frame []byte) {
	select {
	case s.stream <- frame:
	default:
		select {
		case <-s.stream:
			metrics.FanoutDropsTotal.WithLabelValues("stream").Inc()
		default:
		}
		select {
		case s.stream <- frame:
		default:
		}
	}
	metrics.FanoutQueueDepth.WithLabelValues(s.id, "stream").Set(float64(len(s.stream)))
}

// PublishStatus replaces any queued-but-undelivered status frame with the
// newest one (latest-wins).
func (s *Subscriber) PublishStatus(frame []byte) {
	select {
	case s.status <- frame:
	default:
		select {
		case <-s.status:
			metrics.FanoutDropsTotal.WithLabelValues("status").Inc()
		default:
		}
		s.status <- frame
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.closed) })
}

// Bus is the registry of connected subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	upgrader    websocket.Upgrader
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the connection, registers a Subscriber, and runs
// its write pump until the connection drops.
func (b *Bus) HandleWebSocket(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("fanout: upgrade error: %v", err)
			return
		}
		sub := newSubscriber(id, conn)
		b.register(sub)
		defer b.unregister(sub)

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		go sub.readPump()
		sub.writePump()
	}
}

// readPump only exists to detect client disconnects and drive pong
// deadlines; the bus never accepts inbound client messages.
func (s *Subscriber) readPump() {
	defer s.close()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame := <-s.status:
			if err := s.write(frame); err != nil {
				return
			}
		case frame := <-s.stream:
			if err := s.write(frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Subscriber) write(frame []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (b *Bus) register(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[s.id] = s
}

func (b *Bus) unregister(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subscribers[s.id]; ok && cur == s {
		delete(b.subscribers, s.id)
	}
}

// Encode frames a payload as MessagePack, then zlib-compresses it (spec.md
// §4.G).
func Encode(kind string, payload interface{}) ([]byte, error) {
	packed, err := msgpack.Marshal(Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(packed); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PublishStream encodes and fans a high-volume event out to every connected
// subscriber.
func (b *Bus) PublishStream(kind string, payload interface{}) {
	frame, err := Encode(kind, payload)
	if err != nil {
		log.Printf("fanout: encode error: %v", err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		s.PublishStream(frame)
	}
}

// PublishStatus encodes and fans a coalescing status event out, replacing
// any frame a slow subscriber hasn't drained yet.
func (b *Bus) PublishStatus(kind string, payload interface{}) {
	frame, err := Encode(kind, payload)
	if err != nil {
		log.Printf("fanout: encode error: %v", err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		s.PublishStatus(frame)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
