package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/halfpipe/internal/telemetry"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsReadTimeout      = 60 * time.Second
	wsWriteTimeout     = 5 * time.Second
	wsPingInterval     = 30 * time.Second
)

// StreamStatus is the health view of one websocket stream.
type StreamStatus struct {
	Connected   bool      `json:"connected"`
	Messages    int64     `json:"messages"`
	LastMessage time.Time `json:"last_message"`
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// wsStream keeps one venue stream alive: dial, subscribe, read until the
// connection drops, then redial after the reconnect delay. Subscriptions
// are remembered and replayed on every connect.
type wsStream struct {
	name    string
	url     string
	delay   time.Duration
	handler func(data []byte)
	metrics *telemetry.Metrics

	mu        sync.Mutex
	conn      *websocket.Conn
	params    map[string]struct{}
	connected bool
	nextID    int64

	messages atomic.Int64
	lastMsg  atomic.Int64 // unix nanos
}

func newWSStream(name, url string, delay time.Duration, m *telemetry.Metrics, handler func([]byte)) *wsStream {
	return &wsStream{
		name:    name,
		url:     url,
		delay:   delay,
		handler: handler,
		metrics: m,
		params:  make(map[string]struct{}),
	}
}

// Subscribe records params and sends the subscription when connected.
// Before the first connect it only records; runOnce replays the full set.
func (w *wsStream) Subscribe(params ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := make([]string, 0, len(params))
	for _, p := range params {
		if _, ok := w.params[p]; ok {
			continue
		}
		w.params[p] = struct{}{}
		fresh = append(fresh, p)
	}
	if w.conn == nil || len(fresh) == 0 {
		return nil
	}
	return w.writeJSONLocked(subscribeRequest{Method: "SUBSCRIBE", Params: fresh, ID: w.nextIDLocked()})
}

func (w *wsStream) nextIDLocked() int64 {
	w.nextID++
	return w.nextID
}

func (w *wsStream) writeJSONLocked(v any) error {
	if w.conn == nil {
		return fmt.Errorf("stream %s: not connected", w.name)
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

// Status reports connection state and message counters.
func (w *wsStream) Status() StreamStatus {
	w.mu.Lock()
	connected := w.connected
	w.mu.Unlock()

	st := StreamStatus{Connected: connected, Messages: w.messages.Load()}
	if n := w.lastMsg.Load(); n > 0 {
		st.LastMessage = time.Unix(0, n).UTC()
	}
	return st
}

// Run keeps the stream connected until ctx ends.
func (w *wsStream) Run(ctx context.Context) error {
	for {
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.metrics.RecordReconnect(w.name)
		log.Warn().Err(err).
			Str("stream", w.name).
			Dur("retry_in", w.delay).
			Msg("stream disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.delay):
		}
	}
}

func (w *wsStream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	replay := make([]string, 0, len(w.params))
	for p := range w.params {
		replay = append(replay, p)
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.connected = false
		w.mu.Unlock()
	}()

	sort.Strings(replay)
	if len(replay) > 0 {
		w.mu.Lock()
		err := w.writeJSONLocked(subscribeRequest{Method: "SUBSCRIBE", Params: replay, ID: w.nextIDLocked()})
		w.mu.Unlock()
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	log.Info().
		Str("stream", w.name).
		Str("url", w.url).
		Int("subscriptions", len(replay)).
		Msg("stream connected")

	go w.pingLoop(ctx, conn, stop)

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		w.messages.Add(1)
		w.lastMsg.Store(time.Now().UnixNano())
		w.metrics.RecordMessage(w.name)
		w.handler(data)
	}
}

// pingLoop keeps the connection warm. WriteControl is safe to call
// concurrently with other writers.
func (w *wsStream) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("stream", w.name).Msg("ping failed")
				return
			}
		}
	}
}
