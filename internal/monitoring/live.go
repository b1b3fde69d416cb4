// Live usage feed over WebSocket.
//
// DESIGN: A small broadcast hub for dashboard collaborators. Each subscriber
// gets a buffered channel; a subscriber that cannot keep up is dropped, not
// waited on - the feed is observability, never backpressure on requests.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer bounds the per-client queue.
const subscriberBuffer = 32

// writeTimeout bounds one frame write to a subscriber.
const writeTimeout = 5 * time.Second

// LiveFeed broadcasts usage events to connected WebSocket clients.
type LiveFeed struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewLiveFeed creates an empty hub.
func NewLiveFeed() *LiveFeed {
	return &LiveFeed{subs: make(map[chan []byte]struct{})}
}

// Record implements Sink: marshal once, fan out to every subscriber.
func (f *LiveFeed) Record(event *UsageEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- data:
		default:
			// Slow consumer: drop it rather than queue unbounded.
			delete(f.subs, ch)
			close(ch)
			log.Debug().Msg("live feed: dropped slow subscriber")
		}
	}
}

// Close drops every subscriber.
func (f *LiveFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	return nil
}

func (f *LiveFeed) subscribe() (chan []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan []byte, subscriberBuffer)
	f.subs[ch] = struct{}{}
	return ch, true
}

func (f *LiveFeed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("live feed: upgrade failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ch, ok := f.subscribe()
	if !ok {
		return
	}
	defer f.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case data, open := <-ch:
			if !open {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *LiveFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
