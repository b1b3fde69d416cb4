// Package monitoring records routing decisions and their cost outcomes.
//
// DESIGN: The gateway emits one UsageEvent per fully-completed request,
// fire-and-forget. The emitter buffers on a channel and fans out to sinks
// (JSONL file, sqlite aggregates, live websocket feed) from a single
// worker; a full buffer drops the event rather than block the request path,
// and sink errors are swallowed.
package monitoring

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// UsageEvent is the record of one routed request.
type UsageEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	Model        string    `json:"model"`
	Tier         string    `json:"tier"`
	Method       string    `json:"method"`
	Confidence   float64   `json:"confidence"`
	CostEstimate float64   `json:"cost_estimate"`
	BaselineCost float64   `json:"baseline_cost"`
	Savings      float64   `json:"savings"`
	LatencyMs    int64     `json:"latency_ms"`
	Attempts     int       `json:"attempts"`
	StatusCode   int       `json:"status_code"`
}

// Sink receives usage events. Implementations must tolerate bursts and
// never propagate errors to the caller.
type Sink interface {
	Record(event *UsageEvent)
	Close() error
}

// emitBuffer bounds the emitter queue.
const emitBuffer = 256

// Emitter is the fan-out front for all sinks.
type Emitter struct {
	sinks   []Sink
	events  chan *UsageEvent
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewEmitter starts the emit worker over the given sinks.
// A nil-sink list is fine; Emit becomes a no-op.
func NewEmitter(sinks ...Sink) *Emitter {
	e := &Emitter{
		sinks:   sinks,
		events:  make(chan *UsageEvent, emitBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.loop()
	return e
}

// Emit queues an event. Never blocks: when the buffer is full the event is
// dropped with a debug log.
func (e *Emitter) Emit(event *UsageEvent) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.events <- event:
	default:
		log.Debug().Str("model", event.Model).Msg("usage: buffer full, dropping event")
	}
}

func (e *Emitter) loop() {
	defer close(e.stopped)
	for {
		select {
		case event := <-e.events:
			for _, sink := range e.sinks {
				sink.Record(event)
			}
		case <-e.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-e.events:
					for _, sink := range e.sinks {
						sink.Record(event)
					}
				default:
					return
				}
			}
		}
	}
}

// Close drains the buffer and closes every sink. Idempotent.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.done)
		<-e.stopped
		for _, sink := range e.sinks {
			if err := sink.Close(); err != nil {
				log.Warn().Err(err).Msg("usage: sink close failed")
			}
		}
	})
}
