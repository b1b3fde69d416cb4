// SSE synthesis and heartbeat.
//
// DESIGN: The upstream is always called with stream=false; when the client
// asked for streaming, the gateway writes the preamble immediately, keeps
// the connection alive with comment heartbeats while the upstream (and any
// payment handshake) runs, then replays the buffered JSON as a synthetic
// chunk stream. The heartbeat goroutine and the synthesis path share one
// mutex on the connection so frames never interleave.
package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/blockrun/blockrun-gateway/internal/monitoring"
	"github.com/blockrun/blockrun-gateway/internal/utils"
)

// heartbeatFrame is the SSE comment clients ignore but proxies keep alive.
var heartbeatFrame = []byte(": heartbeat\n\n")

// doneFrame terminates every synthetic stream.
var doneFrame = []byte("data: [DONE]\n\n")

// streamWriter serializes SSE frames onto one client connection.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *monitoring.MetricsCollector

	mu           sync.Mutex
	started      bool
	wrotePayload bool
	recorded     bytes.Buffer // payload frames, for dedup replay

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}
	stopOnce      sync.Once
}

func newStreamWriter(w http.ResponseWriter, metrics *monitoring.MetricsCollector) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{
		w:             w,
		flusher:       flusher,
		metrics:       metrics,
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
}

// begin writes the streaming preamble and first heartbeat, then starts the
// periodic heartbeat.
func (sw *streamWriter) begin(interval time.Duration) {
	sw.mu.Lock()
	if sw.started {
		sw.mu.Unlock()
		return
	}
	sw.started = true

	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.writeFrameLocked(heartbeatFrame)
	sw.mu.Unlock()

	if sw.metrics != nil {
		sw.metrics.RecordHeartbeat()
	}
	go sw.heartbeatLoop(interval)
}

// heartbeatLoop emits comment frames until the first payload or stop.
func (sw *streamWriter) heartbeatLoop(interval time.Duration) {
	defer close(sw.heartbeatDone)
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.mu.Lock()
			if sw.wrotePayload {
				sw.mu.Unlock()
				return
			}
			sw.writeFrameLocked(heartbeatFrame)
			sw.mu.Unlock()
			if sw.metrics != nil {
				sw.metrics.RecordHeartbeat()
			}
		case <-sw.stopHeartbeat:
			return
		}
	}
}

// stop halts the heartbeat and waits for the loop to exit, so no heartbeat
// can interleave with frames written afterwards.
func (sw *streamWriter) stop() {
	sw.stopOnce.Do(func() { close(sw.stopHeartbeat) })
	if sw.started {
		<-sw.heartbeatDone
	}
}

// writeFrameLocked writes one frame and flushes. Caller holds mu.
func (sw *streamWriter) writeFrameLocked(frame []byte) {
	if _, err := sw.w.Write(frame); err != nil {
		log.Debug().Err(err).Msg("sse: client write failed")
		return
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// writeData frames a JSON payload as one SSE data event.
func (sw *streamWriter) writeData(payload []byte) {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)

	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.wrotePayload = true
	sw.recorded.Write(frame)
	sw.writeFrameLocked(frame)
}

// writeDone terminates the stream.
func (sw *streamWriter) writeDone() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.wrotePayload = true
	sw.recorded.Write(doneFrame)
	sw.writeFrameLocked(doneFrame)
}

// recordedBytes returns the payload frames written so far, for dedup replay.
func (sw *streamWriter) recordedBytes() []byte {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return append([]byte(nil), sw.recorded.Bytes()...)
}

// chunkHeader carries the upstream envelope fields shared by every
// synthetic event.
type chunkHeader struct {
	ID      string
	Created int64
	Model   string
}

// synthesizeSSE translates a buffered non-streaming chat completion into
// the chunk-event stream the client expects: per choice a role event, a
// content event (plus a tool_calls event when present), and a finish event;
// then [DONE].
func (sw *streamWriter) synthesizeSSE(upstreamBody []byte) {
	header := chunkHeader{
		ID:      gjson.GetBytes(upstreamBody, "id").String(),
		Created: gjson.GetBytes(upstreamBody, "created").Int(),
		Model:   gjson.GetBytes(upstreamBody, "model").String(),
	}
	if header.ID == "" {
		header.ID = "chatcmpl-" + Identity
	}
	if header.Created == 0 {
		header.Created = time.Now().Unix()
	}

	choices := gjson.GetBytes(upstreamBody, "choices")
	for i, choice := range choices.Array() {
		index := int(choice.Get("index").Int())
		if !choice.Get("index").Exists() {
			index = i
		}

		sw.emitChunk(header, index, map[string]any{"role": "assistant"}, nil)

		content := StripThinking(choice.Get("message.content").String())
		sw.emitChunk(header, index, map[string]any{"content": content}, nil)

		if toolCalls := choice.Get("message.tool_calls"); toolCalls.IsArray() {
			sw.emitChunk(header, index, map[string]any{"tool_calls": streamToolCalls(toolCalls)}, nil)
		}

		finish := choice.Get("finish_reason").String()
		if finish == "" {
			finish = "stop"
		}
		sw.emitChunk(header, index, map[string]any{}, &finish)
	}

	sw.writeDone()
}

// emitChunk writes one chat.completion.chunk event.
func (sw *streamWriter) emitChunk(header chunkHeader, index int, delta map[string]any, finish *string) {
	var finishValue any
	if finish != nil {
		finishValue = *finish
	}
	chunk := map[string]any{
		"id":      header.ID,
		"object":  "chat.completion.chunk",
		"created": header.Created,
		"model":   header.Model,
		"choices": []map[string]any{{
			"index":         index,
			"delta":         delta,
			"finish_reason": finishValue,
		}},
	}

	payload, err := utils.MarshalNoEscape(chunk)
	if err != nil {
		log.Error().Err(err).Msg("sse: failed to marshal chunk")
		return
	}
	sw.writeData(payload)
}

// streamToolCalls adds the index field chunk-form tool calls carry.
func streamToolCalls(toolCalls gjson.Result) []map[string]any {
	out := make([]map[string]any, 0, 8)
	for i, tc := range toolCalls.Array() {
		var call map[string]any
		if err := json.Unmarshal([]byte(tc.Raw), &call); err != nil {
			continue
		}
		call["index"] = i
		out = append(out, call)
	}
	return out
}

// writeStreamError delivers a terminal error on an already-started stream,
// followed by [DONE].
func (sw *streamWriter) writeStreamError(msg string, status int) {
	payload, err := utils.MarshalNoEscape(map[string]any{
		"error": map[string]any{"message": msg, "type": "provider_error", "status": status},
	})
	if err != nil {
		return
	}
	sw.writeData(payload)
	sw.writeDone()
}
