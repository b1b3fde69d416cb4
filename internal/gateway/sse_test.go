package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/blockrun/blockrun-gateway/internal/monitoring"
)

func dataFrames(body string) []string {
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestStreamWriter_BeginWritesPreambleAndHeartbeat(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())

	sw.begin(time.Hour) // interval long enough that only begin() writes
	sw.stop()

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Contains(t, rec.Body.String(), ": heartbeat\n\n")
}

func TestStreamWriter_PeriodicHeartbeatsUntilPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())

	sw.begin(10 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	sw.writeData([]byte(`{"x":1}`))
	sw.stop()

	body := rec.Body.String()
	heartbeats := strings.Count(body, ": heartbeat\n\n")
	assert.GreaterOrEqual(t, heartbeats, 2, "ticker heartbeats while waiting")

	// The heartbeat precedes the first data frame.
	assert.Less(t, strings.Index(body, ": heartbeat"), strings.Index(body, "data: "))
}

func TestStreamWriter_RecordsPayloadFramesOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())

	sw.begin(time.Hour)
	sw.writeData([]byte(`{"a":1}`))
	sw.writeDone()
	sw.stop()

	recorded := string(sw.recordedBytes())
	assert.NotContains(t, recorded, "heartbeat")
	assert.Contains(t, recorded, `data: {"a":1}`)
	assert.True(t, strings.HasSuffix(recorded, "data: [DONE]\n\n"))
}

func TestSynthesizeSSE_ThreeEventFamilies(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())
	sw.begin(time.Hour)

	upstream := []byte(`{
		"id":"chatcmpl-42","object":"chat.completion","created":1700000000,
		"model":"gpt-4o-mini",
		"choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}]
	}`)
	sw.synthesizeSSE(upstream)
	sw.stop()

	frames := dataFrames(rec.Body.String())
	require.Len(t, frames, 4) // role, content, finish, [DONE]
	assert.Equal(t, "[DONE]", frames[3])

	role := gjson.Get(frames[0], "choices.0.delta.role").String()
	assert.Equal(t, "assistant", role)
	assert.Equal(t, "chatcmpl-42", gjson.Get(frames[0], "id").String())
	assert.Equal(t, "chat.completion.chunk", gjson.Get(frames[0], "object").String())
	assert.EqualValues(t, 1700000000, gjson.Get(frames[0], "created").Int())
	assert.Equal(t, "gpt-4o-mini", gjson.Get(frames[0], "model").String())

	assert.Equal(t, "4", gjson.Get(frames[1], "choices.0.delta.content").String())
	assert.Equal(t, gjson.Null, gjson.Get(frames[1], "choices.0.finish_reason").Type)

	assert.Equal(t, "stop", gjson.Get(frames[2], "choices.0.finish_reason").String())
}

func TestSynthesizeSSE_StripsThinking(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())
	sw.begin(time.Hour)

	upstream := []byte(`{"id":"c","model":"m","choices":[{"index":0,
		"message":{"role":"assistant","content":"<think>secret</think>visible"},
		"finish_reason":"stop"}]}`)
	sw.synthesizeSSE(upstream)
	sw.stop()

	frames := dataFrames(rec.Body.String())
	content := gjson.Get(frames[1], "choices.0.delta.content").String()
	assert.Equal(t, "visible", content)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestSynthesizeSSE_ToolCalls(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())
	sw.begin(time.Hour)

	upstream := []byte(`{"id":"c","model":"m","choices":[{"index":0,
		"message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"f","arguments":"{}"}}]},
		"finish_reason":"tool_calls"}]}`)
	sw.synthesizeSSE(upstream)
	sw.stop()

	frames := dataFrames(rec.Body.String())
	require.Len(t, frames, 5) // role, content, tool_calls, finish, [DONE]

	toolFrame := frames[2]
	assert.Equal(t, "call_1", gjson.Get(toolFrame, "choices.0.delta.tool_calls.0.id").String())
	assert.EqualValues(t, 0, gjson.Get(toolFrame, "choices.0.delta.tool_calls.0.index").Int())
	assert.Equal(t, "tool_calls", gjson.Get(frames[3], "choices.0.finish_reason").String())
}

func TestSynthesizeSSE_MissingFinishDefaultsToStop(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())
	sw.begin(time.Hour)

	sw.synthesizeSSE([]byte(`{"id":"c","model":"m","choices":[{"index":0,"message":{"content":"x"}}]}`))
	sw.stop()

	frames := dataFrames(rec.Body.String())
	assert.Equal(t, "stop", gjson.Get(frames[2], "choices.0.finish_reason").String())
}

func TestWriteStreamError(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, monitoring.NewMetricsCollector())
	sw.begin(time.Hour)

	sw.writeStreamError("rate limited everywhere", 429)
	sw.stop()

	frames := dataFrames(rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "provider_error", gjson.Get(frames[0], "error.type").String())
	assert.EqualValues(t, 429, gjson.Get(frames[0], "error.status").Int())
	assert.Equal(t, "[DONE]", frames[1])
}
