package monitoring

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectSink records events in memory for emitter tests.
type collectSink struct {
	events []*UsageEvent
	closed bool
}

func (c *collectSink) Record(e *UsageEvent) { c.events = append(c.events, e) }
func (c *collectSink) Close() error         { c.closed = true; return nil }

func TestEmitter_FanOut(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	e := NewEmitter(a, b)

	e.Emit(&UsageEvent{Model: "m1", Tier: "SIMPLE"})
	e.Emit(&UsageEvent{Model: "m2", Tier: "MEDIUM"})
	e.Close()

	require.Len(t, a.events, 2)
	require.Len(t, b.events, 2)
	assert.Equal(t, "m1", a.events[0].Model)
	assert.False(t, a.events[0].Timestamp.IsZero(), "timestamp is stamped on emit")
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestEmitter_NilEventIgnored(t *testing.T) {
	s := &collectSink{}
	e := NewEmitter(s)
	e.Emit(nil)
	e.Close()
	assert.Empty(t, s.events)
}

func TestEmitter_CloseIdempotent(t *testing.T) {
	e := NewEmitter()
	e.Close()
	e.Close()
}

func TestFileTracker_WritesDailyJSONL(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewFileTracker(dir)
	require.NoError(t, err)

	now := time.Now()
	tracker.Record(&UsageEvent{Timestamp: now, Model: "openai/gpt-4o-mini", Tier: "SIMPLE", LatencyMs: 42})
	tracker.Record(&UsageEvent{Timestamp: now, Model: "openai/gpt-4o", Tier: "COMPLEX", LatencyMs: 99})
	require.NoError(t, tracker.Close())

	path := filepath.Join(dir, "usage-"+now.Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var event UsageEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, "openai/gpt-4o-mini", event.Model)
	assert.EqualValues(t, 42, event.LatencyMs)
}

func TestSQLStore_RecordAndAggregate(t *testing.T) {
	store, err := NewSQLStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	now := time.Now()
	store.Record(&UsageEvent{Timestamp: now, Model: "a", Tier: "SIMPLE", Method: "rules",
		CostEstimate: 0.001, BaselineCost: 0.01, LatencyMs: 100, Attempts: 1, StatusCode: 200})
	store.Record(&UsageEvent{Timestamp: now, Model: "b", Tier: "SIMPLE", Method: "fallback",
		CostEstimate: 0.002, BaselineCost: 0.01, LatencyMs: 300, Attempts: 2, StatusCode: 200})
	store.Record(&UsageEvent{Timestamp: now, Model: "c", Tier: "REASONING", Method: "rules",
		CostEstimate: 0.05, BaselineCost: 0.05, LatencyMs: 2000, Attempts: 1, StatusCode: 200})

	report, err := store.Aggregate()
	require.NoError(t, err)

	assert.EqualValues(t, 3, report.TotalRequests)
	assert.InDelta(t, 0.053, report.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.07, report.BaselineCostUSD, 1e-9)
	assert.InDelta(t, 0.017, report.SavedUSD, 1e-9)
	assert.EqualValues(t, 1, report.FallbackCount)
	assert.InDelta(t, 800, report.AvgLatencyMs, 0.1)

	require.Len(t, report.ByTier, 2)
	assert.Equal(t, "REASONING", report.ByTier[0].Tier)
	assert.EqualValues(t, 2, report.ByTier[1].Requests)
}

func TestSQLStore_EmptyAggregate(t *testing.T) {
	store, err := NewSQLStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	report, err := store.Aggregate()
	require.NoError(t, err)
	assert.Zero(t, report.TotalRequests)
	assert.Zero(t, report.SavingsPct)
	assert.Empty(t, report.ByTier)
}

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordRequest(true)
	mc.RecordRequest(false)
	mc.RecordDedupHit()
	mc.RecordFallback()
	mc.RecordUpstreamAttempt()
	mc.RecordUpstreamAttempt()

	stats := mc.Stats()
	assert.EqualValues(t, 2, stats["requests"])
	assert.EqualValues(t, 1, stats["successes"])
	assert.EqualValues(t, 1, stats["dedup_hits"])
	assert.EqualValues(t, 1, stats["fallbacks"])
	assert.EqualValues(t, 2, stats["upstream_attempts"])
}

func TestLiveFeed_BroadcastToWebSocket(t *testing.T) {
	feed := NewLiveFeed()
	defer func() { _ = feed.Close() }()

	srv := httptest.NewServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	// Wait for the subscription to land before broadcasting.
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	feed.Record(&UsageEvent{Model: "openai/gpt-4o-mini", Tier: "SIMPLE"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event UsageEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "openai/gpt-4o-mini", event.Model)
}

func TestLiveFeed_DropsSlowSubscriber(t *testing.T) {
	feed := NewLiveFeed()
	defer func() { _ = feed.Close() }()

	ch, ok := feed.subscribe()
	require.True(t, ok)
	_ = ch // never drained

	for i := 0; i < subscriberBuffer+5; i++ {
		feed.Record(&UsageEvent{Model: "m"})
	}
	assert.Zero(t, feed.Subscribers())
}
