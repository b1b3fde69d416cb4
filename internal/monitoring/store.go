// Sqlite usage store: durable per-request rows plus the aggregates behind
// GET /stats.
package monitoring

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // database/sql driver
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT    NOT NULL,
	request_id    TEXT    NOT NULL,
	model         TEXT    NOT NULL,
	tier          TEXT    NOT NULL,
	method        TEXT    NOT NULL,
	confidence    REAL    NOT NULL,
	cost_estimate REAL    NOT NULL,
	baseline_cost REAL    NOT NULL,
	savings       REAL    NOT NULL,
	latency_ms    INTEGER NOT NULL,
	attempts      INTEGER NOT NULL,
	status_code   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_tier ON usage_events(tier);
CREATE INDEX IF NOT EXISTS idx_usage_ts   ON usage_events(ts);
`

// TierStat is one row of the per-tier aggregate.
type TierStat struct {
	Tier     string  `json:"tier"`
	Requests int64   `json:"requests"`
	CostUSD  float64 `json:"cost_usd"`
}

// Report is the aggregate view served on /stats.
type Report struct {
	TotalRequests   int64      `json:"total_requests"`
	TotalCostUSD    float64    `json:"total_cost_usd"`
	BaselineCostUSD float64    `json:"baseline_cost_usd"`
	SavedUSD        float64    `json:"saved_usd"`
	SavingsPct      float64    `json:"savings_pct"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	FallbackCount   int64      `json:"fallback_count"`
	ByTier          []TierStat `json:"by_tier"`
}

// SQLStore persists usage events in sqlite.
type SQLStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLStore opens (creating if needed) the usage database.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage store: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(usageSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage store: schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Record implements Sink.
func (s *SQLStore) Record(event *UsageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO usage_events
			(ts, request_id, model, tier, method, confidence,
			 cost_estimate, baseline_cost, savings, latency_ms, attempts, status_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		event.RequestID, event.Model, event.Tier, event.Method, event.Confidence,
		event.CostEstimate, event.BaselineCost, event.Savings,
		event.LatencyMs, event.Attempts, event.StatusCode,
	)
	if err != nil {
		log.Error().Err(err).Msg("usage store: insert failed")
	}
}

// Aggregate computes the /stats report.
func (s *SQLStore) Aggregate() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{}
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(cost_estimate), 0),
		       COALESCE(SUM(baseline_cost), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(CASE WHEN method = 'fallback' THEN 1 ELSE 0 END), 0)
		FROM usage_events`)
	if err := row.Scan(&report.TotalRequests, &report.TotalCostUSD,
		&report.BaselineCostUSD, &report.AvgLatencyMs, &report.FallbackCount); err != nil {
		return nil, err
	}

	report.SavedUSD = report.BaselineCostUSD - report.TotalCostUSD
	if report.BaselineCostUSD > 0 {
		report.SavingsPct = report.SavedUSD / report.BaselineCostUSD * 100
	}

	rows, err := s.db.Query(`
		SELECT tier, COUNT(*), COALESCE(SUM(cost_estimate), 0)
		FROM usage_events GROUP BY tier ORDER BY tier`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ts TierStat
		if err := rows.Scan(&ts.Tier, &ts.Requests, &ts.CostUSD); err != nil {
			return nil, err
		}
		report.ByTier = append(report.ByTier, ts)
	}
	return report, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
