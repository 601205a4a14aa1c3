package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MacroPulse/internal/domain/models"
	domrepo "MacroPulse/internal/domain/repository"
	applogger "MacroPulse/pkg/logger"
)

// snapshotChunk caps rows per multi-row insert.
const snapshotChunk = 1000

// HistorySchema returns the DDL for the cycle history tables (idempotent).
func HistorySchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.cycles (
    id          String,
    started_at  DateTime64(3, 'UTC'),
    finished_at DateTime64(3, 'UTC'),
    verdict     LowCardinality(String),
    risk_on     UInt16,
    risk_off    UInt16,
    neutral     UInt16,
    abstained   UInt16
) ENGINE = MergeTree
ORDER BY started_at`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.snapshots (
    cycle_id     String,
    started_at   DateTime64(3, 'UTC'),
    indicator_id LowCardinality(String),
    value        Nullable(Float64),
    previous     Nullable(Float64),
    status       LowCardinality(String),
    as_of        DateTime64(3, 'UTC'),
    attempts     UInt16,
    reason       String
) ENGINE = MergeTree
ORDER BY (indicator_id, started_at)`, database),
	}
}

// CHHistoryStore implements HistoryStore backed by ClickHouse.
type CHHistoryStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.HistoryStore = (*CHHistoryStore)(nil)

// NewCHHistoryStore wraps an open ClickHouse connection pool. The store owns db.
func NewCHHistoryStore(db *sql.DB, l *applogger.Logger) *CHHistoryStore {
	return &CHHistoryStore{db: db, l: l}
}

// SaveCycle writes the cycle row and all its snapshots.
func (s *CHHistoryStore) SaveCycle(ctx context.Context, r *models.CycleReport) error {
	start := time.Now()
	c := r.Consensus
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, finished_at, verdict, risk_on, risk_off, neutral, abstained) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt, r.FinishedAt, string(c.Verdict),
		c.RiskOnCount, c.RiskOffCount, c.NeutralCount, c.AbstainedCount,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for lo := 0; lo < len(r.Snapshots); lo += snapshotChunk {
		hi := lo + snapshotChunk
		if hi > len(r.Snapshots) {
			hi = len(r.Snapshots)
		}
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*9)
		for _, snap := range r.Snapshots[lo:hi] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				r.ID,
				r.StartedAt,
				snap.IndicatorID,
				nullFloat(snap.CurrentValue),
				nullFloat(snap.PreviousValue),
				string(snap.Status),
				snap.AsOf,
				snap.Attempts,
				snap.Reason,
			)
		}
		q := "INSERT INTO snapshots (cycle_id, started_at, indicator_id, value, previous, status, as_of, attempts, reason) VALUES " +
			strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert snapshots: %w", err)
		}
	}

	s.l.Debug("cycle saved",
		applogger.String("cycle_id", r.ID),
		applogger.Int("snapshots", len(r.Snapshots)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// LatestSnapshots returns, per indicator, the most recent stored snapshot that
// carried a value.
func (s *CHHistoryStore) LatestSnapshots(ctx context.Context) (map[string]models.IndicatorSnapshot, error) {
	const q = `
        SELECT indicator_id, value, previous, status, as_of, attempts, reason
        FROM snapshots
        WHERE status != 'unavailable' AND value IS NOT NULL
        ORDER BY indicator_id, started_at DESC
        LIMIT 1 BY indicator_id
    `
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse latest_snapshots query error", applogger.Error(err))
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.IndicatorSnapshot)
	for rows.Next() {
		var (
			snap        models.IndicatorSnapshot
			value, prev sql.NullFloat64
			status      string
		)
		if err := rows.Scan(&snap.IndicatorID, &value, &prev, &status, &snap.AsOf, &snap.Attempts, &snap.Reason); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CurrentValue = floatPtr(value)
		snap.PreviousValue = floatPtr(prev)
		snap.Status = models.SnapshotStatus(status)
		snap.AsOf = snap.AsOf.UTC()
		out[snap.IndicatorID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// RecentConsensus returns up to limit consensus results, newest first.
func (s *CHHistoryStore) RecentConsensus(ctx context.Context, limit int) ([]models.ConsensusResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
        SELECT started_at, verdict, risk_on, risk_off, neutral, abstained
        FROM cycles
        ORDER BY started_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		s.l.Error("clickhouse recent_consensus query error", applogger.Error(err))
		return nil, fmt.Errorf("recent consensus: %w", err)
	}
	defer rows.Close()

	out := make([]models.ConsensusResult, 0, limit)
	for rows.Next() {
		var (
			c       models.ConsensusResult
			verdict string
		)
		if err := rows.Scan(&c.AsOf, &verdict, &c.RiskOnCount, &c.RiskOffCount, &c.NeutralCount, &c.AbstainedCount); err != nil {
			return nil, fmt.Errorf("scan consensus: %w", err)
		}
		c.Verdict = models.Verdict(verdict)
		c.AsOf = c.AsOf.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *CHHistoryStore) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}
