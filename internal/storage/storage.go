// Package storage provides SQLite-backed persistence for emitted signals,
// market snapshots, and daily summaries.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rthiery/tempmarket/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	maxSnapshots int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/tempmarket/data.db.
func New(maxSnapshots int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "tempmarket", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxSnapshots: maxSnapshots}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			tier         INTEGER NOT NULL,
			side         TEXT NOT NULL,
			bracket      TEXT NOT NULL,
			yes_price    REAL NOT NULL,
			no_price     REAL NOT NULL,
			entry_price  REAL NOT NULL,
			edge         REAL NOT NULL,
			note         TEXT,
			daily_high   REAL,
			blocked      INTEGER NOT NULL DEFAULT 0,
			veto_reasons TEXT NOT NULL DEFAULT '',
			detected_at  INTEGER NOT NULL,
			day          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_day ON signals(day)`,
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			day             TEXT PRIMARY KEY,
			city            TEXT NOT NULL,
			primary_high    REAL,
			primary_low     REAL,
			secondary_high  REAL,
			secondary_low   REAL,
			forecast_high   REAL,
			forecast_error  REAL,
			dynamic_bias    REAL,
			signals_fired   INTEGER NOT NULL,
			signals_blocked INTEGER NOT NULL,
			primary_count   INTEGER NOT NULL,
			secondary_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id               TEXT PRIMARY KEY,
			slug             TEXT NOT NULL,
			current_c        REAL,
			daily_high_c     REAL,
			local_hour       INTEGER NOT NULL,
			yes_sum          REAL NOT NULL,
			dynamic_bias     REAL,
			dynamic_forecast REAL,
			brackets         TEXT NOT NULL,
			taken_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSignal persists one emitted or blocked signal.
func (s *Storage) SaveSignal(sig *models.Signal) error {
	_, err := s.db.Exec(`
		INSERT INTO signals
			(id, kind, tier, side, bracket, yes_price, no_price, entry_price,
			 edge, note, daily_high, blocked, veto_reasons, detected_at, day)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		uuid.New().String(), sig.Kind.String(), sig.Tier, string(sig.Side), sig.Bracket,
		sig.YesPrice, sig.NoPrice, sig.EntryPrice, sig.Edge, sig.Note, sig.DailyHigh,
		boolToInt(sig.Blocked), strings.Join(sig.VetoReasons, "; "),
		sig.DetectedAt.UnixNano(), sig.DetectedAt.Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// SignalsByDay returns every stored signal for one local day, in detection
// order.
func (s *Storage) SignalsByDay(day string) ([]models.Signal, error) {
	rows, err := s.db.Query(`
		SELECT kind, tier, side, bracket, yes_price, no_price, entry_price,
		       edge, note, daily_high, blocked, veto_reasons, detected_at
		FROM signals WHERE day = ? ORDER BY detected_at`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var kind, side, reasons string
		var blocked int
		var detectedAtNano int64
		err := rows.Scan(&kind, &sig.Tier, &side, &sig.Bracket, &sig.YesPrice,
			&sig.NoPrice, &sig.EntryPrice, &sig.Edge, &sig.Note, &sig.DailyHigh,
			&blocked, &reasons, &detectedAtNano)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if err := sig.Kind.UnmarshalJSON([]byte(`"` + kind + `"`)); err != nil {
			return nil, fmt.Errorf("failed to decode signal kind: %w", err)
		}
		sig.Side = models.Side(side)
		sig.Blocked = blocked != 0
		if reasons != "" {
			sig.VetoReasons = strings.Split(reasons, "; ")
		}
		sig.DetectedAt = time.Unix(0, detectedAtNano)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// SaveSummary persists the end-of-day rollup, replacing any earlier write
// for the same day.
func (s *Storage) SaveSummary(sum *models.DailySummary) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daily_summaries
			(day, city, primary_high, primary_low, secondary_high, secondary_low,
			 forecast_high, forecast_error, dynamic_bias,
			 signals_fired, signals_blocked, primary_count, secondary_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sum.Date, sum.City, sum.PrimaryHigh, sum.PrimaryLow, sum.SecondaryHigh,
		sum.SecondaryLow, sum.ForecastHigh, sum.ForecastError, sum.DynamicBias,
		sum.SignalsFired, sum.SignalsBlocked, sum.PrimaryReadingCount, sum.SecondaryReadCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert daily summary: %w", err)
	}
	return nil
}

// SummaryByDay returns the stored rollup for one local day, or nil.
func (s *Storage) SummaryByDay(day string) (*models.DailySummary, error) {
	row := s.db.QueryRow(`
		SELECT day, city, primary_high, primary_low, secondary_high, secondary_low,
		       forecast_high, forecast_error, dynamic_bias,
		       signals_fired, signals_blocked, primary_count, secondary_count
		FROM daily_summaries WHERE day = ?`, day)

	var sum models.DailySummary
	err := row.Scan(&sum.Date, &sum.City, &sum.PrimaryHigh, &sum.PrimaryLow,
		&sum.SecondaryHigh, &sum.SecondaryLow, &sum.ForecastHigh, &sum.ForecastError,
		&sum.DynamicBias, &sum.SignalsFired, &sum.SignalsBlocked,
		&sum.PrimaryReadingCount, &sum.SecondaryReadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load daily summary: %w", err)
	}
	return &sum, nil
}

// SaveSnapshot persists one market snapshot and rotates out the oldest
// rows beyond the configured cap.
func (s *Storage) SaveSnapshot(snap *models.MarketSnapshot) error {
	bracketsJSON, err := json.Marshal(snap.Brackets)
	if err != nil {
		return fmt.Errorf("failed to marshal brackets: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO snapshots
			(id, slug, current_c, daily_high_c, local_hour, yes_sum,
			 dynamic_bias, dynamic_forecast, brackets, taken_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		uuid.New().String(), snap.Slug, snap.CurrentC, snap.DailyHigh, snap.LocalHour,
		snap.YesSum, snap.DynamicBias, snap.DynamicForecast, string(bracketsJSON),
		snap.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if s.maxSnapshots > 0 {
		if _, err := tx.Exec(`
			DELETE FROM snapshots WHERE id NOT IN (
				SELECT id FROM snapshots ORDER BY taken_at DESC LIMIT ?
			)`, s.maxSnapshots); err != nil {
			return fmt.Errorf("failed to rotate snapshots: %w", err)
		}
	}
	return tx.Commit()
}

// SnapshotCount reports how many snapshots are currently retained.
func (s *Storage) SnapshotCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
