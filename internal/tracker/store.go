package tracker

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cvforge/backend/pkg/logger"
)

// Store persists call records in sqlite so the spend ledger and call history
// survive process restarts.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("Call record store initialized", zap.String("path", dbPath))

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS call_records (
		id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		user_id TEXT,
		capability TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		latency_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		skipped INTEGER DEFAULT 0,
		error_class TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_records_user ON call_records(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_call_records_created ON call_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_call_records_model ON call_records(provider, model);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

func (s *Store) Insert(rec CallRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO call_records
		(id, task_type, provider, model, user_id, capability, prompt_tokens,
		 completion_tokens, cost_usd, latency_ms, success, skipped, error_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskType, rec.Provider, rec.Model, rec.UserID, rec.Capability,
		rec.PromptTokens, rec.CompletionTokens, rec.CostUSD, rec.Latency.Milliseconds(),
		boolToInt(rec.Success), boolToInt(rec.Skipped), rec.ErrorClass, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}

	return nil
}

// SpendSince sums cost over records newer than since. Empty userID sums
// globally.
func (s *Store) SpendSince(userID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	var err error

	if userID == "" {
		err = s.db.QueryRow(
			`SELECT SUM(cost_usd) FROM call_records WHERE created_at >= ?`,
			since.Unix(),
		).Scan(&total)
	} else {
		err = s.db.QueryRow(
			`SELECT SUM(cost_usd) FROM call_records WHERE user_id = ? AND created_at >= ?`,
			userID, since.Unix(),
		).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}

	return total.Float64, nil
}

func (s *Store) RecordsSince(since time.Time) ([]CallRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, task_type, provider, model, user_id, capability, prompt_tokens,
		       completion_tokens, cost_usd, latency_ms, success, skipped, error_class, created_at
		FROM call_records WHERE created_at >= ? ORDER BY created_at`,
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var rec CallRecord
		var latencyMS int64
		var success, skipped int
		var createdAt int64

		err := rows.Scan(&rec.ID, &rec.TaskType, &rec.Provider, &rec.Model, &rec.UserID,
			&rec.Capability, &rec.PromptTokens, &rec.CompletionTokens, &rec.CostUSD,
			&latencyMS, &success, &skipped, &rec.ErrorClass, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}

		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.Success = success == 1
		rec.Skipped = skipped == 1
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
