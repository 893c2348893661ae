package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// SQLiteStore is the archive store for experiments, outcomes and final
// summaries.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			experiment_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			config TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			first_outcome_at DATETIME,
			completed_at DATETIME,
			archived_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_experiments_active ON experiments(archived_at, created_at)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			experiment_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			subject_id TEXT,
			metrics TEXT NOT NULL,
			ts DATETIME NOT NULL,
			UNIQUE (experiment_id, request_id),
			FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_experiment ON outcomes(experiment_id, seq)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			experiment_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveExperiment inserts a newly created experiment.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, rec *domain.ExperimentRecord) error {
	config, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (experiment_id, name, config, status, created_at, updated_at, first_outcome_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Config.Name, string(config), rec.Status, rec.CreatedAt, rec.UpdatedAt, nullTime(rec.FirstOutcomeAt), nullTime(rec.CompletedAt))
	return err
}

// UpdateExperiment overwrites the mutable fields of an experiment: status,
// traffic split (inside config) and lifecycle timestamps.
func (s *SQLiteStore) UpdateExperiment(ctx context.Context, rec *domain.ExperimentRecord) error {
	config, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET config = ?, status = ?, updated_at = ?, first_outcome_at = ?, completed_at = ? WHERE experiment_id = ?`,
		string(config), rec.Status, rec.UpdatedAt, nullTime(rec.FirstOutcomeAt), nullTime(rec.CompletedAt), rec.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("experiment %s not found", rec.ID)
	}
	return nil
}

// ArchiveExperiment marks an experiment archived and stores its final summary
// in one transaction.
func (s *SQLiteStore) ArchiveExperiment(ctx context.Context, experimentID string, summary *domain.AnalysisSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE experiments SET status = ?, updated_at = ?, archived_at = ? WHERE experiment_id = ?`,
		domain.ExperimentStatusArchived, now, now, experimentID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return fmt.Errorf("experiment %s not found", experimentID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (experiment_id, summary, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(experiment_id) DO UPDATE SET summary = excluded.summary, created_at = excluded.created_at`,
		experimentID, string(payload), now); err != nil {
		return err
	}
	return tx.Commit()
}

// GetExperiment retrieves an experiment by ID, archived or not.
func (s *SQLiteStore) GetExperiment(ctx context.Context, experimentID string) (*domain.ExperimentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT experiment_id, config, status, created_at, updated_at, first_outcome_at, completed_at FROM experiments WHERE experiment_id = ?`,
		experimentID)
	rec, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListActiveExperiments returns non-archived experiments in creation order.
func (s *SQLiteStore) ListActiveExperiments(ctx context.Context) ([]domain.ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, config, status, created_at, updated_at, first_outcome_at, completed_at FROM experiments WHERE archived_at IS NULL ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ExperimentRecord
	for rows.Next() {
		rec, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// AppendOutcome stores an outcome. A repeated (experiment_id, request_id) is
// ignored and reported as not inserted.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, o *domain.Outcome) (bool, error) {
	metrics, err := json.Marshal(o.Metrics)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outcomes (experiment_id, request_id, variant_id, subject_id, metrics, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ExperimentID, o.RequestID, o.VariantID, nullString(o.SubjectID), string(metrics), o.Timestamp)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListOutcomes returns an experiment's outcomes in arrival order.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, experimentID string) ([]domain.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, request_id, variant_id, subject_id, metrics, ts FROM outcomes WHERE experiment_id = ? ORDER BY seq ASC`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		var subjectID sql.NullString
		var metrics string
		if err := rows.Scan(&o.ExperimentID, &o.RequestID, &o.VariantID, &subjectID, &metrics, &o.Timestamp); err != nil {
			return nil, err
		}
		if subjectID.Valid {
			o.SubjectID = subjectID.String
		}
		if err := json.Unmarshal([]byte(metrics), &o.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics of %s: %w", o.RequestID, err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// GetSummary returns the final summary stored when an experiment was stopped.
func (s *SQLiteStore) GetSummary(ctx context.Context, experimentID string) (*domain.AnalysisSummary, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM summaries WHERE experiment_id = ?`,
		experimentID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary domain.AnalysisSummary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}

// ListSummaries returns all stored final summaries, oldest first.
func (s *SQLiteStore) ListSummaries(ctx context.Context) ([]domain.AnalysisSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM summaries ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.AnalysisSummary{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var summary domain.AnalysisSummary
		if err := json.Unmarshal([]byte(payload), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*domain.ExperimentRecord, error) {
	var rec domain.ExperimentRecord
	var config string
	var firstOutcomeAt, completedAt sql.NullTime
	if err := row.Scan(&rec.ID, &config, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &firstOutcomeAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &rec.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of %s: %w", rec.ID, err)
	}
	if firstOutcomeAt.Valid {
		rec.FirstOutcomeAt = &firstOutcomeAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
