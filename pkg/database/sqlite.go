package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteDatabase represents an embedded SQLite database connection
type SQLiteDatabase struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
	logger       *logrus.Logger
}

// NewSQLiteDatabase opens (and if necessary creates) the database file and
// applies the schema
func NewSQLiteDatabase(path string, queryTimeout time.Duration, logger *logrus.Logger) (*SQLiteDatabase, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one writing connection avoids lock churn
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlite := &SQLiteDatabase{
		db:           db,
		path:         path,
		queryTimeout: queryTimeout,
		logger:       logger,
	}

	if err := sqlite.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", path).Info("Connected to SQLite database")

	return sqlite, nil
}

// Close closes the database connection
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health checks database health
func (s *SQLiteDatabase) Health() error {
	ctx, cancel := s.getContext()
	defer cancel()

	return s.db.PingContext(ctx)
}

// getContext returns a context bounded by the configured query timeout, so a
// stuck read aborts instead of hanging the caller
func (s *SQLiteDatabase) getContext() (context.Context, context.CancelFunc) {
	timeout := s.queryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (s *SQLiteDatabase) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			agent_phone TEXT NOT NULL DEFAULT '',
			ingested_at TIMESTAMP NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			overall_score REAL,
			qa_score REAL,
			compliance_score REAL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_call_id ON calls(call_id)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL UNIQUE REFERENCES calls(id),
			turns TEXT NOT NULL DEFAULT '[]',
			duration INTEGER NOT NULL DEFAULT 0,
			processing_time REAL NOT NULL DEFAULT 0,
			provider TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL UNIQUE REFERENCES calls(id),
			dimensions TEXT NOT NULL DEFAULT '{}',
			qa_score REAL NOT NULL DEFAULT 0,
			compliance_score REAL NOT NULL DEFAULT 0,
			overall_score REAL NOT NULL DEFAULT 0,
			key_moments TEXT NOT NULL DEFAULT '[]',
			outcome TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_jobs (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL REFERENCES calls(id),
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status)`,
		`CREATE TABLE IF NOT EXISTS qa_register (
			call_id TEXT PRIMARY KEY REFERENCES calls(id),
			external_call_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			call_date TIMESTAMP NOT NULL,
			duration INTEGER NOT NULL DEFAULT 0,
			qa_score REAL NOT NULL DEFAULT 0,
			compliance_score REAL NOT NULL DEFAULT 0,
			overall_score REAL NOT NULL DEFAULT 0,
			key_moment_count INTEGER NOT NULL DEFAULT 0,
			reviewer TEXT NOT NULL DEFAULT '',
			review_notes TEXT NOT NULL DEFAULT '',
			disposition TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}
