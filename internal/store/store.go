// Package store is the gateway to the orchestrator's relational state:
// projects, tasks, runs, tool calls, evaluations, summaries, suggestions,
// improvement history and knowledge assets. All components hold only ids
// and value snapshots; entity lifetimes belong to the store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timeFormat is the ISO-8601 representation used for every timestamp
// column. Lexicographic order matches chronological order.
const timeFormat = time.RFC3339

// Store wraps a SQLite database with typed operations. It is safe for
// concurrent use by multiple workers.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open initializes the SQLite database at path, creating the schema if
// needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection serializes writers; WAL keeps readers cheap.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("store opened", zap.String("path", path))
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	projectsTable := `
	CREATE TABLE IF NOT EXISTS orch_projects (
		id TEXT PRIMARY KEY,
		local_directory TEXT NOT NULL,
		session_name TEXT,
		repository_url TEXT
	);
	`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS orch_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		completion_note TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON orch_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON orch_tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON orch_tasks(created_at);
	`

	runsTable := `
	CREATE TABLE IF NOT EXISTS orch_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		project_id TEXT NOT NULL,
		instruction TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		exit_code INTEGER,
		stdout_preview TEXT,
		full_output_path TEXT,
		duration_seconds INTEGER,
		timeout_seconds INTEGER,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_project ON orch_runs(project_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON orch_runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON orch_runs(created_at);
	`

	toolCallsTable := `
	CREATE TABLE IF NOT EXISTS orch_tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		sequence_number INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		parameters TEXT,
		category TEXT,
		success BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON orch_tool_calls(run_id);
	`

	evaluationsTable := `
	CREATE TABLE IF NOT EXISTS orch_evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		task_id INTEGER NOT NULL,
		overall_score REAL,
		failure_category TEXT,
		evaluation_details TEXT,
		improvement_suggestions TEXT,
		tool_usage_analysis TEXT,
		error_patterns TEXT,
		evaluator TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_run ON orch_evaluations(run_id);
	`

	summariesTable := `
	CREATE TABLE IF NOT EXISTS orch_project_summaries (
		project_id TEXT PRIMARY KEY,
		current_status TEXT,
		next_milestone TEXT,
		recent_progress TEXT,
		updated_at TEXT NOT NULL
	);
	`

	suggestionsTable := `
	CREATE TABLE IF NOT EXISTS orch_suggestions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		source TEXT,
		priority INTEGER DEFAULT 0,
		created_by TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_project ON orch_suggestions(project_id);
	`

	improvementsTable := `
	CREATE TABLE IF NOT EXISTS orch_improvement_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_details TEXT,
		target_files TEXT,
		changes_summary TEXT,
		before_avg_score REAL,
		applied_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_improvements_project ON orch_improvement_history(project_id);
	CREATE INDEX IF NOT EXISTS idx_improvements_applied ON orch_improvement_history(applied_at);
	`

	assetsTable := `
	CREATE TABLE IF NOT EXISTS orch_knowledge_assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content TEXT,
		content_hash TEXT,
		version INTEGER DEFAULT 1,
		auto_generated BOOLEAN DEFAULT FALSE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_project ON orch_knowledge_assets(project_id);
	`

	for _, table := range []string{
		projectsTable,
		tasksTable,
		runsTable,
		toolCallsTable,
		evaluationsTable,
		summariesTable,
		suggestionsTable,
		improvementsTable,
		assetsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Debug("closing store", zap.String("path", s.path))
	return s.db.Close()
}

// now returns the current UTC time truncated to second precision, which
// is what the TEXT timestamp columns can represent.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// formatTime renders t for a timestamp column.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime reads a timestamp column; the zero time on empty input.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
