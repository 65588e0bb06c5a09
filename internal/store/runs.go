// Package store persists the history of pipeline runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run status values
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// Run is the record of one pipeline invocation. Snapshots are not kept.
type Run struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Steps      []string  `json:"steps"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	InputBytes int       `json:"input_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStore defines the interface for run persistence
type RunStore interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	Statistics(ctx context.Context) (map[string]interface{}, error)
	Ping(ctx context.Context) error
	Close() error
}

const defaultLimit = 50

// SQLiteRunStore implements RunStore using SQLite
type SQLiteRunStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// SQLiteConfig holds configuration for the SQLite store
type SQLiteConfig struct {
	Path string
}

// DefaultSQLiteConfig returns default configuration
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path: "./data/mediaprep.db",
	}
}

// NewSQLiteRunStore opens or creates the database at cfg.Path
func NewSQLiteRunStore(cfg SQLiteConfig) (*SQLiteRunStore, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteRunStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteRunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		steps TEXT NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		input_bytes INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun inserts a run. CreatedAt defaults to now.
func (s *SQLiteRunStore) RecordRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	steps, err := json.Marshal(stepsOrEmpty(run.Steps))
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, operation, status, steps, error, duration_ms, input_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Operation, run.Status, string(steps), run.Error, run.DurationMS, run.InputBytes, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var steps string
	if err := row.Scan(&run.ID, &run.Operation, &run.Status, &steps, &run.Error, &run.DurationMS, &run.InputBytes, &run.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, operation, status, steps, error, duration_ms, input_bytes, created_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs, newest first
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, status, steps, error, duration_ms, input_bytes, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Statistics returns run counts and the mean duration
func (s *SQLiteRunStore) Statistics(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var total, failed int64
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0), AVG(duration_ms)
		FROM runs
	`, StatusFailed).Scan(&total, &failed, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	stats["total_runs"] = total
	stats["failed_runs"] = failed
	if avg.Valid {
		stats["avg_duration_ms"] = avg.Float64
	}

	rows, err := s.db.QueryContext(ctx, `SELECT operation, COUNT(*) FROM runs GROUP BY operation`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	byOperation := make(map[string]int64)
	for rows.Next() {
		var op string
		var n int64
		if err := rows.Scan(&op, &n); err != nil {
			return nil, fmt.Errorf("failed to scan operation count: %w", err)
		}
		byOperation[op] = n
	}
	stats["runs_by_operation"] = byOperation

	return stats, rows.Err()
}

// Ping checks the database connection
func (s *SQLiteRunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

func stepsOrEmpty(steps []string) []string {
	if steps == nil {
		return []string{}
	}
	return steps
}

// MemoryRunStore is an in-memory implementation for testing and for
// running without a database
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	seq  map[string]int
}

// NewMemoryRunStore creates an empty in-memory store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*Run),
		seq:  make(map[string]int),
	}
}

// RecordRun stores a copy of run
func (s *MemoryRunStore) RecordRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("failed to record run: duplicate id %s", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	stored := *run
	stored.Steps = append([]string{}, run.Steps...)
	s.runs[run.ID] = &stored
	s.seq[run.ID] = len(s.seq)
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *run
	return &out, nil
}

// ListRuns returns runs, newest first
func (s *MemoryRunStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultLimit
	}

	all := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out := *run
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return s.seq[all[i].ID] > s.seq[all[j].ID]
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*Run{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

// Statistics returns run counts and the mean duration
func (s *MemoryRunStore) Statistics(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed, duration int64
	byOperation := make(map[string]int64)
	for _, run := range s.runs {
		if run.Status == StatusFailed {
			failed++
		}
		duration += run.DurationMS
		byOperation[run.Operation]++
	}

	stats := map[string]interface{}{
		"total_runs":        int64(len(s.runs)),
		"failed_runs":       failed,
		"runs_by_operation": byOperation,
	}
	if len(s.runs) > 0 {
		stats["avg_duration_ms"] = float64(duration) / float64(len(s.runs))
	}
	return stats, nil
}

// Ping always succeeds
func (s *MemoryRunStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryRunStore) Close() error {
	return nil
}
