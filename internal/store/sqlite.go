package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/seantiz/wart/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    token       TEXT NOT NULL,
    namespace   TEXT NOT NULL,
    args        TEXT NOT NULL,
    status      TEXT NOT NULL,
    tables      INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createRunsTokenIndex = `
CREATE INDEX IF NOT EXISTS runs_token_created ON runs (token, created_at)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    seq        INTEGER NOT NULL,
    level      TEXT NOT NULL,
    line       TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (run_id, seq)
)`

const runColumns = `id, token, namespace, args, status, tables, error, duration_ms, created_at, finished_at`

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []struct{ name, sql string }{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"create runs table", createRunsTable},
		{"create runs index", createRunsTokenIndex},
		{"create log_lines table", createLogLinesTable},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	args, err := sonic.MarshalString(r.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Token, r.Namespace, args, r.Status, r.Tables, r.Error,
		r.DurationMS, r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	var args string
	if err := sc.Scan(
		&r.ID, &r.Token, &r.Namespace, &args, &r.Status, &r.Tables, &r.Error,
		&r.DurationMS, &r.CreatedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	if err := sonic.UnmarshalString(args, &r.Args); err != nil {
		return nil, fmt.Errorf("decode args of run %s: %w", r.ID, err)
	}
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a page of a session's runs ordered by created_at DESC,
// along with the session's total run count.
func (s *SQLiteStore) ListRuns(ctx context.Context, token string, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE token = ?", token).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE token = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, token, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// FinishRun moves a running run to its terminal status and records its
// outcome. finished_at defaults to now.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	if !model.ValidTransition(model.StatusRunning, r.Status) {
		return fmt.Errorf("%s -> %s: %w", model.StatusRunning, r.Status, ErrInvalidTransition)
	}
	finished := time.Now().UTC()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, tables = ?, error = ?, duration_ms = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		r.Status, r.Tables, r.Error, r.DurationMS, finished, r.ID, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := s.GetRun(ctx, r.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s -> %s: %w", current.Status, r.Status, ErrInvalidTransition)
}

// GetRunStats aggregates the ledger.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus:    make(map[string]int),
		CountByNamespace: make(map[string]int),
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT token), AVG(duration_ms) FROM runs`,
	).Scan(&stats.Total, &stats.Sessions, &avg)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	for _, group := range []struct {
		column string
		into   map[string]int
	}{
		{"status", stats.CountByStatus},
		{"namespace", stats.CountByNamespace},
	} {
		if err := s.countBy(ctx, group.column, group.into); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM runs GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertLogLine appends a guest log line to a run.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, runID string, seq int, level, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_lines (run_id, seq, level, line, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, level, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns a run's log lines in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, runID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, level, line, created_at FROM log_lines
		WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	lines := []model.LogLine{}
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.RunID, &l.Seq, &l.Level, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}
