// Package history records every render invocation in a local SQLite
// database so failures can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status of a render row.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StaleAfter is how long a running render may go unfinished before Open
// treats it as abandoned even if its process still seems to exist.
const StaleAfter = 24 * time.Hour

// ErrNotFound is returned when no render has the requested id.
var ErrNotFound = errors.New("render not found")

// Render is one recorded render invocation.
type Render struct {
	ID              string     `json:"id" yaml:"id"`
	TemplatePath    string     `json:"templatePath" yaml:"template_path"`
	Width           int        `json:"width" yaml:"width"`
	Height          int        `json:"height" yaml:"height"`
	FPS             float64    `json:"fps" yaml:"fps"`
	DurationSeconds float64    `json:"durationSeconds" yaml:"duration_seconds"`
	TotalFrames     int        `json:"totalFrames" yaml:"total_frames"`
	Format          string     `json:"format" yaml:"format"`
	Status          Status     `json:"status" yaml:"status"`
	ErrorCode       string     `json:"errorCode,omitempty" yaml:"error_code,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
	FailedFrame     *int       `json:"failedFrame,omitempty" yaml:"failed_frame,omitempty"`
	ErrorDetails    string     `json:"errorDetails,omitempty" yaml:"error_details,omitempty"`
	OutputPath      string     `json:"outputPath,omitempty" yaml:"output_path,omitempty"`
	OutputBytes     int64      `json:"outputBytes,omitempty" yaml:"output_bytes,omitempty"`
	StartedAt       time.Time  `json:"startedAt" yaml:"started_at"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
}

// Store is the render history database.
type Store struct {
	conn   *sql.DB
	logger logging.Logger
	now    func() time.Time
	pid    int
	host   string
	alive  func(pid int) bool
}

// Open opens or creates the database at path and applies migrations. Rows
// still marked running whose process is gone, or that are older than
// StaleAfter, are marked failed. Rows owned by a live process, possibly a
// concurrent render, are left alone. The path ":memory:" opens a private
// in-memory database.
func Open(path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	logger = logger.WithComponent("history")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeInvalidPath, "failed to create history directory")
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	host, _ := os.Hostname()
	s := &Store{
		conn:   conn,
		logger: logger,
		now:    time.Now,
		pid:    os.Getpid(),
		host:   host,
		alive:  processAlive,
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if n, err := s.markInterrupted(); err != nil {
		logger.Warn(context.Background(), err, "Failed to mark interrupted renders")
	} else if n > 0 {
		logger.Info(context.Background(), "Marked interrupted renders as failed", "count", n)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if s.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		s.logger.Debug(context.Background(), "Applied migration", "name", name)
	}
	return nil
}

func (s *Store) isMigrationApplied(name string) bool {
	var exists int
	err := s.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = s.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

func (s *Store) markInterrupted() (int64, error) {
	ctx := context.Background()
	rows, err := s.conn.QueryContext(ctx, `SELECT id, pid, host, started_at FROM renders WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}

	var abandoned []string
	for rows.Next() {
		var (
			id, host, startedAt string
			pid                 int
		)
		if err := rows.Scan(&id, &pid, &host, &startedAt); err != nil {
			rows.Close()
			return 0, err
		}
		started, err := parseTime(startedAt)
		if err != nil || s.abandoned(pid, host, started) {
			abandoned = append(abandoned, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	finished := formatTime(s.now())
	var n int64
	for _, id := range abandoned {
		res, err := s.conn.ExecContext(ctx,
			`UPDATE renders SET status = 'failed', error_message = 'interrupted before completion', finished_at = ?
			 WHERE id = ? AND status = 'running'`,
			finished, id)
		if err != nil {
			return n, err
		}
		if affected, err := res.RowsAffected(); err == nil {
			n += affected
		}
	}
	return n, nil
}

// abandoned decides whether a running row can no longer finish. Liveness can
// only be checked for rows started on this host; rows without an owner
// predate owner tracking.
func (s *Store) abandoned(pid int, host string, started time.Time) bool {
	if s.now().Sub(started) > StaleAfter {
		return true
	}
	if pid == 0 {
		return true
	}
	if host != s.host {
		return false
	}
	return !s.alive(pid)
}

// Start records a new running render and returns it with its id and start
// time set.
func (s *Store) Start(ctx context.Context, r Render) (Render, error) {
	r.ID = uuid.NewString()
	r.Status = StatusRunning
	r.StartedAt = s.now().UTC()
	r.FinishedAt = nil

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO renders (id, template_path, width, height, fps, duration_seconds, total_frames, format, status, started_at, pid, host)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TemplatePath, r.Width, r.Height, r.FPS, r.DurationSeconds, r.TotalFrames, r.Format, string(r.Status), formatTime(r.StartedAt),
		s.pid, s.host)
	if err != nil {
		return Render{}, fmt.Errorf("failed to record render start: %w", err)
	}
	return r, nil
}

// Succeed marks a render finished with its output.
func (s *Store) Succeed(ctx context.Context, id, outputPath string, outputBytes int64) error {
	return s.finish(ctx, id,
		`UPDATE renders SET status = 'succeeded', output_path = ?, output_bytes = ?, finished_at = ? WHERE id = ?`,
		outputPath, outputBytes, formatTime(s.now()), id)
}

// Fail marks a render failed. Template runtime failures keep their frame and
// details so the failure can be reproduced without re-running the job.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	var (
		message     string
		details     string
		failedFrame *int
	)
	if cause != nil {
		message = cause.Error()
	}

	var rte *errors.TemplateRuntimeError
	if errors.As(cause, &rte) {
		frame := rte.Details.Frame
		failedFrame = &frame
		if raw, err := rte.JSON(); err == nil {
			details = string(raw)
		}
	}

	return s.finish(ctx, id,
		`UPDATE renders SET status = 'failed', error_code = ?, error_message = ?, failed_frame = ?, error_details = ?, finished_at = ? WHERE id = ?`,
		errors.CodeOf(cause), message, failedFrame, details, formatTime(s.now()), id)
}

func (s *Store) finish(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update render %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	return nil
}

const selectColumns = `id, template_path, width, height, fps, duration_seconds, total_frames, format, status,
	error_code, error_message, failed_frame, error_details, output_path, output_bytes, started_at, finished_at`

// Get returns one render. An unknown id wraps ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Render, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM renders WHERE id = ?`, id)
	r, err := scanRender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Render{}, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	return r, err
}

// List returns the most recent renders first. A non-positive limit returns
// every row.
func (s *Store) List(ctx context.Context, limit int) ([]Render, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM renders ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	var out []Render
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRender(sc scanner) (Render, error) {
	var (
		r           Render
		status      string
		failedFrame sql.NullInt64
		startedAt   string
		finishedAt  sql.NullString
	)
	err := sc.Scan(&r.ID, &r.TemplatePath, &r.Width, &r.Height, &r.FPS, &r.DurationSeconds, &r.TotalFrames,
		&r.Format, &status, &r.ErrorCode, &r.ErrorMessage, &failedFrame, &r.ErrorDetails, &r.OutputPath,
		&r.OutputBytes, &startedAt, &finishedAt)
	if err != nil {
		return Render{}, err
	}

	r.Status = Status(status)
	if failedFrame.Valid {
		frame := int(failedFrame.Int64)
		r.FailedFrame = &frame
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return Render{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Render{}, err
		}
		r.FinishedAt = &t
	}
	return r, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
