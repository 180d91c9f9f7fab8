// Package history records the lifecycle of every supervised instance in
// SQLite, so past runs and their exit reasons survive a restart.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/launchdeck/internal/supervisor"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// timeLayout has a fixed-width fraction so stored times sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one row of instance_history.
type Entry struct {
	UID        string     `json:"uid"`
	Type       string     `json:"type"`
	PID        int        `json:"pid"`
	Command    string     `json:"command"`
	Args       []string   `json:"args"`
	WorkDir    string     `json:"work_dir,omitempty"`
	LogPath    string     `json:"log_path,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
}

// Running reports whether the entry has no recorded stop.
func (e Entry) Running() bool {
	return e.StoppedAt == nil
}

// Filter controls which entries List returns.
type Filter struct {
	Type        string // optional: only this process type
	RunningOnly bool   // only entries without a stop
	Limit       int    // default 50, max 500
	Offset      int
}

// Repository is the history store. It satisfies supervisor.HistoryRecorder.
type Repository interface {
	RecordStart(ctx context.Context, inst supervisor.Instance) error
	RecordStop(ctx context.Context, inst supervisor.Instance, reason supervisor.StopReason) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
	MarkAbandoned(ctx context.Context, at time.Time) (int64, error)
}

// SQLiteRepository stores history in the instance_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ supervisor.HistoryRecorder = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordStart inserts a row for a newly started instance.
func (r *SQLiteRepository) RecordStart(ctx context.Context, inst supervisor.Instance) error {
	args, err := json.Marshal(nonNil(inst.Launch.Args))
	if err != nil {
		return fmt.Errorf("marshalling args: %w", err)
	}

	started := inst.StartedAt
	if started.IsZero() {
		started = r.now()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO instance_history (uid, type, pid, command, args, work_dir, log_path, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.UID, inst.Type, inst.PID, inst.Launch.Command, string(args),
		inst.Launch.WorkDir, inst.LogPath, formatTime(started),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// RecordStop completes the row for a removed instance. A missing row is
// not an error; the start may have been recorded by an earlier database.
func (r *SQLiteRepository) RecordStop(ctx context.Context, inst supervisor.Instance, reason supervisor.StopReason) error {
	var exitCode any
	if inst.ExitCode >= 0 {
		exitCode = inst.ExitCode
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE instance_history SET stopped_at = ?, stop_reason = ?, exit_code = ?
		 WHERE uid = ? AND stopped_at IS NULL`,
		formatTime(r.now()), string(reason), exitCode, inst.UID,
	)
	if err != nil {
		return fmt.Errorf("updating history entry: %w", err)
	}
	return nil
}

// MarkAbandoned closes every open entry. It is run at startup, when any
// instance still marked running belonged to a previous process.
func (r *SQLiteRepository) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE instance_history SET stopped_at = ?, stop_reason = 'abandoned'
		 WHERE stopped_at IS NULL`,
		formatTime(at),
	)
	if err != nil {
		return 0, fmt.Errorf("closing abandoned entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting abandoned entries: %w", err)
	}
	return n, nil
}

// List returns entries newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Limit = min(filter.Limit, maxLimit)
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.RunningOnly {
		conditions = append(conditions, "stopped_at IS NULL")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed, parameterised conditions
		`SELECT uid, type, pid, command, args, work_dir, log_path, started_at, stopped_at, stop_reason, exit_code
		 FROM instance_history %s ORDER BY started_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var argsJSON, startedAt string
	var stoppedAt, reason sql.NullString
	var exitCode sql.NullInt64

	if err := rows.Scan(&e.UID, &e.Type, &e.PID, &e.Command, &argsJSON, &e.WorkDir, &e.LogPath,
		&startedAt, &stoppedAt, &reason, &exitCode); err != nil {
		return Entry{}, fmt.Errorf("scanning history entry: %w", err)
	}

	if err := json.Unmarshal([]byte(argsJSON), &e.Args); err != nil {
		return Entry{}, fmt.Errorf("decoding args of %s: %w", e.UID, err)
	}

	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
	}
	e.StartedAt = t

	if stoppedAt.Valid {
		t, err := time.Parse(timeLayout, stoppedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parsing stopped_at %q: %w", stoppedAt.String, err)
		}
		e.StoppedAt = &t
	}
	if reason.Valid {
		e.StopReason = reason.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
