package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"formbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the persistence API used by the holiday cache and the executor.
type Store interface {
	GetHolidays(ctx context.Context, year int) (days []string, ok bool, err error)
	PutHolidays(ctx context.Context, year int, days []string) error
	AppendExecution(ctx context.Context, rec ExecutionRecord) error
	RecentExecutions(ctx context.Context, formID string, limit int) ([]ExecutionRecord, error)
	Close() error
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store at cfg.Path, creating parent directories
// and applying migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetHolidays returns the cached holiday dates for a year. ok is false when
// the year has never been fetched; an empty cached set is still ok=true.
func (s *sqliteStore) GetHolidays(ctx context.Context, year int) ([]string, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var fetched int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM holiday_years WHERE year = ?`, year).Scan(&fetched)
	if err != nil {
		return nil, false, err
	}
	if fetched == 0 {
		return nil, false, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT day FROM holidays WHERE year = ? ORDER BY day`, year)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, false, err
		}
		days = append(days, d)
	}
	return days, true, rows.Err()
}

func (s *sqliteStore) PutHolidays(ctx context.Context, year int, days []string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holiday_years(year, fetched_at) VALUES(?, ?)
		 ON CONFLICT(year) DO NOTHING`,
		year, time.Now().Format(time.RFC3339),
	); err != nil {
		return err
	}
	for _, d := range days {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holidays(year, day) VALUES(?, ?) ON CONFLICT(year, day) DO NOTHING`,
			year, d,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendExecution(ctx context.Context, rec ExecutionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(form_id, at, forced, success, message) VALUES(?,?,?,?,?)`,
		rec.FormID, rec.At.Format(time.RFC3339Nano), boolInt(rec.Forced), boolInt(rec.Success), rec.Message,
	)
	return err
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, formID string, limit int) ([]ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT form_id, at, forced, success, message FROM executions
		 WHERE form_id = ? ORDER BY at DESC LIMIT ?`,
		formID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec             ExecutionRecord
			at              string
			forced, success int
		)
		if err := rows.Scan(&rec.FormID, &at, &forced, &success, &rec.Message); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			rec.At = t
		}
		rec.Forced = forced != 0
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
