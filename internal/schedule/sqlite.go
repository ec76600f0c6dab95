//go:build sqlite
// +build sqlite

package schedule

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

	"mergesched/internal/recurrence"
	logx "mergesched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
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
		return nil, fmt.Errorf("%w: migrate: %v", ErrCorrupt, err)
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

func (s *sqliteStore) LoadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, conn_string, query, template_path, COALESCE(output_name, ''), interval_weeks
		 FROM entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Payload.ConnString, &e.Payload.Query,
			&e.Payload.TemplatePath, &e.Payload.OutputName, &e.IntervalWeeks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out := entries[:0]
	for i := range entries {
		e := &entries[i]
		if err := s.loadDetails(ctx, e); err != nil {
			s.log.Error("skipping undecodable schedule entry",
				logx.String("key", e.Key), logx.Err(err))
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *sqliteStore) loadDetails(ctx context.Context, e *Entry) error {
	e.NextFire = map[time.Weekday]time.Time{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT weekday, fire_at FROM fires WHERE entry_key = ? ORDER BY weekday`, e.Key)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var dayName, at string
		if err := rows.Scan(&dayName, &at); err != nil {
			return err
		}
		d, err := recurrence.ParseWeekday(dayName)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		ts, err := time.ParseInLocation(TimeLayout, at, time.Local)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		e.NextFire[d] = ts
	}
	if err := rows.Err(); err != nil {
		return err
	}

	xrows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM extras WHERE entry_key = ? ORDER BY ord`, e.Key)
	if err != nil {
		return err
	}
	defer xrows.Close()
	for xrows.Next() {
		var f Field
		if err := xrows.Scan(&f.Name, &f.Value); err != nil {
			return err
		}
		e.Extra = append(e.Extra, f)
	}
	if err := xrows.Err(); err != nil {
		return err
	}

	return e.Validate()
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries(key, conn_string, query, template_path, output_name, interval_weeks)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   conn_string=excluded.conn_string, query=excluded.query,
		   template_path=excluded.template_path, output_name=excluded.output_name,
		   interval_weeks=excluded.interval_weeks`,
		e.Key, e.Payload.ConnString, e.Payload.Query, e.Payload.TemplatePath,
		nullStr(e.Payload.OutputName), e.IntervalWeeks)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fires WHERE entry_key = ?`, e.Key); err != nil {
		return err
	}
	for _, d := range e.Weekdays() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fires(entry_key, weekday, fire_at) VALUES(?,?,?)`,
			e.Key, recurrence.WeekdayName(d), e.NextFire[d].Format(TimeLayout))
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM extras WHERE entry_key = ?`, e.Key); err != nil {
		return err
	}
	for i, f := range e.Extra {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO extras(entry_key, ord, name, value) VALUES(?,?,?,?)`,
			e.Key, i, f.Name, f.Value)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fires WHERE entry_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extras WHERE entry_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
