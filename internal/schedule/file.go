package schedule

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"mergesched/internal/recurrence"
	logx "mergesched/pkg/logx"
)

// fileStore is the dependency-free default backend.
//
// Layout: one section per entry, ordered field lines below it.
//
//	[scheduled_merge_for_invoice.docx_at_9_0_every_2_weeks_1]
//	db_connection_string = file:billing.db
//	db_query = SELECT name, total FROM invoices
//	template_path = ./invoice.docx.tmpl
//	interval_weeks = 2
//	next_Monday = 2026-01-19T09:00:00
//	next_Wednesday = 2026-01-07T09:00:00
//
// Records the engine does not touch are rewritten line-for-line, so fields
// it does not understand survive a load/modify/save cycle. Every write goes
// through a temp file + rename.
type fileStore struct {
	log  logx.Logger
	path string

	// Serializes read-modify-write cycles within this process. Concurrent
	// processes are the invoker's problem, not ours (see catchup docs).
	mu sync.Mutex
}

type record struct {
	key   string
	lines []string // raw field lines, verbatim
}

type fileContents struct {
	header []string // comment lines before the first section
	recs   []record
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadAll(ctx context.Context) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(fc.recs))
	for _, rec := range fc.recs {
		e, err := decodeRecord(rec)
		if err != nil {
			// Token-level damage is isolated to this record: log with the
			// key, skip it for this run, keep its raw lines on disk.
			s.log.Error("skipping undecodable schedule entry",
				logx.String("key", rec.key), logx.Err(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fc.recs))
	for _, rec := range fc.recs {
		keys = append(keys, rec.key)
	}
	return keys, nil
}

func (s *fileStore) Save(ctx context.Context, e Entry) error {
	_ = ctx
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, err := s.readLocked()
	if err != nil {
		return err
	}

	rec := record{key: e.Key, lines: encodeEntry(e)}
	replaced := false
	for i := range fc.recs {
		if fc.recs[i].key == e.Key {
			fc.recs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		fc.recs = append(fc.recs, rec)
	}
	return s.writeLocked(fc)
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, err := s.readLocked()
	if err != nil {
		return err
	}
	for i := range fc.recs {
		if fc.recs[i].key == key {
			fc.recs = append(fc.recs[:i], fc.recs[i+1:]...)
			return s.writeLocked(fc)
		}
	}
	return fmt.Errorf("%w: %q", ErrNotFound, key)
}

// readLocked parses the backing file. A missing file is recreated empty and
// well-formed; an unparsable one fails with ErrCorrupt and is left alone.
func (s *fileStore) readLocked() (*fileContents, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("store file missing; recreating empty", logx.String("path", s.path))
		if werr := s.writeLocked(&fileContents{}); werr != nil {
			return nil, werr
		}
		return &fileContents{}, nil
	}
	if err != nil {
		return nil, err
	}
	fc, err := parseStoreFile(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return fc, nil
}

func (s *fileStore) writeLocked(fc *fileContents) error {
	var b bytes.Buffer
	for _, h := range fc.header {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	for i, rec := range fc.recs {
		if i > 0 || len(fc.header) > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[")
		b.WriteString(rec.key)
		b.WriteString("]\n")
		for _, line := range rec.lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func parseStoreFile(data []byte) (*fileContents, error) {
	fc := &fileContents{}
	seen := map[string]bool{}
	var cur *record

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trim := strings.TrimSpace(line)

		switch {
		case trim == "":
			// record separators; normalized on rewrite
		case strings.HasPrefix(trim, "["):
			if !strings.HasSuffix(trim, "]") {
				return nil, fmt.Errorf("line %d: unterminated section header", lineNo)
			}
			key := strings.TrimSpace(trim[1 : len(trim)-1])
			if key == "" {
				return nil, fmt.Errorf("line %d: empty section key", lineNo)
			}
			if seen[key] {
				return nil, fmt.Errorf("line %d: duplicate key %q", lineNo, key)
			}
			seen[key] = true
			fc.recs = append(fc.recs, record{key: key})
			cur = &fc.recs[len(fc.recs)-1]
		case strings.HasPrefix(trim, "#") || strings.HasPrefix(trim, ";"):
			if cur == nil {
				fc.header = append(fc.header, line)
			} else {
				cur.lines = append(cur.lines, line)
			}
		default:
			if cur == nil {
				return nil, fmt.Errorf("line %d: field outside any section", lineNo)
			}
			if !strings.Contains(line, "=") {
				return nil, fmt.Errorf("line %d: not a field line", lineNo)
			}
			cur.lines = append(cur.lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return fc, nil
}

// ---- record <-> entry codec ----

const (
	fieldConnString = "db_connection_string"
	fieldQuery      = "db_query"
	fieldTemplate   = "template_path"
	fieldOutput     = "output_name"
	fieldInterval   = "interval_weeks"
	firePrefix      = "next_"
)

func encodeEntry(e Entry) []string {
	lines := make([]string, 0, 5+len(e.NextFire)+len(e.Extra))
	lines = append(lines,
		fieldConnString+" = "+e.Payload.ConnString,
		fieldQuery+" = "+e.Payload.Query,
		fieldTemplate+" = "+e.Payload.TemplatePath,
	)
	if e.Payload.OutputName != "" {
		lines = append(lines, fieldOutput+" = "+e.Payload.OutputName)
	}
	lines = append(lines, fieldInterval+" = "+strconv.Itoa(e.IntervalWeeks))
	for _, d := range e.Weekdays() {
		lines = append(lines, firePrefix+recurrence.WeekdayName(d)+" = "+e.NextFire[d].Format(TimeLayout))
	}
	for _, f := range e.Extra {
		lines = append(lines, f.Name+" = "+f.Value)
	}
	return lines
}

func decodeRecord(rec record) (Entry, error) {
	e := Entry{Key: rec.key, NextFire: map[time.Weekday]time.Time{}}
	for _, line := range rec.lines {
		trim := strings.TrimSpace(line)
		if trim == "" || strings.HasPrefix(trim, "#") || strings.HasPrefix(trim, ";") {
			continue
		}
		name, value, ok := strings.Cut(trim, "=")
		if !ok {
			return Entry{}, fmt.Errorf("%w: %q: bad field line", ErrMalformed, rec.key)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch {
		case name == fieldConnString:
			e.Payload.ConnString = value
		case name == fieldQuery:
			e.Payload.Query = value
		case name == fieldTemplate:
			e.Payload.TemplatePath = value
		case name == fieldOutput:
			e.Payload.OutputName = value
		case name == fieldInterval:
			n, err := strconv.Atoi(value)
			if err != nil {
				return Entry{}, fmt.Errorf("%w: %q: interval_weeks: %v", ErrMalformed, rec.key, err)
			}
			e.IntervalWeeks = n
		case strings.HasPrefix(name, firePrefix):
			d, err := recurrence.ParseWeekday(strings.TrimPrefix(name, firePrefix))
			if err != nil {
				return Entry{}, fmt.Errorf("%w: %q: field %q: %v", ErrMalformed, rec.key, name, err)
			}
			ts, err := time.ParseInLocation(TimeLayout, value, time.Local)
			if err != nil {
				return Entry{}, fmt.Errorf("%w: %q: field %q: %v", ErrMalformed, rec.key, name, err)
			}
			if _, dup := e.NextFire[d]; dup {
				return Entry{}, fmt.Errorf("%w: %q: duplicate fire for %s", ErrMalformed, rec.key, recurrence.WeekdayName(d))
			}
			e.NextFire[d] = ts
		default:
			e.Extra = append(e.Extra, Field{Name: name, Value: value})
		}
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}
