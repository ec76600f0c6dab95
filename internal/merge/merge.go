package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	_ "modernc.org/sqlite"

	"mergesched/internal/schedule"
	logx "mergesched/pkg/logx"
)

// Generator is the reference action executor: it runs the payload's query
// against its database, renders one page of the document template per row,
// and writes the merged output next to the template.
//
// Connection strings are SQLite DSNs (e.g. "file:billing.db?mode=ro"); the
// scheduler itself never looks at them.
type Generator struct {
	log logx.Logger
}

func New(log logx.Logger) *Generator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Generator{log: log}
}

// Execute implements catchup.Executor.
func (g *Generator) Execute(ctx context.Context, p schedule.Payload) error {
	tpl, err := template.ParseFiles(p.TemplatePath)
	if err != nil {
		return fmt.Errorf("merge: template: %w", err)
	}

	rows, err := queryRecords(ctx, p.ConnString, p.Query)
	if err != nil {
		return fmt.Errorf("merge: query: %w", err)
	}

	var b strings.Builder
	for i, rec := range rows {
		if i > 0 {
			// Form feed between pages, one page per record.
			b.WriteString("\f\n")
		}
		if err := tpl.Execute(&b, rec); err != nil {
			return fmt.Errorf("merge: render row %d: %w", i, err)
		}
	}

	out, err := outputPath(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("merge: write output: %w", err)
	}

	g.log.Info("document generated",
		logx.String("output", out), logx.Int("rows", len(rows)))
	return nil
}

// Check validates a payload at registration time, before anything is
// persisted: the template must parse and the query must run.
func (g *Generator) Check(ctx context.Context, p schedule.Payload) error {
	if strings.TrimSpace(p.TemplatePath) == "" {
		return errors.New("merge: template path is required")
	}
	if _, err := os.Stat(p.TemplatePath); err != nil {
		return fmt.Errorf("merge: template: %w", err)
	}
	if _, err := template.ParseFiles(p.TemplatePath); err != nil {
		return fmt.Errorf("merge: template: %w", err)
	}
	if _, err := queryRecords(ctx, p.ConnString, p.Query); err != nil {
		return fmt.Errorf("merge: query check: %w", err)
	}
	return nil
}

// queryRecords runs the query and stringifies every cell, keyed by column
// name, the way the rendered template expects it.
func queryRecords(ctx context.Context, dsn, query string) ([]map[string]string, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]string, len(cols))
		for i, c := range cols {
			rec[c] = vals[i].String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
