// Package query implements C5: it loads a dataset's Parquet bytes into
// an in-process DuckDB engine, asks an LLM to synthesise a single SQL
// statement against the stored schema, executes it, and asks the LLM a
// second time to render the tabular result into a human-readable
// answer — grounded on the noot-app-openfoodfacts-mcp-server query
// engine's Engine{db, parquetPath, log} shape and its retry-on-transient-
// file-error pattern, generalized from a fixed product schema to an
// arbitrary caller-declared one.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	"parquetconv/internal/config"
	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
	"parquetconv/internal/llm"
)

// State is one step of the query state machine.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateRendering State = "rendering"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Answer is the final result of one question.
type Answer struct {
	Message   string
	Truncated bool
	SQL       string
}

// Engine answers natural-language questions against one dataset's
// Parquet bytes, spilled to a local temp file since DuckDB's
// read_parquet needs a filesystem path.
type Engine struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

var selectOnly = regexp.MustCompile(`(?is)^\s*SELECT\b`)

var forbiddenKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|ATTACH|DETACH|COPY|PRAGMA|CALL|EXPORT|IMPORT|VACUUM)\b`)

// Open spills parquetBytes to a temp file and attaches it as view "t"
// inside a fresh in-process DuckDB connection.
func Open(ctx context.Context, parquetBytes []byte, log zerolog.Logger) (*Engine, error) {
	f, err := os.CreateTemp("", "parquetconv-query-*.parquet")
	if err != nil {
		return nil, errs.New(errs.QueryTooLarge, "spilling parquet to disk", err)
	}
	path := f.Name()

	if _, err := f.Write(parquetBytes); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errs.New(errs.QueryTooLarge, "writing parquet spill file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, errs.New(errs.QueryTooLarge, "closing parquet spill file", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		os.Remove(path)
		return nil, errs.New(errs.WriterFailure, "opening duckdb", err)
	}

	e := &Engine{db: db, path: path, log: log}
	if err := e.createView(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) createView(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE VIEW t AS SELECT * FROM read_parquet(%s)", quoteLiteral(e.path))
	if _, err := e.queryWithRetry(ctx, stmt); err != nil {
		return errs.New(errs.SourceUnreadable, "attaching parquet as view", err)
	}
	return nil
}

// Close releases the DuckDB connection and removes the spill file.
func (e *Engine) Close() error {
	err := e.db.Close()
	os.Remove(e.path)
	return err
}

// queryWithRetry retries a query a few times on transient file-access
// errors; the spill file is local, but it may briefly race a
// concurrent filesystem flush under test doubles.
func (e *Engine) queryWithRetry(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	const maxAttempts = 3
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rows, err := e.db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !transientFileError(err) || attempt == maxAttempts-1 {
			return nil, err
		}
		delay := baseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func transientFileError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No such file") || strings.Contains(msg, "cannot open") || strings.Contains(msg, "file not found")
}

// Answer runs the full protocol: synthesise SQL, execute it, render.
func Answer(ctx context.Context, engine *Engine, cfg *config.Config, completer llm.Completer, schema []jobmodel.ColumnSpec, contextText, question string) (result *Answer, err error) {
	state := StateLoading
	defer func() {
		if err != nil {
			state = StateFailed
		}
		engine.log.Debug().Str("state", string(state)).Msg("query state transition")
	}()

	state = StatePlanning
	stmt, err := synthesizeSQL(ctx, completer, cfg, schema, contextText, question)
	if err != nil {
		return nil, err
	}

	state = StateExecuting
	qctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.QueryTimeoutSeconds)*time.Second)
	defer cancel()

	rows, truncated, err := execute(qctx, engine, stmt, cfg.MaxRowsOut)
	if err != nil {
		if qctx.Err() != nil {
			return nil, errs.New(errs.QueryTimeout, "query exceeded timeout", err)
		}
		return nil, err
	}

	state = StateRendering
	message, err := render(ctx, completer, cfg, question, rows, truncated)
	if err != nil {
		return nil, err
	}

	state = StateDone
	return &Answer{Message: message, Truncated: truncated, SQL: stmt}, nil
}

// synthesizeSQL prompts the LLM for one SELECT statement, rejecting and
// retrying with an explicit reason up to cfg.SQLRetry additional times.
func synthesizeSQL(ctx context.Context, completer llm.Completer, cfg *config.Config, schema []jobmodel.ColumnSpec, contextText, question string) (string, error) {
	prompt := sqlPrompt(schema, contextText, question, "")

	var lastReason string
	for attempt := 0; attempt <= cfg.SQLRetry; attempt++ {
		raw, err := completer.Complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), ";"))

		if reason := rejectionReason(stmt); reason != "" {
			lastReason = reason
			prompt = sqlPrompt(schema, contextText, question, reason)
			continue
		}
		return stmt, nil
	}

	return "", errs.New(errs.SqlSynthesisInvalid, "llm did not produce a valid single SELECT statement: "+lastReason, nil)
}

func rejectionReason(stmt string) string {
	if stmt == "" {
		return "empty response"
	}
	if strings.Count(stmt, ";") > 0 {
		return "more than one statement"
	}
	if !selectOnly.MatchString(stmt) {
		return "statement does not start with SELECT"
	}
	if forbiddenKeyword.MatchString(stmt) {
		return "statement contains a DDL/DML keyword"
	}
	return ""
}

func sqlPrompt(schema []jobmodel.ColumnSpec, contextText, question, rejection string) string {
	var sb strings.Builder
	sb.WriteString("You translate natural-language questions into a single DuckDB SQL SELECT statement.\n")
	sb.WriteString("The dataset is available as a view named \"t\" with columns:\n")
	for _, col := range schema {
		fmt.Fprintf(&sb, "- %q: %s\n", col.Name, col.Type)
	}
	if contextText != "" {
		fmt.Fprintf(&sb, "Dataset context: %s\n", contextText)
	}
	sb.WriteString("Rules: exactly one SELECT statement, no DDL or DML, quote column names, ")
	sb.WriteString("use ILIKE with wildcards for string filters to tolerate phrasing variation.\n")
	fmt.Fprintf(&sb, "Question: %s\n", question)
	if rejection != "" {
		fmt.Fprintf(&sb, "Your previous answer was rejected: %s. Produce a corrected single SELECT statement only.\n", rejection)
	}
	sb.WriteString("Respond with only the SQL statement, no commentary.")
	return sb.String()
}

// execute runs stmt and collects up to maxRows rows, reporting
// truncation if a further row was available.
func execute(ctx context.Context, engine *Engine, stmt string, maxRows int) ([]map[string]any, bool, error) {
	rows, err := engine.queryWithRetry(ctx, stmt)
	if err != nil {
		return nil, false, errs.New(errs.SqlSynthesisInvalid, "executing synthesized sql", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, errs.New(errs.WriterFailure, "reading result columns", err)
	}

	var out []map[string]any
	truncated := false
	for rows.Next() {
		if len(out) >= maxRows {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, false, errs.New(errs.WriterFailure, "scanning result row", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errs.New(errs.WriterFailure, "iterating result rows", err)
	}
	return out, truncated, nil
}

func render(ctx context.Context, completer llm.Completer, cfg *config.Config, question string, rows []map[string]any, truncated bool) (string, error) {
	n := len(rows)
	if n > cfg.RenderRowCap {
		n = cfg.RenderRowCap
	}

	table := renderTable(rows[:n])

	var sb strings.Builder
	sb.WriteString("You answer a user's question in plain language from a query result.\n")
	fmt.Fprintf(&sb, "Question: %s\n", question)
	sb.WriteString("Result rows:\n")
	sb.WriteString(table)
	if truncated {
		sb.WriteString("\nNote: the result was truncated to the row cap.\n")
	}
	sb.WriteString("Respond with a concise natural-language answer.")

	return completer.Complete(ctx, sb.String())
}

func renderTable(rows []map[string]any) string {
	if len(rows) == 0 {
		return "(no rows)"
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(cols, "\t"))
	sb.WriteString("\n")
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = fmt.Sprintf("%v", row[c])
		}
		sb.WriteString(strings.Join(vals, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
