package output

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// CGO-free SQLite driver
	_ "modernc.org/sqlite"

	"github.com/law-makers/deepcrawl/pkg/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	final_url TEXT,
	depth INTEGER NOT NULL,
	parent_url TEXT,
	status_code INTEGER,
	content_type TEXT,
	title TEXT,
	attempts INTEGER,
	success INTEGER NOT NULL,
	error_kind TEXT,
	error TEXT,
	strategy TEXT,
	raw_markdown TEXT,
	filtered_markdown TEXT,
	partial INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL,
	UNIQUE(run_id, url)
);
CREATE INDEX IF NOT EXISTS idx_crawl_results_depth ON crawl_results(run_id, depth);
`

// SQLiteSink records outcomes in a crawl_results table.
type SQLiteSink struct {
	db    *sql.DB
	runID string
}

// NewSQLiteSink opens (or creates) the database at path. Rows are keyed by
// runID so several runs can share a file.
func NewSQLiteSink(path, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute pragma %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteSink{db: db, runID: runID}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, o *models.CrawlOutcome) error {
	var (
		finalURL, ctype, title string
		status, attempts       int
		strategy, filtered     string
		partial                bool
	)
	if r := o.Result; r != nil {
		finalURL, ctype, title = r.URL, r.ContentType, r.Title
		status, attempts = r.StatusCode, r.Attempts
	}
	if f := o.Filtered; f != nil {
		strategy, partial = f.Strategy, f.Partial
		filtered = f.FitMarkdown
		if filtered == "" {
			filtered = f.FilteredText
		}
	}

	// Writes must land even when the crawl itself is being canceled.
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO crawl_results
			(run_id, url, final_url, depth, parent_url, status_code, content_type, title,
			 attempts, success, error_kind, error, strategy, raw_markdown, filtered_markdown,
			 partial, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, o.Candidate.URL, finalURL, o.Candidate.Depth, o.Candidate.ParentURL,
		status, ctype, title, attempts, o.Succeeded(), string(o.ErrorKind), o.Error,
		strategy, o.RawMarkdown, filtered, partial, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", o.Candidate.URL, err)
	}
	return nil
}

// Count returns the number of rows recorded for the sink's run.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_results WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
