package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"igbatch/pkg/batch"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	username     TEXT PRIMARY KEY,
	last_scraped INTEGER,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	username       TEXT NOT NULL REFERENCES accounts(username) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	url            TEXT NOT NULL,
	date           INTEGER NOT NULL,
	date_estimated BOOLEAN NOT NULL DEFAULT 0,
	caption        TEXT NOT NULL,
	image_url      TEXT,
	video_id       TEXT,
	scraped_at     INTEGER NOT NULL,
	PRIMARY KEY (username, position)
);

CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	started_at         INTEGER NOT NULL,
	finished_at        INTEGER NOT NULL,
	total              INTEGER NOT NULL,
	success_count      INTEGER NOT NULL,
	total_recent_posts INTEGER NOT NULL,
	source             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store keeps tracked accounts, their last posts and the batch history in
// SQLite
type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps pragmas and in-memory databases consistent
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: log, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func normalizeUsername(username string) (string, error) {
	username = instagram.SanitizeUsername(username)
	if !instagram.IsValidUsername(username) {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// AddAccount starts tracking username
func (s *Store) AddAccount(ctx context.Context, username string) (*Account, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, created_at) VALUES (?, ?) ON CONFLICT(username) DO NOTHING`,
		username, created.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to add account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAccountExists
	}
	return &Account{Username: username, CreatedAt: time.UnixMilli(created.UnixMilli()).UTC(), LastPosts: []StoredPost{}}, nil
}

// RemoveAccount stops tracking username and drops its posts
func (s *Store) RemoveAccount(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = ?`, instagram.SanitizeUsername(username))
	if err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAccounts returns every tracked account ordered by username, without
// posts
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, last_scraped, created_at FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// Usernames returns the tracked usernames ordered by name
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(accounts))
	for i, a := range accounts {
		names[i] = a.Username
	}
	return names, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a           Account
		lastScraped sql.NullInt64
		created     int64
	)
	if err := row.Scan(&a.Username, &lastScraped, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	if lastScraped.Valid {
		t := time.UnixMilli(lastScraped.Int64).UTC()
		a.LastScraped = &t
	}
	a.LastPosts = []StoredPost{}
	return &a, nil
}

// GetAccount returns one account with the posts of its last successful
// scrape
func (s *Store) GetAccount(ctx context.Context, username string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, last_scraped, created_at FROM accounts WHERE username = ?`,
		instagram.SanitizeUsername(username))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, date, date_estimated, caption, image_url, video_id
		FROM posts WHERE username = ? ORDER BY position`, a.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        StoredPost
			date     int64
			imageURL sql.NullString
			videoID  sql.NullString
		)
		if err := rows.Scan(&p.URL, &date, &p.DateEstimated, &p.Caption, &imageURL, &videoID); err != nil {
			return nil, err
		}
		p.Date = time.UnixMilli(date).UTC()
		if imageURL.Valid {
			p.ImageURL = &imageURL.String
		}
		if videoID.Valid {
			p.VideoID = &videoID.String
		}
		a.LastPosts = append(a.LastPosts, p)
	}
	return a, rows.Err()
}

// RecordReport stores the outcome of a batch: every successful account
// with posts gets its last-scraped time set and its last posts replaced.
// Other accounts are left untouched. It returns the number of accounts
// updated.
func (s *Store) RecordReport(ctx context.Context, report *batch.Report) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scrapedAt := report.FinishedAt
	if scrapedAt.IsZero() {
		scrapedAt = s.now()
	}
	ts := scrapedAt.UnixMilli()

	updated := 0
	for _, result := range report.Results {
		if !result.Success || len(result.Posts) == 0 {
			continue
		}
		username := instagram.SanitizeUsername(result.Username)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (username, last_scraped, created_at) VALUES (?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET last_scraped = excluded.last_scraped`,
			username, ts, ts); err != nil {
			return 0, fmt.Errorf("failed to update account %s: %w", username, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE username = ?`, username); err != nil {
			return 0, fmt.Errorf("failed to clear posts of %s: %w", username, err)
		}
		for i, p := range result.Posts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO posts (username, position, url, date, date_estimated, caption, image_url, video_id, scraped_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				username, i, p.URL, p.Date.UnixMilli(), p.DateEstimated, p.Caption,
				nullable(p.ImageURL), nullable(p.VideoID), ts); err != nil {
				return 0, fmt.Errorf("failed to store post of %s: %w", username, err)
			}
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit report: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"batch_id": report.ID,
		"accounts": updated,
	}).Debug("Report recorded")
	return updated, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// RecordRun appends the batch to the run history. trigger names what
// started it, e.g. "cli", "http" or "schedule".
func (s *Store) RecordRun(ctx context.Context, report *batch.Report, trigger string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total, success_count, total_recent_posts, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
		report.Total, report.SuccessCount, report.TotalRecentPosts, strings.TrimSpace(trigger))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first; limit <= 0 returns all
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, total, success_count, total_recent_posts, source FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Total, &r.SuccessCount, &r.TotalRecentPosts, &r.Trigger); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
