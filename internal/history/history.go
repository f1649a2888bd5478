// Package history keeps a rolling SQLite log of per-account usage
// records, one row per account per fetch cycle, trimmed by age.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
)

// Entry is one logged usage row.
type Entry struct {
	AccountID   string         `json:"account_id"`
	Status      models.Status  `json:"status"`
	Requests    uint64         `json:"requests"`
	Cost        models.CostUSD `json:"cost"`
	Tokens      uint64         `json:"tokens"`
	QuotaUsed   uint64         `json:"quota_used"`
	QuotaLimit  uint64         `json:"quota_limit"`
	Source      string         `json:"source"`
	CollectedAt time.Time      `json:"collected_at"`
}

// Log is the rolling usage log. Appends happen once per fetch cycle;
// a background pass deletes rows older than the retention window.
type Log struct {
	db        *sql.DB
	logger    *logging.Logger
	retention time.Duration

	trimTicker *time.Ticker
	done       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

// Open creates or opens the log database with WAL mode enabled.
func Open(path string, retention time.Duration, logger *logging.Logger) (*Log, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: path, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: path, Err: err}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Log{
		db:        db,
		logger:    logger,
		retention: retention,
		done:      make(chan struct{}),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			status TEXT NOT NULL,
			requests INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			quota_used INTEGER NOT NULL DEFAULT 0,
			quota_limit INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			collected_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_history_account_time
			ON usage_history(account_id, collected_at);
		CREATE INDEX IF NOT EXISTS idx_usage_history_time
			ON usage_history(collected_at);
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create usage_history", Err: err}
	}
	return nil
}

// Append logs every record of one snapshot in a single transaction.
func (l *Log) Append(ctx context.Context, snapshot *models.Snapshot) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin append", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_history
			(account_id, status, requests, cost, tokens, quota_used, quota_limit, source, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "prepare append", Err: err}
	}
	defer stmt.Close()

	for _, record := range snapshot.Records {
		var tokens uint64
		if record.Tokens != nil {
			tokens = uint64(*record.Tokens)
		}
		var quotaUsed, quotaLimit uint64
		if record.Quota != nil {
			quotaUsed = record.Quota.Used
			quotaLimit = record.Quota.Limit
		}
		_, err := stmt.ExecContext(ctx,
			record.AccountID, string(record.Status), record.Requests,
			float64(record.Cost), tokens, quotaUsed, quotaLimit,
			string(record.Source), record.CollectedAt.UTC())
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "insert usage row", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit append", Err: err}
	}
	return nil
}

// Recent returns up to limit rows for one account, newest first.
func (l *Log) Recent(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT account_id, status, requests, cost, tokens, quota_used, quota_limit, source, collected_at
		FROM usage_history
		WHERE account_id = ?
		ORDER BY collected_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "select recent", Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status, source string
		var cost float64
		if err := rows.Scan(&e.AccountID, &status, &e.Requests, &cost,
			&e.Tokens, &e.QuotaUsed, &e.QuotaLimit, &source, &e.CollectedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan recent", Err: err}
		}
		e.Status = models.Status(status)
		e.Cost = models.CostUSD(cost)
		e.Source = source
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "iterate recent", Err: err}
	}
	return entries, nil
}

// Trim deletes rows older than the retention window and reports how
// many went.
func (l *Log) Trim(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-l.retention).UTC()
	res, err := l.db.ExecContext(ctx, `DELETE FROM usage_history WHERE collected_at < ?`, cutoff)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "trim history", Err: err}
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// StartTrimmer runs Trim on the given interval until Close.
func (l *Log) StartTrimmer(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.trimTicker = time.NewTicker(interval)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-l.trimTicker.C:
				deleted, err := l.Trim(context.Background())
				if err != nil {
					l.logger.Error("history trim failed", "error", err.Error())
					continue
				}
				if deleted > 0 {
					l.logger.Debug("history trimmed", "deleted", deleted)
				}
			case <-l.done:
				return
			}
		}
	}()
}

// Close stops the trimmer and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.started {
		l.trimTicker.Stop()
		close(l.done)
		l.started = false
	}
	l.mu.Unlock()
	l.wg.Wait()
	return l.db.Close()
}
