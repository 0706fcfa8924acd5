package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	_ "modernc.org/sqlite"

	logx "gpvbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	st := &sqliteStore{db: db, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Another process may still hold the database lock right after a restart.
	err = retry.Do(
		func() error {
			if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())); err != nil {
				return err
			}
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
				return err
			}
			// FULL: a committed upsert survives a power loss, not just a process crash.
			if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
				return err
			}
			return st.migrate(ctx)
		},
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("sqlite open failed, retrying", logx.Int("attempt", int(n)), logx.Err(err))
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	log.Debug("sqlite store ready", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, chatID int64, enabled bool) error {
	return s.putSubscriber(ctx, chatID, enabled)
}

func (s *sqliteStore) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	return s.putSubscriber(ctx, chatID, enabled)
}

func (s *sqliteStore) putSubscriber(ctx context.Context, chatID int64, enabled bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, enabled, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET enabled=excluded.enabled, updated_at=excluded.updated_at`,
		chatID, boolInt(enabled), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber %d: %w", chatID, err)
	}
	return nil
}

func (s *sqliteStore) Enabled(ctx context.Context, chatID int64) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM subscribers WHERE chat_id = ?`, chatID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get subscriber %d: %w", chatID, err)
	}
	return v != 0, nil
}

func (s *sqliteStore) ListEnabled(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers WHERE enabled = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Fingerprint(ctx context.Context, date string) (Fingerprint, bool, error) {
	var (
		fp      = Fingerprint{Date: date}
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT hash, updated_at FROM fingerprints WHERE date = ?`, date).Scan(&fp.Hash, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, fmt.Errorf("get fingerprint %s: %w", date, err)
	}
	if fp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		// The hash is what matters; a bad timestamp only loses metadata.
		s.log.Debug("bad fingerprint timestamp", logx.String("date", date), logx.String("raw", updated), logx.Err(err))
	}
	return fp, true, nil
}

func (s *sqliteStore) PutFingerprint(ctx context.Context, fp Fingerprint) error {
	if fp.UpdatedAt.IsZero() {
		fp.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints(date, hash, updated_at) VALUES(?,?,?)
		 ON CONFLICT(date) DO UPDATE SET hash=excluded.hash, updated_at=excluded.updated_at`,
		fp.Date, fp.Hash, fp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put fingerprint %s: %w", fp.Date, err)
	}
	return nil
}

func (s *sqliteStore) PruneFingerprints(ctx context.Context, before string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE date < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune fingerprints: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM subscribers),
		        (SELECT COUNT(*) FROM subscribers WHERE enabled = 1),
		        (SELECT COUNT(*) FROM fingerprints)`,
	).Scan(&st.Subscribers, &st.Enabled, &st.Fingerprints)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
