package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"slotbot/internal/slot"
	logx "slotbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

var _ Store = (*sqliteStore)(nil)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

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

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

const subscriptionColumns = `id, subscriber_id, location_ids, categories, threshold, compare, window_from, window_until, mode, active, created_at`

func (s *sqliteStore) ListActive(ctx context.Context) ([]slot.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE active = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, unavailable("list active", err)
	}
	defer rows.Close()

	var out []slot.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list active", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (slot.Subscription, error) {
	var (
		sub           slot.Subscription
		locs, cats    string
		compare, mode string
		from, until   sql.NullInt64
		active        int
		createdAt     int64
	)
	if err := r.Scan(&sub.ID, &sub.SubscriberID, &locs, &cats, &sub.Threshold, &compare, &from, &until, &mode, &active, &createdAt); err != nil {
		return slot.Subscription{}, unavailable("scan subscription", err)
	}
	if err := json.Unmarshal([]byte(locs), &sub.LocationIDs); err != nil {
		return slot.Subscription{}, fmt.Errorf("subscription %s location_ids: %w: %w", sub.ID, ErrUnavailable, ErrMalformed)
	}
	if err := json.Unmarshal([]byte(cats), &sub.Categories); err != nil {
		return slot.Subscription{}, fmt.Errorf("subscription %s categories: %w: %w", sub.ID, ErrUnavailable, ErrMalformed)
	}
	sub.Compare = slot.CompareMode(compare)
	sub.Mode = slot.Mode(mode)
	sub.Active = active != 0
	sub.CreatedAt = time.UnixMilli(createdAt).UTC()
	if from.Valid {
		sub.Window.From = time.UnixMilli(from.Int64).UTC()
	}
	if until.Valid {
		sub.Window.Until = time.UnixMilli(until.Int64).UTC()
	}
	if err := sub.Validate(); err != nil {
		return slot.Subscription{}, fmt.Errorf("subscription %s: %w: %w: %v", sub.ID, ErrUnavailable, ErrMalformed, err)
	}
	return sub, nil
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func (s *sqliteStore) CreateSubscription(ctx context.Context, p slot.Params) (slot.Subscription, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	sub, err := slot.NewSubscription(p)
	if err != nil {
		return slot.Subscription{}, err
	}
	locs, err := json.Marshal(sub.LocationIDs)
	if err != nil {
		return slot.Subscription{}, err
	}
	cats, err := json.Marshal(sub.Categories)
	if err != nil {
		return slot.Subscription{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(`+subscriptionColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		sub.ID, sub.SubscriberID, string(locs), string(cats), sub.Threshold, string(sub.Compare),
		nullMillis(sub.Window.From), nullMillis(sub.Window.Until), string(sub.Mode), 1, sub.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return slot.Subscription{}, unavailable("create subscription", err)
	}
	return sub, nil
}

func (s *sqliteStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return unavailable("deactivate", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ExpireWindows(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0
		 WHERE active = 1 AND window_until IS NOT NULL AND window_until < ?`, now.UnixMilli())
	if err != nil {
		return 0, unavailable("expire windows", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("expire windows", err)
	}
	return int(n), nil
}

func (s *sqliteStore) LocationName(ctx context.Context, id int64) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM locations WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("location name", err)
	}
	return name, true, nil
}

func (s *sqliteStore) PutLocations(ctx context.Context, names map[int64]string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("put locations", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO locations(id, name, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`)
	if err != nil {
		return unavailable("put locations", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for id, name := range names {
		if _, err := stmt.ExecContext(ctx, id, name, now); err != nil {
			return unavailable("put locations", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("put locations", err)
	}
	return nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err != nil {
		return unavailable("put dedup", err)
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if err := s.pruneExpired(pctx); err != nil {
			s.log.Debug("dedup prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("get dedup", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}
