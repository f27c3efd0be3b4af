package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/muni-map/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// newID is called from concurrent savers; the entropy source is not safe
// for concurrent use.
func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id          TEXT PRIMARY KEY,
		date        TEXT NOT NULL UNIQUE,
		fetched_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		code        INTEGER NOT NULL,
		name        TEXT NOT NULL,
		canton      TEXT NOT NULL DEFAULT '',
		district    INTEGER,
		PRIMARY KEY (snapshot_id, code)
	);
	CREATE INDEX IF NOT EXISTS idx_records_name ON records(name);
	CREATE INDEX IF NOT EXISTS idx_records_code ON records(code);

	CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		seq         INTEGER NOT NULL,
		number      INTEGER,
		kind        TEXT NOT NULL,
		effective   TEXT NOT NULL,
		target_name TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_effective ON events(effective, seq);

	CREATE TABLE IF NOT EXISTS event_codes (
		event_id    TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		code        INTEGER NOT NULL,
		PRIMARY KEY (event_id, role, code)
	);
	CREATE INDEX IF NOT EXISTS idx_event_codes_code ON event_codes(code);

	CREATE TABLE IF NOT EXISTS catalog (
		date        TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS meta (
		key         TEXT PRIMARY KEY,
		updated_at  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	fetchedAt := snap.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	id := snap.ID
	if id == "" {
		id = s.newID()
	}
	date := model.FormatDate(snap.Date)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE date = ?`, date); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, date, fetched_at) VALUES (?, ?, ?)`,
		id, date, fetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (snapshot_id, code, name, canton, district) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		var district *int
		if r.District != 0 {
			d := r.District
			district = &d
		}
		if _, err := stmt.ExecContext(ctx, id, r.Code, r.Name, r.Canton, district); err != nil {
			return fmt.Errorf("insert record %d: %w", r.Code, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, date time.Time) (*model.Snapshot, error) {
	var id, fetchedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, fetched_at FROM snapshots WHERE date = ?`, model.FormatDate(date)).Scan(&id, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", model.FormatDate(date), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, canton, district FROM records WHERE snapshot_id = ? ORDER BY code`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := model.NewSnapshot(date, records)
	snap.ID = id
	snap.FetchedAt, _ = time.Parse(time.RFC3339, fetchedAt)
	return &snap, nil
}

func (s *SQLiteStore) SnapshotDates(ctx context.Context) ([]time.Time, error) {
	return s.queryDates(ctx, `SELECT date FROM snapshots ORDER BY date`)
}

func (s *SQLiteStore) SaveCatalog(ctx context.Context, dates []time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog`); err != nil {
		return err
	}
	for _, d := range dates {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO catalog (date) VALUES (?)`, model.FormatDate(d)); err != nil {
			return fmt.Errorf("insert catalog date: %w", err)
		}
	}
	if err := touchMeta(ctx, tx, "catalog"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadCatalog(ctx context.Context) ([]time.Time, time.Time, error) {
	savedAt, err := s.metaTime(ctx, "catalog")
	if err != nil {
		return nil, time.Time{}, err
	}
	dates, err := s.queryDates(ctx, `SELECT date FROM catalog ORDER BY date`)
	return dates, savedAt, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryDates(ctx context.Context, query string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		t, err := time.Parse(model.DateLayout, d)
		if err != nil {
			return nil, fmt.Errorf("bad stored date %q: %w", d, err)
		}
		dates = append(dates, t)
	}
	return dates, rows.Err()
}

func (s *SQLiteStore) metaTime(ctx context.Context, key string) (time.Time, error) {
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM meta WHERE key = ?`, key).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, err
	}
	t, _ := time.Parse(time.RFC3339, updated)
	return t, nil
}

func touchMeta(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, updated_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, time.Now().UTC().Format(time.RFC3339))
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.Record, error) {
	var r model.Record
	var district sql.NullInt64
	if err := row.Scan(&r.Code, &r.Name, &r.Canton, &district); err != nil {
		return r, err
	}
	if district.Valid {
		r.District = int(district.Int64)
	}
	return r, nil
}
