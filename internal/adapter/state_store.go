package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS file (
	path      TEXT PRIMARY KEY,
	size      INTEGER,
	mtime     INTEGER NOT NULL,
	username  TEXT NOT NULL DEFAULT '',
	groupname TEXT NOT NULL DEFAULT '',
	checksum  TEXT,
	must_tag  INTEGER NOT NULL DEFAULT 0,
	tag_era   INTEGER NOT NULL DEFAULT 0,
	rtime     INTEGER
);
CREATE TABLE IF NOT EXISTS scan (
	id         TEXT PRIMARY KEY,
	start_time INTEGER NOT NULL,
	end_time   INTEGER,
	state      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS register_file (
	path    TEXT PRIMARY KEY REFERENCES file(path) ON DELETE CASCADE,
	scan_id TEXT NOT NULL,
	staged  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS register_tag (
	path  TEXT NOT NULL REFERENCES register_file(path) ON DELETE CASCADE,
	tag   TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS register_tag_path ON register_tag(path);
CREATE TABLE IF NOT EXISTS config_state (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	fingerprint TEXT NOT NULL,
	era         INTEGER NOT NULL
);
`

const fileColumns = `path, size, mtime, username, groupname, checksum, must_tag, tag_era, rtime`

// StoreStats summarizes the store contents.
type StoreStats struct {
	Files      int
	Registered int
	PendingTag int
	Staged     int
	Era        int64
}

// StateStore persists per-path progress, scans and the rule era.
//
//nolint:interfacebloat // One store backs every dispatcher decision.
type StateStore interface {
	GetFile(ctx context.Context, path m.Path) (*m.FileRecord, error)
	InsertFile(ctx context.Context, rec *m.FileRecord) error
	UpdateFile(ctx context.Context, rec *m.FileRecord) error

	// StageRegistration replaces the staged tags of path.
	StageRegistration(ctx context.Context, scanID string, path m.Path, tags m.TagSet) error
	// MarkRegistered stamps rtime, clears must_tag, records era and drops
	// the staging rows of path.
	MarkRegistered(ctx context.Context, path m.Path, rtime time.Time, era int64) error
	StagedTags(ctx context.Context, path m.Path) (m.TagSet, error)

	PendingTag(ctx context.Context) ([]*m.FileRecord, error)
	RegisteredStale(ctx context.Context, era int64) ([]*m.FileRecord, error)

	// RuleEra returns the era of fingerprint, starting a new era when the
	// fingerprint differs from the stored one.
	RuleEra(ctx context.Context, fingerprint string) (int64, error)

	StartScan(ctx context.Context, scan *m.Scan) error
	FinishScan(ctx context.Context, id string, state m.ScanState, end time.Time) error
	UnfinishedScans(ctx context.Context) ([]*m.Scan, error)
	RecentScans(ctx context.Context, limit int) ([]*m.Scan, error)

	Stats(ctx context.Context) (*StoreStats, error)
	Close() error
}

type sqliteStateStore struct {
	db   *sql.DB
	path string
}

// OpenStateStore opens (creating when needed) the SQLite database at path.
func OpenStateStore(ctx context.Context, path string) (StateStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			slog.Error("Failed to create state directory", "path", dir, "error", err)
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// A single connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		slog.Error("Failed to apply state schema", "path", path, "error", err)

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	slog.Debug("Opened state store", "path", path)

	return &sqliteStateStore{db: db, path: path}, nil
}

func (s *sqliteStateStore) GetFile(ctx context.Context, path m.Path) (*m.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file WHERE path = ?`, string(path))

	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", path, err)
	}

	return rec, nil
}

func (s *sqliteStateStore) InsertFile(ctx context.Context, rec *m.FileRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fileArgs(rec)...,
	)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", rec.Path, err)
	}

	return nil
}

func (s *sqliteStateStore) UpdateFile(ctx context.Context, rec *m.FileRecord) error {
	args := fileArgs(rec)
	args = append(args[1:], args[0])

	res, err := s.db.ExecContext(ctx, `UPDATE file SET
		size = ?, mtime = ?, username = ?, groupname = ?, checksum = ?,
		must_tag = ?, tag_era = ?, rtime = ?
		WHERE path = ?`, args...)
	if err != nil {
		return fmt.Errorf("update file %s: %w", rec.Path, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update file %s: %w", rec.Path, ErrNotFound)
	}

	return nil
}

func (s *sqliteStateStore) StageRegistration(ctx context.Context, scanID string, path m.Path, tags m.TagSet) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM register_file WHERE path = ?`, string(path)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO register_file (path, scan_id, staged) VALUES (?, ?, ?)`,
			string(path), scanID, time.Now().UnixNano(),
		); err != nil {
			return err
		}

		for _, name := range tags.Names() {
			for _, value := range tags.Values(name) {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO register_tag (path, tag, value) VALUES (?, ?, ?)`,
					string(path), name, value,
				); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func (s *sqliteStateStore) MarkRegistered(ctx context.Context, path m.Path, rtime time.Time, era int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE file SET rtime = ?, must_tag = 0, tag_era = ? WHERE path = ?`,
			rtime.UnixNano(), era, string(path),
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `DELETE FROM register_file WHERE path = ?`, string(path))

		return err
	})
}

func (s *sqliteStateStore) StagedTags(ctx context.Context, path m.Path) (m.TagSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, value FROM register_tag WHERE path = ?`, string(path))
	if err != nil {
		return nil, fmt.Errorf("staged tags %s: %w", path, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	tags := m.TagSet{}

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("staged tags %s: %w", path, err)
		}

		tags.Add(name, value)
	}

	return tags, rows.Err()
}

func (s *sqliteStateStore) PendingTag(ctx context.Context) ([]*m.FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM file
		WHERE must_tag = 1 OR rtime IS NULL ORDER BY path`)
}

func (s *sqliteStateStore) RegisteredStale(ctx context.Context, era int64) ([]*m.FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM file
		WHERE rtime IS NOT NULL AND tag_era < ? ORDER BY path`, era)
}

func (s *sqliteStateStore) RuleEra(ctx context.Context, fingerprint string) (int64, error) {
	var era int64

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var stored string

		err := tx.QueryRowContext(ctx, `SELECT fingerprint, era FROM config_state WHERE id = 1`).Scan(&stored, &era)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			era = 1
			_, err = tx.ExecContext(ctx, `INSERT INTO config_state (id, fingerprint, era) VALUES (1, ?, ?)`, fingerprint, era)

			return err
		case err != nil:
			return err
		case stored == fingerprint:
			return nil
		}

		era++
		slog.Info("Rule set changed, starting new tag era", "era", era)

		_, err = tx.ExecContext(ctx, `UPDATE config_state SET fingerprint = ?, era = ? WHERE id = 1`, fingerprint, era)

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rule era: %w", err)
	}

	return era, nil
}

func (s *sqliteStateStore) StartScan(ctx context.Context, scan *m.Scan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan (id, start_time, end_time, state) VALUES (?, ?, NULL, ?)`,
		scan.ID, scan.Start.UnixNano(), string(scan.State),
	)
	if err != nil {
		return fmt.Errorf("start scan %s: %w", scan.ID, err)
	}

	return nil
}

func (s *sqliteStateStore) FinishScan(ctx context.Context, id string, state m.ScanState, end time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan SET end_time = ?, state = ? WHERE id = ?`,
		end.UnixNano(), string(state), id,
	)
	if err != nil {
		return fmt.Errorf("finish scan %s: %w", id, err)
	}

	return nil
}

func (s *sqliteStateStore) UnfinishedScans(ctx context.Context) ([]*m.Scan, error) {
	return s.queryScans(ctx, `SELECT id, start_time, end_time, state FROM scan
		WHERE end_time IS NULL ORDER BY start_time`)
}

func (s *sqliteStateStore) RecentScans(ctx context.Context, limit int) ([]*m.Scan, error) {
	return s.queryScans(ctx, `SELECT id, start_time, end_time, state FROM scan
		ORDER BY start_time DESC LIMIT ?`, limit)
}

func (s *sqliteStateStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(rtime IS NOT NULL), 0),
		COALESCE(SUM(must_tag = 1 OR rtime IS NULL), 0)
		FROM file`).Scan(&stats.Files, &stats.Registered, &stats.PendingTag)
	if err != nil {
		return nil, fmt.Errorf("file stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM register_file`).Scan(&stats.Staged); err != nil {
		return nil, fmt.Errorf("staging stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT era FROM config_state WHERE id = 1`).Scan(&stats.Era)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("era stats: %w", err)
	}

	return stats, nil
}

func (s *sqliteStateStore) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close state store", "path", s.path, "error", err)
		return err
	}

	return nil
}

func (s *sqliteStateStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *sqliteStateStore) queryFiles(ctx context.Context, query string, args ...any) ([]*m.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []*m.FileRecord

	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (s *sqliteStateStore) queryScans(ctx context.Context, query string, args ...any) ([]*m.Scan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var scans []*m.Scan

	for rows.Next() {
		var (
			scan  m.Scan
			start int64
			end   sql.NullInt64
			state string
		)

		if err := rows.Scan(&scan.ID, &start, &end, &state); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		scan.Start = time.Unix(0, start)
		scan.State = m.ScanState(state)

		if end.Valid {
			t := time.Unix(0, end.Int64)
			scan.End = &t
		}

		scans = append(scans, &scan)
	}

	return scans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*m.FileRecord, error) {
	var (
		rec      m.FileRecord
		path     string
		size     sql.NullInt64
		mtime    int64
		checksum sql.NullString
		mustTag  bool
		rtime    sql.NullInt64
	)

	if err := row.Scan(&path, &size, &mtime, &rec.User, &rec.Group, &checksum, &mustTag, &rec.TagEra, &rtime); err != nil {
		return nil, err
	}

	rec.Path = m.Path(path)
	rec.MTime = time.Unix(0, mtime)
	rec.Checksum = checksum.String
	rec.MustTag = mustTag

	if size.Valid {
		rec.Size = m.SizeOf(size.Int64)
	}

	if rtime.Valid {
		t := time.Unix(0, rtime.Int64)
		rec.RTime = &t
	}

	return &rec, nil
}

func fileArgs(rec *m.FileRecord) []any {
	var size, rtime, checksum any

	if rec.Size != nil {
		size = *rec.Size
	}

	if rec.RTime != nil {
		rtime = rec.RTime.UnixNano()
	}

	if rec.Checksum != "" {
		checksum = rec.Checksum
	}

	return []any{
		string(rec.Path), size, rec.MTime.UnixNano(), rec.User, rec.Group,
		checksum, rec.MustTag, rec.TagEra, rtime,
	}
}
