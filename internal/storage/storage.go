package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for lookups of unknown export jobs.
var ErrNotFound = errors.New("not found")

// Drivers accepted by New: the pure-Go default and the cgo alternative.
const (
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
)

// Store wraps SQLite-backed persistence for preferences and export history.
type Store struct {
	DB  *sql.DB // Export for direct database access
	now func() time.Time
}

// New opens (or creates) the database at path and ensures schema.
func New(driver, path string) (*Store, error) {
	switch driver {
	case "":
		driver = DriverSQLite
	case DriverSQLite, DriverSQLite3:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (%s|%s)", driver, DriverSQLite, DriverSQLite3)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// Writes come from the pipeline workers and HTTP handlers alike.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS export_jobs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            image_count INTEGER NOT NULL DEFAULT 0,
            skipped_count INTEGER NOT NULL DEFAULT 0,
            ratio TEXT,
            params_json TEXT,
            archive_path TEXT,
            archive_size INTEGER NOT NULL DEFAULT 0,
            error_message TEXT,
            created_at INTEGER NOT NULL,
            started_at INTEGER,
            completed_at INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_export_jobs_created_at ON export_jobs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Get reads a settings value. A nil store reports the key as absent.
func (s *Store) Get(key string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	var v string
	err := s.DB.QueryRow(`SELECT value FROM settings WHERE key=?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set upserts a settings value.
func (s *Store) Set(key, value string) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	_, err := s.DB.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;`,
		key, value, s.now().UnixMilli())
	return err
}

// Export job states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExportRecord captures a persisted batch export.
type ExportRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ImageCount  int        `json:"image_count"`
	Skipped     int        `json:"skipped"`
	Ratio       string     `json:"ratio"`
	ParamsJSON  string     `json:"params,omitempty"`
	ArchivePath string     `json:"archive_path,omitempty"`
	ArchiveSize int64      `json:"archive_size"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExportResult is what a finished export reports back.
type ExportResult struct {
	Status      string
	ImageCount  int
	Skipped     int
	ArchivePath string
	ArchiveSize int64
	Error       string
}

// RecordExportQueued inserts a pending export.
func (s *Store) RecordExportQueued(rec ExportRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO export_jobs (id, status, image_count, ratio, params_json, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, StatusQueued, rec.ImageCount, rec.Ratio, rec.ParamsJSON, s.now().UnixMilli())
	return err
}

// RecordExportStart marks an export as running.
func (s *Store) RecordExportStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE export_jobs SET status=?, started_at=? WHERE id=?;`, StatusRunning, s.now().UnixMilli(), id)
	return err
}

// RecordExportResult finalizes an export.
func (s *Store) RecordExportResult(id string, res ExportResult) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE export_jobs SET status=?, image_count=?, skipped_count=?, archive_path=?, archive_size=?, error_message=?, completed_at=? WHERE id=?;`,
		res.Status, res.ImageCount, res.Skipped, res.ArchivePath, res.ArchiveSize, res.Error, s.now().UnixMilli(), id)
	return err
}

const exportColumns = `id, status, image_count, skipped_count, ratio, params_json, archive_path, archive_size, error_message, created_at, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanExport(row scanner) (ExportRecord, error) {
	var rec ExportRecord
	var ratio, params, path, errMsg sql.NullString
	var created int64
	var started, completed sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.Status, &rec.ImageCount, &rec.Skipped, &ratio, &params, &path, &rec.ArchiveSize, &errMsg, &created, &started, &completed); err != nil {
		return rec, err
	}
	rec.Ratio = ratio.String
	rec.ParamsJSON = params.String
	rec.ArchivePath = path.String
	rec.Error = errMsg.String
	rec.CreatedAt = time.UnixMilli(created)
	if started.Valid {
		t := time.UnixMilli(started.Int64)
		rec.StartedAt = &t
	}
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		rec.CompletedAt = &t
	}
	return rec, nil
}

// RecentExports returns the latest exports up to limit, newest first.
func (s *Store) RecentExports(limit int) ([]ExportRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+exportColumns+` FROM export_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ExportRecord
	for rows.Next() {
		rec, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ExportJob fetches a single export by id.
func (s *Store) ExportJob(id string) (ExportRecord, error) {
	if s == nil {
		return ExportRecord{}, errors.New("store not initialized")
	}
	rec, err := scanExport(s.DB.QueryRow(`SELECT `+exportColumns+` FROM export_jobs WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	return rec, err
}
