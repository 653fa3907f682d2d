package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	normalParams = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	// Bulk mode trades durability for insert throughput; it is only used for
	// destructive reloads where a crash means reloading again.
	bulkParams = "_foreign_keys=on&_journal_mode=MEMORY&_synchronous=0&_busy_timeout=5000&_txlock=immediate"
)

// New opens a SQLite database connection at the given path.
// It enables foreign keys, WAL journaling and a busy timeout, and sets
// connection pool settings.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, normalParams))
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// newBulk opens a single-connection handle tuned for bulk insertion.
func newBulk(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, bulkParams))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var tableSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_guid TEXT PRIMARY KEY,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		translation_provider TEXT NOT NULL DEFAULT '',
		tm_store TEXT NOT NULL DEFAULT '',
		job_props TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS tus (
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		guid TEXT NOT NULL,
		job_guid TEXT NOT NULL,
		rid TEXT NOT NULL DEFAULT '',
		sid TEXT NOT NULL DEFAULT '',
		nid TEXT NOT NULL DEFAULT '',
		flat_src TEXT,
		src_text TEXT NOT NULL DEFAULT '',
		tgt_text TEXT,
		inflight INTEGER NOT NULL DEFAULT 0,
		q INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL DEFAULT 0,
		translation_provider TEXT NOT NULL DEFAULT '',
		tu_props TEXT NOT NULL,
		PRIMARY KEY (source_lang, target_lang, guid, job_guid),
		FOREIGN KEY (job_guid) REFERENCES jobs(job_guid) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS segments (
		channel TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		guid TEXT NOT NULL,
		rid TEXT NOT NULL DEFAULT '',
		sid TEXT NOT NULL DEFAULT '',
		prj TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL DEFAULT 0,
		segment_props TEXT NOT NULL,
		PRIMARY KEY (channel, source_lang, guid)
	);`,
}

var indexSchema = []struct{ name, ddl string }{
	{"idx_tus_job", `CREATE INDEX IF NOT EXISTS idx_tus_job ON tus(job_guid);`},
	{"idx_tus_flat_src", `CREATE INDEX IF NOT EXISTS idx_tus_flat_src ON tus(source_lang, target_lang, flat_src);`},
	{"idx_tus_rid_sid", `CREATE INDEX IF NOT EXISTS idx_tus_rid_sid ON tus(source_lang, target_lang, rid, sid);`},
	{"idx_jobs_pair", `CREATE INDEX IF NOT EXISTS idx_jobs_pair ON jobs(source_lang, target_lang, tm_store);`},
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	for _, stmt := range tableSchema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return createIndexes(db)
}

func createIndexes(db *sql.DB) error {
	for _, idx := range indexSchema {
		if _, err := db.Exec(idx.ddl); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func dropIndexes(db *sql.DB) error {
	for _, idx := range indexSchema {
		if _, err := db.Exec("DROP INDEX IF EXISTS " + idx.name); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DB is the DAL entry point. It owns the SQLite handle and hands out
// language-pair scoped repositories bound to the current handle.
//
// The handle is swapped by BulkLoad; repositories obtained before a swap are
// bound to a closed handle and must be discarded.
type DB struct {
	path string

	mu         sync.RWMutex
	db         *sql.DB
	generation uint64
}

// Open opens (and migrates) the database at path.
func Open(path string) (*DB, error) {
	db, err := New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &DB{path: path, db: db}, nil
}

// Handle returns the current SQL handle.
func (d *DB) Handle() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Generation increments every time the handle is swapped.
func (d *DB) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// Close closes the current handle.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// TU returns the repository for one language pair.
func (d *DB) TU(sourceLang, targetLang string) *TURepo {
	return NewTURepo(d.Handle(), sourceLang, targetLang)
}

// BulkLoad runs fn with the database reopened in bulk mode: relaxed
// durability, one connection and no secondary indexes. Indexes are rebuilt
// and the normal handle restored on every exit path.
func (d *DB) BulkLoad(ctx context.Context, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	if err := d.db.Close(); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to close database before bulk load: %w", err)
	}
	bulk, err := newBulk(d.path)
	if err == nil {
		err = dropIndexes(bulk)
	}
	if err != nil {
		if bulk != nil {
			_ = bulk.Close()
		}
		normal, reopenErr := New(d.path)
		if reopenErr == nil {
			d.db = normal
			d.generation++
		}
		d.mu.Unlock()
		return errors.Join(fmt.Errorf("failed to enter bulk mode: %w", err), reopenErr)
	}
	d.db = bulk
	d.generation++
	d.mu.Unlock()

	runErr := fn(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	idxErr := createIndexes(bulk)
	closeErr := bulk.Close()
	normal, reopenErr := New(d.path)
	if reopenErr == nil {
		d.db = normal
		d.generation++
	} else {
		reopenErr = fmt.Errorf("failed to reopen database after bulk load: %w", reopenErr)
	}
	return errors.Join(runErr, idxErr, closeErr, reopenErr)
}

// AvailablePairs returns the language pairs that have local jobs.
func (d *DB) AvailablePairs(ctx context.Context) ([][2]string, error) {
	rows, err := d.Handle().QueryContext(ctx,
		"SELECT DISTINCT source_lang, target_lang FROM jobs ORDER BY source_lang, target_lang")
	if err != nil {
		return nil, fmt.Errorf("failed to query language pairs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var pairs [][2]string
	for rows.Next() {
		var p [2]string
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("failed to scan language pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return pairs, nil
}

// JobCount returns the number of jobs across all language pairs.
func (d *DB) JobCount(ctx context.Context) (int, error) {
	var n int
	if err := d.Handle().QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
