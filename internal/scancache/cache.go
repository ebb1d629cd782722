// Package scancache persists scan results across runs in a SQLite database.
// It implements scanner.Memo.
package scancache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"affected/internal/errors"
	"affected/internal/scanner"
	"affected/internal/slogutil"
)

// DefaultPath is the cache location relative to the project root.
const DefaultPath = ".affected/scan-cache.db"

// Cache is a durable scan memo. It is safe for concurrent use.
type Cache struct {
	conn    *sql.DB
	logger  *slog.Logger
	path    string
	backend string
	enc     *zstd.Encoder
	dec     *zstd.Decoder

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// Open opens or creates the cache database at path. Failures are
// CACHE_UNAVAILABLE errors; callers may continue without a cache.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.New(errors.CacheUnavailable, "failed to create cache directory", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CacheUnavailable, "failed to open cache database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-16000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.New(errors.CacheUnavailable, "failed to set pragma", err)
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		conn.Close()
		return nil, errors.New(errors.InternalError, "creating zstd encoder", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		enc.Close()
		return nil, errors.New(errors.InternalError, "creating zstd decoder", err)
	}

	c := &Cache{
		conn:    conn,
		logger:  logger,
		path:    path,
		backend: backendName(),
		enc:     enc,
		dec:     dec,
	}
	if err := c.migrate(); err != nil {
		c.Close()
		return nil, errors.New(errors.CacheUnavailable, "failed to initialize cache schema", err)
	}
	logger.Debug("Opened scan cache", "path", path, "backend", c.backend)
	return c, nil
}

func backendName() string {
	if scanner.ParserAvailable() {
		return "tree-sitter"
	}
	return "lexical"
}

// Path returns the database file.
func (c *Cache) Path() string {
	return c.path
}

// Close releases the database and codecs.
func (c *Cache) Close() error {
	c.dec.Close()
	c.enc.Close()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Get returns the stored result for an unchanged file.
func (c *Cache) Get(path string, size, mtime int64) (*scanner.Result, bool) {
	var payload []byte
	err := c.conn.QueryRow(
		`SELECT payload FROM scans WHERE path = ? AND size = ? AND mtime = ? AND backend = ?`,
		path, size, mtime, c.backend,
	).Scan(&payload)
	return c.load(path, path, payload, err)
}

// GetByHash returns any stored result of the given language whose source had
// the given content hash.
func (c *Cache) GetByHash(hash string, lang scanner.Language) (*scanner.Result, bool) {
	var (
		path    string
		payload []byte
	)
	err := c.conn.QueryRow(
		`SELECT path, payload FROM scans WHERE hash = ? AND backend = ? AND language = ? LIMIT 1`,
		hash, c.backend, string(lang),
	).Scan(&path, &payload)
	return c.load(hash, path, payload, err)
}

// load decodes a looked-up payload and marks the entry at path as used.
func (c *Cache) load(key, path string, payload []byte, err error) (*scanner.Result, bool) {
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("Scan cache read failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	res, err := c.decode(payload)
	if err != nil {
		c.logger.Warn("Discarding corrupt scan cache entry", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if _, err := c.conn.Exec(`UPDATE scans SET used_at = ? WHERE path = ?`, time.Now().Unix(), path); err != nil {
		c.logger.Debug("Cannot touch scan cache entry", "file", path, "error", err)
	}
	c.hits.Add(1)
	return res, true
}

// Put stores res for path. Write failures are logged and otherwise ignored.
func (c *Cache) Put(path string, size, mtime int64, res *scanner.Result) {
	payload, err := c.encode(res)
	if err != nil {
		c.logger.Warn("Cannot encode scan result", "file", path, "error", err)
		return
	}
	_, err = c.conn.Exec(
		`INSERT INTO scans (path, size, mtime, hash, backend, language, payload, used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   size = excluded.size, mtime = excluded.mtime, hash = excluded.hash,
		   backend = excluded.backend, language = excluded.language,
		   payload = excluded.payload, used_at = excluded.used_at`,
		path, size, mtime, res.Hash, c.backend, string(res.Language), payload, time.Now().Unix(),
	)
	if err != nil {
		c.logger.Warn("Scan cache write failed", "file", path, "error", err)
		return
	}
	c.writes.Add(1)
}

func (c *Cache) encode(res *scanner.Result) ([]byte, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *Cache) decode(payload []byte) (*scanner.Result, error) {
	raw, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	var res scanner.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	return &res, nil
}

// Stats describes the cache contents and this process's hit rate.
type Stats struct {
	Path         string `json:"path" yaml:"path" toml:"path"`
	Entries      int64  `json:"entries" yaml:"entries" toml:"entries"`
	PayloadBytes int64  `json:"payloadBytes" yaml:"payloadBytes" toml:"payloadBytes"`
	FileBytes    int64  `json:"fileBytes" yaml:"fileBytes" toml:"fileBytes"`
	Runs         int64  `json:"runs" yaml:"runs" toml:"runs"`
	Hits         int64  `json:"hits" yaml:"hits" toml:"hits"`
	Misses       int64  `json:"misses" yaml:"misses" toml:"misses"`
	Writes       int64  `json:"writes" yaml:"writes" toml:"writes"`
}

// Stats reports cache size and counters.
func (c *Cache) Stats() (Stats, error) {
	s := Stats{
		Path:   c.path,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
	}
	err := c.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM scans`).
		Scan(&s.Entries, &s.PayloadBytes)
	if err != nil {
		return s, fmt.Errorf("failed to count scans: %w", err)
	}
	if err := c.conn.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&s.Runs); err != nil {
		return s, fmt.Errorf("failed to count runs: %w", err)
	}
	if info, err := os.Stat(c.path); err == nil {
		s.FileBytes = info.Size()
	}
	return s, nil
}

// Prune removes entries whose file no longer exists or that were not used
// since olderThan ago. A zero olderThan only removes vanished files.
func (c *Cache) Prune(olderThan time.Duration) (int64, error) {
	rows, err := c.conn.Query(`SELECT path FROM scans`)
	if err != nil {
		return 0, fmt.Errorf("failed to list scans: %w", err)
	}
	var gone []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan row: %w", err)
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			gone = append(gone, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to list scans: %w", err)
	}

	var removed int64
	err = c.withTx(func(tx *sql.Tx) error {
		for _, p := range gone {
			r, err := tx.Exec(`DELETE FROM scans WHERE path = ?`, p)
			if err != nil {
				return err
			}
			n, _ := r.RowsAffected()
			removed += n
		}
		if olderThan > 0 {
			cutoff := time.Now().Add(-olderThan).Unix()
			r, err := tx.Exec(`DELETE FROM scans WHERE used_at < ?`, cutoff)
			if err != nil {
				return err
			}
			n, _ := r.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune scans: %w", err)
	}
	c.logger.Info("Pruned scan cache", "removed", removed)
	return removed, nil
}

// Clear removes every scan entry and run record.
func (c *Cache) Clear() error {
	return c.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM scans`); err != nil {
			return fmt.Errorf("failed to clear scans: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM runs`); err != nil {
			return fmt.Errorf("failed to clear runs: %w", err)
		}
		return nil
	})
}

func (c *Cache) withTx(fn func(*sql.Tx) error) error {
	tx, err := c.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("failed to rollback transaction", "error", err, "rollback_error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
