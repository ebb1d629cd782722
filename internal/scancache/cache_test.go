package scancache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affected/internal/scanner"
	"affected/internal/testutil"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache", "scan.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openTemp(t)
	res := &scanner.Result{
		Path:     "/p/a.js",
		Language: scanner.LangJavaScript,
		Hash:     "abc",
		Imports:  []scanner.Import{{Specifier: "./b", Line: 1, Kind: scanner.KindImport}},
	}
	c.Put("/p/a.js", 10, 100, res)

	got, ok := c.Get("/p/a.js", 10, 100)
	require.True(t, ok)
	assert.Equal(t, res, got)

	_, ok = c.Get("/p/a.js", 10, 101)
	assert.False(t, ok, "stale mtime misses")

	got, ok = c.GetByHash("abc", scanner.LangJavaScript)
	require.True(t, ok)
	assert.Equal(t, res.Imports, got.Imports)

	_, ok = c.GetByHash("abc", scanner.LangTypeScript)
	assert.False(t, ok, "hash lookups are scoped to the language")

	c.Put("/p/a.js", 11, 200, &scanner.Result{Path: "/p/a.js", Hash: "def"})
	_, ok = c.Get("/p/a.js", 10, 100)
	assert.False(t, ok, "put replaces the entry for a path")

	s, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Entries)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(3), s.Misses)
	assert.Equal(t, int64(2), s.Writes)
	assert.Positive(t, s.PayloadBytes)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.db")
	c, err := Open(path, nil)
	require.NoError(t, err)
	c.Put("/p/a.js", 1, 1, &scanner.Result{Path: "/p/a.js", Hash: "h"})
	require.NoError(t, c.Close())

	c, err = Open(path, nil)
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.Get("/p/a.js", 1, 1)
	assert.True(t, ok)
}

func TestScannerUsesCache(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"a.js": "import './b';\nrequire('c');\n"})
	c := openTemp(t)
	s := scanner.New(scanner.Config{Memo: c})
	file := testutil.Abs(root, "a.js")

	first, err := s.ScanFile(context.Background(), file)
	require.NoError(t, err)
	second, err := s.ScanFile(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, first.Imports, second.Imports)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Writes)
}

func TestPruneAndClear(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"keep.js": "", "drop.js": ""})
	c := openTemp(t)
	c.Put(testutil.Abs(root, "keep.js"), 0, 1, &scanner.Result{Hash: "k"})
	c.Put(testutil.Abs(root, "drop.js"), 0, 1, &scanner.Result{Hash: "d"})
	require.NoError(t, os.Remove(testutil.Abs(root, "drop.js")))

	removed, err := c.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	_, ok := c.Get(testutil.Abs(root, "keep.js"), 0, 1)
	assert.True(t, ok)

	removed, err = c.Prune(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = c.RecordRun(Run{Entries: 1})
	require.NoError(t, err)
	require.NoError(t, c.Clear())
	s, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, s.Entries)
	assert.Zero(t, s.Runs)
}

func TestRecordRun(t *testing.T) {
	c := openTemp(t)
	id, err := c.RecordRun(Run{Entries: 3, Affected: 1, Duration: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	_, err = c.RecordRun(Run{ID: "fixed", StartedAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	runs, err := c.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "fixed", runs[0].ID)
	assert.Equal(t, id, runs[1].ID)
	assert.Equal(t, 3, runs[1].Entries)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c := openTemp(t)
	_, err := c.conn.Exec(`INSERT INTO scans (path, size, mtime, hash, backend, payload, used_at)
		VALUES ('/x.js', 1, 1, 'h', ?, x'00010203', 0)`, c.backend)
	require.NoError(t, err)

	_, ok := c.Get("/x.js", 1, 1)
	assert.False(t, ok)
}

func TestHitKeepsEntryFromPrune(t *testing.T) {
	root := testutil.WriteTree(t, testutil.Tree{"hot.js": "", "cold.js": "", "hashed.js": ""})
	c := openTemp(t)
	hot, cold, hashed := testutil.Abs(root, "hot.js"), testutil.Abs(root, "cold.js"), testutil.Abs(root, "hashed.js")
	c.Put(hot, 0, 1, &scanner.Result{Hash: "h"})
	c.Put(cold, 0, 1, &scanner.Result{Hash: "c"})
	c.Put(hashed, 0, 1, &scanner.Result{Hash: "x", Language: scanner.LangJavaScript})

	old := time.Now().Add(-48 * time.Hour).Unix()
	_, err := c.conn.Exec(`UPDATE scans SET used_at = ?`, old)
	require.NoError(t, err)

	_, ok := c.Get(hot, 0, 1)
	require.True(t, ok)
	_, ok = c.GetByHash("x", scanner.LangJavaScript)
	require.True(t, ok)

	removed, err := c.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	_, ok = c.Get(hot, 0, 1)
	assert.True(t, ok, "an entry that was hit is not stale")
	_, ok = c.Get(hashed, 0, 1)
	assert.True(t, ok, "a hash hit refreshes its entry")
	_, ok = c.Get(cold, 0, 1)
	assert.False(t, ok)
}

func TestOpenUpgradesVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE schema_version (version INTEGER NOT NULL)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
		`CREATE TABLE scans (path TEXT PRIMARY KEY, size INTEGER NOT NULL, mtime INTEGER NOT NULL,
			hash TEXT NOT NULL, backend TEXT NOT NULL, payload BLOB NOT NULL, used_at INTEGER NOT NULL)`,
		`CREATE INDEX idx_scans_hash ON scans(hash, backend)`,
		`CREATE TABLE runs (id TEXT PRIMARY KEY, started_at INTEGER NOT NULL, duration_ms INTEGER NOT NULL,
			entries INTEGER NOT NULL, changed INTEGER NOT NULL, affected INTEGER NOT NULL,
			modules INTEGER NOT NULL, errors INTEGER NOT NULL)`,
	} {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())

	c, err := Open(path, nil)
	require.NoError(t, err)
	defer c.Close()

	c.Put("/p/a.ts", 1, 1, &scanner.Result{Path: "/p/a.ts", Hash: "h", Language: scanner.LangTypeScript})
	_, ok := c.GetByHash("h", scanner.LangTypeScript)
	assert.True(t, ok)

	var version int
	require.NoError(t, c.conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}
