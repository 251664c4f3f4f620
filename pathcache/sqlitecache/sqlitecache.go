// Package sqlitecache is the default pathcache.Cache backend: a SQLite
// database with two tables, paths(id pk, path unique, renamed_to?) and
// commits(sha pk, changes blob), using an INSERT-OR-IGNORE-then-SELECT
// pattern to make path interning atomic under a single connection.
package sqlitecache

import (
	"database/sql"
	"errors"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/unit-mesh/git-graph-local/pathcache"
)

// Cache is a SQLite-backed pathcache.Cache. Use New for an in-memory
// database (the default for a RepoHandle) or NewFile to persist across
// process restarts.
type Cache struct {
	// modernc.org/sqlite's :memory: databases are private per
	// connection, so New forces a single connection, and this extra
	// mutex serializes the insert-then-select sequence InternPath needs
	// for atomicity — database/sql's own connection-pool locking isn't
	// enough once MaxOpenConns is 1 and a single logical operation spans
	// two statements.
	mu sync.Mutex
	db *sql.DB
}

// New opens a private in-memory SQLite database.
func New() (*Cache, error) {
	return open(":memory:")
}

// NewFile opens (creating if absent) a SQLite database at path, for
// callers that want the path/commit cache to survive process restarts.
func NewFile(path string) (*Cache, error) {
	return open(path)
}

func open(dsn string) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pathcache.StorageErrorf("opening sqlite cache: %v", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{db: db}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS paths (
			id INTEGER PRIMARY KEY,
			path BLOB NOT NULL,
			renamed_to INTEGER
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS paths_by_path ON paths(path)`,
		`CREATE TABLE IF NOT EXISTS commits (
			sha BLOB PRIMARY KEY,
			changes BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return pathcache.StorageErrorf("creating schema: %v", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) InternPath(path []byte) (pathcache.PathID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(`INSERT OR IGNORE INTO paths (path) VALUES (?)`, path)
	if err != nil {
		return 0, pathcache.StorageErrorf("interning path: %v", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, pathcache.StorageErrorf("reading inserted path id: %v", err)
		}
		return pathcache.PathID(id), nil
	}

	var id int64
	err = c.db.QueryRow(`SELECT id FROM paths WHERE path = ?`, path).Scan(&id)
	if err != nil {
		return 0, pathcache.StorageErrorf("looking up interned path: %v", err)
	}
	return pathcache.PathID(id), nil
}

func (c *Cache) RecordRename(oldPath []byte, newID pathcache.PathID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`UPDATE paths SET renamed_to = ? WHERE path = ?`, int64(newID), oldPath)
	if err != nil {
		return pathcache.StorageErrorf("recording rename: %v", err)
	}
	return nil
}

func (c *Cache) ResolvePath(id pathcache.PathID) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(id, make(map[pathcache.PathID]bool))
}

func (c *Cache) resolveLocked(id pathcache.PathID, visited map[pathcache.PathID]bool) ([]byte, bool, error) {
	if visited[id] {
		return nil, false, nil
	}
	visited[id] = true

	var path []byte
	var renamedTo sql.NullInt64
	err := c.db.QueryRow(`SELECT path, renamed_to FROM paths WHERE id = ?`, int64(id)).Scan(&path, &renamedTo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pathcache.StorageErrorf("resolving path %d: %v", id, err)
	}

	if renamedTo.Valid {
		return c.resolveLocked(pathcache.PathID(renamedTo.Int64), visited)
	}
	return path, true, nil
}

func (c *Cache) CachedCommit(sha pathcache.Hash) (pathcache.CachedCommit, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []byte
	err := c.db.QueryRow(`SELECT changes FROM commits WHERE sha = ?`, sha[:]).Scan(&changes)
	if errors.Is(err, sql.ErrNoRows) {
		return pathcache.CachedCommit{}, false, nil
	}
	if err != nil {
		return pathcache.CachedCommit{}, false, pathcache.StorageErrorf("reading cached commit: %v", err)
	}

	ids, err := pathcache.DecodeChangedPaths(changes)
	if err != nil {
		return pathcache.CachedCommit{}, false, pathcache.StorageErrorf("decoding cached commit: %v", err)
	}
	return pathcache.CachedCommit{ChangedPaths: ids}, true, nil
}

func (c *Cache) UpdateCachedCommit(sha pathcache.Hash, rec pathcache.CachedCommit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	encoded := pathcache.EncodeChangedPaths(rec.ChangedPaths)
	_, err := c.db.Exec(`INSERT INTO commits (sha, changes) VALUES (?, ?) ON CONFLICT(sha) DO NOTHING`, sha[:], encoded)
	if err != nil {
		return pathcache.StorageErrorf("updating cached commit: %v", err)
	}
	return nil
}

func (c *Cache) IsCommitCached(sha pathcache.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var one int
	err := c.db.QueryRow(`SELECT 1 FROM commits WHERE sha = ?`, sha[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, pathcache.StorageErrorf("checking commit cache: %v", err)
	}
	return true, nil
}

var _ pathcache.Cache = (*Cache)(nil)
