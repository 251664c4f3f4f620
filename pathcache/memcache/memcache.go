// Package memcache is an in-process Cache backend kept as an ordered
// map rather than a plain Go map so that iteration order — useful for
// diagnostics and for any future range query — is deterministic by
// path, the same shape a B-tree-backed KV store would give for free.
package memcache

import (
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/unit-mesh/git-graph-local/pathcache"
)

type pathEntry struct {
	id        pathcache.PathID
	path      []byte
	renamedTo *pathcache.PathID
}

// Cache is a mutex-guarded, ordered-map implementation of pathcache.Cache.
// A single mutex is enough: writes only happen on cache misses (a fresh
// path or a newly-seen commit), so contention under concurrent readers
// is expected to stay low.
type Cache struct {
	mu sync.Mutex

	byPath  *redblacktree.Tree // string(path) -> *pathEntry
	byID    []*pathEntry       // PathID -> *pathEntry, dense from 0
	commits *redblacktree.Tree // string(sha[:]) -> pathcache.CachedCommit
}

// New returns an empty, ready-to-use in-memory Cache.
func New() *Cache {
	return &Cache{
		byPath:  redblacktree.NewWithStringComparator(),
		commits: redblacktree.NewWithStringComparator(),
	}
}

func (c *Cache) InternPath(path []byte) (pathcache.PathID, error) {
	key := string(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.byPath.Get(key); ok {
		return v.(*pathEntry).id, nil
	}

	entry := &pathEntry{
		id:   pathcache.PathID(len(c.byID)),
		path: append([]byte(nil), path...),
	}
	c.byID = append(c.byID, entry)
	c.byPath.Put(key, entry)
	return entry.id, nil
}

func (c *Cache) RecordRename(oldPath []byte, newID pathcache.PathID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.byPath.Get(string(oldPath))
	if !ok {
		return nil
	}
	id := newID
	v.(*pathEntry).renamedTo = &id
	return nil
}

func (c *Cache) ResolvePath(id pathcache.PathID) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(id, make(map[pathcache.PathID]bool))
}

// resolveLocked follows the rename-forwarding chain. Chains are
// expected to be acyclic; the visited set turns a cycle (a bug
// elsewhere) into a clean "unknown" instead of an infinite loop.
func (c *Cache) resolveLocked(id pathcache.PathID, visited map[pathcache.PathID]bool) ([]byte, bool, error) {
	if visited[id] {
		return nil, false, nil
	}
	visited[id] = true

	if int(id) >= len(c.byID) {
		return nil, false, nil
	}
	entry := c.byID[id]
	if entry == nil {
		return nil, false, nil
	}
	if entry.renamedTo != nil {
		return c.resolveLocked(*entry.renamedTo, visited)
	}
	return entry.path, true, nil
}

func (c *Cache) CachedCommit(sha pathcache.Hash) (pathcache.CachedCommit, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.commits.Get(string(sha[:]))
	if !ok {
		return pathcache.CachedCommit{}, false, nil
	}
	return v.(pathcache.CachedCommit), true, nil
}

func (c *Cache) UpdateCachedCommit(sha pathcache.Hash, rec pathcache.CachedCommit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(sha[:])
	if _, ok := c.commits.Get(key); ok {
		return nil // on-conflict-do-nothing
	}

	changed := append([]pathcache.PathID(nil), rec.ChangedPaths...)
	c.commits.Put(key, pathcache.CachedCommit{ChangedPaths: changed})
	return nil
}

func (c *Cache) IsCommitCached(sha pathcache.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.commits.Get(string(sha[:]))
	return ok, nil
}

var _ pathcache.Cache = (*Cache)(nil)
