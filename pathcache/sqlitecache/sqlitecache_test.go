package sqlitecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unit-mesh/git-graph-local/pathcache"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInternPath_Bijection(t *testing.T) {
	c := newTestCache(t)

	id, err := c.InternPath([]byte("a/b.go"))
	require.NoError(t, err)

	got, ok, err := c.ResolvePath(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a/b.go"), got)
}

func TestInternPath_SamePathReturnsSameID(t *testing.T) {
	c := newTestCache(t)

	id1, err := c.InternPath([]byte("x.go"))
	require.NoError(t, err)
	id2, err := c.InternPath([]byte("x.go"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestUpdateCachedCommit_RoundTripAndIdempotent(t *testing.T) {
	c := newTestCache(t)
	var sha pathcache.Hash
	sha[0] = 0xAB

	ids := []pathcache.PathID{1, 5, 9}
	require.NoError(t, c.UpdateCachedCommit(sha, pathcache.CachedCommit{ChangedPaths: ids}))
	require.NoError(t, c.UpdateCachedCommit(sha, pathcache.CachedCommit{ChangedPaths: []pathcache.PathID{99}}))

	rec, ok, err := c.CachedCommit(sha)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ids, rec.ChangedPaths)

	cached, err := c.IsCommitCached(sha)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestCachedCommit_UnknownIsNotFound(t *testing.T) {
	c := newTestCache(t)
	var sha pathcache.Hash
	sha[0] = 1

	_, ok, err := c.CachedCommit(sha)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordRename_ForwardsResolve(t *testing.T) {
	c := newTestCache(t)
	oldID, err := c.InternPath([]byte("old.go"))
	require.NoError(t, err)
	newID, err := c.InternPath([]byte("new.go"))
	require.NoError(t, err)

	require.NoError(t, c.RecordRename([]byte("old.go"), newID))

	got, ok, err := c.ResolvePath(oldID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new.go"), got)
}
