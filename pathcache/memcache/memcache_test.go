package memcache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unit-mesh/git-graph-local/pathcache"
)

func TestInternPath_Bijection(t *testing.T) {
	c := New()

	id, err := c.InternPath([]byte("a/b.go"))
	require.NoError(t, err)

	got, ok, err := c.ResolvePath(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a/b.go"), got)
}

func TestInternPath_SamePathReturnsSameID(t *testing.T) {
	c := New()

	id1, err := c.InternPath([]byte("x.go"))
	require.NoError(t, err)
	id2, err := c.InternPath([]byte("x.go"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := c.InternPath([]byte("y.go"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestInternPath_ConcurrentInternOfSamePathAllocatesOnce(t *testing.T) {
	c := New()

	const n = 64
	ids := make([]pathcache.PathID, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id, err := c.InternPath([]byte("shared.go"))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestResolvePath_Unknown(t *testing.T) {
	c := New()
	_, ok, err := c.ResolvePath(pathcache.PathID(999))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordRename_ForwardsResolve(t *testing.T) {
	c := New()
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

func TestUpdateCachedCommit_IdempotentOnConflict(t *testing.T) {
	c := New()
	var sha pathcache.Hash
	sha[0] = 1

	require.NoError(t, c.UpdateCachedCommit(sha, pathcache.CachedCommit{ChangedPaths: []pathcache.PathID{1, 2}}))
	require.NoError(t, c.UpdateCachedCommit(sha, pathcache.CachedCommit{ChangedPaths: []pathcache.PathID{9}}))

	rec, ok, err := c.CachedCommit(sha)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []pathcache.PathID{1, 2}, rec.ChangedPaths)
}

func TestIsCommitCached(t *testing.T) {
	c := New()
	var sha pathcache.Hash
	sha[0] = 7

	cached, err := c.IsCommitCached(sha)
	require.NoError(t, err)
	assert.False(t, cached)

	require.NoError(t, c.UpdateCachedCommit(sha, pathcache.CachedCommit{}))

	cached, err = c.IsCommitCached(sha)
	require.NoError(t, err)
	assert.True(t, cached)
}
