package gitgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/unit-mesh/git-graph-local/pathcache"
	"github.com/unit-mesh/git-graph-local/pathcache/memcache"
)

// testRepo builds a throwaway on-disk git working directory with
// go-git's own Init/Worktree API, the same way go-git's own worktree
// tests build fixtures.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	return &testRepo{t: t, dir: dir, repo: repo, wt: wt}
}

func (r *testRepo) write(name, content string) {
	r.t.Helper()
	full := filepath.Join(r.dir, name)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
}

// commit stages and commits every path in paths, in order, under a
// fixed author name and email. The commit time is the current time, so
// hashes differ between test runs.
func (r *testRepo) commit(msg string, paths ...string) plumbing.Hash {
	r.t.Helper()
	for _, p := range paths {
		_, err := r.wt.Add(p)
		require.NoError(r.t, err)
	}

	sig := &object.Signature{Name: "gitgraph-test", Email: "test@example.com", When: time.Now()}
	hash, err := r.wt.Commit(msg, &git.CommitOptions{Author: sig})
	require.NoError(r.t, err)
	return hash
}

// open wires a RepoHandle over this fixture with an in-memory cache and
// the given overrides merged over DefaultConfig.
func (r *testRepo) open(t *testing.T, override func(*Config)) *RepoHandle {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cache = memcache.New()
	if override != nil {
		override(&cfg)
	}

	rh, err := OpenWithConfig(r.dir, cfg)
	require.NoError(t, err)
	t.Cleanup(rh.Close)
	return rh
}

// linesOf joins n lines "prefix1".."prefixN" with trailing newlines.
func linesOf(prefix string, n int) string {
	s := ""
	for i := 1; i <= n; i++ {
		s += fmt.Sprintf("%s%d\n", prefix, i)
	}
	return s
}

// splitLines and joinLines let a test mutate one line of a linesOf
// block in place without hand-building the whole string again.
func splitLines(content string) []string {
	var out []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			out = append(out, content[start:i])
			start = i + 1
		}
	}
	return out
}

func joinLines(lines []string) string {
	s := ""
	for _, l := range lines {
		s += l + "\n"
	}
	return s
}

// otherFileName names the i'th unrelated file in a many-files-one-commit
// fixture. The names sort lexically before "target.txt" and among
// themselves in index order.
func otherFileName(i int) string {
	return fmt.Sprintf("other%02d.txt", i)
}

// waitIndexed polls until sha has been indexed by the commit indexer or
// the deadline passes, since indexing happens on a worker pool
// asynchronously to blame ingestion.
func waitIndexed(t *testing.T, rh *RepoHandle, sha plumbing.Hash) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ok, err := rh.cache.IsCommitCached(pathcache.Hash(sha))
		require.NoError(t, err)
		if ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("commit %s was never indexed", sha)
}
