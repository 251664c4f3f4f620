package gitgraph

import (
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/unit-mesh/git-graph-local/pathcache"
)

// commitIndexer runs the commit-change indexer on a fixed-size worker
// pool, kept separate from the goroutines doing blame ingestion so a
// burst of tree diffing never starves blame's subprocess I/O.
type commitIndexer struct {
	rh   *RepoHandle
	jobs chan plumbing.Hash
}

func newCommitIndexer(rh *RepoHandle) *commitIndexer {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	ci := &commitIndexer{rh: rh, jobs: make(chan plumbing.Hash, 256)}
	for i := 0; i < workers; i++ {
		go ci.run()
	}
	return ci
}

func (ci *commitIndexer) run() {
	for {
		select {
		case sha := <-ci.jobs:
			if err := ci.rh.indexCommit(sha); err != nil {
				ci.rh.cfg.Logger.Debug().Err(err).Str("sha", sha.String()).
					Msg("gitgraph: commit indexing failed; ranking will skip this commit until retried")
			}
		case <-ci.rh.ctx.Done():
			return
		}
	}
}

// submit enqueues sha for indexing; indexCommit skips shas that are
// already cached. It never blocks past the handle's cancellation.
func (ci *commitIndexer) submit(sha plumbing.Hash) {
	select {
	case ci.jobs <- sha:
	case <-ci.rh.ctx.Done():
	}
}

// stop is a no-op placeholder kept symmetrical with newCommitIndexer;
// the worker pool exits on its own once rh.ctx is cancelled.
func (ci *commitIndexer) stop() {}

// indexCommit diffs sha's tree against its first parent's tree and
// persists the sorted, deduplicated set of path ids it touched. A no-op
// if sha is already cached (idempotent, and cheap to call redundantly
// from concurrent ingestions of overlapping history).
func (rh *RepoHandle) indexCommit(sha plumbing.Hash) error {
	cached, err := rh.cache.IsCommitCached(pathcache.Hash(sha))
	if err != nil {
		return fmt.Errorf("%w: checking commit cache for %s: %v", pathcache.ErrStorage, sha, err)
	}
	if cached {
		return nil
	}

	commit, err := object.GetCommit(rh.repo.Storer, sha)
	if err != nil {
		return fmt.Errorf("%w: loading commit %s: %v", ErrRepo, sha, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("%w: loading tree for commit %s: %v", ErrRepo, sha, err)
	}

	var changed []pathcache.PathID

	// Merges are approximated by their first parent. A root commit has
	// no parent to diff against; every blob it introduces simply counts
	// as added. Diffing against a zero-value Tree would otherwise reach
	// into merkletrie internals for a tree that was never decoded from
	// the object store, so the root-commit case walks the tree directly
	// instead.
	if commit.NumParents() == 0 {
		changed, err = internAllBlobs(rh.cache, tree)
		if err != nil {
			return fmt.Errorf("%w: interning root commit %s: %v", pathcache.ErrStorage, sha, err)
		}
	} else {
		parent, err := commit.Parent(0)
		if err != nil {
			return fmt.Errorf("%w: loading first parent of %s: %v", ErrRepo, sha, err)
		}
		parentTree, err := parent.Tree()
		if err != nil {
			return fmt.Errorf("%w: loading parent tree for %s: %v", ErrRepo, sha, err)
		}

		changes, err := parentTree.Diff(tree)
		if err != nil {
			return fmt.Errorf("%w: diffing commit %s against its first parent: %v", ErrRepo, sha, err)
		}

		for _, change := range changes {
			action, err := change.Action()
			if err != nil {
				return fmt.Errorf("%w: classifying change in commit %s: %v", ErrRepo, sha, err)
			}

			switch action {
			case merkletrie.Insert, merkletrie.Modify:
				if !isBlobOrSymlink(change.To.TreeEntry.Mode) {
					continue
				}
				id, err := rh.cache.InternPath([]byte(change.To.Name))
				if err != nil {
					return fmt.Errorf("%w: interning path %q: %v", pathcache.ErrStorage, change.To.Name, err)
				}
				changed = append(changed, id)
			case merkletrie.Delete:
				// a deletion doesn't indicate co-change of a file that
				// still exists afterward.
			}
		}
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	changed = dedupSortedPathIDs(changed)

	if err := rh.cache.UpdateCachedCommit(pathcache.Hash(sha), pathcache.CachedCommit{ChangedPaths: changed}); err != nil {
		return fmt.Errorf("%w: storing commit index for %s: %v", pathcache.ErrStorage, sha, err)
	}
	return nil
}

// internAllBlobs interns every file path in tree, recursing into
// subtrees as object.Tree.Files walks them. Used for root commits,
// which have no parent tree to diff against.
func internAllBlobs(cache pathcache.Cache, tree *object.Tree) ([]pathcache.PathID, error) {
	var ids []pathcache.PathID
	walker := tree.Files()
	defer walker.Close()

	for {
		file, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking tree files: %v", err)
		}
		if !isBlobOrSymlink(file.Mode) {
			continue
		}
		id, err := cache.InternPath([]byte(file.Name))
		if err != nil {
			return nil, fmt.Errorf("interning path %q: %v", file.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isBlobOrSymlink(mode filemode.FileMode) bool {
	switch mode {
	case filemode.Regular, filemode.Deprecated, filemode.Executable, filemode.Symlink:
		return true
	default:
		return false
	}
}

func dedupSortedPathIDs(ids []pathcache.PathID) []pathcache.PathID {
	if len(ids) < 2 {
		return ids
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
