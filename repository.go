package gitgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/unit-mesh/git-graph-local/blame"
	"github.com/unit-mesh/git-graph-local/pathcache"
	"github.com/unit-mesh/git-graph-local/pathcache/sqlitecache"
)

// ErrRepo is returned when opening a repository or resolving an object
// inside it fails.
var ErrRepo = errors.New("gitgraph: repository error")

// ErrLogic marks a broken invariant: a bug in this package, not in
// caller input. The ranker does not return it: candidates with zero
// touched lines are filtered out by finalizeCandidates, not asserted on.
var ErrLogic = errors.New("gitgraph: internal invariant violated")

// RepoHandle is a repository graph: it owns the path/commit cache and
// the per-file blame cache for one git working directory, and offers
// the two library entry points: OpenFile and (via FileHandle)
// RelatedFiles.
//
// A RepoHandle is safe for concurrent use. Close cancels all
// outstanding background ingestion and indexing for this handle; the
// indexer's worker goroutines keep running until Close is called.
type RepoHandle struct {
	repoPath string
	repo     *git.Repository
	cache    pathcache.Cache
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc

	blames sync.Map // blameKey(revision, path) -> *blame.LazyBlame

	indexer *commitIndexer
}

// Open opens repoPath as a git working directory and initializes its
// caches, using DefaultConfig.
func Open(repoPath string) (*RepoHandle, error) {
	return OpenWithConfig(repoPath, DefaultConfig())
}

// OpenWithConfig is Open with an explicit Config.
func OpenWithConfig(repoPath string, cfg Config) (*RepoHandle, error) {
	cfg = cfg.withDefaults()

	fs := osfs.New(repoPath)
	dot, err := fs.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("%w: locating .git in %s: %v", ErrRepo, repoPath, err)
	}

	storer := filesystem.NewStorage(dot, cache.NewObjectLRU(cache.FileSize(cfg.ObjectCacheBytes)))
	repo, err := git.Open(storer, fs)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrRepo, repoPath, err)
	}

	pc := cfg.Cache
	if pc == nil {
		pc, err = sqlitecache.New()
		if err != nil {
			return nil, fmt.Errorf("%w: creating default path cache: %v", ErrRepo, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	rh := &RepoHandle{
		repoPath: repoPath,
		repo:     repo,
		cache:    pc,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
	rh.indexer = newCommitIndexer(rh)
	return rh, nil
}

// Close cancels all background ingestion and indexing spawned by this
// handle. It does not wait for them to observe the cancellation —
// dropping a single query's context doesn't force its in-flight work
// to stop abruptly, but closing the whole RepoHandle does tear
// everything down.
func (rh *RepoHandle) Close() {
	rh.cancel()
	rh.indexer.stop()
}

// FileHandle is a handle to the (possibly still-filling-in) blame of
// one file, returned by OpenFile.
type FileHandle struct {
	repo *RepoHandle
	path string
	lb   *blame.LazyBlame
}

// OpenFile triggers blame ingestion for path, recursive when
// Config.RecursiveIngestion is set (the default): the resulting
// FileHandle's blame warms both itself and, as each commit sha is
// first seen, the commit-change index those commits will need once
// RelatedFiles is called.
func (rh *RepoHandle) OpenFile(path string) (*FileHandle, error) {
	lb := rh.loadBlame("HEAD", path, rh.cfg.RecursiveIngestion)
	return &FileHandle{repo: rh, path: path, lb: lb}, nil
}

// WaitReady blocks until fh's primary blame has finished ingesting, ctx
// is done, or its deadline passes. RelatedFiles does not require this —
// it ranks whatever prefix of the blame has arrived so far — but a
// caller that wants a stable, complete answer waits first.
func (fh *FileHandle) WaitReady(ctx context.Context) error {
	return fh.lb.WaitForReadyContext(ctx)
}

// blameKey identifies one (revision, path) blame for the cache: I5
// scopes "at most one in-flight ingestion" to that pair, not to path
// alone, since the ranker's secondary blames are taken at specific
// historical commits rather than the primary file's HEAD revision.
func blameKey(revision, path string) string {
	return revision + "\x00" + path
}

// loadBlame returns the shared LazyBlame for (revision, path), creating
// it and spawning its ingestion goroutine on first request. Concurrent
// callers racing on the same never-before-seen key all get the same
// LazyBlame — sync.Map.LoadOrStore performs the atomic get-or-insert —
// so exactly one ingestion goroutine is ever spawned per key.
func (rh *RepoHandle) loadBlame(revision, path string, recursive bool) *blame.LazyBlame {
	fresh := blame.New(path)
	actual, loaded := rh.blames.LoadOrStore(blameKey(revision, path), fresh)
	lb := actual.(*blame.LazyBlame)
	if loaded {
		return lb
	}

	go rh.ingest(lb, revision, path, recursive)
	return lb
}

// ingest runs the blame chunk source for path at revision and appends
// every chunk it yields to lb, optionally fanning each newly-seen
// commit sha out to the commit indexer. Errors from the blame source
// are swallowed here and only logged — mark as finished regardless, so
// no WaitForReady caller is ever stranded.
func (rh *RepoHandle) ingest(lb *blame.LazyBlame, revision, path string, recursive bool) {
	defer lb.MarkFinished()

	seen := make(map[[20]byte]bool)
	err := blame.StreamIncrementalBlame(rh.ctx, rh.repoPath, revision, path, func(chunk blame.Chunk) {
		lb.Append(blame.Entry{
			RangeInBlamedFile:   blame.Range{Start: chunk.LineFinal, End: chunk.LineFinal + chunk.NumLines},
			RangeInOriginalFile: blame.Range{Start: chunk.LineOriginal, End: chunk.LineOriginal + chunk.NumLines},
			CommitID:            chunk.SHA,
		})

		if recursive && !seen[chunk.SHA] {
			seen[chunk.SHA] = true
			rh.indexer.submit(chunk.SHA)
		}
	})
	if err != nil {
		rh.cfg.Logger.Debug().Err(err).Str("path", path).Msg("gitgraph: primary blame ingestion ended with an error; partial results kept")
	}
}
