package gitgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	"github.com/unit-mesh/git-graph-local/blame"
	"github.com/unit-mesh/git-graph-local/pathcache"
)

// Candidate is one related file surfaced by RelatedFiles: a path that
// was touched by at least one commit also blamed for lines near the
// query line, together with the line ranges in it attributable to
// those commits and an aggregate weight.
type Candidate struct {
	Path         string
	Locations    []uint32 // start lines of each attributable range
	TouchedLines uint32
	Weight       float64
	Commit       plumbing.Hash
}

// candidateAccum is the in-progress (path_id -> Candidate) aggregate
// kept across steps 3-6 before a Candidate's Path is resolved.
type candidateAccum struct {
	pathID       pathcache.PathID
	weight       float64
	commit       plumbing.Hash
	path         string
	resolved     bool
	locations    []blame.Range
	touchedLines uint32
}

// RelatedFiles ranks candidate files by how often they were touched by
// the same commits as the neighborhood around line in fh's blamed file.
func (fh *FileHandle) RelatedFiles(ctx context.Context, line uint32) ([]Candidate, error) {
	rh := fh.repo
	cfg := rh.cfg

	entries := fh.lb.Lines()
	if len(entries) == 0 {
		return nil, nil
	}

	k := locateTargetIndex(entries, line)
	lo, hi := windowBounds(k, len(entries), cfg.BlameWindow)

	selfID, err := rh.cache.InternPath([]byte(fh.path))
	if err != nil {
		return nil, fmt.Errorf("%w: interning own path %q: %v", pathcache.ErrStorage, fh.path, err)
	}

	accums := make(map[pathcache.PathID]*candidateAccum)
	interesting := make(map[plumbing.Hash]bool)

	for r := lo; r < hi; r++ {
		entry := entries[r]
		d := abs(r - k)

		cached, ok, err := rh.cache.CachedCommit(pathcache.Hash(entry.CommitID))
		if err != nil {
			return nil, fmt.Errorf("%w: looking up cached commit %s: %v", pathcache.ErrStorage, entry.CommitID, err)
		}
		if !ok {
			continue
		}
		interesting[entry.CommitID] = true

		weightDelta := 2.0 - float64(d)*0.2
		for _, pid := range cached.ChangedPaths {
			if pid == selfID {
				continue
			}
			acc, seen := accums[pid]
			if !seen {
				acc = &candidateAccum{pathID: pid, commit: entry.CommitID}
				accums[pid] = acc
			}
			acc.weight += weightDelta
		}
	}

	if len(accums) == 0 {
		return nil, nil
	}

	ordered := make([]*candidateAccum, 0, len(accums))
	for _, acc := range accums {
		ordered = append(ordered, acc)
	}
	// Two stable passes, exactly as the original ranks candidates before
	// truncating: sort by path id first so that a later tie in weight
	// breaks deterministically by path id, then re-sort (stably) by
	// weight descending so truncation keeps the N heaviest candidates
	// rather than the N lowest-numbered ones.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pathID < ordered[j].pathID })
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].weight > ordered[j].weight })
	if len(ordered) > cfg.TopNCandidates {
		ordered = ordered[:cfg.TopNCandidates]
	}

	if err := resolveAndBackfill(ctx, rh, ordered, interesting); err != nil {
		return nil, err
	}

	return finalizeCandidates(ordered), nil
}

// locateTargetIndex binary searches entries for the insertion point of
// line among range_in_blamed_file.Start values, matching the original
// "as if L were to be inserted, preserving sorted order" rule.
func locateTargetIndex(entries []blame.Entry, line uint32) int {
	return sort.Search(len(entries), func(i int) bool {
		return entries[i].RangeInBlamedFile.Start >= line
	})
}

// windowBounds clamps [k-window/2, k+window/2) to [0, n).
func windowBounds(k, n, window int) (lo, hi int) {
	lo = k - window/2
	hi = k + window/2
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// resolveAndBackfill resolves each candidate's canonical path, fetches
// a short-lived non-recursive secondary blame at the candidate's
// commit, and fills in locations/touchedLines by intersecting that
// blame with the interesting commit set. Candidates whose path cannot
// be resolved are dropped in place (their entry is left unresolved and
// filtered out by finalizeCandidates).
func resolveAndBackfill(ctx context.Context, rh *RepoHandle, candidates []*candidateAccum, interesting map[plumbing.Hash]bool) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, acc := range candidates {
		acc := acc
		pathBytes, ok, err := rh.cache.ResolvePath(acc.pathID)
		if err != nil {
			return fmt.Errorf("%w: resolving path id %d: %v", pathcache.ErrStorage, acc.pathID, err)
		}
		if !ok {
			continue
		}
		acc.path = string(pathBytes)
		acc.resolved = true

		g.Go(func() error {
			backfillOne(gctx, rh, acc, interesting)
			return nil
		})
	}

	return g.Wait()
}

// backfillOne waits up to the configured secondary-blame timeout for
// acc's path blamed at acc.commit, then intersects whatever entries
// exist (complete or partial) with interesting. A timeout is not an
// error: ranking proceeds with best-effort data.
func backfillOne(ctx context.Context, rh *RepoHandle, acc *candidateAccum, interesting map[plumbing.Hash]bool) {
	lb := rh.loadBlame(acc.commit.String(), acc.path, false)

	waitCtx, cancel := context.WithTimeout(ctx, rh.cfg.SecondaryBlameTimeout)
	defer cancel()

	if err := lb.WaitForReadyContext(waitCtx); err != nil {
		rh.cfg.Logger.Debug().Str("path", acc.path).Str("commit", acc.commit.String()).
			Msg("gitgraph: secondary blame not ready within timeout; scoring with partial data")
	}

	for _, e := range lb.Lines() {
		if !interesting[e.CommitID] {
			continue
		}
		acc.locations = append(acc.locations, e.RangeInBlamedFile)
		acc.touchedLines += e.RangeInBlamedFile.Len()
	}
}

// finalizeCandidates normalizes weight by touched_lines/max, sorts by
// weight descending, and drops unresolved or untouched candidates.
func finalizeCandidates(accums []*candidateAccum) []Candidate {
	var max uint32
	for _, acc := range accums {
		if acc.resolved && acc.touchedLines > max {
			max = acc.touchedLines
		}
	}

	out := make([]Candidate, 0, len(accums))
	for _, acc := range accums {
		if !acc.resolved || acc.touchedLines == 0 {
			continue
		}
		weight := acc.weight
		if max > 0 {
			weight *= float64(acc.touchedLines) / float64(max)
		}

		locations := make([]uint32, len(acc.locations))
		for i, r := range acc.locations {
			locations[i] = r.Start
		}

		out = append(out, Candidate{
			Path:         acc.path,
			Locations:    locations,
			TouchedLines: acc.touchedLines,
			Weight:       weight,
			Commit:       acc.commit,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
