// Package blame streams incremental git-blame output into a lazily
// readable, concurrently-shared collection of blame entries.
//
// Blaming a file attributes every line of it to the commit that last
// touched it. Unlike a full blame (which blocks until the whole file is
// attributed), a LazyBlame is readable the moment the first chunk
// arrives and is safe to query from multiple goroutines while more
// chunks are still being appended by the ingesting goroutine.
package blame

import (
	"context"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
)

// Range is a half-open line interval, 1-based and inclusive of Start,
// exclusive of End — the same convention `git blame --incremental`
// reports its own chunks in.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of lines covered by r.
func (r Range) Len() uint32 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Entry is a single contiguous hunk of a blamed file attributed to one
// commit.
type Entry struct {
	RangeInBlamedFile   Range
	RangeInOriginalFile Range
	CommitID            plumbing.Hash
}

// LazyBlame is a mutable, concurrently-readable collection of Entry
// values for one file path. A single producer appends entries as they
// stream in from StreamIncrementalBlame; any number of readers may call Lines,
// IsReady or WaitForReady concurrently with that ingestion.
//
// The zero value is not usable; construct with New.
type LazyBlame struct {
	FilePath string

	mu           sync.Mutex
	entries      []Entry
	sortedPrefix int
	ready        bool
	done         chan struct{} // closed exactly once, by MarkFinished
}

// New returns a LazyBlame ready to accept Append calls for filePath.
func New(filePath string) *LazyBlame {
	return &LazyBlame{
		FilePath: filePath,
		done:     make(chan struct{}),
	}
}

// Append pushes a new entry. Must only be called by the single producer
// ingesting this blame, and only while IsReady is false.
func (lb *LazyBlame) Append(e Entry) {
	lb.mu.Lock()
	lb.entries = append(lb.entries, e)
	lb.mu.Unlock()
}

// Lines returns a snapshot of all entries appended so far, sorted
// ascending by RangeInBlamedFile.Start. The blame list is not naturally
// sorted — git-blame --incremental emits hunks in the order the
// underlying history walk visits commits, not in final-file line order
// — so Lines sorts lazily: it tracks how much of the slice was sorted
// last time and only re-sorts when unsorted entries have been appended
// since.
func (lb *LazyBlame) Lines() []Entry {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.sortedPrefix < len(lb.entries) {
		sort.Slice(lb.entries, func(i, j int) bool {
			return lb.entries[i].RangeInBlamedFile.Start < lb.entries[j].RangeInBlamedFile.Start
		})
		lb.sortedPrefix = len(lb.entries)
	}

	out := make([]Entry, len(lb.entries))
	copy(out, lb.entries)
	return out
}

// IsReady reports whether ingestion has finished (successfully or not —
// see MarkFinished).
func (lb *LazyBlame) IsReady() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.ready
}

// MarkFinished marks the blame as complete and releases every goroutine
// blocked in WaitForReady or WaitForReadyContext. Idempotent — a
// producer that both observes a source error and unconditionally defers
// a finish call can't double-close the done channel.
func (lb *LazyBlame) MarkFinished() {
	lb.mu.Lock()
	if lb.ready {
		lb.mu.Unlock()
		return
	}
	lb.ready = true
	close(lb.done)
	lb.mu.Unlock()
}

// WaitForReady blocks until IsReady is true.
func (lb *LazyBlame) WaitForReady() {
	<-lb.done
}

// WaitForReadyContext blocks until IsReady is true, ctx is done, or the
// deadline passes — whichever comes first. It is race-free against a
// finish happening between an earlier IsReady check and this call:
// reading from a closed channel never blocks, so there is no window in
// which a finish that already happened would be missed.
func (lb *LazyBlame) WaitForReadyContext(ctx context.Context) error {
	select {
	case <-lb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
