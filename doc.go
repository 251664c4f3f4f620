// Package gitgraph computes, for a line in a file under a git
// repository, a ranked list of files historically co-edited with the
// commits that authored nearby lines.
//
// A RepoHandle opens a repository once; OpenFile triggers a recursive,
// streaming blame ingestion for one path and returns a FileHandle;
// FileHandle.RelatedFiles(line) ranks candidate files by how often they
// were touched by the same commits as the neighborhood around line.
//
// The heavy lifting — incremental blame ingestion, the blame cache, the
// commit-change index, and the ranking algorithm — lives in this
// package and its blame and pathcache subpackages. Exposing this to a
// host language via FFI/RPC, CLI wrapping, and the choice of a specific
// backing store for the path/commit cache are all left to callers; see
// pathcache for the storage contract and pathcache/memcache,
// pathcache/sqlitecache for two ready-made backends.
package gitgraph
