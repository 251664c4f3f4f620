package gitgraph

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/unit-mesh/git-graph-local/pathcache"
)

// Config holds the tunables affecting ranking and caching, plus the
// swappable Cache backend and a logger for the ambient, log-and-continue
// errors this package never returns directly (primary blame-source
// failures, secondary-blame timeouts).
type Config struct {
	// ObjectCacheBytes sizes the git object cache go-git keeps in front
	// of the on-disk object store. Default 16 MiB.
	ObjectCacheBytes int64

	// BlameWindow is how many blame entries around the target line are
	// considered "nearby". Default 6.
	BlameWindow int

	// TopNCandidates truncates the ranked candidate list before the
	// (relatively expensive) secondary-blame resolution step. Default 20.
	TopNCandidates int

	// SecondaryBlameTimeout bounds how long RelatedFiles waits for a
	// candidate's own blame to become ready before scoring it with
	// whatever partial data exists. Default 250ms.
	SecondaryBlameTimeout time.Duration

	// RecursiveIngestion controls whether a primary OpenFile blame also
	// schedules the commit-change indexer for every sha it sees. Default
	// true. Secondary blames spawned during ranking are always
	// non-recursive regardless of this setting.
	RecursiveIngestion bool

	// Cache backs the path/commit index. If nil, Open creates a private
	// in-memory sqlitecache.Cache.
	Cache pathcache.Cache

	// Logger receives the handful of log-and-continue events this
	// package never returns as errors. The zero value (zerolog.Logger{})
	// behaves like zerolog.Nop().
	Logger zerolog.Logger
}

const (
	defaultObjectCacheBytes      = 16 * 1024 * 1024
	defaultBlameWindow           = 6
	defaultTopNCandidates        = 20
	defaultSecondaryBlameTimeout = 250 * time.Millisecond
)

// DefaultConfig returns the package's option defaults, including
// RecursiveIngestion: true for primary blame. Open uses this when no
// Config is supplied.
func DefaultConfig() Config {
	return Config{
		ObjectCacheBytes:      defaultObjectCacheBytes,
		BlameWindow:           defaultBlameWindow,
		TopNCandidates:        defaultTopNCandidates,
		SecondaryBlameTimeout: defaultSecondaryBlameTimeout,
		RecursiveIngestion:    true,
	}
}

// withDefaults fills in zero-valued numeric fields only; a nil Cache is
// filled in by OpenWithConfig.
// RecursiveIngestion is a plain bool with a meaningful false, so a
// caller-supplied Config's value is never overridden here — use
// DefaultConfig as a starting point to get RecursiveIngestion: true.
func (c Config) withDefaults() Config {
	if c.ObjectCacheBytes <= 0 {
		c.ObjectCacheBytes = defaultObjectCacheBytes
	}
	if c.BlameWindow <= 0 {
		c.BlameWindow = defaultBlameWindow
	}
	if c.TopNCandidates <= 0 {
		c.TopNCandidates = defaultTopNCandidates
	}
	if c.SecondaryBlameTimeout <= 0 {
		c.SecondaryBlameTimeout = defaultSecondaryBlameTimeout
	}
	return c
}
