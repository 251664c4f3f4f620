package blame

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	ctxio "github.com/jbenet/go-context/io"

	"github.com/go-git/go-git/v5/plumbing"
)

// ErrBlameSource is returned when the underlying blame producer exits
// non-zero, is killed, or emits a record this parser cannot decode.
var ErrBlameSource = fmt.Errorf("blame source error")

// Chunk is one contiguous hunk reported by a streaming blame: a header
// line of "<sha-hex> <orig_line> <final_line> <num_lines>" followed by
// zero or more key/value lines, of which only "previous" and the
// chunk-terminating "filename" line are consumed here.
type Chunk struct {
	SHA              plumbing.Hash
	LineOriginal     uint32
	LineFinal        uint32
	NumLines         uint32
	PreviousFilename string
}

// ChunkFunc consumes chunks as they are parsed. It must not retain the
// Chunk's backing memory beyond the call (none is shared across calls,
// but callers should still treat it as transient by convention).
type ChunkFunc func(Chunk)

// StreamIncrementalBlame runs `git blame --incremental` for filepath at
// revision (HEAD if empty) inside repoPath, and pushes every parsed
// Chunk to consume as it arrives. It never buffers the full output —
// memory use is O(1) in file size, bounded by one in-flight chunk and
// bufio's read buffer — so it is safe to run against very large files
// or very long histories.
//
// On success it returns nil. On a non-zero exit, a killed process, or a
// malformed record it returns an error wrapping ErrBlameSource; consume
// will not be called again after that point. The subprocess is killed
// if ctx is cancelled, unblocking a consumer stuck reading from
// git-blame's (slow) stdout — this is how closing a RepoHandle
// transitively cancels background ingestion.
func StreamIncrementalBlame(ctx context.Context, repoPath string, revision string, filepath string, consume ChunkFunc) error {
	if revision == "" {
		revision = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "blame", "--incremental", revision, "--", filepath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: starting git blame: %v", ErrBlameSource, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: spawning git blame: %v", ErrBlameSource, err)
	}

	// Wrapping stdout with a context-aware reader means a cancelled ctx
	// unblocks a Read that is parked waiting on git-blame's pipe, even
	// though cmd.Wait() below is also racing to kill the process.
	cr := ctxio.NewReader(ctx, stdout)
	scanner := bufio.NewScanner(cr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	parseErr := parseIncremental(scanner, consume)
	waitErr := cmd.Wait()

	if parseErr != nil {
		return parseErr
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrBlameSource, ctx.Err())
	}
	if waitErr != nil {
		return fmt.Errorf("%w: git blame: %v", ErrBlameSource, waitErr)
	}
	return nil
}

func parseIncremental(scanner *bufio.Scanner, consume ChunkFunc) error {
	var current *Chunk

	for scanner.Scan() {
		line := scanner.Text()

		if current == nil {
			chunk, err := parseHeader(line)
			if err != nil {
				return err
			}
			current = chunk
			continue
		}

		switch {
		case strings.HasPrefix(line, "previous "):
			fields := strings.SplitN(line, " ", 3)
			if len(fields) == 3 {
				current.PreviousFilename = fields[2]
			}
		case strings.HasPrefix(line, "filename "):
			consume(*current)
			current = nil
		}
		// every other header line (author, author-mail, summary, ...) is
		// ignored.
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading blame stream: %v", ErrBlameSource, err)
	}
	return nil
}

func parseHeader(line string) (*Chunk, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: malformed chunk header %q", ErrBlameSource, line)
	}

	if len(fields[0]) != 40 {
		return nil, fmt.Errorf("%w: malformed sha %q", ErrBlameSource, fields[0])
	}
	if _, err := hex.DecodeString(fields[0]); err != nil {
		return nil, fmt.Errorf("%w: malformed sha %q: %v", ErrBlameSource, fields[0], err)
	}

	orig, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed orig_line %q: %v", ErrBlameSource, fields[1], err)
	}
	final, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed final_line %q: %v", ErrBlameSource, fields[2], err)
	}
	n, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed num_lines %q: %v", ErrBlameSource, fields[3], err)
	}

	return &Chunk{
		SHA:          plumbing.NewHash(fields[0]),
		LineOriginal: uint32(orig),
		LineFinal:    uint32(final),
		NumLines:     uint32(n),
	}, nil
}
