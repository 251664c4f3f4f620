package blame

import (
	"bufio"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIncrementalBlame = `aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 1 1 2
author Jane Doe
author-mail <jane@example.com>
author-time 1700000000
author-tz +0000
summary first commit
previous bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb old_name.txt
filename a.txt
cccccccccccccccccccccccccccccccccccccccc 3 3 1
author John Roe
summary second commit
filename a.txt
`

func TestParseIncremental(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader(sampleIncrementalBlame))

	var chunks []Chunk
	err := parseIncremental(scanner, func(c Chunk) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), chunks[0].SHA)
	assert.Equal(t, uint32(1), chunks[0].LineOriginal)
	assert.Equal(t, uint32(1), chunks[0].LineFinal)
	assert.Equal(t, uint32(2), chunks[0].NumLines)
	assert.Equal(t, "old_name.txt", chunks[0].PreviousFilename)

	assert.Equal(t, plumbing.NewHash("cccccccccccccccccccccccccccccccccccccccc"), chunks[1].SHA)
	assert.Equal(t, uint32(3), chunks[1].LineOriginal)
	assert.Equal(t, uint32(3), chunks[1].LineFinal)
	assert.Equal(t, uint32(1), chunks[1].NumLines)
	assert.Equal(t, "", chunks[1].PreviousFilename)
}

func TestParseIncremental_MalformedHeaderIsBlameSourceError(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("not-a-valid-header\n"))
	err := parseIncremental(scanner, func(Chunk) {})
	assert.ErrorIs(t, err, ErrBlameSource)
}

func TestParseIncremental_MalformedShaIsBlameSourceError(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("nothex 1 1 1\nfilename a.txt\n"))
	err := parseIncremental(scanner, func(Chunk) {})
	assert.ErrorIs(t, err, ErrBlameSource)
}
