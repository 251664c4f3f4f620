package pathcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeChangedPaths serializes a sorted, deduplicated list of path ids
// as a sequence of ascending LEB128-style varints. Encoding deltas
// between consecutive ids would shave a few more bytes for typical
// small-id, small-commit repos, but encoding the ids themselves keeps
// decode a single pass with no running-sum state.
func EncodeChangedPaths(ids []PathID) []byte {
	buf := make([]byte, 0, len(ids)*2)
	scratch := make([]byte, binary.MaxVarintLen32)
	for _, id := range ids {
		n := binary.PutUvarint(scratch, uint64(id))
		buf = append(buf, scratch[:n]...)
	}
	return buf
}

// DecodeChangedPaths reverses EncodeChangedPaths.
func DecodeChangedPaths(data []byte) ([]PathID, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)
	var ids []PathID
	for r.Len() > 0 {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pathcache: decoding varint: %w", err)
		}
		ids = append(ids, PathID(v))
	}
	return ids, nil
}
