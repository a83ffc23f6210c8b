// Package epoch implements the append-only epoch history each replica
// keeps alongside its commit log: which master term owns which range
// of offsets, and the algorithm that finds the last point at which two
// such histories agree.
package epoch

import "fmt"

// EntrySize is the on-disk size of one record: epoch (u32) + startOffset (i64).
const EntrySize = 4 + 8

// Entry is one (epoch, startOffset) record. The entry's end offset is
// implicit: the startOffset of the next entry, or the cache's tracked
// "last entry end offset" for the newest entry.
type Entry struct {
	Epoch       uint32
	StartOffset int64
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{epoch=%d, startOffset=%d}", e.Epoch, e.StartOffset)
}
