package epoch

import (
	"fmt"
	"log/slog"
	"sync"
)

// Cache is the append-only, ordered sequence of Entry records for one
// replica. Mutation is serialized; FindConsistentPoint and the other
// readers may run concurrently with each other but not with a mutator.
type Cache struct {
	mu sync.RWMutex

	entries []Entry
	// lastEntryEndOffset is the end offset of the newest entry, which is
	// never persisted explicitly: it tracks wherever the owning commit
	// log's max offset currently is.
	lastEntryEndOffset int64

	file *fileStore // nil for an in-memory-only cache (e.g. a scratch copy built from a remote's entry list)
	log  *slog.Logger
}

// New creates an in-memory cache with no backing file. Used for the
// scratch "remote" cache built from a handshake reply, and in tests.
func New(log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{log: log}
}

// Open loads (or creates) the cache backed by the fixed-record file at path.
func Open(path string, log *slog.Logger) (*Cache, error) {
	c := New(log)
	f, entries, err := openFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("epoch: open %s: %w", path, err)
	}
	c.file = f
	c.entries = entries
	if len(entries) > 0 {
		c.lastEntryEndOffset = entries[len(entries)-1].StartOffset
	}
	return c, nil
}

// Close releases the backing file, if any.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

// InitFromEntries replaces the cache's contents wholesale, used to build
// a scratch remote-side cache from a handshake's epoch-entry list.
func (c *Cache) InitFromEntries(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]Entry(nil), entries...)
	if len(c.entries) > 0 {
		c.lastEntryEndOffset = c.entries[len(c.entries)-1].StartOffset
	}
}

// SetLastEntryEndOffset advances the cursor used as the newest entry's
// implicit end offset. Callers report their commit log's max offset here.
func (c *Cache) SetLastEntryEndOffset(offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEntryEndOffset = offset
}

// Append adds a new entry. epoch must strictly exceed every existing
// epoch and startOffset must be >= the current last entry's end offset.
func (c *Cache) Append(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.entries); n > 0 {
		last := c.entries[n-1]
		if entry.Epoch <= last.Epoch {
			return fmt.Errorf("epoch: new entry epoch %d must exceed current max epoch %d", entry.Epoch, last.Epoch)
		}
		if entry.StartOffset < c.lastEntryEndOffset {
			return fmt.Errorf("epoch: new entry startOffset %d precedes current end offset %d", entry.StartOffset, c.lastEntryEndOffset)
		}
	}

	if c.file != nil {
		if err := c.file.append(entry); err != nil {
			return fmt.Errorf("epoch: persist entry: %w", err)
		}
	}
	c.entries = append(c.entries, entry)
	c.lastEntryEndOffset = entry.StartOffset
	c.log.Debug("appended epoch entry", "epoch", entry.Epoch, "startOffset", entry.StartOffset)
	return nil
}

// FindEntryByEpoch returns the entry for the given epoch, if present.
func (c *Cache) FindEntryByEpoch(e uint32) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findEntryByEpochLocked(e)
}

func (c *Cache) findEntryByEpochLocked(e uint32) (Entry, bool) {
	for _, entry := range c.entries {
		if entry.Epoch == e {
			return entry, true
		}
	}
	return Entry{}, false
}

func (c *Cache) indexOfEpochLocked(e uint32) int {
	for i, entry := range c.entries {
		if entry.Epoch == e {
			return i
		}
	}
	return -1
}

// LastEntry returns the newest entry, if any.
func (c *Cache) LastEntry() (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// AllEntries returns a snapshot copy of every entry, oldest first.
func (c *Cache) AllEntries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

// LastEntryEndOffset returns the current end offset of the newest entry.
func (c *Cache) LastEntryEndOffset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEntryEndOffset
}

// endOffsetLocked returns entries[idx]'s end offset: the next entry's
// start offset, or lastEntryEndOffset for the newest entry. Caller holds
// at least a read lock.
func (c *Cache) endOffsetLocked(idx int) int64 {
	if idx < 0 || idx >= len(c.entries) {
		return -1
	}
	if idx == len(c.entries)-1 {
		return c.lastEntryEndOffset
	}
	return c.entries[idx+1].StartOffset
}

// EndOffsetOfEpoch returns the end offset of the entry for the given
// epoch, or -1 if the epoch is unknown.
func (c *Cache) EndOffsetOfEpoch(e uint32) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.indexOfEpochLocked(e)
	if idx < 0 {
		return -1
	}
	return c.endOffsetLocked(idx)
}

// EpochContaining returns the epoch whose range covers offset: the
// newest entry with startOffset <= offset. Returns 0 if offset
// precedes every known entry.
func (c *Cache) EpochContaining(offset int64) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].StartOffset <= offset {
			return c.entries[i].Epoch
		}
	}
	return 0
}

// FindConsistentPoint implements spec.md §4.1: walk both caches newest
// to oldest, find the greatest common epoch whose start offsets agree,
// and return the minimum of the two sides' end offsets for that epoch.
// Returns -1 if no such epoch exists.
func (c *Cache) FindConsistentPoint(remote *Cache) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	remote.mu.RLock()
	defer remote.mu.RUnlock()

	for i := len(c.entries) - 1; i >= 0; i-- {
		local := c.entries[i]
		remoteEntry, ok := remote.findEntryByEpochLocked(local.Epoch)
		if !ok || remoteEntry.StartOffset != local.StartOffset {
			continue
		}
		localEnd := c.endOffsetLocked(i)
		remoteIdx := remote.indexOfEpochLocked(local.Epoch)
		remoteEnd := remote.endOffsetLocked(remoteIdx)
		return min64(localEnd, remoteEnd)
	}
	return -1
}

// TruncateSuffixFromOffset drops every entry whose range lies entirely
// at or beyond offset, and shrinks the end offset of whichever entry
// now contains offset so the newest remaining entry ends exactly there.
func (c *Cache) TruncateSuffixFromOffset(offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := len(c.entries)
	for keep > 0 && c.entries[keep-1].StartOffset >= offset {
		keep--
	}
	c.entries = c.entries[:keep]
	c.lastEntryEndOffset = offset

	if c.file != nil {
		if err := c.file.rewrite(c.entries); err != nil {
			return fmt.Errorf("epoch: persist truncation: %w", err)
		}
	}
	c.log.Debug("truncated epoch suffix", "offset", offset, "remaining", keep)
	return nil
}

// TruncatePrefixBeforeOffset drops every entry whose range lies
// entirely below offset, and raises the start offset of whichever entry
// now contains offset.
func (c *Cache) TruncatePrefixBeforeOffset(offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := 0
	for drop < len(c.entries) {
		end := c.endOffsetLocked(drop)
		if end > offset {
			break
		}
		drop++
	}
	c.entries = c.entries[drop:]
	if len(c.entries) > 0 && c.entries[0].StartOffset < offset {
		c.entries[0].StartOffset = offset
	}

	if c.file != nil {
		if err := c.file.rewrite(c.entries); err != nil {
			return fmt.Errorf("epoch: persist prefix truncation: %w", err)
		}
	}
	c.log.Debug("truncated epoch prefix", "offset", offset, "remaining", len(c.entries))
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
