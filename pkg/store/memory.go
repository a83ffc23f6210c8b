package store

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// defaultCacheSizeBytes is fastcache's own minimum bucket allocation;
// it is used whenever a caller asks for the "pick a default" sentinel (<=0).
const defaultCacheSizeBytes = 32 * 1024 * 1024

// MemoryStore is a reference CommitLog: an append-only byte slice
// behind a mutex, fronted by a fastcache hot-read cache keyed by
// offset the way jakub-galecki-raft/db/db.go builds its state-machine
// cache with fastcache.New(0). The cache only ever serves reads already
// present in the backing slice; it is not the log itself, because a
// byte cache alone cannot give an ordered, offset-addressable log.
type MemoryStore struct {
	mu      sync.RWMutex
	data    []byte
	minOff  int64
	cache   *fastcache.Cache
	clockFn func() int64
}

// NewMemoryStore builds an empty store. cacheSizeBytes follows
// fastcache.New's sizing contract; a value <= 0 selects
// defaultCacheSizeBytes.
func NewMemoryStore(cacheSizeBytes int) *MemoryStore {
	if cacheSizeBytes <= 0 {
		cacheSizeBytes = defaultCacheSizeBytes
	}
	return &MemoryStore{
		cache:   fastcache.New(cacheSizeBytes),
		clockFn: func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *MemoryStore) MaxPhyOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minOff + int64(len(s.data))
}

func (s *MemoryStore) GetMinOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minOff
}

func (s *MemoryStore) AppendToCommitLog(offset int64, body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset != s.minOff+int64(len(s.data)) {
		return false
	}
	s.data = append(s.data, body...)
	s.cache.Set(offsetKey(offset), body)
	return true
}

func (s *MemoryStore) TruncateFiles(offset int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < s.minOff || offset > s.minOff+int64(len(s.data)) {
		return false
	}
	s.data = s.data[:offset-s.minOff]
	s.cache.Reset()
	return true
}

func (s *MemoryStore) Now() int64 {
	return s.clockFn()
}

// SetClock overrides the store's notion of "now", for deterministic tests.
func (s *MemoryStore) SetClock(fn func() int64) {
	s.clockFn = fn
}

// Read returns a copy of the bytes in [offset, offset+size), consulting
// the fastcache hot-read path first when the request is a single
// previously-appended record.
func (s *MemoryStore) Read(offset int64, size int) ([]byte, bool) {
	if cached := s.cache.Get(nil, offsetKey(offset)); len(cached) == size && size > 0 {
		return cached, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := offset - s.minOff
	if start < 0 || start+int64(size) > int64(len(s.data)) {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, s.data[start:start+int64(size)])
	return out, true
}

func offsetKey(offset int64) []byte {
	key := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		key[i] = byte(offset)
		offset >>= 8
	}
	return key
}
