package epoch

import (
	"encoding/binary"
	"os"
)

// fileStore persists Cache entries as fixed 12-byte big-endian records
// (epoch: u32, startOffset: i64), appended in order, per spec.md §6.
// This is the one part of the module kept on encoding/binary rather
// than a pack library: the byte layout is part of the wire/file
// contract, not something a generic serializer should own (see
// DESIGN.md "Stdlib justifications").
type fileStore struct {
	f *os.File
}

func openFileStore(path string) (*fileStore, []Entry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, err
	}
	entries, err := readAll(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, nil, err
	}
	return &fileStore{f: f}, entries, nil
}

func readAll(f *os.File) ([]Entry, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size%EntrySize != 0 {
		// a crash can leave a trailing partial record; keep only whole records.
		size -= size % EntrySize
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil && size > 0 {
		return nil, err
	}
	entries := make([]Entry, 0, size/EntrySize)
	for off := int64(0); off < size; off += EntrySize {
		entries = append(entries, decodeEntry(buf[off : off+EntrySize]))
	}
	return entries, nil
}

func (s *fileStore) append(entry Entry) error {
	buf := make([]byte, EntrySize)
	encodeEntry(buf, entry)
	if _, err := s.f.Write(buf); err != nil {
		return err
	}
	return s.f.Sync()
}

// rewrite replaces the file's contents wholesale, used after a truncation.
func (s *fileStore) rewrite(entries []Entry) error {
	if err := s.f.Truncate(0); err != nil {
		return err
	}
	if _, err := s.f.Seek(0, os.SEEK_SET); err != nil {
		return err
	}
	buf := make([]byte, 0, len(entries)*EntrySize)
	for _, e := range entries {
		rec := make([]byte, EntrySize)
		encodeEntry(rec, e)
		buf = append(buf, rec...)
	}
	if _, err := s.f.Write(buf); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *fileStore) Close() error {
	return s.f.Close()
}

func encodeEntry(buf []byte, e Entry) {
	binary.BigEndian.PutUint32(buf[0:4], e.Epoch)
	binary.BigEndian.PutUint64(buf[4:12], uint64(e.StartOffset))
}

func decodeEntry(buf []byte) Entry {
	return Entry{
		Epoch:       binary.BigEndian.Uint32(buf[0:4]),
		StartOffset: int64(binary.BigEndian.Uint64(buf[4:12])),
	}
}
