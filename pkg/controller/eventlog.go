package controller

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// eventLog is the durable, append-only record of every EventMessage the
// registry has committed, replayed at startup to rebuild ReplicaInfo.
// It stands in for spec.md §4.4's "consensus layer durably commits
// events before applying them" (real quorum replication is explicitly
// out of scope per spec.md §1). Each record is length-prefixed msgpack,
// the way jakub-galecki-raft/state.go persists its raft state, chosen
// here over the teacher's whole-file rewrite because an append-only
// event log must never lose a committed event to a crash mid-rewrite.
type eventLog struct {
	mu sync.Mutex
	f  *os.File
}

func openEventLog(path string) (*eventLog, []EventMessage, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: open event log %s: %w", path, err)
	}
	events, err := replayEventLog(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("controller: replay event log %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, err
	}
	return &eventLog{f: f}, events, nil
}

func replayEventLog(f *os.File) ([]EventMessage, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	var events []EventMessage
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			// a crash mid-write can leave a truncated trailing record; stop replay there.
			break
		}
		var ev EventMessage
		if err := msgpack.Unmarshal(buf, &ev); err != nil {
			break
		}
		events = append(events, ev)
	}
	return events, nil
}

func (l *eventLog) append(ev EventMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("controller: encode event: %w", err)
	}
	if err := binary.Write(l.f, binary.BigEndian, uint32(len(buf))); err != nil {
		return fmt.Errorf("controller: write event length: %w", err)
	}
	if _, err := l.f.Write(buf); err != nil {
		return fmt.Errorf("controller: write event: %w", err)
	}
	return l.f.Sync()
}

func (l *eventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
