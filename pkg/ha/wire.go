// Package ha implements the epoch-indexed master/slave replication wire
// protocol (spec.md §4.2): the slave-side Client, the master-side
// per-slave Connection, and the master-side Service that aggregates
// slave offsets into a confirm offset and tracks ISR lag. Framing
// follows jakub-galecki-raft's fixed binary encode/decode idiom
// (model/appendEntries.go), but this protocol needs byte-exact framing
// rather than an RPC struct, so encoding/binary replaces rpcx here.
package ha

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TransferHeaderSize is the wire size of TransferHeader: state(u32) + maxOffset(i64).
const TransferHeaderSize = 12

// DataHeaderSize is the wire size of DataHeader: masterState(u32) +
// bodySize(u32) + masterOffset(i64) + masterEpoch(u32) + confirmOffset(i64).
const DataHeaderSize = 28

// TransferHeader is sent slave→master: offset reports and handshake requests.
type TransferHeader struct {
	State     uint32
	MaxOffset int64
}

func (h TransferHeader) Encode() []byte {
	buf := make([]byte, TransferHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.State)
	binary.BigEndian.PutUint64(buf[4:12], uint64(h.MaxOffset))
	return buf
}

func DecodeTransferHeader(buf []byte) (TransferHeader, error) {
	if len(buf) < TransferHeaderSize {
		return TransferHeader{}, fmt.Errorf("ha: transfer header too short: %d bytes", len(buf))
	}
	return TransferHeader{
		State:     binary.BigEndian.Uint32(buf[0:4]),
		MaxOffset: int64(binary.BigEndian.Uint64(buf[4:12])),
	}, nil
}

func ReadTransferHeader(r io.Reader) (TransferHeader, error) {
	buf := make([]byte, TransferHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return TransferHeader{}, err
	}
	return DecodeTransferHeader(buf)
}

func WriteTransferHeader(w io.Writer, h TransferHeader) error {
	_, err := w.Write(h.Encode())
	return err
}

// DataHeader precedes every master→slave message body.
type DataHeader struct {
	MasterState  uint32
	BodySize     uint32
	MasterOffset int64
	MasterEpoch  uint32
	ConfirmOffset int64
}

func (h DataHeader) Encode() []byte {
	buf := make([]byte, DataHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.MasterState)
	binary.BigEndian.PutUint32(buf[4:8], h.BodySize)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.MasterOffset))
	binary.BigEndian.PutUint32(buf[16:20], h.MasterEpoch)
	binary.BigEndian.PutUint64(buf[20:28], uint64(h.ConfirmOffset))
	return buf
}

func DecodeDataHeader(buf []byte) (DataHeader, error) {
	if len(buf) < DataHeaderSize {
		return DataHeader{}, fmt.Errorf("ha: data header too short: %d bytes", len(buf))
	}
	return DataHeader{
		MasterState:   binary.BigEndian.Uint32(buf[0:4]),
		BodySize:      binary.BigEndian.Uint32(buf[4:8]),
		MasterOffset:  int64(binary.BigEndian.Uint64(buf[8:16])),
		MasterEpoch:   binary.BigEndian.Uint32(buf[16:20]),
		ConfirmOffset: int64(binary.BigEndian.Uint64(buf[20:28])),
	}, nil
}

func ReadDataHeader(r io.Reader) (DataHeader, error) {
	buf := make([]byte, DataHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return DataHeader{}, err
	}
	return DecodeDataHeader(buf)
}

func WriteDataHeader(w io.Writer, h DataHeader) error {
	_, err := w.Write(h.Encode())
	return err
}

// EpochEntryWireSize is the size of the handshake-reply encoding of one epoch.Entry:
// the same 12-byte (epoch:u32, startOffset:i64) layout as the
// persisted EpochCache record (pkg/epoch/persistence.go), reused here
// so the handshake reply can be framed as a flat byte slice.
const EpochEntryWireSize = 12

func EncodeEpochEntries(epochs []uint32, starts []int64) []byte {
	buf := make([]byte, len(epochs)*EpochEntryWireSize)
	for i := range epochs {
		off := i * EpochEntryWireSize
		binary.BigEndian.PutUint32(buf[off:off+4], epochs[i])
		binary.BigEndian.PutUint64(buf[off+4:off+12], uint64(starts[i]))
	}
	return buf
}

func DecodeEpochEntries(buf []byte) ([]uint32, []int64, error) {
	if len(buf)%EpochEntryWireSize != 0 {
		return nil, nil, fmt.Errorf("ha: epoch entry list length %d not a multiple of %d", len(buf), EpochEntryWireSize)
	}
	n := len(buf) / EpochEntryWireSize
	epochs := make([]uint32, n)
	starts := make([]int64, n)
	for i := 0; i < n; i++ {
		off := i * EpochEntryWireSize
		epochs[i] = binary.BigEndian.Uint32(buf[off : off+4])
		starts[i] = int64(binary.BigEndian.Uint64(buf[off+4 : off+12]))
	}
	return epochs, starts, nil
}
