package ha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferHeader_RoundTrip(t *testing.T) {
	h := TransferHeader{State: uint32(StateTransfer), MaxOffset: 123456789}
	decoded, err := DecodeTransferHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDataHeader_RoundTrip(t *testing.T) {
	h := DataHeader{MasterState: uint32(StateTransfer), BodySize: 4096, MasterOffset: 999, MasterEpoch: 3, ConfirmOffset: 900}
	decoded, err := DecodeDataHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestEpochEntries_RoundTrip(t *testing.T) {
	epochs := []uint32{1, 2, 5}
	starts := []int64{0, 1570, 4096}
	buf := EncodeEpochEntries(epochs, starts)
	assert.Len(t, buf, len(epochs)*EpochEntryWireSize)

	decodedEpochs, decodedStarts, err := DecodeEpochEntries(buf)
	require.NoError(t, err)
	assert.Equal(t, epochs, decodedEpochs)
	assert.Equal(t, starts, decodedStarts)
}

func TestDecodeDataHeader_TooShort(t *testing.T) {
	_, err := DecodeDataHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}
