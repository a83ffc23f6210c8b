package ha

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/store"
)

// TestHandshakeAndTransfer drives one real master Connection against one
// real slave Client over a loopback TCP socket, exercising handshake,
// the consistent-point truncation, and one TRANSFER round trip end to end.
func TestHandshakeAndTransfer(t *testing.T) {
	masterStore := store.NewMemoryStore(0)
	masterEpochs := epoch.New(nil)
	require.NoError(t, masterEpochs.Append(epoch.Entry{Epoch: 1, StartOffset: 0}))
	body := []byte("hello-from-master")
	require.True(t, masterStore.AppendToCommitLog(0, body))
	masterEpochs.SetLastEntryEndOffset(masterStore.MaxPhyOffset())

	svc := NewService(masterStore, masterEpochs, 50*time.Millisecond, time.Hour, time.Minute, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			connCh <- c
		}
	}()

	slaveConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer slaveConn.Close()

	masterSideConn := <-connCh
	mc := newConnection(masterSideConn, svc)
	handshakeErrCh := make(chan error, 1)
	go func() { handshakeErrCh <- mc.handshake() }()

	slaveStore := store.NewMemoryStore(0)
	slaveEpochs := epoch.New(nil)

	sc := NewClient("unused", slaveStore, slaveEpochs, 50*time.Millisecond, time.Hour, nil)
	sc.conn = slaveConn
	sc.state = StateHandshake

	require.NoError(t, sc.handshake())
	require.NoError(t, <-handshakeErrCh)

	assert.Equal(t, StateTransfer, sc.State())
	assert.Equal(t, int64(0), sc.currentReportedOffset)

	require.NoError(t, mc.transferStep())
	require.NoError(t, sc.transferStep())

	// The slave learns the master's epoch from the first data message.
	lastEntry, ok := slaveEpochs.LastEntry()
	require.True(t, ok)
	assert.Equal(t, uint32(1), lastEntry.Epoch)

	read, ok := slaveStore.Read(0, len(body))
	require.True(t, ok)
	assert.Equal(t, body, read)
}
