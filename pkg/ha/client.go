package ha

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/store"
)

// Client is the slave-side replication endpoint (spec.md §4.2's
// "Slave side state machine"), grounded directly on
// AutoSwitchHAClient.java's run loop. Go's blocking net.Conn makes the
// Java version's NIO buffer-position bookkeeping (processPosition,
// byteBufferRead.compact()) unnecessary — io.ReadFull on the
// connection replaces it.
type Client struct {
	mu sync.Mutex

	masterHaAddress string
	conn            net.Conn

	store      store.CommitLog
	epochCache *epoch.Cache
	logger     *slog.Logger

	heartbeatInterval  time.Duration
	housekeepingPeriod time.Duration

	state               ConnState
	currentReportedOffset int64
	currentReceivedEpoch int64 // -1 until first TRANSFER message
	confirmOffset         int64
	lastReadTs            time.Time
	lastWriteTs           time.Time

	cancel context.CancelFunc
}

func NewClient(masterHaAddress string, cl store.CommitLog, ec *epoch.Cache, heartbeatInterval, housekeepingPeriod time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		masterHaAddress:      masterHaAddress,
		store:                cl,
		epochCache:           ec,
		logger:               logger,
		heartbeatInterval:    heartbeatInterval,
		housekeepingPeriod:   housekeepingPeriod,
		state:                StateReady,
		currentReceivedEpoch: -1,
		confirmOffset:        -1,
	}
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) ConfirmOffset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmOffset
}

// Run drives the slave state machine until ctx is cancelled or Shutdown is called.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateShutdown)
			c.closeConn()
			return
		default:
		}

		switch c.State() {
		case StateReady:
			c.enterReady(ctx)
		case StateHandshake:
			if err := c.handshake(); err != nil {
				c.logger.Warn("ha client handshake failed", "master", c.masterHaAddress, "error", err)
				c.closeAndWait()
			}
		case StateTransfer:
			if err := c.transferStep(); err != nil {
				c.logger.Warn("ha client transfer failed", "master", c.masterHaAddress, "error", err)
				c.closeAndWait()
			}
		case StateSuspend:
			time.Sleep(5 * time.Second)
		case StateShutdown:
			return
		}

		c.checkHousekeeping()
	}
}

func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) enterReady(ctx context.Context) {
	// Truncate any invalid tail from the local commit log using the store's
	// own self-check before attempting to (re)connect.
	if !c.store.TruncateFiles(c.store.MaxPhyOffset()) {
		c.logger.Error("ha client failed to self-check commit log tail", "master", c.masterHaAddress)
	}

	conn, err := net.DialTimeout("tcp", c.masterHaAddress, 5*time.Second)
	if err != nil {
		c.logger.Warn("ha client connect to master failed", "master", c.masterHaAddress, "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.currentReportedOffset = c.store.MaxPhyOffset()
	c.lastReadTs = time.Now()
	c.lastWriteTs = time.Now()
	c.mu.Unlock()
	c.setState(StateHandshake)
}

func (c *Client) handshake() error {
	if err := WriteTransferHeader(c.conn, TransferHeader{State: uint32(StateHandshake), MaxOffset: 0}); err != nil {
		return fmt.Errorf("ha client: send handshake header: %w", err)
	}
	c.mu.Lock()
	c.lastWriteTs = time.Now()
	c.mu.Unlock()

	hdr, err := ReadDataHeader(c.conn)
	if err != nil {
		return fmt.Errorf("ha client: read handshake reply header: %w", err)
	}
	body := make([]byte, hdr.BodySize)
	if hdr.BodySize > 0 {
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return fmt.Errorf("ha client: read handshake epoch list: %w", err)
		}
	}
	epochs, starts, err := DecodeEpochEntries(body)
	if err != nil {
		return fmt.Errorf("ha client: decode handshake epoch list: %w", err)
	}

	c.mu.Lock()
	c.lastReadTs = time.Now()
	c.mu.Unlock()

	masterEntries := make([]epoch.Entry, len(epochs))
	for i := range epochs {
		masterEntries[i] = epoch.Entry{Epoch: epochs[i], StartOffset: starts[i]}
	}
	return c.doTruncate(masterEntries, hdr.MasterOffset)
}

// doTruncate reconciles the local log against the master's epoch
// history at the last common point (spec.md §4.2 doTruncate).
func (c *Client) doTruncate(masterEntries []epoch.Entry, masterMaxOffset int64) error {
	remote := epoch.New(c.logger)
	remote.InitFromEntries(masterEntries)
	remote.SetLastEntryEndOffset(masterMaxOffset)

	c.epochCache.SetLastEntryEndOffset(c.store.MaxPhyOffset())
	truncateOffset := c.epochCache.FindConsistentPoint(remote)
	if truncateOffset >= 0 {
		if !c.store.TruncateFiles(truncateOffset) {
			return fmt.Errorf("ha client: truncate commit log to %d failed", truncateOffset)
		}
		if err := c.epochCache.TruncateSuffixFromOffset(truncateOffset); err != nil {
			return fmt.Errorf("ha client: truncate epoch cache to %d: %w", truncateOffset, err)
		}
		c.logger.Info("ha client truncated to consistent point", "offset", truncateOffset)
	} else {
		truncateOffset = 0
	}

	c.setState(StateTransfer)
	c.mu.Lock()
	c.currentReportedOffset = truncateOffset
	c.mu.Unlock()
	return c.reportOffset(truncateOffset)
}

func (c *Client) reportOffset(offset int64) error {
	if err := WriteTransferHeader(c.conn, TransferHeader{State: uint32(c.State()), MaxOffset: offset}); err != nil {
		return fmt.Errorf("ha client: report offset: %w", err)
	}
	c.mu.Lock()
	c.lastWriteTs = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) isTimeToReportOffset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastWriteTs) > c.heartbeatInterval
}

// transferStep implements one TRANSFER iteration: conditional
// heartbeat, read one data message, apply it, report new max offset.
func (c *Client) transferStep() error {
	if c.isTimeToReportOffset() {
		c.mu.Lock()
		offset := c.currentReportedOffset
		c.mu.Unlock()
		if err := c.reportOffset(offset); err != nil {
			return err
		}
	}

	c.conn.SetReadDeadline(time.Now().Add(c.heartbeatInterval))
	hdr, err := ReadDataHeader(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return fmt.Errorf("ha client: read data header: %w", err)
	}
	if hdr.MasterState != uint32(StateTransfer) {
		body := make([]byte, hdr.BodySize)
		io.ReadFull(c.conn, body)
		return fmt.Errorf("ha client: state mismatch, master=%d slave=%s", hdr.MasterState, StateTransfer)
	}

	body := make([]byte, hdr.BodySize)
	if hdr.BodySize > 0 {
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return fmt.Errorf("ha client: read data body: %w", err)
		}
	}
	c.mu.Lock()
	c.lastReadTs = time.Now()
	c.mu.Unlock()

	slavePhyOffset := c.store.MaxPhyOffset()
	if slavePhyOffset != 0 && slavePhyOffset != hdr.MasterOffset {
		return fmt.Errorf("ha client: master pushed offset %d, slave max phy offset is %d", hdr.MasterOffset, slavePhyOffset)
	}

	c.mu.Lock()
	if int64(hdr.MasterEpoch) != c.currentReceivedEpoch {
		c.currentReceivedEpoch = int64(hdr.MasterEpoch)
		c.mu.Unlock()
		if err := c.epochCache.Append(epoch.Entry{Epoch: hdr.MasterEpoch, StartOffset: hdr.MasterOffset}); err != nil {
			c.logger.Warn("ha client failed to append epoch entry", "epoch", hdr.MasterEpoch, "error", err)
		}
	} else {
		c.mu.Unlock()
	}

	if hdr.BodySize > 0 {
		c.store.AppendToCommitLog(hdr.MasterOffset, body)
	}
	c.epochCache.SetLastEntryEndOffset(c.store.MaxPhyOffset())

	newConfirm := hdr.ConfirmOffset
	if max := c.store.MaxPhyOffset(); max < newConfirm {
		newConfirm = max
	}
	c.mu.Lock()
	c.confirmOffset = newConfirm
	c.mu.Unlock()

	maxPhy := c.store.MaxPhyOffset()
	c.mu.Lock()
	if maxPhy > c.currentReportedOffset {
		c.currentReportedOffset = maxPhy
	}
	offset := c.currentReportedOffset
	c.mu.Unlock()
	return c.reportOffset(offset)
}

func (c *Client) checkHousekeeping() {
	c.mu.Lock()
	expired := !c.lastReadTs.IsZero() && time.Since(c.lastReadTs) > c.housekeepingPeriod
	c.mu.Unlock()
	if expired {
		c.logger.Warn("ha client housekeeping closed stale connection", "master", c.masterHaAddress)
		c.closeConn()
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateReady
	c.lastReadTs = time.Time{}
}

func (c *Client) closeAndWait() {
	c.closeConn()
	time.Sleep(5 * time.Second)
}

