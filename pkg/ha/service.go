package ha

import (
	"log/slog"
	"net"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/store"
)

// Service is the master-side aggregator across all connected slaves:
// it accepts connections, tracks each slave's reported offset, computes
// the confirm offset as the min over the in-sync set's reported
// offsets, and tracks per-slave lag so ReplicaStateManager's ISR
// maintenance (pkg/replicastate) can decide whom to shrink. Grounded on
// mouad-eh-gosensus/raft/server_broadcast.go's ack-counting shape for
// "aggregate acks from followers into one commit watermark", adapted
// from a quorum count to a min-offset computation.
type Service struct {
	mu sync.RWMutex

	store      store.CommitLog
	epochCache *epoch.Cache
	logger     *slog.Logger

	housekeepingPeriod time.Duration
	heartbeatInterval  time.Duration

	listener    net.Listener
	connections map[string]*Connection

	// lagTracker remembers, per slave address, the last time its
	// reported offset matched the master's max offset. TTL eviction
	// doubles as "this slave hasn't been seen recently enough to count
	// as in-sync" without a separate sweep goroutine.
	lagTracker *gocache.Cache

	inSyncLagThreshold time.Duration

	// syncStateSet restricts ConfirmOffset to the current ISR's reported
	// offsets. Nil means "not yet known" and is treated as "everyone
	// connected counts" so a freshly started service has a sane watermark
	// before replicastate.Manager reports the real set.
	syncStateSet map[string]struct{}
}

func NewService(cl store.CommitLog, ec *epoch.Cache, heartbeatInterval, housekeepingPeriod, inSyncLagThreshold time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:              cl,
		epochCache:         ec,
		logger:             logger,
		heartbeatInterval:  heartbeatInterval,
		housekeepingPeriod: housekeepingPeriod,
		connections:        make(map[string]*Connection),
		lagTracker:         gocache.New(inSyncLagThreshold, inSyncLagThreshold/2),
		inSyncLagThreshold: inSyncLagThreshold,
	}
}

// ListenAndServe accepts slave connections until Close is called.
func (s *Service) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("ha service listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		c := newConnection(conn, s)
		s.mu.Lock()
		s.connections[c.SlaveAddress()] = c
		s.mu.Unlock()
		go c.Serve()
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connections {
		c.conn.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Service) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c.SlaveAddress())
	s.mu.Unlock()
	s.lagTracker.Delete(c.SlaveAddress())
}

// SetSyncStateSet updates the address set ConfirmOffset restricts
// itself to, following replicastate.Manager's current view of the ISR.
func (s *Service) SetSyncStateSet(addrs []string) {
	set := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		set[addr] = struct{}{}
	}
	s.mu.Lock()
	s.syncStateSet = set
	s.mu.Unlock()
}

// ConfirmOffset is the master's current commit watermark: min over the
// ISR's reported offsets (spec.md §4.2). With no connected slaves, the
// master's own max offset is its own confirm point.
func (s *Service) ConfirmOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	confirm := s.store.MaxPhyOffset()
	for addr, c := range s.connections {
		if s.syncStateSet != nil {
			if _, inISR := s.syncStateSet[addr]; !inISR {
				continue
			}
		}
		if off := c.ReportedOffset(); off < confirm {
			confirm = off
		}
	}
	return confirm
}

// touchInSync records that addr's reported offset caught up to the
// master's max offset just now, resetting its lag TTL.
func (s *Service) touchInSync(addr string) {
	s.lagTracker.Set(addr, time.Now(), gocache.DefaultExpiration)
}

// LaggingSlaves returns the addresses of every connected slave whose
// last observed "caught up" moment has expired out of the lag tracker —
// candidates for ISR shrink (spec.md §4.3's periodic ISR check).
func (s *Service) LaggingSlaves() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lagging []string
	for addr := range s.connections {
		if _, found := s.lagTracker.Get(addr); !found {
			lagging = append(lagging, addr)
		}
	}
	return lagging
}

// ReportedOffsets snapshots every connected slave's last reported offset.
func (s *Service) ReportedOffsets() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.connections))
	for addr, c := range s.connections {
		out[addr] = c.ReportedOffset()
	}
	return out
}
