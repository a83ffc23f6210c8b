package replicastate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/ha"
	"github.com/hzh0425/rocketmq/pkg/rpcmodel"
	"github.com/hzh0425/rocketmq/pkg/store"
)

// Config holds every periodic-task and HA-endpoint tuning knob this
// manager needs (spec.md §6's recognized broker options).
type Config struct {
	ClusterName                  string
	BrokerName                   string
	LocalAddress                 string
	LocalHaAddress               string
	ControllerAddresses          []string
	SyncControllerMetadataPeriod time.Duration
	SyncBrokerMetadataPeriod     time.Duration
	CheckSyncStateSetPeriod      time.Duration
	HASendHeartbeatInterval      time.Duration
	HAHousekeepingInterval       time.Duration
}

// managerState is the coarse startup progression from
// ReplicasManager.State: INITIAL -> controller metadata synced -> RUNNING.
type managerState int

const (
	stateInitial managerState = iota
	stateControllerMetadataSynced
	stateRunning
)

// Manager is the per-broker ReplicaStateManager (spec.md §4.3):
// periodically reconciles with the controller and drives role
// transitions and ISR maintenance, grounded directly on
// ReplicasManager.java's three scheduled tasks.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger

	localAddress string
	haAddress    string

	controller     *ControllerClient
	leaderAddress  string

	commitLog  store.CommitLog
	epochCache *epoch.Cache

	view View

	state managerState

	haService      *ha.Service
	haClient       *ha.Client
	haClientCancel context.CancelFunc

	checkSyncStateSetCancel context.CancelFunc

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewManager(cfg Config, cl store.CommitLog, ec *epoch.Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:          cfg,
		logger:       logger,
		localAddress: cfg.LocalAddress,
		haAddress:    cfg.LocalHaAddress,
		controller:   NewControllerClient(cfg.ControllerAddresses),
		commitLog:    cl,
		epochCache:   ec,
		view:         newView(),
	}
}

func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Start runs the startup sequence (spec.md §4.3: locate leader with up
// to 3 retries, registerBroker, start T2; T1 is already running) and
// retries with a 1s backoff indefinitely on failure, the way
// ReplicasManager.start()'s executorService retry loop does — the
// broker must never crash on controller unavailability.
func (m *Manager) Start(ctx context.Context) {
	m.rootCtx, m.rootCancel = context.WithCancel(ctx)
	go m.runSyncControllerMetadata(m.rootCtx)

	go func() {
		for {
			if m.startBasicService(m.rootCtx) {
				m.logger.Info("replica state manager started", "broker", m.cfg.BrokerName)
				return
			}
			select {
			case <-m.rootCtx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

func (m *Manager) Shutdown() {
	m.stopCheckSyncStateSet()
	m.stopSlaveClient()
	m.stopHAService()
	if m.rootCancel != nil {
		m.rootCancel()
	}
	m.controller.Close()
}

func (m *Manager) startBasicService(ctx context.Context) bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == stateInitial {
		if !m.waitForControllerMetadata(3) {
			return false
		}
		m.mu.Lock()
		m.state = stateControllerMetadataSynced
		m.mu.Unlock()
	}

	m.mu.Lock()
	state = m.state
	m.mu.Unlock()
	if state == stateControllerMetadataSynced {
		if !m.registerBroker(ctx) {
			return false
		}
		m.mu.Lock()
		m.state = stateRunning
		m.mu.Unlock()
	}

	go m.runSyncBrokerMetadata(m.rootCtx)
	return true
}

func (m *Manager) waitForControllerMetadata(maxTries int) bool {
	for i := 0; i < maxTries; i++ {
		if m.updateControllerMetadata() {
			return true
		}
	}
	m.logger.Error("failed to init controller metadata", "controllers", m.cfg.ControllerAddresses)
	return false
}

func (m *Manager) updateControllerMetadata() bool {
	for _, addr := range m.cfg.ControllerAddresses {
		resp, err := m.controller.GetControllerMetaData(context.Background(), addr)
		if err != nil {
			continue
		}
		if resp.IsLeader {
			m.mu.Lock()
			m.leaderAddress = addr
			m.mu.Unlock()
			return true
		}
	}
	return false
}

func (m *Manager) runSyncControllerMetadata(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SyncControllerMetadataPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.updateControllerMetadata()
		}
	}
}

func (m *Manager) registerBroker(ctx context.Context) bool {
	m.mu.Lock()
	leader := m.leaderAddress
	m.mu.Unlock()
	if leader == "" {
		return false
	}

	resp, err := m.controller.RegisterBroker(ctx, leader, rpcmodel.RegisterBrokerRequest{
		ClusterName:     m.cfg.ClusterName,
		BrokerName:      m.cfg.BrokerName,
		BrokerAddress:   m.localAddress,
		BrokerHaAddress: m.haAddress,
	})
	if err != nil {
		m.logger.Error("failed to register broker to controller", "error", err)
		return false
	}

	m.mu.Lock()
	m.view.BrokerId = resp.BrokerId
	m.mu.Unlock()

	if resp.MasterAddress != "" {
		if resp.MasterAddress == m.localAddress {
			m.ChangeToMaster(resp.MasterEpoch, resp.SyncStateSetEpoch)
		} else {
			m.ChangeToSlave(resp.MasterAddress, resp.MasterEpoch, resp.BrokerId)
		}
	}
	return true
}

// runSyncBrokerMetadata is T2: polls the controller for this broker's
// replica info, drives role transitions on change, and — when master —
// reconciles the locally known ISR (ReplicasManager.schedulingSyncBrokerMetadata).
func (m *Manager) runSyncBrokerMetadata(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SyncBrokerMetadataPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.syncBrokerMetadataOnce(ctx)
		}
	}
}

func (m *Manager) syncBrokerMetadataOnce(ctx context.Context) {
	m.mu.Lock()
	leader := m.leaderAddress
	m.mu.Unlock()
	if leader == "" {
		return
	}

	resp, err := m.controller.GetReplicaInfo(ctx, leader, rpcmodel.GetReplicaInfoRequest{BrokerName: m.cfg.BrokerName, BrokerAddress: m.localAddress})
	if err != nil {
		m.logger.Warn("failed to sync broker metadata", "broker", m.cfg.BrokerName, "error", err)
		return
	}

	v := m.View()
	if resp.MasterAddress != "" && resp.MasterAddress != v.MasterAddress && resp.MasterEpoch > v.MasterEpoch {
		if resp.MasterAddress == m.localAddress {
			m.ChangeToMaster(resp.MasterEpoch, resp.SyncStateSet.SyncStateSetEpoch)
		} else if resp.BrokerId > 0 {
			m.ChangeToSlave(resp.MasterAddress, resp.MasterEpoch, resp.BrokerId)
		} else {
			// spec.md §9: unknown brokerId means rejoin is required.
			m.registerBroker(ctx)
		}
		return
	}

	if v.Role == RoleMaster {
		m.ChangeSyncStateSet(resp.SyncStateSet.SyncStateSet, resp.SyncStateSet.SyncStateSetEpoch)
	}
}

// runCheckSyncStateSet is T3, started only while master: periodically
// asks the ha.Service which slaves are caught up and proposes the
// resulting set to the controller (ReplicasManager.schedulingCheckSyncStateSet).
func (m *Manager) runCheckSyncStateSet(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckSyncStateSetPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkSyncStateSetOnce(ctx)
		}
	}
}

func (m *Manager) checkSyncStateSetOnce(ctx context.Context) {
	m.mu.Lock()
	svc := m.haService
	leader := m.leaderAddress
	v := m.view
	m.mu.Unlock()
	if svc == nil || leader == "" {
		return
	}

	newSet := map[string]struct{}{m.localAddress: {}}
	reported := svc.ReportedOffsets()
	lagging := make(map[string]struct{})
	for _, addr := range svc.LaggingSlaves() {
		lagging[addr] = struct{}{}
	}
	maxOffset := m.commitLog.MaxPhyOffset()
	for addr := range reported {
		if _, stale := lagging[addr]; stale {
			continue
		}
		if reported[addr] >= maxOffset {
			newSet[addr] = struct{}{}
		}
	}

	if setsEqual(newSet, v.SyncStateSet) {
		return
	}

	newSlice := make([]string, 0, len(newSet))
	for addr := range newSet {
		newSlice = append(newSlice, addr)
	}
	resp, err := m.controller.AlterSyncStateSet(ctx, leader, rpcmodel.AlterSyncStateSetRequest{
		BrokerName:        m.cfg.BrokerName,
		MasterAddress:     v.MasterAddress,
		MasterEpoch:       v.MasterEpoch,
		NewSyncStateSet:   newSlice,
		SyncStateSetEpoch: v.SyncStateSetEpoch,
	})
	if err != nil {
		m.logger.Error("failed to alter sync state set", "broker", m.cfg.BrokerName, "error", err)
		return
	}
	if resp.ErrorCode != rpcmodel.ErrorNone {
		// Stale epoch or race: dropped, next T3 cycle recomputes with the
		// updated view obtained from T2 (spec.md §7's transient-error policy).
		return
	}
	m.ChangeSyncStateSet(resp.SyncStateSet.SyncStateSet, resp.SyncStateSet.SyncStateSetEpoch)
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
