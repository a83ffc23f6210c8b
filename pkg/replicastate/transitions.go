package replicastate

import (
	"context"

	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/ha"
)

// ChangeToMaster transitions this broker to master at newEpoch,
// guarded by the epoch strictly increasing (spec.md §4.3,
// ReplicasManager.changeToMaster). A no-op if newEpoch does not exceed
// the current view's masterEpoch.
func (m *Manager) ChangeToMaster(newEpoch, syncStateSetEpoch uint32) {
	m.mu.Lock()
	if newEpoch <= m.view.MasterEpoch {
		m.mu.Unlock()
		return
	}
	m.logger.Info("changing to master", "broker", m.localAddress, "newEpoch", newEpoch)

	m.view.Role = RoleMaster
	m.view.MasterAddress = m.localAddress
	m.view.MasterEpoch = newEpoch
	m.view.SyncStateSet = map[string]struct{}{m.localAddress: {}}
	m.view.SyncStateSetEpoch = syncStateSetEpoch
	m.mu.Unlock()

	m.stopSlaveClient()

	if err := m.epochCache.Append(epoch.Entry{Epoch: newEpoch, StartOffset: m.commitLog.MaxPhyOffset()}); err != nil {
		m.logger.Warn("failed to bump epoch cache on master transition", "error", err)
	}
	m.startCheckSyncStateSet()
	m.startHAService()
}

// ChangeToSlave transitions this broker to slave of newMasterAddress
// at newEpoch, with the same epoch guard as ChangeToMaster.
func (m *Manager) ChangeToSlave(newMasterAddress string, newEpoch uint32, brokerId int64) {
	m.mu.Lock()
	if newEpoch <= m.view.MasterEpoch {
		m.mu.Unlock()
		return
	}
	m.logger.Info("changing to slave", "broker", m.localAddress, "master", newMasterAddress, "newEpoch", newEpoch)

	m.view.Role = RoleSlave
	m.view.MasterAddress = newMasterAddress
	m.view.MasterEpoch = newEpoch
	m.view.BrokerId = brokerId
	m.mu.Unlock()

	m.stopCheckSyncStateSet()
	m.stopHAService()
	m.startSlaveClient(newMasterAddress)
}

// ChangeSyncStateSet applies a new ISR only if it is newer than the
// locally known one (spec.md §4.3).
func (m *Manager) ChangeSyncStateSet(newSet []string, newSyncStateSetEpoch uint32) {
	m.mu.Lock()
	if newSyncStateSetEpoch <= m.view.SyncStateSetEpoch {
		m.mu.Unlock()
		return
	}
	m.logger.Info("sync state set changed", "broker", m.localAddress, "newSet", newSet, "epoch", newSyncStateSetEpoch)
	set := make(map[string]struct{}, len(newSet))
	for _, addr := range newSet {
		set[addr] = struct{}{}
	}
	m.view.SyncStateSet = set
	m.view.SyncStateSetEpoch = newSyncStateSetEpoch
	svc := m.haService
	m.mu.Unlock()

	if svc != nil {
		svc.SetSyncStateSet(newSet)
	}
}

func (m *Manager) startHAService() {
	svc := ha.NewService(m.commitLog, m.epochCache, m.cfg.HASendHeartbeatInterval, m.cfg.HAHousekeepingInterval, m.cfg.CheckSyncStateSetPeriod, m.logger)
	m.mu.Lock()
	svc.SetSyncStateSet(m.view.syncStateSetSlice())
	m.haService = svc
	m.mu.Unlock()
	go func() {
		if err := svc.ListenAndServe(m.haAddress); err != nil {
			m.logger.Warn("ha service stopped", "error", err)
		}
	}()
}

func (m *Manager) stopHAService() {
	m.mu.Lock()
	svc := m.haService
	m.haService = nil
	m.mu.Unlock()
	if svc != nil {
		svc.Close()
	}
}

func (m *Manager) startSlaveClient(masterHaAddress string) {
	m.stopSlaveClient()
	client := ha.NewClient(masterHaAddress, m.commitLog, m.epochCache, m.cfg.HASendHeartbeatInterval, m.cfg.HAHousekeepingInterval, m.logger)
	ctx, cancel := context.WithCancel(m.rootCtx)

	m.mu.Lock()
	m.haClient = client
	m.haClientCancel = cancel
	m.mu.Unlock()

	go client.Run(ctx)
}

func (m *Manager) stopSlaveClient() {
	m.mu.Lock()
	cancel := m.haClientCancel
	m.haClient = nil
	m.haClientCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) startCheckSyncStateSet() {
	m.mu.Lock()
	if m.checkSyncStateSetCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	m.checkSyncStateSetCancel = cancel
	m.mu.Unlock()
	go m.runCheckSyncStateSet(ctx)
}

func (m *Manager) stopCheckSyncStateSet() {
	m.mu.Lock()
	cancel := m.checkSyncStateSetCancel
	m.checkSyncStateSetCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

