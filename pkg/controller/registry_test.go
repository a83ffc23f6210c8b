package controller

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hzh0425/rocketmq/pkg/rpcmodel"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := Open(filepath.Join(dir, "events.log"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// Scenario 1: first broker to register for a brokerName becomes master
// at epoch 1 with a singleton sync state set.
func TestRegisterBroker_FirstRegistrationBecomesMaster(t *testing.T) {
	reg := newTestRegistry(t)

	resp, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{
		ClusterName: "clusterA", BrokerName: "broker-1", BrokerAddress: "10.0.0.1:10911",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.BrokerId)
	assert.Equal(t, "", resp.MasterAddress) // response reflects pre-registration view

	info := reg.Snapshot("broker-1")
	require.NotNil(t, info)
	assert.Equal(t, "10.0.0.1:10911", info.MasterAddress)
	assert.Equal(t, uint32(1), info.MasterEpoch)
	assert.Equal(t, uint32(1), info.SyncStateSetEpoch)
	_, inSet := info.SyncStateSet["10.0.0.1:10911"]
	assert.True(t, inSet)
}

// Scenario 2: a second broker joining an existing brokerName gets a new
// brokerId and is told the current master, without affecting the ISR.
func TestRegisterBroker_SecondRegistrationJoinsAsReplica(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.1:1"})
	require.NoError(t, err)

	resp, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.2:1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.BrokerId)
	assert.Equal(t, "10.0.0.1:1", resp.MasterAddress)
	assert.Equal(t, uint32(1), resp.MasterEpoch)

	info := reg.Snapshot("b")
	_, inSet := info.SyncStateSet["10.0.0.2:1"]
	assert.False(t, inSet, "joining replica must not be auto-added to the sync state set")
}

// Re-registering an address already known returns the same brokerId
// idempotently rather than allocating a new one.
func TestRegisterBroker_Idempotent(t *testing.T) {
	reg := newTestRegistry(t)
	first, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.1:1"})
	require.NoError(t, err)
	second, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, first.BrokerId, second.BrokerId)
}

func mustElectOneMaster(t *testing.T, reg *Registry, brokerName, addr string) {
	t.Helper()
	_, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: brokerName, BrokerAddress: addr})
	require.NoError(t, err)
}

// Scenario 5/P1: alterSyncStateSet rejects a stale syncStateSetEpoch.
func TestAlterSyncStateSet_RejectsStaleEpoch(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")
	_, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.2:1"})
	require.NoError(t, err)

	resp, err := reg.AlterSyncStateSet(rpcmodel.AlterSyncStateSetRequest{
		BrokerName: "b", MasterAddress: "10.0.0.1:1", MasterEpoch: 1,
		NewSyncStateSet: []string{"10.0.0.1:1", "10.0.0.2:1"}, SyncStateSetEpoch: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, rpcmodel.ErrorStaleSyncStateSetEpoch, resp.ErrorCode)
}

// alterSyncStateSet rejects a request from a broker that is not the
// current master.
func TestAlterSyncStateSet_RejectsWrongMaster(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")

	resp, err := reg.AlterSyncStateSet(rpcmodel.AlterSyncStateSetRequest{
		BrokerName: "b", MasterAddress: "10.0.0.99:1", MasterEpoch: 1,
		NewSyncStateSet: []string{"10.0.0.1:1"}, SyncStateSetEpoch: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, rpcmodel.ErrorNotMaster, resp.ErrorCode)
}

// alterSyncStateSet accepted requests grow the sync state set and bump
// its epoch monotonically.
func TestAlterSyncStateSet_AcceptsValidGrowth(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")
	_, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.2:1"})
	require.NoError(t, err)

	resp, err := reg.AlterSyncStateSet(rpcmodel.AlterSyncStateSetRequest{
		BrokerName: "b", MasterAddress: "10.0.0.1:1", MasterEpoch: 1,
		NewSyncStateSet: []string{"10.0.0.1:1", "10.0.0.2:1"}, SyncStateSetEpoch: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, rpcmodel.ErrorNone, resp.ErrorCode)
	assert.Equal(t, uint32(2), resp.SyncStateSet.SyncStateSetEpoch)
	assert.ElementsMatch(t, []string{"10.0.0.1:1", "10.0.0.2:1"}, resp.SyncStateSet.SyncStateSet)
}

// alterSyncStateSet rejects a set containing an address the controller
// has never seen registered for this brokerName.
func TestAlterSyncStateSet_RejectsUnknownAddress(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")

	resp, err := reg.AlterSyncStateSet(rpcmodel.AlterSyncStateSetRequest{
		BrokerName: "b", MasterAddress: "10.0.0.1:1", MasterEpoch: 1,
		NewSyncStateSet: []string{"10.0.0.1:1", "10.9.9.9:1"}, SyncStateSetEpoch: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, rpcmodel.ErrorInvalidSyncStateSet, resp.ErrorCode)
}

// Scenario 6: electMaster with no remaining sync-state-set candidates
// clears masterAddress but leaves masterEpoch unchanged (spec.md §4.4/§9).
func TestElectMaster_NoCandidatesLeavesEpochUnchanged(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")

	resp, err := reg.ElectMaster(rpcmodel.ElectMasterRequest{BrokerName: "b"})
	require.NoError(t, err)
	assert.Equal(t, rpcmodel.ErrorElectMasterFailed, resp.ErrorCode)
	assert.Equal(t, uint32(1), resp.MasterEpoch)

	info := reg.Snapshot("b")
	assert.Equal(t, "", info.MasterAddress)
	assert.Equal(t, uint32(1), info.MasterEpoch)
}

// electMaster with a surviving sync-state-set member promotes it and
// bumps masterEpoch exactly once.
func TestElectMaster_PromotesSurvivingReplica(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")
	_, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.2:1"})
	require.NoError(t, err)
	_, err = reg.AlterSyncStateSet(rpcmodel.AlterSyncStateSetRequest{
		BrokerName: "b", MasterAddress: "10.0.0.1:1", MasterEpoch: 1,
		NewSyncStateSet: []string{"10.0.0.1:1", "10.0.0.2:1"}, SyncStateSetEpoch: 1,
	})
	require.NoError(t, err)

	resp, err := reg.ElectMaster(rpcmodel.ElectMasterRequest{BrokerName: "b"})
	require.NoError(t, err)
	assert.Equal(t, rpcmodel.ErrorNone, resp.ErrorCode)
	assert.Equal(t, "10.0.0.2:1", resp.NewMasterAddress)
	assert.Equal(t, uint32(2), resp.MasterEpoch)

	info := reg.Snapshot("b")
	assert.Equal(t, "10.0.0.2:1", info.MasterAddress)
	_, stillIn := info.SyncStateSet["10.0.0.1:1"]
	assert.False(t, stillIn, "old master is dropped from the rebuilt sync state set")
}

// P: getReplicaInfo reports ErrorBrokerNotExist for an unregistered brokerName.
func TestGetReplicaInfo_UnknownBroker(t *testing.T) {
	reg := newTestRegistry(t)
	resp := reg.GetReplicaInfo(rpcmodel.GetReplicaInfoRequest{BrokerName: "ghost"}, "10.0.0.1:1")
	assert.Equal(t, rpcmodel.ErrorBrokerNotExist, resp.ErrorCode)
}

// P: getReplicaInfo reports the caller's own brokerId when the caller
// is a known member of the replica set, and -1 for a stranger.
func TestGetReplicaInfo_ReportsCallerBrokerId(t *testing.T) {
	reg := newTestRegistry(t)
	mustElectOneMaster(t, reg, "b", "10.0.0.1:1")
	resp, err := reg.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.2:1"})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.BrokerId)

	known := reg.GetReplicaInfo(rpcmodel.GetReplicaInfoRequest{BrokerName: "b", BrokerAddress: "10.0.0.2:1"}, "10.0.0.2:1")
	assert.Equal(t, int64(2), known.BrokerId)

	stranger := reg.GetReplicaInfo(rpcmodel.GetReplicaInfoRequest{BrokerName: "b", BrokerAddress: "10.0.0.9:1"}, "10.0.0.9:1")
	assert.Equal(t, int64(-1), stranger.BrokerId)
}

// Durability: state rebuilt from the event log after a simulated
// restart matches the state before the restart.
func TestRegistry_SurvivesRestart(t *testing.T) {
	dir := os.TempDir()
	path := filepath.Join(dir, "controller_restart_test.log")
	_ = os.Remove(path)
	defer os.Remove(path)

	reg1, err := Open(path, nil)
	require.NoError(t, err)
	_, err = reg1.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.1:1"})
	require.NoError(t, err)
	_, err = reg1.RegisterBroker(rpcmodel.RegisterBrokerRequest{ClusterName: "c", BrokerName: "b", BrokerAddress: "10.0.0.2:1"})
	require.NoError(t, err)
	require.NoError(t, reg1.Close())

	reg2, err := Open(path, nil)
	require.NoError(t, err)
	defer reg2.Close()

	info := reg2.Snapshot("b")
	require.NotNil(t, info)
	assert.Equal(t, "10.0.0.1:1", info.MasterAddress)
	assert.Equal(t, uint32(1), info.MasterEpoch)
	assert.Len(t, info.ReplicaSet, 2)
}
