package replicastate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := Config{
		ClusterName:                  "c",
		BrokerName:                   "b",
		LocalAddress:                 "10.0.0.1:10911",
		LocalHaAddress:               "127.0.0.1:0",
		ControllerAddresses:          []string{"127.0.0.1:9000"},
		SyncControllerMetadataPeriod: time.Hour,
		SyncBrokerMetadataPeriod:     time.Hour,
		CheckSyncStateSetPeriod:      time.Hour,
		HASendHeartbeatInterval:      time.Second,
		HAHousekeepingInterval:       time.Minute,
	}
	m := NewManager(cfg, store.NewMemoryStore(0), epoch.New(nil), nil)
	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())
	t.Cleanup(m.Shutdown)
	return m
}

func TestChangeToMaster_SetsRoleAndEpoch(t *testing.T) {
	m := newTestManager(t)
	m.ChangeToMaster(1, 1)

	v := m.View()
	assert.Equal(t, RoleMaster, v.Role)
	assert.Equal(t, uint32(1), v.MasterEpoch)
	assert.Equal(t, m.localAddress, v.MasterAddress)
	_, inSet := v.SyncStateSet[m.localAddress]
	assert.True(t, inSet)
}

func TestChangeToMaster_RejectsStaleEpoch(t *testing.T) {
	m := newTestManager(t)
	m.ChangeToMaster(5, 5)
	m.ChangeToMaster(3, 3) // stale, must be ignored

	v := m.View()
	assert.Equal(t, uint32(5), v.MasterEpoch)
}

func TestChangeToSlave_SetsRoleAndBrokerId(t *testing.T) {
	m := newTestManager(t)
	m.ChangeToSlave("10.0.0.2:10911", 2, 7)

	v := m.View()
	assert.Equal(t, RoleSlave, v.Role)
	assert.Equal(t, "10.0.0.2:10911", v.MasterAddress)
	assert.Equal(t, uint32(2), v.MasterEpoch)
	assert.Equal(t, int64(7), v.BrokerId)
}

func TestChangeSyncStateSet_IgnoresStaleEpoch(t *testing.T) {
	m := newTestManager(t)
	m.ChangeToMaster(1, 1)
	m.ChangeSyncStateSet([]string{"a", "b"}, 2)

	v := m.View()
	assert.ElementsMatch(t, []string{"a", "b"}, v.syncStateSetSlice())
	assert.Equal(t, uint32(2), v.SyncStateSetEpoch)

	m.ChangeSyncStateSet([]string{"a"}, 1) // stale, ignored
	v = m.View()
	assert.ElementsMatch(t, []string{"a", "b"}, v.syncStateSetSlice())
}

// Regression: ChangeToMaster/ChangeToSlave must not self-deadlock by
// calling the stop* helpers (which re-acquire m.mu) while still holding
// m.mu themselves.
func TestRoleTransitions_DoNotDeadlock(t *testing.T) {
	m := newTestManager(t)

	done := make(chan struct{})
	go func() {
		m.ChangeToMaster(1, 1)
		m.ChangeToSlave("10.0.0.2:10911", 2, 7)
		m.ChangeToMaster(3, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("role transition deadlocked")
	}

	v := m.View()
	assert.Equal(t, RoleMaster, v.Role)
	assert.Equal(t, uint32(3), v.MasterEpoch)
}

func TestSetsEqual(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}}
	b := map[string]struct{}{"y": {}, "x": {}}
	c := map[string]struct{}{"x": {}}
	require.True(t, setsEqual(a, b))
	require.False(t, setsEqual(a, c))
}
