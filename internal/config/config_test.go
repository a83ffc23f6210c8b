package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_ReadConfig(t *testing.T) {
	file := "../testdata/test_readConfig.yaml"
	c, err := ReadConfig(file)
	assert.NoError(t, err)
	assert.Equal(t, "DefaultCluster", c.ClusterName)
	assert.Equal(t, "broker-a", c.BrokerName)
	assert.Equal(t, "127.0.0.1:10911", c.LocalAddress)
	assert.Equal(t, "127.0.0.1:10912", c.LocalHaAddress)
	assert.Equal(t, 3*time.Second, c.SyncControllerMetadataPeriod)
	assert.Equal(t, 5*time.Second, c.SyncBrokerMetadataPeriod)
	assert.Equal(t, 3, c.TotalReplicas)
	assert.Equal(t, 2, c.InSyncReplicas)
	assert.True(t, c.SyncFromLastFile)
	assert.False(t, c.StartupControllerMode)
}

func Test_ControllerAddresses(t *testing.T) {
	c := &Config{ControllerAddr: "127.0.0.1:9000;127.0.0.1:9001; "}
	assert.Equal(t, []string{"127.0.0.1:9000", "127.0.0.1:9001"}, c.ControllerAddresses())
}

func Test_ControllerAddresses_Single(t *testing.T) {
	c := &Config{ControllerAddr: "127.0.0.1:9000"}
	assert.Equal(t, []string{"127.0.0.1:9000"}, c.ControllerAddresses())
}
