// Package config reads the YAML configuration recognized by both the
// broker and controller entrypoints (spec.md §6), the same
// os.ReadFile + yaml.Unmarshal idiom as jakub-galecki-raft/config/config.go's
// ReadConfig.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option recognized by a broker or controller
// process. A controller process only reads ControllerListenAddress and
// EventLogDir; a broker reads the rest.
type Config struct {
	ClusterName string `yaml:"clusterName"`
	BrokerName  string `yaml:"brokerName"`

	// LocalAddress is this broker's client-facing address; LocalHaAddress
	// is the address its ha.Service listens on for slave connections.
	LocalAddress   string `yaml:"localAddress"`
	LocalHaAddress string `yaml:"localHaAddress"`

	// ControllerAddr is a ";"-separated list of controller addresses,
	// e.g. "10.0.0.1:9000;10.0.0.2:9000".
	ControllerAddr string `yaml:"controllerAddr"`

	// ControllerListenAddress is the address a controller process binds
	// its own RPC server to. Unused by a broker config.
	ControllerListenAddress string `yaml:"controllerListenAddress"`

	// EventLogDir is where a controller persists its append-only event
	// log (pkg/controller's Registry).
	EventLogDir string `yaml:"eventLogDir"`

	SyncControllerMetadataPeriod time.Duration `yaml:"syncControllerMetadataPeriod"`
	SyncBrokerMetadataPeriod     time.Duration `yaml:"syncBrokerMetadataPeriod"`
	CheckSyncStateSetPeriod      time.Duration `yaml:"checkSyncStateSetPeriod"`
	HASendHeartbeatInterval      time.Duration `yaml:"haSendHeartbeatInterval"`
	HAHousekeepingInterval       time.Duration `yaml:"haHousekeepingInterval"`

	TotalReplicas  int `yaml:"totalReplicas"`
	InSyncReplicas int `yaml:"inSyncReplicas"`

	SyncFromLastFile      bool `yaml:"syncFromLastFile"`
	StartupControllerMode bool `yaml:"startupControllerMode"`
}

// ControllerAddresses splits ControllerAddr on ";", dropping empty entries.
func (c *Config) ControllerAddresses() []string {
	parts := strings.Split(c.ControllerAddr, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ReadConfig(file string) (*Config, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", file, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", file, err)
	}
	return &c, nil
}
