package controller

// EventType tags an EventMessage's variant. A single envelope struct
// (rather than a Go interface per variant) is used so the durable log
// can round-trip events through msgpack without a type registry.
type EventType uint8

const (
	EventBrokerRegister EventType = iota
	EventElectMaster
	EventAlterSyncStateSet
)

// EventMessage is what the request handlers emit and applyEvent
// consumes; applyEvent is the only place ReplicaInfo state changes.
// Fields not relevant to a given Type are left zero.
type EventMessage struct {
	Type              EventType
	ClusterName       string
	BrokerName        string
	Address           string
	BrokerId          int64
	MasterEpoch       uint32
	SyncStateSet      []string
	SyncStateSetEpoch uint32
	NewMasterElected  bool
}

// applyEvent is the sole writer of replica state. It must be
// deterministic and side-effect free beyond mutating table, so that
// replaying the durable event log at startup reproduces the same state.
func applyEvent(table map[string]*ReplicaInfo, ev EventMessage) {
	switch ev.Type {
	case EventBrokerRegister:
		info, ok := table[ev.BrokerName]
		if !ok {
			info = newReplicaInfo(ev.ClusterName, ev.BrokerName)
			table[ev.BrokerName] = info
		}
		info.ReplicaSet[ev.Address] = ev.BrokerId
		if ev.BrokerId >= info.NextBrokerId {
			info.NextBrokerId = ev.BrokerId + 1
		}

	case EventElectMaster:
		info, ok := table[ev.BrokerName]
		if !ok {
			return
		}
		if ev.MasterEpoch > info.MasterEpoch {
			info.MasterEpoch = ev.MasterEpoch
		}
		if ev.NewMasterElected {
			info.MasterAddress = ev.Address
			info.SyncStateSet = map[string]struct{}{ev.Address: {}}
			if ev.SyncStateSetEpoch > info.SyncStateSetEpoch {
				info.SyncStateSetEpoch = ev.SyncStateSetEpoch
			}
		} else {
			info.MasterAddress = ""
		}

	case EventAlterSyncStateSet:
		info, ok := table[ev.BrokerName]
		if !ok {
			return
		}
		if ev.SyncStateSetEpoch > info.SyncStateSetEpoch {
			info.SyncStateSetEpoch = ev.SyncStateSetEpoch
			newSet := make(map[string]struct{}, len(ev.SyncStateSet))
			for _, addr := range ev.SyncStateSet {
				newSet[addr] = struct{}{}
			}
			info.SyncStateSet = newSet
		}
	}
}
