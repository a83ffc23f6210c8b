package controller

// ReplicaInfo is the controller's authoritative record for one broker
// (spec.md §3). It is only ever mutated by applyEvent; request handlers
// read a snapshot and never write to it directly.
type ReplicaInfo struct {
	BrokerName        string
	ClusterName       string
	MasterAddress     string
	MasterEpoch       uint32
	SyncStateSet      map[string]struct{}
	SyncStateSetEpoch uint32
	ReplicaSet        map[string]int64 // address -> brokerId
	NextBrokerId      int64
}

func newReplicaInfo(clusterName, brokerName string) *ReplicaInfo {
	return &ReplicaInfo{
		BrokerName:   brokerName,
		ClusterName:  clusterName,
		SyncStateSet: map[string]struct{}{},
		ReplicaSet:   map[string]int64{},
		NextBrokerId: 1,
	}
}

// clone returns a deep-enough copy for a request handler to reason
// about without racing the applier.
func (r *ReplicaInfo) clone() *ReplicaInfo {
	if r == nil {
		return nil
	}
	c := &ReplicaInfo{
		BrokerName:        r.BrokerName,
		ClusterName:       r.ClusterName,
		MasterAddress:     r.MasterAddress,
		MasterEpoch:       r.MasterEpoch,
		SyncStateSetEpoch: r.SyncStateSetEpoch,
		NextBrokerId:      r.NextBrokerId,
		SyncStateSet:      make(map[string]struct{}, len(r.SyncStateSet)),
		ReplicaSet:        make(map[string]int64, len(r.ReplicaSet)),
	}
	for k, v := range r.SyncStateSet {
		c.SyncStateSet[k] = v
	}
	for k, v := range r.ReplicaSet {
		c.ReplicaSet[k] = v
	}
	return c
}

func (r *ReplicaInfo) syncStateSetSlice() []string {
	out := make([]string, 0, len(r.SyncStateSet))
	for addr := range r.SyncStateSet {
		out = append(out, addr)
	}
	return out
}
