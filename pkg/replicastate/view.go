package replicastate

// Role is this broker's current position in its brokerName's replica set.
type Role int

const (
	RoleUnjoined Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "MASTER"
	case RoleSlave:
		return "SLAVE"
	default:
		return "UNJOINED"
	}
}

// View is the local replica view held by each broker's Manager
// (spec.md §3): mutated only under Manager's lock, epoch fields
// monotonically non-decreasing.
type View struct {
	Role              Role
	MasterAddress     string
	MasterEpoch       uint32
	BrokerId          int64
	SyncStateSet      map[string]struct{}
	SyncStateSetEpoch uint32
}

func newView() View {
	return View{SyncStateSet: map[string]struct{}{}}
}

func (v View) syncStateSetSlice() []string {
	out := make([]string, 0, len(v.SyncStateSet))
	for addr := range v.SyncStateSet {
		out = append(out, addr)
	}
	return out
}
