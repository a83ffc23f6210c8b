package ha

// ConnState is the fixed set of states a replication endpoint — master
// or slave side — moves through (spec.md §3, §4.2). A closed switch
// over ConnState replaces subclass dispatch, per spec.md §9's
// polymorphism redesign flag.
type ConnState uint32

const (
	StateReady ConnState = iota
	StateHandshake
	StateTransfer
	StateSuspend
	StateShutdown
)

func (s ConnState) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateHandshake:
		return "HANDSHAKE"
	case StateTransfer:
		return "TRANSFER"
	case StateSuspend:
		return "SUSPEND"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}
