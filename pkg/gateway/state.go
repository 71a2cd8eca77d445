package gateway

import "sync/atomic"

// ListenerState tracks one address listener through its lifecycle
type ListenerState int32

const (
	StateNew ListenerState = iota
	StateStarting
	StateRunning
	// StateDegraded is entered on broker disconnect; the reconnection
	// schedule runs until the connection returns
	StateDegraded
	StateStopping
	StateStopped
)

func (s ListenerState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDegraded:
		return "DEGRADED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// stateValue is a lock-free state holder so Status never blocks on the
// lifecycle mutex
type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) Set(state ListenerState) { s.v.Store(int32(state)) }
func (s *stateValue) Get() ListenerState      { return ListenerState(s.v.Load()) }

// Overall gateway status values
const (
	StatusRunning = "RUNNING"
	StatusPartial = "PARTIAL"
	StatusStopped = "STOPPED"
)

// ListenerStatus is one address listener's slice of the snapshot
type ListenerStatus struct {
	State           string `json:"state"`
	Destination     string `json:"destination,omitempty"`
	Running         bool   `json:"running"`
	ActiveReceivers int    `json:"active_receivers"`
	TotalReceivers  int    `json:"total_receivers"`
}

// Status is the lock-free snapshot served to operators
type Status struct {
	Overall   string                    `json:"overall"`
	Listeners map[string]ListenerStatus `json:"listeners"`
}

// aggregate fills each listener's running flag and derives the overall state
func aggregate(listeners map[string]ListenerStatus) Status {
	st := Status{Listeners: make(map[string]ListenerStatus, len(listeners))}
	running := 0
	for address, ls := range listeners {
		ls.Running = ls.State == StateRunning.String()
		if ls.Running {
			running++
		}
		st.Listeners[address] = ls
	}
	switch {
	case len(listeners) == 0 || running == 0:
		st.Overall = StatusStopped
	case running == len(listeners):
		st.Overall = StatusRunning
	default:
		st.Overall = StatusPartial
	}
	return st
}
