// Package connectivity classifies network quality into actionable states by
// combining an OS reachability signal with active latency sampling.
package connectivity

// State is the classified network quality.
type State int

const (
	// Offline means the OS reports no usable link. Only the reachability
	// signal produces this state; sampling failures never do.
	Offline State = iota

	// Poor means the link is up but degraded: high round-trip latency or
	// repeated probe failures.
	Poor

	// Online means the link is up and responsive.
	Online
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Poor:
		return "poor"
	case Online:
		return "online"
	}
	return "unknown"
}
