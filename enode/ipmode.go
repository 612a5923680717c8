package enode

// IpMode selects which socket family of a discovered record is considered
// reachable. On DualStack, IPv4 is preferred for legacy TCP contact and
// IPv6 for discovery contact.
type IpMode int

const (
	Ip4 IpMode = iota
	Ip6
	DualStack
)

func (m IpMode) String() string {
	switch m {
	case Ip4:
		return "ip4"
	case Ip6:
		return "ip6"
	default:
		return "dual-stack"
	}
}

// Allows4 / Allows6 report whether the mode admits the given family.
func (m IpMode) Allows4() bool { return m == Ip4 || m == DualStack }
func (m IpMode) Allows6() bool { return m == Ip6 || m == DualStack }
