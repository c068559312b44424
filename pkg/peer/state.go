package peer

// State is the connectivity state of a relay.
type State uint

const (
	Idle State = iota
	Gathering
	OfferSent
	AwaitingOffer
	Connecting
	Connected
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Gathering:
		return "Gathering"
	case OfferSent:
		return "OfferSent"
	case AwaitingOffer:
		return "AwaitingOffer"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Terminal reports whether the relay needs a reconnect before it can negotiate again.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}
