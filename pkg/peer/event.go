package peer

import "github.com/pion/webrtc/v4"

type EventKind uint

const (
	EventCandidate EventKind = iota
	EventICEState
	EventSelectedPair
	EventTimeout
)

// Event is posted by a relay's session callbacks and timer to the owner's event loop.
// The owner hands it back to the relay through Apply.
type Event struct {
	Relay      *Relay
	Identity   Identity
	Generation uint64
	Kind       EventKind

	Candidate       *webrtc.ICECandidate
	ICEState        webrtc.ICEConnectionState
	LocalCandidate  string
	RemoteCandidate string
}

type OutputKind uint

const (
	OutputSignal OutputKind = iota
	OutputState
)

// Output is a pending notification the owner drains after every call into the relay.
type Output struct {
	Kind OutputKind

	// OutputSignal
	SignalKind string
	Payload    string

	// OutputState
	State State
}

// Signaling message kinds.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)
