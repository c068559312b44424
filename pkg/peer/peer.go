package peer

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrClosed      = errors.New("relay is closed")
	ErrTerminal    = errors.New("relay needs a reconnect")
	ErrUnknownKind = errors.New("unknown signaling message kind")
)

// Identity names the remote participant a relay serves. Relays that are not Exposed never
// surface their signaling or state to the controller.
type Identity struct {
	ID      int
	Login   string
	Exposed bool
}

// Config describes a relay at construction time.
type Config struct {
	Identity          Identity
	CreateOffer       bool
	ICEServers        []webrtc.ICEServer
	GameUDPPort       int
	PortMin           int
	PortMax           int
	ConnectionTimeout time.Duration
	IncludeLoopback   bool
}

// HasPortRange reports whether the relay socket and ICE ports are bound inside [PortMin, PortMax].
func (c Config) HasPortRange() bool {
	return c.PortMin > 0 && c.PortMax >= c.PortMin
}

// Status is a read-only view of a relay's session.
type Status struct {
	State           State
	Connected       bool
	LocalCandidate  string
	RemoteCandidate string
	TimeToConnected time.Duration
}

// Relay bridges a loopback UDP socket to a WebRTC data channel negotiated with one remote peer.
//
// Every method except LocalPort and Identity must be called from the owner's event loop.
// Session callbacks never touch relay state directly; they post Events that the owner feeds
// back through Apply.
type Relay struct {
	identity Identity
	config   Config
	api      *webrtc.API
	events   chan<- Event
	log      *logrus.Entry

	conn       *net.UDPConn
	localPort  int
	gameAddr   *net.UDPAddr
	readerDone chan struct{}
	closed     bool

	// Session, replaced on every reconnect.
	generation        uint64
	pc                *webrtc.PeerConnection
	channel           atomic.Pointer[webrtc.DataChannel]
	sessionDone       chan struct{}
	timer             *time.Timer
	remoteDescription bool
	pendingCandidates []webrtc.ICECandidateInit

	state           State
	localCandidate  string
	remoteCandidate string
	connectStart    time.Time
	connectDuration time.Duration
	outbox          []Output
}

// New binds the relay socket and opens the first session. It does not start negotiating;
// an offering relay starts with Start, an answering relay waits for a remote offer.
func New(config Config, events chan<- Event) (*Relay, error) {
	api, err := newAPI(config)
	if err != nil {
		return nil, err
	}

	conn, err := listen(config)
	if err != nil {
		return nil, err
	}

	r := &Relay{
		identity:   config.Identity,
		config:     config,
		api:        api,
		events:     events,
		conn:       conn,
		localPort:  conn.LocalAddr().(*net.UDPAddr).Port,
		gameAddr:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: config.GameUDPPort},
		readerDone: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "relay",
			"remote_id": config.Identity.ID,
			"login":     config.Identity.Login,
		}),
	}

	if err := r.openSession(); err != nil {
		conn.Close()
		return nil, err
	}

	go r.readFromGame()

	r.log.WithField("local_port", r.localPort).Info("Relay starting up")
	return r, nil
}

func newAPI(config Config) (*webrtc.API, error) {
	settings := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	settings.SetIncludeLoopbackCandidate(config.IncludeLoopback)
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if config.HasPortRange() {
		if err := settings.SetEphemeralUDPPortRange(uint16(config.PortMin), uint16(config.PortMax)); err != nil {
			return nil, fmt.Errorf("ICE port range: %w", err)
		}
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings)), nil
}

// listen binds a loopback UDP socket, inside the configured port range if there is one.
func listen(config Config) (*net.UDPConn, error) {
	loopback := net.IPv4(127, 0, 0, 1)
	if !config.HasPortRange() {
		return net.ListenUDP("udp4", &net.UDPAddr{IP: loopback})
	}
	min, max := config.PortMin, config.PortMax
	var lastErr error
	for port := min; port <= max; port++ {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: loopback, Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free relay port in %d-%d: %w", min, max, lastErr)
}

// openSession creates a fresh peer connection and its negotiated data channel.
func (r *Relay) openSession() error {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: r.config.ICEServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	// Both sides create the channel with the same id, so no in-band open is needed.
	ordered := false
	retransmits := uint16(0)
	negotiated := true
	id := uint16(0)
	channel, err := pc.CreateDataChannel("faf", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	r.generation++
	r.pc = pc
	r.sessionDone = make(chan struct{})
	r.remoteDescription = false
	r.pendingCandidates = nil
	r.channel.Store(channel)

	r.handler(pc, r.generation, r.sessionDone)
	r.channelHandler(channel)

	if r.config.CreateOffer {
		r.setState(Idle)
	} else {
		r.setState(AwaitingOffer)
	}
	return nil
}

// handler wires the session callbacks to the owner's event loop.
func (r *Relay) handler(pc *webrtc.PeerConnection, generation uint64, done chan struct{}) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		r.post(done, Event{Generation: generation, Kind: EventCandidate, Candidate: c})
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		r.post(done, Event{Generation: generation, Kind: EventICEState, ICEState: s})
	})

	pc.SCTP().Transport().ICETransport().OnSelectedCandidatePairChange(func(pair *webrtc.ICECandidatePair) {
		if pair == nil {
			return
		}
		r.post(done, Event{
			Generation:      generation,
			Kind:            EventSelectedPair,
			LocalCandidate:  describeCandidate(pair.Local),
			RemoteCandidate: describeCandidate(pair.Remote),
		})
	})
}

func (r *Relay) channelHandler(d *webrtc.DataChannel) {
	d.OnOpen(func() {
		r.log.Infof("Data channel \"%s\" open", d.Label())
	})

	d.OnClose(func() {
		r.log.Infof("Data channel \"%s\" closed", d.Label())
	})

	d.OnError(func(err error) {
		r.log.WithError(err).Warnf("Data channel \"%s\" error", d.Label())
	})

	d.OnMessage(func(msg webrtc.DataChannelMessage) {
		r.writeToGame(msg.Data)
	})
}

// post delivers an event unless the session it belongs to was torn down.
func (r *Relay) post(done chan struct{}, ev Event) {
	ev.Relay = r
	ev.Identity = r.identity
	select {
	case <-done:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-done:
	}
}

func describeCandidate(c *webrtc.ICECandidate) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s %s %s:%d", c.Typ, c.Protocol, c.Address, c.Port)
}

// Start gathers candidates and produces the local offer.
func (r *Relay) Start() error {
	if r.closed {
		return ErrClosed
	}
	if r.pc == nil || r.state.Terminal() {
		return ErrTerminal
	}
	r.setState(Gathering)
	r.armTimer()

	offer, err := r.pc.CreateOffer(nil)
	if err != nil {
		r.setState(Failed)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := r.pc.SetLocalDescription(offer); err != nil {
		r.setState(Failed)
		return fmt.Errorf("set local offer: %w", err)
	}

	r.pushSignal(KindOffer, offer.SDP)
	r.setState(OfferSent)
	return nil
}

// AddRemoteSignalingMessage feeds an offer, answer or candidate from the remote peer into the session.
func (r *Relay) AddRemoteSignalingMessage(kind string, payload string) error {
	if r.closed {
		return ErrClosed
	}
	if r.pc == nil || r.state.Terminal() {
		return ErrTerminal
	}

	switch kind {
	case KindOffer:
		return r.handleOffer(payload)
	case KindAnswer:
		return r.handleAnswer(payload)
	case KindCandidate:
		return r.handleCandidate(payload)
	}
	return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func (r *Relay) handleOffer(sdp string) error {
	if r.connectStart.IsZero() {
		r.setState(Gathering)
		r.armTimer()
	}

	if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	r.remoteDescription = true
	r.flushCandidates()

	answer, err := r.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := r.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	r.pushSignal(KindAnswer, answer.SDP)
	r.setState(Connecting)
	return nil
}

func (r *Relay) handleAnswer(sdp string) error {
	if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	r.remoteDescription = true
	r.flushCandidates()
	r.setState(Connecting)
	return nil
}

func (r *Relay) handleCandidate(payload string) error {
	// An empty candidate marks the end of the remote gathering.
	if payload == "" {
		return nil
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	if !r.remoteDescription {
		r.pendingCandidates = append(r.pendingCandidates, candidate)
		return nil
	}
	if err := r.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (r *Relay) flushCandidates() {
	for _, candidate := range r.pendingCandidates {
		if err := r.pc.AddICECandidate(candidate); err != nil {
			r.log.WithError(err).Warn("Dropping buffered remote candidate")
		}
	}
	r.pendingCandidates = nil
}

// Apply folds an event posted by this relay into its state. Events from a torn down
// session are ignored; the result reports whether the event was current.
func (r *Relay) Apply(ev Event) bool {
	if r.closed || ev.Relay != r || ev.Generation != r.generation {
		return false
	}
	// A failed session stays failed until Reconnect replaces it.
	if r.state.Terminal() {
		return false
	}

	switch ev.Kind {
	case EventCandidate:
		payload, err := json.Marshal(ev.Candidate.ToJSON())
		if err != nil {
			r.log.WithError(err).Error("Encoding local candidate failed")
			return true
		}
		r.pushSignal(KindCandidate, string(payload))

	case EventICEState:
		r.log.Debugf("ICE state changed to %s", ev.ICEState)
		switch ev.ICEState {
		case webrtc.ICEConnectionStateChecking, webrtc.ICEConnectionStateDisconnected:
			r.setState(Connecting)
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			r.markConnected()
		case webrtc.ICEConnectionStateFailed:
			r.fail()
		case webrtc.ICEConnectionStateClosed:
			r.setState(Closed)
		}

	case EventSelectedPair:
		r.localCandidate = ev.LocalCandidate
		r.remoteCandidate = ev.RemoteCandidate

	case EventTimeout:
		if r.state != Connected {
			r.log.Warnf("Connection attempt timed out after %s", r.config.ConnectionTimeout)
			r.fail()
		}
	}
	return true
}

// fail stops the deadline and detaches the session callbacks. The peer connection stays
// around for Status until Reconnect or Close replaces it.
func (r *Relay) fail() {
	r.stopTimer()
	if r.sessionDone != nil {
		close(r.sessionDone)
		r.sessionDone = nil
	}
	r.setState(Failed)
}

func (r *Relay) markConnected() {
	r.stopTimer()
	if r.connectDuration == 0 && !r.connectStart.IsZero() {
		r.connectDuration = time.Since(r.connectStart)
	}
	r.setState(Connected)
}

func (r *Relay) armTimer() {
	r.stopTimer()
	r.connectStart = time.Now()
	if r.config.ConnectionTimeout <= 0 {
		return
	}
	generation := r.generation
	done := r.sessionDone
	r.timer = time.AfterFunc(r.config.ConnectionTimeout, func() {
		r.post(done, Event{Generation: generation, Kind: EventTimeout})
	})
}

func (r *Relay) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Relay) setState(s State) {
	if r.state == s {
		return
	}
	r.state = s
	r.outbox = append(r.outbox, Output{Kind: OutputState, State: s})
}

func (r *Relay) pushSignal(kind string, payload string) {
	r.outbox = append(r.outbox, Output{Kind: OutputSignal, SignalKind: kind, Payload: payload})
}

// Drain returns and clears the pending outputs in the order they were produced.
func (r *Relay) Drain() []Output {
	out := r.outbox
	r.outbox = nil
	return out
}

// Reconnect tears the session down and negotiates again with the same identity and local port.
func (r *Relay) Reconnect() error {
	if r.closed {
		return ErrClosed
	}
	r.log.Info("Reconnecting relay")

	err := r.closeSession()
	r.localCandidate = ""
	r.remoteCandidate = ""
	r.connectStart = time.Time{}
	r.connectDuration = 0
	if err != nil {
		r.log.WithError(err).Warn("Closing previous session failed")
	}

	if err := r.openSession(); err != nil {
		r.pc = nil
		r.setState(Failed)
		return err
	}
	if r.config.CreateOffer {
		return r.Start()
	}
	return nil
}

// closeSession stops the timer and callbacks of the current session before closing it.
func (r *Relay) closeSession() error {
	r.stopTimer()
	if r.sessionDone != nil {
		close(r.sessionDone)
		r.sessionDone = nil
	}
	r.channel.Store(nil)
	if r.pc == nil {
		return nil
	}
	err := r.pc.Close()
	r.pc = nil
	return err
}

// Close releases the session and the local socket. No event of this relay is applied afterwards.
func (r *Relay) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := multierr.Combine(r.closeSession(), r.conn.Close())
	<-r.readerDone
	r.state = Closed

	r.log.Info("Relay shut down")
	return err
}

func (r *Relay) Identity() Identity {
	return r.identity
}

// LocalPort is the loopback port the game talks to. It survives reconnects.
func (r *Relay) LocalPort() int {
	return r.localPort
}

func (r *Relay) HasSession() bool {
	return r.pc != nil
}

func (r *Relay) IsConnected() bool {
	return r.state == Connected
}

func (r *Relay) State() State {
	return r.state
}

func (r *Relay) Status() Status {
	return Status{
		State:           r.state,
		Connected:       r.state == Connected,
		LocalCandidate:  r.localCandidate,
		RemoteCandidate: r.remoteCandidate,
		TimeToConnected: r.connectDuration,
	}
}
