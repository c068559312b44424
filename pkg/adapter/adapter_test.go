package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/constants"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/gpgnet"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/peer"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/resolver"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

type fakeGame struct {
	mux      sync.Mutex
	sent     []structs.GPGNetMessage
	sessions int
}

func (g *fakeGame) record(header string, chunks ...any) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.sent = append(g.sent, structs.GPGNetMessage{Header: header, Chunks: chunks})
	return nil
}

func (g *fakeGame) SendMessage(msg structs.GPGNetMessage) error {
	return g.record(msg.Header, msg.Chunks...)
}

func (g *fakeGame) SendCreateLobby(mode gpgnet.InitMode, port int, login string, id int, natTraversalProvider int) error {
	return g.record("CreateLobby", int(mode), port, login, id, natTraversalProvider)
}

func (g *fakeGame) SendHostGame(mapName string) error {
	return g.record("HostGame", mapName)
}

func (g *fakeGame) SendJoinGame(address string, login string, id int) error {
	return g.record("JoinGame", address, login, id)
}

func (g *fakeGame) SendConnectToPeer(address string, login string, id int) error {
	return g.record("ConnectToPeer", address, login, id)
}

func (g *fakeGame) SendDisconnectFromPeer(id int) error {
	return g.record("DisconnectFromPeer", id)
}

func (g *fakeGame) ListenPort() int { return 7237 }

func (g *fakeGame) SessionCount() int {
	g.mux.Lock()
	defer g.mux.Unlock()
	return g.sessions
}

func (g *fakeGame) messages(header string) []structs.GPGNetMessage {
	g.mux.Lock()
	defer g.mux.Unlock()
	var result []structs.GPGNetMessage
	for _, msg := range g.sent {
		if msg.Header == header {
			result = append(result, msg)
		}
	}
	return result
}

type notification struct {
	Method string
	Params []any
}

type fakeNotifier struct {
	mux  sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(method string, params ...any) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.sent = append(n.sent, notification{Method: method, Params: params})
}

func (n *fakeNotifier) methods(method string) []notification {
	n.mux.Lock()
	defer n.mux.Unlock()
	var result []notification
	for _, sent := range n.sent {
		if sent.Method == method {
			result = append(result, sent)
		}
	}
	return result
}

type fakeRelay struct {
	config     peer.Config
	port       int
	started    int
	reconnects int
	closed     int
	connected  bool
	noSession  bool
	received   []string
	outbox     []peer.Output
}

func (r *fakeRelay) Close() error {
	r.closed++
	return nil
}

func (r *fakeRelay) Start() error {
	r.started++
	r.outbox = append(r.outbox,
		peer.Output{Kind: peer.OutputState, State: peer.Gathering},
		peer.Output{Kind: peer.OutputSignal, SignalKind: peer.KindOffer, Payload: "sdp"},
		peer.Output{Kind: peer.OutputState, State: peer.OfferSent})
	return nil
}

func (r *fakeRelay) AddRemoteSignalingMessage(kind string, payload string) error {
	r.received = append(r.received, kind+":"+payload)
	return nil
}

func (r *fakeRelay) Reconnect() error {
	r.reconnects++
	return nil
}

// Apply turns a timeout event into a failed state, like a relay that never connected.
func (r *fakeRelay) Apply(ev peer.Event) bool {
	if ev.Kind == peer.EventTimeout {
		r.outbox = append(r.outbox, peer.Output{Kind: peer.OutputState, State: peer.Failed})
	}
	return true
}

func (r *fakeRelay) Drain() []peer.Output {
	out := r.outbox
	r.outbox = nil
	return out
}

func (r *fakeRelay) Identity() peer.Identity { return r.config.Identity }
func (r *fakeRelay) LocalPort() int          { return r.port }
func (r *fakeRelay) HasSession() bool        { return !r.noSession }
func (r *fakeRelay) IsConnected() bool       { return r.connected }

func (r *fakeRelay) Status() peer.Status {
	return peer.Status{State: peer.OfferSent, Connected: r.connected, TimeToConnected: 1500 * time.Millisecond}
}

type fixture struct {
	adapter  *Adapter
	game     *fakeGame
	notifier *fakeNotifier
	relays   []*fakeRelay
	ctx      context.Context

	// failures is the number of upcoming relay constructions that fail.
	failures int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{game: &fakeGame{}, notifier: &fakeNotifier{}}

	options := structs.DefaultOptions()
	options.LocalPlayerID = 1
	options.LocalPlayerLogin = "Local"
	options.StunHost = ""
	options.TurnHost = ""

	nextPort := 6000
	factory := func(config peer.Config, events chan<- peer.Event) (Relay, error) {
		if f.failures > 0 {
			f.failures--
			return nil, errors.New("no free relay port")
		}
		nextPort++
		relay := &fakeRelay{config: config, port: nextPort}
		f.relays = append(f.relays, relay)
		return relay, nil
	}
	f.adapter = New(options, f.game, f.notifier,
		WithRelayFactory(factory),
		WithResolver(resolver.New(func(ctx context.Context, host string) ([]string, error) {
			return nil, errors.New("offline")
		}, time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	f.ctx = ctx
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.adapter.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

// sync waits until every event queued before it has been handled.
func (f *fixture) sync(t *testing.T) structs.Status {
	t.Helper()
	status, err := f.adapter.Status(f.ctx)
	require.NoError(t, err)
	return status
}

// relayEvent delivers ev in order with the commands around it.
func (f *fixture) relayEvent(ev peer.Event) {
	f.adapter.enqueue(func() { f.adapter.onRelayEvent(ev) })
}

func (f *fixture) gameState(state string) {
	f.adapter.OnGPGNetMessage(structs.GPGNetMessage{Header: structs.GameStateHeader, Chunks: []any{state}})
}

func TestHostGameScenario(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.HostGame(f.ctx, "map1"))
	assert.Equal(t, "ShouldHostGame", f.sync(t).GPGNet.TaskState)

	f.gameState("Idle")
	f.sync(t)
	lobbies := f.game.messages("CreateLobby")
	require.Len(t, lobbies, 1)
	assert.Equal(t, []any{0, 7238, "Local", 1, 1}, lobbies[0].Chunks)
	assert.Empty(t, f.game.messages("HostGame"))

	f.gameState("Lobby")
	status := f.sync(t)
	hosts := f.game.messages("HostGame")
	require.Len(t, hosts, 1)
	assert.Equal(t, []any{"map1"}, hosts[0].Chunks)
	assert.Equal(t, "SentHostGame", status.GPGNet.TaskState)
	assert.Equal(t, "Lobby", status.GPGNet.GameState)
	require.NotNil(t, status.GPGNet.HostGame)
	assert.Equal(t, "map1", status.GPGNet.HostGame.Map)

	assert.Len(t, f.notifier.methods("onGpgNetMessageReceived"), 2)
}

func TestJoinGameScenario(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.JoinGame(f.ctx, "PlayerX", 42))
	status := f.sync(t)
	require.Len(t, f.relays, 1)
	relay := f.relays[0]
	assert.False(t, relay.config.CreateOffer)
	assert.Equal(t, 0, relay.started)
	assert.Equal(t, "ShouldJoinGame", status.GPGNet.TaskState)

	f.gameState("Lobby")
	status = f.sync(t)
	joins := f.game.messages("JoinGame")
	require.Len(t, joins, 1)
	assert.Equal(t, []any{"127.0.0.1:6001", "PlayerX", 42}, joins[0].Chunks)
	assert.Equal(t, "SentJoinGame", status.GPGNet.TaskState)
	require.NotNil(t, status.GPGNet.JoinGame)
	assert.Equal(t, 42, status.GPGNet.JoinGame.RemotePlayerID)
}

func TestHostOrJoinRejectedWhileSessionActive(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.HostGame(f.ctx, "map1"))
	assert.ErrorIs(t, f.adapter.HostGame(f.ctx, "map2"), ErrInvalidState)
	assert.ErrorIs(t, f.adapter.JoinGame(f.ctx, "PlayerX", 42), ErrInvalidState)
	assert.Empty(t, f.relays)

	f.adapter.OnGPGNetConnectionChanged(structs.Disconnected)
	require.NoError(t, f.adapter.JoinGame(f.ctx, "PlayerX", 42))
	assert.ErrorIs(t, f.adapter.HostGame(f.ctx, "map1"), ErrInvalidState)
}

func TestDisconnectResetsSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.JoinGame(f.ctx, "PlayerX", 42))
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))
	f.gameState("Lobby")

	f.adapter.OnGPGNetConnectionChanged(structs.Disconnected)
	status := f.sync(t)

	assert.Equal(t, "NoTask", status.GPGNet.TaskState)
	assert.Empty(t, status.GPGNet.GameState)
	assert.Empty(t, status.Relays)
	assert.Nil(t, status.GPGNet.JoinGame)
	for _, relay := range f.relays {
		assert.Equal(t, 1, relay.closed)
	}

	states := f.notifier.methods("onConnectionStateChanged")
	require.Len(t, states, 1)
	assert.Equal(t, []any{"Disconnected"}, states[0].Params)
}

func TestConnectToPeerTwiceReplacesRelay(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))
	status := f.sync(t)

	require.Len(t, f.relays, 2)
	assert.Equal(t, 1, f.relays[0].closed)
	assert.Equal(t, 0, f.relays[1].closed)
	assert.Equal(t, 1, f.relays[1].started)
	require.Len(t, status.Relays, 1)
	assert.Equal(t, f.relays[1].port, status.Relays[0].LocalGameUDPPort)

	connects := f.game.messages("ConnectToPeer")
	require.Len(t, connects, 2)
	assert.Equal(t, []any{"127.0.0.1:6002", "PlayerY", 7}, connects[1].Chunks)

	offers := f.notifier.methods("onSdpMessage")
	require.Len(t, offers, 2)
	assert.Equal(t, []any{1, 7, "offer", "sdp"}, offers[0].Params)
}

func TestFailedRelayCreationChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.failures = 1

	assert.Error(t, f.adapter.JoinGame(f.ctx, "PlayerX", 42))
	status := f.sync(t)
	assert.Equal(t, "NoTask", status.GPGNet.TaskState)
	assert.Nil(t, status.GPGNet.JoinGame)
	assert.Empty(t, status.Relays)
	assert.Empty(t, f.game.messages("DisconnectFromPeer"))

	require.NoError(t, f.adapter.JoinGame(f.ctx, "PlayerX", 42))
}

func TestReplacementRetriesAfterFreeingPreviousRelay(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))

	f.failures = 1
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))
	status := f.sync(t)

	require.Len(t, f.relays, 2)
	assert.Equal(t, 1, f.relays[0].closed)
	require.Len(t, status.Relays, 1)
	assert.Equal(t, f.relays[1].port, status.Relays[0].LocalGameUDPPort)
	assert.Empty(t, f.game.messages("DisconnectFromPeer"))
}

func TestFailedReplacementDropsPeer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))

	f.failures = 2
	assert.Error(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))
	status := f.sync(t)

	assert.Empty(t, status.Relays)
	assert.Equal(t, 1, f.relays[0].closed)
	disconnects := f.game.messages("DisconnectFromPeer")
	require.Len(t, disconnects, 1)
	assert.Equal(t, []any{7}, disconnects[0].Chunks)
	assert.Len(t, f.game.messages("ConnectToPeer"), 1)
}

func TestReconnectToPeer(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.adapter.ReconnectToPeer(f.ctx, 7), ErrNotFound)

	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, false))
	require.NoError(t, f.adapter.ReconnectToPeer(f.ctx, 7))
	status := f.sync(t)

	require.Len(t, f.relays, 1)
	assert.Equal(t, 1, f.relays[0].reconnects)
	assert.Equal(t, 6001, status.Relays[0].LocalGameUDPPort)
}

func TestDisconnectFromPeerTwice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))

	require.NoError(t, f.adapter.DisconnectFromPeer(f.ctx, 7))
	assert.ErrorIs(t, f.adapter.DisconnectFromPeer(f.ctx, 7), ErrNotFound)

	disconnects := f.game.messages("DisconnectFromPeer")
	require.Len(t, disconnects, 1)
	assert.Equal(t, []any{7}, disconnects[0].Chunks)
	assert.Equal(t, 1, f.relays[0].closed)
}

func TestAddSdpMessage(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.adapter.AddSdpMessage(f.ctx, 99, "offer", "..."), ErrNotFound)

	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, false))
	relay := f.relays[0]
	require.NoError(t, f.adapter.AddSdpMessage(f.ctx, 7, "offer", "remote"))

	// Connected relays still accept messages.
	relay.connected = true
	require.NoError(t, f.adapter.AddSdpMessage(f.ctx, 7, "candidate", "{}"))
	assert.Equal(t, []string{"offer:remote", "candidate:{}"}, relay.received)

	relay.noSession = true
	assert.ErrorIs(t, f.adapter.AddSdpMessage(f.ctx, 7, "candidate", "{}"), ErrNoSession)
}

func TestReservedRelayNeverNotifies(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "internal", constants.ReservedPlayerID, true))
	require.Len(t, f.relays, 1)
	assert.False(t, f.relays[0].config.Identity.Exposed)

	f.relayEvent(peer.Event{Identity: f.relays[0].config.Identity, Kind: peer.EventTimeout})
	f.sync(t)

	assert.Empty(t, f.notifier.methods("onSdpMessage"))
	assert.Empty(t, f.notifier.methods("onPeerStateChanged"))
}

func TestRelayEventsAreForwarded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, false))

	f.relayEvent(peer.Event{Identity: f.relays[0].config.Identity, Kind: peer.EventTimeout})
	f.relayEvent(peer.Event{Identity: peer.Identity{ID: 123, Exposed: true}, Kind: peer.EventTimeout})
	f.sync(t)

	states := f.notifier.methods("onPeerStateChanged")
	require.Len(t, states, 1)
	assert.Equal(t, []any{1, 7, "Failed"}, states[0].Params)
}

func TestTryExecuteTaskIsIdempotent(t *testing.T) {
	game := &fakeGame{}
	a := New(structs.DefaultOptions(), game, &fakeNotifier{})
	a.taskState = structs.ShouldHostGame
	a.hostGameMap = "map1"
	a.gameState = structs.GameStateLobby

	for i := 0; i < 5; i++ {
		a.tryExecuteTask()
	}

	assert.Len(t, game.messages("HostGame"), 1)
	assert.Equal(t, structs.SentHostGame, a.taskState)
}

func TestTryExecuteTaskWaitsForLobby(t *testing.T) {
	game := &fakeGame{}
	a := New(structs.DefaultOptions(), game, &fakeNotifier{})
	a.taskState = structs.ShouldJoinGame
	a.joinGameID = 42
	a.gameState = "Idle"

	a.tryExecuteTask()
	assert.Equal(t, structs.ShouldJoinGame, a.taskState)

	// Missing relay: logged, and the task is still considered sent.
	a.gameState = structs.GameStateLobby
	a.tryExecuteTask()
	assert.Equal(t, structs.SentJoinGame, a.taskState)
	assert.Empty(t, game.messages("JoinGame"))
}

func TestSendToGPGNetPassesThrough(t *testing.T) {
	f := newFixture(t)

	msg := structs.GPGNetMessage{Header: "Chat", Chunks: []any{"hello", float64(3)}}
	require.NoError(t, f.adapter.SendToGPGNet(f.ctx, msg))

	chats := f.game.messages("Chat")
	require.Len(t, chats, 1)
	assert.Equal(t, msg.Chunks, chats[0].Chunks)
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))

	status := f.sync(t)
	assert.Equal(t, constants.Version, status.Version)
	assert.Equal(t, "Local", status.Options.LocalPlayerLogin)
	assert.Equal(t, 7237, status.GPGNet.LocalPort)
	assert.False(t, status.GPGNet.Connected)
	require.Len(t, status.Relays, 1)
	assert.Equal(t, "PlayerY", status.Relays[0].RemotePlayerLogin)
	require.NotNil(t, status.Relays[0].ICEAgent)
	assert.Equal(t, "OfferSent", status.Relays[0].ICEAgent.State)
	assert.InDelta(t, 1.5, status.Relays[0].ICEAgent.TimeToConnected, 0.001)
}

func TestResolvedAddressesBecomeICEServers(t *testing.T) {
	a := New(structs.DefaultOptions(), &fakeGame{}, &fakeNotifier{})
	assert.Empty(t, a.iceServers())

	a.onResolved(resolver.Result{Service: resolver.STUN, Address: "192.0.2.1"})
	a.onResolved(resolver.Result{Service: resolver.TURN, Address: "192.0.2.2:5349"})
	a.onResolved(resolver.Result{Service: resolver.TURN, Err: resolver.ErrResolution})

	servers := a.iceServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:192.0.2.1:3478"}, servers[0].URLs)
	assert.Equal(t, "turn:192.0.2.2:5349?transport=udp", servers[1].URLs[0])
}

func TestQuitStopsLoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.adapter.ConnectToPeer(f.ctx, "PlayerY", 7, true))

	f.adapter.Quit()
	f.adapter.Quit()

	select {
	case <-f.adapter.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, 1, f.relays[0].closed)
	assert.ErrorIs(t, f.adapter.HostGame(context.Background(), "map1"), ErrStopped)
}
