// Package adapter coordinates the game-control channel, the control API and the per-peer relays.
//
// All state lives in a single event loop (Run). Control commands, game-control events, relay
// events and resolver completions are delivered to that loop and handled one at a time, so
// the relay registry and the task state need no locks.
package adapter

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/gpgnet"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/manager"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/peer"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/resolver"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

// GameControl is the outbound side of the game-control channel.
type GameControl interface {
	SendMessage(msg structs.GPGNetMessage) error
	SendCreateLobby(mode gpgnet.InitMode, port int, login string, id int, natTraversalProvider int) error
	SendHostGame(mapName string) error
	SendJoinGame(address string, login string, id int) error
	SendConnectToPeer(address string, login string, id int) error
	SendDisconnectFromPeer(id int) error
	ListenPort() int
	SessionCount() int
}

// Notifier pushes notifications to the external controller.
type Notifier interface {
	Notify(method string, params ...any)
}

// Relay is the part of a peer relay the adapter drives.
type Relay interface {
	io.Closer
	Start() error
	AddRemoteSignalingMessage(kind string, payload string) error
	Reconnect() error
	Apply(ev peer.Event) bool
	Drain() []peer.Output
	Identity() peer.Identity
	LocalPort() int
	HasSession() bool
	IsConnected() bool
	Status() peer.Status
}

type Adapter struct {
	options  structs.Options
	game     GameControl
	notifier Notifier
	newRelay RelayFactory
	resolver *resolver.Resolver
	log      *logrus.Entry

	// Loop-owned state.
	relays        *manager.Registry[Relay]
	taskState     structs.TaskState
	hostGameMap   string
	joinGameLogin string
	joinGameID    int
	gameState     string
	stunAddress   string
	turnAddress   string

	commands    chan func()
	relayEvents chan peer.Event
	resolved    chan resolver.Result
	quit        chan struct{}
	quitOnce    sync.Once
	stopped     chan struct{}
}

// New creates an adapter. Nothing happens until Run is called.
func New(options structs.Options, game GameControl, notifier Notifier, opts ...Option) *Adapter {
	a := &Adapter{
		options:     options,
		game:        game,
		notifier:    notifier,
		newRelay:    newPeerRelay,
		log:         logrus.WithField("component", "adapter"),
		relays:      manager.NewRegistry[Relay](),
		taskState:   structs.NoTask,
		commands:    make(chan func(), 64),
		relayEvents: make(chan peer.Event, 256),
		resolved:    make(chan resolver.Result, 4),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.resolver == nil {
		a.resolver = resolver.New(nil, 0)
	}
	return a
}

// Run is the event loop. It returns when ctx is done or Quit is called; every relay is
// shut down on the way out.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.stopped)
	defer func() {
		if err := a.relays.Clear(); err != nil {
			a.log.WithError(err).Warn("Shutting down relays failed")
		}
	}()

	a.resolver.ResolveAsync(ctx, map[resolver.Service]string{
		resolver.STUN: a.options.StunHost,
		resolver.TURN: a.options.TurnHost,
	}, a.resolved)

	a.log.Info("Adapter event loop running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.quit:
			a.log.Info("Quit requested")
			return nil
		case fn := <-a.commands:
			fn()
		case ev := <-a.relayEvents:
			a.onRelayEvent(ev)
		case result := <-a.resolved:
			a.onResolved(result)
		}
	}
}

// Quit stops the event loop. It is safe to call more than once.
func (a *Adapter) Quit() {
	a.quitOnce.Do(func() {
		close(a.quit)
	})
}

// Done is closed once the event loop has exited.
func (a *Adapter) Done() <-chan struct{} {
	return a.stopped
}

// enqueue hands fn to the loop without waiting for it to run.
func (a *Adapter) enqueue(fn func()) {
	select {
	case a.commands <- fn:
	case <-a.stopped:
	}
}

// call runs fn on the loop and waits for its result.
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case a.commands <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}
}
