package adapter

import (
	"fmt"
	"net"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/constants"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/gpgnet"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/peer"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/resolver"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

const defaultRelayServicePort = "3478"

// OnGPGNetMessage implements gpgnet.Handler.
func (a *Adapter) OnGPGNetMessage(msg structs.GPGNetMessage) {
	a.enqueue(func() { a.onGPGNetMessage(msg) })
}

// OnGPGNetConnectionChanged implements gpgnet.Handler.
func (a *Adapter) OnGPGNetConnectionChanged(state structs.ConnectionState) {
	a.enqueue(func() { a.onGPGNetConnectionChanged(state) })
}

func (a *Adapter) onGPGNetMessage(msg structs.GPGNetMessage) {
	if msg.Header == structs.GameStateHeader && len(msg.Chunks) == 1 {
		if state, ok := msg.Chunks[0].(string); ok {
			a.gameState = state
			a.log.WithField("game_state", state).Info("Game state changed")
			if state == structs.GameStateIdle {
				if err := a.game.SendCreateLobby(gpgnet.NormalLobby,
					a.options.GameUDPPort,
					a.options.LocalPlayerLogin,
					a.options.LocalPlayerID,
					1); err != nil {
					a.log.WithError(err).Error("Sending CreateLobby to the game failed")
				}
			}
		}
	}

	chunks := msg.Chunks
	if chunks == nil {
		chunks = []any{}
	}
	a.notifier.Notify("onGpgNetMessageReceived", msg.Header, chunks)

	a.tryExecuteTask()
}

func (a *Adapter) onGPGNetConnectionChanged(state structs.ConnectionState) {
	if a.game.SessionCount() > 1 {
		a.log.Error("Only one game session is supported")
	}

	a.notifier.Notify("onConnectionStateChanged", state.String())

	if state == structs.Connected {
		a.log.Info("Game connected")
		return
	}

	a.log.Info("Game disconnected")
	a.reset()
}

// reset drops everything tied to the game connection session.
func (a *Adapter) reset() {
	a.hostGameMap = ""
	a.joinGameLogin = ""
	a.joinGameID = 0
	if err := a.relays.Clear(); err != nil {
		a.log.WithError(err).Warn("Shutting down relays failed")
	}
	a.gameState = ""
	a.taskState = structs.NoTask
}

// tryExecuteTask sends the deferred host/join instruction once the game sits in its lobby.
// It is safe to call any number of times.
func (a *Adapter) tryExecuteTask() {
	switch a.taskState {
	case structs.NoTask, structs.SentHostGame, structs.SentJoinGame:
		return

	case structs.ShouldHostGame:
		if a.gameState != structs.GameStateLobby {
			return
		}
		if err := a.game.SendHostGame(a.hostGameMap); err != nil {
			a.log.WithError(err).Error("Sending HostGame to the game failed")
		}
		a.taskState = structs.SentHostGame

	case structs.ShouldJoinGame:
		if a.gameState != structs.GameStateLobby {
			return
		}
		relay, exists := a.relays.GetRelay(a.joinGameID)
		if !exists {
			a.log.WithField("remote_id", a.joinGameID).Error("No relay found for joining player")
		} else if err := a.game.SendJoinGame(relayAddress(relay.LocalPort()), a.joinGameLogin, a.joinGameID); err != nil {
			a.log.WithError(err).Error("Sending JoinGame to the game failed")
		}
		a.taskState = structs.SentJoinGame
	}
}

// createPeerRelay builds and stores a relay, replacing any previous relay for the id, and
// starts gathering if it makes the offer.
//
// The replacement is built while the previous relay is still alive, so a failure leaves the
// registry untouched. Only when that fails and a previous relay holds resources (a narrow
// port range) is the previous relay shut down and construction retried; if the retry fails
// too, the game is told to drop the peer since its relay is gone.
func (a *Adapter) createPeerRelay(remoteID int, remoteLogin string, createOffer bool) (Relay, error) {
	config := peer.Config{
		Identity: peer.Identity{
			ID:      remoteID,
			Login:   remoteLogin,
			Exposed: remoteID != constants.ReservedPlayerID,
		},
		CreateOffer:       createOffer,
		ICEServers:        a.iceServers(),
		GameUDPPort:       a.options.GameUDPPort,
		PortMin:           a.options.ICELocalPortMin,
		PortMax:           a.options.ICELocalPortMax,
		ConnectionTimeout: a.options.ConnectionTimeout,
		IncludeLoopback:   a.options.IncludeLoopback,
	}
	log := a.log.WithField("remote_id", remoteID)

	relay, err := a.newRelay(config, a.relayEvents)
	if err != nil {
		if _, exists := a.relays.GetRelay(remoteID); !exists {
			log.WithError(err).Error("Creating relay failed")
			return nil, fmt.Errorf("create relay for remote peer %d: %w", remoteID, err)
		}

		log.WithError(err).Warn("Creating relay failed, retrying after shutting down the existing relay")
		if _, closeErr := a.relays.DeleteRelay(remoteID); closeErr != nil {
			log.WithError(closeErr).Warn("Shutting down replaced relay failed")
		}
		relay, err = a.newRelay(config, a.relayEvents)
		if err != nil {
			log.WithError(err).Error("Creating relay failed, peer dropped")
			if sendErr := a.game.SendDisconnectFromPeer(remoteID); sendErr != nil {
				log.WithError(sendErr).Error("Sending DisconnectFromPeer to the game failed")
			}
			return nil, fmt.Errorf("create relay for remote peer %d: %w", remoteID, err)
		}
	}

	if _, exists := a.relays.GetRelay(remoteID); exists {
		log.Info("Replacing existing relay")
	}
	if err := a.relays.SetRelay(remoteID, relay); err != nil {
		log.WithError(err).Warn("Shutting down replaced relay failed")
	}

	if createOffer {
		if err := relay.Start(); err != nil {
			log.WithError(err).Error("Starting relay negotiation failed")
		}
	}
	a.flush(relay)
	return relay, nil
}

// flush forwards a relay's pending signaling and state changes to the controller.
// Relays that are not exposed are drained silently.
func (a *Adapter) flush(relay Relay) {
	identity := relay.Identity()
	for _, out := range relay.Drain() {
		if !identity.Exposed {
			continue
		}
		switch out.Kind {
		case peer.OutputSignal:
			a.notifier.Notify("onSdpMessage", a.options.LocalPlayerID, identity.ID, out.SignalKind, out.Payload)
		case peer.OutputState:
			a.notifier.Notify("onPeerStateChanged", a.options.LocalPlayerID, identity.ID, out.State.String())
		}
	}
}

func (a *Adapter) onRelayEvent(ev peer.Event) {
	relay, exists := a.relays.GetRelay(ev.Identity.ID)
	if !exists {
		return
	}
	if relay.Apply(ev) {
		a.flush(relay)
	}
}

func (a *Adapter) onResolved(result resolver.Result) {
	if result.Err != nil {
		return
	}
	switch result.Service {
	case resolver.STUN:
		a.stunAddress = result.Address
	case resolver.TURN:
		a.turnAddress = result.Address
	}
}

// iceServers lists whatever relay-service addresses are known right now.
func (a *Adapter) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if a.stunAddress != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs: []string{"stun:" + withDefaultPort(a.stunAddress)},
		})
	}
	if a.turnAddress != "" {
		address := withDefaultPort(a.turnAddress)
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{"turn:" + address + "?transport=udp", "turn:" + address + "?transport=tcp"},
			Username:       a.options.TurnUser,
			Credential:     a.options.TurnPass,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	if len(servers) == 0 {
		a.log.WithFields(logrus.Fields{"stun": a.options.StunHost, "turn": a.options.TurnHost}).Warn("No relay-service address known, connectivity will be degraded")
	}
	return servers
}

func withDefaultPort(address string) string {
	host, port := resolver.SplitHost(address)
	if port == "" {
		port = defaultRelayServicePort
	}
	return net.JoinHostPort(host, port)
}
