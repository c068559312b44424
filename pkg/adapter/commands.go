package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/constants"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

// HostGame asks the game to host mapName once it reports the lobby state.
func (a *Adapter) HostGame(ctx context.Context, mapName string) error {
	return a.call(ctx, func() error { return a.hostGame(mapName) })
}

// JoinGame creates an answering relay for the remote host and asks the game to join it
// once it reports the lobby state.
func (a *Adapter) JoinGame(ctx context.Context, remoteLogin string, remoteID int) error {
	return a.call(ctx, func() error { return a.joinGame(remoteLogin, remoteID) })
}

// ConnectToPeer creates or replaces the relay for a remote player and points the game at it.
func (a *Adapter) ConnectToPeer(ctx context.Context, remoteLogin string, remoteID int, createOffer bool) error {
	return a.call(ctx, func() error { return a.connectToPeer(remoteLogin, remoteID, createOffer) })
}

// ReconnectToPeer restarts the negotiation of an existing relay, keeping its local port.
func (a *Adapter) ReconnectToPeer(ctx context.Context, remoteID int) error {
	return a.call(ctx, func() error { return a.reconnectToPeer(remoteID) })
}

// DisconnectFromPeer tells the game to drop the peer and removes its relay.
func (a *Adapter) DisconnectFromPeer(ctx context.Context, remoteID int) error {
	return a.call(ctx, func() error { return a.disconnectFromPeer(remoteID) })
}

// AddSdpMessage feeds a signaling message from the remote player into its relay.
func (a *Adapter) AddSdpMessage(ctx context.Context, remoteID int, kind string, payload string) error {
	return a.call(ctx, func() error { return a.addSdpMessage(remoteID, kind, payload) })
}

// SendToGPGNet passes a message to the game unmodified.
func (a *Adapter) SendToGPGNet(ctx context.Context, msg structs.GPGNetMessage) error {
	return a.call(ctx, func() error { return a.game.SendMessage(msg) })
}

// Status assembles a snapshot of the current state.
func (a *Adapter) Status(ctx context.Context) (structs.Status, error) {
	var status structs.Status
	err := a.call(ctx, func() error {
		status = a.status()
		return nil
	})
	return status, err
}

func errSessionActive() error {
	return fmt.Errorf("%w: joinGame/hostGame may only be called once per game connection session, wait for the game to disconnect", ErrInvalidState)
}

func errNoRelay(remoteID int) error {
	return fmt.Errorf("%w: no relay for remote peer %d found, call joinGame() or connectToPeer() first", ErrNotFound, remoteID)
}

func (a *Adapter) hostGame(mapName string) error {
	if !a.taskState.AmIIdle() {
		return errSessionActive()
	}
	a.hostGameMap = mapName
	a.taskState = structs.ShouldHostGame
	a.log.WithField("map", mapName).Info("Hosting game")
	a.tryExecuteTask()
	return nil
}

func (a *Adapter) joinGame(remoteLogin string, remoteID int) error {
	if !a.taskState.AmIIdle() {
		return errSessionActive()
	}
	if _, err := a.createPeerRelay(remoteID, remoteLogin, false); err != nil {
		return err
	}
	a.joinGameLogin = remoteLogin
	a.joinGameID = remoteID
	a.taskState = structs.ShouldJoinGame
	a.log.WithFields(logrus.Fields{"remote_id": remoteID, "login": remoteLogin}).Info("Joining game")
	a.tryExecuteTask()
	return nil
}

func (a *Adapter) connectToPeer(remoteLogin string, remoteID int, createOffer bool) error {
	relay, err := a.createPeerRelay(remoteID, remoteLogin, createOffer)
	if err != nil {
		return err
	}
	if err := a.game.SendConnectToPeer(relayAddress(relay.LocalPort()), remoteLogin, remoteID); err != nil {
		a.log.WithError(err).WithField("remote_id", remoteID).Error("Sending ConnectToPeer to the game failed")
	}
	return nil
}

func (a *Adapter) reconnectToPeer(remoteID int) error {
	relay, exists := a.relays.GetRelay(remoteID)
	if !exists {
		a.log.WithField("remote_id", remoteID).Error("No relay for remote peer found")
		return errNoRelay(remoteID)
	}
	err := relay.Reconnect()
	a.flush(relay)
	return err
}

func (a *Adapter) disconnectFromPeer(remoteID int) error {
	if _, exists := a.relays.GetRelay(remoteID); !exists {
		a.log.WithField("remote_id", remoteID).Error("No relay for remote peer found")
		return errNoRelay(remoteID)
	}
	if err := a.game.SendDisconnectFromPeer(remoteID); err != nil {
		a.log.WithError(err).WithField("remote_id", remoteID).Error("Sending DisconnectFromPeer to the game failed")
	}
	if _, err := a.relays.DeleteRelay(remoteID); err != nil {
		a.log.WithError(err).WithField("remote_id", remoteID).Warn("Relay shutdown reported an error")
	}
	a.log.WithField("remote_id", remoteID).Info("Removed relay for peer")
	return nil
}

func (a *Adapter) addSdpMessage(remoteID int, kind string, payload string) error {
	relay, exists := a.relays.GetRelay(remoteID)
	if !exists {
		a.log.WithField("remote_id", remoteID).Error("No relay for remote peer found")
		return errNoRelay(remoteID)
	}
	if !relay.HasSession() {
		return fmt.Errorf("%w: remote peer %d", ErrNoSession, remoteID)
	}
	if relay.IsConnected() {
		a.log.WithFields(logrus.Fields{"remote_id": remoteID, "type": kind}).Warn("Received signaling message for an already connected relay")
	}
	err := relay.AddRemoteSignalingMessage(kind, payload)
	a.flush(relay)
	return err
}

// relayAddress is the endpoint the game uses to reach a relay.
func relayAddress(port int) string {
	return net.JoinHostPort(constants.LoopbackHost, strconv.Itoa(port))
}
