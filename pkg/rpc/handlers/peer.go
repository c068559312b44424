package handlers

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

const (
	usageConnectToPeer = "Need 2 or 3 parameters: remotePlayerLogin (string), remotePlayerId (int), createOffer (bool, default true)"
	usagePeer          = "Need 1 parameter: remotePlayerId (int)"
	usageSdp           = "Need 3 parameters: remotePlayerId (int), type (string), msg (string)"
)

// ConnectToPeer handles connectToPeer(remotePlayerLogin, remotePlayerId[, createOffer]).
func ConnectToPeer(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	p := structs.ConnectToPeerParams{CreateOffer: true}
	if err := bind(params, usageConnectToPeer, 2, &p.RemotePlayerLogin, &p.RemotePlayerID, &p.CreateOffer); err != nil {
		return nil, err
	}
	if err := check(&p, usageConnectToPeer); err != nil {
		return nil, err
	}
	return done(ctl.ConnectToPeer(ctx, p.RemotePlayerLogin, p.RemotePlayerID, p.CreateOffer))
}

// ReconnectToPeer handles reconnectToPeer(remotePlayerId).
func ReconnectToPeer(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	var p structs.PeerParams
	if err := bind(params, usagePeer, 1, &p.RemotePlayerID); err != nil {
		return nil, err
	}
	return done(ctl.ReconnectToPeer(ctx, p.RemotePlayerID))
}

// DisconnectFromPeer handles disconnectFromPeer(remotePlayerId).
func DisconnectFromPeer(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	var p structs.PeerParams
	if err := bind(params, usagePeer, 1, &p.RemotePlayerID); err != nil {
		return nil, err
	}
	return done(ctl.DisconnectFromPeer(ctx, p.RemotePlayerID))
}

// AddSdpMessage handles addSdpMessage(remotePlayerId, type, msg).
func AddSdpMessage(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	var p structs.SdpParams
	if err := bind(params, usageSdp, 3, &p.RemotePlayerID, &p.Type, &p.Message); err != nil {
		return nil, err
	}
	if err := check(&p, usageSdp); err != nil {
		return nil, err
	}
	return done(ctl.AddSdpMessage(ctx, p.RemotePlayerID, p.Type, p.Message))
}
