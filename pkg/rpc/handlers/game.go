package handlers

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

const (
	usageHostGame = "Need 1 parameter: mapName (string)"
	usageJoinGame = "Need 2 parameters: remotePlayerLogin (string), remotePlayerId (int)"
	usageSendGame = "Need 2 parameters: header (string), chunks (array)"
)

// HostGame handles hostGame(mapName).
func HostGame(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	var p structs.HostGameParams
	if err := bind(params, usageHostGame, 1, &p.MapName); err != nil {
		return nil, err
	}
	if err := check(&p, usageHostGame); err != nil {
		return nil, err
	}
	return done(ctl.HostGame(ctx, p.MapName))
}

// JoinGame handles joinGame(remotePlayerLogin, remotePlayerId).
func JoinGame(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	var p structs.JoinGameParams
	if err := bind(params, usageJoinGame, 2, &p.RemotePlayerLogin, &p.RemotePlayerID); err != nil {
		return nil, err
	}
	if err := check(&p, usageJoinGame); err != nil {
		return nil, err
	}
	return done(ctl.JoinGame(ctx, p.RemotePlayerLogin, p.RemotePlayerID))
}

// SendToGpgNet handles sendToGpgNet(header, chunks). The message reaches the game as is.
func SendToGpgNet(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	var p structs.GPGNetParams
	if err := bind(params, usageSendGame, 2, &p.Header, &p.Chunks); err != nil {
		return nil, err
	}
	if err := check(&p, usageSendGame); err != nil {
		return nil, err
	}
	return done(ctl.SendToGPGNet(ctx, structs.GPGNetMessage{Header: p.Header, Chunks: p.Chunks}))
}

// Status handles status().
func Status(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	status, err := ctl.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Quit handles quit(). The caller stops the controller once the reply is out.
func Quit(ctx context.Context, ctl Controller, params []json.RawMessage) (any, error) {
	return ok, nil
}
