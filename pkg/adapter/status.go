package adapter

import (
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/constants"
	"github.com/MikeDev101/cloudlink-phi/iceadapter/pkg/structs"
)

func (a *Adapter) status() structs.Status {
	status := structs.Status{
		Version: constants.Version,
		Options: a.options,
		GPGNet: structs.GPGNetStatus{
			LocalPort: a.game.ListenPort(),
			Connected: a.game.SessionCount() > 0,
			GameState: a.gameState,
			TaskState: a.taskState.String(),
		},
		Relays: make([]structs.RelayStatus, 0, a.relays.Len()),
	}

	if a.taskState.AmIHosting() {
		status.GPGNet.HostGame = &structs.HostGameStatus{Map: a.hostGameMap}
	} else if a.taskState.AmIJoining() {
		status.GPGNet.JoinGame = &structs.JoinGameStatus{
			RemotePlayerLogin: a.joinGameLogin,
			RemotePlayerID:    a.joinGameID,
		}
	}

	for _, id := range a.relays.IDs() {
		relay, _ := a.relays.GetRelay(id)
		summary := structs.RelayStatus{
			RemotePlayerID:    id,
			RemotePlayerLogin: relay.Identity().Login,
			LocalGameUDPPort:  relay.LocalPort(),
		}
		if relay.HasSession() {
			info := relay.Status()
			summary.ICEAgent = &structs.ICEAgentStatus{
				State:           info.State.String(),
				Connected:       info.Connected,
				LocalCandidate:  info.LocalCandidate,
				RemoteCandidate: info.RemoteCandidate,
				TimeToConnected: info.TimeToConnected.Seconds(),
			}
		}
		status.Relays = append(status.Relays, summary)
	}
	return status
}
