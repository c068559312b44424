package structs

// Status is a point-in-time summary of the adapter, relay and game-control state.
type Status struct {
	Version string        `json:"version"`
	Options Options       `json:"options"`
	GPGNet  GPGNetStatus  `json:"gpgnet"`
	Relays  []RelayStatus `json:"relays"`
}

type GPGNetStatus struct {
	LocalPort int             `json:"local_port"`
	Connected bool            `json:"connected"`
	GameState string          `json:"game_state"`
	TaskState string          `json:"task_state"`
	HostGame  *HostGameStatus `json:"host_game,omitempty"`
	JoinGame  *JoinGameStatus `json:"join_game,omitempty"`
}

type HostGameStatus struct {
	Map string `json:"map"`
}

type JoinGameStatus struct {
	RemotePlayerLogin string `json:"remote_player_login"`
	RemotePlayerID    int    `json:"remote_player_id"`
}

type RelayStatus struct {
	RemotePlayerID    int             `json:"remote_player_id"`
	RemotePlayerLogin string          `json:"remote_player_login"`
	LocalGameUDPPort  int             `json:"local_game_udp_port"`
	ICEAgent          *ICEAgentStatus `json:"ice_agent,omitempty"`
}

// ICEAgentStatus describes the NAT-traversal session of a relay. TimeToConnected is in seconds.
type ICEAgentStatus struct {
	State           string  `json:"state"`
	Connected       bool    `json:"connected"`
	LocalCandidate  string  `json:"local_candidate"`
	RemoteCandidate string  `json:"remote_candidate"`
	TimeToConnected float64 `json:"time_to_connected"`
}
