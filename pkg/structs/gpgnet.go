package structs

// Game-control headers and states the adapter reacts to.
const (
	GameStateHeader = "GameState"
	GameStateIdle   = "Idle"
	GameStateLobby  = "Lobby"
)

// GPGNetMessage is a single game-control message: a header followed by ordered chunks.
// Chunks are either int32 or string values.
type GPGNetMessage struct {
	Header string `json:"header" validate:"required" label:"header"`
	Chunks []any  `json:"chunks" label:"chunks"`
}

// GPGNet connection states as reported to the control API.
type ConnectionState uint

const (
	Disconnected ConnectionState = iota
	Connected
)

func (c ConnectionState) String() string {
	if c == Connected {
		return "Connected"
	}
	return "Disconnected"
}
