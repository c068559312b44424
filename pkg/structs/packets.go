package structs

import "github.com/goccy/go-json"

// Declare the packet format for control API requests and notifications (JSON-RPC 2.0).
type RPCPacket struct {
	Version string            `json:"jsonrpc" validate:"required,eq=2.0" label:"jsonrpc"` // Required for protocol compliance
	Method  string            `json:"method" validate:"required" label:"method"`          // Required for protocol compliance
	Params  []json.RawMessage `json:"params,omitempty" label:"params"`
	ID      any               `json:"id,omitempty" label:"id"` // Absent for notifications
}

// Declare the packet format for control API responses.
type RPCResponse struct {
	Version string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

// Declare the packet format for notifications pushed to control clients.
type RPCNotification struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes used by the control API.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeCommandFailed  = -32000
)

// Declare the parameter formats for every control API method.
type HostGameParams struct {
	MapName string `validate:"required" label:"mapName"`
}

type JoinGameParams struct {
	RemotePlayerLogin string `label:"remotePlayerLogin"`
	RemotePlayerID    int    `label:"remotePlayerId"`
}

type ConnectToPeerParams struct {
	RemotePlayerLogin string `label:"remotePlayerLogin"`
	RemotePlayerID    int    `label:"remotePlayerId"`
	CreateOffer       bool   `label:"createOffer"`
}

type PeerParams struct {
	RemotePlayerID int `label:"remotePlayerId"`
}

type SdpParams struct {
	RemotePlayerID int    `label:"remotePlayerId"`
	Type           string `validate:"required,oneof=offer answer candidate" label:"type"`
	Message        string `label:"msg"`
}

type GPGNetParams struct {
	Header string `validate:"required" label:"header"`
	Chunks []any  `validate:"required" label:"chunks"`
}
