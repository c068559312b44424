package constants

// Version is reported by the status command.
var Version = "0.1.0"

// ReservedPlayerID marks an internal relay whose signaling and state are never forwarded.
const ReservedPlayerID = -1

// LoopbackHost is the only address relay sockets and local servers bind to.
const LoopbackHost = "127.0.0.1"
