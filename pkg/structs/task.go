package structs

// TaskState tracks the deferred host/join instruction for the current game connection session.
type TaskState uint

const (
	NoTask TaskState = iota
	ShouldHostGame
	SentHostGame
	ShouldJoinGame
	SentJoinGame
)

func (t TaskState) String() string {
	switch t {
	case NoTask:
		return "NoTask"
	case ShouldHostGame:
		return "ShouldHostGame"
	case SentHostGame:
		return "SentHostGame"
	case ShouldJoinGame:
		return "ShouldJoinGame"
	case SentJoinGame:
		return "SentJoinGame"
	}
	return "Unknown"
}

// AmIIdle reports whether a new hostGame/joinGame may be accepted.
func (t TaskState) AmIIdle() bool {
	return t == NoTask
}

func (t TaskState) AmIHosting() bool {
	return t == ShouldHostGame || t == SentHostGame
}

func (t TaskState) AmIJoining() bool {
	return t == ShouldJoinGame || t == SentJoinGame
}
