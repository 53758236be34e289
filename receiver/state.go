package receiver

// State is the receiver's playback state machine:
// IDLE -> PLAYING (once the flush/sync gate admits a packet) -> PAUSED -> PLAYING ...
// A FLUSH with silence=false drops straight back to IDLE; a FLUSH with
// silence=true (a pause) moves to PAUSED without discarding synchro state.
// The engine never enters Buffering.
type State int

const (
	Idle State = iota
	Buffering
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Buffering:
		return "BUFFERING"
	case Playing:
		return "PLAYING"
	case Paused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}
