// Package session wires the wire/message/transport/edge/clipboard/
// adaptive/platform packages into the two peer roles described in
// spec §4.5/§4.8: the Controller session and the Capture session, plus
// the shared control-handoff state machine.
package session

// ControlState is the handoff state machine's two states (§4.5).
type ControlState int

const (
	// StateLocal: the Controller owns local input; no events are sent.
	StateLocal ControlState = iota
	// StateRemote: the Controller forwards input to the Capture side.
	StateRemote
)

func (s ControlState) String() string {
	if s == StateRemote {
		return "remote"
	}
	return "local"
}
