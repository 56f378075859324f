package client

// State is a client's position in the OTA cluster 0x0019 conversation.
type State int

const (
	// Idle: no transfer in progress; the client may query for an image.
	Idle State = iota
	// WaitConfirm: a response was just sent and we're waiting on the APS
	// confirm for it.
	WaitConfirm
	// WaitPageSpacing: a page transfer is in progress; the pacer is
	// emitting block responses on its own schedule.
	WaitPageSpacing
	// WaitNextRequest: a page finished; waiting for the client's next
	// block or page request.
	WaitNextRequest
	// Abort: the transfer was aborted (protocol violation or operator
	// action); the next response always carries ABORT.
	Abort
	// Error: a transient local error occurred; treated like Idle for
	// admission purposes but recorded for diagnostics.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitConfirm:
		return "WaitConfirm"
	case WaitPageSpacing:
		return "WaitPageSpacing"
	case WaitNextRequest:
		return "WaitNextRequest"
	case Abort:
		return "Abort"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}
