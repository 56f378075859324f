package protocol

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when an inbound frame is shorter than its
// command requires. Grounded on spec.md §9's "length-checked reader that
// fails explicitly" design note.
var ErrTruncated = errors.New("protocol: truncated frame")

// Violation records a StateViolation: an unexpected client command in the
// client's current state. It is logged and answered per §4.4; it is never
// propagated to an external caller and never tears down other clients.
// Grounded on pkg/driver/errors.go's HailoError{Status, Context, Cause}
// shape.
type Violation struct {
	ExtAddr   uint64
	CommandID uint8
	Reason    string
	Cause     error
}

func (v *Violation) Error() string {
	if v.Cause != nil {
		return fmt.Sprintf("protocol: violation from %016X on cmd 0x%02X: %s: %v", v.ExtAddr, v.CommandID, v.Reason, v.Cause)
	}
	return fmt.Sprintf("protocol: violation from %016X on cmd 0x%02X: %s", v.ExtAddr, v.CommandID, v.Reason)
}

func (v *Violation) Unwrap() error { return v.Cause }
