// Package bus declares the CEC transport the protocol core consumes.
// The physical/data-link layer itself is out of scope (§1); this is
// only the send primitive and receive registration the core needs.
package bus

import "github.com/cec-lip/lipd/internal/lipconst"

// Frame is one CEC VENDOR_COMMAND_WITH_ID (or Feature Abort) message,
// addressed between two logical addresses.
type Frame struct {
	Initiator   lipconst.LogicalAddress
	Destination lipconst.LogicalAddress
	Payload     []byte
}

// Bus is the send/receive primitive the core is opened with. The core
// calls Transmit with its own core mutex held; an implementation must
// not call back into the registered receive function synchronously
// from within Transmit, or it will deadlock against itself.
type Bus interface {
	// Transmit sends f and reports whether it was accepted onto the
	// wire (the core treats failure as "logged, pending slot times
	// out normally" per §7, not as a hard error).
	Transmit(f Frame) bool
	// RegisterReceive installs the core's receive callback. Called
	// once at open. The callback returns true if it consumed the
	// frame, false otherwise (e.g. frames without the LIP vendor tag).
	RegisterReceive(fn func(Frame) bool)
}
