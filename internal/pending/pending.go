// Package pending implements the pending-request table (C3): a fixed
// array of slots indexed by initiator logical address, with the
// PENDING -> SENT -> {ANSWER_RECEIVED|ABORT_RECEIVED} -> HANDLED state
// machine and the single-SENT invariant.
//
// The monitor discipline (one mutex, one broadcast condition variable,
// waiters that re-check their own predicate in a loop) is grounded on
// the transmit-queue/receive-queue monitors of a Direwolf AX.25 port:
// a core mutex guards all slots, and state changes that could release
// a waiter broadcast on a single shared condition variable rather than
// maintaining one CV per slot.
package pending

import (
	"sync"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/wire"
)

// State is a pending-request slot's position in its lifecycle.
type State int

const (
	Empty State = iota
	Pending
	Sent
	AnswerReceived
	AbortReceived
	Handled
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Pending:
		return "PENDING"
	case Sent:
		return "SENT"
	case AnswerReceived:
		return "ANSWER_RECEIVED"
	case AbortReceived:
		return "ABORT_RECEIVED"
	case Handled:
		return "HANDLED"
	default:
		return "UNKNOWN"
	}
}

// Slot is one pending-request table entry.
type Slot struct {
	State          State
	Message        wire.Message
	Opcode         lipconst.Opcode
	ExpireTimeMs   int64
	Initiator      lipconst.LogicalAddress
	RequestedVideo format.VideoFormat
	RequestedAudio format.AudioFormat
	// Aborted is set true when Complete(addr, true) retires the slot,
	// so a blocked API caller waking from Handled can tell a downstream
	// abort/timeout apart from a successful answer.
	Aborted    bool
	generation uint64 // bumped whenever the slot is reused, to invalidate stale timer callbacks
}

// Table is the pending-request table. All access is serialized by mu;
// Cond is broadcast by every transition that could release a blocked
// waiter, per the protocol's condition-variable semantics.
type Table struct {
	mu   *sync.Mutex
	Cond *sync.Cond

	slots [lipconst.NumAddresses]Slot
}

// New creates a table sharing the given core mutex, so that pending-
// table transitions are always made under the same lock API callers
// and the bus callback already hold.
func New(coreMu *sync.Mutex) *Table {
	return &Table{mu: coreMu, Cond: sync.NewCond(coreMu)}
}

// Enqueue stores msg as PENDING in addr's slot, replacing any previous
// occupant entirely (so stale RequestedVideo/RequestedAudio/Aborted
// from an earlier occupant never leak forward) and bumping the reuse
// generation. Caller must hold the core mutex.
func (t *Table) Enqueue(addr lipconst.LogicalAddress, op lipconst.Opcode, msg wire.Message) {
	gen := t.slots[addr].generation
	t.slots[addr] = Slot{
		State:      Pending,
		Opcode:     op,
		Message:    msg,
		Initiator:  addr,
		generation: gen + 1,
	}
}

// AnySent reports whether a slot is currently SENT, and which address
// it is. Caller must hold the core mutex.
func (t *Table) AnySent() (lipconst.LogicalAddress, bool) {
	for i := range t.slots {
		if t.slots[i].State == Sent {
			return lipconst.LogicalAddress(i), true
		}
	}
	return lipconst.Unknown, false
}

// Promote scans ascending address for a PENDING slot accepted by
// accept (or any PENDING slot if accept is nil) and, if found and no
// slot is already SENT, transitions it to SENT and returns its
// address. Scanning ascending by index is the chosen, documented
// promotion order; the protocol leaves fairness unspecified. Caller
// must hold the core mutex.
func (t *Table) Promote(expireTimeMs int64, accept func(lipconst.Opcode) bool) (lipconst.LogicalAddress, bool) {
	if _, sent := t.AnySent(); sent {
		return lipconst.Unknown, false
	}
	for i := range t.slots {
		if t.slots[i].State == Pending && (accept == nil || accept(t.slots[i].Opcode)) {
			t.slots[i].State = Sent
			t.slots[i].ExpireTimeMs = expireTimeMs
			return lipconst.LogicalAddress(i), true
		}
	}
	return lipconst.Unknown, false
}

// NextPendingLatency returns the lowest-address PENDING slot carrying
// a latency-request opcode, without mutating it, so the dispatcher can
// decide whether it is now answerable from cache before committing it
// to SENT. Returns ok=false if a slot is already SENT or none qualify.
func (t *Table) NextPendingLatency() (lipconst.LogicalAddress, Slot, bool) {
	if _, sent := t.AnySent(); sent {
		return lipconst.Unknown, Slot{}, false
	}
	for i := range t.slots {
		if t.slots[i].State == Pending && t.slots[i].Opcode.IsLatencyRequest() {
			return lipconst.LogicalAddress(i), t.slots[i], true
		}
	}
	return lipconst.Unknown, Slot{}, false
}

// Get returns a copy of addr's slot. Caller must hold the core mutex.
func (t *Table) Get(addr lipconst.LogicalAddress) Slot {
	return t.slots[addr]
}

// SlotPtr returns a pointer to addr's slot for in-place mutation (for
// example, recording the requested formats of a newly-promoted slot).
// Caller must hold the core mutex.
func (t *Table) SlotPtr(addr lipconst.LogicalAddress) *Slot {
	return &t.slots[addr]
}

// Generation returns the current reuse generation of addr's slot,
// used by the timer engine to detect a stale fire.
func (t *Table) Generation(addr lipconst.LogicalAddress) uint64 {
	return t.slots[addr].generation
}

// Complete transitions addr's slot from its current terminal-pending
// state straight to HANDLED, records whether it completed via an
// abort/timeout, and broadcasts the CV so blocked waiters re-check
// their predicate. Caller must hold the core mutex.
func (t *Table) Complete(addr lipconst.LogicalAddress, aborted bool) {
	t.slots[addr].State = Handled
	t.slots[addr].Aborted = aborted
	t.Cond.Broadcast()
}

// SetState sets addr's slot state without completing it (used for the
// intermediate ANSWER_RECEIVED/ABORT_RECEIVED transitions) and
// broadcasts, since §3 requires any transition that could release a
// waiter to wake one.
func (t *Table) SetState(addr lipconst.LogicalAddress, state State) {
	t.slots[addr].State = state
	t.Cond.Broadcast()
}

// Reset clears addr's slot back to Empty, bumping its generation so
// any in-flight timer callback for the previous occupant is known
// stale.
func (t *Table) Reset(addr lipconst.LogicalAddress) {
	t.slots[addr] = Slot{generation: t.slots[addr].generation + 1}
}

// MinExpiry returns the minimum ExpireTimeMs over all SENT slots, and
// whether any SENT slot exists at all. Caller must hold the core
// mutex. In practice at most one slot is ever SENT (the single-
// outstanding-downstream-query invariant), but the scan costs nothing
// and doesn't bake that invariant into the timer engine's contract.
func (t *Table) MinExpiry() (int64, bool) {
	var min int64
	found := false
	for i := range t.slots {
		if t.slots[i].State != Sent {
			continue
		}
		if !found || t.slots[i].ExpireTimeMs < min {
			min = t.slots[i].ExpireTimeMs
			found = true
		}
	}
	return min, found
}

// Wait blocks on the shared condition variable until woken, releasing
// the core mutex for the duration. Callers must re-check their own
// slot's predicate in a loop on return, since wakeups may be spurious
// or caused by an unrelated slot's transition.
func (t *Table) Wait() {
	t.Cond.Wait()
}
