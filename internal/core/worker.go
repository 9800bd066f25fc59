package core

import (
	"time"

	"github.com/cec-lip/lipd/internal/discovery"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/pending"
	"github.com/cec-lip/lipd/internal/timerengine"
	"github.com/cec-lip/lipd/internal/wire"
)

// workerLoop is the background discovery thread of §4.4 / §5. It holds
// the core mutex for every iteration of its state machine, releasing
// it only while blocked on the discovery CV, and exits once
// workerStop is closed.
func (n *Node) workerLoop() {
	defer close(n.workerDone)

	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	for {
		if n.stopping() {
			return
		}

		switch n.disc.State {
		case discovery.Init:
			n.runInit()
		case discovery.WaitForReply:
			// WaitForReply is driven by receive() (REPORT_LIP_SUPPORT,
			// Feature Abort) or by the timer firing; the worker just
			// waits for one of those to move the state along.
			n.disc.Wait()
		case discovery.Supported:
			n.drainPendingLIPSupport()
			n.disc.Wait()
		case discovery.Unsupported:
			n.refusePendingLIPSupport()
			n.disc.Wait()
		}
	}
}

func (n *Node) stopping() bool {
	select {
	case <-n.workerStop:
		return true
	default:
		return false
	}
}

// runInit implements §4.4's INIT row: a node with a configured
// downstream transmits REQUEST_LIP_SUPPORT and waits; a sink with no
// downstream is trivially SUPPORTED.
func (n *Node) runInit() {
	if n.cfg.DownstreamAddr == lipconst.Unknown {
		n.disc.Transition(discovery.Supported)
		n.fireStatusChanged()
		return
	}

	n.encodeAndSend(n.cfg.DownstreamAddr, wire.RequestLIPSupport{})
	n.disc.Transition(discovery.WaitForReply)
	n.timer.Set(time.Duration(n.discoveryTimeout()) * time.Millisecond)
}

// onDiscoveryTimeout is invoked (via onTimerFire) when the WAIT_FOR_REPLY
// timeout expires without a settling event. It implements §4.4's
// WAIT_FOR_REPLY timeout branch, including the TV->AudioSystem
// "successful transmit implies support" quirk of Open Question 1.
func (n *Node) onDiscoveryTimeout() {
	if n.disc.State != discovery.WaitForReply {
		return
	}
	if n.isImplicitSupportQuirk() {
		n.disc.Transition(discovery.Supported)
	} else {
		n.disc.Transition(discovery.Unsupported)
	}
	n.fireStatusChanged()
}

// isImplicitSupportQuirk implements §4.4's special case and Open
// Question 1: when this node is the TV and its configured downstream
// is the audio system, a successful transmit of REQUEST_LIP_SUPPORT
// alone (i.e. no Feature Abort came back before the timeout) is taken
// as support, and enables the IEC decoding-delay offset of §4.5. This
// quirk is kept exactly as described rather than requiring an explicit
// REPORT_LIP_SUPPORT handshake, isolated here so it can be disabled in
// one place.
func (n *Node) isImplicitSupportQuirk() bool {
	return n.cfg.OwnAddr == lipconst.TV && n.cfg.DownstreamAddr == lipconst.AudioSystem
}

// refusePendingLIPSupport answers every buffered REQUEST_LIP_SUPPORT
// with Feature Abort(REFUSED), per §4.4's UNSUPPORTED row.
func (n *Node) refusePendingLIPSupport() {
	for addr := 0; addr < lipconst.NumAddresses; addr++ {
		a := lipconst.LogicalAddress(addr)
		slot := n.pending.Get(a)
		if slot.State != pending.Pending || slot.Opcode != lipconst.RequestLIPSupport {
			continue
		}
		n.pending.Reset(a)
		n.sendAbort(a, lipconst.RequestLIPSupport, lipconst.Refused)
	}
}

// onTimerFire is the timer engine's fire callback (C6). It try-locks
// the core mutex per §4.6/§5 so it never blocks against a synchronous
// caller holding it; on failure it reschedules a short retry instead
// of blocking.
func (n *Node) onTimerFire(generation uint64) {
	if !n.coreMu.TryLock() {
		n.timer.Set(timerengine.RetryDelay)
		return
	}
	defer n.coreMu.Unlock()

	if generation != n.timer.Current() {
		return // superseded by a later Set/Cancel
	}

	if n.disc.State == discovery.WaitForReply {
		n.onDiscoveryTimeout()
		return
	}

	if addr, ok := n.pending.AnySent(); ok {
		n.onLatencyTimeout(addr)
	}
}

// onLatencyTimeout implements §4.6's fire behaviour for the SENT
// slot: transmit Feature Abort(REFUSED) upstream (unless the slot was
// a locally-issued API query, which has no wire peer to abort to) and
// complete the slot.
func (n *Node) onLatencyTimeout(addr lipconst.LogicalAddress) {
	if addr != n.cfg.OwnAddr {
		n.sendAbort(addr, n.pending.Get(addr).Opcode, lipconst.Refused)
	}
	n.completeSentAsAbort(addr)
}

// completeSentAsAbort transitions addr's SENT slot through
// ABORT_RECEIVED to HANDLED and promotes the next PENDING slot, if
// any, arming the timer for it.
func (n *Node) completeSentAsAbort(addr lipconst.LogicalAddress) {
	n.pending.SetState(addr, pending.AbortReceived)
	n.pending.Complete(addr, true)
	n.pumpPending()
}
