package core

import (
	"context"
	"errors"

	"github.com/cec-lip/lipd/internal/bus"
	"github.com/cec-lip/lipd/internal/discovery"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/pending"
	"github.com/cec-lip/lipd/internal/wire"
)

// receive is the bus's registered receive callback (C5's entrypoint).
// It holds the core mutex for its whole body, so cache writes and
// pending-table transitions triggered by the same inbound frame are
// atomic from any waiter's perspective.
func (n *Node) receive(f bus.Frame) bool {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	if n.closed {
		return false
	}

	if len(f.Payload) == 2 {
		if abort, err := wire.DecodeFeatureAbort(f.Payload); err == nil {
			n.handleFeatureAbort(f.Initiator, abort)
			return true
		}
	}

	msg, err := wire.Decode(f.Payload)
	if err != nil {
		if errors.Is(err, wire.ErrNotLIP) {
			return false
		}
		var de *wire.DecodeError
		if errors.As(err, &de) {
			n.sendAbort(f.Initiator, lipconst.Opcode(0), de.Reason)
		}
		return true
	}

	if f.Destination == lipconst.Broadcast || f.Initiator == lipconst.Broadcast {
		return true
	}
	if f.Destination != n.cfg.OwnAddr {
		return false
	}

	if !n.opcodeAllowedInState(msg.Opcode()) {
		n.sendAbort(f.Initiator, msg.Opcode(), lipconst.NotInCorrectModeToRespond)
		return true
	}

	n.dispatch(f.Initiator, msg)
	return true
}

// opcodeAllowedInState implements the opcode-to-validity-by-state
// table of §4.5 as static data rather than a switch ladder per §9's
// design note, expressed here as a small predicate since the table
// has exactly two rows.
func (n *Node) opcodeAllowedInState(op lipconst.Opcode) bool {
	if lipconst.ValidOutsideSupported(op) {
		return n.disc.State != discovery.Unsupported
	}
	return n.disc.State == discovery.Supported
}

func (n *Node) dispatch(initiator lipconst.LogicalAddress, msg wire.Message) {
	switch m := msg.(type) {
	case wire.RequestLIPSupport:
		n.handleRequestLIPSupport(initiator)
	case wire.ReportLIPSupport:
		n.handleDownstreamIdentity(initiator, m.UUID, false)
	case wire.UpdateUUID:
		n.handleDownstreamIdentity(initiator, m.UUID, true)
	case wire.RequestAVLatency:
		n.handleLatencyRequest(initiator, m)
	case wire.RequestAudioLatency:
		n.handleLatencyRequest(initiator, m)
	case wire.RequestVideoLatency:
		n.handleLatencyRequest(initiator, m)
	case wire.ReportAVLatency:
		n.handleLatencyReport(lipconst.ReportAVLatency, m.VideoLatency, m.AudioLatency, true, true)
	case wire.ReportAudioLatency:
		n.handleLatencyReport(lipconst.ReportAudioLatency, 0, m.AudioLatency, false, true)
	case wire.ReportVideoLatency:
		n.handleLatencyReport(lipconst.ReportVideoLatency, m.VideoLatency, 0, true, false)
	}
}

// handleRequestLIPSupport implements §4.5's REQUEST_LIP_SUPPORT rule:
// answer immediately from SUPPORTED, otherwise buffer as PENDING for
// the worker to drain once discovery settles.
func (n *Node) handleRequestLIPSupport(initiator lipconst.LogicalAddress) {
	if n.disc.State == discovery.Supported {
		n.addUpstream(initiator)
		merged := n.mergeUUID(n.downstreamUUID, n.downstreamKnown)
		n.sendReportLIPSupport(initiator, merged)
		return
	}
	n.pending.Enqueue(initiator, lipconst.RequestLIPSupport, wire.RequestLIPSupport{})
}

func (n *Node) addUpstream(addr lipconst.LogicalAddress) {
	if addr.Valid() && !n.upstream[addr] {
		n.upstream[addr] = true
		n.fireStatusChanged()
	}
}

func (n *Node) isHub() bool {
	for _, present := range n.upstream {
		if present {
			return true
		}
	}
	return false
}

func (n *Node) discoveryTimeout() (ms int64) {
	if n.isHub() {
		return discovery.HubTimeout.Milliseconds()
	}
	return discovery.SourceTimeout.Milliseconds()
}

// handleDownstreamIdentity implements the shared REPORT_LIP_SUPPORT /
// UPDATE_UUID acceptance path of §4.5: validate the source and the
// opcode's state precondition, rotate the cache (C2), settle
// discovery, drain buffered upstream REQUEST_LIP_SUPPORT slots, and
// propagate the new identity to already-established upstream peers.
func (n *Node) handleDownstreamIdentity(initiator lipconst.LogicalAddress, uuid uint32, isUpdate bool) {
	op := lipconst.ReportLIPSupport
	if isUpdate {
		op = lipconst.UpdateUUID
	}

	if initiator != n.cfg.DownstreamAddr {
		n.sendAbort(initiator, op, lipconst.NotInCorrectModeToRespond)
		return
	}
	if isUpdate && n.disc.State != discovery.Supported {
		n.sendAbort(initiator, op, lipconst.NotInCorrectModeToRespond)
		return
	}
	if !isUpdate && n.disc.State == discovery.Supported {
		n.sendAbort(initiator, op, lipconst.NotInCorrectModeToRespond)
		return
	}

	alreadyUpstream := n.snapshotUpstream()

	if err := n.cache.Rotate(context.Background(), uuid); err != nil {
		n.logf("cache rotate failed: %v", err)
	}
	n.downstreamKnown = true
	n.downstreamUUID = uuid

	n.disc.Transition(discovery.Supported)
	n.fireStatusChanged()

	n.drainPendingLIPSupport()

	if n.isHub() {
		merged := n.mergeUUID(uuid, true)
		for _, addr := range alreadyUpstream {
			if isUpdate {
				n.sendUpdateUUID(addr, merged)
			} else {
				n.sendReportLIPSupport(addr, merged)
			}
		}
	}
}

func (n *Node) snapshotUpstream() []lipconst.LogicalAddress {
	var addrs []lipconst.LogicalAddress
	for addr, present := range n.upstream {
		if present {
			addrs = append(addrs, lipconst.LogicalAddress(addr))
		}
	}
	return addrs
}

// drainPendingLIPSupport answers every upstream peer whose
// REQUEST_LIP_SUPPORT was buffered in PENDING while discovery was
// unsettled, per §4.4's SUPPORTED/UNSUPPORTED drain behaviour. It is
// the "reentrant handler call inside the pending-request drain" §9
// warns about: it reuses the same reply path handleRequestLIPSupport
// would take, but does not alter any slot's expire time because these
// slots never carried one (REQUEST_LIP_SUPPORT never arms the timer).
func (n *Node) drainPendingLIPSupport() {
	for addr := 0; addr < lipconst.NumAddresses; addr++ {
		a := lipconst.LogicalAddress(addr)
		slot := n.pending.Get(a)
		if slot.State != pending.Pending || slot.Opcode != lipconst.RequestLIPSupport {
			continue
		}
		n.pending.Reset(a)
		if n.disc.State == discovery.Supported {
			n.addUpstream(a)
			merged := n.mergeUUID(n.downstreamUUID, n.downstreamKnown)
			n.sendReportLIPSupport(a, merged)
		} else {
			n.sendAbort(a, lipconst.RequestLIPSupport, lipconst.Refused)
		}
	}
}

func (n *Node) handleFeatureAbort(initiator lipconst.LogicalAddress, abort wire.FeatureAbort) {
	// A Feature Abort from our configured downstream in WAIT_FOR_REPLY,
	// matching our sent REQUEST_LIP_SUPPORT, settles discovery.
	if n.disc.State == discovery.WaitForReply && initiator == n.cfg.DownstreamAddr && abort.AbortedOpcode == lipconst.RequestLIPSupport {
		n.disc.Transition(discovery.Unsupported)
		n.fireStatusChanged()
		return
	}
	// Otherwise this is a downstream refusal of an outstanding latency
	// query: complete the unique SENT slot as aborted. Only our
	// configured downstream can abort a query we sent it.
	if initiator != n.cfg.DownstreamAddr {
		return
	}
	addr, ok := n.pending.AnySent()
	if !ok {
		return
	}
	n.completeSentAsAbort(addr)
}

func (n *Node) fireStatusChanged() {
	if n.cb.StatusChanged == nil {
		return
	}
	status := n.statusLocked()
	go n.cb.StatusChanged(status)
}

func (n *Node) sendAbort(dest lipconst.LogicalAddress, aborted lipconst.Opcode, reason lipconst.AbortReason) {
	payload, err := wire.Encode(wire.FeatureAbort{AbortedOpcode: aborted, Reason: reason})
	if err != nil {
		n.logf("failed to encode feature abort: %v", err)
		return
	}
	n.transmit(dest, payload)
}

func (n *Node) sendReportLIPSupport(dest lipconst.LogicalAddress, uuid uint32) {
	n.encodeAndSend(dest, wire.ReportLIPSupport{Version: 0, UUID: uuid})
}

func (n *Node) sendUpdateUUID(dest lipconst.LogicalAddress, uuid uint32) {
	n.encodeAndSend(dest, wire.UpdateUUID{Version: 0, UUID: uuid})
}

func (n *Node) encodeAndSend(dest lipconst.LogicalAddress, msg wire.Message) {
	payload, err := wire.Encode(msg)
	if err != nil {
		n.logf("failed to encode %s: %v", msg.Opcode(), err)
		return
	}
	n.transmit(dest, payload)
}

func (n *Node) transmit(dest lipconst.LogicalAddress, payload []byte) {
	ok := n.bus.Transmit(bus.Frame{Initiator: n.cfg.OwnAddr, Destination: dest, Payload: payload})
	if !ok {
		n.logf("transmit to %d failed; relying on timeout path", dest)
	}
}
