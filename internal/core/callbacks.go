package core

import "github.com/cec-lip/lipd/internal/lipconst"

// Status is delivered to the status callback and returned by
// GetStatus; it mirrors §6's "Status callback (produced)".
type Status struct {
	DownstreamConnected bool
	UpstreamConnected   bool
	DownstreamAddr      lipconst.LogicalAddress
	DownstreamUUID      uint32
	DiscoveryState       string
	UpstreamAddrs        []lipconst.LogicalAddress
}

// Callbacks are the produced collaborators a node invokes. MergeUUID
// is required; the others are optional.
type Callbacks struct {
	// MergeUUID computes the identity transmitted upstream from this
	// node's own UUID and the (possibly unknown, signalled by
	// downstreamKnown=false) downstream UUID.
	MergeUUID func(ownUUID uint32, downstreamUUID uint32, downstreamKnown bool) uint32

	// StatusChanged fires whenever the upstream set or downstream
	// identity changes.
	StatusChanged func(Status)

	// Log is an optional printf-style diagnostic sink. When nil,
	// log/slog's default logger is used instead (see defaultLogf in
	// node.go).
	Log func(format string, args ...any)
}

func (n *Node) logf(format string, args ...any) {
	if n.cb.Log != nil {
		n.cb.Log(format, args...)
		return
	}
	n.defaultLogf(format, args...)
}

func (n *Node) mergeUUID(downstreamUUID uint32, downstreamKnown bool) uint32 {
	return n.cb.MergeUUID(n.cfg.OwnUUID, downstreamUUID, downstreamKnown)
}
