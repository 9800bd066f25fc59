package core

import (
	"fmt"

	"github.com/cec-lip/lipd/internal/discovery"
	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/pending"
	"github.com/cec-lip/lipd/internal/wire"
)

// awaitOwnRequest is the shared blocking core of §4.7's synchronous
// query API: it enqueues req under this node's own address exactly as
// if it had arrived from a peer (§2's "as if the caller itself were a
// peer"), drives it through the same dispatch path as C5, and blocks
// on the pending-requests CV until that slot reaches HANDLED. It
// returns the final resolution (recomputed against the now-current
// cache) or ErrAborted/ErrClosed.
func (n *Node) awaitOwnRequest(req latencyRequest, msg wire.Message) (resolution, error) {
	own := n.cfg.OwnAddr

	for {
		if n.closed {
			return resolution{}, ErrClosed
		}
		slot := n.pending.Get(own)
		switch slot.State {
		case pending.Handled:
			aborted := slot.Aborted
			n.pending.Reset(own)
			if aborted {
				return resolution{}, ErrAborted
			}
			// force=true: §4.7's public API always forces a downstream
			// ask and reports the raw downstream-only latency, even for
			// a dimension this node renders itself.
			return n.resolve(req, true), nil
		case pending.Empty:
			n.handleLatencyRequest(own, msg)
		default:
			n.pending.Wait()
		}
	}
}

// GetAVLatency implements §4.7's get_av_latency: the raw downstream-
// only latency for both dimensions, forcing a downstream query even
// for a dimension this node renders itself (force_local). The caller
// composes this with its own contribution.
func (n *Node) GetAVLatency(video format.VideoFormat, audio format.AudioFormat) (uint8, uint8, error) {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	if n.closed {
		return 0, 0, ErrClosed
	}
	if n.cfg.DownstreamAddr == lipconst.Unknown {
		return 0, 0, ErrDownstreamUnknown
	}

	req := latencyRequest{wantVideo: true, wantAudio: true, video: video, audio: audio}
	r, err := n.awaitOwnRequest(req, wire.RequestAVLatency{Video: video, Audio: audio})
	if err != nil {
		return 0, 0, err
	}
	return r.videoLatency, r.audioLatency, nil
}

// GetVideoLatency implements the single-dimension video variant.
func (n *Node) GetVideoLatency(video format.VideoFormat) (uint8, error) {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	if n.closed {
		return 0, ErrClosed
	}
	if n.cfg.DownstreamAddr == lipconst.Unknown {
		return 0, ErrDownstreamUnknown
	}

	req := latencyRequest{wantVideo: true, video: video}
	r, err := n.awaitOwnRequest(req, wire.RequestVideoLatency{Video: video})
	if err != nil {
		return 0, err
	}
	return r.videoLatency, nil
}

// GetAudioLatency implements the single-dimension audio variant.
func (n *Node) GetAudioLatency(audio format.AudioFormat) (uint8, error) {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	if n.closed {
		return 0, ErrClosed
	}
	if n.cfg.DownstreamAddr == lipconst.Unknown {
		return 0, ErrDownstreamUnknown
	}

	req := latencyRequest{wantAudio: true, audio: audio}
	r, err := n.awaitOwnRequest(req, wire.RequestAudioLatency{Audio: audio})
	if err != nil {
		return 0, err
	}
	return r.audioLatency, nil
}

// CurrentConfig returns a snapshot of the node's protocol config, for
// callers (e.g. internal/httpapi's PATCH /config) that need to carry
// forward fields — notably the latency tables — a partial edit
// doesn't touch.
func (n *Node) CurrentConfig() Config {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()
	return n.cfg
}

// GetStatus implements §4.7's get_status: if waitForDiscovery, block
// on the discovery state-updated CV until discovery settles; otherwise
// sample immediately.
func (n *Node) GetStatus(waitForDiscovery bool) Status {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	if waitForDiscovery {
		n.disc.WaitForSettled()
	}
	return n.statusLocked()
}

// statusLocked builds a Status snapshot. Caller must hold coreMu.
func (n *Node) statusLocked() Status {
	return Status{
		DownstreamConnected: n.downstreamKnown,
		UpstreamConnected:   n.isHub(),
		DownstreamAddr:      n.cfg.DownstreamAddr,
		DownstreamUUID:      n.downstreamUUID,
		DiscoveryState:      n.disc.State.String(),
		UpstreamAddrs:       n.snapshotUpstream(),
	}
}

// SetConfig implements §4.7's set_config: validates the forbidden-
// change-without-UUID-change rule, resets discovery on a downstream
// change or forced rediscovery, applies upstream-peer removal, and
// propagates a UUID change to already-established upstream peers.
func (n *Node) SetConfig(newCfg *Config, forceDiscovery bool, removeUpstreamAddr lipconst.LogicalAddress) error {
	n.coreMu.Lock()
	defer n.coreMu.Unlock()

	if n.closed {
		return ErrClosed
	}

	prev := n.cfg
	next := prev
	uuidChanged := false
	downstreamChanged := false

	if newCfg != nil {
		if err := newCfg.Validate(); err != nil {
			return err
		}
		uuidChanged = newCfg.OwnUUID != prev.OwnUUID

		prevFp, err := prev.Fingerprint()
		if err != nil {
			return fmt.Errorf("core: set_config: fingerprint previous config: %w", err)
		}
		nextFp, err := newCfg.Fingerprint()
		if err != nil {
			return fmt.Errorf("core: set_config: fingerprint next config: %w", err)
		}
		if nextFp != prevFp && !uuidChanged {
			return ErrForbiddenConfigEdit
		}
		downstreamChanged = newCfg.DownstreamAddr != prev.DownstreamAddr
		next = *newCfg
	}

	n.cfg = next

	if removeUpstreamAddr != lipconst.Unknown {
		n.removeUpstreamLocked(removeUpstreamAddr)
	}

	if downstreamChanged || forceDiscovery {
		n.disc.Transition(discovery.Init)
		n.cache.Clear(true, true)
	}

	if uuidChanged && n.isHub() {
		merged := n.mergeUUID(n.downstreamUUID, n.downstreamKnown)
		for _, addr := range n.snapshotUpstream() {
			n.sendUpdateUUID(addr, merged)
		}
	}

	n.fireStatusChanged()
	return nil
}

// removeUpstreamLocked implements the remove_upstream_addr rule: a
// concrete address removes just that peer, BROADCAST removes all,
// UNKNOWN (filtered by the caller already) removes none.
func (n *Node) removeUpstreamLocked(addr lipconst.LogicalAddress) {
	if addr == lipconst.Broadcast {
		n.upstream = [lipconst.NumAddresses]bool{}
		return
	}
	if addr.Valid() {
		n.upstream[addr] = false
	}
}
