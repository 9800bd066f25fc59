package core

import (
	"time"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/pending"
	"github.com/cec-lip/lipd/internal/wire"
)

// nowMs returns the current wall-clock time in milliseconds, the one
// place the core reaches for real time instead of treating it as an
// OS-abstraction collaborator (§1 scopes monotonic time out, but this
// is a runnable library, not just the protocol core in isolation).
func (n *Node) nowMs() int64 {
	return time.Now().UnixMilli()
}

// isLatencyOpcode is the Promote/NextPendingLatency filter: only the
// three latency-request opcodes ever occupy a SENT slot.
func isLatencyOpcode(op lipconst.Opcode) bool { return op.IsLatencyRequest() }

// downstreamPresent reports whether this node has a configured
// downstream neighbour at all, the gate both need_downstream formulas
// of §4.5 share.
func (n *Node) downstreamPresent() bool {
	return n.cfg.DownstreamAddr != lipconst.Unknown
}

// needDownstreamVideo/needDownstreamAudio implement §4.5's formulas
// without their "force_local" term. That term is carried instead by
// resolve's force parameter, which is true for requests issued under
// this node's own address (the public Get*Latency API).
func (n *Node) needDownstreamVideo() bool {
	return !n.cfg.RenderMode.IsVideoRenderer() && n.downstreamPresent()
}

func (n *Node) needDownstreamAudio() bool {
	return !n.cfg.RenderMode.IsAudioRenderer() && n.downstreamPresent()
}

// downstreamAudioFormat returns the format a downstream audio query
// must carry: the configured transcoding format when enabled, else
// the requester's own format, per §4.5's transcoding rule (S6).
func (n *Node) downstreamAudioFormat(requested format.AudioFormat) format.AudioFormat {
	if n.cfg.AudioTranscoding {
		return n.cfg.TranscodingFormat
	}
	return requested
}

// ownVideoAddition and ownAudioAddition return this node's own
// contribution to a composed latency: its configured own-latency
// table entry for the format, plus (for audio) the IEC decoding-delay
// offset of §4.5 when this node is the TV immediately upstream of an
// audio system.
func (n *Node) ownVideoAddition(f format.VideoFormat) uint8 {
	return n.cfg.OwnVideoLatency(f)
}

func (n *Node) ownAudioAddition(f format.AudioFormat) uint8 {
	own := n.cfg.OwnAudioLatency(f)
	if n.cfg.OwnAddr == lipconst.TV && n.cfg.DownstreamAddr == lipconst.AudioSystem {
		own = lipconst.SumLatency(own, lipconst.IECDecodingDelay(f.Codec))
	}
	return own
}

// latencyRequest is the normalized view of a REQUEST_AV/AUDIO/VIDEO
// LATENCY message, independent of which of the three wire shapes
// carried it.
type latencyRequest struct {
	wantVideo bool
	wantAudio bool
	video     format.VideoFormat
	audio     format.AudioFormat
}

func parseLatencyRequest(msg wire.Message) (latencyRequest, bool) {
	switch m := msg.(type) {
	case wire.RequestAVLatency:
		return latencyRequest{wantVideo: true, wantAudio: true, video: m.Video, audio: m.Audio}, true
	case wire.RequestVideoLatency:
		return latencyRequest{wantVideo: true, video: m.Video}, true
	case wire.RequestAudioLatency:
		return latencyRequest{wantAudio: true, audio: m.Audio}, true
	default:
		return latencyRequest{}, false
	}
}

// resolution is the outcome of attempting to answer a latencyRequest
// from this node's own tables and cache alone.
type resolution struct {
	resolved     bool
	videoLatency uint8
	audioLatency uint8
	missingVideo bool
	missingAudio bool
}

// resolve attempts to answer req without a downstream round trip. For
// a wire-originated request (force false), a dimension this node
// renders itself is always answered directly from its own latency
// table, composed with any cached downstream contribution only when
// this node also needs one downstream of it. For a locally-issued
// public API query (force true, §4.7's force_local: "ask downstream
// regardless of whether this node itself renders the dimension"), a
// dimension is resolved only from a cached downstream measurement,
// returned raw and uncomposed — the caller, not this node, composes it
// with its own contribution.
func (n *Node) resolve(req latencyRequest, force bool) resolution {
	var r resolution

	if req.wantVideo {
		switch {
		case force && n.downstreamPresent():
			if v, ok := n.cache.GetVideo(req.video); ok {
				r.videoLatency = v
			} else {
				r.missingVideo = true
			}
		case n.needDownstreamVideo():
			if v, ok := n.cache.GetVideo(req.video); ok {
				r.videoLatency = lipconst.SumLatency(n.ownVideoAddition(req.video), v)
			} else {
				r.missingVideo = true
			}
		default:
			r.videoLatency = n.ownVideoAddition(req.video)
		}
	}

	if req.wantAudio {
		dsFmt := n.downstreamAudioFormat(req.audio)
		switch {
		case force && n.downstreamPresent():
			if v, ok := n.cache.GetAudio(dsFmt); ok {
				r.audioLatency = v
			} else {
				r.missingAudio = true
			}
		case n.needDownstreamAudio():
			if v, ok := n.cache.GetAudio(dsFmt); ok {
				r.audioLatency = lipconst.SumLatency(n.ownAudioAddition(req.audio), v)
			} else {
				r.missingAudio = true
			}
		default:
			r.audioLatency = n.ownAudioAddition(req.audio)
		}
	}

	r.resolved = !r.missingVideo && !r.missingAudio
	return r
}

// replyFor builds the Report* message matching req's shape from a
// resolved resolution.
func replyFor(req latencyRequest, r resolution) wire.Message {
	switch {
	case req.wantVideo && req.wantAudio:
		return wire.ReportAVLatency{VideoLatency: r.videoLatency, AudioLatency: r.audioLatency}
	case req.wantVideo:
		return wire.ReportVideoLatency{VideoLatency: r.videoLatency}
	default:
		return wire.ReportAudioLatency{AudioLatency: r.audioLatency}
	}
}

// downstreamQueryFor builds the narrowest downstream query covering
// r's missing dimensions, per §4.5: AV if both miss, else just the
// missing one.
func (n *Node) downstreamQueryFor(req latencyRequest, r resolution) wire.Message {
	switch {
	case r.missingVideo && r.missingAudio:
		return wire.RequestAVLatency{Video: req.video, Audio: n.downstreamAudioFormat(req.audio)}
	case r.missingVideo:
		return wire.RequestVideoLatency{Video: req.video}
	default:
		return wire.RequestAudioLatency{Audio: n.downstreamAudioFormat(req.audio)}
	}
}

// handleLatencyRequest implements §4.5's REQUEST_AV/AUDIO/VIDEO_LATENCY
// handling: enqueue into the pending table under initiator's slot and
// let pumpPending decide whether it can be answered immediately or
// must be promoted to SENT.
func (n *Node) handleLatencyRequest(initiator lipconst.LogicalAddress, msg wire.Message) {
	n.pending.Enqueue(initiator, msg.Opcode(), msg)
	if req, ok := parseLatencyRequest(msg); ok {
		slot := n.pending.SlotPtr(initiator)
		if req.wantVideo {
			slot.RequestedVideo = req.video
		}
		if req.wantAudio {
			slot.RequestedAudio = req.audio
		}
	}
	n.pumpPending()
}

// pumpPending drains cache-resolvable PENDING latency requests
// immediately (§4.3's "if the promoted request can be answered
// entirely from cache, it is completed without going to the wire") and
// promotes the next genuinely outstanding one to SENT, arming the
// timer and transmitting the narrowest covering downstream query. It
// is called after enqueueing a fresh request and after any SENT slot
// completes, so the table never sits on a resolvable PENDING entry.
func (n *Node) pumpPending() {
	for {
		addr, slot, ok := n.pending.NextPendingLatency()
		if !ok {
			return
		}
		req, ok := parseLatencyRequest(slot.Message)
		if !ok {
			n.pending.Reset(addr)
			continue
		}

		force := addr == n.cfg.OwnAddr
		r := n.resolve(req, force)
		if r.resolved {
			n.replyToLatencyRequester(addr, req, r)
			// HANDLED, not reset: a locally-issued (own-address) slot
			// must be observed by its waiter in awaitOwnRequest before
			// it is cleared, or the caller spins forever re-enqueueing
			// a request that immediately resolves and never reaches a
			// state its wait loop treats as terminal.
			n.pending.Complete(addr, false)
			continue
		}

		expire := n.nowMs() + n.discoveryTimeout()
		promoted, ok := n.pending.Promote(expire, isLatencyOpcode)
		if !ok || promoted != addr {
			return // another slot raced to SENT first; stop for now
		}
		n.sentVideo, n.sentAudio = r.missingVideo, r.missingAudio
		if r.missingVideo {
			n.sentVideoFmt = req.video
		}
		if r.missingAudio {
			n.sentAudioFmt = n.downstreamAudioFormat(req.audio)
		}
		n.encodeAndSend(n.cfg.DownstreamAddr, n.downstreamQueryFor(req, r))
		n.timer.Set(time.Duration(n.discoveryTimeout()) * time.Millisecond)
		return
	}
}

// replyToLatencyRequester transmits a Report* message upstream, unless
// the requester is this node's own address (a locally-issued public
// API query, per §4.7, which has no wire peer and reads the cache
// directly instead).
func (n *Node) replyToLatencyRequester(addr lipconst.LogicalAddress, req latencyRequest, r resolution) {
	if addr == n.cfg.OwnAddr {
		return
	}
	n.encodeAndSend(addr, replyFor(req, r))
}

// handleLatencyReport implements §4.5's REPORT_AV/AUDIO/VIDEO_LATENCY
// handling: store the measured values under the remembered requested
// formats, then resolve the unique SENT slot if its opcode is
// compatible with the report, replying upstream (or letting a blocked
// local API caller observe the cache) and promoting the next pending
// request.
func (n *Node) handleLatencyReport(reportOp lipconst.Opcode, videoLatency, audioLatency uint8, hasVideo, hasAudio bool) {
	if hasVideo && n.sentVideo {
		n.cache.SetVideo(n.sentVideoFmt, videoLatency)
	}
	if hasAudio && n.sentAudio {
		n.cache.SetAudio(n.sentAudioFmt, audioLatency)
	}

	addr, ok := n.pending.AnySent()
	if !ok {
		return
	}
	slot := n.pending.Get(addr)

	if !reportCompatible(reportOp, slot.Opcode) {
		n.pending.SetState(addr, pending.AbortReceived)
		n.pending.Complete(addr, true)
		n.pumpPending()
		return
	}

	req, ok := parseLatencyRequest(slot.Message)
	if !ok {
		n.pending.SetState(addr, pending.AbortReceived)
		n.pending.Complete(addr, true)
		n.pumpPending()
		return
	}

	r := n.resolve(req, addr == n.cfg.OwnAddr)
	n.pending.SetState(addr, pending.AnswerReceived)
	if r.resolved {
		n.replyToLatencyRequester(addr, req, r)
	}
	n.pending.Complete(addr, !r.resolved)
	n.pumpPending()
}

// reportCompatible implements §4.5/§9 Open Question 3: a REPORT whose
// dimension set doesn't cover the SENT request's dimension set cannot
// satisfy it (e.g. REPORT_AUDIO_LATENCY cannot satisfy
// REQUEST_VIDEO_LATENCY); REPORT_AV_LATENCY satisfies any request
// shape since it carries both dimensions.
func reportCompatible(reportOp, requestOp lipconst.Opcode) bool {
	if reportOp == lipconst.ReportAVLatency {
		return true
	}
	switch requestOp {
	case lipconst.RequestVideoLatency:
		return reportOp == lipconst.ReportVideoLatency
	case lipconst.RequestAudioLatency:
		return reportOp == lipconst.ReportAudioLatency
	default:
		return false
	}
}
