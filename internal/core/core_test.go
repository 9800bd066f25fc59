package core_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cec-lip/lipd/internal/bus"
	"github.com/cec-lip/lipd/internal/core"
	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus is a bus.Bus double that records every transmitted frame and
// lets the test inject inbound frames synchronously by calling the
// node's registered receive function directly, so assertions never
// race against an asynchronous transport.
type fakeBus struct {
	mu   sync.Mutex
	recv func(bus.Frame) bool
	sent []bus.Frame
}

func (b *fakeBus) RegisterReceive(fn func(bus.Frame) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recv = fn
}

func (b *fakeBus) Transmit(f bus.Frame) bool {
	b.mu.Lock()
	b.sent = append(b.sent, f)
	b.mu.Unlock()
	return true
}

func (b *fakeBus) Sent() []bus.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

// Deliver invokes the node's registered receive callback as if f had
// arrived on the wire. It blocks until the callback returns, so by the
// time it comes back any dispatch-triggered state transition or reply
// has already happened under the node's core mutex.
func (b *fakeBus) Deliver(f bus.Frame) bool {
	b.mu.Lock()
	fn := b.recv
	b.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(f)
}

func encode(t *testing.T, msg wire.Message) []byte {
	t.Helper()
	payload, err := wire.Encode(msg)
	require.NoError(t, err)
	return payload
}

func decode(t *testing.T, payload []byte) wire.Message {
	t.Helper()
	msg, err := wire.Decode(payload)
	require.NoError(t, err)
	return msg
}

// testMergeUUID keeps the device-id half of own_uuid and takes the
// rendering-mode half from the downstream identity once one is known,
// mirroring §4.5's merge_uuid contract without depending on this
// repo's own concrete embedder implementation.
func testMergeUUID(ownUUID, downstreamUUID uint32, downstreamKnown bool) uint32 {
	if !downstreamKnown {
		return ownUUID
	}
	return (ownUUID & 0xFFFF0000) | (downstreamUUID & 0x0000FFFF)
}

func openTestNode(t *testing.T, cfg core.Config) (*core.Node, *fakeBus) {
	t.Helper()
	b := &fakeBus{}
	cb := core.Callbacks{MergeUUID: testMergeUUID}
	n, err := core.Open(cfg, cb, nil, b)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n, b
}

func findFrame(t *testing.T, frames []bus.Frame, dest lipconst.LogicalAddress, opcode lipconst.Opcode) (bus.Frame, wire.Message, bool) {
	t.Helper()
	for _, f := range frames {
		if f.Destination != dest {
			continue
		}
		if len(f.Payload) == 2 {
			abort, err := wire.DecodeFeatureAbort(f.Payload)
			if err == nil && opcode == lipconst.FeatureAbort {
				return f, abort, true
			}
			continue
		}
		msg, err := wire.Decode(f.Payload)
		if err != nil {
			continue
		}
		if msg.Opcode() == opcode {
			return f, msg, true
		}
	}
	return bus.Frame{}, nil, false
}

// TestSinkAnswersFromOwnTablesOnly is spec scenario S1: a node with no
// downstream neighbour answers both LIP-support discovery and a
// latency query entirely out of its own tables.
func TestSinkAnswersFromOwnTablesOnly(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.Unknown
	cfg.OwnAddr = 11
	cfg.OwnUUID = 0xAAAA0000
	cfg.RenderMode = lipconst.VideoRenderer | lipconst.AudioRenderer
	cfg.VideoLatencies[16][format.HDRStatic][0] = 10
	cfg.AudioLatencies[lipconst.CodecEAC3][0][0] = 20

	n, b := openTestNode(t, cfg)

	status := n.GetStatus(true)
	require.Equal(t, "SUPPORTED", status.DiscoveryState)

	ok := b.Deliver(bus.Frame{Initiator: 4, Destination: 11, Payload: encode(t, wire.RequestLIPSupport{})})
	require.True(t, ok)

	_, msg, found := findFrame(t, b.Sent(), 4, lipconst.ReportLIPSupport)
	require.True(t, found, "expected a REPORT_LIP_SUPPORT reply to addr 4")
	assert.Equal(t, cfg.OwnUUID, msg.(wire.ReportLIPSupport).UUID)

	req := wire.RequestAVLatency{
		Video: format.VideoFormat{VIC: 16, ColorFormat: format.HDRStatic, HDRMode: 0},
		Audio: format.AudioFormat{Codec: lipconst.CodecEAC3},
	}
	ok = b.Deliver(bus.Frame{Initiator: 4, Destination: 11, Payload: encode(t, req)})
	require.True(t, ok)

	_, reply, found := findFrame(t, b.Sent(), 4, lipconst.ReportAVLatency)
	require.True(t, found, "expected a REPORT_AV_LATENCY reply to addr 4")
	report := reply.(wire.ReportAVLatency)
	assert.Equal(t, uint8(10), report.VideoLatency)
	assert.Equal(t, uint8(20), report.AudioLatency)
}

// settleAsDownstreamSupported delivers a REPORT_LIP_SUPPORT from
// cfg.DownstreamAddr so the node settles to SUPPORTED without waiting
// out the real discovery timeout.
func settleAsDownstreamSupported(t *testing.T, n *core.Node, b *fakeBus, downstream lipconst.LogicalAddress, downstreamUUID uint32) {
	t.Helper()
	ok := b.Deliver(bus.Frame{
		Initiator:   downstream,
		Destination: n.CurrentConfig().OwnAddr,
		Payload:     encode(t, wire.ReportLIPSupport{Version: 0, UUID: downstreamUUID}),
	})
	require.True(t, ok)
	status := n.GetStatus(true)
	require.Equal(t, "SUPPORTED", status.DiscoveryState)
}

func registerUpstream(t *testing.T, n *core.Node, b *fakeBus, upstream lipconst.LogicalAddress) {
	t.Helper()
	ok := b.Deliver(bus.Frame{
		Initiator:   upstream,
		Destination: n.CurrentConfig().OwnAddr,
		Payload:     encode(t, wire.RequestLIPSupport{}),
	})
	require.True(t, ok)
	_, _, found := findFrame(t, b.Sent(), upstream, lipconst.ReportLIPSupport)
	require.True(t, found, "upstream peer %d must have been answered with REPORT_LIP_SUPPORT", upstream)
}

// TestHubResolvesMissThenCachesHit is spec scenario S2's cache-miss
// then cache-hit shape: a pass-through hub with no own-rendered
// dimensions must round-trip a downstream query on the first request
// and answer the second purely from cache.
func TestHubResolvesMissThenCachesHit(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.TV
	cfg.OwnAddr = 8 // playback device, a pass-through hub
	cfg.RenderMode = 0

	n, b := openTestNode(t, cfg)
	settleAsDownstreamSupported(t, n, b, lipconst.TV, 0x11112222)
	registerUpstream(t, n, b, 1)

	videoFmt := format.VideoFormat{VIC: 4}
	audioFmt := format.AudioFormat{Codec: lipconst.CodecAC3}
	req := wire.RequestAVLatency{Video: videoFmt, Audio: audioFmt}

	ok := b.Deliver(bus.Frame{Initiator: 1, Destination: 8, Payload: encode(t, req)})
	require.True(t, ok)

	_, dsMsg, found := findFrame(t, b.Sent(), lipconst.TV, lipconst.RequestAVLatency)
	require.True(t, found, "both dimensions miss: expected an AV query to downstream")
	dsReq := dsMsg.(wire.RequestAVLatency)
	assert.Equal(t, videoFmt, dsReq.Video)
	assert.Equal(t, audioFmt, dsReq.Audio)

	ok = b.Deliver(bus.Frame{
		Initiator:   lipconst.TV,
		Destination: 8,
		Payload:     encode(t, wire.ReportAVLatency{VideoLatency: 30, AudioLatency: 5}),
	})
	require.True(t, ok)

	_, reply, found := findFrame(t, b.Sent(), 1, lipconst.ReportAVLatency)
	require.True(t, found, "expected a REPORT_AV_LATENCY reply to upstream peer 1")
	report := reply.(wire.ReportAVLatency)
	assert.Equal(t, uint8(30), report.VideoLatency)
	assert.Equal(t, uint8(5), report.AudioLatency)

	sentBeforeSecondRequest := len(b.Sent())
	ok = b.Deliver(bus.Frame{Initiator: 1, Destination: 8, Payload: encode(t, req)})
	require.True(t, ok)

	afterFrames := b.Sent()
	_, secondReply, found := findFrame(t, afterFrames[sentBeforeSecondRequest:], 1, lipconst.ReportAVLatency)
	require.True(t, found, "the second identical request must be answered immediately")
	secondReport := secondReply.(wire.ReportAVLatency)
	assert.Equal(t, uint8(30), secondReport.VideoLatency)
	assert.Equal(t, uint8(5), secondReport.AudioLatency)

	_, _, sentDownstreamAgain := findFrame(t, afterFrames[sentBeforeSecondRequest:], lipconst.TV, lipconst.RequestAVLatency)
	assert.False(t, sentDownstreamAgain, "a cache hit must not issue a second downstream query")
}

// TestTimeoutProducesUpstreamAbort is spec scenario S3 and §8 property
// 5: when downstream never replies, the hub timeout (1000ms, since an
// upstream peer is registered) must produce exactly one Feature
// Abort(REFUSED) to the waiting upstream peer.
func TestTimeoutProducesUpstreamAbort(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.TV
	cfg.OwnAddr = 8
	cfg.RenderMode = 0

	n, b := openTestNode(t, cfg)
	settleAsDownstreamSupported(t, n, b, lipconst.TV, 0x11112222)
	registerUpstream(t, n, b, 1)

	req := wire.RequestAVLatency{Video: format.VideoFormat{VIC: 4}, Audio: format.AudioFormat{Codec: lipconst.CodecAC3}}
	ok := b.Deliver(bus.Frame{Initiator: 1, Destination: 8, Payload: encode(t, req)})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, _, found := findFrame(t, b.Sent(), 1, lipconst.FeatureAbort)
		return found
	}, 2*time.Second, 10*time.Millisecond, "expected a Feature Abort to upstream peer 1 within the hub timeout")

	_, abortMsg, _ := findFrame(t, b.Sent(), 1, lipconst.FeatureAbort)
	abort := abortMsg.(wire.FeatureAbort)
	assert.Equal(t, lipconst.Refused, abort.Reason)

	abortCount := 0
	for _, f := range b.Sent() {
		if f.Destination == 1 && len(f.Payload) == 2 {
			abortCount++
		}
	}
	assert.Equal(t, 1, abortCount, "exactly one abort must be produced for the single timed-out request")
}

// TestStateGating is §8 property 6: a latency opcode is refused with
// NOT_IN_CORRECT_MODE_TO_RESPOND while discovery has settled
// UNSUPPORTED, and answered once discovery becomes SUPPORTED.
func TestStateGating(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.TV
	cfg.OwnAddr = 5
	cfg.RenderMode = lipconst.AudioRenderer

	n, b := openTestNode(t, cfg)

	require.Eventually(t, func() bool {
		_, _, found := findFrame(t, b.Sent(), lipconst.TV, lipconst.RequestLIPSupport)
		return found
	}, time.Second, 5*time.Millisecond)

	ok := b.Deliver(bus.Frame{
		Initiator:   lipconst.TV,
		Destination: 5,
		Payload:     []byte{byte(lipconst.RequestLIPSupport), byte(lipconst.Refused)},
	})
	require.True(t, ok)

	status := n.GetStatus(true)
	require.Equal(t, "UNSUPPORTED", status.DiscoveryState)

	ok = b.Deliver(bus.Frame{
		Initiator:   1,
		Destination: 5,
		Payload:     encode(t, wire.RequestAudioLatency{Audio: format.AudioFormat{Codec: lipconst.CodecAC3}}),
	})
	require.True(t, ok)
	_, abortMsg, found := findFrame(t, b.Sent(), 1, lipconst.FeatureAbort)
	require.True(t, found)
	assert.Equal(t, lipconst.NotInCorrectModeToRespond, abortMsg.(wire.FeatureAbort).Reason)

	newCfg := cfg
	newCfg.DownstreamAddr = lipconst.Unknown
	require.NoError(t, n.SetConfig(&newCfg, false, lipconst.Unknown))

	status = n.GetStatus(true)
	require.Equal(t, "SUPPORTED", status.DiscoveryState)

	sentBefore := len(b.Sent())
	ok = b.Deliver(bus.Frame{
		Initiator:   1,
		Destination: 5,
		Payload:     encode(t, wire.RequestAudioLatency{Audio: format.AudioFormat{Codec: lipconst.CodecAC3}}),
	})
	require.True(t, ok)
	_, _, found = findFrame(t, b.Sent()[sentBefore:], 1, lipconst.ReportAudioLatency)
	assert.True(t, found, "an audio latency request must be answered once SUPPORTED")
}

// TestSetConfigRejectsForbiddenChangeWithoutUUIDChange is spec scenario
// S5: a render-mode edit with no accompanying UUID change is rejected
// atomically, leaving the prior configuration untouched.
func TestSetConfigRejectsForbiddenChangeWithoutUUIDChange(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.Unknown
	cfg.OwnAddr = 11
	cfg.OwnUUID = 0x1234
	cfg.RenderMode = lipconst.AudioRenderer

	n, _ := openTestNode(t, cfg)

	newCfg := cfg
	newCfg.RenderMode = lipconst.VideoRenderer | lipconst.AudioRenderer

	err := n.SetConfig(&newCfg, false, lipconst.Unknown)
	require.ErrorIs(t, err, core.ErrForbiddenConfigEdit)
	assert.Equal(t, cfg.RenderMode, n.CurrentConfig().RenderMode, "rejected set_config must leave the render mode untouched")
}

// TestSetConfigAllowsRenderModeChangeAlongsideUUIDChange is the
// permitted counterpart of S5: the same render_mode edit succeeds once
// bundled with a UUID change.
func TestSetConfigAllowsRenderModeChangeAlongsideUUIDChange(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.Unknown
	cfg.OwnAddr = 11
	cfg.OwnUUID = 0x1234
	cfg.RenderMode = lipconst.AudioRenderer

	n, _ := openTestNode(t, cfg)

	newCfg := cfg
	newCfg.RenderMode = lipconst.VideoRenderer | lipconst.AudioRenderer
	newCfg.OwnUUID = 0x5678

	require.NoError(t, n.SetConfig(&newCfg, false, lipconst.Unknown))
	assert.Equal(t, newCfg.RenderMode, n.CurrentConfig().RenderMode)
	assert.Equal(t, newCfg.OwnUUID, n.CurrentConfig().OwnUUID)
}

// TestTranscodingRewritesDownstreamQueryOnly is spec scenario S6: a
// downstream audio query is issued against the configured transcoding
// format, but the upstream reply still indexes the requester's own
// format.
func TestTranscodingRewritesDownstreamQueryOnly(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.TV
	cfg.OwnAddr = 8
	cfg.RenderMode = 0
	cfg.AudioTranscoding = true
	cfg.TranscodingFormat = format.AudioFormat{Codec: lipconst.CodecMAT}

	n, b := openTestNode(t, cfg)
	settleAsDownstreamSupported(t, n, b, lipconst.TV, 0x11112222)
	registerUpstream(t, n, b, 1)

	requesterFmt := format.AudioFormat{Codec: lipconst.CodecAC3}
	ok := b.Deliver(bus.Frame{
		Initiator:   1,
		Destination: 8,
		Payload:     encode(t, wire.RequestAudioLatency{Audio: requesterFmt}),
	})
	require.True(t, ok)

	_, dsMsg, found := findFrame(t, b.Sent(), lipconst.TV, lipconst.RequestAudioLatency)
	require.True(t, found)
	assert.Equal(t, cfg.TranscodingFormat, dsMsg.(wire.RequestAudioLatency).Audio, "the downstream query must carry the transcoding format")

	ok = b.Deliver(bus.Frame{
		Initiator:   lipconst.TV,
		Destination: 8,
		Payload:     encode(t, wire.ReportAudioLatency{AudioLatency: 9}),
	})
	require.True(t, ok)

	_, reply, found := findFrame(t, b.Sent(), 1, lipconst.ReportAudioLatency)
	require.True(t, found)
	assert.Equal(t, uint8(9), reply.(wire.ReportAudioLatency).AudioLatency)

	got, err := n.GetAudioLatency(requesterFmt)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), got, "get_audio_latency must read back the requester's own format, not the transcoding format")
}

// TestUUIDPropagation is §8 property 7: a downstream UPDATE_UUID with a
// new identity must be relayed exactly once, upstream, as UPDATE_UUID
// carrying merge(own, new).
func TestUUIDPropagation(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.TV
	cfg.OwnAddr = 8
	cfg.OwnUUID = 0xAAAA0000
	cfg.RenderMode = 0

	n, b := openTestNode(t, cfg)
	settleAsDownstreamSupported(t, n, b, lipconst.TV, 0x11110001)
	registerUpstream(t, n, b, 1)

	newDownstreamUUID := uint32(0x22220002)
	ok := b.Deliver(bus.Frame{
		Initiator:   lipconst.TV,
		Destination: 8,
		Payload:     encode(t, wire.UpdateUUID{Version: 0, UUID: newDownstreamUUID}),
	})
	require.True(t, ok)

	wantMerged := testMergeUUID(cfg.OwnUUID, newDownstreamUUID, true)

	count := 0
	var gotUUID uint32
	for _, f := range b.Sent() {
		if f.Destination != 1 {
			continue
		}
		msg, err := wire.Decode(f.Payload)
		if err != nil || msg.Opcode() != lipconst.UpdateUUID {
			continue
		}
		count++
		gotUUID = msg.(wire.UpdateUUID).UUID
	}
	assert.Equal(t, 1, count, "exactly one UPDATE_UUID must be relayed upstream")
	assert.Equal(t, wantMerged, gotUUID)
}

// TestGetAudioLatencyForcesDownstreamAndReturnsRawValue is §4.7's
// force_local and §8 property 2 exercised through the public API: a
// node that renders audio itself must still force a downstream query
// when get_audio_latency is called, and must return the raw
// downstream measurement, not that measurement summed with its own
// rendered contribution.
func TestGetAudioLatencyForcesDownstreamAndReturnsRawValue(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.TV
	cfg.OwnAddr = 5
	cfg.RenderMode = lipconst.AudioRenderer
	cfg.AudioLatencies[lipconst.CodecAC3][0][0] = 3 // own contribution; must not appear in the result

	n, b := openTestNode(t, cfg)
	settleAsDownstreamSupported(t, n, b, lipconst.TV, 0x11112222)

	reqFmt := format.AudioFormat{Codec: lipconst.CodecAC3}
	type result struct {
		lat uint8
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		lat, err := n.GetAudioLatency(reqFmt)
		resultCh <- result{lat, err}
	}()

	require.Eventually(t, func() bool {
		_, _, found := findFrame(t, b.Sent(), lipconst.TV, lipconst.RequestAudioLatency)
		return found
	}, time.Second, 5*time.Millisecond, "a rendering node must still force a downstream query for get_audio_latency")

	ok := b.Deliver(bus.Frame{
		Initiator:   lipconst.TV,
		Destination: 5,
		Payload:     encode(t, wire.ReportAudioLatency{AudioLatency: 42}),
	})
	require.True(t, ok)

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		assert.Equal(t, uint8(42), res.lat, "get_audio_latency must return the raw downstream value, not 3+42")
	case <-time.After(time.Second):
		t.Fatal("GetAudioLatency did not return after the downstream report arrived")
	}

	// A second call for the same format resolves immediately from the
	// cache populated above. Before the pumpPending fix this spun
	// forever re-enqueuing an Empty slot instead of observing the
	// immediately-resolved result, deadlocking the node.
	done := make(chan struct{})
	go func() {
		lat2, err2 := n.GetAudioLatency(reqFmt)
		require.NoError(t, err2)
		assert.Equal(t, uint8(42), lat2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second GetAudioLatency (cache hit) did not return: immediate-resolve livelock")
	}
}

// TestBroadcastInitiatorOrDestinationRejected covers §4.5's "reject if
// destination is BROADCAST or initiator is BROADCAST" rule: such a
// frame must be silently dropped, never answered.
func TestBroadcastInitiatorOrDestinationRejected(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.Unknown
	cfg.OwnAddr = 11
	cfg.RenderMode = lipconst.AudioRenderer | lipconst.VideoRenderer

	n, b := openTestNode(t, cfg)
	n.GetStatus(true)

	b.Deliver(bus.Frame{Initiator: lipconst.Broadcast, Destination: 11, Payload: encode(t, wire.RequestLIPSupport{})})
	b.Deliver(bus.Frame{Initiator: 4, Destination: lipconst.Broadcast, Payload: encode(t, wire.RequestLIPSupport{})})
	assert.Empty(t, b.Sent(), "a broadcast initiator or destination must never produce a reply")
}

// TestWrongDestinationIgnored covers §4.5's "reject if destination is
// not own address" rule.
func TestWrongDestinationIgnored(t *testing.T) {
	t.Parallel()
	var cfg core.Config
	cfg.DownstreamAddr = lipconst.Unknown
	cfg.OwnAddr = 11
	cfg.RenderMode = lipconst.AudioRenderer | lipconst.VideoRenderer

	n, b := openTestNode(t, cfg)
	n.GetStatus(true)

	consumed := b.Deliver(bus.Frame{Initiator: 4, Destination: 9, Payload: encode(t, wire.RequestLIPSupport{})})
	assert.False(t, consumed)
	assert.Empty(t, b.Sent())
}
