// Package core wires the message codec, latency cache, pending-
// request table, discovery state machine, and timer engine into the
// request dispatcher and public API surface (C5, C7) of a single LIP
// node, under one core mutex shared by the worker goroutine, the
// timer engine, the bus receive callback, and synchronous API calls.
package core

import (
	"errors"
	"fmt"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/mitchellh/hashstructure/v2"
)

// Config is the protocol-level configuration of a node, per §3. It is
// validated by Open and by SetConfig; the ambient application Config
// (internal/config) carries its own Node struct, which Node.ToCore
// converts to this type.
type Config struct {
	DownstreamAddr lipconst.LogicalAddress
	OwnAddr        lipconst.LogicalAddress
	OwnUUID        uint32
	RenderMode     lipconst.RenderMode

	// VideoLatencies is indexed [VIC][ColorFormat][HDRMode], matching
	// the literal data-model dimensions video_latencies[219][3][4].
	VideoLatencies [219][3][format.HDRModeDepth]uint8
	// AudioLatencies is indexed [Codec][Subtype][Ext], matching
	// audio_latencies[32][4][32].
	AudioLatencies [32][4][32]uint8

	AudioTranscoding   bool
	TranscodingFormat  format.AudioFormat
}

var (
	ErrNilBus              = errors.New("core: bus must not be nil")
	ErrOwnAddrBroadcast    = errors.New("core: own address must not be BROADCAST")
	ErrInvalidTranscoding  = errors.New("core: audio_transcoding enabled with an invalid transcoding_format")
	ErrMissingMergeUUID    = errors.New("core: callbacks.MergeUUID is required")
	ErrForbiddenConfigEdit = errors.New("core: latency table, render mode, or transcoding change rejected without a UUID change")
	ErrDownstreamUnknown   = errors.New("core: downstream address is not known")
	ErrAborted             = errors.New("core: request aborted by downstream or timed out")
	ErrClosed              = errors.New("core: node is closed")
)

// Validate applies the range checks Open and SetConfig both require
// (§4.7): a concrete, non-broadcast own address, and — if audio
// transcoding is enabled — a valid transcoding format.
func (c Config) Validate() error {
	if c.OwnAddr == lipconst.Broadcast || !c.OwnAddr.Valid() {
		return ErrOwnAddrBroadcast
	}
	if c.AudioTranscoding && !c.TranscodingFormat.Valid() {
		return ErrInvalidTranscoding
	}
	return nil
}

// OwnVideoLatency looks up this node's own rendered latency for f, or
// lipconst.InvalidLatency if f is out of range.
func (c Config) OwnVideoLatency(f format.VideoFormat) uint8 {
	if !f.Valid() {
		return lipconst.InvalidLatency
	}
	return c.VideoLatencies[f.VIC][f.ColorFormat][f.HDRMode]
}

// OwnAudioLatency looks up this node's own rendered latency for f, or
// lipconst.InvalidLatency if f is out of range.
func (c Config) OwnAudioLatency(f format.AudioFormat) uint8 {
	if !f.Valid() {
		return lipconst.InvalidLatency
	}
	return c.AudioLatencies[f.Codec][f.Subtype][f.Ext]
}

// latencyFingerprint is the subset of Config that set_config's
// forbidden-change rule guards: any latency-table, render-mode, or
// transcoding change is only permitted alongside a UUID change.
type latencyFingerprint struct {
	RenderMode        lipconst.RenderMode
	VideoLatencies    [219][3][format.HDRModeDepth]uint8
	AudioLatencies    [32][4][32]uint8
	AudioTranscoding  bool
	TranscodingFormat format.AudioFormat
}

// Fingerprint hashes the forbidden-change-guarded fields of c so
// SetConfig can detect whether they changed in O(1) rather than
// diffing the latency tables field by field.
func (c Config) Fingerprint() (uint64, error) {
	fp := latencyFingerprint{
		RenderMode:        c.RenderMode,
		VideoLatencies:    c.VideoLatencies,
		AudioLatencies:    c.AudioLatencies,
		AudioTranscoding:  c.AudioTranscoding,
		TranscodingFormat: c.TranscodingFormat,
	}
	return hashstructure.Hash(fp, hashstructure.FormatV2, nil)
}

func (c Config) String() string {
	return fmt.Sprintf("Config{downstream=%d own=%d uuid=%#08x mode=%#02x}",
		c.DownstreamAddr, c.OwnAddr, c.OwnUUID, c.RenderMode)
}
