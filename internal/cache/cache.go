// Package cache implements the latency cache (C2): a per-downstream-
// identity store of measured video/audio latencies, with validity
// bitmaps and a clear-on-identity-change policy driven by the
// partitioning of the 32-bit device UUID.
package cache

import (
	"context"
	"fmt"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
)

// Persistence is the opaque storage collaborator the cache calls out
// to. It is intentionally storage-agnostic: §1 of the protocol scopes
// actual durable storage as an external concern. internal/db supplies
// one concrete implementation.
type Persistence interface {
	// Store persists blob under identity uuid. Implementations may
	// treat this as fire-and-forget but must return any hard error.
	Store(ctx context.Context, uuid uint32, blob []byte) error
	// Load reads the blob stored under identity uuid. It returns
	// (nil, nil) if nothing has ever been stored for that identity —
	// this is the "0 bytes read" case the protocol treats as a full
	// miss requiring partial invalidation instead of a hard error.
	Load(ctx context.Context, uuid uint32) ([]byte, error)
}

// Cache holds the measured latencies for the current downstream
// identity.
type Cache struct {
	enabled bool

	video      [format.HDRModeDepth][219]uint8 // [ColorFormat][VIC]... see index() below
	videoValid [format.HDRModeDepth][219]bool

	audio      [4][32][32]uint8 // [Subtype][Codec][Ext]
	audioValid [4][32][32]bool

	uuid uint32

	persistence Persistence
}

// New constructs an empty, disabled cache. Rotate enables it once the
// downstream identity is known (after a REPORT_LIP_SUPPORT/UPDATE_UUID).
func New(persistence Persistence) *Cache {
	return &Cache{persistence: persistence}
}

func videoIndex(f format.VideoFormat) (hdr int, vic int, ok bool) {
	if !f.Valid() {
		return 0, 0, false
	}
	return int(f.HDRMode), int(f.VIC), true
}

func audioIndex(f format.AudioFormat) (subtype int, codec int, ext int, ok bool) {
	if !f.Valid() {
		return 0, 0, 0, false
	}
	return int(f.Subtype), int(f.Codec), int(f.Ext), true
}

// GetVideo returns the cached latency for f, or (0, false) if absent
// or f is out of range.
func (c *Cache) GetVideo(f format.VideoFormat) (uint8, bool) {
	hdr, vic, ok := videoIndex(f)
	if !ok || !c.videoValid[hdr][vic] {
		return 0, false
	}
	return c.video[hdr][vic], true
}

// SetVideo stores a measured video latency. A no-op if f is out of
// range, per C2's validated-setter requirement.
func (c *Cache) SetVideo(f format.VideoFormat, latency uint8) {
	hdr, vic, ok := videoIndex(f)
	if !ok {
		return
	}
	c.video[hdr][vic] = latency
	c.videoValid[hdr][vic] = true
}

// GetAudio returns the cached latency for f, or (0, false) if absent
// or f is out of range.
func (c *Cache) GetAudio(f format.AudioFormat) (uint8, bool) {
	subtype, codec, ext, ok := audioIndex(f)
	if !ok || !c.audioValid[subtype][codec][ext] {
		return 0, false
	}
	return c.audio[subtype][codec][ext], true
}

// SetAudio stores a measured audio latency. A no-op if f is out of
// range.
func (c *Cache) SetAudio(f format.AudioFormat, latency uint8) {
	subtype, codec, ext, ok := audioIndex(f)
	if !ok {
		return
	}
	c.audio[subtype][codec][ext] = latency
	c.audioValid[subtype][codec][ext] = true
}

// Clear wipes the audio and/or video halves of the cache.
func (c *Cache) Clear(video, audio bool) {
	if video {
		c.video = [format.HDRModeDepth][219]uint8{}
		c.videoValid = [format.HDRModeDepth][219]bool{}
	}
	if audio {
		c.audio = [4][32][32]uint8{}
		c.audioValid = [4][32][32]bool{}
	}
}

// Enabled reports whether the cache currently tracks a downstream
// identity.
func (c *Cache) Enabled() bool { return c.enabled }

// UUID returns the downstream identity the cache is currently keyed
// on.
func (c *Cache) UUID() uint32 { return c.uuid }

// uuidMasks isolate the three independently-changing parts of a
// device UUID, per §3: upper 16 bits are the stable device id, the
// high octet of the lower 16 is the video render mode, the low octet
// is the audio render mode.
const (
	deviceIDMask = 0xFFFF0000
	videoModeMask = 0x0000FF00
	audioModeMask = 0x000000FF
)

// Rotate implements the REPORT_LIP_SUPPORT/UPDATE_UUID identity
// transition of C2: persist the current blob under the old identity,
// attempt to load the blob for the new one, and fall back to partial
// invalidation by comparing the changed UUID bits if no blob could be
// loaded.
func (c *Cache) Rotate(ctx context.Context, newUUID uint32) error {
	oldUUID, wasEnabled := c.uuid, c.enabled

	if wasEnabled && c.persistence != nil {
		blob, err := c.Marshal()
		if err != nil {
			return fmt.Errorf("cache: marshal before rotate: %w", err)
		}
		if err := c.persistence.Store(ctx, oldUUID, blob); err != nil {
			return fmt.Errorf("cache: store old identity blob: %w", err)
		}
	}

	c.uuid = newUUID
	c.enabled = true

	var loaded []byte
	var loadErr error
	if c.persistence != nil {
		loaded, loadErr = c.persistence.Load(ctx, newUUID)
	}
	if loadErr == nil && len(loaded) > 0 {
		if err := c.Unmarshal(loaded); err == nil {
			return nil
		}
		// Fall through to partial invalidation if the blob was
		// unreadable despite being nonempty.
	}

	if !wasEnabled {
		// No previous identity to diff against: start clean.
		c.Clear(true, true)
		return nil
	}

	deviceChanged := (oldUUID & deviceIDMask) != (newUUID & deviceIDMask)
	videoChanged := (oldUUID & videoModeMask) != (newUUID & videoModeMask)
	audioChanged := (oldUUID & audioModeMask) != (newUUID & audioModeMask)

	if deviceChanged {
		c.Clear(true, true)
		return nil
	}
	c.Clear(videoChanged, audioChanged)
	return nil
}

// RenderMode bits, mirrored from lipconst for convenience when
// building a merged UUID's lower 16 bits.
type RenderMode = lipconst.RenderMode

// BuildRenderModeOctets packs a video-mode octet and an audio-mode
// octet into the lower 16 bits of a UUID, matching the layout Rotate
// reads back apart.
func BuildRenderModeOctets(videoMode, audioMode uint8) uint32 {
	return uint32(videoMode)<<8 | uint32(audioMode)
}

// Persist stores the cache's current contents under its own UUID,
// used on close (the cache is persisted "on close and on UUID
// change" per §3's lifecycle note; Rotate handles the UUID-change
// case).
func (c *Cache) Persist(ctx context.Context) error {
	if c.persistence == nil || !c.enabled {
		return nil
	}
	blob, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("cache: marshal on persist: %w", err)
	}
	return c.persistence.Store(ctx, c.uuid, blob)
}
