package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/tinylib/msgp/msgp"
	"github.com/ulikunitz/xz"
)

// blobVersion guards the wire format of a persisted cache blob; Load
// rejects a blob written by an incompatible version instead of
// misinterpreting its bytes.
const blobVersion = 1

// CacheBlob is the exact, versioned contents of a Cache, in the form
// persisted by a Persistence implementation. Encoding is hand-written
// against the msgp runtime helpers (github.com/tinylib/msgp/msgp)
// rather than `go generate`-d, since no codegen runs in this
// environment; the shape mirrors what msgp-generated code produces.
type CacheBlob struct {
	Version    uint8
	UUID       uint32
	Video      [format.HDRModeDepth][219]uint8
	VideoValid [format.HDRModeDepth][219]bool
	Audio      [4][32][32]uint8
	AudioValid [4][32][32]bool
}

// MarshalMsg appends the msgp encoding of b to the given buffer.
func (b *CacheBlob) MarshalMsg(buf []byte) ([]byte, error) {
	buf = msgp.AppendArrayHeader(buf, 6)
	buf = msgp.AppendUint8(buf, b.Version)
	buf = msgp.AppendUint32(buf, b.UUID)
	buf = appendUint8Matrix2(buf, b.Video[:])
	buf = appendBoolMatrix2(buf, b.VideoValid[:])
	buf = appendUint8Matrix3(buf, b.Audio[:])
	buf = appendBoolMatrix3(buf, b.AudioValid[:])
	return buf, nil
}

// UnmarshalMsg decodes b from the msgp encoding in buf, returning any
// unconsumed trailing bytes.
func (b *CacheBlob) UnmarshalMsg(buf []byte) ([]byte, error) {
	var sz uint32
	var err error
	sz, buf, err = msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return buf, fmt.Errorf("blob: read header: %w", err)
	}
	if sz != 6 {
		return buf, fmt.Errorf("blob: unexpected array size %d", sz)
	}
	b.Version, buf, err = msgp.ReadUint8Bytes(buf)
	if err != nil {
		return buf, fmt.Errorf("blob: read version: %w", err)
	}
	b.UUID, buf, err = msgp.ReadUint32Bytes(buf)
	if err != nil {
		return buf, fmt.Errorf("blob: read uuid: %w", err)
	}
	if buf, err = readUint8Matrix2(buf, b.Video[:]); err != nil {
		return buf, fmt.Errorf("blob: read video: %w", err)
	}
	if buf, err = readBoolMatrix2(buf, b.VideoValid[:]); err != nil {
		return buf, fmt.Errorf("blob: read video valid: %w", err)
	}
	if buf, err = readUint8Matrix3(buf, b.Audio[:]); err != nil {
		return buf, fmt.Errorf("blob: read audio: %w", err)
	}
	if buf, err = readBoolMatrix3(buf, b.AudioValid[:]); err != nil {
		return buf, fmt.Errorf("blob: read audio valid: %w", err)
	}
	return buf, nil
}

func appendUint8Matrix2(buf []byte, m [][219]uint8) []byte {
	buf = msgp.AppendArrayHeader(buf, uint32(len(m)))
	for _, row := range m {
		buf = msgp.AppendArrayHeader(buf, uint32(len(row)))
		for _, v := range row {
			buf = msgp.AppendUint8(buf, v)
		}
	}
	return buf
}

func appendBoolMatrix2(buf []byte, m [][219]bool) []byte {
	buf = msgp.AppendArrayHeader(buf, uint32(len(m)))
	for _, row := range m {
		buf = msgp.AppendArrayHeader(buf, uint32(len(row)))
		for _, v := range row {
			buf = msgp.AppendBool(buf, v)
		}
	}
	return buf
}

func appendUint8Matrix3(buf []byte, m [][32][32]uint8) []byte {
	buf = msgp.AppendArrayHeader(buf, uint32(len(m)))
	for _, plane := range m {
		buf = msgp.AppendArrayHeader(buf, uint32(len(plane)))
		for _, row := range plane {
			buf = msgp.AppendArrayHeader(buf, uint32(len(row)))
			for _, v := range row {
				buf = msgp.AppendUint8(buf, v)
			}
		}
	}
	return buf
}

func appendBoolMatrix3(buf []byte, m [][32][32]bool) []byte {
	buf = msgp.AppendArrayHeader(buf, uint32(len(m)))
	for _, plane := range m {
		buf = msgp.AppendArrayHeader(buf, uint32(len(plane)))
		for _, row := range plane {
			buf = msgp.AppendArrayHeader(buf, uint32(len(row)))
			for _, v := range row {
				buf = msgp.AppendBool(buf, v)
			}
		}
	}
	return buf
}

func readUint8Matrix2(buf []byte, into [][219]uint8) ([]byte, error) {
	n, buf, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return buf, err
	}
	for i := uint32(0); i < n && int(i) < len(into); i++ {
		var rowLen uint32
		rowLen, buf, err = msgp.ReadArrayHeaderBytes(buf)
		if err != nil {
			return buf, err
		}
		for j := uint32(0); j < rowLen && int(j) < len(into[i]); j++ {
			into[i][j], buf, err = msgp.ReadUint8Bytes(buf)
			if err != nil {
				return buf, err
			}
		}
	}
	return buf, nil
}

func readBoolMatrix2(buf []byte, into [][219]bool) ([]byte, error) {
	n, buf, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return buf, err
	}
	for i := uint32(0); i < n && int(i) < len(into); i++ {
		var rowLen uint32
		rowLen, buf, err = msgp.ReadArrayHeaderBytes(buf)
		if err != nil {
			return buf, err
		}
		for j := uint32(0); j < rowLen && int(j) < len(into[i]); j++ {
			into[i][j], buf, err = msgp.ReadBoolBytes(buf)
			if err != nil {
				return buf, err
			}
		}
	}
	return buf, nil
}

func readUint8Matrix3(buf []byte, into [][32][32]uint8) ([]byte, error) {
	n, buf, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return buf, err
	}
	for i := uint32(0); i < n && int(i) < len(into); i++ {
		var planeLen uint32
		planeLen, buf, err = msgp.ReadArrayHeaderBytes(buf)
		if err != nil {
			return buf, err
		}
		for j := uint32(0); j < planeLen && int(j) < len(into[i]); j++ {
			var rowLen uint32
			rowLen, buf, err = msgp.ReadArrayHeaderBytes(buf)
			if err != nil {
				return buf, err
			}
			for k := uint32(0); k < rowLen && int(k) < len(into[i][j]); k++ {
				into[i][j][k], buf, err = msgp.ReadUint8Bytes(buf)
				if err != nil {
					return buf, err
				}
			}
		}
	}
	return buf, nil
}

func readBoolMatrix3(buf []byte, into [][32][32]bool) ([]byte, error) {
	n, buf, err := msgp.ReadArrayHeaderBytes(buf)
	if err != nil {
		return buf, err
	}
	for i := uint32(0); i < n && int(i) < len(into); i++ {
		var planeLen uint32
		planeLen, buf, err = msgp.ReadArrayHeaderBytes(buf)
		if err != nil {
			return buf, err
		}
		for j := uint32(0); j < planeLen && int(j) < len(into[i]); j++ {
			var rowLen uint32
			rowLen, buf, err = msgp.ReadArrayHeaderBytes(buf)
			if err != nil {
				return buf, err
			}
			for k := uint32(0); k < rowLen && int(k) < len(into[i][j]); k++ {
				into[i][j][k], buf, err = msgp.ReadBoolBytes(buf)
				if err != nil {
					return buf, err
				}
			}
		}
	}
	return buf, nil
}

// Marshal serializes the cache's current contents to an xz-compressed
// msgp blob suitable for Persistence.Store.
func (c *Cache) Marshal() ([]byte, error) {
	blob := CacheBlob{
		Version:    blobVersion,
		UUID:       c.uuid,
		Video:      c.video,
		VideoValid: c.videoValid,
		Audio:      c.audio,
		AudioValid: c.audioValid,
	}
	raw, err := blob.MarshalMsg(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: marshal: %w", err)
	}

	var compressed bytes.Buffer
	w, err := xz.NewWriter(&compressed)
	if err != nil {
		return nil, fmt.Errorf("blob: xz writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("blob: xz write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("blob: xz close: %w", err)
	}
	return compressed.Bytes(), nil
}

// Unmarshal decodes an xz-compressed msgp blob produced by Marshal
// and replaces the cache's video/audio tables with its contents. The
// UUID field of the decoded blob is not applied to c; the caller
// (Rotate) already owns the authoritative identity transition.
func (c *Cache) Unmarshal(compressed []byte) error {
	r, err := xz.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("blob: xz reader: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("blob: xz read: %w", err)
	}

	var blob CacheBlob
	if _, err := blob.UnmarshalMsg(raw); err != nil {
		return fmt.Errorf("blob: unmarshal: %w", err)
	}
	if blob.Version != blobVersion {
		return fmt.Errorf("blob: unsupported version %d", blob.Version)
	}

	c.video = blob.Video
	c.videoValid = blob.VideoValid
	c.audio = blob.Audio
	c.audioValid = blob.AudioValid
	return nil
}
