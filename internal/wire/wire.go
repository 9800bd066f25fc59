// Package wire implements the LIP message codec (C1): encoding of the
// nine LIP opcodes plus Feature Abort into CEC VENDOR_COMMAND_WITH_ID
// payloads carrying the fixed Dolby vendor tag, and decoding with
// length/vendor-tag validation.
package wire

import (
	"errors"
	"fmt"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
)

// DecodeError is returned by Decode when a payload is malformed or
// carries an unrecognized opcode. Reason is the Feature Abort reason
// the dispatcher must reply with.
type DecodeError struct {
	Reason lipconst.AbortReason
	msg    string
}

func (e *DecodeError) Error() string { return e.msg }

func newDecodeError(reason lipconst.AbortReason, msg string) *DecodeError {
	return &DecodeError{Reason: reason, msg: msg}
}

// ErrNotLIP is returned when a payload does not carry the LIP vendor
// tag at all; it is not a protocol error, just "not for us".
var ErrNotLIP = errors.New("wire: payload does not carry the LIP vendor tag")

// Message is any decoded LIP payload. Concrete types below.
type Message interface {
	Opcode() lipconst.Opcode
}

type RequestLIPSupport struct{}

func (RequestLIPSupport) Opcode() lipconst.Opcode { return lipconst.RequestLIPSupport }

type ReportLIPSupport struct {
	Version uint8
	UUID    uint32
}

func (ReportLIPSupport) Opcode() lipconst.Opcode { return lipconst.ReportLIPSupport }

type RequestAVLatency struct {
	Video format.VideoFormat
	Audio format.AudioFormat
}

func (RequestAVLatency) Opcode() lipconst.Opcode { return lipconst.RequestAVLatency }

type ReportAVLatency struct {
	VideoLatency uint8
	AudioLatency uint8
}

func (ReportAVLatency) Opcode() lipconst.Opcode { return lipconst.ReportAVLatency }

type RequestAudioLatency struct {
	Audio format.AudioFormat
}

func (RequestAudioLatency) Opcode() lipconst.Opcode { return lipconst.RequestAudioLatency }

type ReportAudioLatency struct {
	AudioLatency uint8
}

func (ReportAudioLatency) Opcode() lipconst.Opcode { return lipconst.ReportAudioLatency }

type RequestVideoLatency struct {
	Video format.VideoFormat
}

func (RequestVideoLatency) Opcode() lipconst.Opcode { return lipconst.RequestVideoLatency }

type ReportVideoLatency struct {
	VideoLatency uint8
}

func (ReportVideoLatency) Opcode() lipconst.Opcode { return lipconst.ReportVideoLatency }

type UpdateUUID struct {
	Version uint8
	UUID    uint32
}

func (UpdateUUID) Opcode() lipconst.Opcode { return lipconst.UpdateUUID }

// FeatureAbort is the bus-level refusal message; it is not itself a
// LIP opcode but is encoded/decoded by this package because the core
// emits and consumes it in direct response to LIP traffic.
type FeatureAbort struct {
	AbortedOpcode lipconst.Opcode
	Reason        lipconst.AbortReason
}

func (FeatureAbort) Opcode() lipconst.Opcode { return lipconst.FeatureAbort }

func putUUID(b []byte, uuid uint32) {
	b[0] = byte(uuid >> 24)
	b[1] = byte(uuid >> 16)
	b[2] = byte(uuid >> 8)
	b[3] = byte(uuid)
}

func getUUID(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Encode serializes msg into a VENDOR_COMMAND_WITH_ID payload: the
// vendor tag, the opcode byte, and the opcode's fixed fields.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case RequestLIPSupport:
		return frame(lipconst.RequestLIPSupport), nil
	case ReportLIPSupport:
		b := frame(lipconst.ReportLIPSupport, 0, 0, 0, 0, 0)
		b[4] = m.Version
		putUUID(b[5:], m.UUID)
		return b, nil
	case RequestAVLatency:
		if !m.Video.Valid() || !m.Audio.Valid() {
			return nil, fmt.Errorf("wire: invalid format in RequestAVLatency")
		}
		b := frame(lipconst.RequestAVLatency, m.Video.VIC, m.Video.HDRByte(), m.Audio.Codec)
		if m.Audio.HasExtByte() {
			b = append(b, m.Audio.ExtByte())
		}
		return b, nil
	case ReportAVLatency:
		return frame(lipconst.ReportAVLatency, m.VideoLatency, m.AudioLatency), nil
	case RequestAudioLatency:
		if !m.Audio.Valid() {
			return nil, fmt.Errorf("wire: invalid format in RequestAudioLatency")
		}
		b := frame(lipconst.RequestAudioLatency, m.Audio.Codec)
		if m.Audio.HasExtByte() {
			b = append(b, m.Audio.ExtByte())
		}
		return b, nil
	case ReportAudioLatency:
		return frame(lipconst.ReportAudioLatency, m.AudioLatency), nil
	case RequestVideoLatency:
		if !m.Video.Valid() {
			return nil, fmt.Errorf("wire: invalid format in RequestVideoLatency")
		}
		return frame(lipconst.RequestVideoLatency, m.Video.VIC, m.Video.HDRByte()), nil
	case ReportVideoLatency:
		return frame(lipconst.ReportVideoLatency, m.VideoLatency), nil
	case UpdateUUID:
		b := frame(lipconst.UpdateUUID, 0, 0, 0, 0, 0)
		b[4] = m.Version
		putUUID(b[5:], m.UUID)
		return b, nil
	case FeatureAbort:
		return []byte{byte(m.AbortedOpcode), byte(m.Reason)}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
}

// frame allocates a payload of vendor-tag + opcode + trailing bytes,
// with trailing set to the given values (zero-extended further by the
// caller when the opcode has variable-length trailing fields).
func frame(op lipconst.Opcode, trailing ...byte) []byte {
	b := make([]byte, 0, 4+len(trailing))
	b = append(b, lipconst.VendorTag[:]...)
	b = append(b, byte(op))
	b = append(b, trailing...)
	return b
}

// Decode parses a VENDOR_COMMAND_WITH_ID payload. It validates the
// vendor tag, the opcode, and the opcode's minimum length before
// interpreting fields. Malformed LIP frames return a *DecodeError
// carrying the Feature Abort reason the dispatcher must reply with;
// payloads without the LIP vendor tag return ErrNotLIP.
func Decode(payload []byte) (Message, error) {
	if len(payload) < 4 {
		return nil, ErrNotLIP
	}
	if payload[0] != lipconst.VendorTag[0] || payload[1] != lipconst.VendorTag[1] || payload[2] != lipconst.VendorTag[2] {
		return nil, ErrNotLIP
	}
	op := lipconst.Opcode(payload[3])

	minLen, known := lipconst.MinLength[op]
	if !known {
		return nil, newDecodeError(lipconst.UnrecognizedOpcode, fmt.Sprintf("wire: unrecognized LIP opcode 0x%02x", op))
	}
	if len(payload) < minLen {
		return nil, newDecodeError(lipconst.InvalidOperand, fmt.Sprintf("wire: %s payload too short: %d < %d", op, len(payload), minLen))
	}

	switch op {
	case lipconst.RequestLIPSupport:
		return RequestLIPSupport{}, nil
	case lipconst.ReportLIPSupport:
		return ReportLIPSupport{Version: payload[4], UUID: getUUID(payload[5:9])}, nil
	case lipconst.RequestAVLatency:
		colorFormat, hdrMode := format.DecodeHDRByte(payload[5])
		vf := format.VideoFormat{VIC: payload[4], ColorFormat: colorFormat, HDRMode: hdrMode}
		codec := payload[6]
		var ext, subtype uint8
		if len(payload) > 7 {
			ext, subtype = format.DecodeExtByte(payload[7])
		}
		af := format.AudioFormat{Codec: codec, Subtype: subtype, Ext: ext}
		if !vf.Valid() || !af.Valid() {
			return nil, newDecodeError(lipconst.InvalidOperand, "wire: invalid format in RequestAVLatency")
		}
		return RequestAVLatency{Video: vf, Audio: af}, nil
	case lipconst.ReportAVLatency:
		return ReportAVLatency{VideoLatency: payload[4], AudioLatency: payload[5]}, nil
	case lipconst.RequestAudioLatency:
		codec := payload[4]
		var ext, subtype uint8
		if len(payload) > 5 {
			ext, subtype = format.DecodeExtByte(payload[5])
		}
		af := format.AudioFormat{Codec: codec, Subtype: subtype, Ext: ext}
		if !af.Valid() {
			return nil, newDecodeError(lipconst.InvalidOperand, "wire: invalid format in RequestAudioLatency")
		}
		return RequestAudioLatency{Audio: af}, nil
	case lipconst.ReportAudioLatency:
		return ReportAudioLatency{AudioLatency: payload[4]}, nil
	case lipconst.RequestVideoLatency:
		colorFormat, hdrMode := format.DecodeHDRByte(payload[5])
		vf := format.VideoFormat{VIC: payload[4], ColorFormat: colorFormat, HDRMode: hdrMode}
		if !vf.Valid() {
			return nil, newDecodeError(lipconst.InvalidOperand, "wire: invalid format in RequestVideoLatency")
		}
		return RequestVideoLatency{Video: vf}, nil
	case lipconst.ReportVideoLatency:
		return ReportVideoLatency{VideoLatency: payload[4]}, nil
	case lipconst.UpdateUUID:
		return UpdateUUID{Version: payload[4], UUID: getUUID(payload[5:9])}, nil
	default:
		return nil, newDecodeError(lipconst.UnrecognizedOpcode, fmt.Sprintf("wire: unrecognized LIP opcode 0x%02x", op))
	}
}

// DecodeFeatureAbort parses a bus-level Feature Abort payload
// {aborted_opcode, reason}.
func DecodeFeatureAbort(payload []byte) (FeatureAbort, error) {
	if len(payload) < 2 {
		return FeatureAbort{}, fmt.Errorf("wire: feature abort payload too short")
	}
	return FeatureAbort{AbortedOpcode: lipconst.Opcode(payload[0]), Reason: lipconst.AbortReason(payload[1])}, nil
}
