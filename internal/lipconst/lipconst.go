// Package lipconst holds the wire-level constants of the Latency
// Information Protocol: the CEC logical address space, the vendor tag
// that marks a VENDOR_COMMAND_WITH_ID frame as LIP, the nine LIP
// opcodes, and the Feature Abort reasons used to refuse one.
package lipconst

// LogicalAddress is a 4-bit CEC device identifier, or one of the two
// sentinels below.
type LogicalAddress int8

const (
	// Unknown marks the absence of a configured peer.
	Unknown LogicalAddress = -1
	// Broadcast is the CEC wildcard address; it is never a valid
	// initiator or a valid concrete destination for a LIP message.
	Broadcast LogicalAddress = 15

	// TV is logical address 0, the usual root of a CEC tree.
	TV LogicalAddress = 0
	// AudioSystem is logical address 5.
	AudioSystem LogicalAddress = 5

	// NumAddresses is the size of the fixed per-address arrays (C3,
	// upstream set): addresses 0..15 inclusive.
	NumAddresses = 16
)

// Valid reports whether addr is a concrete, in-range logical address
// usable as an array index (0..15, including Broadcast).
func (a LogicalAddress) Valid() bool {
	return a >= 0 && a < NumAddresses
}

// VendorTag is the fixed 3-byte Dolby vendor identifier every LIP
// VENDOR_COMMAND_WITH_ID frame must begin with.
var VendorTag = [3]byte{0x00, 0xD0, 0x46}

// Opcode identifies a LIP operation carried in a VENDOR_COMMAND_WITH_ID
// payload, immediately following VendorTag.
type Opcode byte

const (
	RequestLIPSupport    Opcode = 0x10
	ReportLIPSupport     Opcode = 0x11
	RequestAVLatency     Opcode = 0x12
	ReportAVLatency      Opcode = 0x13
	RequestAudioLatency  Opcode = 0x14
	ReportAudioLatency   Opcode = 0x15
	RequestVideoLatency  Opcode = 0x16
	ReportVideoLatency   Opcode = 0x17
	UpdateUUID           Opcode = 0x18
	// FeatureAbort is not a LIP opcode; it is the bus-level message
	// used to refuse any CEC command, including a LIP one.
	FeatureAbort Opcode = 0x00
)

func (o Opcode) String() string {
	switch o {
	case RequestLIPSupport:
		return "REQUEST_LIP_SUPPORT"
	case ReportLIPSupport:
		return "REPORT_LIP_SUPPORT"
	case RequestAVLatency:
		return "REQUEST_AV_LATENCY"
	case ReportAVLatency:
		return "REPORT_AV_LATENCY"
	case RequestAudioLatency:
		return "REQUEST_AUDIO_LATENCY"
	case ReportAudioLatency:
		return "REPORT_AUDIO_LATENCY"
	case RequestVideoLatency:
		return "REQUEST_VIDEO_LATENCY"
	case ReportVideoLatency:
		return "REPORT_VIDEO_LATENCY"
	case UpdateUUID:
		return "UPDATE_UUID"
	case FeatureAbort:
		return "FEATURE_ABORT"
	default:
		return "UNKNOWN_OPCODE"
	}
}

// MinLength is the minimum payload length (vendor tag + opcode +
// fixed fields) for each LIP opcode, as tabulated in the wire format
// section of the protocol. Frames shorter than this are malformed.
var MinLength = map[Opcode]int{
	RequestLIPSupport:   4,
	ReportLIPSupport:    9,
	RequestAVLatency:    7,
	ReportAVLatency:     6,
	RequestAudioLatency: 5,
	ReportAudioLatency:  5,
	RequestVideoLatency: 6,
	ReportVideoLatency:  5,
	UpdateUUID:          9,
}

// AbortReason is a CEC Feature Abort reason code.
type AbortReason byte

const (
	UnrecognizedOpcode           AbortReason = 0x00
	NotInCorrectModeToRespond    AbortReason = 0x01
	CannotProvideSource          AbortReason = 0x02
	InvalidOperand               AbortReason = 0x03
	Refused                      AbortReason = 0x04
	Unspecified                  AbortReason = 0x05
)

// validInAnyStateButUnsupported lists the opcodes the dispatcher
// accepts even before discovery completes. Every other LIP opcode
// requires the SUPPORTED discovery state.
var validInAnyStateButUnsupported = map[Opcode]bool{
	RequestLIPSupport: true,
	ReportLIPSupport:  true,
}

// ValidOutsideSupported reports whether opcode may be processed while
// the discovery state machine is not (yet) SUPPORTED.
func ValidOutsideSupported(op Opcode) bool {
	return validInAnyStateButUnsupported[op]
}

// IsLatencyRequest reports whether op is one of the three latency
// request opcodes (AV/audio/video), as opposed to the LIP-support
// negotiation opcodes that share the same pending-request table but
// never occupy a SENT slot.
func (o Opcode) IsLatencyRequest() bool {
	switch o {
	case RequestAVLatency, RequestAudioLatency, RequestVideoLatency:
		return true
	default:
		return false
	}
}

// RenderMode bit flags, per §3 of the device Config.
type RenderMode uint8

const (
	VideoRenderer RenderMode = 1 << iota
	AudioRenderer
)

func (m RenderMode) IsVideoRenderer() bool { return m&VideoRenderer != 0 }
func (m RenderMode) IsAudioRenderer() bool { return m&AudioRenderer != 0 }

// InvalidLatency is the sentinel byte value meaning "no measurement".
const InvalidLatency uint8 = 255

// MaxClampedLatency is the highest latency value sum() ever returns
// for two valid operands; any larger true sum saturates here instead
// of overflowing into the 255 (invalid) sentinel.
const MaxClampedLatency uint8 = 254

// SumLatency implements the clamp-at-254 saturating addition used
// throughout latency composition: invalid operands propagate as
// invalid, and a valid sum that would reach or exceed the invalid
// sentinel clamps to MaxClampedLatency instead.
func SumLatency(a, b uint8) uint8 {
	if a == InvalidLatency || b == InvalidLatency {
		return InvalidLatency
	}
	sum := int(a) + int(b)
	if sum >= int(InvalidLatency) {
		return MaxClampedLatency
	}
	return uint8(sum)
}

// Audio codec identifiers, per IEC 61937-2 data type assignment
// (0..31). Only the handful with a nonzero IEC decoding-delay offset
// are named here; the rest are valid wire values with no special
// handling.
const (
	CodecAC3  uint8 = 1
	CodecMAT  uint8 = 6
	CodecEAC3 uint8 = 7
)

// iecDecodingDelay is the additional audio latency a TV adds on top
// of an audio system's own reported latency, per codec, to account
// for IEC 61937 decoding delay. Indexed by codec; zero for any codec
// not listed here.
var iecDecodingDelay = map[uint8]uint8{
	CodecAC3:  7,
	CodecMAT:  6,
	CodecEAC3: 47,
}

// IECDecodingDelay returns the additional delay a TV must add to an
// audio system's reported latency for the given codec.
func IECDecodingDelay(codec uint8) uint8 {
	return iecDecodingDelay[codec]
}
