package packet

import (
	"encoding/binary"
	"fmt"
)

// TLVType is the 16-bit type tag of a TLV frame.
type TLVType uint16

// TLV types this core recognizes; all others are silently skipped
// (spec §4.A).
const (
	TLVParameter       TLVType = 0x0001
	TLVAuth            TLVType = 0x0002
	TLVSequence        TLVType = 0x0003
	TLVSoftwareVersion TLVType = 0x0004
	TLVNextMcastSeq    TLVType = 0x0005
	TLVPeerTermination TLVType = 0x0007
	TLVIPv4Internal    TLVType = 0x0102
)

// tlvFrameHeaderSize is the size of a TLV's type+length prefix.
const tlvFrameHeaderSize = 4

// frame is one raw, unclassified TLV: its type tag and value bytes.
type frame struct {
	typ   TLVType
	value []byte
}

// marshalFrame wraps value in a TLV type+length+value frame.
func marshalFrame(typ TLVType, value []byte) []byte {
	total := tlvFrameHeaderSize + len(value)
	b := make([]byte, total)
	binary.BigEndian.PutUint16(b[0:2], uint16(typ))
	binary.BigEndian.PutUint16(b[2:4], uint16(total))
	copy(b[4:], value)
	return b
}

// splitFrames walks b splitting it into raw TLV frames. Per spec §4.A,
// the codec MUST verify 4 <= length <= remaining for every frame; a
// violation discards the whole packet rather than just that TLV.
func splitFrames(b []byte) ([]frame, error) {
	var frames []frame
	for len(b) > 0 {
		if len(b) < tlvFrameHeaderSize {
			return nil, fmt.Errorf("packet: truncated TLV header: %d bytes remaining", len(b))
		}
		typ := TLVType(binary.BigEndian.Uint16(b[0:2]))
		length := int(binary.BigEndian.Uint16(b[2:4]))
		if length < tlvFrameHeaderSize || length > len(b) {
			return nil, fmt.Errorf("packet: invalid TLV length %d (remaining %d)", length, len(b))
		}
		frames = append(frames, frame{typ: typ, value: b[tlvFrameHeaderSize:length]})
		b = b[length:]
	}
	return frames, nil
}
