// Package packet implements bit-exact parsing and emission of the EIGRP
// header and the TLVs this core consumes (spec §4.A). Dispatch over TLV
// types is a tagged variant plus one codec function per tag (spec §9),
// not a virtual hierarchy, so round-tripping a single TLV is trivially
// testable in isolation (P5).
package packet

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of the EIGRP header.
const HeaderSize = 20

// Version is the only EIGRP wire version this core speaks.
const Version uint8 = 2

// Opcode identifies the kind of EIGRP packet.
type Opcode uint8

// Opcodes recognized by this core, matching the classic EIGRP profile.
const (
	OpcodeUpdate   Opcode = 1
	OpcodeRequest  Opcode = 2
	OpcodeQuery    Opcode = 3
	OpcodeReply    Opcode = 4
	OpcodeHello    Opcode = 5
	OpcodeProbe    Opcode = 7
	OpcodeSIAQuery Opcode = 10
	OpcodeSIAReply Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpcodeUpdate:
		return "UPDATE"
	case OpcodeRequest:
		return "REQUEST"
	case OpcodeQuery:
		return "QUERY"
	case OpcodeReply:
		return "REPLY"
	case OpcodeHello:
		return "HELLO"
	case OpcodeProbe:
		return "PROBE"
	case OpcodeSIAQuery:
		return "SIAQUERY"
	case OpcodeSIAReply:
		return "SIAREPLY"
	default:
		return fmt.Sprintf("OPCODE(%d)", uint8(o))
	}
}

// Flags is the 32-bit header flags field.
type Flags uint32

// Flag bits recognized by this core (spec §4.A).
const (
	FlagInit               Flags = 1 << 0
	FlagConditionalReceive Flags = 1 << 1
	FlagRestart            Flags = 1 << 2
	FlagEndOfTable         Flags = 1 << 3
)

func (f Flags) Has(bit Flags) bool { return f&bit == bit }

// Header is the 20-byte EIGRP header, network byte order. RouterID is
// unused in this profile and always emitted as 0 (spec §4.A).
type Header struct {
	Version  uint8
	Opcode   Opcode
	Checksum uint16
	Flags    Flags
	Sequence uint32
	Ack      uint32
	RouterID uint16
	ASNumber uint16
}

// MarshalBinary emits the header with Checksum forced to zero; the
// caller patches the real checksum into the returned buffer afterward.
func (h Header) MarshalBinary() []byte {
	b := make([]byte, HeaderSize)
	b[0] = h.Version
	b[1] = byte(h.Opcode)
	// b[2:4] checksum left zero
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Flags))
	binary.BigEndian.PutUint32(b[8:12], h.Sequence)
	binary.BigEndian.PutUint32(b[12:16], h.Ack)
	binary.BigEndian.PutUint16(b[16:18], h.RouterID)
	binary.BigEndian.PutUint16(b[18:20], h.ASNumber)
	return b
}

// UnmarshalHeader parses a Header from the first HeaderSize bytes of b.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("packet: truncated header: have %d bytes, want %d", len(b), HeaderSize)
	}
	h := Header{
		Version:  b[0],
		Opcode:   Opcode(b[1]),
		Checksum: binary.BigEndian.Uint16(b[2:4]),
		Flags:    Flags(binary.BigEndian.Uint32(b[4:8])),
		Sequence: binary.BigEndian.Uint32(b[8:12]),
		Ack:      binary.BigEndian.Uint32(b[12:16]),
		RouterID: binary.BigEndian.Uint16(b[16:18]),
		ASNumber: binary.BigEndian.Uint16(b[18:20]),
	}
	return h, nil
}

// CheckVersion reports whether h carries the version this core speaks.
func CheckVersion(h Header) error {
	if h.Version != Version {
		return fmt.Errorf("packet: version mismatch: got %d, want %d", h.Version, Version)
	}
	return nil
}

// CheckAS reports whether h's AS number matches the local instance's.
func CheckAS(h Header, localAS uint16) error {
	if h.ASNumber != localAS {
		return fmt.Errorf("packet: AS mismatch: got %d, want %d", h.ASNumber, localAS)
	}
	return nil
}
