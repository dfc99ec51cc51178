package packet

import (
	"fmt"
	"net"
)

// SequenceTLV names a peer still owed a conditional-receive multicast
// (the "SEQUENCE" TLV; spec §4.A).
type SequenceTLV struct {
	Addr net.IP // IPv4
}

func (s SequenceTLV) Marshal() []byte {
	ip4 := s.Addr.To4()
	v := make([]byte, 1+len(ip4))
	v[0] = byte(len(ip4))
	copy(v[1:], ip4)
	return marshalFrame(TLVSequence, v)
}

func unmarshalSequence(value []byte) (SequenceTLV, error) {
	if len(value) < 1 {
		return SequenceTLV{}, fmt.Errorf("packet: SEQUENCE TLV empty")
	}
	addrLen := int(value[0])
	if len(value) < 1+addrLen {
		return SequenceTLV{}, fmt.Errorf("packet: SEQUENCE TLV truncated")
	}
	return SequenceTLV{Addr: net.IP(append([]byte(nil), value[1:1+addrLen]...))}, nil
}

// NextMcastSeqTLV announces the sequence number of an upcoming
// multicast (spec §4.A, type 0x0005).
type NextMcastSeqTLV struct {
	Sequence uint32
}

func (n NextMcastSeqTLV) Marshal() []byte {
	v := make([]byte, 4)
	putUint32(v, n.Sequence)
	return marshalFrame(TLVNextMcastSeq, v)
}

func unmarshalNextMcastSeq(value []byte) (NextMcastSeqTLV, error) {
	if len(value) < 4 {
		return NextMcastSeqTLV{}, fmt.Errorf("packet: NEXT_MCAST_SEQ TLV too short")
	}
	return NextMcastSeqTLV{Sequence: getUint32(value)}, nil
}
