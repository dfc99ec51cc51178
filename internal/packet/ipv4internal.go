package packet

import (
	"fmt"
	"net"

	"github.com/eigrpd/eigrpd/internal/metric"
)

// ipv4InternalFixedSize is the size of the fixed-layout portion of an
// IPv4_INTERNAL TLV value, before the variable-length destination bytes:
// next-hop(4) + delay(4) + bandwidth(4) + mtu(3) + hop(1) + rel(1) +
// load(1) + tag(1) + flags(1) + prefixlen(1) = 21.
const ipv4InternalFixedSize = 21

// IPv4InternalTLV is the sole route-carrying TLV this core emits and
// consumes (spec §4.A, type 0x0102).
type IPv4InternalTLV struct {
	NextHop   net.IP
	Metric    metric.Tuple
	PrefixLen uint8
	Prefix    net.IP // IPv4; only the high PrefixLen bits are meaningful
}

func (r IPv4InternalTLV) Marshal() []byte {
	destBytes := int(prefixByteLen(r.PrefixLen))
	v := make([]byte, ipv4InternalFixedSize+destBytes)
	copy(v[0:4], r.NextHop.To4())
	putUint32(v[4:8], r.Metric.Delay)
	putUint32(v[8:12], r.Metric.Bandwidth)
	putUint24(v[12:15], r.Metric.MTU)
	v[15] = r.Metric.Hopcount
	v[16] = r.Metric.Reliability
	v[17] = r.Metric.Load
	v[18] = r.Metric.Tag
	v[19] = r.Metric.Flags
	v[20] = r.PrefixLen
	prefix4 := r.Prefix.To4()
	copy(v[ipv4InternalFixedSize:], prefix4[:destBytes])
	return marshalFrame(TLVIPv4Internal, v)
}

func unmarshalIPv4Internal(value []byte) (IPv4InternalTLV, error) {
	if len(value) < ipv4InternalFixedSize {
		return IPv4InternalTLV{}, fmt.Errorf("packet: IPv4_INTERNAL TLV too short: %d bytes", len(value))
	}
	prefixLen := value[20]
	if prefixLen > 32 {
		return IPv4InternalTLV{}, fmt.Errorf("packet: IPv4_INTERNAL prefix length %d > 32", prefixLen)
	}
	destBytes := int(prefixByteLen(prefixLen))
	if len(value) < ipv4InternalFixedSize+destBytes {
		return IPv4InternalTLV{}, fmt.Errorf("packet: IPv4_INTERNAL TLV truncated destination bytes")
	}
	prefix := make(net.IP, 4)
	copy(prefix, value[ipv4InternalFixedSize:ipv4InternalFixedSize+destBytes])
	return IPv4InternalTLV{
		NextHop: net.IPv4(value[0], value[1], value[2], value[3]),
		Metric: metric.Tuple{
			Delay:       getUint32(value[4:8]),
			Bandwidth:   getUint32(value[8:12]),
			MTU:         getUint24(value[12:15]),
			Hopcount:    value[15],
			Reliability: value[16],
			Load:        value[17],
			Tag:         value[18],
			Flags:       value[19],
		},
		PrefixLen: prefixLen,
		Prefix:    prefix,
	}, nil
}

// prefixByteLen returns ceil(prefixLen/8), the number of destination
// bytes carried on the wire (spec §4.A).
func prefixByteLen(prefixLen uint8) uint8 {
	return (prefixLen + 7) / 8
}
