package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/eigrpd/eigrpd/internal/metric"
)

// ParameterTLV carries K1..K6 and the sender's hold-time. A PARAMETER
// TLV with K1..K5 all 0xFF is the in-band peer-termination signal
// (spec §4.D, §9).
type ParameterTLV struct {
	K        metric.KValues
	HoldTime uint16
}

// Marshal emits the full TLV frame (type + length + value).
func (p ParameterTLV) Marshal() []byte {
	v := make([]byte, 8)
	v[0], v[1], v[2] = p.K.K1, p.K.K2, p.K.K3
	v[3], v[4], v[5] = p.K.K4, p.K.K5, p.K.K6
	binary.BigEndian.PutUint16(v[6:8], p.HoldTime)
	return marshalFrame(TLVParameter, v)
}

func unmarshalParameter(value []byte) (ParameterTLV, error) {
	if len(value) < 8 {
		return ParameterTLV{}, fmt.Errorf("packet: PARAMETER TLV too short: %d bytes", len(value))
	}
	return ParameterTLV{
		K: metric.KValues{
			K1: value[0], K2: value[1], K3: value[2],
			K4: value[3], K5: value[4], K6: value[5],
		},
		HoldTime: binary.BigEndian.Uint16(value[6:8]),
	}, nil
}
