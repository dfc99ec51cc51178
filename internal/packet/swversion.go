package packet

import "fmt"

// SoftwareVersionTLV carries the host OS and EIGRP process versions.
type SoftwareVersionTLV struct {
	OSMajor, OSMinor       uint8
	EIGRPMajor, EIGRPMinor uint8
}

func (s SoftwareVersionTLV) Marshal() []byte {
	v := []byte{s.OSMajor, s.OSMinor, s.EIGRPMajor, s.EIGRPMinor}
	return marshalFrame(TLVSoftwareVersion, v)
}

func unmarshalSoftwareVersion(value []byte) (SoftwareVersionTLV, error) {
	if len(value) < 4 {
		return SoftwareVersionTLV{}, fmt.Errorf("packet: SW_VERSION TLV too short: %d bytes", len(value))
	}
	return SoftwareVersionTLV{
		OSMajor: value[0], OSMinor: value[1],
		EIGRPMajor: value[2], EIGRPMinor: value[3],
	}, nil
}
