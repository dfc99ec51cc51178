package packet

// Packet is a fully decoded EIGRP packet: the header plus whichever of
// the recognized TLVs were present. Unrecognized TLV types are silently
// skipped per spec §4.A; TLVs that declare a recognized type but whose
// value is malformed are also skipped, per spec §7's "malformed TLVs
// within an otherwise-valid packet are skipped."
type Packet struct {
	Header Header

	Parameter       *ParameterTLV
	SoftwareVersion *SoftwareVersionTLV
	Sequence        *SequenceTLV
	NextMcastSeq    *NextMcastSeqTLV
	PeerTermination bool
	Auth            *AuthTLV
	Routes          []IPv4InternalTLV
}

// Marshal emits the complete wire packet: header + TLVs, with the
// checksum computed over the whole payload (checksum field zero during
// compute, per spec §4.A).
func (p Packet) Marshal() []byte {
	var body []byte
	if p.Parameter != nil {
		body = append(body, p.Parameter.Marshal()...)
	}
	if p.Auth != nil {
		body = append(body, p.Auth.Marshal()...)
	}
	if p.Sequence != nil {
		body = append(body, p.Sequence.Marshal()...)
	}
	if p.SoftwareVersion != nil {
		body = append(body, p.SoftwareVersion.Marshal()...)
	}
	if p.NextMcastSeq != nil {
		body = append(body, p.NextMcastSeq.Marshal()...)
	}
	if p.PeerTermination {
		body = append(body, PeerTerminationTLV{}.Marshal()...)
	}
	for _, r := range p.Routes {
		body = append(body, r.Marshal()...)
	}

	out := append(p.Header.MarshalBinary(), body...)
	cksum := Checksum(out)
	out[2] = byte(cksum >> 8)
	out[3] = byte(cksum)
	return out
}

// Decode parses a complete wire packet: checksum and version are
// checked first (spec §4.A); the caller is still responsible for the
// AS-number check via CheckAS since that depends on local config.
func Decode(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, errTruncated(len(b))
	}
	if !VerifyChecksum(b) {
		return nil, errChecksum{}
	}
	h, err := UnmarshalHeader(b)
	if err != nil {
		return nil, err
	}
	if err := CheckVersion(h); err != nil {
		return nil, err
	}
	frames, err := splitFrames(b[HeaderSize:])
	if err != nil {
		return nil, err
	}

	pkt := &Packet{Header: h}
	for _, f := range frames {
		switch f.typ {
		case TLVParameter:
			if v, err := unmarshalParameter(f.value); err == nil {
				pkt.Parameter = &v
			}
		case TLVAuth:
			v := unmarshalAuth(f.value)
			pkt.Auth = &v
		case TLVSequence:
			if v, err := unmarshalSequence(f.value); err == nil {
				pkt.Sequence = &v
			}
		case TLVSoftwareVersion:
			if v, err := unmarshalSoftwareVersion(f.value); err == nil {
				pkt.SoftwareVersion = &v
			}
		case TLVNextMcastSeq:
			if v, err := unmarshalNextMcastSeq(f.value); err == nil {
				pkt.NextMcastSeq = &v
			}
		case TLVPeerTermination:
			pkt.PeerTermination = true
		case TLVIPv4Internal:
			if v, err := unmarshalIPv4Internal(f.value); err == nil {
				pkt.Routes = append(pkt.Routes, v)
			}
		default:
			// Unrecognized TLV type: silently skipped (spec §4.A).
		}
	}
	return pkt, nil
}

type errChecksum struct{}

func (errChecksum) Error() string { return "packet: checksum mismatch" }

type errTruncatedT struct{ n int }

func (e errTruncatedT) Error() string { return "packet: truncated packet" }

func errTruncated(n int) error { return errTruncatedT{n: n} }
