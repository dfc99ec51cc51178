package packet

// PeerTerminationTLV requests teardown of this adjacency (spec §4.A,
// type 0x0007). It carries no value.
type PeerTerminationTLV struct{}

func (PeerTerminationTLV) Marshal() []byte {
	return marshalFrame(TLVPeerTermination, nil)
}

// AuthTLV is a keyed-MAC frame, opaque to this core: the auth oracle
// (spec §6) produces and verifies its contents, we only carry bytes.
type AuthTLV struct {
	Raw []byte
}

func (a AuthTLV) Marshal() []byte {
	return marshalFrame(TLVAuth, a.Raw)
}

func unmarshalAuth(value []byte) AuthTLV {
	return AuthTLV{Raw: append([]byte(nil), value...)}
}
