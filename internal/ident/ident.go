// Package ident defines the small set of stable, comparable identifiers
// shared across packages that must refer to a neighbor or an interface
// without owning it (spec §9 "Cyclic references... Use arena-style
// ownership... candidate entries hold stable identifiers (interface-id,
// neighbor-id) rather than owning pointers").
package ident

import "net/netip"

// IfaceID identifies an interface within a router instance. It is
// assigned by the interface manager when the interface is created and
// is stable for the interface's lifetime.
type IfaceID int

// NeighborID identifies a neighbor by the interface it was learned on
// and its IPv4 address. This is exactly the key spec §3 uses for the
// neighbor table ("keyed by (interface, peer IPv4)").
type NeighborID struct {
	Iface IfaceID
	Peer  netip.Addr
}

func (n NeighborID) String() string {
	return n.Peer.String() + "@if" + itoa(int(n.Iface))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
