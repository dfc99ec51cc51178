// Package iface implements the per-link interface manager (spec §4.C):
// configuration, the hello timer, multicast membership, and per-link
// packet statistics.
package iface

import (
	"net/netip"
	"time"

	"github.com/eigrpd/eigrpd/counter"
	"github.com/eigrpd/eigrpd/internal/ident"
)

// NetworkType classifies how hellos are addressed on a link (spec §3;
// NBMA/point-to-multipoint hello behavior is a SPEC_FULL supplement
// drawn from the original source's eigrp_hello.c).
type NetworkType int

const (
	PointToPoint NetworkType = iota
	Broadcast
	NBMA
	PointToMultipoint
	Loopback
)

func (n NetworkType) String() string {
	switch n {
	case PointToPoint:
		return "point-to-point"
	case Broadcast:
		return "broadcast"
	case NBMA:
		return "nbma"
	case PointToMultipoint:
		return "point-to-multipoint"
	case Loopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Defaults from spec §3.
const (
	DefaultHelloInterval = 5 * time.Second
	DefaultHoldTime      = 15 * time.Second
	DefaultBandwidth     = 100000 // kbps
	DefaultDelay         = 10     // tens of microseconds
)

// MulticastGroup is the EIGRP multicast address (spec §6).
var MulticastGroup = netip.MustParseAddr("224.0.0.10")

// Config is the per-link configuration an operator (or the discovery
// collaborator named in spec §6) supplies.
type Config struct {
	Name          string
	Prefix        netip.Prefix
	HelloInterval time.Duration
	HoldTime      time.Duration
	Bandwidth     uint32 // kbps
	Delay         uint32 // tens of microseconds
	MTU           uint32
	NetworkType   NetworkType
	Passive       bool

	// StaticNeighbors lists the peer addresses hello is unicast to on
	// NBMA/point-to-multipoint links, where multicast hello is suppressed
	// (SPEC_FULL §4 "network-type-specific hello behavior").
	StaticNeighbors []netip.Addr
}

// WithDefaults fills any zero-valued timing/metric fields with spec §3's
// defaults.
func (c Config) WithDefaults() Config {
	if c.HelloInterval <= 0 {
		c.HelloInterval = DefaultHelloInterval
	}
	if c.HoldTime <= 0 {
		c.HoldTime = DefaultHoldTime
	}
	if c.Bandwidth == 0 {
		c.Bandwidth = DefaultBandwidth
	}
	if c.Delay == 0 {
		c.Delay = DefaultDelay
	}
	return c
}

// Stats holds the per-link packet counters named in spec §3 ("statistics
// counters (hellos/updates/queries/replies in/out)"), adapted from the
// daemon's generic counter type.
type Stats struct {
	HellosSent       counter.Counter
	HellosRecv       counter.Counter
	UpdatesSent      counter.Counter
	UpdatesRecv      counter.Counter
	QueriesSent      counter.Counter
	QueriesRecv      counter.Counter
	RepliesSent      counter.Counter
	RepliesRecv      counter.Counter
	DroppedMalformed counter.Counter
}

// Snapshot is an immutable point-in-time copy of Stats for introspection
// (SPEC_FULL §4 "Stats snapshot operation").
type Snapshot struct {
	HellosSent, HellosRecv     uint64
	UpdatesSent, UpdatesRecv   uint64
	QueriesSent, QueriesRecv   uint64
	RepliesSent, RepliesRecv   uint64
	DroppedMalformed           uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		HellosSent: s.HellosSent.Value(), HellosRecv: s.HellosRecv.Value(),
		UpdatesSent: s.UpdatesSent.Value(), UpdatesRecv: s.UpdatesRecv.Value(),
		QueriesSent: s.QueriesSent.Value(), QueriesRecv: s.QueriesRecv.Value(),
		RepliesSent: s.RepliesSent.Value(), RepliesRecv: s.RepliesRecv.Value(),
		DroppedMalformed: s.DroppedMalformed.Value(),
	}
}

// Interface is one EIGRP-enabled link (spec §3).
type Interface struct {
	ID     ident.IfaceID
	Config Config

	Joined bool // true once multicast membership has been added

	// HelloDeadline is the absolute time of the next hello emission,
	// seeded at "drift-zero" on interface-up (spec §4.C) and advanced by
	// HelloInterval on every fire. The router engine's timer wheel drives
	// this; Interface never starts its own goroutine (spec §5).
	HelloDeadline time.Time

	Neighbors map[netip.Addr]ident.NeighborID

	Stats Stats
}

// New brings an interface's record up: it is the caller's responsibility
// to actually join the multicast group and seed the socket per spec §4.C
// ("On interface-up, create the EIGRP-interface record, join
// 224.0.0.10... set SO_SNDBUF >= MTU"); this constructor only builds the
// in-memory bookkeeping.
func New(id ident.IfaceID, cfg Config, now time.Time) *Interface {
	cfg = cfg.WithDefaults()
	return &Interface{
		ID:            id,
		Config:        cfg,
		HelloDeadline: now,
		Neighbors:     make(map[netip.Addr]ident.NeighborID),
	}
}

// HelloTargets returns the destination address(es) for this interface's
// next hello. Broadcast and point-to-point interfaces hello to the
// multicast group; NBMA and point-to-multipoint interfaces unicast to
// each statically configured neighbor instead (SPEC_FULL §4). Passive
// and loopback interfaces return no targets.
func (i *Interface) HelloTargets() []netip.Addr {
	if i.Config.Passive {
		return nil
	}
	switch i.Config.NetworkType {
	case NBMA, PointToMultipoint:
		return append([]netip.Addr(nil), i.Config.StaticNeighbors...)
	case Loopback:
		return nil
	default:
		return []netip.Addr{MulticastGroup}
	}
}

// RearmHello advances HelloDeadline by one interval from now.
func (i *Interface) RearmHello(now time.Time) {
	i.HelloDeadline = now.Add(i.Config.HelloInterval)
}

// AddNeighbor records a neighbor as belonging to this interface.
func (i *Interface) AddNeighbor(addr netip.Addr, id ident.NeighborID) {
	i.Neighbors[addr] = id
}

// RemoveNeighbor forgets a neighbor, e.g. on teardown.
func (i *Interface) RemoveNeighbor(addr netip.Addr) {
	delete(i.Neighbors, addr)
}

// AcceptsTraffic reports whether packets on this link should be
// processed at all (spec §4.C "Passive interfaces... drop all received
// packets").
func (i *Interface) AcceptsTraffic() bool {
	return !i.Config.Passive
}
