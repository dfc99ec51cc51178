// Package neighbor implements the per-peer adjacency state machine (spec
// §4.D): DOWN → PENDING → PENDING_INIT → UP, hold-down expiry, the
// K-value check, and peer-termination detection.
package neighbor

import (
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
)

// State is the neighbor adjacency state.
type State int

const (
	Down State = iota
	Pending
	PendingInit
	Up
)

func (s State) String() string {
	switch s {
	case Down:
		return "DOWN"
	case Pending:
		return "PENDING"
	case PendingInit:
		return "PENDING_INIT"
	case Up:
		return "UP"
	default:
		return "UNKNOWN"
	}
}

// DefaultHoldTime is used when a peer's PARAMETER TLV omits one (spec §3).
const DefaultHoldTime = 15 * time.Second

// Neighbor is one adjacency, keyed by (interface, peer IPv4) (spec §3).
type Neighbor struct {
	ID    ident.NeighborID
	Iface ident.IfaceID
	Addr  netip.Addr

	State State

	// LastRecvSeq is the most recently received sequence from this peer,
	// folded into the ack field of our next outbound packet.
	LastRecvSeq uint32
	// PeerK is the K-value set this peer last advertised.
	PeerK metric.KValues
	// HoldTime is the negotiated hold interval; restarted on every hello.
	HoldTime time.Duration
	// HoldDeadline is the absolute time at which, absent a fresh hello,
	// this neighbor is declared down. The router engine compares its
	// timer wheel against this value; Neighbor itself never starts a
	// goroutine (spec §5 "single-threaded cooperative").
	HoldDeadline time.Time

	// InitSeq is the sequence we used in our outstanding INIT UPDATE, or
	// 0 when none is outstanding.
	InitSeq uint32

	// RestartFlagSeen records whether the peer's last packet carried the
	// RESTART header flag; informational only (SPEC_FULL §4).
	RestartFlagSeen bool

	log *logrus.Entry
}

// New creates a neighbor in DOWN state for (iface, addr).
func New(iface ident.IfaceID, addr netip.Addr, log *logrus.Entry) *Neighbor {
	return &Neighbor{
		ID:    ident.NeighborID{Iface: iface, Peer: addr},
		Iface: iface,
		Addr:  addr,
		State: Down,
		log:   log.WithField("peer", addr.String()),
	}
}

// HelloParams is the content of a received PARAMETER (+ optional
// SW_VERSION) TLV pair, decoupled from the wire codec.
type HelloParams struct {
	K        metric.KValues
	HoldTime time.Duration
}

// Event is the outcome a caller (the router engine) must act on after
// feeding the neighbor FSM an input.
type Event int

const (
	EventNone Event = iota
	// EventSendInit asks the caller to send an INIT UPDATE with Neighbor.InitSeq.
	EventSendInit
	// EventSendEOTBurst asks the caller to begin sending our full table,
	// terminated by an EOT UPDATE.
	EventSendEOTBurst
	// EventAdjacencyUp reports the neighbor just reached UP.
	EventAdjacencyUp
	// EventDown reports the neighbor just transitioned to DOWN; the
	// caller must withdraw all of its candidate entries via topology and
	// drain both transport FIFOs.
	EventDown
)

// HandleHello processes a received hello (PARAMETER + SW_VERSION) from
// this peer (spec §4.D "K1..K5 must match byte-wise between local and
// remote"). localK is the router's own configured K-values, checked on
// every hello, not just the first. now is used to (re)arm the hold-down
// deadline.
func (n *Neighbor) HandleHello(params HelloParams, localK metric.KValues, now time.Time) Event {
	if !localK.Equal(params.K) {
		n.log.WithField("event", "k_value_mismatch").Warn("neighbor going down")
		n.PeerK = params.K
		n.State = Down
		return EventDown
	}

	hold := params.HoldTime
	if hold <= 0 {
		hold = DefaultHoldTime
	}

	switch n.State {
	case Down:
		n.PeerK = params.K
		n.HoldTime = hold
		n.HoldDeadline = now.Add(n.HoldTime)
		n.State = Pending
		n.log.WithFields(logrus.Fields{"event": "hello", "state": n.State}).Info("neighbor created")
		return EventSendInit
	case Pending, PendingInit, Up:
		n.PeerK = params.K
		n.HoldTime = hold
		n.HoldDeadline = now.Add(n.HoldTime)
		return EventNone
	default:
		return EventNone
	}
}

// HandleInitAck processes an ACK whose ack field matches our outstanding
// InitSeq (spec §4.D "PENDING + ACK of our INIT").
func (n *Neighbor) HandleInitAck(ack uint32) Event {
	if n.State != Pending || n.InitSeq == 0 || ack != n.InitSeq {
		return EventNone
	}
	n.State = PendingInit
	n.InitSeq = 0
	return EventSendEOTBurst
}

// HandleEOT processes a received EOT UPDATE from the peer (spec §4.D
// "PENDING_INIT + received EOT UPDATE from peer").
func (n *Neighbor) HandleEOT() Event {
	if n.State != PendingInit {
		return EventNone
	}
	n.State = Up
	n.log.Info("adjacency up")
	return EventAdjacencyUp
}

// HandleHoldExpiry transitions to DOWN on a hold-down timer fire (spec
// §4.D "any non-DOWN + hold-down expiry").
func (n *Neighbor) HandleHoldExpiry() Event {
	if n.State == Down {
		return EventNone
	}
	n.log.Warn("hold-down expired")
	n.State = Down
	return EventDown
}

// HandlePeerTermination processes either the dedicated PEER_TERMINATION
// TLV or a PARAMETER TLV whose K1..K5 are all 0xFF (spec §4.D, §9).
func (n *Neighbor) HandlePeerTermination() Event {
	if n.State == Down {
		return EventNone
	}
	n.log.Warn("peer termination")
	n.State = Down
	return EventDown
}

// Clear forces the neighbor back to DOWN for a manual reset (spec §4.D
// "any + neighbor-manually-cleared ⇒ DOWN then fresh initialization").
func (n *Neighbor) Clear() Event {
	if n.State == Down {
		return EventNone
	}
	n.State = Down
	return EventDown
}

// PrepareInit assigns the sequence we will use for our outbound INIT
// UPDATE, to be stamped onto the packet by the caller.
func (n *Neighbor) PrepareInit(seq uint32) {
	n.InitSeq = seq
}

// Ack returns the value to fold into the ack field of our next outbound
// packet to this neighbor (spec §4.B "ACK folding").
func (n *Neighbor) Ack() uint32 {
	return n.LastRecvSeq
}

// RecordSeq updates the last-received sequence from this peer.
func (n *Neighbor) RecordSeq(seq uint32) {
	n.LastRecvSeq = seq
}
