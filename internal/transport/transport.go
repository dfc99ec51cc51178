// Package transport implements reliable delivery over the raw-IP
// datagram channel (spec §4.B): per-neighbor sequenced FIFOs, retransmit
// timers, ACK folding, and multicast-with-per-neighbor-shadow-retry.
package transport

import (
	"net/netip"
	"time"

	"github.com/eigrpd/eigrpd/internal/ident"
)

// RetransmitInterval and MaxRetransmits implement spec §5's transport
// timeouts: fixed 5s per packet, up to 16 attempts before the neighbor
// is declared down.
const (
	RetransmitInterval = 5 * time.Second
	MaxRetransmits     = 16
)

// Packet is one outstanding reliable send (spec §3 "Packet record").
type Packet struct {
	Data []byte
	Dest netip.Addr
	Seq  uint32

	Retransmits  int
	NextDeadline time.Time
}

// FIFO is one neighbor's ordered tail-outstanding queue (spec §3 "two
// FIFOs", invariant I6: "exactly the tail packet... has an active
// retransmit timer"). Push appends to the head; the oldest unacked
// packet is the tail.
type FIFO struct {
	items []*Packet
}

// NewFIFO creates an empty FIFO.
func NewFIFO() *FIFO { return &FIFO{} }

// Push enqueues p at the head. It reports whether the FIFO was empty
// before the push — the caller must transmit p immediately and arm its
// retransmit timer exactly when this is true (spec §4.B "if FIFO was
// empty, transmit the tail").
func (f *FIFO) Push(p *Packet) (wasEmpty bool) {
	wasEmpty = len(f.items) == 0
	f.items = append(f.items, p)
	return wasEmpty
}

// Tail returns the oldest unacknowledged packet — the one currently
// outstanding and retransmitted on timer fire — or nil if empty.
func (f *FIFO) Tail() *Packet {
	if len(f.items) == 0 {
		return nil
	}
	return f.items[0]
}

// Len reports the number of outstanding packets.
func (f *FIFO) Len() int { return len(f.items) }

// Ack pops the tail if its sequence matches ack (spec §4.B, invariant
// P7: "the neighbor's retrans tail either matches ack... or does not").
// It reports the popped packet (nil if no match) and the new tail to
// transmit with a fresh retransmit timer, if any.
func (f *FIFO) Ack(ack uint32) (popped *Packet, newTail *Packet) {
	if len(f.items) == 0 || f.items[0].Seq != ack {
		return nil, nil
	}
	popped = f.items[0]
	f.items = f.items[1:]
	if len(f.items) > 0 {
		newTail = f.items[0]
	}
	return popped, newTail
}

// Retransmit increments the tail's retry counter and reports whether it
// has reached MaxRetransmits (spec §4.B "on reaching 16 without ACK the
// neighbor is declared down").
func (f *FIFO) Retransmit(now time.Time) (pkt *Packet, exhausted bool) {
	tail := f.Tail()
	if tail == nil {
		return nil, false
	}
	tail.Retransmits++
	tail.NextDeadline = now.Add(RetransmitInterval)
	return tail, tail.Retransmits >= MaxRetransmits
}

// Drain empties the FIFO (neighbor teardown, spec §3 "destroyed...
// Neighbor... owns... its two FIFOs").
func (f *FIFO) Drain() {
	f.items = nil
}

// NeighborChannel bundles the two FIFOs a neighbor owns (spec §3).
type NeighborChannel struct {
	ID        ident.NeighborID
	Retrans   *FIFO
	Multicast *FIFO
}

// NewNeighborChannel creates an empty pair of FIFOs for a neighbor.
func NewNeighborChannel(id ident.NeighborID) *NeighborChannel {
	return &NeighborChannel{ID: id, Retrans: NewFIFO(), Multicast: NewFIFO()}
}

// Drain empties both FIFOs.
func (c *NeighborChannel) Drain() {
	c.Retrans.Drain()
	c.Multicast.Drain()
}

// SequenceAllocator hands out the process-wide monotonic 32-bit sequence
// (spec §3 "process-wide monotonic sequence counter", §4.B "sequences
// are 32-bit monotonic... wrap is accepted").
type SequenceAllocator struct {
	next uint32
}

// NewSequenceAllocator starts counting from 1 (0 is reserved for "no
// sequence", matching InitSeq==0 meaning "none outstanding").
func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{next: 1}
}

// Next returns the next sequence number and advances the counter,
// wrapping past 2^32-1 back to 1.
func (s *SequenceAllocator) Next() uint32 {
	v := s.next
	s.next++
	if s.next == 0 {
		s.next = 1
	}
	return v
}

// Channels tracks one NeighborChannel per adjacency and fans reliable
// sends out, including the multicast shadow-retry described in spec
// §4.B.
type Channels struct {
	seq      *SequenceAllocator
	channels map[ident.NeighborID]*NeighborChannel
}

// NewChannels creates an empty set of per-neighbor channels sharing seq.
func NewChannels(seq *SequenceAllocator) *Channels {
	return &Channels{seq: seq, channels: make(map[ident.NeighborID]*NeighborChannel)}
}

// Open creates (or returns the existing) channel pair for id.
func (c *Channels) Open(id ident.NeighborID) *NeighborChannel {
	ch, ok := c.channels[id]
	if !ok {
		ch = NewNeighborChannel(id)
		c.channels[id] = ch
	}
	return ch
}

// Close removes and drains a neighbor's channel pair (neighbor teardown).
func (c *Channels) Close(id ident.NeighborID) {
	if ch, ok := c.channels[id]; ok {
		ch.Drain()
		delete(c.channels, id)
	}
}

// SendReliable assigns the next sequence to data, enqueues it on id's
// retrans FIFO, and reports it if it must be transmitted immediately
// (the FIFO was empty) — spec §4.B "Reliable unicast".
func (c *Channels) SendReliable(id ident.NeighborID, dest netip.Addr, data []byte, now time.Time) (*Packet, bool) {
	ch := c.Open(id)
	pkt := &Packet{Data: data, Dest: dest, Seq: c.seq.Next(), NextDeadline: now.Add(RetransmitInterval)}
	wasEmpty := ch.Retrans.Push(pkt)
	return pkt, wasEmpty
}

// NextSeq hands out the next wire sequence without enqueuing anything,
// for callers (the router engine) that must stamp a sequence into a
// packet's marshaled bytes before that same sequence can be passed to
// SendMulticastWithShadow.
func (c *Channels) NextSeq() uint32 {
	return c.seq.Next()
}

// SendMulticastWithShadow clones data — already marshaled with seq as
// its header sequence — into every listed neighbor's multicast FIFO as
// a per-neighbor unicast shadow used for retransmission if that
// neighbor never acks the multicast transmission (spec §4.B "Multicast
// with per-neighbor shadow"). upNeighbors lists every currently UP
// neighbor's (id, unicast address). It does not itself transmit
// anything; the one actual multicast datagram is sent by the caller.
func (c *Channels) SendMulticastWithShadow(upNeighbors []struct {
	ID   ident.NeighborID
	Addr netip.Addr
}, seq uint32, data []byte, now time.Time) (armed []*Packet) {
	for _, n := range upNeighbors {
		ch := c.Open(n.ID)
		pkt := &Packet{Data: data, Dest: n.Addr, Seq: seq, NextDeadline: now.Add(RetransmitInterval)}
		if wasEmpty := ch.Multicast.Push(pkt); wasEmpty {
			armed = append(armed, pkt)
		}
	}
	return armed
}

// HandleAck applies a received ack to both of id's FIFOs (a single ack
// value can only match one FIFO's tail at a time, since each FIFO
// allocates from the same monotonic counter) and reports the packet(s)
// that must be (re)transmitted as a result.
func (c *Channels) HandleAck(id ident.NeighborID, ack uint32) (retransmitNext []*Packet) {
	ch, ok := c.channels[id]
	if !ok {
		return nil
	}
	if _, newTail := ch.Retrans.Ack(ack); newTail != nil {
		retransmitNext = append(retransmitNext, newTail)
	}
	if _, newTail := ch.Multicast.Ack(ack); newTail != nil {
		retransmitNext = append(retransmitNext, newTail)
	}
	return retransmitNext
}
