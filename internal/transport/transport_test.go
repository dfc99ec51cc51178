package transport

import (
	"net/netip"
	"testing"
	"time"

	"github.com/eigrpd/eigrpd/internal/ident"
)

func neighbor(iface int, ip string) ident.NeighborID {
	return ident.NeighborID{Iface: ident.IfaceID(iface), Peer: netip.MustParseAddr(ip)}
}

// TestScenarioS5Retransmission reproduces spec.md S5: an unacked packet
// retransmits once per interval and the neighbor is declared down after
// the 16th attempt.
func TestScenarioS5Retransmission(t *testing.T) {
	f := NewFIFO()
	now := time.Now()
	f.Push(&Packet{Seq: 7, NextDeadline: now.Add(RetransmitInterval)})

	for i := 1; i < MaxRetransmits; i++ {
		_, exhausted := f.Retransmit(now)
		if exhausted {
			t.Fatalf("exhausted too early at attempt %d", i)
		}
	}
	_, exhausted := f.Retransmit(now)
	if !exhausted {
		t.Fatalf("expected exhaustion at attempt %d", MaxRetransmits)
	}
}

func TestAckPopsTailAndArmsNewOne(t *testing.T) {
	f := NewFIFO()
	f.Push(&Packet{Seq: 1})
	f.Push(&Packet{Seq: 2})

	popped, newTail := f.Ack(1)
	if popped == nil || popped.Seq != 1 {
		t.Fatalf("expected to pop seq 1, got %+v", popped)
	}
	if newTail == nil || newTail.Seq != 2 {
		t.Fatalf("expected new tail seq 2, got %+v", newTail)
	}
	if f.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", f.Len())
	}
}

// TestInvariantP7NonMatchingAckIsNoop checks that an ack not matching the
// tail leaves the FIFO untouched.
func TestInvariantP7NonMatchingAckIsNoop(t *testing.T) {
	f := NewFIFO()
	f.Push(&Packet{Seq: 5})
	popped, newTail := f.Ack(999)
	if popped != nil || newTail != nil {
		t.Fatalf("expected no-op on mismatched ack, got popped=%+v newTail=%+v", popped, newTail)
	}
	if f.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (unchanged)", f.Len())
	}
}

func TestSequenceAllocatorWrapsPast32Bit(t *testing.T) {
	s := &SequenceAllocator{next: 0xFFFFFFFF}
	first := s.Next()
	second := s.Next()
	if first != 0xFFFFFFFF {
		t.Fatalf("first = %d, want 0xFFFFFFFF", first)
	}
	if second != 1 {
		t.Fatalf("second = %d, want 1 (0 is reserved)", second)
	}
}

func TestSendReliableArmsOnlyWhenFIFOWasEmpty(t *testing.T) {
	c := NewChannels(NewSequenceAllocator())
	id := neighbor(1, "1.1.1.2")
	now := time.Now()

	_, wasEmpty := c.SendReliable(id, netip.MustParseAddr("1.1.1.2"), []byte("a"), now)
	if !wasEmpty {
		t.Fatal("expected the first send to find an empty FIFO")
	}
	_, wasEmpty = c.SendReliable(id, netip.MustParseAddr("1.1.1.2"), []byte("b"), now)
	if wasEmpty {
		t.Fatal("expected the second send to find a non-empty FIFO")
	}
}

// TestMulticastShadowSharesOneSequence reproduces spec.md §4.B's
// multicast-with-per-neighbor-shadow: one sequence used for the
// multicast transmission and cloned into every UP neighbor's FIFO.
func TestMulticastShadowSharesOneSequence(t *testing.T) {
	c := NewChannels(NewSequenceAllocator())
	r2 := neighbor(1, "1.1.1.2")
	r3 := neighbor(1, "1.1.1.3")
	now := time.Now()

	seq := c.NextSeq()
	armed := c.SendMulticastWithShadow([]struct {
		ID   ident.NeighborID
		Addr netip.Addr
	}{
		{ID: r2, Addr: netip.MustParseAddr("1.1.1.2")},
		{ID: r3, Addr: netip.MustParseAddr("1.1.1.3")},
	}, seq, []byte("update"), now)

	if len(armed) != 2 {
		t.Fatalf("expected 2 armed shadow packets, got %d", len(armed))
	}
	for _, p := range armed {
		if p.Seq != seq {
			t.Fatalf("shadow packet seq %d != multicast seq %d", p.Seq, seq)
		}
	}

	// R2 acks; R3 has not, and must still be retransmitted independently.
	retransmits := c.HandleAck(r2, seq)
	if len(retransmits) != 0 {
		t.Fatalf("expected no new tail after acking the only entry, got %+v", retransmits)
	}
	ch := c.Open(r3)
	if ch.Multicast.Len() != 1 {
		t.Fatalf("expected R3's shadow copy to remain outstanding, Len()=%d", ch.Multicast.Len())
	}
}

func TestCloseDrainsChannel(t *testing.T) {
	c := NewChannels(NewSequenceAllocator())
	id := neighbor(1, "1.1.1.2")
	c.SendReliable(id, netip.MustParseAddr("1.1.1.2"), []byte("a"), time.Now())
	c.Close(id)
	ch := c.Open(id)
	if ch.Retrans.Len() != 0 {
		t.Fatalf("expected a fresh empty channel after Close, got Len()=%d", ch.Retrans.Len())
	}
}
