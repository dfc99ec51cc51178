// Package topology implements the EIGRP topology table (spec §4.E): a
// set of destination prefixes, each with per-neighbor candidate
// entries, maintained under the invariants I1..I6 of spec §3.
package topology

import (
	"net/netip"
	"time"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
)

// DualState is the per-prefix DUAL state (spec §4.F).
type DualState int

const (
	Passive DualState = iota
	Active0
	Active1
	Active2
	Active3
)

func (s DualState) String() string {
	switch s {
	case Passive:
		return "PASSIVE"
	case Active0:
		return "ACTIVE0"
	case Active1:
		return "ACTIVE1"
	case Active2:
		return "ACTIVE2"
	case Active3:
		return "ACTIVE3"
	default:
		return "UNKNOWN"
	}
}

// CandidateEntry is one (prefix, advertising-neighbor) pair (spec §3).
type CandidateEntry struct {
	Neighbor ident.NeighborID
	Iface    ident.IfaceID

	// ReportedMetric is the 5-tuple the neighbor advertised.
	ReportedMetric metric.Tuple
	// TotalMetric is ReportedMetric combined with our outgoing-interface
	// metric (spec §4.G "Composition on pass-through an outgoing interface").
	TotalMetric metric.Tuple
	// Distance is compose(TotalMetric, K) — invariant I1.
	Distance uint32
	// ReportedDistance is compose(ReportedMetric, K); used by the
	// feasibility condition (I4) and the successor tie-break.
	ReportedDistance uint32

	Successor         bool
	FeasibleSuccessor bool

	// ifBandwidth/ifDelay/ifMTU are the outgoing interface's metric
	// inputs at the time this entry was last upserted, retained so a
	// later recompute (e.g. after a local interface-metric change, or a
	// filter denying the prefix) can redo composition without the
	// caller re-supplying them.
	ifBandwidth, ifDelay, ifMTU uint32
}

// PrefixEntry is one destination prefix and its candidate set (spec §3).
type PrefixEntry struct {
	Prefix netip.Prefix

	State DualState
	// FD is the feasible distance: the lowest composite distance seen
	// while PASSIVE since the last transition (monotonically
	// non-increasing while PASSIVE; invariant I3).
	FD uint32
	// RD is the distance this router reports onward for Prefix: the
	// successor's distance while PASSIVE.
	RD uint32
	// Connected marks a self-originated, directly-attached prefix. It is
	// installed at distance 0/FD 0 and is never driven ACTIVE (spec
	// §4.F "Edge policies").
	Connected bool

	Entries []*CandidateEntry
	// Rij is the set of neighbors from whom a REPLY is still expected
	// while ACTIVE (spec §3, §4.F). A prefix is ACTIVE iff Rij != ∅.
	Rij map[ident.NeighborID]bool

	// ActiveStart and SIAQuerySent/SIARepliedBy track the stuck-in-active
	// escalation described in spec §4.F and §5: half the active-timer
	// budget triggers one round of SIAQUERY; a neighbor that never
	// SIAREPLYs by the full budget is declared stuck.
	ActiveStart    time.Time
	SIAQuerySent   bool
	SIARepliedBy   map[ident.NeighborID]bool

	Serial     uint64
	NeedUpdate bool
}

// Successor returns the entry flagged SUCCESSOR, if any (invariant I2:
// at most one, only meaningful while PASSIVE).
func (p *PrefixEntry) Successor() *CandidateEntry {
	for _, e := range p.Entries {
		if e.Successor {
			return e
		}
	}
	return nil
}

// entry returns the candidate entry for neighbor, or nil.
func (p *PrefixEntry) entry(n ident.NeighborID) *CandidateEntry {
	for _, e := range p.Entries {
		if e.Neighbor == n {
			return e
		}
	}
	return nil
}

// BeginActive resets the per-cycle ACTIVE bookkeeping (Rij and the SIA
// tracking) for a fresh diffusing computation.
func (p *PrefixEntry) BeginActive(now time.Time) {
	p.Rij = make(map[ident.NeighborID]bool)
	p.ActiveStart = now
	p.SIAQuerySent = false
	p.SIARepliedBy = make(map[ident.NeighborID]bool)
}

// EndActive clears the ACTIVE bookkeeping on return to PASSIVE.
func (p *PrefixEntry) EndActive() {
	p.Rij = nil
	p.SIAQuerySent = false
	p.SIARepliedBy = nil
}

// removeEntry deletes the candidate entry for neighbor, if present, and
// reports whether it was the successor.
func (p *PrefixEntry) removeEntry(n ident.NeighborID) (wasSuccessor bool) {
	for i, e := range p.Entries {
		if e.Neighbor == n {
			wasSuccessor = e.Successor
			p.Entries = append(p.Entries[:i], p.Entries[i+1:]...)
			return wasSuccessor
		}
	}
	return false
}
