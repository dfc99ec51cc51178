package topology

import (
	"net/netip"
	"sort"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
)

// Table is the topology table: a set of destination prefixes, each with
// its own candidate set (spec §4.E). It is exclusively owned by the
// router instance (spec §3 "Ownership").
type Table struct {
	k       metric.KValues
	entries map[netip.Prefix]*PrefixEntry
	serial  uint64
}

// New creates an empty topology table under the given K-values.
func New(k metric.KValues) *Table {
	return &Table{k: k, entries: make(map[netip.Prefix]*PrefixEntry)}
}

// SetKValues updates the K-values used in composition. A full recompute
// of every prefix is the caller's responsibility (spec §4.F event 7 is
// per-interface; a K-value change is instance-wide and out of scope
// here beyond storing the new coefficients for future compositions).
func (t *Table) SetKValues(k metric.KValues) { t.k = k }

// Lookup returns the entry for prefix, if any.
func (t *Table) Lookup(prefix netip.Prefix) (*PrefixEntry, bool) {
	e, ok := t.entries[prefix]
	return e, ok
}

// All returns every prefix entry currently in the table. The returned
// slice is a snapshot; mutating the table afterward does not affect it.
func (t *Table) All() []*PrefixEntry {
	out := make([]*PrefixEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix.String() < out[j].Prefix.String() })
	return out
}

// Insert creates an empty PASSIVE prefix entry if one does not already
// exist, and returns it.
func (t *Table) Insert(prefix netip.Prefix) *PrefixEntry {
	if e, ok := t.entries[prefix]; ok {
		return e
	}
	e := &PrefixEntry{Prefix: prefix, State: Passive, FD: metric.Max, RD: metric.Max}
	t.entries[prefix] = e
	return e
}

// InsertConnected installs a self-originated, directly-attached prefix
// at distance 0 / FD 0 (spec §4.F "Edge policies"). It is never driven
// into ACTIVE.
func (t *Table) InsertConnected(prefix netip.Prefix) *PrefixEntry {
	e := t.Insert(prefix)
	e.Connected = true
	e.FD = 0
	e.RD = 0
	e.State = Passive
	return e
}

// UpsertResult describes what changed as a result of UpsertEntry, for
// the caller (DUAL) to decide what, if anything, to do next.
type UpsertResult struct {
	Prefix *PrefixEntry
	Entry  *CandidateEntry

	New               bool
	MetricChanged     bool
	DistanceIncreased bool
	Unreachable       bool
}

// UpsertEntry creates or updates the candidate entry for (prefix,
// neighbor) with a newly received reported metric, recomputes distances
// under I1, and re-derives the SUCCESSOR flag under I2 (spec §4.E).
func (t *Table) UpsertEntry(
	prefix netip.Prefix,
	neighbor ident.NeighborID,
	iface ident.IfaceID,
	reported metric.Tuple,
	ifBandwidth, ifDelay, ifMTU uint32,
) UpsertResult {
	p := t.Insert(prefix)
	e := p.entry(neighbor)
	res := UpsertResult{Prefix: p, Unreachable: reported.Unreachable()}

	if e == nil {
		e = &CandidateEntry{Neighbor: neighbor, Iface: iface}
		p.Entries = append(p.Entries, e)
		res.New = true
	} else {
		res.MetricChanged = e.ReportedMetric != reported
	}
	oldDistance := e.Distance

	e.ReportedMetric = reported
	e.Iface = iface
	e.ifBandwidth, e.ifDelay, e.ifMTU = ifBandwidth, ifDelay, ifMTU
	t.recomputeEntry(e)
	res.Entry = e

	if !res.New && e.Distance > oldDistance {
		res.DistanceIncreased = true
	}

	t.recomputePrefix(p)
	return res
}

// recomputeEntry redoes the composition for e under invariant I1.
func (t *Table) recomputeEntry(e *CandidateEntry) {
	e.TotalMetric = metric.ComposeOutgoing(e.ReportedMetric, e.ifBandwidth, e.ifDelay, e.ifMTU)
	e.Distance = metric.Composite(e.TotalMetric, t.k)
	e.ReportedDistance = metric.Composite(e.ReportedMetric, t.k)
}

// recomputePrefix re-derives the SUCCESSOR flag (I2), advances FD (I3)
// while PASSIVE, marks feasible successors (I4), and sets NeedUpdate
// when the successor or minimum distance changed.
func (t *Table) recomputePrefix(p *PrefixEntry) {
	prevSuccessor := p.Successor()
	var prevSuccessorNeighbor ident.NeighborID
	hadSuccessor := prevSuccessor != nil
	if hadSuccessor {
		prevSuccessorNeighbor = prevSuccessor.Neighbor
	}
	prevMin := minDistance(p)

	// FD only ever decreases while PASSIVE (I3): a vanished low-distance
	// entry must not pull FD back up, or a stale feasible successor would
	// look feasible again.
	if p.State == Passive && !p.Connected {
		newMin := minDistance(p)
		if newMin < p.FD {
			p.FD = newMin
		}
	}

	for _, e := range p.Entries {
		e.FeasibleSuccessor = e.ReportedDistance < p.FD
	}

	// The successor is the minimum-distance entry among the feasible ones
	// only (I2, I4): an entry that merely has the lowest distance left in
	// a shrunken candidate set is not a successor unless it actually
	// satisfies the feasibility condition.
	var best *CandidateEntry
	for _, e := range p.Entries {
		if !e.FeasibleSuccessor {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	// Flags are cleared only after selection so less can favour the
	// incumbent successor on a distance tie.
	for _, e := range p.Entries {
		e.Successor = false
	}
	if best != nil {
		best.Successor = true
		if p.State == Passive && !p.Connected {
			p.RD = best.Distance
		}
	}

	newMin := minDistance(p)
	successorChanged := (best == nil) != !hadSuccessor || (best != nil && hadSuccessor && best.Neighbor != prevSuccessorNeighbor)
	if successorChanged || newMin != prevMin {
		p.NeedUpdate = true
	}
	p.Serial++
	t.serial++
}

// less orders two candidate entries during successor selection: lowest
// distance wins, tie-broken by (a) currently flagged successor, (b)
// lowest incoming-interface index, (c) lowest advertising-neighbor IPv4
// (spec §4.F "Tie-breaks").
func less(a, b *CandidateEntry) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Successor != b.Successor {
		return a.Successor // the incumbent successor wins ties
	}
	if a.Iface != b.Iface {
		return a.Iface < b.Iface
	}
	return neighborIPLess(a.Neighbor, b.Neighbor)
}

func neighborIPLess(a, b ident.NeighborID) bool {
	aBytes := a.Peer.As4()
	bBytes := b.Peer.As4()
	for i := range aBytes {
		if aBytes[i] != bBytes[i] {
			return aBytes[i] < bBytes[i]
		}
	}
	return false
}

func minDistance(p *PrefixEntry) uint32 {
	min := metric.Max
	for _, e := range p.Entries {
		if e.Distance < min {
			min = e.Distance
		}
	}
	return min
}

// Withdraw removes the candidate entry for (prefix, neighbor). If the
// prefix is left with zero entries it is deleted from the table (spec
// §4.F "A prefix with no candidate entries is deleted from the table").
// wasSuccessor reports whether the removed entry had been the successor,
// which the caller (DUAL) uses to decide whether re-evaluation is needed.
func (t *Table) Withdraw(prefix netip.Prefix, neighbor ident.NeighborID) (wasSuccessor bool, stillExists bool) {
	p, ok := t.entries[prefix]
	if !ok {
		return false, false
	}
	wasSuccessor = p.removeEntry(neighbor)
	if len(p.Entries) == 0 {
		delete(t.entries, prefix)
		return wasSuccessor, false
	}
	t.recomputePrefix(p)
	return wasSuccessor, true
}

// WithdrawAll removes every candidate entry belonging to neighbor across
// the whole table in a single pass, returning the affected prefixes so
// the caller can feed DUAL exactly one event per affected prefix (spec
// §4.E "single-pass, feeds DUAL one event per affected prefix").
func (t *Table) WithdrawAll(neighbor ident.NeighborID) []*PrefixEntry {
	var affected []*PrefixEntry
	for prefix, p := range t.entries {
		if p.entry(neighbor) == nil {
			continue
		}
		p.removeEntry(neighbor)
		if len(p.Entries) == 0 {
			delete(t.entries, prefix)
			affected = append(affected, p)
			continue
		}
		t.recomputePrefix(p)
		affected = append(affected, p)
	}
	return affected
}

// UpdateInterfaceMetric recomposes every candidate entry learned via
// iface under new outgoing-interface metric inputs (spec §4.F event 7,
// "Local interface-metric change") and returns the affected prefixes.
func (t *Table) UpdateInterfaceMetric(iface ident.IfaceID, bandwidth, delay, mtu uint32) []*PrefixEntry {
	var affected []*PrefixEntry
	for _, p := range t.entries {
		touched := false
		for _, e := range p.Entries {
			if e.Iface != iface {
				continue
			}
			e.ifBandwidth, e.ifDelay, e.ifMTU = bandwidth, delay, mtu
			t.recomputeEntry(e)
			touched = true
		}
		if touched {
			t.recomputePrefix(p)
			affected = append(affected, p)
		}
	}
	return affected
}

// Delete removes prefix unconditionally (used when DUAL determines the
// destination is gone entirely, e.g. after an all-unreachable REPLY).
func (t *Table) Delete(prefix netip.Prefix) {
	delete(t.entries, prefix)
}

// Repassivate ends a diffusing computation: FD is reset to the lowest
// distance currently on offer (it is only a non-increasing ratchet while
// PASSIVE, not while ACTIVE), the new successor is whichever entry
// achieves that distance, and the prefix returns to PASSIVE. It reports
// the chosen successor, or nil if every remaining entry is unreachable.
func (t *Table) Repassivate(p *PrefixEntry) *CandidateEntry {
	var best *CandidateEntry
	for _, e := range p.Entries {
		e.Successor = false
		if best == nil || e.Distance < best.Distance {
			best = e
		}
	}
	p.State = Passive
	if best == nil || best.Distance == metric.Max {
		p.FD = metric.Max
		for _, e := range p.Entries {
			e.FeasibleSuccessor = false
		}
		return nil
	}

	p.FD = best.Distance
	p.RD = best.Distance
	best.Successor = true
	for _, e := range p.Entries {
		e.FeasibleSuccessor = e.ReportedDistance < p.FD
	}
	best.FeasibleSuccessor = true
	return best
}
