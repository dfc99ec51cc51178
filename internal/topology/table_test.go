package topology

import (
	"net/netip"
	"testing"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
)

func neighbor(iface int, ip string) ident.NeighborID {
	return ident.NeighborID{Iface: ident.IfaceID(iface), Peer: netip.MustParseAddr(ip)}
}

// TestScenarioS2 reproduces spec.md S2: R1 learns 10.0.0.0/8 from R2
// and installs it with FD=30720, successor=R2.
func TestScenarioS2(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")

	res := tbl.UpsertEntry(prefix, r2, 1,
		metric.Tuple{Delay: 10, Bandwidth: 1000000, MTU: 1500, Reliability: 255, Load: 1},
		100000, 10, 1500)

	if !res.New {
		t.Fatal("expected a new candidate entry")
	}
	if res.Entry.Distance != 30720 {
		t.Fatalf("distance = %d, want 30720", res.Entry.Distance)
	}
	p, _ := tbl.Lookup(prefix)
	if p.FD != 30720 {
		t.Fatalf("FD = %d, want 30720", p.FD)
	}
	if s := p.Successor(); s == nil || s.Neighbor != r2 {
		t.Fatalf("expected R2 as successor, got %+v", s)
	}
}

// TestScenarioS3 reproduces spec.md S3: a feasible successor exists when
// the current successor is withdrawn, so no diffusing computation is
// needed; the switch is purely local.
func TestScenarioS3(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")
	r3 := neighbor(2, "1.1.1.3")

	// Both entries compose to 30720 (R3's 500000 kbps is capped by the
	// 100000 kbps interface), so R2 stays successor on the tie; R3's
	// reported distance of 7680 is below the FD of 30720, so R3 is a
	// feasible successor.
	tbl.UpsertEntry(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500)
	tbl.UpsertEntry(prefix, r3, 2, metric.Tuple{Delay: 10, Bandwidth: 500000, Reliability: 255, Load: 1}, 100000, 10, 1500)

	p, _ := tbl.Lookup(prefix)
	if p.FD == 0 {
		t.Fatal("expected FD to have been set by the first upsert")
	}
	r3Entry := p.entry(r3)
	if !r3Entry.FeasibleSuccessor {
		t.Fatalf("expected R3 to be a feasible successor (reported distance %d < FD %d)", r3Entry.ReportedDistance, p.FD)
	}

	wasSuccessor, stillExists := tbl.Withdraw(prefix, r2)
	if !wasSuccessor {
		t.Fatal("expected R2 to have been the successor before withdraw")
	}
	if !stillExists {
		t.Fatal("expected the prefix to still exist via R3")
	}
	if s := p.Successor(); s == nil || s.Neighbor != r3 {
		t.Fatalf("expected R3 to become the new successor, got %+v", s)
	}
}

func TestWithdrawLastEntryRemovesPrefix(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	prefix := netip.MustParsePrefix("192.168.1.0/24")
	r2 := neighbor(1, "1.1.1.2")
	tbl.UpsertEntry(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500)

	_, stillExists := tbl.Withdraw(prefix, r2)
	if stillExists {
		t.Fatal("expected the prefix to be deleted once its last entry is withdrawn")
	}
	if _, ok := tbl.Lookup(prefix); ok {
		t.Fatal("expected Lookup to report the prefix gone")
	}
}

func TestWithdrawAllSinglePass(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	r2 := neighbor(1, "1.1.1.2")
	p1 := netip.MustParsePrefix("10.0.0.0/8")
	p2 := netip.MustParsePrefix("10.1.0.0/16")
	tbl.UpsertEntry(p1, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500)
	tbl.UpsertEntry(p2, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500)

	affected := tbl.WithdrawAll(r2)
	if len(affected) != 2 {
		t.Fatalf("expected 2 affected prefixes, got %d", len(affected))
	}
	if len(tbl.All()) != 0 {
		t.Fatal("expected both prefixes to be removed")
	}
}

// TestInvariantP1 checks that for every PASSIVE prefix, every candidate
// entry's distance is >= FD, and at most one carries SUCCESSOR.
func TestInvariantP1(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	prefix := netip.MustParsePrefix("172.16.0.0/16")
	for i, ip := range []string{"1.1.1.2", "1.1.1.3", "1.1.1.4"} {
		tbl.UpsertEntry(prefix, neighbor(i, ip), ident.IfaceID(i),
			metric.Tuple{Delay: uint32(10 * (i + 1)), Bandwidth: 1000000, Reliability: 255, Load: 1},
			100000, 10, 1500)
	}
	p, _ := tbl.Lookup(prefix)
	successors := 0
	for _, e := range p.Entries {
		if e.Distance < p.FD {
			t.Fatalf("entry %+v violates P1: distance %d < FD %d", e, e.Distance, p.FD)
		}
		if e.Successor {
			successors++
		}
	}
	if successors != 1 {
		t.Fatalf("expected exactly one successor, got %d", successors)
	}
}

// TestFDDoesNotRiseWhenSuccessorVanishes reproduces spec.md S4's setup:
// once the low-distance successor disappears and the only remaining
// entry is not feasible against the frozen FD, no successor is chosen
// until Repassivate runs at the end of a diffusing computation.
func TestFDDoesNotRiseWhenSuccessorVanishes(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")
	r3 := neighbor(2, "1.1.1.3")

	tbl.UpsertEntry(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500)
	tbl.UpsertEntry(prefix, r3, 2, metric.Tuple{Delay: 5000, Bandwidth: 10000, Reliability: 255, Load: 1}, 100000, 10, 1500)

	p, _ := tbl.Lookup(prefix)
	frozenFD := p.FD
	r3Entry := p.entry(r3)
	if r3Entry.FeasibleSuccessor {
		t.Fatalf("expected R3 (reported distance %d) to be infeasible against FD %d", r3Entry.ReportedDistance, frozenFD)
	}

	_, stillExists := tbl.Withdraw(prefix, r2)
	if !stillExists {
		t.Fatal("expected the prefix to still exist via R3")
	}
	if p.FD != frozenFD {
		t.Fatalf("FD must not rise once the low-distance successor vanishes: got %d, want %d", p.FD, frozenFD)
	}
	if p.Successor() != nil {
		t.Fatalf("expected no successor while R3 remains infeasible, got %+v", p.Successor())
	}

	successor := tbl.Repassivate(p)
	if successor == nil || successor.Neighbor != r3 {
		t.Fatalf("expected Repassivate to adopt R3 once the computation settles, got %+v", successor)
	}
	if p.FD != r3Entry.Distance {
		t.Fatalf("expected FD to reset to R3's distance %d, got %d", r3Entry.Distance, p.FD)
	}
}

func TestConnectedNeverGoesActive(t *testing.T) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := New(k)
	prefix := netip.MustParsePrefix("10.10.10.0/24")
	p := tbl.InsertConnected(prefix)
	if p.FD != 0 || p.RD != 0 || p.State != Passive {
		t.Fatalf("connected prefix should start FD=0 RD=0 PASSIVE, got %+v", p)
	}
}
