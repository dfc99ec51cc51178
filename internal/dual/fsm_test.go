package dual

import (
	"net/netip"
	"testing"
	"time"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
	"github.com/eigrpd/eigrpd/internal/topology"
	"github.com/sirupsen/logrus"
)

func neighbor(iface int, ip string) ident.NeighborID {
	return ident.NeighborID{Iface: ident.IfaceID(iface), Peer: netip.MustParseAddr(ip)}
}

func newEngine() (*Engine, *topology.Table) {
	k := metric.KValues{K1: 1, K3: 1}
	tbl := topology.New(k)
	return New(tbl, 50*time.Millisecond, logrus.NewEntry(logrus.New())), tbl
}

// TestScenarioS2InstallOnFirstUpdate mirrors spec.md S2 end to end
// through the DUAL engine: the first UPDATE for a brand new prefix
// installs it, with no QUERY round needed.
func TestScenarioS2InstallOnFirstUpdate(t *testing.T) {
	e, _ := newEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")
	in := NewInput(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500)

	actions := e.HandleUpdate(in, []ident.NeighborID{r2}, time.Now())
	if len(actions) != 2 || actions[0].Kind != ActionSendUpdate || actions[1].Kind != ActionInstallRoute {
		t.Fatalf("expected a SendUpdate followed by an InstallRoute action, got %+v", actions)
	}
	if actions[0].Distance != 30720 {
		t.Fatalf("distance = %d, want 30720", actions[0].Distance)
	}
}

// TestScenarioS4DiffusingComputation mirrors spec.md S4: no feasible
// successor exists, so the engine must go ACTIVE and query every UP
// neighbor; once every REPLY arrives it returns to PASSIVE with a new
// successor installed.
func TestScenarioS4DiffusingComputation(t *testing.T) {
	e, tbl := newEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")
	r3 := neighbor(2, "1.1.1.3")
	now := time.Now()

	// Establish an initial successor via R2 (FD fixed at this distance).
	e.HandleUpdate(NewInput(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2, r3}, now)

	// R3's reported distance is NOT feasible (higher than FD).
	e.HandleUpdate(NewInput(prefix, r3, 2, metric.Tuple{Delay: 5000, Bandwidth: 10000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2, r3}, now)

	p, _ := tbl.Lookup(prefix)
	if p.State != topology.Passive {
		t.Fatalf("setup: expected still PASSIVE, got %v", p.State)
	}

	// R2 disappears with no feasible successor left (R3 is infeasible):
	// this must start a diffusing computation.
	actions := e.HandleNeighborDown(r2, []ident.NeighborID{r3}, now)
	if p.State == topology.Passive {
		t.Fatalf("expected prefix to go ACTIVE once the feasible successor vanished")
	}
	foundQuery := false
	for _, a := range actions {
		if a.Kind == ActionSendQuery {
			foundQuery = true
		}
	}
	if !foundQuery {
		t.Fatalf("expected a SendQuery action, got %+v", actions)
	}
	if !p.Rij[r3] {
		t.Fatalf("expected R3 to be in Rij, got %+v", p.Rij)
	}

	// R3 replies; Rij empties, so the prefix must settle back to PASSIVE.
	replyActions := e.HandleReply(NewInput(prefix, r3, 2, metric.Tuple{Delay: 5000, Bandwidth: 10000, Reliability: 255, Load: 1}, 100000, 10, 1500))
	if p.State != topology.Passive {
		t.Fatalf("expected prefix to settle PASSIVE once Rij emptied, got %v", p.State)
	}
	installed := false
	for _, a := range replyActions {
		if a.Kind == ActionInstallRoute {
			installed = true
		}
	}
	if !installed {
		t.Fatalf("expected an InstallRoute action, got %+v", replyActions)
	}
}

func TestQueryForUnknownPrefixRepliesUnreachable(t *testing.T) {
	e, _ := newEngine()
	prefix := netip.MustParsePrefix("192.0.2.0/24")
	r2 := neighbor(1, "1.1.1.2")
	actions := e.HandleQuery(NewInput(prefix, r2, 1, metric.Tuple{}, 100000, 10, 1500), nil, time.Now())
	if len(actions) != 1 || actions[0].Kind != ActionSendReply || !actions[0].Unreachable {
		t.Fatalf("expected a single unreachable reply, got %+v", actions)
	}
}

// TestStuckInActiveHalfBudgetEmitsSIAQuery reproduces spec.md's
// stuck-in-active escalation (spec §4.F/§5, invariant P4): once a prefix
// has been ACTIVE for half its budget with no REPLY yet, the engine must
// emit one SIAQUERY per outstanding Rij member, exactly once.
func TestStuckInActiveHalfBudgetEmitsSIAQuery(t *testing.T) {
	e, tbl := newEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")
	r3 := neighbor(2, "1.1.1.3")
	now := time.Now()

	e.HandleUpdate(NewInput(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2, r3}, now)
	e.HandleUpdate(NewInput(prefix, r3, 2, metric.Tuple{Delay: 5000, Bandwidth: 10000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2, r3}, now)

	actions := e.HandleNeighborDown(r2, []ident.NeighborID{r3}, now)
	p, _ := tbl.Lookup(prefix)
	if p.State == topology.Passive {
		t.Fatalf("setup: expected prefix ACTIVE, actions=%+v", actions)
	}

	half := now.Add(e.ActiveTimeout() / 2)
	siaActions := e.CheckActiveTimer(prefix, half)
	if len(siaActions) != 1 || siaActions[0].Kind != ActionSendSIAQuery || len(siaActions[0].To) != 1 || siaActions[0].To[0] != r3 {
		t.Fatalf("expected one SIAQUERY to r3, got %+v", siaActions)
	}
	if !p.SIAQuerySent {
		t.Fatal("expected SIAQuerySent to be set")
	}

	// A second check before full budget must not repeat the SIAQUERY.
	if again := e.CheckActiveTimer(prefix, half.Add(time.Millisecond)); len(again) != 0 {
		t.Fatalf("expected no repeated SIAQUERY, got %+v", again)
	}
}

// TestStuckInActiveFullBudgetDeclaresStuck reproduces the full-budget half
// of the same escalation: a peer that never SIAREPLYs is declared stuck
// (spec §7 StuckInActive) while one that did reply is left alone.
func TestStuckInActiveFullBudgetDeclaresStuck(t *testing.T) {
	e, tbl := newEngine()
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r2 := neighbor(1, "1.1.1.2")
	r3 := neighbor(2, "1.1.1.3")
	r4 := neighbor(3, "1.1.1.4")
	now := time.Now()

	e.HandleUpdate(NewInput(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2, r3, r4}, now)
	e.HandleUpdate(NewInput(prefix, r3, 2, metric.Tuple{Delay: 5000, Bandwidth: 10000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2, r3, r4}, now)

	e.HandleNeighborDown(r2, []ident.NeighborID{r3, r4}, now)
	p, _ := tbl.Lookup(prefix)
	if p.State == topology.Passive {
		t.Fatal("setup: expected prefix ACTIVE")
	}

	half := now.Add(e.ActiveTimeout() / 2)
	e.CheckActiveTimer(prefix, half)

	// r4 replies with an SIAREPLY before the full budget; r3 never does.
	e.HandleSIAReply(prefix, r4)

	full := now.Add(e.ActiveTimeout())
	actions := e.CheckActiveTimer(prefix, full)
	if len(actions) != 1 || actions[0].Kind != ActionDeclareStuck {
		t.Fatalf("expected one DeclareStuck action, got %+v", actions)
	}
	if len(actions[0].To) != 1 || actions[0].To[0] != r3 {
		t.Fatalf("expected only r3 declared stuck, got %+v", actions[0].To)
	}
}

func TestZeroEntryPrefixEmitsUnreachableOnce(t *testing.T) {
	e, tbl := newEngine()
	prefix := netip.MustParsePrefix("203.0.113.0/24")
	r2 := neighbor(1, "1.1.1.2")
	e.HandleUpdate(NewInput(prefix, r2, 1, metric.Tuple{Delay: 10, Bandwidth: 1000000, Reliability: 255, Load: 1}, 100000, 10, 1500),
		[]ident.NeighborID{r2}, time.Now())

	actions := e.HandleNeighborDown(r2, nil, time.Now())
	withdraws := 0
	for _, a := range actions {
		if a.Kind == ActionWithdrawRoute {
			withdraws++
		}
	}
	if withdraws != 1 {
		t.Fatalf("expected exactly one WithdrawRoute action, got %d (%+v)", withdraws, actions)
	}
	if _, ok := tbl.Lookup(prefix); ok {
		t.Fatal("expected the prefix to be gone from the table")
	}
}
