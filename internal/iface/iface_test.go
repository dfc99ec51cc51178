package iface

import (
	"net/netip"
	"testing"
	"time"

	"github.com/eigrpd/eigrpd/internal/ident"
)

func TestWithDefaultsFillsSpecDefaults(t *testing.T) {
	i := New(1, Config{}, time.Now())
	if i.Config.HelloInterval != DefaultHelloInterval {
		t.Fatalf("HelloInterval = %v, want %v", i.Config.HelloInterval, DefaultHelloInterval)
	}
	if i.Config.HoldTime != DefaultHoldTime {
		t.Fatalf("HoldTime = %v, want %v", i.Config.HoldTime, DefaultHoldTime)
	}
	if i.Config.Bandwidth != DefaultBandwidth || i.Config.Delay != DefaultDelay {
		t.Fatalf("got bandwidth=%d delay=%d, want defaults", i.Config.Bandwidth, i.Config.Delay)
	}
}

func TestHelloTargetsBroadcastIsMulticast(t *testing.T) {
	i := New(1, Config{NetworkType: Broadcast}, time.Now())
	targets := i.HelloTargets()
	if len(targets) != 1 || targets[0] != MulticastGroup {
		t.Fatalf("expected a single multicast target, got %+v", targets)
	}
}

func TestHelloTargetsNBMAIsUnicastToStaticNeighbors(t *testing.T) {
	r2 := netip.MustParseAddr("10.0.0.2")
	r3 := netip.MustParseAddr("10.0.0.3")
	i := New(1, Config{NetworkType: NBMA, StaticNeighbors: []netip.Addr{r2, r3}}, time.Now())
	targets := i.HelloTargets()
	if len(targets) != 2 || targets[0] != r2 || targets[1] != r3 {
		t.Fatalf("expected unicast targets [%v %v], got %+v", r2, r3, targets)
	}
}

func TestPassiveInterfaceEmitsNoHellos(t *testing.T) {
	i := New(1, Config{Passive: true, NetworkType: Broadcast}, time.Now())
	if targets := i.HelloTargets(); targets != nil {
		t.Fatalf("expected no hello targets on a passive interface, got %+v", targets)
	}
	if i.AcceptsTraffic() {
		t.Fatal("expected a passive interface to reject traffic")
	}
}

func TestLoopbackEmitsNoHellos(t *testing.T) {
	i := New(1, Config{NetworkType: Loopback}, time.Now())
	if targets := i.HelloTargets(); targets != nil {
		t.Fatalf("expected no hello targets on a loopback interface, got %+v", targets)
	}
}

func TestRearmHelloAdvancesByInterval(t *testing.T) {
	now := time.Now()
	i := New(1, Config{HelloInterval: 5 * time.Second}, now)
	i.RearmHello(now)
	if !i.HelloDeadline.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("HelloDeadline = %v, want %v", i.HelloDeadline, now.Add(5*time.Second))
	}
}

func TestAddRemoveNeighbor(t *testing.T) {
	i := New(1, Config{}, time.Now())
	addr := netip.MustParseAddr("1.1.1.2")
	id := ident.NeighborID{Iface: 1, Peer: addr}
	i.AddNeighbor(addr, id)
	if _, ok := i.Neighbors[addr]; !ok {
		t.Fatal("expected neighbor to be recorded")
	}
	i.RemoveNeighbor(addr)
	if _, ok := i.Neighbors[addr]; ok {
		t.Fatal("expected neighbor to be removed")
	}
}

func TestStatsSnapshot(t *testing.T) {
	i := New(1, Config{}, time.Now())
	i.Stats.HellosSent.Increment()
	i.Stats.HellosSent.Increment()
	i.Stats.UpdatesRecv.Increment()

	snap := i.Stats.Snapshot()
	if snap.HellosSent != 2 {
		t.Fatalf("HellosSent = %d, want 2", snap.HellosSent)
	}
	if snap.UpdatesRecv != 1 {
		t.Fatalf("UpdatesRecv = %d, want 1", snap.UpdatesRecv)
	}
}
