package dual

import (
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
	"github.com/eigrpd/eigrpd/internal/topology"
)

// DefaultActiveTimeout is the active-timer budget (spec §5): 180s, with
// a SIAQUERY round at half budget (90s).
const DefaultActiveTimeout = 180 * time.Second

// Engine runs the per-prefix DUAL state machine against a topology
// table. It holds no neighbor or socket state of its own: every
// transition is expressed as a list of Actions the caller (the router
// engine) carries out.
type Engine struct {
	table         *topology.Table
	activeTimeout time.Duration
	log           *logrus.Entry
}

// New creates a DUAL engine bound to table.
func New(table *topology.Table, activeTimeout time.Duration, log *logrus.Entry) *Engine {
	if activeTimeout <= 0 {
		activeTimeout = DefaultActiveTimeout
	}
	return &Engine{table: table, activeTimeout: activeTimeout, log: log}
}

// Input bundles the parameters common to HandleUpdate/HandleQuery/
// HandleReply: the TLV's content plus the local interface it arrived on.
type Input struct {
	prefix               netip.Prefix
	from                 ident.NeighborID
	iface                ident.IfaceID
	reported             metric.Tuple
	ifBW, ifDelay, ifMTU uint32
}

// HandleUpdate processes an UPDATE TLV for one prefix (spec §4.F events
// 1/2/4). upNeighbors is every UP neighbor across every interface, used
// to seed Rij if a diffusing computation must start.
func (e *Engine) HandleUpdate(in Input, upNeighbors []ident.NeighborID, now time.Time) []Action {
	res := e.table.UpsertEntry(in.prefix, in.from, in.iface, in.reported, in.ifBW, in.ifDelay, in.ifMTU)
	p := res.Prefix
	if p.Connected {
		return nil
	}

	switch p.State {
	case topology.Passive:
		return e.reevaluatePassive(p, upNeighbors, now)
	default:
		// "If an UPDATE arrives while ACTIVE from a neighbor not in rij,
		// it is recorded in the candidate set but does not cause
		// transition" (spec §4.F "Edge policies"). The upsert above
		// already recorded it; nothing further to do.
		return nil
	}
}

// HandleQuery processes a QUERY TLV (spec §4.F event 3, and event 4 when
// it additionally causes the feasibility condition to fail).
func (e *Engine) HandleQuery(in Input, upNeighbors []ident.NeighborID, now time.Time) []Action {
	existing, known := e.table.Lookup(in.prefix)
	if !known {
		// "A QUERY received for a prefix unknown locally is answered
		// with an unreachable REPLY."
		return []Action{{
			Kind: ActionSendReply, Prefix: in.prefix,
			To: []ident.NeighborID{in.from}, Unreachable: true,
		}}
	}
	_ = existing

	res := e.table.UpsertEntry(in.prefix, in.from, in.iface, in.reported, in.ifBW, in.ifDelay, in.ifMTU)
	p := res.Prefix
	if p.Connected {
		return nil
	}

	switch p.State {
	case topology.Passive:
		best := p.Successor()
		reply := Action{Kind: ActionSendReply, Prefix: in.prefix, To: []ident.NeighborID{in.from}}
		if best == nil || best.Distance == metric.Max {
			reply.Unreachable = true
		} else {
			reply.Metric = best.TotalMetric
			reply.Distance = best.Distance
		}
		actions := []Action{reply}
		if best == nil || !best.FeasibleSuccessor {
			actions = append(actions, e.goActive(p, false, upNeighbors, now)...)
		}
		return actions
	default:
		// We are already ACTIVE on this prefix ourselves; reply with our
		// frozen FD so the querying peer can make progress, without
		// altering our own Rij (spec §4.F event 3 commentary).
		return []Action{{
			Kind: ActionSendReply, Prefix: in.prefix,
			To: []ident.NeighborID{in.from}, Distance: p.FD,
		}}
	}
}

// HandleReply processes a REPLY TLV while ACTIVE (spec §4.F "From
// ACTIVE"). It is a no-op if the prefix is unknown or not currently
// ACTIVE; the reply's metric is then not recorded either.
func (e *Engine) HandleReply(in Input) []Action {
	p, known := e.table.Lookup(in.prefix)
	if !known || p.State == topology.Passive || p.Rij == nil {
		return nil
	}

	e.table.UpsertEntry(in.prefix, in.from, in.iface, in.reported, in.ifBW, in.ifDelay, in.ifMTU)
	delete(p.Rij, in.from)
	if len(p.Rij) > 0 {
		return nil
	}
	return e.settleActive(p)
}

// HandleSIAReply records a liveness proof from a neighbor we SIAQUERY'd;
// it does not remove the neighbor from Rij (spec §4.F, GLOSSARY "SIA").
func (e *Engine) HandleSIAReply(prefix netip.Prefix, from ident.NeighborID) {
	p, known := e.table.Lookup(prefix)
	if !known || p.SIARepliedBy == nil {
		return
	}
	p.SIARepliedBy[from] = true
}

// HandleSIAQuery answers a peer's stuck-in-active probe with a liveness
// acknowledgement, regardless of our own local DUAL state for prefix.
func (e *Engine) HandleSIAQuery(prefix netip.Prefix, from ident.NeighborID) []Action {
	return []Action{{Kind: ActionSendSIAReply, Prefix: prefix, To: []ident.NeighborID{from}}}
}

// ActiveTimeout reports the per-prefix active-timer budget, for the
// caller (the router engine) to compute the half- and full-budget
// deadlines to schedule when a prefix goes ACTIVE.
func (e *Engine) ActiveTimeout() time.Duration {
	return e.activeTimeout
}

// CheckActiveTimer applies spec §4.F/§5's stuck-in-active escalation for
// one prefix at a scheduled deadline: a SIAQUERY round to every
// outstanding rij member at half budget, and declaring stuck (spec §7
// StuckInActive: "peer→DOWN for each unresponsive peer in rij") whoever
// never SIAREPLYs by full budget. It is a no-op if the prefix is not
// currently ACTIVE or the deadline fired early (the timer wheel does not
// guarantee exact fire times).
func (e *Engine) CheckActiveTimer(prefix netip.Prefix, now time.Time) []Action {
	p, known := e.table.Lookup(prefix)
	if !known || p.State == topology.Passive || p.Rij == nil {
		return nil
	}
	elapsed := now.Sub(p.ActiveStart)

	if elapsed >= e.activeTimeout {
		var stuck []ident.NeighborID
		for n := range p.Rij {
			if !p.SIARepliedBy[n] {
				stuck = append(stuck, n)
			}
		}
		if len(stuck) == 0 {
			return nil
		}
		return []Action{{Kind: ActionDeclareStuck, Prefix: prefix, To: stuck}}
	}

	if !p.SIAQuerySent && elapsed >= e.activeTimeout/2 {
		p.SIAQuerySent = true
		actions := make([]Action, 0, len(p.Rij))
		for n := range p.Rij {
			actions = append(actions, Action{Kind: ActionSendSIAQuery, Prefix: prefix, To: []ident.NeighborID{n}})
		}
		return actions
	}
	return nil
}

// HandleNeighborDown withdraws every candidate entry owned by neighbor
// and re-evaluates each affected prefix (spec §4.E "withdraw_all").
func (e *Engine) HandleNeighborDown(neighbor ident.NeighborID, upNeighbors []ident.NeighborID, now time.Time) []Action {
	affected := e.table.WithdrawAll(neighbor)
	var actions []Action
	for _, p := range affected {
		if p.Connected {
			continue
		}
		if _, known := e.table.Lookup(p.Prefix); !known {
			// The prefix lost its last entry entirely.
			actions = append(actions, Action{Kind: ActionWithdrawRoute, Prefix: p.Prefix})
			continue
		}
		if p.State == topology.Passive {
			actions = append(actions, e.reevaluatePassive(p, upNeighbors, now)...)
		}
		// If it was ACTIVE, removing one candidate just shrinks the
		// candidate set; Rij bookkeeping is untouched unless `neighbor`
		// was itself in Rij, handled the same as any other reply-style
		// departure:
		if p.State != topology.Passive && p.Rij != nil {
			if _, waiting := p.Rij[neighbor]; waiting {
				delete(p.Rij, neighbor)
				if len(p.Rij) == 0 {
					actions = append(actions, e.settleActive(p)...)
				}
			}
		}
	}
	return actions
}

// HandleLocalMetricChange re-evaluates every prefix touched by an
// outgoing-interface metric change (spec §4.F event 7).
func (e *Engine) HandleLocalMetricChange(iface ident.IfaceID, bandwidth, delay, mtu uint32, upNeighbors []ident.NeighborID, now time.Time) []Action {
	affected := e.table.UpdateInterfaceMetric(iface, bandwidth, delay, mtu)
	var actions []Action
	for _, p := range affected {
		if p.Connected || p.State != topology.Passive {
			continue
		}
		actions = append(actions, e.reevaluatePassive(p, upNeighbors, now)...)
	}
	return actions
}

// reevaluatePassive implements the PASSIVE branch of spec §4.F
// "Transitions summarized": absorb if the feasibility condition holds,
// otherwise start a diffusing computation.
func (e *Engine) reevaluatePassive(p *topology.PrefixEntry, upNeighbors []ident.NeighborID, now time.Time) []Action {
	best := p.Successor()
	feasible := best != nil && best.FeasibleSuccessor
	if feasible {
		if !p.NeedUpdate {
			return nil
		}
		p.NeedUpdate = false
		return []Action{e.broadcastUpdate(p, best), {
			Kind: ActionInstallRoute, Prefix: p.Prefix,
			Distance: best.Distance, Metric: best.TotalMetric, NextHop: best.Neighbor,
		}}
	}
	return e.goActive(p, true, upNeighbors, now)
}

// goActive starts a diffusing computation (spec §4.F ACTIVE1/ACTIVE3).
// localOrigin distinguishes a locally detected FC failure (ACTIVE1) from
// one caused by an incoming QUERY (ACTIVE3); see DESIGN.md for how the
// remaining ACTIVE0/ACTIVE2 substates are assigned.
func (e *Engine) goActive(p *topology.PrefixEntry, localOrigin bool, upNeighbors []ident.NeighborID, now time.Time) []Action {
	if localOrigin {
		p.State = topology.Active1
	} else {
		p.State = topology.Active3
	}
	p.BeginActive(now)
	for _, n := range upNeighbors {
		p.Rij[n] = true
	}

	best := p.Successor()
	query := Action{Kind: ActionSendQuery, Prefix: p.Prefix}
	if best == nil || best.Distance == metric.Max {
		query.Unreachable = true
	} else {
		query.Metric = best.TotalMetric
		query.Distance = best.Distance
	}
	if len(upNeighbors) == 0 {
		// No one to query: the computation settles immediately.
		return e.settleActive(p)
	}
	return []Action{query}
}

// settleActive picks the new successor once Rij has emptied (spec §4.F
// "If rij becomes ∅") and returns to PASSIVE.
func (e *Engine) settleActive(p *topology.PrefixEntry) []Action {
	e.table.Repassivate(p)
	p.EndActive()
	best := p.Successor()

	if best == nil {
		// Event 6: REPLY with unreachable from all peers.
		e.table.Delete(p.Prefix)
		return []Action{{Kind: ActionWithdrawRoute, Prefix: p.Prefix}}
	}

	return []Action{e.broadcastUpdate(p, best), {
		Kind: ActionInstallRoute, Prefix: p.Prefix,
		Distance: best.Distance, Metric: best.TotalMetric, NextHop: best.Neighbor,
	}}
}

// broadcastUpdate builds the split-horizon UPDATE for p's current
// successor, excluding the successor's own incoming interface (SPEC_FULL
// §4 "Split-horizon on outbound UPDATE/QUERY").
func (e *Engine) broadcastUpdate(p *topology.PrefixEntry, successor *topology.CandidateEntry) Action {
	a := Action{Kind: ActionSendUpdate, Prefix: p.Prefix, HasExclude: true, ExcludeIface: successor.Iface}
	if successor.Distance == metric.Max {
		a.Unreachable = true
	} else {
		a.Metric = successor.TotalMetric
		a.Distance = successor.Distance
	}
	return a
}

// NewInput builds an Input for HandleUpdate/HandleQuery/HandleReply.
func NewInput(prefix netip.Prefix, from ident.NeighborID, iface ident.IfaceID, reported metric.Tuple, ifBW, ifDelay, ifMTU uint32) Input {
	return Input{prefix: prefix, from: from, iface: iface, reported: reported, ifBW: ifBW, ifDelay: ifDelay, ifMTU: ifMTU}
}
