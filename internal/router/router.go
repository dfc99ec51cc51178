// Package router implements the instance-wide event loop (spec §4.H):
// the raw socket, the timer wheel, the write-ready scheduler, and the
// demultiplexing of inbound packets out to the neighbor FSM, the
// topology table and DUAL, and the transport FIFOs.
package router

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eigrpd/eigrpd/internal/dual"
	"github.com/eigrpd/eigrpd/internal/iface"
	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
	"github.com/eigrpd/eigrpd/internal/neighbor"
	"github.com/eigrpd/eigrpd/internal/packet"
	"github.com/eigrpd/eigrpd/internal/topology"
	"github.com/eigrpd/eigrpd/internal/transport"
)

// RouteSink is the external collaborator named in spec §6 ("the core
// emits install(prefix, nexthop, distance, metric) and withdraw(prefix)
// calls... the receiver is expected to be idempotent").
type RouteSink interface {
	Install(prefix netip.Prefix, nextHop netip.Addr, distance uint32, m metric.Tuple)
	Withdraw(prefix netip.Prefix)
}

// FilterOracle is spec §6's per-direction, per-interface filter
// collaborator.
type FilterOracle interface {
	PermitIn(ifaceName string, prefix netip.Prefix) bool
	PermitOut(ifaceName string, prefix netip.Prefix) bool
}

// alwaysPermit is the default FilterOracle when none is supplied.
type alwaysPermit struct{}

func (alwaysPermit) PermitIn(string, netip.Prefix) bool  { return true }
func (alwaysPermit) PermitOut(string, netip.Prefix) bool { return true }

// Instance holds one AS instance's identity: AS number and router-id
// (spec §6 "Router-id hint... selection priority is static-configured >
// previously-used > hint").
type Instance struct {
	AS       uint16
	RouterID uint32
	K        metric.KValues
}

// Router is the single cooperative-loop owner described in spec §4.H
// and §5. Every field it owns is touched only from the RunOnce loop; there is
// no locking anywhere in this struct.
type Router struct {
	inst Instance
	log  *logrus.Entry

	sock *RawSocket

	ifaces        map[ident.IfaceID]*iface.Interface
	ifacesByIP    map[netip.Addr]ident.IfaceID
	ifacesByIndex map[int]ident.IfaceID
	ifaceAddr     map[ident.IfaceID]netip.Addr
	nextIface     ident.IfaceID

	neighbors map[ident.NeighborID]*neighbor.Neighbor

	topo *topology.Table
	dual *dual.Engine

	seq      *transport.SequenceAllocator
	channels *transport.Channels

	wheel *TimerWheel

	routes RouteSink
	filter FilterOracle

	shutdown bool
}

// New constructs a Router. routes must be supplied; filter may be nil,
// in which case every prefix is permitted in both directions.
func New(inst Instance, sock *RawSocket, routes RouteSink, filter FilterOracle, log *logrus.Entry) *Router {
	if filter == nil {
		filter = alwaysPermit{}
	}
	log = log.WithFields(logrus.Fields{"as": inst.AS, "router_id": inst.RouterID})
	topo := topology.New(inst.K)
	seq := transport.NewSequenceAllocator()
	return &Router{
		inst:          inst,
		log:           log,
		sock:          sock,
		ifaces:        make(map[ident.IfaceID]*iface.Interface),
		ifacesByIP:    make(map[netip.Addr]ident.IfaceID),
		ifacesByIndex: make(map[int]ident.IfaceID),
		ifaceAddr:     make(map[ident.IfaceID]netip.Addr),
		neighbors:     make(map[ident.NeighborID]*neighbor.Neighbor),
		topo:          topo,
		dual:          dual.New(topo, dual.DefaultActiveTimeout, log.WithField("component", "dual")),
		seq:           seq,
		channels:      transport.NewChannels(seq),
		wheel:         NewTimerWheel(),
		routes:        routes,
		filter:        filter,
	}
}

// AddInterface brings an interface up (spec §4.C "On interface-up,
// create the EIGRP-interface record, join 224.0.0.10..."). localAddr is
// the interface's own IPv4 address, used both as the hello source and
// as the key recovered from IP_PKTINFO on receive; ifIndex is the host
// OS interface index IP_PKTINFO reports on arrival.
func (r *Router) AddInterface(cfg iface.Config, localAddr netip.Addr, ifIndex int, now time.Time) (ident.IfaceID, error) {
	id := r.nextIface
	r.nextIface++
	ifc := iface.New(id, cfg, now)
	r.ifaces[id] = ifc
	r.ifacesByIP[localAddr] = id
	r.ifacesByIndex[ifIndex] = id
	r.ifaceAddr[id] = localAddr

	if !cfg.Passive && r.sock != nil {
		if err := r.sock.JoinMulticast(iface.MulticastGroup, localAddr); err != nil {
			return id, fmt.Errorf("join multicast on %s: %w", cfg.Name, err)
		}
		ifc.Joined = true
	}
	if cfg.Prefix.IsValid() {
		r.topo.InsertConnected(cfg.Prefix)
	}
	if !cfg.Passive {
		r.armHello(ifc, now)
	}
	r.log.WithFields(logrus.Fields{"iface": cfg.Name, "network": cfg.NetworkType}).Info("interface up")
	return id, nil
}

func (r *Router) armHello(ifc *iface.Interface, now time.Time) {
	ifc.RearmHello(now)
	r.wheel.Schedule(ifc.HelloDeadline, func(now time.Time) { r.fireHello(ifc, now) })
}

func (r *Router) fireHello(ifc *iface.Interface, now time.Time) {
	if r.shutdown {
		return
	}
	targets := ifc.HelloTargets()
	pkt := r.buildHello(ifc)
	data := pkt.Marshal()
	src := r.localAddrOf(ifc)
	for _, dst := range targets {
		if env, err := BuildEnvelope(src, dst, data); err == nil && r.sock != nil {
			if err := r.sock.SendTo(dst, env); err != nil {
				r.log.WithError(err).Warn("hello send failed")
			}
		}
		ifc.Stats.HellosSent.Increment()
	}
	r.armHello(ifc, now)
}

// localAddrOf resolves an interface's own address for use as the
// envelope source.
func (r *Router) localAddrOf(ifc *iface.Interface) netip.Addr {
	return r.ifaceAddr[ifc.ID]
}

func (r *Router) buildHello(ifc *iface.Interface) packet.Packet {
	return packet.Packet{
		Header: packet.Header{
			Version: packet.Version, Opcode: packet.OpcodeHello, ASNumber: r.inst.AS,
		},
		Parameter: &packet.ParameterTLV{K: r.inst.K, HoldTime: uint16(ifc.Config.HoldTime / time.Second)},
	}
}

// HandleReadable is the socket-readable step of the cooperative loop
// (spec §4.H "pick next ready thing (readable socket...); dispatch").
// buf/oob are caller-owned scratch buffers reused across calls.
func (r *Router) HandleReadable(buf, oob []byte, now time.Time) {
	rcv, err := r.sock.RecvMsg(buf, oob)
	if err != nil {
		return
	}
	ifaceID, ok := r.ifacesByIP[rcv.Dst]
	if !ok {
		ifaceID, ok = r.resolveByIfIndex(rcv.ArrivalIfIndex)
	}
	if !ok {
		return
	}
	ifc := r.ifaces[ifaceID]
	if !ifc.AcceptsTraffic() {
		return
	}

	pkt, err := packet.Decode(rcv.Payload)
	if err != nil {
		ifc.Stats.DroppedMalformed.Increment()
		r.log.WithError(err).Debug("dropped malformed packet")
		return
	}
	if err := packet.CheckAS(pkt.Header, r.inst.AS); err != nil {
		ifc.Stats.DroppedMalformed.Increment()
		return
	}
	r.dispatch(ifc, rcv.Src, pkt, now)
}

func (r *Router) resolveByIfIndex(ifIndex int) (ident.IfaceID, bool) {
	id, ok := r.ifacesByIndex[ifIndex]
	return id, ok
}

// dispatch routes one decoded packet through the neighbor FSM, then
// transport ack-handling, then DUAL, exactly per spec §5's "no mid-
// operation suspension within a packet-handler."
func (r *Router) dispatch(ifc *iface.Interface, src netip.Addr, pkt *packet.Packet, now time.Time) {
	nid := ident.NeighborID{Iface: ifc.ID, Peer: src}

	if pkt.Header.Opcode == packet.OpcodeHello {
		r.handleHello(ifc, nid, src, pkt, now)
		if n, ok := r.neighbors[nid]; ok {
			n.RestartFlagSeen = pkt.Header.Flags.Has(packet.FlagRestart)
		}
		return
	}

	n, known := r.neighbors[nid]
	if !known || n.State == neighbor.Down {
		// "NoSuchNeighbor | non-hello from unknown src | drop" (spec §7).
		return
	}
	n.RecordSeq(pkt.Header.Sequence)
	n.RestartFlagSeen = pkt.Header.Flags.Has(packet.FlagRestart)
	for _, next := range r.channels.HandleAck(nid, pkt.Header.Ack) {
		// The new tail was queued behind the packet that just got acked,
		// so its retransmit deadline has never been armed (spec §4.B "if
		// FIFO was empty, transmit the tail" — this is that same rule
		// applied as the old tail vacates).
		next.NextDeadline = now.Add(transport.RetransmitInterval)
		r.transmitReliable(ifc, n, next)
	}
	if ev := n.HandleInitAck(pkt.Header.Ack); ev == neighbor.EventSendEOTBurst {
		r.sendEOTBurst(ifc, n, now)
	}

	if pkt.PeerTermination {
		r.teardownNeighbor(n, now)
		return
	}

	switch pkt.Header.Opcode {
	case packet.OpcodeUpdate:
		ifc.Stats.UpdatesRecv.Increment()
		if pkt.Header.Flags.Has(packet.FlagEndOfTable) {
			if ev := n.HandleEOT(); ev == neighbor.EventAdjacencyUp {
				r.log.WithField("peer", src).Info("adjacency up")
			}
		}
		if n.State != neighbor.Up {
			return
		}
		r.applyUpdateRoutes(ifc, nid, pkt, now)
	case packet.OpcodeQuery:
		ifc.Stats.QueriesRecv.Increment()
		if n.State == neighbor.Up {
			r.applyQueryRoutes(ifc, nid, pkt, now)
		}
	case packet.OpcodeReply:
		ifc.Stats.RepliesRecv.Increment()
		if n.State == neighbor.Up {
			r.applyReplyRoutes(ifc, nid, pkt)
		}
	case packet.OpcodeSIAQuery:
		if n.State == neighbor.Up {
			for _, action := range r.dual.HandleSIAQuery(prefixOf(pkt), nid) {
				r.carryOut(ifc, action, now)
			}
		}
	case packet.OpcodeSIAReply:
		if n.State == neighbor.Up {
			r.dual.HandleSIAReply(prefixOf(pkt), nid)
		}
	}
}

func prefixOf(pkt *packet.Packet) netip.Prefix {
	if len(pkt.Routes) == 0 {
		return netip.Prefix{}
	}
	route := pkt.Routes[0]
	addr, ok := netip.AddrFromSlice(route.Prefix.To4())
	if !ok {
		return netip.Prefix{}
	}
	return netip.PrefixFrom(addr, int(route.PrefixLen))
}

func (r *Router) handleHello(ifc *iface.Interface, nid ident.NeighborID, src netip.Addr, pkt *packet.Packet, now time.Time) {
	ifc.Stats.HellosRecv.Increment()
	if pkt.Parameter == nil {
		return
	}
	if pkt.Parameter.K.IsShutdown() {
		if n, ok := r.neighbors[nid]; ok {
			r.teardownNeighbor(n, now)
		}
		return
	}

	n, ok := r.neighbors[nid]
	if !ok {
		n = neighbor.New(ifc.ID, src, r.log)
		r.neighbors[nid] = n
		ifc.AddNeighbor(src, nid)
	}
	hold := time.Duration(pkt.Parameter.HoldTime) * time.Second
	ev := n.HandleHello(neighbor.HelloParams{K: pkt.Parameter.K, HoldTime: hold}, r.inst.K, now)
	r.rearmHold(n, now)

	switch ev {
	case neighbor.EventSendInit:
		r.sendInit(ifc, n, now)
	case neighbor.EventDown:
		r.teardownNeighbor(n, now)
	}
}

func (r *Router) rearmHold(n *neighbor.Neighbor, now time.Time) {
	r.wheel.Schedule(n.HoldDeadline, func(now time.Time) {
		if n.State == neighbor.Down {
			return
		}
		if n.HoldDeadline.After(now) {
			return
		}
		if ev := n.HandleHoldExpiry(); ev == neighbor.EventDown {
			r.teardownNeighbor(n, now)
		}
	})
}

func (r *Router) sendInit(ifc *iface.Interface, n *neighbor.Neighbor, now time.Time) {
	seq := r.seq.Next()
	n.PrepareInit(seq)
	initPkt := packet.Packet{
		Header: packet.Header{
			Version: packet.Version, Opcode: packet.OpcodeUpdate, ASNumber: r.inst.AS,
			Sequence: seq, Ack: n.Ack(), Flags: packet.FlagInit,
		},
	}
	data := initPkt.Marshal()
	p, wasEmpty := r.channels.SendReliable(n.ID, n.Addr, data, now)
	if wasEmpty {
		r.transmitReliable(ifc, n, p)
	}
	ifc.Stats.UpdatesSent.Increment()
}

func (r *Router) sendEOTBurst(ifc *iface.Interface, n *neighbor.Neighbor, now time.Time) {
	for _, p := range r.topo.All() {
		successor := p.Successor()
		if successor == nil {
			continue
		}
		r.sendUpdateTo(ifc, n, p, successor, false, now)
	}
	eot := packet.Packet{
		Header: packet.Header{
			Version: packet.Version, Opcode: packet.OpcodeUpdate, ASNumber: r.inst.AS,
			Sequence: r.seq.Next(), Ack: n.Ack(), Flags: packet.FlagEndOfTable,
		},
	}
	data := eot.Marshal()
	pkt, wasEmpty := r.channels.SendReliable(n.ID, n.Addr, data, now)
	if wasEmpty {
		r.transmitReliable(ifc, n, pkt)
	}
	ifc.Stats.UpdatesSent.Increment()
}

func (r *Router) sendUpdateTo(ifc *iface.Interface, n *neighbor.Neighbor, p *topology.PrefixEntry, successor *topology.CandidateEntry, unreachable bool, now time.Time) {
	if !r.filter.PermitOut(ifc.Config.Name, p.Prefix) {
		return
	}
	route := packet.IPv4InternalTLV{PrefixLen: uint8(p.Prefix.Bits()), Prefix: p.Prefix.Addr().AsSlice()}
	if unreachable {
		route.Metric = metric.Tuple{Delay: metric.Max}
	} else {
		route.Metric = successor.TotalMetric
	}
	out := packet.Packet{
		Header: packet.Header{
			Version: packet.Version, Opcode: packet.OpcodeUpdate, ASNumber: r.inst.AS,
			Sequence: r.seq.Next(), Ack: n.Ack(),
		},
		Routes: []packet.IPv4InternalTLV{route},
	}
	data := out.Marshal()
	pkt, wasEmpty := r.channels.SendReliable(n.ID, n.Addr, data, now)
	if wasEmpty {
		r.transmitReliable(ifc, n, pkt)
	}
}

func (r *Router) transmitReliable(ifc *iface.Interface, n *neighbor.Neighbor, pkt *transport.Packet) {
	if pkt == nil || r.sock == nil {
		return
	}
	env, err := BuildEnvelope(r.localAddrOf(ifc), pkt.Dest, pkt.Data)
	if err != nil {
		return
	}
	if err := r.sock.SendTo(pkt.Dest, env); err != nil {
		r.log.WithError(err).Debug("reliable send failed, retransmit will retry")
	}
	r.armRetransmit(ifc, n, pkt)
}

func (r *Router) armRetransmit(ifc *iface.Interface, n *neighbor.Neighbor, pkt *transport.Packet) {
	r.wheel.Schedule(pkt.NextDeadline, func(now time.Time) {
		r.fireRetransmit(ifc, n, pkt, now)
	})
}

func (r *Router) fireRetransmit(ifc *iface.Interface, n *neighbor.Neighbor, pkt *transport.Packet, now time.Time) {
	if r.shutdown {
		return
	}
	ch := r.channels.Open(n.ID)
	var fifo *transport.FIFO
	if t := ch.Retrans.Tail(); t == pkt {
		fifo = ch.Retrans
	} else if t := ch.Multicast.Tail(); t == pkt {
		fifo = ch.Multicast
	} else {
		return // already acked
	}
	tail, exhausted := fifo.Retransmit(now)
	if exhausted {
		if ev := n.HandleHoldExpiry(); ev == neighbor.EventDown {
			r.teardownNeighbor(n, time.Now())
		}
		return
	}
	if env, err := BuildEnvelope(r.localAddrOf(ifc), tail.Dest, tail.Data); err == nil && r.sock != nil {
		r.sock.SendTo(tail.Dest, env)
	}
	r.armRetransmit(ifc, n, tail)
}

func (r *Router) teardownNeighbor(n *neighbor.Neighbor, now time.Time) {
	n.Clear()
	r.channels.Close(n.ID)
	actions := r.dual.HandleNeighborDown(n.ID, r.upNeighbors(), now)
	if ifc, ok := r.ifaces[n.Iface]; ok {
		ifc.RemoveNeighbor(n.Addr)
	}
	delete(r.neighbors, n.ID)
	r.carryOutAll(nil, actions, now)
}

func (r *Router) upNeighbors() []ident.NeighborID {
	var out []ident.NeighborID
	for id, n := range r.neighbors {
		if n.State == neighbor.Up {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) applyUpdateRoutes(ifc *iface.Interface, nid ident.NeighborID, pkt *packet.Packet, now time.Time) {
	for _, route := range pkt.Routes {
		prefix := prefixFromTLV(route)
		reported := route.Metric
		if !r.filter.PermitIn(ifc.Config.Name, prefix) {
			reported.Delay = metric.Max
		}
		in := dual.NewInput(prefix, nid, ifc.ID, reported, ifc.Config.Bandwidth, ifc.Config.Delay, ifc.Config.MTU)
		actions := r.dual.HandleUpdate(in, r.upNeighbors(), now)
		r.carryOutAll(ifc, actions, now)
	}
}

func (r *Router) applyQueryRoutes(ifc *iface.Interface, nid ident.NeighborID, pkt *packet.Packet, now time.Time) {
	for _, route := range pkt.Routes {
		prefix := prefixFromTLV(route)
		reported := route.Metric
		if !r.filter.PermitIn(ifc.Config.Name, prefix) {
			reported.Delay = metric.Max
		}
		in := dual.NewInput(prefix, nid, ifc.ID, reported, ifc.Config.Bandwidth, ifc.Config.Delay, ifc.Config.MTU)
		actions := r.dual.HandleQuery(in, r.upNeighbors(), now)
		r.carryOutAll(ifc, actions, now)
	}
}

func (r *Router) applyReplyRoutes(ifc *iface.Interface, nid ident.NeighborID, pkt *packet.Packet) {
	for _, route := range pkt.Routes {
		prefix := prefixFromTLV(route)
		in := dual.NewInput(prefix, nid, ifc.ID, route.Metric, ifc.Config.Bandwidth, ifc.Config.Delay, ifc.Config.MTU)
		actions := r.dual.HandleReply(in)
		r.carryOutAll(ifc, actions, time.Now())
	}
}

func prefixFromTLV(route packet.IPv4InternalTLV) netip.Prefix {
	addr, ok := netip.AddrFromSlice(route.Prefix.To4())
	if !ok {
		return netip.Prefix{}
	}
	return netip.PrefixFrom(addr, int(route.PrefixLen))
}

// carryOutAll applies a batch of DUAL actions in order, then arms the
// stuck-in-active timer schedule (spec §4.F/§5) for any prefix that just
// started a fresh diffusing computation.
func (r *Router) carryOutAll(ifc *iface.Interface, actions []dual.Action, now time.Time) {
	for _, a := range actions {
		r.carryOut(ifc, a, now)
		if a.Kind == dual.ActionSendQuery {
			r.armActiveTimer(a.Prefix, now)
		}
	}
}

// carryOut turns one DUAL Action into socket I/O and route-sink calls
// (spec §4.H "dispatch"; spec §6 "install/withdraw").
func (r *Router) carryOut(ifc *iface.Interface, a dual.Action, now time.Time) {
	switch a.Kind {
	case dual.ActionInstallRoute:
		nh := a.NextHop
		r.routes.Install(a.Prefix, nh.Peer, a.Distance, a.Metric)
	case dual.ActionWithdrawRoute:
		r.routes.Withdraw(a.Prefix)
	case dual.ActionSendUpdate, dual.ActionSendQuery, dual.ActionSendReply, dual.ActionSendSIAQuery, dual.ActionSendSIAReply:
		r.emitToNeighbors(ifc, a, now)
	case dual.ActionDeclareStuck:
		for _, nid := range a.To {
			if n, ok := r.neighbors[nid]; ok {
				r.log.WithField("peer", n.Addr).Warn("stuck-in-active, tearing down neighbor")
				r.teardownNeighbor(n, now)
			}
		}
	}
}

// armActiveTimer schedules the half- and full-budget stuck-in-active
// checks for prefix (spec §5 "half-budget SIAQUERY at 90s... declare
// that neighbor stuck" at the full 180s budget), alongside the hello,
// hold-down and retransmit timers already scheduled on the same wheel.
func (r *Router) armActiveTimer(prefix netip.Prefix, now time.Time) {
	p, ok := r.topo.Lookup(prefix)
	if !ok || p.State == topology.Passive {
		return
	}
	half := p.ActiveStart.Add(r.dual.ActiveTimeout() / 2)
	full := p.ActiveStart.Add(r.dual.ActiveTimeout())
	r.wheel.Schedule(half, func(now time.Time) { r.fireActiveTimer(prefix, now) })
	r.wheel.Schedule(full, func(now time.Time) { r.fireActiveTimer(prefix, now) })
}

func (r *Router) fireActiveTimer(prefix netip.Prefix, now time.Time) {
	if r.shutdown {
		return
	}
	// A timer fire has no triggering interface to thread through.
	r.carryOutAll(nil, r.dual.CheckActiveTimer(prefix, now), now)
}

// emitToNeighbors carries out a DUAL send action. A targeted action
// (a.To non-empty — a REPLY or an SIAQUERY/SIAREPLY aimed at one
// neighbor) goes out as an ordinary per-neighbor reliable unicast. A
// broadcast action (a.To empty — UPDATE/QUERY flooded to every UP
// neighbor) goes out via spec §4.B's multicast-with-per-neighbor-
// shadow transport instead of N independent unicasts.
func (r *Router) emitToNeighbors(ifc *iface.Interface, a dual.Action, now time.Time) {
	opcode := opcodeFor(a.Kind)
	routeMetric := a.Metric
	if a.Unreachable {
		routeMetric = metric.Tuple{Delay: metric.Max}
	}

	if len(a.To) == 0 {
		r.broadcastToNeighbors(a, opcode, routeMetric, now)
		return
	}

	for _, nid := range a.To {
		n, ok := r.neighbors[nid]
		if !ok {
			continue
		}
		nifc, ok := r.ifaces[n.Iface]
		if !ok {
			continue
		}
		out := packet.Packet{
			Header: packet.Header{
				Version: packet.Version, Opcode: opcode, ASNumber: r.inst.AS,
				Sequence: r.seq.Next(), Ack: n.Ack(),
			},
			Routes: []packet.IPv4InternalTLV{{PrefixLen: uint8(a.Prefix.Bits()), Prefix: a.Prefix.Addr().AsSlice(), Metric: routeMetric}},
		}
		data := out.Marshal()
		pkt, wasEmpty := r.channels.SendReliable(nid, n.Addr, data, now)
		if wasEmpty {
			r.transmitReliable(nifc, n, pkt)
		}
	}
}

// broadcastToNeighbors groups the UP neighbors (minus any excluded
// split-horizon interface) by outgoing interface, sends one multicast
// datagram to 224.0.0.10 per interface, and arms a per-neighbor unicast
// shadow retransmit for every neighbor whose multicast FIFO was empty
// (spec §4.B "the same packet is cloned into every UP neighbor's
// multicast FIFO... for later unicast retransmission").
func (r *Router) broadcastToNeighbors(a dual.Action, opcode packet.Opcode, routeMetric metric.Tuple, now time.Time) {
	type shadowTarget struct {
		ID   ident.NeighborID
		Addr netip.Addr
	}
	byIface := make(map[ident.IfaceID][]shadowTarget)
	for id, n := range r.neighbors {
		if n.State != neighbor.Up {
			continue
		}
		if a.HasExclude && id.Iface == a.ExcludeIface {
			continue
		}
		byIface[id.Iface] = append(byIface[id.Iface], shadowTarget{ID: id, Addr: n.Addr})
	}

	for ifaceID, group := range byIface {
		nifc, ok := r.ifaces[ifaceID]
		if !ok || len(group) == 0 {
			continue
		}
		seq := r.channels.NextSeq()
		out := packet.Packet{
			Header: packet.Header{
				Version: packet.Version, Opcode: opcode, ASNumber: r.inst.AS,
				// A multicast datagram is addressed to the whole group,
				// not one peer, so there is no single neighbor's ack to
				// fold in here (spec §4.B ack-folding is a per-neighbor
				// unicast concern).
				Sequence: seq,
			},
			Routes: []packet.IPv4InternalTLV{{PrefixLen: uint8(a.Prefix.Bits()), Prefix: a.Prefix.Addr().AsSlice(), Metric: routeMetric}},
		}
		data := out.Marshal()

		if env, err := BuildEnvelope(r.localAddrOf(nifc), iface.MulticastGroup, data); err == nil && r.sock != nil {
			if err := r.sock.SendTo(iface.MulticastGroup, env); err != nil {
				r.log.WithError(err).Warn("multicast send failed")
			}
		}

		targets := make([]struct {
			ID   ident.NeighborID
			Addr netip.Addr
		}, len(group))
		for i, g := range group {
			targets[i].ID, targets[i].Addr = g.ID, g.Addr
		}
		armed := r.channels.SendMulticastWithShadow(targets, seq, data, now)
		for _, shadow := range armed {
			for _, g := range group {
				if g.Addr != shadow.Dest {
					continue
				}
				if n, ok := r.neighbors[g.ID]; ok {
					r.armRetransmit(nifc, n, shadow)
				}
				break
			}
		}
	}
}

func opcodeFor(k dual.ActionKind) packet.Opcode {
	switch k {
	case dual.ActionSendQuery:
		return packet.OpcodeQuery
	case dual.ActionSendReply:
		return packet.OpcodeReply
	case dual.ActionSendSIAQuery:
		return packet.OpcodeSIAQuery
	case dual.ActionSendSIAReply:
		return packet.OpcodeSIAReply
	default:
		return packet.OpcodeUpdate
	}
}

// RunOnce advances the cooperative loop by one step (spec §4.H "pick
// next ready thing... dispatch"): it fires every expired timer and
// returns the deadline of the next pending one for the caller's poll
// timeout.
func (r *Router) RunOnce(now time.Time, buf, oob []byte, readable bool) (next time.Time, hasNext bool) {
	if readable {
		r.HandleReadable(buf, oob, now)
	}
	r.wheel.FireReady(now)
	return r.wheel.Next()
}

// Shutdown marks the instance for a clean stop (spec §6 exit code 0):
// further timer fires become no-ops and the caller's poll loop should
// exit after draining.
func (r *Router) Shutdown() {
	r.shutdown = true
}
