// Package dual implements the per-prefix DUAL finite state machine
// (spec §4.F): PASSIVE/ACTIVE0..ACTIVE3 transitions driven by
// UPDATE/QUERY/REPLY/SIA events, enforcing the feasibility condition.
package dual

import (
	"net/netip"

	"github.com/eigrpd/eigrpd/internal/ident"
	"github.com/eigrpd/eigrpd/internal/metric"
)

// ActionKind identifies what the caller (the router engine) must do in
// response to a DUAL transition. DUAL itself never touches a socket or
// a neighbor's FIFO; it only describes intent.
type ActionKind int

const (
	ActionSendUpdate ActionKind = iota
	ActionSendQuery
	ActionSendReply
	ActionSendSIAQuery
	ActionSendSIAReply
	ActionInstallRoute
	ActionWithdrawRoute
	ActionDeclareStuck
)

func (k ActionKind) String() string {
	switch k {
	case ActionSendUpdate:
		return "SendUpdate"
	case ActionSendQuery:
		return "SendQuery"
	case ActionSendReply:
		return "SendReply"
	case ActionSendSIAQuery:
		return "SendSIAQuery"
	case ActionSendSIAReply:
		return "SendSIAReply"
	case ActionInstallRoute:
		return "InstallRoute"
	case ActionWithdrawRoute:
		return "WithdrawRoute"
	case ActionDeclareStuck:
		return "DeclareStuck"
	default:
		return "Unknown"
	}
}

// Action is one outbound instruction produced by a DUAL transition.
type Action struct {
	Kind   ActionKind
	Prefix netip.Prefix

	// To lists specific recipients (a REPLY, SIAQUERY reply, or a
	// targeted send). Empty means "broadcast to all UP neighbors except
	// those on ExcludeIface."
	To           []ident.NeighborID
	ExcludeIface ident.IfaceID
	HasExclude   bool

	Metric      metric.Tuple
	Unreachable bool
	Distance    uint32
	NextHop     ident.NeighborID // the neighbor to route via, for InstallRoute
}
