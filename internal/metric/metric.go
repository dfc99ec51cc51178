// Package metric implements the classic EIGRP 5-tuple metric and its
// composition rules (spec §4.G).
package metric

import "fmt"

// Max is the metric value that represents an unreachable destination.
// Any composite carrying it, or any tuple whose Delay equals it, must be
// preserved through composition rather than recomputed.
const Max uint32 = 0xFFFFFFFF

// Tuple is the classic 5-tuple EIGRP metric carried on IPv4_INTERNAL TLVs.
type Tuple struct {
	Delay       uint32 // tens of microseconds
	Bandwidth   uint32 // kbps
	MTU         uint32 // 24 bits on the wire
	Hopcount    uint8
	Reliability uint8
	Load        uint8
	Tag         uint8
	Flags       uint8
}

// Unreachable reports a tuple used to mean "no route."
func (t Tuple) Unreachable() bool {
	return t.Delay == Max
}

// KValues holds the six composition coefficients K1..K6. K6 is accepted
// on the wire but never used in composition or in the neighbor K-value
// check (spec §9, "Source's check on K-values").
type KValues struct {
	K1, K2, K3, K4, K5, K6 uint8
}

// DefaultKValues matches Cisco's classic defaults: K1=1, K3=1, rest 0.
var DefaultKValues = KValues{K1: 1, K3: 1}

// Equal compares K1..K5, ignoring K6, per the neighbor K-value check.
func (k KValues) Equal(o KValues) bool {
	return k.K1 == o.K1 && k.K2 == o.K2 && k.K3 == o.K3 && k.K4 == o.K4 && k.K5 == o.K5
}

// IsShutdown reports whether K1..K5 are all 0xFF, the in-band peer
// termination signal carried in a PARAMETER TLV (spec §4.D, §9).
func (k KValues) IsShutdown() bool {
	return k.K1 == 0xFF && k.K2 == 0xFF && k.K3 == 0xFF && k.K4 == 0xFF && k.K5 == 0xFF
}

func (k KValues) String() string {
	return fmt.Sprintf("K1=%d K2=%d K3=%d K4=%d K5=%d K6=%d", k.K1, k.K2, k.K3, k.K4, k.K5, k.K6)
}

// Composite computes the classic composite distance for a tuple under
// the given K-values (spec §4.A "Metric composition").
func Composite(t Tuple, k KValues) uint32 {
	if t.Unreachable() {
		return Max
	}
	if t.Bandwidth == 0 {
		return Max
	}
	scaledBW := scale(10000000*256, uint64(t.Bandwidth))
	scaledDelay := uint64(t.Delay) * 256

	term := uint64(k.K1) * scaledBW
	if k.K2 != 0 {
		denom := 256 - uint64(t.Load)
		if denom == 0 {
			denom = 1
		}
		term += (uint64(k.K2) * scaledBW) / denom
	}
	term += uint64(k.K3) * scaledDelay

	if k.K5 != 0 {
		denom := uint64(t.Reliability) + uint64(k.K4)
		if denom == 0 {
			denom = 1
		}
		term = (term * uint64(k.K5)) / denom
	}
	return saturate(term)
}

func scale(num, den uint64) uint64 {
	if den == 0 {
		return uint64(Max)
	}
	return num / den
}

func saturate(v uint64) uint32 {
	if v > uint64(Max) {
		return Max
	}
	return uint32(v)
}

// ComposeOutgoing folds a neighbor's reported tuple into a locally
// originated tuple by accounting for the outgoing interface's own
// bandwidth/delay/MTU, per spec §4.G "Composition on pass-through an
// outgoing interface." Unreachable tuples pass through unchanged.
func ComposeOutgoing(reported Tuple, ifBandwidth, ifDelay, ifMTU uint32) Tuple {
	if reported.Unreachable() {
		return reported
	}
	out := reported
	if ifBandwidth < out.Bandwidth {
		out.Bandwidth = ifBandwidth
	}
	out.Delay = addSaturating(out.Delay, ifDelay)
	if ifMTU < out.MTU {
		out.MTU = ifMTU
	}
	if out.Hopcount < 255 {
		out.Hopcount++
	}
	return out
}

func addSaturating(a, b uint32) uint32 {
	sum := uint64(a) + uint64(b)
	return saturate(sum)
}
