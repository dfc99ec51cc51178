// Package config loads the operator-facing configuration named in spec
// §6 as an external collaborator: per-instance AS number, router-id
// hint, K-values, and per-interface link parameters. It is deliberately
// thin — a boundary object the core is constructed from, not a
// running-config language (SPEC_FULL §2.3).
package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/eigrpd/eigrpd/internal/iface"
	"github.com/eigrpd/eigrpd/internal/metric"
)

// InterfaceConfig is one `[[interface]]` TOML table.
type InterfaceConfig struct {
	Name            string   `toml:"name"`
	Network         string   `toml:"network"` // point-to-point|broadcast|nbma|point-to-multipoint|loopback
	HelloInterval   int      `toml:"hello_interval"`
	HoldTime        int      `toml:"hold_time"`
	Bandwidth       uint32   `toml:"bandwidth"`
	Delay           uint32   `toml:"delay"`
	Passive         bool     `toml:"passive"`
	StaticNeighbors []string `toml:"static_neighbors"`
}

// InstanceConfig is the top-level TOML document (spec §6 "Operator-facing
// configuration").
type InstanceConfig struct {
	AS                uint16            `toml:"as"`
	RouterIDHint      uint32            `toml:"router_id_hint"`
	K1                uint8             `toml:"k1"`
	K2                uint8             `toml:"k2"`
	K3                uint8             `toml:"k3"`
	K4                uint8             `toml:"k4"`
	K5                uint8             `toml:"k5"`
	K6                uint8             `toml:"k6"`
	NetworkStatements []string          `toml:"network_statements"`
	Interfaces        []InterfaceConfig `toml:"interface"`
}

// Load parses an instance configuration document from path.
func Load(path string) (*InstanceConfig, error) {
	var c InstanceConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.AS == 0 {
		return nil, fmt.Errorf("parse config %s: as number is required", path)
	}
	return &c, nil
}

// KValues returns the configured K-values, defaulting to spec §3's
// (1,0,1,0,0,0) when the document supplies an all-zero set.
func (c *InstanceConfig) KValues() metric.KValues {
	k := metric.KValues{K1: c.K1, K2: c.K2, K3: c.K3, K4: c.K4, K5: c.K5, K6: c.K6}
	if k == (metric.KValues{}) {
		return metric.DefaultKValues
	}
	return k
}

// networkType maps the TOML string to iface.NetworkType, defaulting to
// broadcast.
func networkType(s string) iface.NetworkType {
	switch s {
	case "point-to-point":
		return iface.PointToPoint
	case "nbma":
		return iface.NBMA
	case "point-to-multipoint":
		return iface.PointToMultipoint
	case "loopback":
		return iface.Loopback
	default:
		return iface.Broadcast
	}
}

// ToIfaceConfig converts one [[interface]] table into an iface.Config.
func (ic InterfaceConfig) ToIfaceConfig() (iface.Config, error) {
	cfg := iface.Config{
		Name:          ic.Name,
		HelloInterval: time.Duration(ic.HelloInterval) * time.Second,
		HoldTime:      time.Duration(ic.HoldTime) * time.Second,
		Bandwidth:     ic.Bandwidth,
		Delay:         ic.Delay,
		NetworkType:   networkType(ic.Network),
		Passive:       ic.Passive,
	}
	for _, s := range ic.StaticNeighbors {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return iface.Config{}, fmt.Errorf("interface %s: static neighbor %q: %w", ic.Name, s, err)
		}
		cfg.StaticNeighbors = append(cfg.StaticNeighbors, addr)
	}
	return cfg, nil
}
