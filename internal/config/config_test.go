package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eigrpd/eigrpd/internal/iface"
	"github.com/eigrpd/eigrpd/internal/metric"
)

const sample = `
as = 100
router_id_hint = 16843010
k1 = 1
k3 = 1

[[interface]]
name = "eth0"
network = "point-to-point"
hello_interval = 5
hold_time = 15
bandwidth = 100000
delay = 10

[[interface]]
name = "eth1"
network = "nbma"
static_neighbors = ["10.0.0.2", "10.0.0.3"]
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "eigrpd.toml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesInstanceAndInterfaces(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AS != 100 {
		t.Fatalf("AS = %d, want 100", cfg.AS)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("len(Interfaces) = %d, want 2", len(cfg.Interfaces))
	}
	if cfg.Interfaces[0].Name != "eth0" {
		t.Fatalf("Interfaces[0].Name = %q, want eth0", cfg.Interfaces[0].Name)
	}
}

func TestLoadRejectsMissingAS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	os.WriteFile(path, []byte(`router_id_hint = 1`), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing AS number")
	}
}

func TestKValuesDefaultsWhenUnset(t *testing.T) {
	cfg := &InstanceConfig{AS: 100}
	if got := cfg.KValues(); got != metric.DefaultKValues {
		t.Fatalf("KValues() = %+v, want defaults %+v", got, metric.DefaultKValues)
	}
}

func TestKValuesHonorsExplicitSet(t *testing.T) {
	cfg := &InstanceConfig{AS: 100, K1: 1, K2: 1, K3: 1}
	got := cfg.KValues()
	if got.K2 != 1 {
		t.Fatalf("expected K2=1 to survive, got %+v", got)
	}
}

func TestToIfaceConfigMapsNetworkType(t *testing.T) {
	ic := InterfaceConfig{Name: "eth1", Network: "nbma", StaticNeighbors: []string{"10.0.0.2"}}
	cfg, err := ic.ToIfaceConfig()
	if err != nil {
		t.Fatalf("ToIfaceConfig: %v", err)
	}
	if cfg.NetworkType != iface.NBMA {
		t.Fatalf("NetworkType = %v, want NBMA", cfg.NetworkType)
	}
	if len(cfg.StaticNeighbors) != 1 {
		t.Fatalf("expected one static neighbor, got %d", len(cfg.StaticNeighbors))
	}
}

func TestToIfaceConfigRejectsBadNeighborAddress(t *testing.T) {
	ic := InterfaceConfig{Name: "eth1", StaticNeighbors: []string{"not-an-ip"}}
	if _, err := ic.ToIfaceConfig(); err == nil {
		t.Fatal("expected an error for a malformed static neighbor address")
	}
}
