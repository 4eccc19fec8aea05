package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kingrea/lattice-deploy/internal/create2"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	projectDir := t.TempDir()
	latticeDir := filepath.Join(projectDir, LatticeDir)
	if err := os.MkdirAll(latticeDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(latticeDir, "config.yaml"), []byte(strings.TrimSpace(body)), 0644); err != nil {
		t.Fatal(err)
	}
	return projectDir
}

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.ManifestPath() != filepath.Join(projectDir, "deploy", "artifacts.yaml") {
		t.Fatalf("unexpected manifest path %s", c.ManifestPath())
	}
	if c.RegistryPath() != filepath.Join(projectDir, ".lattice", "state", "addresses.json") {
		t.Fatalf("unexpected registry path %s", c.RegistryPath())
	}
	if c.Parallel() != 1 {
		t.Fatalf("expected parallel 1, got %d", c.Parallel())
	}
	if len(c.Project.Networks) != 0 {
		t.Fatalf("expected no networks, got %d", len(c.Project.Networks))
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	t.Setenv("LATTICE_TEST_RPC", "https://rpc.example.org")
	projectDir := writeConfig(t, `
version: 1
manifest: contracts/artifacts.yaml
registry: /var/lib/lattice/addresses.json
parallel: 3
networks:
  - name: sepolia
    rpc_url: ${LATTICE_TEST_RPC}
    chain_id: 11155111
    private_key_env: DEPLOYER_KEY
    gas_fee_cap: 2000000000
    gas_tip_cap: 1000000000
    confirm_timeout: 90s
  - name: local
    rpc_url: http://127.0.0.1:8545
    factory: "0x00000000000000000000000000000000000000ff"
`)
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.ManifestPath() != filepath.Join(projectDir, "contracts", "artifacts.yaml") {
		t.Fatalf("manifest path not resolved: %s", c.ManifestPath())
	}
	if c.RegistryPath() != "/var/lib/lattice/addresses.json" {
		t.Fatalf("absolute registry path rewritten: %s", c.RegistryPath())
	}
	if c.Parallel() != 3 {
		t.Fatalf("parallel = %d", c.Parallel())
	}
	sepolia, ok := c.Network("sepolia")
	if !ok {
		t.Fatalf("expected sepolia network")
	}
	if sepolia.RPCURL != "https://rpc.example.org" {
		t.Fatalf("rpc_url not expanded: %q", sepolia.RPCURL)
	}
	if sepolia.ConfirmTimeout != 90*time.Second {
		t.Fatalf("confirm timeout = %s", sepolia.ConfirmTimeout)
	}
	feeCap, tipCap, err := sepolia.FeeCaps()
	if err != nil {
		t.Fatalf("fee caps: %v", err)
	}
	if feeCap.Int64() != 2000000000 || tipCap.Int64() != 1000000000 {
		t.Fatalf("fee caps = %s / %s", feeCap, tipCap)
	}
	local, _ := c.Network("local")
	if local.ConfirmTimeout != defaultConfirmTimeout {
		t.Fatalf("expected default confirm timeout, got %s", local.ConfirmTimeout)
	}
	if c.FactoryFor(local) != common.HexToAddress("0xff") {
		t.Fatalf("network factory override ignored")
	}
	if c.FactoryFor(sepolia) != create2.ArachnidFactory {
		t.Fatalf("expected default factory for sepolia")
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	cases := map[string]string{
		"duplicate": `
networks:
  - name: a
    rpc_url: http://a
  - name: a
    rpc_url: http://b
`,
		"missing name": `
networks:
  - rpc_url: http://a
`,
		"reserved name": `
networks:
  - name: _codehashes
`,
		"bad fee": `
networks:
  - name: a
    gas_fee_cap: lots
`,
		"bad factory": `
factory: nope
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := writeConfig(t, body)
			if _, err := NewConfig(projectDir); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestSelectNetworks(t *testing.T) {
	projectDir := writeConfig(t, `
networks:
  - name: mainnet
  - name: sepolia
  - name: holesky
`)
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	all, err := c.SelectNetworks(nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("select all = %v, %v", all, err)
	}
	some, err := c.SelectNetworks([]string{"holesky,mainnet"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(some) != 2 || some[0].Name != "mainnet" || some[1].Name != "holesky" {
		t.Fatalf("expected config order, got %v", some)
	}
	if _, err := c.SelectNetworks([]string{"goerli"}); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected unknown network, got %v", err)
	}
	if err := some[0].RequireRPC(); err == nil {
		t.Fatalf("expected missing rpc_url error")
	}
}

func TestPrivateKeyFromEnvironment(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("LATTICE_TEST_KEY", "0x"+common.Bytes2Hex(crypto.FromECDSA(key)))
	network := NetworkConfig{Name: "local", PrivateKeyEnv: "LATTICE_TEST_KEY"}
	loaded, err := network.PrivateKey()
	if err != nil {
		t.Fatalf("private key: %v", err)
	}
	if crypto.PubkeyToAddress(loaded.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("loaded a different key")
	}
	t.Setenv("LATTICE_TEST_KEY", "")
	if _, err := network.PrivateKey(); err == nil {
		t.Fatalf("expected error for empty key variable")
	}
}

func TestInitLatticeDirWritesDefaults(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitLatticeDir(projectDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, dir := range []string{"state", "logs", "journal"} {
		if info, err := os.Stat(filepath.Join(projectDir, LatticeDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory: %v", dir, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	local, ok := c.Network("local")
	if !ok || local.ChainID != 31337 {
		t.Fatalf("default network missing: %+v", c.Project.Networks)
	}
	custom := filepath.Join(projectDir, LatticeDir, "config.yaml")
	if err := os.WriteFile(custom, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := InitLatticeDir(projectDir); err != nil {
		t.Fatalf("second init: %v", err)
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "version: 1\n" {
		t.Fatalf("existing config overwritten")
	}
}
