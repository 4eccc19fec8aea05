package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-deploy/internal/create2"
	"github.com/kingrea/lattice-deploy/internal/manifest"
)

const LatticeDir = ".lattice"

const (
	projectConfigFile     = "config.yaml"
	defaultManifestPath   = "deploy/" + manifest.DefaultManifestFile
	defaultRegistryPath   = LatticeDir + "/state/addresses.json"
	defaultConfirmTimeout = 5 * time.Minute
)

const defaultProjectConfigYAML = `version: 1
manifest: deploy/artifacts.yaml
registry: .lattice/state/addresses.json
factory: "0x4e59b44847b379578588920cA78FbF26c0B4956C"
parallel: 1
networks:
  - name: local
    rpc_url: http://127.0.0.1:8545
    chain_id: 31337
    private_key_env: DEPLOYER_KEY
`

// ErrUnknownNetwork is returned when a selector names a network the project
// does not configure.
var ErrUnknownNetwork = errors.New("config: unknown network")

// NetworkConfig describes one deployment target.
type NetworkConfig struct {
	Name           string        `yaml:"name"`
	RPCURL         string        `yaml:"rpc_url"`
	ChainID        uint64        `yaml:"chain_id,omitempty"`
	PrivateKeyEnv  string        `yaml:"private_key_env,omitempty"`
	Factory        string        `yaml:"factory,omitempty"`
	GasFeeCap      string        `yaml:"gas_fee_cap,omitempty"`
	GasTipCap      string        `yaml:"gas_tip_cap,omitempty"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout,omitempty"`
}

// ProjectConfig mirrors .lattice/config.yaml.
type ProjectConfig struct {
	Version  int             `yaml:"version"`
	Manifest string          `yaml:"manifest,omitempty"`
	Registry string          `yaml:"registry,omitempty"`
	Factory  string          `yaml:"factory,omitempty"`
	Parallel int             `yaml:"parallel,omitempty"`
	Networks []NetworkConfig `yaml:"networks,omitempty"`
}

type Config struct {
	ProjectDir        string
	LatticeProjectDir string
	Project           ProjectConfig
}

// InitLatticeDir creates the .lattice directory structure in the project and
// writes a starter config when none exists.
func InitLatticeDir(projectDir string) error {
	latticeDir := filepath.Join(projectDir, LatticeDir)
	dirs := []string{
		latticeDir,
		filepath.Join(latticeDir, "state"),
		filepath.Join(latticeDir, "logs"),
		filepath.Join(latticeDir, "journal"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(latticeDir)
}

// NewConfig loads the project configuration rooted at projectDir. A missing
// config file yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: resolve working directory: %w", err)
		}
		projectDir = wd
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	c := &Config{
		ProjectDir:        abs,
		LatticeProjectDir: filepath.Join(abs, LatticeDir),
		Project:           defaultProjectConfig(),
	}
	if err := c.loadProjectConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

// LogsDir returns the project's log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.LatticeProjectDir, "logs")
}

// StateDir returns the project's state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.LatticeProjectDir, "state")
}

// JournalDir returns the directory holding per-network run journals.
func (c *Config) JournalDir() string {
	return filepath.Join(c.LatticeProjectDir, "journal")
}

func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.LatticeProjectDir, projectConfigFile)
}

// ManifestPath is the absolute path of the artifact manifest.
func (c *Config) ManifestPath() string {
	return c.Project.Manifest
}

// RegistryPath is the absolute path of the address registry file.
func (c *Config) RegistryPath() string {
	return c.Project.Registry
}

// Parallel is the number of networks reconciled at once.
func (c *Config) Parallel() int {
	return c.Project.Parallel
}

// Network returns the named network.
func (c *Config) Network(name string) (NetworkConfig, bool) {
	for _, network := range c.Project.Networks {
		if network.Name == name {
			return network, true
		}
	}
	return NetworkConfig{}, false
}

// SelectNetworks resolves selectors to configured networks, preserving the
// config order. No selectors selects every network.
func (c *Config) SelectNetworks(selectors []string) ([]NetworkConfig, error) {
	if len(selectors) == 0 {
		return append([]NetworkConfig(nil), c.Project.Networks...), nil
	}
	wanted := make(map[string]bool, len(selectors))
	for _, raw := range selectors {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := c.Network(name); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
			}
			wanted[name] = true
		}
	}
	var selected []NetworkConfig
	for _, network := range c.Project.Networks {
		if wanted[network.Name] {
			selected = append(selected, network)
		}
	}
	return selected, nil
}

// FactoryFor returns the CREATE2 factory used on network. A network level
// override wins over the project default.
func (c *Config) FactoryFor(network NetworkConfig) common.Address {
	if network.Factory != "" {
		return common.HexToAddress(network.Factory)
	}
	if c.Project.Factory != "" {
		return common.HexToAddress(c.Project.Factory)
	}
	return create2.ArachnidFactory
}

// FeeCaps parses the configured EIP-1559 caps. Unset caps come back nil and
// are filled from the node at send time.
func (n NetworkConfig) FeeCaps() (*big.Int, *big.Int, error) {
	feeCap, err := parseWei(n.GasFeeCap)
	if err != nil {
		return nil, nil, fmt.Errorf("config: network %s gas_fee_cap: %w", n.Name, err)
	}
	tipCap, err := parseWei(n.GasTipCap)
	if err != nil {
		return nil, nil, fmt.Errorf("config: network %s gas_tip_cap: %w", n.Name, err)
	}
	return feeCap, tipCap, nil
}

// PrivateKey reads the deployer key from the environment variable the
// network names.
func (n NetworkConfig) PrivateKey() (*ecdsa.PrivateKey, error) {
	if n.PrivateKeyEnv == "" {
		return nil, fmt.Errorf("config: network %s has no private_key_env", n.Name)
	}
	raw := strings.TrimSpace(os.Getenv(n.PrivateKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("config: network %s: environment variable %s is empty", n.Name, n.PrivateKeyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("config: network %s: parse key from %s: %w", n.Name, n.PrivateKeyEnv, err)
	}
	return key, nil
}

// RequireRPC reports a missing endpoint, typically an unset ${VAR}.
func (n NetworkConfig) RequireRPC() error {
	if n.RPCURL == "" {
		return fmt.Errorf("config: network %s has no rpc_url", n.Name)
	}
	return nil
}

func parseWei(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(raw, 0)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", raw)
	}
	return value, nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Project.applyDefaults()
			c.normalize()
			return c.Project.validate()
		}
		return fmt.Errorf("config: read project config: %w", err)
	}
	cfg := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	c.Project = cfg
	c.normalize()
	return c.Project.validate()
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:  1,
		Manifest: defaultManifestPath,
		Registry: defaultRegistryPath,
		Parallel: 1,
	}
}

func (cfg *ProjectConfig) applyDefaults() {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.Manifest) == "" {
		cfg.Manifest = defaultManifestPath
	}
	if strings.TrimSpace(cfg.Registry) == "" {
		cfg.Registry = defaultRegistryPath
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	for i := range cfg.Networks {
		if cfg.Networks[i].ConfirmTimeout <= 0 {
			cfg.Networks[i].ConfirmTimeout = defaultConfirmTimeout
		}
	}
}

func (c *Config) normalize() {
	c.Project.Manifest = c.resolvePath(os.ExpandEnv(strings.TrimSpace(c.Project.Manifest)))
	c.Project.Registry = c.resolvePath(os.ExpandEnv(strings.TrimSpace(c.Project.Registry)))
	c.Project.Factory = strings.TrimSpace(c.Project.Factory)
	for i := range c.Project.Networks {
		network := &c.Project.Networks[i]
		network.Name = strings.TrimSpace(network.Name)
		network.RPCURL = strings.TrimSpace(os.ExpandEnv(network.RPCURL))
		network.PrivateKeyEnv = strings.TrimSpace(network.PrivateKeyEnv)
		network.Factory = strings.TrimSpace(network.Factory)
		network.GasFeeCap = strings.TrimSpace(os.ExpandEnv(network.GasFeeCap))
		network.GasTipCap = strings.TrimSpace(os.ExpandEnv(network.GasTipCap))
	}
}

func (cfg ProjectConfig) validate() error {
	if cfg.Version > 1 {
		return fmt.Errorf("config: unsupported version %d", cfg.Version)
	}
	if cfg.Factory != "" && !common.IsHexAddress(cfg.Factory) {
		return fmt.Errorf("config: factory %q is not an address", cfg.Factory)
	}
	seen := make(map[string]bool, len(cfg.Networks))
	for idx, network := range cfg.Networks {
		if network.Name == "" {
			return fmt.Errorf("config: networks[%d] missing name", idx)
		}
		if strings.HasPrefix(network.Name, "_") {
			return fmt.Errorf("config: network %s: names starting with '_' are reserved", network.Name)
		}
		if seen[network.Name] {
			return fmt.Errorf("config: duplicate network %s", network.Name)
		}
		seen[network.Name] = true
		if network.Factory != "" && !common.IsHexAddress(network.Factory) {
			return fmt.Errorf("config: network %s factory %q is not an address", network.Name, network.Factory)
		}
		if _, _, err := network.FeeCaps(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) resolvePath(p string) string {
	if p == "" {
		return p
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.ProjectDir, p)
}

func ensureProjectConfig(latticeDir string) error {
	path := filepath.Join(latticeDir, projectConfigFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: stat project config: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644); err != nil {
		return fmt.Errorf("config: write default project config: %w", err)
	}
	return nil
}
