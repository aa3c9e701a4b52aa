package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ConfigFile    string
	Verbose       bool
	DefaultConfig = &Config{
		TunName:      "tsps0",
		TunAddr:      "10.8.0.1/24",
		ListenAddr:   "0.0.0.0:3653",
		MTU:          1500,
		QueueSize:    32,
		PollInterval: Duration(time.Second),
	}
)

// Duration round-trips through YAML in the "1s" form.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(td)
	return nil
}

type Config struct {
	// The name of the TUN interface.
	TunName string `yaml:"tun_name,omitempty"`
	// The address (CIDR) assigned to the TUN interface.
	TunAddr string `yaml:"tun_addr,omitempty"`
	// The UDP address to listen on for client traffic.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// Maximum packet size; also the relay's slot size.
	MTU int `yaml:"mtu,omitempty"`
	// Per-direction ring size. One slot is kept free, so the usable
	// capacity is queue_size-1.
	QueueSize int `yaml:"queue_size,omitempty"`
	// Upper bound on how long a relay consumer sleeps without re-checking
	// its ring.
	PollInterval Duration `yaml:"poll_interval,omitempty"`
	// Declared peers: inner address -> client endpoint ("ip:port"). An
	// empty endpoint is learned from the peer's first datagram.
	Peers map[string]string `yaml:"peers,omitempty"`
	// Whether to enable verbose logging.
	Verbose bool `yaml:"verbose,omitempty"`
	// Whether to log in JSON format.
	LogJSON bool `yaml:"log_json,omitempty"`
}

// Dir returns the path to the tsps configuration directory.
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".tsps")
}

func getDefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Load() (*Config, error) {
	if ConfigFile == "" {
		ConfigFile = getDefaultConfigPath()
	}
	if _, err := os.Stat(ConfigFile); os.IsNotExist(err) {
		return DefaultConfig, nil
	}
	yamlFile, err := os.ReadFile(ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	cfg := new(Config)
	*cfg = *DefaultConfig
	if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := netip.ParsePrefix(c.TunAddr); err != nil {
		return fmt.Errorf("invalid tun_addr: %v", err)
	}
	if _, err := netip.ParseAddrPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr: %v", err)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("invalid mtu: %d", c.MTU)
	}
	if c.QueueSize < 2 {
		return fmt.Errorf("invalid queue_size: %d (need at least 2)", c.QueueSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll_interval: %v", c.PollInterval)
	}
	return nil
}

// TunPrefix returns the parsed TUN interface address.
func (c *Config) TunPrefix() netip.Prefix {
	return netip.MustParsePrefix(c.TunAddr)
}

func ensureDirExists(filePath string) error {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Create the directory if it doesn't exist
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}
	return nil
}

func Store(cfg *Config) error {
	yamlFile, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %v", err)
	}
	if ConfigFile == "" {
		ConfigFile = getDefaultConfigPath()
	}
	if err := ensureDirExists(ConfigFile); err != nil {
		return fmt.Errorf("failed to ensure directory exists: %v", err)
	}
	if err := os.WriteFile(ConfigFile, yamlFile, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %v", err)
	}
	return nil
}
