package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings of one relaymesh node.
type Config struct {
	Nick          string        `yaml:"nick"`
	DBPath        string        `yaml:"db_path"`
	Port          int           `yaml:"port"`
	WebPort       int           `yaml:"web_port"`
	DiscoveryPort int           `yaml:"discovery_port"`
	Source        string        `yaml:"source"`
	MissRate      float64       `yaml:"miss_rate"`
	Seed          int64         `yaml:"seed"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
	RelayInterval time.Duration `yaml:"relay_interval"`
	Headless      bool          `yaml:"headless"`
	LogFile       string        `yaml:"log_file"`
	LogLevel      string        `yaml:"log_level"`
	UplinkWebhook string        `yaml:"uplink_webhook"`
}

const (
	SourceSim = "sim"
	SourceUDP = "udp"
)

func Default() Config {
	return Config{
		Nick:          "anon",
		DBPath:        "relaymesh.db",
		Port:          9000,
		WebPort:       8080,
		DiscoveryPort: 9999,
		Source:        SourceSim,
		MissRate:      0.1,
		ScanInterval:  5 * time.Second,
		RelayInterval: 3 * time.Second,
		LogFile:       "relaymesh.log",
		LogLevel:      "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Source != SourceSim && c.Source != SourceUDP {
		return fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceSim, SourceUDP)
	}
	if c.MissRate < 0 || c.MissRate >= 1 {
		return fmt.Errorf("miss_rate must be in [0,1), got %v", c.MissRate)
	}
	if c.ScanInterval <= 0 || c.RelayInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}
