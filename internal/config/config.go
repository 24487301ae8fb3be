package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "./configs/bridge.yml"

type UDPConfig struct {
	Listen    string        `yaml:"listen"`     // ":17751"
	TOS       int           `yaml:"tos"`        // 0 = leave as is
	ReadPoll  time.Duration `yaml:"read_poll"`  // how long one read may block
	PageDelay time.Duration `yaml:"page_delay"` // pause between CONFIG pages
}

type TTYConfig struct {
	Device      string        `yaml:"device"`   // "/dev/ttymxc1"
	BaudRate    int           `yaml:"baudrate"` // 115200
	DataBits    int           `yaml:"databits"` // 7, 8
	StopBits    int           `yaml:"stopbits"` // 1, 2
	Parity      string        `yaml:"parity"`   // "none", "odd", "even"
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type RPCConfig struct {
	Address     string        `yaml:"address"` // "m4-proxy:5001"
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	Verify      bool          `yaml:"verify"`
}

type LoopConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	Idle              time.Duration `yaml:"idle"`
	ReadyDelay        time.Duration `yaml:"ready_delay"`
}

type SyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type ProtocolConfig struct {
	KeyTag string `yaml:"key_tag"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"` // 0.0.0.0
	Port    int    `yaml:"port"` // 8080
}

type Config struct {
	LayoutPath    string         `yaml:"layout_path"`
	TelemetryPath string         `yaml:"telemetry_path"`
	DefaultMode   string         `yaml:"default_mode"`
	UDP           UDPConfig      `yaml:"udp"`
	TTY           TTYConfig      `yaml:"tty"`
	RPC           RPCConfig      `yaml:"rpc"`
	Loop          LoopConfig     `yaml:"loop"`
	Sync          SyncConfig     `yaml:"sync"`
	Protocol      ProtocolConfig `yaml:"protocol"`
	Web           WebConfig      `yaml:"web"`
}

// Load reads path over Defaults. A missing file is not an error: the
// defaults are used as they are.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = DefaultPath
	}

	wd, _ := os.Getwd()
	log.Printf("[cfg] load config: path=%s, wd=%s", path, wd)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("[cfg] %s not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	log.Printf("[cfg] udp=%s tty=%s@%d rpc=%s layout=%s", cfg.UDP.Listen, cfg.TTY.Device, cfg.TTY.BaudRate, cfg.RPC.Address, cfg.LayoutPath)
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Protocol.KeyTag) != 8 {
		return fmt.Errorf("protocol.key_tag must be 8 characters, got %q", c.Protocol.KeyTag)
	}
	if c.Loop.PollInterval <= 0 || c.Loop.BroadcastInterval <= 0 {
		return fmt.Errorf("loop intervals must be positive")
	}
	if c.TTY.Device == "" {
		return fmt.Errorf("tty.device is required")
	}
	if c.RPC.Retries < 0 {
		return fmt.Errorf("rpc.retries must not be negative")
	}
	return nil
}
