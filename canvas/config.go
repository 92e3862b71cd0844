package canvas

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the canvas server configuration.
type Config struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ExternalHost string `yaml:"external_host"`
	DefaultSize  string `yaml:"default_size"`
	IDStrategy   string `yaml:"id_strategy"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Viewer      ViewerConfig      `yaml:"viewer"`
	MCP         MCPConfig         `yaml:"mcp"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// PersistenceConfig selects the surface store.
type PersistenceConfig struct {
	Backend string `yaml:"backend"` // sqlite, bolt, dir, none
	Path    string `yaml:"path"`
}

// ViewerConfig tunes viewer connections.
type ViewerConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// MCPConfig selects the tool transport.
type MCPConfig struct {
	Transport string `yaml:"transport"` // stdio, http, quic, none
	QUICAddr  string `yaml:"quic_addr"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.DefaultSize == "" {
		c.DefaultSize = "tv_1080p"
	}
	if c.IDStrategy == "" {
		c.IDStrategy = "hex"
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "sqlite"
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = "~/.canvas-mcp"
	}
	if c.Viewer.PingInterval <= 0 {
		c.Viewer.PingInterval = 30 * time.Second
	}
	if c.Viewer.WriteTimeout <= 0 {
		c.Viewer.WriteTimeout = 10 * time.Second
	}
	if c.Viewer.SendBuffer <= 0 {
		c.Viewer.SendBuffer = 64
	}
	if c.MCP.Transport == "" {
		c.MCP.Transport = "stdio"
	}
	if c.MCP.QUICAddr == "" {
		c.MCP.QUICAddr = ":9444"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Persistence.Backend) {
	case "sqlite", "bolt", "dir", "none":
	default:
		return fmt.Errorf("canvas: unknown persistence backend %q", c.Persistence.Backend)
	}
	switch strings.ToLower(c.MCP.Transport) {
	case "stdio", "http", "quic", "none":
	default:
		return fmt.Errorf("canvas: unknown mcp transport %q", c.MCP.Transport)
	}
	if c.Port > 65535 {
		return fmt.Errorf("canvas: port %d out of range", c.Port)
	}
	return nil
}

// StorePath returns Persistence.Path with a leading ~ expanded.
func (c *Config) StorePath() string {
	return expandHome(c.Persistence.Path)
}

// DisplayHost is the host put in surface URLs.
func (c *Config) DisplayHost() string {
	switch {
	case c.ExternalHost != "":
		return c.ExternalHost
	case c.Host == "0.0.0.0" || c.Host == "" || c.Host == "::":
		return "localhost"
	default:
		return c.Host
	}
}

// SurfaceURLs returns the page and WebSocket URLs of a surface.
func (c *Config) SurfaceURLs(id string) (localURL, wsURL string) {
	base := net.JoinHostPort(c.DisplayHost(), strconv.Itoa(c.Port))
	return "http://" + base + "/canvas/" + id, "ws://" + base + "/ws/" + id
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
