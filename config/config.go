// Package config loads the client configuration from YAML, with environment
// variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/springtools/stsclient/lsclient"
	"github.com/springtools/stsclient/process"
	"github.com/springtools/stsclient/selector"
)

const (
	TransportStdio     = "stdio"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server ServerConfig `yaml:"server"`

	// Listen is the address of the UI status server. Empty disables it.
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`

	DataDir string `yaml:"data_dir"`
	WorkDir string `yaml:"work_dir"`

	// Browser overrides the command used to open web links.
	Browser string `yaml:"browser,omitempty"`

	Selector  selector.DocumentSelector `yaml:"selector"`
	Reconnect ReconnectConfig           `yaml:"reconnect"`
}

// ServerConfig describes how to reach the language server.
type ServerConfig struct {
	Transport             string         `yaml:"transport"`
	Command               string         `yaml:"command,omitempty"`
	Args                  []string       `yaml:"args,omitempty"`
	WorkingDir            string         `yaml:"working_dir,omitempty"`
	Env                   []string       `yaml:"env,omitempty"`
	Address               string         `yaml:"address,omitempty"`
	StopTimeout           time.Duration  `yaml:"stop_timeout,omitempty"`
	InitializationOptions map[string]any `yaml:"initialization_options,omitempty"`
}

type ReconnectConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	return &Config{
		Server: ServerConfig{
			Transport:   TransportStdio,
			StopTimeout: 5 * time.Second,
		},
		Listen:   "127.0.0.1:8080",
		DataDir:  filepath.Join(home, ".stsclient"),
		WorkDir:  wd,
		Selector: selector.Default(),
		Reconnect: ReconnectConfig{
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("STS_SERVER_CMD"); v != "" {
		fields := strings.Fields(v)
		c.Server.Transport = TransportStdio
		c.Server.Command = fields[0]
		c.Server.Args = fields[1:]
	}
	if v := getenv("STS_SERVER_ADDR"); v != "" {
		c.Server.Address = v
		if strings.HasPrefix(v, "ws://") || strings.HasPrefix(v, "wss://") {
			c.Server.Transport = TransportWebSocket
		} else {
			c.Server.Transport = TransportTCP
		}
	}
	if v, ok := lookup(getenv, "STS_LISTEN"); ok {
		c.Listen = v
	}
	if v := getenv("AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("WORK_DIR"); v != "" {
		c.WorkDir = v
	}
}

// lookup treats the value "-" as explicitly empty.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	}
	return v, true
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Transport {
	case TransportStdio:
		if c.Server.Command == "" {
			errs = append(errs, errors.New("server.command is required for stdio transport (or set STS_SERVER_CMD)"))
		}
	case TransportTCP:
		if c.Server.Address == "" {
			errs = append(errs, errors.New("server.address is required for tcp transport"))
		}
	case TransportWebSocket:
		u, err := url.Parse(c.Server.Address)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("server.address %q is not a ws:// or wss:// url", c.Server.Address))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown server.transport %q", c.Server.Transport))
	}

	if c.Listen != "" && c.AuthToken == "" {
		errs = append(errs, errors.New("auth_token is required when listen is set (or set AUTH_TOKEN)"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if err := c.Selector.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Reconnect.MaxBackoff != 0 && c.Reconnect.MaxBackoff < c.Reconnect.MinBackoff {
		errs = append(errs, errors.New("reconnect.max_backoff must not be less than min_backoff"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// NewTransport builds the transport the server config describes.
func (s ServerConfig) NewTransport(name string) (lsclient.Transport, error) {
	switch s.Transport {
	case TransportStdio:
		return &lsclient.StdioTransport{
			Name: name,
			Options: process.Options{
				Command:     s.Command,
				Args:        s.Args,
				Dir:         s.WorkingDir,
				Env:         s.Env,
				StopTimeout: s.StopTimeout,
			},
		}, nil
	case TransportTCP:
		return &lsclient.TCPTransport{Addr: s.Address, DialTimeout: 10 * time.Second}, nil
	case TransportWebSocket:
		return &lsclient.WebSocketTransport{URL: s.Address}, nil
	}
	return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalid, s.Transport)
}

// Save writes the config as YAML, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
