package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scale-server/scale-server-pro/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	JWT         JWTConfig         `yaml:"jwt"`
	Auth        AuthConfig        `yaml:"auth"`
	Transport   TransportConfig   `yaml:"transport"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Filter      FilterConfig      `yaml:"filter"`
	Nodes       []models.NodeDef  `yaml:"nodes"`
}

// ServerConfig represents server identification
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig represents the optional event-log database. An empty DSN
// disables persistence entirely.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration. An empty URL disables the
// internal message bus and with it the MQTT/webhook forwarder.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	WeightSubject     string        `yaml:"weight_subject"`
	EventSubject      string        `yaml:"event_subject"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the MQTT integration target
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// WebhookConfig represents the HTTP integration target
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AuthConfig holds the operator credentials accepted by the API. The
// password is stored as a bcrypt hash, never in clear text.
type AuthConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// TransportConfig selects and parameterizes the base-station transport.
// Mode is "mock" or "tcp"; Target may be an address or "auto" to probe the
// candidate list.
type TransportConfig struct {
	Mode        string        `yaml:"mode"`
	Target      string        `yaml:"target"`
	Candidates  []string      `yaml:"candidates"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AcquisitionConfig represents acquisition loop and station manager timing
type AcquisitionConfig struct {
	PollTimeout          time.Duration `yaml:"poll_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	FrameTolerance       time.Duration `yaml:"frame_tolerance"`
	FrameTimeout         time.Duration `yaml:"frame_timeout"`
	NodeTimeout          time.Duration `yaml:"node_timeout"`
	BeaconCheckInterval  time.Duration `yaml:"beacon_check_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SampleRateHz         int           `yaml:"sample_rate_hz"`
	ValueMin             float64       `yaml:"value_min"`
	ValueMax             float64       `yaml:"value_max"`
}

// FilterConfig represents the per-node filtering and tare engine parameters
type FilterConfig struct {
	MedianWindow  int           `yaml:"median_window"`
	EMAAlpha      float64       `yaml:"ema_alpha"`
	SensorTimeout time.Duration `yaml:"sensor_timeout"`
}

// Load reads, defaults and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields with the documented defaults
func (c *Config) ApplyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "scale-server"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.NATS.WeightSubject == "" {
		c.NATS.WeightSubject = "scale.weight"
	}
	if c.NATS.EventSubject == "" {
		c.NATS.EventSubject = "scale.event"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 30 * time.Second
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 24 * time.Hour
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = "mock"
	}
	if c.Transport.Target == "" {
		// "auto" probes TCP candidates; the simulator accepts any target.
		if c.Transport.Mode == "tcp" {
			c.Transport.Target = "auto"
		} else {
			c.Transport.Target = "mock"
		}
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = 3 * time.Second
	}

	a := &c.Acquisition
	if a.PollTimeout == 0 {
		a.PollTimeout = 100 * time.Millisecond
	}
	if a.PollInterval == 0 {
		a.PollInterval = 50 * time.Millisecond
	}
	if a.FrameTolerance == 0 {
		a.FrameTolerance = 10 * time.Millisecond
	}
	if a.FrameTimeout == 0 {
		a.FrameTimeout = 50 * time.Millisecond
	}
	if a.NodeTimeout == 0 {
		a.NodeTimeout = 5 * time.Second
	}
	if a.BeaconCheckInterval == 0 {
		a.BeaconCheckInterval = 2 * time.Second
	}
	if a.ReconnectDelay == 0 {
		a.ReconnectDelay = 2 * time.Second
	}
	if a.MaxReconnectAttempts == 0 {
		a.MaxReconnectAttempts = 5
	}
	if a.SampleRateHz == 0 {
		a.SampleRateHz = 32
	}
	if a.ValueMin == 0 && a.ValueMax == 0 {
		a.ValueMin = -50000.0
		a.ValueMax = 50000.0
	}

	f := &c.Filter
	if f.MedianWindow == 0 {
		f.MedianWindow = 5
	}
	if f.EMAAlpha == 0 {
		f.EMAAlpha = 0.3
	}
	if f.SensorTimeout == 0 {
		f.SensorTimeout = 3 * time.Second
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be configured")
	}

	seenIDs := make(map[uint32]string)
	seenNames := make(map[string]bool)
	for i, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node %d: name is required", i)
		}
		if n.NodeID == 0 {
			return fmt.Errorf("node %q: id is required", n.Name)
		}
		if prev, ok := seenIDs[n.NodeID]; ok {
			return fmt.Errorf("node %q: duplicate id %d (also used by %q)", n.Name, n.NodeID, prev)
		}
		if seenNames[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seenIDs[n.NodeID] = n.Name
		seenNames[n.Name] = true
		if c.Nodes[i].Channel == "" {
			c.Nodes[i].Channel = "ch1"
		}
	}

	switch c.Transport.Mode {
	case "mock", "tcp":
	default:
		return fmt.Errorf("transport mode must be \"mock\" or \"tcp\", got %q", c.Transport.Mode)
	}

	if c.Transport.Mode == "tcp" && c.Transport.Target == "auto" && len(c.Transport.Candidates) == 0 {
		return fmt.Errorf("transport target \"auto\" requires a candidate address list")
	}

	if c.Filter.MedianWindow%2 == 0 {
		return fmt.Errorf("filter median_window must be odd, got %d", c.Filter.MedianWindow)
	}
	if c.Filter.EMAAlpha <= 0 || c.Filter.EMAAlpha > 1 {
		return fmt.Errorf("filter ema_alpha must be in (0, 1], got %g", c.Filter.EMAAlpha)
	}

	if c.Acquisition.ValueMin >= c.Acquisition.ValueMax {
		return fmt.Errorf("acquisition value_min must be below value_max")
	}

	if c.JWT.Secret == "" && c.Auth.Username != "" {
		return fmt.Errorf("jwt secret is required when auth is configured")
	}

	return nil
}

// ExpectedNodeIDs returns the static expected node-id set
func (c *Config) ExpectedNodeIDs() map[uint32]bool {
	ids := make(map[uint32]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		ids[n.NodeID] = true
	}
	return ids
}

// PrintConfigSummary prints a human-readable configuration summary
func (c *Config) PrintConfigSummary() {
	fmt.Printf("Server:     %s %s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("API:        %s:%d\n", c.API.Host, c.API.Port)
	fmt.Printf("Transport:  %s (%s)\n", c.Transport.Mode, c.Transport.Target)
	fmt.Printf("Nodes:      %d expected\n", len(c.Nodes))
	for _, n := range c.Nodes {
		fmt.Printf("  - %-16s id=%d ch=%s\n", n.Name, n.NodeID, n.Channel)
	}
	fmt.Printf("Sampling:   %d Hz sync, poll %s, frame tolerance %s, frame timeout %s\n",
		c.Acquisition.SampleRateHz, c.Acquisition.PollTimeout,
		c.Acquisition.FrameTolerance, c.Acquisition.FrameTimeout)
	fmt.Printf("Filter:     median window %d, EMA alpha %.2f, sensor timeout %s\n",
		c.Filter.MedianWindow, c.Filter.EMAAlpha, c.Filter.SensorTimeout)
	if c.Database.DSN != "" {
		fmt.Printf("Database:   enabled\n")
	} else {
		fmt.Printf("Database:   disabled (events not persisted)\n")
	}
	if c.NATS.URL != "" {
		fmt.Printf("NATS:       %s (%s, %s)\n", c.NATS.URL, c.NATS.WeightSubject, c.NATS.EventSubject)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT:       %s -> %s\n", c.MQTT.Broker, c.MQTT.Topic)
	}
	if c.Webhook.Enabled {
		fmt.Printf("Webhook:    %s\n", c.Webhook.URL)
	}
}
