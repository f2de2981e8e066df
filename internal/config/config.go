// Package config loads the gateway's application settings (ports,
// intervals, thresholds, broker connection details) — distinct from the
// node configuration file the registry package owns (spec.md §6).
// Grounded on the teacher's config.Config/applyDefaults/validate shape,
// adapted from a direct yaml.v3 read to spf13/viper so the same struct
// can be populated from file or environment uniformly.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete gateway application configuration.
type Config struct {
	Service     ServiceConfig
	HTTP        HTTPConfig
	Gateway     GatewayConfig
	Egress      EgressConfig
	NodeConfig  NodeConfigConfig
	Logging     LoggingConfig
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string
	Environment string
}

// HTTPConfig configures the health/metrics HTTP server.
type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GatewayConfig carries the session-level tunables (§4.3, §5).
type GatewayConfig struct {
	SessionTimeout               time.Duration
	BackoffMax                   uint32
	KeepAliveInterval            time.Duration
	KeepAliveDisconnectThreshold uint32
	FetchDisplayName             bool
	ShopfloorDomain              string
	ReconcileInterval            time.Duration
	DefaultSamplingInterval      time.Duration
	DefaultPublishingInterval    time.Duration
}

// EgressConfig configures the MQTT egress publisher.
type EgressConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	KeepAlive      time.Duration
	ReconnectDelay time.Duration
	BufferSize     int
}

// NodeConfigConfig configures the on-disk node configuration file (§6).
type NodeConfigConfig struct {
	Path         string
	WatchForEdit bool
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from an optional file plus environment
// overrides, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	applyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Environment: v.GetString("service.environment"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetInt("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		Gateway: GatewayConfig{
			SessionTimeout:               v.GetDuration("gateway.session_timeout"),
			BackoffMax:                   uint32(v.GetUint("gateway.backoff_max")),
			KeepAliveInterval:            v.GetDuration("gateway.keep_alive_interval"),
			KeepAliveDisconnectThreshold: uint32(v.GetUint("gateway.keep_alive_disconnect_threshold")),
			FetchDisplayName:             v.GetBool("gateway.fetch_display_name"),
			ShopfloorDomain:              v.GetString("gateway.shopfloor_domain"),
			ReconcileInterval:            v.GetDuration("gateway.reconcile_interval"),
			DefaultSamplingInterval:      v.GetDuration("gateway.default_sampling_interval"),
			DefaultPublishingInterval:    v.GetDuration("gateway.default_publishing_interval"),
		},
		Egress: EgressConfig{
			BrokerURL:      v.GetString("egress.broker_url"),
			ClientID:       v.GetString("egress.client_id"),
			Username:       v.GetString("egress.username"),
			Password:       v.GetString("egress.password"),
			Topic:          v.GetString("egress.topic"),
			QoS:            byte(v.GetUint("egress.qos")),
			KeepAlive:      v.GetDuration("egress.keep_alive"),
			ReconnectDelay: v.GetDuration("egress.reconnect_delay"),
			BufferSize:     v.GetInt("egress.buffer_size"),
		},
		NodeConfig: NodeConfigConfig{
			Path:         v.GetString("node_config.path"),
			WatchForEdit: v.GetBool("node_config.watch_for_edit"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if cfg.Egress.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.Egress.ClientID = "opc-gateway-" + hostname
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "opc-gateway")
	v.SetDefault("service.environment", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("gateway.session_timeout", 10*time.Second)
	v.SetDefault("gateway.backoff_max", 8)
	v.SetDefault("gateway.keep_alive_interval", 5*time.Second)
	v.SetDefault("gateway.keep_alive_disconnect_threshold", 3)
	v.SetDefault("gateway.fetch_display_name", true)
	v.SetDefault("gateway.shopfloor_domain", "")
	v.SetDefault("gateway.reconcile_interval", 2*time.Second)
	v.SetDefault("gateway.default_sampling_interval", 1*time.Second)
	v.SetDefault("gateway.default_publishing_interval", 1*time.Second)

	v.SetDefault("egress.broker_url", "tcp://localhost:1883")
	v.SetDefault("egress.client_id", "")
	v.SetDefault("egress.topic", "shopfloor/opcua/notifications")
	v.SetDefault("egress.qos", 1)
	v.SetDefault("egress.keep_alive", 30*time.Second)
	v.SetDefault("egress.reconnect_delay", 5*time.Second)
	v.SetDefault("egress.buffer_size", 4096)

	v.SetDefault("node_config.path", "/etc/opc-gateway/nodes.json")
	v.SetDefault("node_config.watch_for_edit", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func validate(cfg *Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", cfg.HTTP.Port)
	}
	if cfg.Gateway.SessionTimeout <= 0 {
		return fmt.Errorf("gateway.session_timeout must be positive")
	}
	if cfg.Gateway.BackoffMax == 0 {
		return fmt.Errorf("gateway.backoff_max must be positive")
	}
	if cfg.Gateway.KeepAliveDisconnectThreshold == 0 {
		return fmt.Errorf("gateway.keep_alive_disconnect_threshold must be positive")
	}
	if cfg.Egress.BrokerURL == "" {
		return fmt.Errorf("egress.broker_url is required")
	}
	if cfg.NodeConfig.Path == "" {
		return fmt.Errorf("node_config.path is required")
	}
	return nil
}
