package cfg

import (
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// TransportKind selects how commit notifications reach the watcher
type TransportKind string

const (
	TransportNATS TransportKind = "nats" // NATS commit stream
	TransportPoll TransportKind = "poll" // Local file polling
)

// WatchConfiguration controls which realms are tracked
type WatchConfiguration struct {
	Include []string `toml:"include"` // Virtual path globs to track (empty = all)
	Exclude []string `toml:"exclude"` // Virtual path globs to skip
}

// TransportConfiguration controls the commit stream transport
type TransportConfiguration struct {
	Kind           TransportKind `toml:"kind"`
	NatsURL        string        `toml:"nats_url"`
	PollIntervalMS int           `toml:"poll_interval_ms"`
}

// SinkConfiguration describes one downstream notification sink
type SinkConfiguration struct {
	Name         string   `toml:"name"`
	Type         string   `toml:"type"`   // "nats" or "kafka"
	Format       string   `toml:"format"` // "json" or "msgpack"
	Brokers      []string `toml:"brokers"`
	NatsURL      string   `toml:"nats_url"`
	TopicPrefix  string   `toml:"topic_prefix"`
	FilterRealms []string `toml:"filter_realms"` // Virtual path globs
	FilterTables []string `toml:"filter_tables"` // Table name globs

	BatchSize       int     `toml:"batch_size"`
	PollIntervalMS  int     `toml:"poll_interval_ms"`
	RetryInitialMS  int     `toml:"retry_initial_ms"`
	RetryMaxMS      int     `toml:"retry_max_ms"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
}

// PublisherConfiguration controls notification forwarding
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminAPIConfiguration for the HTTP status API
type AdminAPIConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ClientID      uint64 `toml:"client_id"`
	DataDir       string `toml:"data_dir"`
	ServerBaseURL string `toml:"server_base_url"`
	AccessToken   string `toml:"access_token"`

	Watch      WatchConfiguration      `toml:"watch"`
	Transport  TransportConfiguration  `toml:"transport"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	AdminAPI   AdminAPIConfiguration   `toml:"admin_api"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "flock.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	ServerURLFlag  = flag.String("server-url", "", "Fleet server base URL (overrides config)")
	TokenFlag      = flag.String("access-token", "", "Access token (overrides config)")
)

// Default configuration
var Config = &Configuration{
	ClientID:      0, // Auto-generate
	DataDir:       "./flock-data",
	ServerBaseURL: "",
	AccessToken:   "",

	Watch: WatchConfiguration{
		Include: []string{},
		Exclude: []string{},
	},

	Transport: TransportConfiguration{
		Kind:           TransportNATS,
		NatsURL:        "nats://localhost:4222",
		PollIntervalMS: 100,
	},

	Publisher: PublisherConfiguration{
		Enabled: false,
		Sinks:   []SinkConfiguration{},
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},

	AdminAPI: AdminAPIConfiguration{
		Enabled: true,
		Address: "127.0.0.1",
		Port:    8920,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *ServerURLFlag != "" {
		Config.ServerBaseURL = *ServerURLFlag
	}
	if *TokenFlag != "" {
		Config.AccessToken = *TokenFlag
	}

	// Auto-generate client ID if not set
	if Config.ClientID == 0 {
		var err error
		Config.ClientID, err = generateClientID()
		if err != nil {
			return fmt.Errorf("failed to generate client ID: %w", err)
		}
		log.Info().Uint64("client_id", Config.ClientID).Msg("Auto-generated client ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateClientID creates a unique client ID based on machine ID
func generateClientID() (uint64, error) {
	id, err := machineid.ProtectedID("flock")
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(id), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.ServerBaseURL == "" {
		return fmt.Errorf("server_base_url is required")
	}
	if _, err := url.Parse(Config.ServerBaseURL); err != nil {
		return fmt.Errorf("invalid server_base_url: %w", err)
	}

	switch Config.Transport.Kind {
	case TransportNATS:
		if Config.Transport.NatsURL == "" {
			return fmt.Errorf("transport.nats_url is required for nats transport")
		}
	case TransportPoll:
		if Config.Transport.PollIntervalMS < 1 {
			return fmt.Errorf("transport.poll_interval_ms must be >= 1")
		}
	default:
		return fmt.Errorf("unknown transport kind: %s", Config.Transport.Kind)
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.AdminAPI.Enabled && (Config.AdminAPI.Port < 1 || Config.AdminAPI.Port > 65535) {
		return fmt.Errorf("invalid admin API port: %d", Config.AdminAPI.Port)
	}

	for _, sink := range Config.Publisher.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		switch sink.Type {
		case "nats":
			if sink.NatsURL == "" {
				return fmt.Errorf("sink %q: nats_url is required", sink.Name)
			}
		case "kafka":
			if len(sink.Brokers) == 0 {
				return fmt.Errorf("sink %q: at least one broker is required", sink.Name)
			}
		default:
			return fmt.Errorf("sink %q: unknown type %q", sink.Name, sink.Type)
		}
		switch sink.Format {
		case "", "json", "msgpack":
		default:
			return fmt.Errorf("sink %q: unknown format %q", sink.Name, sink.Format)
		}
	}

	return nil
}
