package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/lightningd-harness/internal/infrastructure/database"
	"github.com/nerrad567/lightningd-harness/internal/lightningd"
)

// PathEnv names the harness config file when --config is not given.
const PathEnv = "LNHARNESS_CONFIG"

// envPrefix prefixes every override variable.
const envPrefix = "LNHARNESS_"

// ErrInvalid is returned when validation finds one or more problems.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root of the harness configuration file.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Lightningd LightningdConfig `yaml:"lightningd"`
	Download   DownloadConfig   `yaml:"download"`
	Database   database.Config  `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json, text, or auto (text on a terminal, json otherwise).
	Format string `yaml:"format"`

	// Output is stdout or stderr.
	Output string `yaml:"output"`
}

// LightningdConfig holds launch defaults for `lnharness run`.
type LightningdConfig struct {
	// Exe pins the daemon executable, bypassing resolution.
	Exe string `yaml:"exe"`

	lightningd.Conf `yaml:",inline"`
}

// DownloadConfig selects where `lnharness fetch` gets lightningd from.
type DownloadConfig struct {
	Version     string `yaml:"version"`
	Endpoint    string `yaml:"endpoint"`
	CacheDir    string `yaml:"cache_dir"`
	TarballFile string `yaml:"tarball_file"`

	// Image is a container image reference whose filesystem ships
	// usr/bin/lightningd. Takes precedence over Endpoint.
	Image string `yaml:"image"`

	// Digest pins the archive digest ("sha256:<hex>").
	Digest string `yaml:"digest"`

	// SumsFile is a local SHA256SUMS used instead of the published one.
	SumsFile string `yaml:"sums_file"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnect backoff bounds.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// APIConfig contains the control API listener settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP server timeouts.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// Load reads configuration and applies environment overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values, when path is non-empty
//  3. LNHARNESS_* environment variables
//
// Parameters:
//   - path: YAML file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
		Lightningd: LightningdConfig{
			Conf: lightningd.DefaultConf(),
		},
		Database: database.Config{
			Path:        "./data/lnharness.db",
			WALMode:     true,
			BusyTimeout: database.DefaultBusyTimeout,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lnharness",
			},
			QoS:         1,
			TopicPrefix: "lnharness",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "lnharness",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30 * time.Second,
				Write: 30 * time.Second,
				Idle:  60 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies LNHARNESS_<SECTION>_<KEY> variables.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"LOG_LEVEL":          &cfg.Logging.Level,
		"LOG_FORMAT":         &cfg.Logging.Format,
		"LIGHTNINGD_EXE":     &cfg.Lightningd.Exe,
		"LIGHTNINGD_WORKDIR": &cfg.Lightningd.WorkDir,
		"DOWNLOAD_VERSION":   &cfg.Download.Version,
		"DOWNLOAD_ENDPOINT":  &cfg.Download.Endpoint,
		"DOWNLOAD_CACHE_DIR": &cfg.Download.CacheDir,
		"DOWNLOAD_IMAGE":     &cfg.Download.Image,
		"DATABASE_PATH":      &cfg.Database.Path,
		"MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"INFLUXDB_URL":       &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"API_HOST":           &cfg.API.Host,
	}
	for key, dst := range str {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LIGHTNINGD_RPC_PORT":  &cfg.Lightningd.RPCPort,
		"LIGHTNINGD_PEER_PORT": &cfg.Lightningd.PeerPort,
		"MQTT_PORT":            &cfg.MQTT.Broker.Port,
		"API_PORT":             &cfg.API.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalid, envPrefix, key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
		"API_ENABLED":      &cfg.API.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a boolean", ErrInvalid, envPrefix, key, v)
		}
		*dst = b
	}
	return nil
}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "auto":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of json, text, auto", c.Logging.Format))
	}

	if err := c.Lightningd.Validate(); err != nil {
		errs = append(errs, "lightningd: "+err.Error())
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if !validPort(c.MQTT.Broker.Port) {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			errs = append(errs, "mqtt.topic_prefix must be non-empty and contain no wildcards")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
