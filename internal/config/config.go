package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultConfigPath         = "/etc/fritzinfluxdb.yaml"
	DefaultFritzBoxHost       = "192.168.178.1"
	DefaultTR064Port          = 49000
	DefaultTR064TLSPort       = 49443
	DefaultConnectTimeout     = 5 * time.Second
	DefaultRequestInterval    = 10 * time.Second
	MinRequestInterval        = 10 * time.Second
	DefaultRequestRate        = 5.0
	DefaultBoxTag             = "fritz.box"
	DefaultInfluxPort         = 8086
	DefaultMeasurementName    = "fritzbox"
	DefaultMaxBufferSize      = 1_000_000
	DefaultMaxBatchSize       = 1_000
	DefaultQueueSize          = 10_000
	DefaultRetryInterval      = 5 * time.Second
	DefaultMaxRetryInterval   = 120 * time.Second
	DefaultDeliveryTick       = time.Second
	DefaultInfluxWriteTimeout = 5 * time.Second
)

// Protocol names accepted in fritzbox.protocols.
const (
	ProtocolTR064 = "tr064"
	ProtocolLua   = "lua"
)

// Config is the complete daemon configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	FritzBox FritzBoxConfig `yaml:"fritzbox"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// LogLevel is one of debug | info | warn | error. It is the only setting
	// applied on reload without a restart.
	LogLevel string `yaml:"log_level"`
}

// FritzBoxConfig describes the polled device.
type FritzBoxConfig struct {
	Hostname string `yaml:"hostname"`
	Username string `yaml:"username"`

	// PlainPassword is the inline password. PasswordEnv, when set, names an
	// environment variable that takes precedence.
	PlainPassword string `yaml:"password"`
	PasswordEnv   string `yaml:"password_env"`

	// Port is the TR-064 port. Zero selects 49000, or 49443 with TLS.
	Port       int       `yaml:"port"`
	TLSEnabled bool      `yaml:"tls_enabled"`
	TLS        TLSConfig `yaml:"tls"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestInterval is the minimum poll interval of every service. Values
	// below 10s are raised to 10s.
	RequestInterval time.Duration `yaml:"request_interval"`

	// RequestRate caps device calls per second across all services of one protocol.
	RequestRate float64 `yaml:"request_rate"`

	// BoxTag is written as the "box" tag of every measurement.
	BoxTag string `yaml:"box_tag"`

	// Timezone is the IANA zone used to read timestamps reported by the
	// device. Empty means the local zone of this host.
	Timezone string `yaml:"timezone"`

	// Protocols selects the enabled pollers: tr064, lua.
	Protocols []string `yaml:"protocols"`
}

// Password returns the device password, preferring PasswordEnv.
func (f FritzBoxConfig) Password() string {
	if f.PasswordEnv != "" {
		if v, ok := os.LookupEnv(f.PasswordEnv); ok {
			return v
		}
	}
	return f.PlainPassword
}

// Location resolves Timezone.
func (f FritzBoxConfig) Location() (*time.Location, error) {
	if f.Timezone == "" || strings.EqualFold(f.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(f.Timezone)
}

// TR064URL returns the base URL of the TR-064 interface.
func (f FritzBoxConfig) TR064URL() string {
	scheme := "http"
	if f.TLSEnabled {
		scheme = "https"
	}
	port := f.Port
	if port == 0 {
		port = DefaultTR064Port
		if f.TLSEnabled {
			port = DefaultTR064TLSPort
		}
	}
	return (&url.URL{Scheme: scheme, Host: net.JoinHostPort(f.Hostname, strconv.Itoa(port))}).String()
}

// WebURL returns the base URL of the web interface.
func (f FritzBoxConfig) WebURL() string {
	scheme := "http"
	if f.TLSEnabled {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: f.Hostname}).String()
}

// Enabled reports whether protocol is listed in Protocols.
func (f FritzBoxConfig) Enabled(protocol string) bool {
	for _, p := range f.Protocols {
		if strings.EqualFold(p, protocol) {
			return true
		}
	}
	return false
}

// TLSConfig holds TLS dial options for a remote endpoint.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. The device ships
	// a self-signed certificate, so this is usually needed with tls_enabled.
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
}

// InfluxDBConfig describes the target database.
type InfluxDBConfig struct {
	// Version is 1 (database, basic auth) or 2 (organisation, bucket, token).
	Version    int       `yaml:"version"`
	Hostname   string    `yaml:"hostname"`
	Port       int       `yaml:"port"`
	TLSEnabled bool      `yaml:"tls_enabled"`
	TLS        TLSConfig `yaml:"tls"`

	MeasurementName string        `yaml:"measurement_name"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`

	// Version 1.
	Username      string `yaml:"username"`
	PlainPassword string `yaml:"password"`
	PasswordEnv   string `yaml:"password_env"`
	Database      string `yaml:"database"`

	// Version 2.
	PlainToken   string `yaml:"token"`
	TokenEnv     string `yaml:"token_env"`
	Organisation string `yaml:"organisation"`
	Bucket       string `yaml:"bucket"`
}

// Password returns the v1 password, preferring PasswordEnv.
func (i InfluxDBConfig) Password() string {
	if i.PasswordEnv != "" {
		if v, ok := os.LookupEnv(i.PasswordEnv); ok {
			return v
		}
	}
	return i.PlainPassword
}

// Token returns the v2 API token, preferring TokenEnv.
func (i InfluxDBConfig) Token() string {
	if i.TokenEnv != "" {
		if v, ok := os.LookupEnv(i.TokenEnv); ok {
			return v
		}
	}
	return i.PlainToken
}

// URL returns the base URL of the database API.
func (i InfluxDBConfig) URL() string {
	scheme := "http"
	if i.TLSEnabled {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: net.JoinHostPort(i.Hostname, strconv.Itoa(i.Port))}).String()
}

// DeliveryConfig tunes the buffer between pollers and InfluxDB.
type DeliveryConfig struct {
	MaxBufferSize    int           `yaml:"max_buffer_size"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
	QueueSize        int           `yaml:"queue_size"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
	Tick             time.Duration `yaml:"tick"`
}

// MetricsConfig controls the self-metrics endpoint.
type MetricsConfig struct {
	// Listen is the host:port serving /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// Level returns the configured log level. Unknown values map to info;
// validate rejects them at load time.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Load reads and parses the YAML config file at path, applies defaults and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file access.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		FritzBox: FritzBoxConfig{
			Hostname:        DefaultFritzBoxHost,
			ConnectTimeout:  DefaultConnectTimeout,
			RequestInterval: DefaultRequestInterval,
			RequestRate:     DefaultRequestRate,
			BoxTag:          DefaultBoxTag,
			Protocols:       []string{ProtocolTR064, ProtocolLua},
		},
		InfluxDB: InfluxDBConfig{
			Version:         1,
			Port:            DefaultInfluxPort,
			MeasurementName: DefaultMeasurementName,
			WriteTimeout:    DefaultInfluxWriteTimeout,
		},
		Delivery: DeliveryConfig{
			MaxBufferSize:    DefaultMaxBufferSize,
			MaxBatchSize:     DefaultMaxBatchSize,
			QueueSize:        DefaultQueueSize,
			RetryInterval:    DefaultRetryInterval,
			MaxRetryInterval: DefaultMaxRetryInterval,
			Tick:             DefaultDeliveryTick,
		},
		LogLevel: "info",
	}
}

// applyEnv overrides settings from SECTION_OPTION environment variables,
// e.g. FRITZBOX_HOSTNAME or INFLUXDB_TOKEN.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FRITZBOX_HOSTNAME":         &cfg.FritzBox.Hostname,
		"FRITZBOX_USERNAME":         &cfg.FritzBox.Username,
		"FRITZBOX_PASSWORD":         &cfg.FritzBox.PlainPassword,
		"FRITZBOX_BOX_TAG":          &cfg.FritzBox.BoxTag,
		"FRITZBOX_TIMEZONE":         &cfg.FritzBox.Timezone,
		"INFLUXDB_HOSTNAME":         &cfg.InfluxDB.Hostname,
		"INFLUXDB_USERNAME":         &cfg.InfluxDB.Username,
		"INFLUXDB_PASSWORD":         &cfg.InfluxDB.PlainPassword,
		"INFLUXDB_DATABASE":         &cfg.InfluxDB.Database,
		"INFLUXDB_TOKEN":            &cfg.InfluxDB.PlainToken,
		"INFLUXDB_ORGANISATION":     &cfg.InfluxDB.Organisation,
		"INFLUXDB_BUCKET":           &cfg.InfluxDB.Bucket,
		"INFLUXDB_MEASUREMENT_NAME": &cfg.InfluxDB.MeasurementName,
		"FRITZINFLUXDB_LOG_LEVEL":   &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FRITZBOX_PORT":    &cfg.FritzBox.Port,
		"INFLUXDB_PORT":    &cfg.InfluxDB.Port,
		"INFLUXDB_VERSION": &cfg.InfluxDB.Version,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"FRITZBOX_TLS_ENABLED": &cfg.FritzBox.TLSEnabled,
		"INFLUXDB_TLS_ENABLED": &cfg.InfluxDB.TLSEnabled,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// normalize applies floors and fills values that depend on other fields.
func normalize(cfg *Config) {
	if cfg.FritzBox.RequestInterval < MinRequestInterval {
		cfg.FritzBox.RequestInterval = MinRequestInterval
	}
	if cfg.FritzBox.RequestRate <= 0 {
		cfg.FritzBox.RequestRate = DefaultRequestRate
	}
	if cfg.FritzBox.BoxTag == "" {
		cfg.FritzBox.BoxTag = DefaultBoxTag
	}
	if cfg.InfluxDB.MeasurementName == "" {
		cfg.InfluxDB.MeasurementName = DefaultMeasurementName
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	var errs []error

	fb := cfg.FritzBox
	if fb.Hostname == "" {
		errs = append(errs, errors.New("fritzbox.hostname is required"))
	}
	if fb.Username == "" {
		errs = append(errs, errors.New("fritzbox.username is required"))
	}
	if fb.Password() == "" {
		errs = append(errs, errors.New("fritzbox.password (or password_env) is required"))
	}
	if fb.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("fritzbox.connect_timeout must be positive"))
	}
	if _, err := fb.Location(); err != nil {
		errs = append(errs, fmt.Errorf("fritzbox.timezone: %w", err))
	}
	if len(fb.Protocols) == 0 {
		errs = append(errs, errors.New("fritzbox.protocols must list at least one of tr064, lua"))
	}
	for _, p := range fb.Protocols {
		switch strings.ToLower(p) {
		case ProtocolTR064, ProtocolLua:
		default:
			errs = append(errs, fmt.Errorf("fritzbox.protocols: unknown protocol %q", p))
		}
	}

	in := cfg.InfluxDB
	if in.Hostname == "" {
		errs = append(errs, errors.New("influxdb.hostname is required"))
	}
	switch in.Version {
	case 1:
		if in.Username == "" {
			errs = append(errs, errors.New("influxdb.username is required for version 1"))
		}
		if in.Password() == "" {
			errs = append(errs, errors.New("influxdb.password (or password_env) is required for version 1"))
		}
		if in.Database == "" {
			errs = append(errs, errors.New("influxdb.database is required for version 1"))
		}
	case 2:
		if in.Token() == "" {
			errs = append(errs, errors.New("influxdb.token (or token_env) is required for version 2"))
		}
		if in.Organisation == "" {
			errs = append(errs, errors.New("influxdb.organisation is required for version 2"))
		}
		if in.Bucket == "" {
			errs = append(errs, errors.New("influxdb.bucket is required for version 2"))
		}
	default:
		errs = append(errs, fmt.Errorf("influxdb.version must be 1 or 2, got %d", in.Version))
	}
	if in.Port <= 0 || in.Port > 65535 {
		errs = append(errs, fmt.Errorf("influxdb.port %d out of range", in.Port))
	}
	if in.WriteTimeout <= 0 {
		errs = append(errs, errors.New("influxdb.write_timeout must be positive"))
	}

	d := cfg.Delivery
	if d.MaxBufferSize <= 0 {
		errs = append(errs, errors.New("delivery.max_buffer_size must be positive"))
	}
	if d.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("delivery.max_batch_size must be positive"))
	}
	if d.QueueSize <= 0 {
		errs = append(errs, errors.New("delivery.queue_size must be positive"))
	}
	if d.RetryInterval <= 0 {
		errs = append(errs, errors.New("delivery.retry_interval must be positive"))
	}
	if d.MaxRetryInterval < d.RetryInterval {
		errs = append(errs, errors.New("delivery.max_retry_interval must not be below retry_interval"))
	}
	if d.Tick <= 0 {
		errs = append(errs, errors.New("delivery.tick must be positive"))
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
