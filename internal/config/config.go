package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	defaultIDE            = "code"
	defaultAPIURL         = "https://auto-accept-backend.onrender.com/api"
	defaultSyncInterval   = 5 * time.Second
	defaultStatsInterval  = 30 * time.Second
	defaultLeaseStaleness = 15 * time.Second
	defaultBridgeTimeout  = 5 * time.Second
	defaultSummaryTimeout = 8 * time.Second
	defaultLicenseTimeout = 5 * time.Second
	defaultStatusAddr     = "127.0.0.1:7319"
	defaultCDPHost        = "127.0.0.1"
	defaultLogLevel       = "info"
	defaultEnvironment    = "dev"

	// OTLPEndpointEnv is the standard OpenTelemetry exporter variable.
	OTLPEndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "AUTOACCEPT_"
	dirName   = ".autoaccept"
)

var supportedIDEs = map[string]bool{"code": true, "cursor": true, "antigravity": true}

// Config stores runtime settings loaded from TOML files and the environment.
type Config struct {
	IDE            string
	APIURL         string
	StatePath      string
	SyncInterval   time.Duration
	StatsInterval  time.Duration
	LeaseStaleness time.Duration
	BridgeTimeout  time.Duration
	SummaryTimeout time.Duration
	LicenseTimeout time.Duration
	StatusAddr     string
	CDPHost        string
	CDPPorts       []int
	LogLevel       string
	// OTELEndpoint is empty when traces should not leave the process.
	OTELEndpoint string
	Environment  string
}

type otelFileConfig struct {
	Endpoint    *string `toml:"endpoint"`
	Environment *string `toml:"environment"`
}

type fileConfig struct {
	IDE            *string `toml:"ide"`
	APIURL         *string `toml:"api_url"`
	StatePath      *string `toml:"state_path"`
	SyncInterval   *string `toml:"sync_interval"`
	StatsInterval  *string `toml:"stats_interval"`
	LeaseStaleness *string `toml:"lease_staleness"`
	BridgeTimeout  *string `toml:"bridge_timeout"`
	SummaryTimeout *string `toml:"summary_timeout"`
	LicenseTimeout *string `toml:"license_timeout"`
	StatusAddr     *string `toml:"status_addr"`
	CDPHost        *string `toml:"cdp_host"`
	CDPPorts       []int   `toml:"cdp_ports"`
	LogLevel       *string `toml:"log_level"`

	OTEL otelFileConfig `toml:"otel"`
}

// Dir returns ~/.autoaccept.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, dirName), nil
}

// Load reads config from ~/.autoaccept/config.toml, overlays a project-local
// .autoaccept/config.toml, then applies .env and AUTOACCEPT_* variables.
func Load(ctx context.Context) (*Config, error) {
	home, err := Dir()
	if err != nil {
		return nil, err
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg := defaults(home)
	paths := []string{
		filepath.Join(home, "config.toml"),
		filepath.Join(workingDir, dirName, "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	// godotenv never overrides variables already set in the process.
	envPath := filepath.Join(workingDir, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %q: %w", envPath, err)
	}
	if err := overlayFromEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	_ = ctx
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults(home string) Config {
	return Config{
		IDE:            defaultIDE,
		APIURL:         defaultAPIURL,
		StatePath:      filepath.Join(home, "state.db"),
		SyncInterval:   defaultSyncInterval,
		StatsInterval:  defaultStatsInterval,
		LeaseStaleness: defaultLeaseStaleness,
		BridgeTimeout:  defaultBridgeTimeout,
		SummaryTimeout: defaultSummaryTimeout,
		LicenseTimeout: defaultLicenseTimeout,
		StatusAddr:     defaultStatusAddr,
		CDPHost:        defaultCDPHost,
		LogLevel:       defaultLogLevel,
		Environment:    defaultEnvironment,
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if !supportedIDEs[c.IDE] {
		return fmt.Errorf("unsupported ide %q (want code, cursor or antigravity)", c.IDE)
	}
	if c.LeaseStaleness <= c.SyncInterval {
		return fmt.Errorf("lease_staleness %s must exceed sync_interval %s", c.LeaseStaleness, c.SyncInterval)
	}
	for _, port := range c.CDPPorts {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("cdp_ports: invalid port %d", port)
		}
	}
	return nil
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyStringOverrides(cfg, decoded)
	if decoded.CDPPorts != nil {
		cfg.CDPPorts = append([]int(nil), decoded.CDPPorts...)
	}
	return applyDurationOverrides(cfg, decoded, path)
}

func applyStringOverrides(cfg *Config, decoded fileConfig) {
	set := func(dst *string, value *string, normalize func(string) string) {
		if value != nil {
			*dst = normalize(*value)
		}
	}
	set(&cfg.IDE, decoded.IDE, normalizeKey)
	set(&cfg.APIURL, decoded.APIURL, trimURL)
	set(&cfg.StatePath, decoded.StatePath, strings.TrimSpace)
	set(&cfg.StatusAddr, decoded.StatusAddr, strings.TrimSpace)
	set(&cfg.CDPHost, decoded.CDPHost, strings.TrimSpace)
	set(&cfg.LogLevel, decoded.LogLevel, normalizeKey)
	set(&cfg.OTELEndpoint, decoded.OTEL.Endpoint, strings.TrimSpace)
	set(&cfg.Environment, decoded.OTEL.Environment, normalizeKey)
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	fields := []struct {
		key   string
		value *string
		dst   *time.Duration
	}{
		{"sync_interval", decoded.SyncInterval, &cfg.SyncInterval},
		{"stats_interval", decoded.StatsInterval, &cfg.StatsInterval},
		{"lease_staleness", decoded.LeaseStaleness, &cfg.LeaseStaleness},
		{"bridge_timeout", decoded.BridgeTimeout, &cfg.BridgeTimeout},
		{"summary_timeout", decoded.SummaryTimeout, &cfg.SummaryTimeout},
		{"license_timeout", decoded.LicenseTimeout, &cfg.LicenseTimeout},
	}
	for _, field := range fields {
		if field.value == nil {
			continue
		}
		parsed, err := parseDuration(*field.value, field.key, path)
		if err != nil {
			return err
		}
		*field.dst = parsed
	}
	return nil
}

// overlayFromEnv applies AUTOACCEPT_<KEY> variables, where KEY is the
// upper-cased TOML key.
func overlayFromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	decoded := fileConfig{}
	str := func(key string) *string {
		if value, ok := lookup(EnvPrefix + strings.ToUpper(key)); ok && strings.TrimSpace(value) != "" {
			return &value
		}
		return nil
	}
	decoded.IDE = str("ide")
	decoded.APIURL = str("api_url")
	decoded.StatePath = str("state_path")
	decoded.SyncInterval = str("sync_interval")
	decoded.StatsInterval = str("stats_interval")
	decoded.LeaseStaleness = str("lease_staleness")
	decoded.BridgeTimeout = str("bridge_timeout")
	decoded.SummaryTimeout = str("summary_timeout")
	decoded.LicenseTimeout = str("license_timeout")
	decoded.StatusAddr = str("status_addr")
	decoded.CDPHost = str("cdp_host")
	decoded.LogLevel = str("log_level")
	decoded.OTEL.Environment = str("env")
	if value, ok := lookup(OTLPEndpointEnv); ok && strings.TrimSpace(value) != "" {
		decoded.OTEL.Endpoint = &value
	}

	if ports := str("cdp_ports"); ports != nil {
		parsed, err := parsePorts(*ports)
		if err != nil {
			return fmt.Errorf("parse %sCDP_PORTS: %w", EnvPrefix, err)
		}
		cfg.CDPPorts = parsed
	}

	applyStringOverrides(cfg, decoded)
	return applyDurationOverrides(cfg, decoded, "environment")
}

func parsePorts(value string) ([]int, error) {
	var ports []int
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", field, err)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s in %q: must be > 0", key, path)
	}
	return parsed, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func trimURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}
