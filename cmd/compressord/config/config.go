// Package config parses compressord configuration from command-line flags and environment variables.
//
// Flags take precedence over environment variables, which take precedence over defaults.
// Source-specific settings come from SOURCE_* environment variables (SOURCE_VALUE_PATH becomes the
// "valuePath" key) and from an optional YAML file named by SOURCE_CONFIG_FILE:
//
//	kind: http
//	config:
//	  url: http://gateway.local/api/sensors/boiler
//	  valuePath: readings.#.celsius
//	  headers:
//	    Authorization: Bearer token
//
// Environment variables win over the file for the same key. Nested maps in the file are passed on as
// JSON and lists as comma separated values.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/datacompressor/pkg/stats"
	"github.com/HatiCode/datacompressor/pkg/storage"
	"github.com/HatiCode/datacompressor/pkg/tls"
)

// Config holds all compressord configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// SnapshotTTL bounds how long a published snapshot is kept by either store.
	SnapshotTTL time.Duration

	TLS       tls.Config
	ClientTLS tls.Config

	Sensor             string
	CacheCapacity      int
	StackCapacity      int
	OutlierThreshold   float64
	FilterReference    string
	FilterMaxDeviation float64
	PublishValues      bool

	// Source is empty when samples only arrive through the HTTP and gRPC push endpoints.
	Source           string
	SourceConfigFile string
	SourceConfig     map[string]string
	SourceTimeout    time.Duration
	Interval         time.Duration
}

// sourceEnvPrefix marks environment variables that belong to the source configuration map.
const sourceEnvPrefix = "SOURCE_"

// reserved SOURCE_* variables that configure compressord itself.
var reservedSourceEnv = map[string]bool{
	"SOURCE_CONFIG_FILE": true,
	"SOURCE_TIMEOUT":     true,
}

// ParseFlags parses os.Args and the environment, exiting with status 2 on invalid configuration.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// Parse parses args and the environment into a validated Config. Usage output goes to out.
func Parse(args []string, out io.Writer) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("compressord", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address (empty disables gRPC)")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Snapshot storage backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.SnapshotTTL, "snapshot-ttl", getEnvDuration("SNAPSHOT_TTL", 30*time.Minute), "Published snapshot TTL (0 keeps snapshots forever)")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mutual TLS for the HTTP and gRPC servers")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "Server TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "Server TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "CA certificate file for client verification")

	fs.BoolVar(&cfg.ClientTLS.Enabled, "client-tls-enabled", getEnvBool("CLIENT_TLS_ENABLED", false), "Enable mutual TLS towards HTTP sources")
	fs.StringVar(&cfg.ClientTLS.CertFile, "client-tls-cert-file", getEnv("CLIENT_TLS_CERT_FILE", ""), "Client TLS certificate file")
	fs.StringVar(&cfg.ClientTLS.KeyFile, "client-tls-key-file", getEnv("CLIENT_TLS_KEY_FILE", ""), "Client TLS private key file")
	fs.StringVar(&cfg.ClientTLS.CAFile, "client-tls-ca-file", getEnv("CLIENT_TLS_CA_FILE", ""), "CA certificate file for source verification")

	fs.StringVar(&cfg.Sensor, "sensor", getEnv("SENSOR", ""), "Sensor name (required)")
	fs.IntVar(&cfg.CacheCapacity, "cache-capacity", getEnvInt("CACHE_CAPACITY", 16), "Raw samples per compression")
	fs.IntVar(&cfg.StackCapacity, "stack-capacity", getEnvInt("STACK_CAPACITY", 1024), "Compressed values retained")
	fs.Float64Var(&cfg.OutlierThreshold, "outlier-threshold", getEnvFloat("OUTLIER_THRESHOLD", 20), "Outlier threshold in percent used when compressing")
	fs.StringVar(&cfg.FilterReference, "filter-reference", getEnv("FILTER_REFERENCE", "median"), "Reference for the filtered value: mean or median")
	fs.Float64Var(&cfg.FilterMaxDeviation, "filter-max-deviation", getEnvFloat("FILTER_MAX_DEVIATION", 20), "Maximum deviation in percent kept by the filtered value")
	fs.BoolVar(&cfg.PublishValues, "publish-values", getEnvBool("PUBLISH_VALUES", false), "Include the stack values in published snapshots")

	fs.StringVar(&cfg.Source, "source", getEnv("SOURCE", ""), "Sample source: prometheus, victoriametrics, http or kafka (empty for push only)")
	fs.StringVar(&cfg.SourceConfigFile, "source-config-file", getEnv("SOURCE_CONFIG_FILE", ""), "YAML file with the source configuration")
	fs.DurationVar(&cfg.SourceTimeout, "source-timeout", getEnvDuration("SOURCE_TIMEOUT", 10*time.Second), "HTTP timeout for pull sources")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 10*time.Second), "Sampling and publishing interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.SourceConfig = map[string]string{}
	if cfg.SourceConfigFile != "" {
		kind, fileConfig, err := LoadSourceFile(cfg.SourceConfigFile)
		if err != nil {
			return nil, err
		}
		if cfg.Source == "" {
			cfg.Source = kind
		}
		for k, v := range fileConfig {
			cfg.SourceConfig[k] = v
		}
	}
	for k, v := range parseSourceEnv(os.Environ()) {
		cfg.SourceConfig[k] = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if err := storage.ValidateSensorName(c.Sensor); err != nil {
		errs = append(errs, fmt.Errorf("sensor: %w", err))
	}
	if c.CacheCapacity < 1 {
		errs = append(errs, fmt.Errorf("cache capacity must be >= 1, got %d", c.CacheCapacity))
	}
	if c.StackCapacity < 1 {
		errs = append(errs, fmt.Errorf("stack capacity must be >= 1, got %d", c.StackCapacity))
	}
	if c.OutlierThreshold < 0 {
		errs = append(errs, fmt.Errorf("outlier threshold must be >= 0, got %v", c.OutlierThreshold))
	}
	if c.SnapshotTTL < 0 {
		errs = append(errs, fmt.Errorf("snapshot ttl must be >= 0, got %v", c.SnapshotTTL))
	}
	if c.FilterMaxDeviation < 0 {
		errs = append(errs, fmt.Errorf("filter max deviation must be >= 0, got %v", c.FilterMaxDeviation))
	}
	if _, err := stats.ReducerByName(c.FilterReference); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat))
	}

	// the sampler publishes snapshots every interval even without a source
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be > 0, got %v", c.Interval))
	}

	switch c.Source {
	case "", "prometheus", "victoriametrics", "http", "kafka":
	default:
		errs = append(errs, fmt.Errorf("invalid source %q (must be prometheus, victoriametrics, http, or kafka)", c.Source))
	}

	if err := c.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tls: %w", err))
	}
	if err := c.ClientTLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client tls: %w", err))
	}

	return errors.Join(errs...)
}

// sourceFile is the layout of SOURCE_CONFIG_FILE.
type sourceFile struct {
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config"`
}

// LoadSourceFile reads a YAML source configuration file and flattens it to string values.
func LoadSourceFile(path string) (string, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read source config: %w", err)
	}

	var f sourceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parse source config %s: %w", path, err)
	}

	out := make(map[string]string, len(f.Config))
	for k, v := range f.Config {
		s, err := flatten(v)
		if err != nil {
			return "", nil, fmt.Errorf("source config key %q: %w", k, err)
		}
		out[k] = s
	}
	return f.Kind, out, nil
}

func flatten(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := flatten(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(val), nil
	}
}

// parseSourceEnv turns SOURCE_* variables into camelCase keys (SOURCE_VALUE_PATH -> valuePath).
func parseSourceEnv(environ []string) map[string]string {
	config := make(map[string]string)
	for _, env := range environ {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, sourceEnvPrefix) || len(name) == len(sourceEnvPrefix) {
			continue
		}
		if reservedSourceEnv[name] {
			continue
		}
		config[toLowerCamelCase(name[len(sourceEnvPrefix):])] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

// SourceKeys returns the source config keys in sorted order, for logging without values.
func (c *Config) SourceKeys() []string {
	keys := make([]string, 0, len(c.SourceConfig))
	for k := range c.SourceConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
