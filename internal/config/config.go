package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP Server
	Port string `toml:"port" yaml:"port"`
	// TrustedProxies are CIDRs, besides loopback and private networks, whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string `toml:"trusted_proxies" yaml:"trusted_proxies"`

	// Backend selection
	DataBackend string `toml:"data_backend" yaml:"data_backend"`

	// Database
	SQLiteDBPath  string `toml:"sqlite_db_path" yaml:"sqlite_db_path"`
	MongoURI      string `toml:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database" yaml:"mongo_database"`
	MemorySeedDir string `toml:"memory_seed_dir" yaml:"memory_seed_dir"`

	// AMQP, optional. Without a URL changes are applied in-process.
	AMQPURL      string `toml:"amqp_url" yaml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange" yaml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue" yaml:"amqp_queue"`

	// Recurring sweep
	RecurringSchedule string `toml:"recurring_schedule" yaml:"recurring_schedule"`
	SweepConcurrency  int    `toml:"sweep_concurrency" yaml:"sweep_concurrency"`

	// Outbox relay
	OutboxBatchSize   int           `toml:"outbox_batch_size" yaml:"outbox_batch_size"`
	OutboxInterval    time.Duration `toml:"-" yaml:"-"`
	OutboxMaxAttempts int           `toml:"outbox_max_attempts" yaml:"outbox_max_attempts"`

	// Timezone used for calendar days and budget months
	Timezone string `toml:"timezone" yaml:"timezone"`

	// Logging
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"`

	fileErr error
}

// fileOverlay mirrors Config for file decoding; durations are strings there.
type fileOverlay struct {
	Config         `yaml:",inline"`
	OutboxInterval string `toml:"outbox_interval" yaml:"outbox_interval"`
}

func defaults() *Config {
	return &Config{
		Port:              "8081",
		DataBackend:       "sqlite",
		SQLiteDBPath:      "./data/fintrack.db",
		MongoDatabase:     "fintrack",
		MemorySeedDir:     "data",
		AMQPExchange:      "fintrack",
		AMQPQueue:         "transaction_changes",
		RecurringSchedule: "0 2 * * *",
		SweepConcurrency:  4,
		OutboxBatchSize:   50,
		OutboxInterval:    5 * time.Second,
		OutboxMaxAttempts: 5,
		Timezone:          "UTC",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, then the file named by
// CONFIG_FILE (TOML or YAML), then environment variables.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			cfg.fileErr = err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.TrustedProxies = getEnvList("TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.DataBackend = getEnv("DATA_BACKEND", cfg.DataBackend)

	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.MemorySeedDir = getEnv("MEMORY_SEED_DIR", cfg.MemorySeedDir)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.RecurringSchedule = getEnv("RECURRING_SCHEDULE", cfg.RecurringSchedule)
	cfg.SweepConcurrency = getEnvInt("SWEEP_CONCURRENCY", cfg.SweepConcurrency)

	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxInterval = getEnvDuration("OUTBOX_INTERVAL", cfg.OutboxInterval)
	cfg.OutboxMaxAttempts = getEnvInt("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)

	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg
}

// applyFile overlays the non-empty values of a TOML or YAML file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay fileOverlay
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &overlay); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q: use .toml, .yaml or .yml", ext)
	}

	f := overlay.Config
	setString(&c.Port, f.Port)
	if len(f.TrustedProxies) > 0 {
		c.TrustedProxies = f.TrustedProxies
	}
	setString(&c.DataBackend, f.DataBackend)
	setString(&c.SQLiteDBPath, f.SQLiteDBPath)
	setString(&c.MongoURI, f.MongoURI)
	setString(&c.MongoDatabase, f.MongoDatabase)
	setString(&c.MemorySeedDir, f.MemorySeedDir)
	setString(&c.AMQPURL, f.AMQPURL)
	setString(&c.AMQPExchange, f.AMQPExchange)
	setString(&c.AMQPQueue, f.AMQPQueue)
	setString(&c.RecurringSchedule, f.RecurringSchedule)
	setString(&c.Timezone, f.Timezone)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)
	setInt(&c.SweepConcurrency, f.SweepConcurrency)
	setInt(&c.OutboxBatchSize, f.OutboxBatchSize)
	setInt(&c.OutboxMaxAttempts, f.OutboxMaxAttempts)

	if overlay.OutboxInterval != "" {
		d, err := time.ParseDuration(overlay.OutboxInterval)
		if err != nil {
			return fmt.Errorf("invalid outbox_interval %q: %w", overlay.OutboxInterval, err)
		}
		c.OutboxInterval = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Location returns the configured timezone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.fileErr != nil {
		errors = append(errors, c.fileErr.Error())
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite", "mongodb"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}

	// Validate MongoDB configuration if backend is mongodb
	if c.DataBackend == "mongodb" {
		if c.MongoURI == "" {
			errors = append(errors, "MongoDB URI cannot be empty when using mongodb backend")
		} else if u, err := url.Parse(c.MongoURI); err != nil {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI: %v", err))
		} else if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI scheme '%s': must be 'mongodb' or 'mongodb+srv'", u.Scheme))
		}
		if c.MongoDatabase == "" {
			errors = append(errors, "MongoDB database name cannot be empty when using mongodb backend")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate recurring sweep
	if _, err := cron.ParseStandard(c.RecurringSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid recurring schedule '%s': %v", c.RecurringSchedule, err))
	}
	if c.SweepConcurrency < 1 || c.SweepConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid sweep concurrency %d: must be between 1 and 64", c.SweepConcurrency))
	}

	// Validate outbox relay
	if c.OutboxBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid outbox batch size %d: must be at least 1", c.OutboxBatchSize))
	} else if c.OutboxBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid outbox batch size %d: must be at most 1000", c.OutboxBatchSize))
	}

	if c.OutboxInterval < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid outbox interval %v: must be at least 100ms", c.OutboxInterval))
	} else if c.OutboxInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid outbox interval %v: must be at most 1 hour", c.OutboxInterval))
	}

	if c.OutboxMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid outbox max attempts %d: must be at least 1", c.OutboxMaxAttempts))
	}

	// Validate timezone
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s'", c.Timezone))
	}

	// Validate logging
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
