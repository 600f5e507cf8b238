package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "conductor.yaml"

// DefaultEnvFile is loaded into the process environment when present.
// Variables already set in the environment win.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; missing files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path. The .env file
// is looked up in the working directory.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotEnv populates unset environment variables from path.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONDUCTOR_PORT")
	setString(&cfg.Server.CORSOrigin, "CONDUCTOR_CORS_ORIGIN")
	setInt64(&cfg.Server.BodyLimit, "CONDUCTOR_BODY_LIMIT")
	setDuration(&cfg.Server.Timeout, "CONDUCTOR_REQUEST_TIMEOUT")

	setString(&cfg.Storage.Driver, "CONDUCTOR_STORAGE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONDUCTOR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONDUCTOR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONDUCTOR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONDUCTOR_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONDUCTOR_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "CONDUCTOR_SQLITE_PATH")

	setString(&cfg.TaskStore.Driver, "CONDUCTOR_TASK_STORE")
	setString(&cfg.TaskStore.URL, "CONDUCTOR_TASK_STORE_URL")
	setDuration(&cfg.TaskStore.Timeout, "CONDUCTOR_TASK_STORE_TIMEOUT")

	setBool(&cfg.NATS.Enabled, "CONDUCTOR_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "CONDUCTOR_NATS_STREAM")

	// Cache
	setBool(&cfg.Cache.Enabled, "CONDUCTOR_CACHE_ENABLED")
	setInt64(&cfg.Cache.L1MaxSizeMB, "CONDUCTOR_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "CONDUCTOR_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "CONDUCTOR_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CONDUCTOR_CACHE_L2_TTL")

	setString(&cfg.Dispatch.Transport, "CONDUCTOR_DISPATCH")
	setString(&cfg.Dispatch.SenderID, "CONDUCTOR_SENDER_ID")
	setDuration(&cfg.Dispatch.Timeout, "CONDUCTOR_DISPATCH_TIMEOUT")
	setInt(&cfg.Dispatch.MaxInFlight, "CONDUCTOR_DISPATCH_MAX_IN_FLIGHT")
	setString(&cfg.Agents.File, "CONDUCTOR_AGENTS_FILE")

	// Planner
	setString(&cfg.Planner.Driver, "CONDUCTOR_PLANNER")
	setString(&cfg.Planner.Model, "CONDUCTOR_PLANNER_MODEL")
	setInt64(&cfg.Planner.MaxTokens, "CONDUCTOR_PLANNER_MAX_TOKENS")
	setString(&cfg.Planner.APIKey, "ANTHROPIC_API_KEY")
	setInt(&cfg.Planner.HistoryTail, "CONDUCTOR_PLANNER_HISTORY_TAIL")

	setString(&cfg.Chat.BridgeURL, "CONDUCTOR_CHAT_BRIDGE_URL")
	setString(&cfg.Slack.WebhookURL, "CONDUCTOR_SLACK_WEBHOOK")

	setBool(&cfg.Watchdog.Enabled, "CONDUCTOR_WATCHDOG_ENABLED")
	setDuration(&cfg.Watchdog.Interval, "CONDUCTOR_WATCHDOG_INTERVAL")
	setDuration(&cfg.Watchdog.SLA, "CONDUCTOR_WATCHDOG_SLA")

	setInt(&cfg.Breaker.MaxFailures, "CONDUCTOR_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONDUCTOR_BREAKER_TIMEOUT")

	setString(&cfg.Logging.Level, "CONDUCTOR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONDUCTOR_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONDUCTOR_LOG_ASYNC")

	setBool(&cfg.OTEL.Enabled, "CONDUCTOR_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "CONDUCTOR_OTEL_INSECURE")
}

// validate checks that required fields are set and that the selected
// drivers have what they need.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required for storage.driver=sqlite")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q must be memory, sqlite or postgres", cfg.Storage.Driver)
	}

	switch cfg.TaskStore.Driver {
	case "memory":
	case "http":
		if cfg.TaskStore.URL == "" {
			return errors.New("task_store.url is required for task_store.driver=http")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for task_store.driver=postgres")
		}
	default:
		return fmt.Errorf("task_store.driver %q must be http, postgres or memory", cfg.TaskStore.Driver)
	}

	switch cfg.Dispatch.Transport {
	case "http":
	case "nats":
		if !cfg.NATS.Enabled {
			return errors.New("dispatch.transport=nats requires nats.enabled")
		}
	default:
		return fmt.Errorf("dispatch.transport %q must be http or nats", cfg.Dispatch.Transport)
	}
	if cfg.Dispatch.SenderID == "" {
		return errors.New("dispatch.sender_id is required")
	}

	switch cfg.Planner.Driver {
	case "rules":
	case "anthropic":
		if cfg.Planner.APIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for planner.driver=anthropic")
		}
	default:
		return fmt.Errorf("planner.driver %q must be rules or anthropic", cfg.Planner.Driver)
	}

	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Watchdog.Enabled && (cfg.Watchdog.Interval <= 0 || cfg.Watchdog.SLA <= 0) {
		return errors.New("watchdog.interval and watchdog.sla must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
