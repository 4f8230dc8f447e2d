package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string             `toml:"environment"` // "development" or "production"
	Server      ServerConfig       `toml:"server"`
	Storage     StorageConfig      `toml:"storage"`
	Queue       QueueConfig        `toml:"queue"`
	Workers     WorkersConfig      `toml:"workers"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Plans       PlansConfig        `toml:"plans"`
	Logging     LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host"`
}

// StorageConfig selects the backend shared by the run registry and job store.
type StorageConfig struct {
	Type   string       `toml:"type" validate:"oneof=badger mongodb redis memory"` // badger | mongodb | redis | memory
	Badger BadgerConfig `toml:"badger"`
	Mongo  MongoConfig  `toml:"mongo"`
	Redis  RedisConfig  `toml:"redis"`
	// JobTTL bounds how long terminal job records are retained (default 7 days)
	JobTTL Duration `toml:"job_ttl"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type QueueConfig struct {
	// Mode selects how worker jobs travel: "local" executes handlers
	// inline in-process, "redis" dispatches over per-worker redis queues.
	Mode         string   `toml:"mode" validate:"oneof=local redis"`
	PollInterval Duration `toml:"poll_interval"` // how often consumers poll for messages
	Concurrency  int      `toml:"concurrency"`   // consumer goroutines per worker queue
	MaxReceive   int      `toml:"max_receive"`   // receives before a message is dropped as poison
}

type WorkersConfig struct {
	BaseURL        string   `toml:"base_url"`         // base for the worker HTTP surface
	WebhookBaseURL string   `toml:"webhook_base_url"` // base used to construct webhook URLs on dispatch
	PollInterval   Duration `toml:"poll_interval"`    // default interval for awaited job polling
	PollTimeout    Duration `toml:"poll_timeout"`     // default timeout for awaited job polling
	PollMaxRetries int      `toml:"poll_max_retries"` // default retry bound for awaited job polling
}

type OrchestratorConfig struct {
	HookTimeout    Duration `toml:"hook_timeout"`     // how long a paused run waits for a signal
	InlineSleepMax Duration `toml:"inline_sleep_max"` // sleeps at or under this run in-request
	MaxAgentDepth  int      `toml:"max_agent_depth"`  // sub-agent call depth bound
}

// PlansConfig contains configuration for the named plan library
type PlansConfig struct {
	Dir string `toml:"dir"` // Directory containing plan definition files (TOML/JSON/YAML)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a config populated with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/relay",
			},
			Mongo: MongoConfig{
				Database: "relay",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			JobTTL: Duration(7 * 24 * time.Hour),
		},
		Queue: QueueConfig{
			Mode:         "local",
			PollInterval: Duration(1 * time.Second),
			Concurrency:  4,
			MaxReceive:   3,
		},
		Workers: WorkersConfig{
			PollInterval:   Duration(3 * time.Second),
			PollTimeout:    Duration(10 * time.Minute),
			PollMaxRetries: 200,
		},
		Orchestrator: OrchestratorConfig{
			HookTimeout:    Duration(7 * 24 * time.Hour),
			InlineSleepMax: Duration(1 * time.Second),
			MaxAgentDepth:  10,
		},
		Plans: PlansConfig{
			Dir: "./plans",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Type == "mongodb" && c.Storage.Mongo.URI == "" {
		return fmt.Errorf("invalid configuration: storage.mongo.uri is required when storage.type is mongodb")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RELAY_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("RELAY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RELAY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration. WORKER_DATABASE_TYPE keeps parity with the
	// worker plane's env contract; RELAY_STORAGE_TYPE wins if both are set.
	if dbType := os.Getenv("WORKER_DATABASE_TYPE"); dbType != "" {
		config.Storage.Type = normalizeStorageType(dbType)
	}
	if storageType := os.Getenv("RELAY_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = normalizeStorageType(storageType)
	}
	if badgerPath := os.Getenv("RELAY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		config.Storage.Mongo.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		config.Storage.Mongo.Database = db
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}
	if ttl := os.Getenv("WORKER_JOBS_TTL_SECONDS"); ttl != "" {
		if seconds, err := strconv.Atoi(ttl); err == nil && seconds > 0 {
			config.Storage.JobTTL = Duration(time.Duration(seconds) * time.Second)
		}
	}

	// Worker surface configuration
	if base := os.Getenv("WORKER_BASE_URL"); base != "" {
		config.Workers.BaseURL = base
	}
	if base := os.Getenv("WORKFLOW_WEBHOOK_BASE_URL"); base != "" {
		config.Workers.WebhookBaseURL = base
	}

	// Queue configuration
	if mode := os.Getenv("RELAY_QUEUE_MODE"); mode != "" {
		config.Queue.Mode = mode
	}

	// Logging configuration
	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("RELAY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// normalizeStorageType maps external backend names onto storage types.
// "upstash-redis" is the hosted redis flavour used by the original deployment.
func normalizeStorageType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "upstash-redis", "redis":
		return "redis"
	case "mongodb", "mongo":
		return "mongodb"
	case "memory":
		return "memory"
	default:
		return "badger"
	}
}

// WorkerQueueURL resolves the queue URL for a worker id from the environment
// map WORKER_QUEUE_URL_<UPPER_SNAKE(workerId)>. Returns "" when unset.
func WorkerQueueURL(workerID string) string {
	return os.Getenv("WORKER_QUEUE_URL_" + UpperSnake(workerID))
}

// UpperSnake converts a worker id like "video-processor" or "videoProcessor"
// to "VIDEO_PROCESSOR" for env var lookups.
func UpperSnake(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case r == '-' || r == '.' || r == ' ':
			b.WriteRune('_')
		case r >= 'A' && r <= 'Z':
			if i > 0 && id[i-1] != '_' && id[i-1] != '-' && !(id[i-1] >= 'A' && id[i-1] <= 'Z') {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
