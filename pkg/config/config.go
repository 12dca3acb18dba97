package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// KVConfig controls the connection to the transactional ordered KV store
// backing the engine.
type KVConfig struct {
	ClusterFile string `json:"cluster_file" env:"KV_CLUSTER_FILE"`
	RootPrefix  string `json:"root_prefix" env:"KV_ROOT_PREFIX"`
	CacheSize   int    `json:"cache_size" env:"KV_CACHE_SIZE"`
}

// WorkerConfig controls a worker process's pool size and polling cadence.
type WorkerConfig struct {
	PoolSize          int           `json:"pool_size" env:"WORKER_POOL_SIZE"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" env:"WORKER_HEARTBEAT_INTERVAL"`
	LeaseTTL          time.Duration `json:"lease_ttl" env:"WORKER_LEASE_TTL"`
	ClaimBatch        int           `json:"claim_batch" env:"WORKER_CLAIM_BATCH"`
	IdleBackoff       time.Duration `json:"idle_backoff" env:"WORKER_IDLE_BACKOFF"`
}

// SandboxConfig controls default resource limits for script/HTTP actions (§4.2).
type SandboxConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" env:"SANDBOX_DEFAULT_TIMEOUT"`
	GuardTimeout   time.Duration `json:"guard_timeout" env:"SANDBOX_GUARD_TIMEOUT"`
	MemoryLimit    int64         `json:"memory_limit_bytes" env:"SANDBOX_MEMORY_LIMIT_BYTES"`
}

// DSLConfig controls where workflow/model definitions are discovered from.
type DSLConfig struct {
	DefinitionsRoot string `json:"definitions_root" env:"DSL_DEFINITIONS_ROOT"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Config is the top-level configuration structure shared by the engine and
// worker processes.
type Config struct {
	KV      KVConfig      `json:"kv"`
	Worker  WorkerConfig  `json:"worker"`
	Sandbox SandboxConfig `json:"sandbox"`
	DSL     DSLConfig     `json:"dsl"`
	Logging LoggingConfig `json:"logging"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		KV: KVConfig{
			RootPrefix: "/degov/workflow",
			CacheSize:  4096,
		},
		Worker: WorkerConfig{
			PoolSize:          4,
			HeartbeatInterval: 5 * time.Second,
			LeaseTTL:          30 * time.Second,
			ClaimBatch:        1,
			IdleBackoff:       250 * time.Millisecond,
		},
		Sandbox: SandboxConfig{
			DefaultTimeout: 5 * time.Second,
			GuardTimeout:   100 * time.Millisecond,
			MemoryLimit:    128 * 1024 * 1024,
		},
		DSL: DSLConfig{
			DefinitionsRoot: "definitions",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "workflow-core",
		},
	}
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// The YAML keys are the json tag names, so the document is decoded
	// generically and then re-encoded as JSON onto cfg; as in LoadConfig,
	// duration fields take a number of nanoseconds.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, cfg)
}

// LoadConfig reads a JSON configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = 1
	}
	if c.Worker.ClaimBatch <= 0 {
		c.Worker.ClaimBatch = 1
	}
	if c.Worker.LeaseTTL <= c.Worker.HeartbeatInterval {
		c.Worker.LeaseTTL = c.Worker.HeartbeatInterval * 3
	}
	if c.KV.RootPrefix == "" {
		c.KV.RootPrefix = "/degov/workflow"
	}
}
