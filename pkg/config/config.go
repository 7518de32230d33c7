// Package config loads environment-driven configuration for the orchestrator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object returned by Load() and used
// throughout the application.
type Config struct {
	HTTPPort string

	Mongo     MongoConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Agent     AgentConfig
	LPT       LPTConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	Vector    VectorConfig
	Retention RetentionConfig
}

// MongoConfig holds document store connection settings.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// RedisConfig holds ephemeral store connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	APIKey      string
	Model       string
	Endpoint    string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// SystemPrompt seeds every per-session client.
	SystemPrompt string
}

// AgentConfig holds agent loop tuning.
type AgentConfig struct {
	MaxIterations  int           // outer loop
	MaxTurns       int           // inner loop, main brain
	TokenBudget    int           // main brain context budget
	SubTokenBudget int           // reserved for sub-agent loops
	ContextTTL     time.Duration // per-thread business context cache
	IdleTimeout    time.Duration // session eviction sweep
}

// LPTConfig holds long-process dispatch settings.
type LPTConfig struct {
	// WorkerBaseURL is the root of the worker fleet; the task type is
	// appended as the path segment (e.g. {base}/ap_bookkeeper).
	WorkerBaseURL   string
	CallbackBaseURL string
	DispatchTimeout time.Duration
}

// SchedulerConfig holds the recurring job engine settings.
type SchedulerConfig struct {
	TickInterval time.Duration
	Enabled      bool
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	// VerifyURL is the identity provider's token lookup endpoint.
	VerifyURL  string
	SessionTTL time.Duration
}

// VectorConfig holds knowledge base settings.
type VectorConfig struct {
	// PersistPath is the directory for the on-disk index; empty keeps the
	// index in memory.
	PersistPath string
	Collection  string
}

// RetentionConfig holds data retention policy settings.
type RetentionConfig struct {
	// TaskRetention is how long terminal task records are kept.
	TaskRetention time.Duration
	// NotificationRetention is how long UI feedback records are kept.
	NotificationRetention time.Duration
	CleanupInterval       time.Duration
	Enabled               bool
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DATABASE", "pinnokio"),
			Timeout:  getDuration("MONGO_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			APIKey:       os.Getenv("LLM_API_KEY"),
			Model:        getEnv("LLM_MODEL", "claude-sonnet-4-5-20250929"),
			Endpoint:     getEnv("LLM_ENDPOINT", "https://api.anthropic.com/v1/messages"),
			MaxTokens:    getInt("LLM_MAX_TOKENS", 4096),
			Temperature:  getFloat("LLM_TEMPERATURE", 1.0),
			Timeout:      getDuration("LLM_TIMEOUT", 120*time.Second),
			SystemPrompt: getEnv("LLM_SYSTEM_PROMPT", defaultSystemPrompt),
		},
		Agent: AgentConfig{
			MaxIterations:  getInt("AGENT_MAX_ITERATIONS", 3),
			MaxTurns:       getInt("AGENT_MAX_TURNS", 7),
			TokenBudget:    getInt("AGENT_TOKEN_BUDGET", 80_000),
			SubTokenBudget: getInt("AGENT_SUB_TOKEN_BUDGET", 15_000),
			ContextTTL:     getDuration("AGENT_CONTEXT_TTL", 300*time.Second),
			IdleTimeout:    getDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		},
		LPT: LPTConfig{
			WorkerBaseURL:   getEnv("LPT_WORKER_BASE_URL", "http://localhost:9090/workers"),
			CallbackBaseURL: getEnv("LPT_CALLBACK_BASE_URL", "http://localhost:8080"),
			DispatchTimeout: getDuration("LPT_DISPATCH_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			TickInterval: getDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			Enabled:      getBool("SCHEDULER_ENABLED", true),
		},
		Auth: AuthConfig{
			VerifyURL:  os.Getenv("AUTH_VERIFY_URL"),
			SessionTTL: getDuration("AUTH_SESSION_TTL", time.Hour),
		},
		Vector: VectorConfig{
			PersistPath: os.Getenv("VECTOR_PERSIST_PATH"),
			Collection:  getEnv("VECTOR_COLLECTION", "knowledge_base"),
		},
		Retention: RetentionConfig{
			TaskRetention:         getDuration("RETENTION_TASK_AGE", 90*24*time.Hour),
			NotificationRetention: getDuration("RETENTION_NOTIFICATION_AGE", 30*24*time.Hour),
			CleanupInterval:       getDuration("RETENTION_CLEANUP_INTERVAL", time.Hour),
			Enabled:               getBool("RETENTION_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be >= 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxTurns < 1 || c.Agent.MaxTurns > 20 {
		return fmt.Errorf("AGENT_MAX_TURNS must be in [1,20], got %d", c.Agent.MaxTurns)
	}
	if c.Agent.TokenBudget <= 0 {
		return fmt.Errorf("AGENT_TOKEN_BUDGET must be positive, got %d", c.Agent.TokenBudget)
	}
	if c.LPT.DispatchTimeout <= 0 {
		return fmt.Errorf("LPT_DISPATCH_TIMEOUT must be positive")
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be >= 1s, got %v", c.Scheduler.TickInterval)
	}
	return nil
}

const defaultSystemPrompt = "You are Pinnokio, an accounting operations assistant. " +
	"Use the available tools to answer questions and launch bookkeeping tasks. " +
	"Call TERMINATE_TASK with a conclusion when the mission is complete."

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
