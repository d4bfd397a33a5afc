package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/magent/internal/model"
)

type Config struct {
	Port          int                   `json:"port"`
	JWTSecret     string                `json:"jwt_secret"`
	Database      DatabaseConfig        `json:"database"`
	LogConfig     logger.LogConfig      `json:"log_config"`
	FileStore     FileStoreConfig       `json:"file_store"`
	AI            AIConfig              `json:"ai"`
	EmbedCache    EmbedCacheConfig      `json:"embed_cache"`
	Retrieval     model.RetrievalConfig `json:"retrieval"`
	Conversation  ConversationConfig    `json:"conversation"`
	Ingest        IngestConfig          `json:"ingest"`
	ToolServers   []ToolServerConfig    `json:"tool_servers"`
	Jobs          JobsConfig            `json:"jobs"`
	CORSAllowlist []string              `json:"cors_allowlist"`
	RateLimitMs   int                   `json:"rate_limit_ms"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ProviderConfig struct {
	Name string                 `json:"name"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// ModelRef points at one model of a configured provider. A list of refs forms
// a fallback chain tried in order.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type BreakerConfig struct {
	MaxFailures uint32 `json:"max_failures"`
	OpenSeconds int    `json:"open_seconds"`
}

type AIConfig struct {
	Providers    []ProviderConfig `json:"providers"`
	Chat         []ModelRef       `json:"chat"`
	Classifier   []ModelRef       `json:"classifier"`
	Embed        []ModelRef       `json:"embed"`
	Timeout      int              `json:"timeout"`
	MaxRetries   int              `json:"max_retries"`
	RetryDelayMs int              `json:"retry_delay_ms"`
	Breaker      BreakerConfig    `json:"breaker"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type EmbedCacheConfig struct {
	LRUSize       int         `json:"lru_size"`
	LRUTTLSeconds int         `json:"lru_ttl_seconds"`
	EnableDB      bool        `json:"enable_db"`
	MaxAgeDays    int         `json:"max_age_days"`
	Redis         RedisConfig `json:"redis"`
	RedisTTLHours int         `json:"redis_ttl_hours"`
}

type ConversationConfig struct {
	HistoryLimit  int  `json:"history_limit"`
	ParallelTools bool `json:"parallel_tools"`
	MaxToolCalls  int  `json:"max_tool_calls"`
}

type IngestConfig struct {
	EmbedRPS    float64 `json:"embed_rps"`
	MaxFileSize int64   `json:"max_file_size"`
	BatchSize   int     `json:"batch_size"`
}

type ToolServerConfig struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	URL       string            `json:"url"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	Headers   map[string]string `json:"headers"`
	Kinds     map[string]string `json:"kinds"`
}

type JobsConfig struct {
	PendingIngestSpec string `json:"pending_ingest_spec"`
	CacheCleanupSpec  string `json:"cache_cleanup_spec"`
}

var envKeyByProviderType = map[string]string{
	"openai":     "MAGENT_OPENAI_API_KEY",
	"openrouter": "MAGENT_OPENROUTER_API_KEY",
	"gemini":     "MAGENT_GEMINI_API_KEY",
}

func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MAGENT_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MAGENT_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	for i := range cfg.AI.Providers {
		p := &cfg.AI.Providers[i]
		envKey, ok := envKeyByProviderType[strings.ToLower(p.Type)]
		if !ok {
			continue
		}
		v := os.Getenv(envKey)
		if v == "" {
			continue
		}
		if p.Data == nil {
			p.Data = map[string]interface{}{}
		}
		if existing, _ := p.Data["api_key"].(string); existing == "" {
			p.Data["api_key"] = v
		}
	}
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if len(cfg.AI.Providers) == 0 {
		return fmt.Errorf("ai.providers is required")
	}
	names := make(map[string]struct{}, len(cfg.AI.Providers))
	for i := range cfg.AI.Providers {
		p := &cfg.AI.Providers[i]
		if p.Type == "" {
			return fmt.Errorf("ai.providers[%d].type is required", i)
		}
		if p.Name == "" {
			p.Name = p.Type
		}
		names[p.Name] = struct{}{}
	}
	if len(cfg.AI.Chat) == 0 {
		return fmt.Errorf("ai.chat is required")
	}
	if len(cfg.AI.Embed) == 0 {
		return fmt.Errorf("ai.embed is required")
	}
	if len(cfg.AI.Classifier) == 0 {
		cfg.AI.Classifier = cfg.AI.Chat
	}
	for _, chain := range [][]ModelRef{cfg.AI.Chat, cfg.AI.Classifier, cfg.AI.Embed} {
		for _, ref := range chain {
			if _, ok := names[ref.Provider]; !ok {
				return fmt.Errorf("ai model %q references unknown provider %q", ref.Model, ref.Provider)
			}
		}
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.MaxRetries < 0 || cfg.AI.MaxRetries > 10 {
		return fmt.Errorf("ai.max_retries must be 0-10, got %d", cfg.AI.MaxRetries)
	}
	if cfg.AI.RetryDelayMs <= 0 {
		cfg.AI.RetryDelayMs = 500
	}
	if cfg.AI.Breaker.MaxFailures == 0 {
		cfg.AI.Breaker.MaxFailures = 5
	}
	if cfg.AI.Breaker.OpenSeconds <= 0 {
		cfg.AI.Breaker.OpenSeconds = 30
	}
	if cfg.EmbedCache.MaxAgeDays <= 0 {
		cfg.EmbedCache.MaxAgeDays = 30
	}
	if cfg.EmbedCache.RedisTTLHours <= 0 {
		cfg.EmbedCache.RedisTTLHours = 24
	}
	cfg.Retrieval = cfg.Retrieval.WithDefaults()
	if cfg.Conversation.HistoryLimit <= 0 {
		cfg.Conversation.HistoryLimit = 20
	}
	if cfg.Conversation.MaxToolCalls <= 0 {
		cfg.Conversation.MaxToolCalls = 8
	}
	if cfg.Ingest.MaxFileSize <= 0 {
		cfg.Ingest.MaxFileSize = 50 * 1024 * 1024
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = 20
	}
	for i, srv := range cfg.ToolServers {
		if srv.Name == "" {
			return fmt.Errorf("tool_servers[%d].name is required", i)
		}
		if srv.URL == "" && srv.Command == "" {
			return fmt.Errorf("tool_servers[%d] needs url or command", i)
		}
	}
	return nil
}
