package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	MetricsPort string `yaml:"metrics_port"`
}

type MailConfig struct {
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
	AckEnabled          bool `yaml:"ack_enabled"`
}

func (c MailConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

type LLMConfig struct {
	BaseURL         string `yaml:"base_url"`
	ClassifierModel string `yaml:"classifier_model"`
	GeneratorModel  string `yaml:"generator_model"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PipelineConfig struct {
	AutoReply        bool `yaml:"auto_reply"`
	AutoFilter       bool `yaml:"auto_filter"`
	MaxConcurrentLLM int  `yaml:"max_concurrent_llm"`
	MaxSendAttempts  int  `yaml:"max_send_attempts"`
}

type KnowledgeConfig struct {
	Dir           string `yaml:"dir"`
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	TopK          int    `yaml:"top_k"`
	ContextBudget int    `yaml:"context_budget"`
	MaxReplyChars int    `yaml:"max_reply_chars"`
}

type RelayConfig struct {
	PreviewChars int `yaml:"preview_chars"`
}

type Config struct {
	Storage   string          `yaml:"storage"` // "postgres" 或 "memory"
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	MQ        MQConfig        `yaml:"mq"`
	Server    ServerConfig    `yaml:"server"`
	Mail      MailConfig      `yaml:"mail"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Relay     RelayConfig     `yaml:"relay"`
}

// Load reads config.yaml, applies .env (if present) and finally
// environment variable overrides. The returned config is treated as
// immutable after startup; components receive the sub-structs they
// need in their constructors.
func Load() *Config {
	// .env 只用于本地开发，不存在时忽略
	_ = godotenv.Load()

	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Storage == "" {
		cfg.Storage = "postgres"
	}
	if cfg.Mail.PollIntervalSeconds <= 0 {
		cfg.Mail.PollIntervalSeconds = 60
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.MaxRetries < 0 {
		cfg.LLM.MaxRetries = 0
	}
	if cfg.Pipeline.MaxConcurrentLLM <= 0 {
		cfg.Pipeline.MaxConcurrentLLM = 4
	}
	if cfg.Pipeline.MaxSendAttempts <= 0 {
		cfg.Pipeline.MaxSendAttempts = 5
	}
	if cfg.Knowledge.Dir == "" {
		cfg.Knowledge.Dir = "knowledge_base"
	}
	if cfg.Knowledge.ChunkSize <= 0 {
		cfg.Knowledge.ChunkSize = 500
	}
	if cfg.Knowledge.ChunkOverlap < 0 {
		cfg.Knowledge.ChunkOverlap = 0
	}
	if cfg.Knowledge.TopK <= 0 {
		cfg.Knowledge.TopK = 4
	}
	if cfg.Knowledge.ContextBudget <= 0 {
		cfg.Knowledge.ContextBudget = 4000
	}
	if cfg.Knowledge.MaxReplyChars <= 0 {
		cfg.Knowledge.MaxReplyChars = 2000
	}
	if cfg.Relay.PreviewChars <= 0 {
		cfg.Relay.PreviewChars = 200
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("STORAGE"); v != "" {
		cfg.Storage = v
	}

	// DB 配置
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	// Redis 配置
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// MQ 配置
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if port := os.Getenv("METRICS_PORT"); port != "" {
		cfg.Server.MetricsPort = port
	}

	// LLM 配置
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_CLASSIFIER_MODEL"); v != "" {
		cfg.LLM.ClassifierModel = v
	}
	if v := os.Getenv("LLM_GENERATOR_MODEL"); v != "" {
		cfg.LLM.GeneratorModel = v
	}

	// 功能开关
	if v := os.Getenv("AUTO_REPLY"); v != "" {
		cfg.Pipeline.AutoReply = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTO_FILTER"); v != "" {
		cfg.Pipeline.AutoFilter = v == "true" || v == "1"
	}

	if v := os.Getenv("KNOWLEDGE_DIR"); v != "" {
		cfg.Knowledge.Dir = v
	}
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Knowledge.ChunkSize = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Mail.PollIntervalSeconds = n
		}
	}
}
