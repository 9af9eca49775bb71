package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo holds basic application metadata.
type AppInfo struct {
	Name        string `yaml:"name"`        // application name
	Version     string `yaml:"version"`     // application version
	Environment string `yaml:"environment"` // "development" or "production"
}

// LoggerConfig configures the structured logger.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// MySQLConfig holds the relational store connection settings.
type MySQLConfig struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // seconds
}

// RedisConfig holds the optional durable cache tier settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MilvusConfig holds the persistent vector collection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
	Dim        int    `yaml:"dim"` // embedding dimension of the collection
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string  `yaml:"provider"` // "openai" or "ollama"
	BaseURL  string  `yaml:"baseURL"`  // OpenAI-compatible endpoint, optional
	APIKey   string  `yaml:"apiKey"`
	Model    string  `yaml:"model"`
	Dim      int     `yaml:"dim"`
	Batch    int     `yaml:"batch"`        // texts per embedding request
	RatePerS float64 `yaml:"ratePerS"`     // embedding batches per second
	Burst    int     `yaml:"burst"`        // token bucket capacity
}

// CompletionConfig configures the chat completion provider.
type CompletionConfig struct {
	BaseURL string `yaml:"baseURL"` // OpenAI-compatible endpoint, optional
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// RetrievalConfig tunes the retrieval orchestrator.
type RetrievalConfig struct {
	TopK              int     `yaml:"topK"`              // survivors per search
	SearchThreshold   float64 `yaml:"searchThreshold"`   // backend similarity floor
	DistanceThreshold float64 `yaml:"distanceThreshold"` // flat index raw L2 ceiling
	HighConfidence    float64 `yaml:"highConfidence"`    // second-stage filter on vector hits
	MaxExcerptChars   int     `yaml:"maxExcerptChars"`   // excerpt truncation
}

// CacheConfig tunes both cache layers.
type CacheConfig struct {
	MemorySize    int    `yaml:"memorySize"`    // result cache LRU capacity
	DiskDir       string `yaml:"diskDir"`       // durable tier directory
	SweepInterval int    `yaml:"sweepInterval"` // seconds between background sweeps
}

// ChatConfig tunes the conversation orchestrator.
type ChatConfig struct {
	MaxConversations   int `yaml:"maxConversations"`   // conversation cache capacity
	ConversationTTL    int `yaml:"conversationTTL"`    // seconds of inactivity before eviction
	MaxHistoryMessages int `yaml:"maxHistoryMessages"` // user/assistant pairs kept per conversation
}

// ChunkingConfig tunes the document chunker.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunkSize"`    // target size in tokens
	ChunkOverlap int `yaml:"chunkOverlap"` // overlap in tokens
	MinChunkSize int `yaml:"minChunkSize"` // merge threshold in characters
}

// KnowledgeConfig locates the local knowledge base.
type KnowledgeConfig struct {
	Dir       string `yaml:"dir"`       // watched document directory
	IndexPath string `yaml:"indexPath"` // flat index snapshot file
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	App        AppInfo          `yaml:"app"`
	Logger     LoggerConfig     `yaml:"logger"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`
	Milvus     MilvusConfig     `yaml:"milvus"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Cache      CacheConfig      `yaml:"cache"`
	Chat       ChatConfig       `yaml:"chat"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
}

// LoadConfig reads and parses the YAML configuration file at path.
// ${VAR} references are expanded from the environment so secrets stay out
// of the file.
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file '%s': %w", path, err)
	}
	expanded := []byte(os.ExpandEnv(string(yamlFile)))
	var cfg AppConfig
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Embedding.Batch <= 0 {
		c.Embedding.Batch = 16
	}
	if c.Embedding.RatePerS <= 0 {
		c.Embedding.RatePerS = 2
	}
	if c.Embedding.Burst <= 0 {
		c.Embedding.Burst = 4
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.SearchThreshold <= 0 {
		c.Retrieval.SearchThreshold = 0.35
	}
	if c.Retrieval.DistanceThreshold <= 0 {
		c.Retrieval.DistanceThreshold = 1.3
	}
	if c.Retrieval.HighConfidence <= 0 {
		c.Retrieval.HighConfidence = 0.35
	}
	if c.Retrieval.MaxExcerptChars <= 0 {
		c.Retrieval.MaxExcerptChars = 500
	}
	if c.Cache.MemorySize <= 0 {
		c.Cache.MemorySize = 1000
	}
	if c.Cache.DiskDir == "" {
		c.Cache.DiskDir = "data/cache"
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = 60
	}
	if c.Chat.MaxConversations <= 0 {
		c.Chat.MaxConversations = 1000
	}
	if c.Chat.ConversationTTL <= 0 {
		c.Chat.ConversationTTL = 3600
	}
	if c.Chat.MaxHistoryMessages <= 0 {
		c.Chat.MaxHistoryMessages = 5
	}
	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = 300
	}
	if c.Chunking.ChunkOverlap <= 0 {
		c.Chunking.ChunkOverlap = 50
	}
	if c.Chunking.MinChunkSize <= 0 {
		c.Chunking.MinChunkSize = 100
	}
	if c.Knowledge.Dir == "" {
		c.Knowledge.Dir = "data/legal_docs"
	}
	if c.Knowledge.IndexPath == "" {
		c.Knowledge.IndexPath = "data/vector_store/index.json"
	}
}
