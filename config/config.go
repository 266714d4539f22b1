package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the full server configuration. It is loaded from a JSON file
// whose path is passed on startup; secrets and deployment-specific values
// may be overridden through environment variables (a .env file is honored).
type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Transport    TransportConfig    `json:"transport"`
	Search       SearchConfig       `json:"search"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Audio        AudioConfig        `json:"audio"`
	Semantic     SemanticConfig     `json:"semantic"`
	Cache        CacheConfig        `json:"cache"`
	Storage      StorageConfig      `json:"storage"`
	Monitor      MonitorConfig      `json:"monitor"`
	Log          LogConfig          `json:"log"`
}

// LocalEmbeddingModel is the reserved model name selecting the in-process
// hashing embedder.
const LocalEmbeddingModel = "local"

type DatabaseConfig struct {
	DataDir string `json:"data_dir"`
}

type EmbeddingConfig struct {
	// ModelName selects the embedding model. The reserved name "local"
	// selects the deterministic in-process hashing embedder.
	ModelName string `json:"model_name"`
	IndexFile string `json:"index_file"`
	Endpoint  string `json:"endpoint"` // OpenAI-compatible base URL
	Dimension int    `json:"dimension"`
	APIKey    string `json:"-"` // EMBEDDING_API_KEY only, never from file
}

type TransportConfig struct {
	ListenIP   string `json:"listen_ip"`
	ListenPort int    `json:"listen_port"`
	SendIP     string `json:"send_ip"`
	SendPort   int    `json:"send_port"`
}

type SearchConfig struct {
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

type OrchestratorConfig struct {
	BarkSimilarityThreshold float64 `json:"bark_similarity_threshold"`
	TickIntervalSeconds     float64 `json:"tick_interval_seconds"`
}

type AudioConfig struct {
	AudioDirectory string `json:"audio_directory"`
	SampleRate     int    `json:"sample_rate"`
	FFmpegPath     string `json:"ffmpeg_path"`
}

type SemanticConfig struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

// CacheConfig enables the Redis embedding cache when Addr is non-empty.
type CacheConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"` // REDIS_PASSWORD only
	DB       int    `json:"db"`
}

// StorageConfig enables fetching missing audio objects from MinIO when
// Endpoint is non-empty.
type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"-"` // MINIO_ACCESS_KEY
	SecretKey string `json:"-"` // MINIO_SECRET_KEY
	UseSSL    bool   `json:"use_ssl"`
}

// MonitorConfig enables the HTTP/websocket monitor when ListenAddr is
// non-empty.
type MonitorConfig struct {
	ListenAddr string `json:"listen_addr"`
}

type LogConfig struct {
	OutputPath string `json:"output_path"`
}

// Default returns the built-in configuration, matching the documented
// defaults: search.top_k=10, search.min_score=0.3,
// orchestrator.bark_similarity_threshold=0.5,
// orchestrator.tick_interval_seconds=0.1.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir: "data/database",
		},
		Embedding: EmbeddingConfig{
			ModelName: "local",
			IndexFile: "data/hibikido.index",
			Dimension: 384,
		},
		Transport: TransportConfig{
			ListenIP:   "127.0.0.1",
			ListenPort: 9000,
			SendIP:     "127.0.0.1",
			SendPort:   9001,
		},
		Search: SearchConfig{
			TopK:     10,
			MinScore: 0.3,
		},
		Orchestrator: OrchestratorConfig{
			BarkSimilarityThreshold: 0.5,
			TickIntervalSeconds:     0.1,
		},
		Audio: AudioConfig{
			AudioDirectory: "data/audio",
			SampleRate:     32000,
			FFmpegPath:     "ffmpeg",
		},
	}
}

// Load reads the JSON config file at path (optional) over the defaults, then
// applies environment overrides. godotenv.Load does not override variables
// already present in the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Semantic.APIKey = getEnv("SEMANTIC_API_KEY", c.Semantic.APIKey)
	c.Cache.Addr = getEnv("REDIS_ADDR", c.Cache.Addr)
	c.Cache.Password = getEnv("REDIS_PASSWORD", c.Cache.Password)
	c.Cache.DB = getEnvInt("REDIS_DB", c.Cache.DB)
	c.Storage.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Audio.FFmpegPath = getEnv("FFMPEG_PATH", c.Audio.FFmpegPath)
}

func (c *Config) validate() error {
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Orchestrator.BarkSimilarityThreshold < 0 || c.Orchestrator.BarkSimilarityThreshold > 1 {
		return fmt.Errorf("orchestrator.bark_similarity_threshold must be in [0,1], got %f",
			c.Orchestrator.BarkSimilarityThreshold)
	}
	if c.Orchestrator.TickIntervalSeconds <= 0 {
		return fmt.Errorf("orchestrator.tick_interval_seconds must be positive, got %f",
			c.Orchestrator.TickIntervalSeconds)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
