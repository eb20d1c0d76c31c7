package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	MongoURI      string `mapstructure:"MONGODB_URI"`
	MongoDatabase string `mapstructure:"mongo_database"`
	UploadDir     string `mapstructure:"upload_dir"`

	Weaviate  WeaviateConfig  `mapstructure:"weaviate"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type WeaviateConfig struct {
	Host   string `mapstructure:"host"`
	APIKey string `mapstructure:"WEAVIATE_APIKEY"` // bound to the env var
}

type EmbeddingConfig struct {
	Provider      string   `mapstructure:"provider"` // openai or gemini
	BaseURL       string   `mapstructure:"base_url"`
	OpenAIAPIKey  string   `mapstructure:"OPENAI_API_KEY"`
	GeminiAPIKeys []string `mapstructure:"gemini_api_keys"`
	Model         string   `mapstructure:"model"`
	GeminiModel   string   `mapstructure:"gemini_model"`
	Dimensions    int      `mapstructure:"dimensions"`
	MaxConcurrent int      `mapstructure:"max_concurrent"`
	ChunkWords    int      `mapstructure:"chunk_words"`
	OverlapWords  int      `mapstructure:"overlap_words"`
	ChatModel     string   `mapstructure:"chat_model"` // classification
}

type OCRConfig struct {
	Engine             string   `mapstructure:"engine"`
	Languages          []string `mapstructure:"languages"`
	MaxConcurrentPages int      `mapstructure:"max_concurrent_pages"`
	RasterDPI          int      `mapstructure:"raster_dpi"`
	PoolSize           int      `mapstructure:"pool_size"`           // 0 = 2x logical cores, floor 4
	PageTimeoutSeconds int      `mapstructure:"page_timeout_seconds"` // 0 = no per-page deadline
}

// PageTimeout returns the per-page OCR deadline, zero when disabled.
func (c OCRConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

type CacheConfig struct {
	TTLSeconds               int `mapstructure:"ttl_seconds"`
	MaxEmbeddingEntries      int `mapstructure:"max_embedding_entries"`
	MaxClassificationEntries int `mapstructure:"max_classification_entries"`
}

// TTL returns the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type MetricsConfig struct {
	ReservoirSize         int    `mapstructure:"reservoir_size"`
	ExportPath            string `mapstructure:"export_path"`
	ExportIntervalSeconds int    `mapstructure:"export_interval_seconds"`
}

type WorkerConfig struct {
	Count               int `mapstructure:"count"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	LeaseSeconds        int `mapstructure:"lease_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "docproc")
	v.SetDefault("upload_dir", "uploads")

	v.SetDefault("weaviate.host", "http://localhost:8080")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.gemini_model", "text-embedding-004")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.max_concurrent", 10)
	v.SetDefault("embedding.chunk_words", 500)
	v.SetDefault("embedding.overlap_words", 50)
	v.SetDefault("embedding.chat_model", "gpt-4o")

	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.languages", []string{"spa", "eng"})
	v.SetDefault("ocr.max_concurrent_pages", 8)
	v.SetDefault("ocr.raster_dpi", 300)
	v.SetDefault("ocr.pool_size", 0)
	v.SetDefault("ocr.page_timeout_seconds", 0)

	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.max_embedding_entries", 10000)
	v.SetDefault("cache.max_classification_entries", 5000)

	v.SetDefault("metrics.reservoir_size", 1000)
	v.SetDefault("metrics.export_interval_seconds", 60)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.lease_seconds", 600)
	v.SetDefault("worker.max_attempts", 3)
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()

	// Bind environment variables for secrets
	v.BindEnv("MONGODB_URI")
	v.BindEnv("embedding.OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("weaviate.WEAVIATE_APIKEY", "WEAVIATE_APIKEY")
	v.BindEnv("embedding.gemini_api_keys", "GEMINI_API_KEYS")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}
