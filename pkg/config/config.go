package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Index     IndexConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	LLM       LLMConfig
	Milvus    MilvusConfig
	Cache     CacheConfig
	SQLite    SQLiteConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
	// ProxyHeader carries the client IP when running behind a proxy,
	// e.g. X-Forwarded-For. Empty uses the connection address.
	ProxyHeader string
}

type StorageConfig struct {
	Backend   string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
	LocalDir  string
	Retry     RetryConfig
}

type IndexConfig struct {
	Backend    string
	ScratchDir string
}

type IngestConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxFiles      int
	KeepTempFiles bool
}

type RetrievalConfig struct {
	TopK int
}

type LLMConfig struct {
	Provider       string
	Model          string
	EmbeddingModel string
	APIKey         string
	BaseURL        string
	Region         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	Retry          RetryConfig
}

type RetryConfig struct {
	MaxAttempts int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type CacheConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type SQLiteConfig struct {
	Path string
}

type SessionConfig struct {
	IdleMinutes int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (if present) and KBCHAT_* environment variables.
// The bare BUCKET_NAME variable is honoured for storage.bucket.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kbchat")

	v.SetEnvPrefix("KBCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if bucket := os.Getenv("BUCKET_NAME"); bucket != "" && os.Getenv("KBCHAT_STORAGE_BUCKET") == "" {
		v.Set("storage.bucket", bucket)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 backend (set BUCKET_NAME)"))
		}
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.localDir is required for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Index.Backend {
	case "bundle", "milvus":
	default:
		errs = append(errs, fmt.Errorf("unknown index backend %q", c.Index.Backend))
	}

	switch c.LLM.Provider {
	case "openai", "bedrock":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}

	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, errors.New("ingest.chunkSize must be positive"))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunkOverlap (%d) must be in [0, chunkSize)", c.Ingest.ChunkOverlap))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.topK must be positive"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.maxTokens must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 104857600)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.development", false)
	v.SetDefault("server.proxyHeader", "")

	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.pathStyle", false)
	v.SetDefault("storage.localDir", "./data/bucket")
	v.SetDefault("storage.retry.maxAttempts", 1)

	v.SetDefault("index.backend", "bundle")
	v.SetDefault("index.scratchDir", os.TempDir())

	v.SetDefault("ingest.chunkSize", 1000)
	v.SetDefault("ingest.chunkOverlap", 200)
	v.SetDefault("ingest.maxFiles", 50)
	v.SetDefault("ingest.keepTempFiles", false)

	v.SetDefault("retrieval.topK", 5)

	v.SetDefault("llm.provider", "bedrock")
	v.SetDefault("llm.model", "amazon.titan-text-lite-v1")
	v.SetDefault("llm.embeddingModel", "amazon.titan-embed-text-v1")
	v.SetDefault("llm.region", "us-east-1")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 512)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.retry.maxAttempts", 1)

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "kbchat")
	v.SetDefault("milvus.apiKey", "")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.host", "localhost")
	v.SetDefault("cache.port", 6379)
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttlHours", 168)

	v.SetDefault("sqlite.path", "./data/kbchat.db")

	v.SetDefault("session.idleMinutes", 60)

	v.SetDefault("ratelimit.requestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
