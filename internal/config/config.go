package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Pinecone    PineconeConfig    `mapstructure:"pinecone"`
	Storage     StorageConfig     `mapstructure:"storage"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Replicate   ReplicateConfig   `mapstructure:"replicate"`
	Embedding   EmbeddingSettings `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	Finetune    FinetuneConfig    `mapstructure:"finetune"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Query       QueryConfig       `mapstructure:"query"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
	// PublicURL is where providers reach our webhook endpoint.
	PublicURL string `mapstructure:"public_url"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite, memory
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.URL != "" {
		return c.URL
	}
	return c.Path
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type PineconeConfig struct {
	APIKey      string `mapstructure:"api_key"`
	ControlURL  string `mapstructure:"control_url"`
	Cloud       string `mapstructure:"cloud"`
	Region      string `mapstructure:"region"`
	UpsertBatch int    `mapstructure:"upsert_batch"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	QAModel      string        `mapstructure:"qa_model"`
	PollInterval time.Duration `mapstructure:"poll_interval"` // >0 makes fine-tunes synchronous
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

type ReplicateConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Destination string `mapstructure:"destination"`
	Epochs      int    `mapstructure:"epochs"`
}

type EmbeddingSettings struct {
	DefaultModel string            `mapstructure:"default_model"`
	BatchSize    int               `mapstructure:"batch_size"`
	Concurrency  int               `mapstructure:"concurrency"`
	Models       []EmbeddingConfig `mapstructure:"models"`
}

type VectorStoreConfig struct {
	Provider string `mapstructure:"provider"` // QDRANT, PINECONE, MEMORY
}

type FinetuneConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	NumQuestionsPerChunk int           `mapstructure:"num_questions_per_chunk"`
	DatasetDir           string        `mapstructure:"dataset_dir"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	ChunkSize            int           `mapstructure:"chunk_size"`
	ChunkOverlap         int           `mapstructure:"chunk_overlap"`
}

type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	// ResumePending restarts stalled fine-tune flows at startup.
	ResumePending bool `mapstructure:"resume_pending"`

	// Batch ingestion from staged manifests
	StagingPath     string `mapstructure:"staging_path"`
	IngestWorkers   int    `mapstructure:"ingest_workers"`
	IngestBatchSize int    `mapstructure:"ingest_batch_size"`

	// LocalRoots lists extra directories file:// urls may read from.
	LocalRoots []string `mapstructure:"local_roots"`
}

// AllowedLocalRoots returns the staging path followed by LocalRoots.
func (c PipelineConfig) AllowedLocalRoots() []string {
	roots := make([]string, 0, len(c.LocalRoots)+1)
	if c.StagingPath != "" {
		roots = append(roots, c.StagingPath)
	}
	return append(roots, c.LocalRoots...)
}

type QueryConfig struct {
	Provider         string `mapstructure:"provider"`
	Model            string `mapstructure:"model"`
	MaxTokens        int    `mapstructure:"max_tokens"`
	RAGMaxTokens     int    `mapstructure:"rag_max_tokens"`
	TopK             int    `mapstructure:"top_k"`
	Rerank           bool   `mapstructure:"rerank"`
	DefaultNamespace string `mapstructure:"default_namespace"`
}

// WebhookURL returns the public fine-tune webhook endpoint, or "" when the
// server has no public address.
func (c *Config) WebhookURL() string {
	if c.Server.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/api/v1/webhook/finetune"
}

// Validate checks cross-field rules that viper defaults cannot express.
func (c *Config) Validate() error {
	if c.Finetune.BatchSize <= 0 {
		return fmt.Errorf("finetune.batch_size must be positive")
	}
	if c.Finetune.NumQuestionsPerChunk <= 0 {
		return fmt.Errorf("finetune.num_questions_per_chunk must be positive")
	}
	if c.Finetune.ChunkOverlap >= c.Finetune.ChunkSize {
		return fmt.Errorf("finetune.chunk_overlap must be smaller than chunk_size")
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.Concurrency <= 0 {
		return fmt.Errorf("embedding.batch_size and embedding.concurrency must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	for i := range c.Embedding.Models {
		if err := c.Embedding.Models[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("pinecone.api_key", "PINECONE_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("replicate.api_key", "REPLICATE_API_KEY")
	v.BindEnv("replicate.destination", "REPLICATE_DESTINATION")
	v.BindEnv("server.public_url", "PUBLIC_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Embedding.Models) == 0 {
		cfg.Embedding.Models = DefaultEmbeddingModels()
	}
	for i := range cfg.Embedding.Models {
		cfg.Embedding.Models[i].ResolveEnvVars()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/nagato.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("pinecone.control_url", "https://api.pinecone.io")
	v.SetDefault("pinecone.cloud", "aws")
	v.SetDefault("pinecone.region", "us-east-1")
	v.SetDefault("pinecone.upsert_batch", 100)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "nagato-datasets")
	v.SetDefault("storage.prefix", "datasets")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.qa_model", "gpt-3.5-turbo")
	v.SetDefault("openai.poll_interval", 0)
	v.SetDefault("openai.poll_timeout", 2*time.Hour)
	v.SetDefault("replicate.base_url", "https://api.replicate.com")
	v.SetDefault("replicate.epochs", 6)
	v.SetDefault("embedding.default_model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("vectorstore.provider", "PINECONE")
	v.SetDefault("finetune.batch_size", 5)
	v.SetDefault("finetune.num_questions_per_chunk", 10)
	v.SetDefault("finetune.dataset_dir", "./data/datasets")
	v.SetDefault("finetune.max_retries", 0)
	v.SetDefault("finetune.retry_delay", time.Second)
	v.SetDefault("finetune.chunk_size", 350)
	v.SetDefault("finetune.chunk_overlap", 20)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.notify_timeout", 10*time.Second)
	v.SetDefault("pipeline.resume_pending", false)
	v.SetDefault("pipeline.staging_path", "./data/staging")
	v.SetDefault("pipeline.ingest_workers", 4)
	v.SetDefault("pipeline.ingest_batch_size", 50)
	v.SetDefault("query.provider", "OPENAI")
	v.SetDefault("query.model", "gpt-3.5-turbo")
	v.SetDefault("query.max_tokens", 450)
	v.SetDefault("query.rag_max_tokens", 2000)
	v.SetDefault("query.top_k", 5)
	v.SetDefault("query.rerank", true)
}
