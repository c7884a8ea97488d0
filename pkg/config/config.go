package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	CICD      CICDConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	System    SystemConfig
	MCP       MCPConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type CICDConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
}

type EmbeddingConfig struct {
	Provider string
	APIKey   string
	Model    string
	Dim      int
	BaseURL  string
}

// RetrievalConfig seeds the default profile on first boot. Once profiles
// exist, the active profile in SQLite is authoritative.
type RetrievalConfig struct {
	ProfileName        string
	VectorWeight       float64
	LexicalWeight      float64
	RelevanceThreshold float64
	TopK               int
	ChunkSize          int
	ChunkOverlap       int
}

type SystemConfig struct {
	TimeoutSec        int
	MaxRetries        int
	CacheTTLSec       int
	RollupIntervalSec int
}

type MCPConfig struct {
	Enabled bool
	Port    int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/kbsearch")

	viper.SetEnvPrefix("KBSEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/kbsearch.db")
	viper.SetDefault("cicd.path", "./data/cicd.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "kb_chunks")

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dim", 1536)

	viper.SetDefault("retrieval.profileName", "default")
	viper.SetDefault("retrieval.vectorWeight", 0.7)
	viper.SetDefault("retrieval.lexicalWeight", 0.3)
	viper.SetDefault("retrieval.relevanceThreshold", 0.35)
	viper.SetDefault("retrieval.topK", 5)
	viper.SetDefault("retrieval.chunkSize", 1000)
	viper.SetDefault("retrieval.chunkOverlap", 100)

	viper.SetDefault("system.timeoutSec", 30)
	viper.SetDefault("system.maxRetries", 3)
	viper.SetDefault("system.cacheTTLSec", 3600)
	viper.SetDefault("system.rollupIntervalSec", 900)

	viper.SetDefault("mcp.enabled", true)
	viper.SetDefault("mcp.port", 8081)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
