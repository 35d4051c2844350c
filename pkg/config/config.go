// Package config loads the application configuration from file and
// environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ArangoConfig holds the multi-model database connection settings.
type ArangoConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"db_name"`
}

// SearchConfig holds the retrieval defaults.
type SearchConfig struct {
	Collection       string   `mapstructure:"collection"`
	MainView         string   `mapstructure:"main_view"`
	QAView           string   `mapstructure:"qa_view"`
	Analyzer         string   `mapstructure:"analyzer"`
	Fields           []string `mapstructure:"fields"`
	DefaultTopN      int      `mapstructure:"default_top_n"`
	MinScore         float64  `mapstructure:"min_score"`
	SemanticMinScore float64  `mapstructure:"semantic_min_score"`
}

// EmbeddingConfig holds embedding service defaults.
type EmbeddingConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	Model            string `mapstructure:"model"`
	DefaultDimension int    `mapstructure:"default_dimension"`
	Field            string `mapstructure:"field"`
}

// GraphConfig names the persisted graph collections.
type GraphConfig struct {
	Name           string `mapstructure:"name"`
	EdgeCollection string `mapstructure:"edge_collection"`
	QACollection   string `mapstructure:"qa_collection"`
	QAEdges        string `mapstructure:"qa_edges"`
}

// QAConfig holds Q&A generation and validation defaults.
type QAConfig struct {
	Model               string        `mapstructure:"model"`
	ValidationThreshold float64       `mapstructure:"validation_threshold"`
	SemaphoreLimit      int           `mapstructure:"semaphore_limit"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig holds the optional Redis cache settings.
type CacheConfig struct {
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDatabase int           `mapstructure:"redis_database"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// APIConfig holds the HTTP surface settings.
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// Config holds the complete application configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Arango      ArangoConfig    `mapstructure:"arango"`
	Search      SearchConfig    `mapstructure:"search"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	Graph       GraphConfig     `mapstructure:"graph"`
	QA          QAConfig        `mapstructure:"qa"`
	Cache       CacheConfig     `mapstructure:"cache"`
	API         APIConfig       `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("arango.host", "http://localhost:8529")
	v.SetDefault("arango.user", "root")
	v.SetDefault("arango.db_name", "memory_bank")
	v.SetDefault("search.collection", "memories")
	v.SetDefault("search.main_view", "memory_view")
	v.SetDefault("search.qa_view", "qa_view")
	v.SetDefault("search.analyzer", "text_en")
	v.SetDefault("search.fields", []string{"text", "title", "summary"})
	v.SetDefault("search.default_top_n", 10)
	v.SetDefault("search.min_score", 0.0)
	v.SetDefault("search.semantic_min_score", 0.7)
	v.SetDefault("embedding.endpoint", "http://localhost:8081/embed")
	v.SetDefault("embedding.default_dimension", 1024)
	v.SetDefault("embedding.field", "embedding")
	v.SetDefault("graph.name", "memory_graph")
	v.SetDefault("graph.edge_collection", "relationships")
	v.SetDefault("graph.qa_collection", "qa_pairs")
	v.SetDefault("graph.qa_edges", "qa_edges")
	v.SetDefault("qa.validation_threshold", 0.97)
	v.SetDefault("qa.semaphore_limit", 10)
	v.SetDefault("qa.max_retries", 3)
	v.SetDefault("qa.retry_delay", 2*time.Second)
	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
}

// Load reads configuration from an optional config file and the
// environment. Environment variables use the ARANGO_* names for the
// database section (ARANGO_HOST, ARANGO_USER, ARANGO_PASSWORD,
// ARANGO_DB_NAME) and RECALLMESH_* for everything else.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("RECALLMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The database section keeps its conventional variable names.
	_ = v.BindEnv("arango.host", "ARANGO_HOST")
	_ = v.BindEnv("arango.user", "ARANGO_USER")
	_ = v.BindEnv("arango.password", "ARANGO_PASSWORD")
	_ = v.BindEnv("arango.db_name", "ARANGO_DB_NAME")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without consulting files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
